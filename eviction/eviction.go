// Package eviction implements the LFU eviction engine: a frequency-indexed
// reverse map (usage_count -> entries with that count) plus a scalar
// min_frequency, advanced only when its bucket empties.
package eviction

import (
	"container/list"
	"context"
	"sync"

	"github.com/cachegate/cachegate/internal/queue"
	"github.com/cachegate/cachegate/log"
	"github.com/cachegate/cachegate/store"
	"github.com/cachegate/cachegate/wire"
)

const DefaultFraction = 0.75

// Backend is the slice of Store an eviction pass needs.
type Backend interface {
	Delete(key string) (*store.PendingEvent, error)
}

// Publisher is the slice of EventBus an eviction pass needs to fan out the
// Delete events its own evictions produce.
type Publisher interface {
	Publish(kind wire.EventKind, message string)
}

type Engine struct {
	backend Backend
	bus     Publisher
	log     log.Logger
	metrics store.Metrics

	fraction float64 // atomic-free: only read/written under mu together with the rest.

	mu           sync.Mutex
	buckets      map[uint64]*list.List
	elems        map[string]*list.Element
	usage        map[string]uint64
	minFrequency uint64
	totalItems   int

	hooks  *queue.Queue[store.Hook]
	signal <-chan struct{}
}

func New(backend Backend, bus Publisher, l log.Logger, m store.Metrics, fraction float64, signal <-chan struct{}) *Engine {
	if fraction <= 0 || fraction > 1 {
		fraction = DefaultFraction
	}
	if m == nil {
		m = noopMetrics{}
	}
	return &Engine{
		backend:  backend,
		bus:      bus,
		log:      l,
		metrics:  m,
		fraction: fraction,
		buckets:  make(map[uint64]*list.List),
		elems:    make(map[string]*list.Element),
		usage:    make(map[string]uint64),
		hooks:    queue.New[store.Hook](),
		signal:   signal,
	}
}

// Hooks returns the queue Store should register via SubscribeHooks.
func (e *Engine) Hooks() *queue.Queue[store.Hook] { return e.hooks }

// SetFraction hot-applies a new eviction fraction (mutable Config knob).
func (e *Engine) SetFraction(f float64) {
	if f <= 0 || f > 1 {
		return
	}
	e.mu.Lock()
	e.fraction = f
	e.mu.Unlock()
}

func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); e.runHooks(ctx) }()
	go func() { defer wg.Done(); e.runSignal(ctx) }()
	wg.Wait()
}

func (e *Engine) runHooks(ctx context.Context) {
	for {
		h, ok := e.hooks.Pop(ctx)
		if !ok {
			return
		}
		e.applyHook(h)
	}
}

// runSignal drives eviction passes. Because a single goroutine both
// receives EvictionNeeded and runs the pass, passes are inherently
// single-in-flight: a signal that arrives while a pass is running just
// waits in the size-1 coalescing channel (or is already coalesced with one
// waiting there), so debounced re-signals never queue up a backlog of
// redundant passes.
func (e *Engine) runSignal(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.signal:
			e.evictOnce()
		}
	}
}

func (e *Engine) applyHook(h store.Hook) {
	switch h.Kind {
	case store.HookCreated:
		e.insert(h.Key, 1)
	case store.HookRead, store.HookUpdated:
		e.bump(h.Key)
	case store.HookDeleted:
		e.remove(h.Key)
	case store.HookFlushedAll:
		e.mu.Lock()
		e.buckets = make(map[uint64]*list.List)
		e.elems = make(map[string]*list.Element)
		e.usage = make(map[string]uint64)
		e.minFrequency = 0
		e.totalItems = 0
		e.mu.Unlock()
	}
}

func (e *Engine) insert(key string, freq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attach(key, freq)
	e.usage[key] = freq
	e.totalItems++
	if e.totalItems == 1 || freq < e.minFrequency {
		e.minFrequency = freq
	}
}

func (e *Engine) bump(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, ok := e.usage[key]
	if !ok {
		// Update on a key eviction/expiry raced away; nothing to bump.
		return
	}
	e.detach(key, cur)
	next := cur + 1
	e.attach(key, next)
	e.usage[key] = next
	if cur == e.minFrequency && e.emptyBucket(cur) {
		e.advanceMinFrequency()
	}
}

func (e *Engine) remove(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	freq, ok := e.usage[key]
	if !ok {
		return
	}
	e.detach(key, freq)
	delete(e.usage, key)
	e.totalItems--
	if freq == e.minFrequency && e.emptyBucket(freq) {
		e.advanceMinFrequency()
	}
}

func (e *Engine) attach(key string, freq uint64) {
	l, ok := e.buckets[freq]
	if !ok {
		l = list.New()
		e.buckets[freq] = l
	}
	e.elems[key] = l.PushBack(key)
}

func (e *Engine) detach(key string, freq uint64) {
	if l, ok := e.buckets[freq]; ok {
		if el, ok := e.elems[key]; ok {
			l.Remove(el)
			delete(e.elems, key)
		}
		if l.Len() == 0 {
			delete(e.buckets, freq)
		}
	}
}

func (e *Engine) emptyBucket(freq uint64) bool {
	l, ok := e.buckets[freq]
	return !ok || l.Len() == 0
}

// advanceMinFrequency must run with mu held. Bumps only move entries to
// higher buckets, never lower, so scanning upward from the current
// min_frequency is sufficient.
func (e *Engine) advanceMinFrequency() {
	if e.totalItems == 0 {
		e.minFrequency = 0
		return
	}
	for {
		e.minFrequency++
		if l, ok := e.buckets[e.minFrequency]; ok && l.Len() > 0 {
			return
		}
	}
}

// evictOnce computes the target count, collects keys from ascending
// buckets under the private lock, then calls Store.Delete for each
// outside the lock.
func (e *Engine) evictOnce() {
	e.mu.Lock()
	target := int(e.fraction * float64(e.totalItems))
	var toEvict []string
	if target > 0 {
		freq := e.minFrequency
		remaining := len(e.buckets) // buckets holds only non-empty lists.
		for len(toEvict) < target && remaining > 0 {
			l, ok := e.buckets[freq]
			if ok {
				remaining--
				for el := l.Front(); el != nil && len(toEvict) < target; el = el.Next() {
					toEvict = append(toEvict, el.Value.(string))
				}
			}
			freq++
		}
	}
	e.mu.Unlock()

	if len(toEvict) == 0 {
		return
	}
	evicted := 0
	for _, key := range toEvict {
		ev, err := e.backend.Delete(key)
		if err != nil {
			e.log.Warnf("eviction delete %s: %v", key, err)
			continue
		}
		if ev != nil {
			e.bus.Publish(ev.Kind, ev.Message)
		}
		evicted++
	}
	e.metrics.IncEviction(evicted)
}

type noopMetrics struct{}

func (noopMetrics) IncCommand(string) {}
func (noopMetrics) IncEviction(int)   {}
func (noopMetrics) IncExpiration(int) {}
func (noopMetrics) SetBytes(int64)    {}
