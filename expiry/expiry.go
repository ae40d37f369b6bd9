// Package expiry implements the TTL expiry engine: a bucket-indexed clock
// that tracks every entry with a non-zero deadline and periodically sweeps
// buckets whose deadline has passed, deleting (strict mode) or flagging
// (lazy mode) the entries in them.
package expiry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cachegate/cachegate/internal/queue"
	"github.com/cachegate/cachegate/log"
	"github.com/cachegate/cachegate/store"
	"github.com/cachegate/cachegate/wire"
)

type Mode int

const (
	Strict Mode = iota
	Lazy
)

// Backend is the slice of Store an ExpiryEngine needs to act on sweep
// results, kept as an interface so tests can substitute a double.
type Backend interface {
	Delete(key string) (*store.PendingEvent, error)
	MarkExpired(key string)
}

// Publisher is the slice of EventBus a strict-mode sweep needs to fan out
// the Delete events its own expirations produce.
type Publisher interface {
	Publish(kind wire.EventKind, message string)
}

const DefaultInterval = 6 * time.Second

type Engine struct {
	backend Backend
	bus     Publisher
	log     log.Logger
	metrics store.Metrics
	mode    Mode

	intervalSeconds int64 // atomic, seconds

	mu        sync.Mutex
	buckets   map[int64]map[string]struct{}
	keyBucket map[string]int64

	hooks *queue.Queue[store.Hook]
}

func New(backend Backend, bus Publisher, l log.Logger, m store.Metrics, mode Mode, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if m == nil {
		m = noopMetrics{}
	}
	e := &Engine{
		backend:   backend,
		bus:       bus,
		log:       l,
		metrics:   m,
		mode:      mode,
		buckets:   make(map[int64]map[string]struct{}),
		keyBucket: make(map[string]int64),
		hooks:     queue.New[store.Hook](),
	}
	atomic.StoreInt64(&e.intervalSeconds, int64(interval/time.Second))
	return e
}

// Hooks returns the queue Store should register via SubscribeHooks.
func (e *Engine) Hooks() *queue.Queue[store.Hook] { return e.hooks }

// SetInterval hot-applies a new sweep period. StrictExpiry and
// CacheSizeInMBs are fixed at startup, but SweepInterval is mutable and
// reapplied on every config reload.
func (e *Engine) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	atomic.StoreInt64(&e.intervalSeconds, int64(d/time.Second))
}

func (e *Engine) interval() int64 { return atomic.LoadInt64(&e.intervalSeconds) }

func (e *Engine) bucketFor(deadline int64) int64 {
	iv := e.interval()
	if iv <= 0 {
		iv = int64(DefaultInterval / time.Second)
	}
	return (deadline / iv) * iv
}

// Run drives the hook-consuming loop and the periodic sweep until ctx is
// cancelled. It blocks; call it in its own goroutine.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); e.runHooks(ctx) }()
	go func() { defer wg.Done(); e.runSweep(ctx) }()
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

func (e *Engine) applyHook(h store.Hook) {
	switch h.Kind {
	case store.HookCreated:
		if h.TTLDeadline != 0 {
			e.index(h.Key, h.TTLDeadline)
		}
	case store.HookUpdated:
		if h.OldTTLDeadline == h.TTLDeadline {
			return // ttl unchanged: must not re-bucket.
		}
		e.unindex(h.Key)
		if h.TTLDeadline != 0 {
			e.index(h.Key, h.TTLDeadline)
		}
	case store.HookDeleted:
		e.unindex(h.Key)
	case store.HookFlushedAll:
		e.mu.Lock()
		e.buckets = make(map[int64]map[string]struct{})
		e.keyBucket = make(map[string]int64)
		e.mu.Unlock()
	}
}

func (e *Engine) index(key string, deadline int64) {
	b := e.bucketFor(deadline)
	e.mu.Lock()
	set, ok := e.buckets[b]
	if !ok {
		set = make(map[string]struct{})
		e.buckets[b] = set
	}
	set[key] = struct{}{}
	e.keyBucket[key] = b
	e.mu.Unlock()
}

func (e *Engine) unindex(key string) {
	e.mu.Lock()
	b, ok := e.keyBucket[key]
	if ok {
		delete(e.keyBucket, key)
		if set := e.buckets[b]; set != nil {
			delete(set, key)
			if len(set) == 0 {
				delete(e.buckets, b)
			}
		}
	}
	e.mu.Unlock()
}

func (e *Engine) runSweep(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(e.interval()) * time.Second):
			e.expireOnce()
		}
	}
}

// expireOnce snapshots due buckets under the index lock, drains them, then
// acts on Store outside the lock so a mutation's event publication can
// never reenter this engine while it holds its own lock.
func (e *Engine) expireOnce() {
	now := time.Now().Unix()
	threshold := now + e.interval()/2

	e.mu.Lock()
	var due []string
	for bucket, set := range e.buckets {
		if bucket > threshold {
			continue
		}
		for key := range set {
			due = append(due, key)
			delete(e.keyBucket, key)
		}
		delete(e.buckets, bucket)
	}
	e.mu.Unlock()

	if len(due) == 0 {
		return
	}
	for _, key := range due {
		switch e.mode {
		case Strict:
			ev, err := e.backend.Delete(key)
			if err != nil {
				e.log.Warnf("expiry delete %s: %v", key, err)
				continue
			}
			if ev != nil {
				e.bus.Publish(ev.Kind, ev.Message)
			}
		case Lazy:
			e.backend.MarkExpired(key)
		}
	}
	e.metrics.IncExpiration(len(due))
}

type noopMetrics struct{}

func (noopMetrics) IncCommand(string) {}
func (noopMetrics) IncEviction(int)   {}
func (noopMetrics) IncExpiration(int) {}
func (noopMetrics) SetBytes(int64)    {}
