// Package store implements the authoritative key/value map: the exclusive
// section that guards it, the byte accounting tied to every mutation, the
// hooks that let ExpiryEngine and EvictionEngine track structural changes
// without ever taking Store's lock themselves, and the pending client-facing
// events a successful mutation produces.
package store

import (
	"sync"

	"github.com/cachegate/cachegate/internal/queue"
	"github.com/cachegate/cachegate/internal/tag"
	"github.com/cachegate/cachegate/log"
	"github.com/cachegate/cachegate/wire"
)

// Metrics is the narrow slice of a metrics registry Store needs. It is an
// interface so this package does not import go-metrics directly; the
// concrete implementation lives in the root package's metrics registry.
type Metrics interface {
	IncCommand(name string)
	IncEviction(n int)
	IncExpiration(n int)
	SetBytes(n int64)
}

type nopMetrics struct{}

func (nopMetrics) IncCommand(string)  {}
func (nopMetrics) IncEviction(int)    {}
func (nopMetrics) IncExpiration(int)  {}
func (nopMetrics) SetBytes(int64)     {}

type Config struct {
	CeilingBytes      int64
	EvictionThreshold float64
	Log               log.Logger
	Metrics           Metrics
}

// PendingEvent is the client-facing event a successful mutation produces.
// Store hands it back to the caller instead of publishing it directly, so
// the caller can enqueue the operation's own response frame first and only
// then publish the event — keeping a single connection's FIFO order intact
// even when that connection is also subscribed to its own event kind.
type PendingEvent struct {
	Kind    wire.EventKind
	Message string
}

// Store is the keyed entry map plus its tightly coupled accountant. All
// reads and writes serialize through mu; read throughput under contention
// is not a design goal here.
type Store struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	Accountant *Accountant

	log     log.Logger
	metrics Metrics

	hookSubs    []*queue.Queue[Hook]
	evictSignal chan struct{}
}

func New(cfg Config) *Store {
	m := cfg.Metrics
	if m == nil {
		m = nopMetrics{}
	}
	return &Store{
		entries:     make(map[string]*Entry),
		Accountant:  NewAccountant(cfg.CeilingBytes, cfg.EvictionThreshold),
		log:         cfg.Log,
		metrics:     m,
		evictSignal: make(chan struct{}, 1),
	}
}

// SubscribeHooks registers a collaborator's queue for structural change
// notifications. Must be called before serving traffic; Store does not
// support dynamic (un)subscription of internal collaborators.
func (s *Store) SubscribeHooks(q *queue.Queue[Hook]) {
	s.hookSubs = append(s.hookSubs, q)
}

// EvictionSignal is the channel EvictionEngine waits on for "pressure
// crossed the threshold" notifications. Sends are non-blocking and
// coalesce: a pending, unconsumed signal is sufficient to trigger the next
// pass.
func (s *Store) EvictionSignal() <-chan struct{} { return s.evictSignal }

func (s *Store) publishHook(h Hook) {
	for _, q := range s.hookSubs {
		q.Push(h)
	}
}

func (s *Store) signalEviction() {
	select {
	case s.evictSignal <- struct{}{}:
	default:
	}
}

// Create inserts key if absent.
func (s *Store) Create(key, value string, ttl int64) (*PendingEvent, error) {
	s.metrics.IncCommand("CREATE")
	s.mu.Lock()

	if _, ok := s.entries[key]; ok {
		s.mu.Unlock()
		return nil, ErrDuplicateKey
	}
	if s.Accountant.NeedsEviction() {
		s.signalEviction()
	}
	e := &Entry{Key: key, Value: value, TTLDeadline: ttl, UsageCount: 1}
	n := e.size()
	if !s.Accountant.CanAdd(n) {
		s.mu.Unlock()
		return nil, ErrMemoryLimit
	}
	s.entries[key] = e
	s.Accountant.Add(n)
	s.metrics.SetBytes(s.Accountant.CurrentBytes())
	s.checkInvariantsLocked()
	s.mu.Unlock()

	s.publishHook(Hook{Kind: HookCreated, Key: key, TTLDeadline: ttl})
	return &PendingEvent{Kind: wire.EventCreate, Message: eventMessage(wire.EventCreate, key, "", value)}, nil
}

// Read fetches value for key, bumping usage_count on success. The returned
// event is non-nil only when a lazy-mode read discovers the key already
// flagged expired and removes it in-line.
func (s *Store) Read(key string, lazyExpiry bool) (string, *PendingEvent, error) {
	s.metrics.IncCommand("READ")
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return "", nil, ErrNotFound
	}
	if !lazyExpiry || !e.Expired {
		e.UsageCount++
		v := e.Value
		s.checkInvariantsLocked()
		s.mu.Unlock()
		s.publishHook(Hook{Kind: HookRead, Key: key, TTLDeadline: e.TTLDeadline})
		return v, nil, nil
	}
	// Lazy mode, already flagged expired: remove in-line and report not-found.
	n := e.size()
	delete(s.entries, key)
	s.Accountant.Remove(n)
	s.metrics.SetBytes(s.Accountant.CurrentBytes())
	s.checkInvariantsLocked()
	s.mu.Unlock()

	s.publishHook(Hook{Kind: HookDeleted, Key: key})
	return "", &PendingEvent{Kind: wire.EventDelete, Message: eventMessage(wire.EventDelete, key, "", "")}, ErrNotFound
}

// Update replaces value/ttl for an existing key. ttlSet=false preserves the
// prior ttl.
func (s *Store) Update(key, value string, ttlSet bool, ttl int64) (*PendingEvent, error) {
	s.metrics.IncCommand("UPDATE")
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	oldSize := e.size()
	oldValue := e.Value
	oldTTL := e.TTLDeadline
	newTTL := oldTTL
	if ttlSet {
		newTTL = ttl
	}
	newSize := 2 * (len(key) + len(value))
	if !s.Accountant.CanUpdate(oldSize, newSize) {
		s.mu.Unlock()
		return nil, ErrMemoryLimit
	}
	e.Value = value
	e.TTLDeadline = newTTL
	e.UsageCount++
	s.Accountant.Update(oldSize, newSize)
	s.metrics.SetBytes(s.Accountant.CurrentBytes())
	s.checkInvariantsLocked()
	s.mu.Unlock()

	s.publishHook(Hook{Kind: HookUpdated, Key: key, TTLDeadline: newTTL, OldTTLDeadline: oldTTL})
	return &PendingEvent{Kind: wire.EventUpdate, Message: eventMessage(wire.EventUpdate, key, oldValue, value)}, nil
}

// Delete removes key if present. Absent key is a silent no-op and produces
// no event.
func (s *Store) Delete(key string) (*PendingEvent, error) {
	s.metrics.IncCommand("DELETE")
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return nil, nil
	}
	n := e.size()
	delete(s.entries, key)
	s.Accountant.Remove(n)
	s.metrics.SetBytes(s.Accountant.CurrentBytes())
	s.checkInvariantsLocked()
	s.mu.Unlock()

	s.publishHook(Hook{Kind: HookDeleted, Key: key})
	return &PendingEvent{Kind: wire.EventDelete, Message: eventMessage(wire.EventDelete, key, "", "")}, nil
}

// FlushAll removes every entry and resets the accountant.
func (s *Store) FlushAll() *PendingEvent {
	s.metrics.IncCommand("FLUSHALL")
	s.mu.Lock()
	s.entries = make(map[string]*Entry)
	s.Accountant.Reset()
	s.metrics.SetBytes(0)
	s.mu.Unlock()

	s.publishHook(Hook{Kind: HookFlushedAll})
	return &PendingEvent{Kind: wire.EventFlushAll, Message: "FlushAll"}
}

// Stats is a metrics-only snapshot; taking it uses the same exclusive
// section as any other operation and never emits an event.
type Stats struct {
	Items        int
	CurrentBytes int64
	CeilingBytes int64
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Items:        len(s.entries),
		CurrentBytes: s.Accountant.CurrentBytes(),
		CeilingBytes: s.Accountant.CeilingBytes(),
	}
}

// MarkExpired sets the expired flag on key without touching its ttl. It is
// the persistence half of lazy-mode expiry: the sweep calls this instead of
// Delete, so removal defers to the entry's next Read.
func (s *Store) MarkExpired(key string) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if ok {
		e.Expired = true
	}
	s.mu.Unlock()
}

func (s *Store) checkInvariantsLocked() {
	if !tag.Debug {
		return
	}
	if s.Accountant.CurrentBytes() < 0 {
		s.log.Fatal("accountant underflow detected")
	}
}

func eventMessage(kind wire.EventKind, key, oldValue, newValue string) string {
	switch kind {
	case wire.EventCreate:
		return "Created " + key
	case wire.EventUpdate:
		return "Updated " + key + " from " + oldValue + " to " + newValue
	case wire.EventDelete:
		return "Deleted " + key
	default:
		return string(kind)
	}
}

