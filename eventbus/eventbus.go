// Package eventbus fans store mutations out to clients that have
// subscribed to them via SUB/UNSUB. It never talks to a socket directly:
// publication only enqueues onto a ResponseSink, so a slow or dead
// subscriber can never block the mutation that triggered the event.
package eventbus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cachegate/cachegate/wire"
)

// Handle identifies a live connection plus its response sink. Equality is
// by identity, so implementations are expected to be pointers.
type Handle interface{}

// ResponseSink is the queue publish enqueues onto — implemented by the
// request pipeline's response queue. Kept as an interface here so this
// package does not depend on the pipeline.
type ResponseSink interface {
	Enqueue(h Handle, f wire.Frame)
}

var ErrAlreadyRegistered = alreadyRegisteredError{}

type alreadyRegisteredError struct{}

func (alreadyRegisteredError) Error() string { return "already registered" }

// EventBus owns one subscriber set per EventKind. Each set has its own
// mutex, so a subscribe/unsubscribe for one kind never contends with
// another.
type EventBus struct {
	sink  ResponseSink
	sets  map[wire.EventKind]*subscriberSet
	setMu sync.RWMutex // guards insertion into sets itself, not the sets' contents
}

func New(sink ResponseSink) *EventBus {
	b := &EventBus{sink: sink, sets: make(map[wire.EventKind]*subscriberSet)}
	for _, k := range []wire.EventKind{wire.EventCreate, wire.EventUpdate, wire.EventDelete, wire.EventFlushAll} {
		b.sets[k] = newSubscriberSet()
	}
	return b
}

func (b *EventBus) set(kind wire.EventKind) *subscriberSet {
	b.setMu.RLock()
	s := b.sets[kind]
	b.setMu.RUnlock()
	return s
}

// Subscribe registers h for kind. Idempotent: a second subscribe for an
// already-registered handle reports ErrAlreadyRegistered and leaves state
// unchanged.
func (b *EventBus) Subscribe(h Handle, kind wire.EventKind) error {
	s := b.set(kind)
	if s == nil {
		return errUnknownKind
	}
	return s.add(h)
}

// Unsubscribe removes h from kind. Silent no-op if absent.
func (b *EventBus) Unsubscribe(h Handle, kind wire.EventKind) {
	if s := b.set(kind); s != nil {
		s.remove(h)
	}
}

// Purge removes h from every kind. Called when the writer observes a
// permanent write failure for h; purge-on-next-failure is sufficient, so
// this need not run synchronously on disconnect.
func (b *EventBus) Purge(h Handle) {
	b.setMu.RLock()
	defer b.setMu.RUnlock()
	for _, s := range b.sets {
		s.remove(h)
	}
}

// Publish builds an Event frame with a fresh id and enqueues it for every
// subscriber that was registered before this call returns. Enumeration
// takes a snapshot so the per-kind lock is never held across the enqueue.
func (b *EventBus) Publish(kind wire.EventKind, message string) {
	s := b.set(kind)
	if s == nil {
		return
	}
	handles := s.snapshot()
	if len(handles) == 0 {
		return
	}
	id := uuid.NewString()
	frame := wire.EventFrame(id, wire.CodeOK, message)
	for _, h := range handles {
		b.sink.Enqueue(h, frame)
	}
}

var errUnknownKind = unknownKindError{}

type unknownKindError struct{}

func (unknownKindError) Error() string { return "unknown event kind" }

// subscriberSet is a copy-on-write handle list guarded by its own mutex, so
// publish can snapshot without blocking subscribe/unsubscribe on other
// kinds.
type subscriberSet struct {
	mu      sync.Mutex
	handles []Handle
}

func newSubscriberSet() *subscriberSet { return &subscriberSet{} }

func (s *subscriberSet) add(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.handles {
		if existing == h {
			return ErrAlreadyRegistered
		}
	}
	next := make([]Handle, len(s.handles)+1)
	copy(next, s.handles)
	next[len(s.handles)] = h
	s.handles = next
	return nil
}

func (s *subscriberSet) remove(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.handles {
		if existing == h {
			next := make([]Handle, 0, len(s.handles)-1)
			next = append(next, s.handles[:i]...)
			next = append(next, s.handles[i+1:]...)
			s.handles = next
			return
		}
	}
}

func (s *subscriberSet) snapshot() []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles
}
