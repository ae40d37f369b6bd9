package eventbus

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/cachegate/cachegate/wire"
)

type fakeHandle struct{ name string }

var _ = Describe("EventBus", func() {
	var (
		sink *recordingSink
		bus  *EventBus
		h1   *fakeHandle
		h2   *fakeHandle
	)

	BeforeEach(func() {
		sink = &recordingSink{}
		bus = New(sink)
		h1 = &fakeHandle{"h1"}
		h2 = &fakeHandle{"h2"}
	})

	It("delivers a publish only to subscribers of that kind", func() {
		Expect(bus.Subscribe(h1, wire.EventCreate)).To(Succeed())
		Expect(bus.Subscribe(h2, wire.EventDelete)).To(Succeed())

		bus.Publish(wire.EventCreate, "Created k1")

		calls := sink.Calls()
		Expect(calls).To(HaveLen(1))
		Expect(calls[0].Handle).To(BeIdenticalTo(Handle(h1)))
		Expect(calls[0].Frame.Type).To(Equal(wire.TypeEvent))
		Expect(calls[0].Frame.Message).To(Equal("Created k1"))
	})

	It("is idempotent: a duplicate subscribe reports ErrAlreadyRegistered", func() {
		Expect(bus.Subscribe(h1, wire.EventCreate)).To(Succeed())
		Expect(bus.Subscribe(h1, wire.EventCreate)).To(MatchError(ErrAlreadyRegistered))
	})

	It("Unsubscribe is a silent no-op for an absent handle", func() {
		Expect(func() { bus.Unsubscribe(h1, wire.EventCreate) }).NotTo(Panic())
	})

	It("Unsubscribe stops further delivery", func() {
		bus.Subscribe(h1, wire.EventUpdate)
		bus.Unsubscribe(h1, wire.EventUpdate)
		bus.Publish(wire.EventUpdate, "Updated k1")
		Expect(sink.Calls()).To(BeEmpty())
	})

	It("Purge removes a handle from every kind", func() {
		bus.Subscribe(h1, wire.EventCreate)
		bus.Subscribe(h1, wire.EventDelete)
		bus.Purge(h1)
		bus.Publish(wire.EventCreate, "x")
		bus.Publish(wire.EventDelete, "y")
		Expect(sink.Calls()).To(BeEmpty())
	})

	It("gives each publish a fresh event id", func() {
		bus.Subscribe(h1, wire.EventCreate)
		bus.Publish(wire.EventCreate, "a")
		bus.Publish(wire.EventCreate, "b")
		calls := sink.Calls()
		Expect(calls).To(HaveLen(2))
		Expect(calls[0].Frame.RequestID).NotTo(Equal(calls[1].Frame.RequestID))
	})

	It("is a no-op publishing to a kind with no subscribers", func() {
		Expect(func() { bus.Publish(wire.EventFlushAll, "flushed") }).NotTo(Panic())
		Expect(sink.Calls()).To(BeEmpty())
	})
})
