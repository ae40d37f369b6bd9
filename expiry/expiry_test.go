package expiry

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/cachegate/cachegate/store"
	"github.com/cachegate/cachegate/wire"
)

var _ = Describe("Engine", func() {
	var (
		backend *fakeBackend
		bus     *fakeBus
		e       *Engine
	)

	BeforeEach(func() {
		backend = &fakeBackend{}
		bus = &fakeBus{}
		e = New(backend, bus, testLogger(), nil, Strict, 10*time.Second)
	})

	Describe("bucketFor", func() {
		It("floors a deadline to the interval boundary", func() {
			Expect(e.bucketFor(25)).To(BeEquivalentTo(20))
			Expect(e.bucketFor(20)).To(BeEquivalentTo(20))
			Expect(e.bucketFor(9)).To(BeEquivalentTo(0))
		})
	})

	Describe("applyHook", func() {
		It("indexes a Created hook with a non-zero ttl", func() {
			e.applyHook(store.Hook{Kind: store.HookCreated, Key: "k1", TTLDeadline: 25})
			Expect(e.keyBucket).To(HaveKeyWithValue("k1", int64(20)))
		})

		It("does not index a Created hook with ttl zero", func() {
			e.applyHook(store.Hook{Kind: store.HookCreated, Key: "k1", TTLDeadline: 0})
			Expect(e.keyBucket).NotTo(HaveKey("k1"))
		})

		It("re-buckets an Updated hook when the ttl changed", func() {
			e.applyHook(store.Hook{Kind: store.HookCreated, Key: "k1", TTLDeadline: 25})
			e.applyHook(store.Hook{Kind: store.HookUpdated, Key: "k1", TTLDeadline: 45, OldTTLDeadline: 25})
			Expect(e.keyBucket).To(HaveKeyWithValue("k1", int64(40)))
		})

		It("does not re-bucket an Updated hook when the ttl is unchanged", func() {
			e.applyHook(store.Hook{Kind: store.HookCreated, Key: "k1", TTLDeadline: 25})
			before := e.keyBucket["k1"]
			e.applyHook(store.Hook{Kind: store.HookUpdated, Key: "k1", TTLDeadline: 25, OldTTLDeadline: 25})
			Expect(e.keyBucket["k1"]).To(Equal(before))
		})

		It("unindexes a Deleted hook", func() {
			e.applyHook(store.Hook{Kind: store.HookCreated, Key: "k1", TTLDeadline: 25})
			e.applyHook(store.Hook{Kind: store.HookDeleted, Key: "k1"})
			Expect(e.keyBucket).NotTo(HaveKey("k1"))
		})

		It("clears every bucket on FlushedAll", func() {
			e.applyHook(store.Hook{Kind: store.HookCreated, Key: "k1", TTLDeadline: 25})
			e.applyHook(store.Hook{Kind: store.HookFlushedAll})
			Expect(e.buckets).To(BeEmpty())
			Expect(e.keyBucket).To(BeEmpty())
		})
	})

	Describe("expireOnce", func() {
		It("deletes due keys in Strict mode", func() {
			e.applyHook(store.Hook{Kind: store.HookCreated, Key: "k1", TTLDeadline: 1})
			e.expireOnce()
			Expect(backend.Deleted()).To(ConsistOf("k1"))
			Expect(bus.Published()).To(ConsistOf(wire.EventDelete))
		})

		It("marks due keys in Lazy mode instead of deleting", func() {
			lazy := New(backend, bus, testLogger(), nil, Lazy, 10*time.Second)
			lazy.applyHook(store.Hook{Kind: store.HookCreated, Key: "k1", TTLDeadline: 1})
			lazy.expireOnce()
			Expect(backend.Marked()).To(ConsistOf("k1"))
			Expect(backend.Deleted()).To(BeEmpty())
		})

		It("leaves not-yet-due keys indexed", func() {
			e.applyHook(store.Hook{Kind: store.HookCreated, Key: "k1", TTLDeadline: time.Now().Unix() + 1000})
			e.expireOnce()
			Expect(backend.Deleted()).To(BeEmpty())
			Expect(e.keyBucket).To(HaveKey("k1"))
		})
	})

	Describe("SetInterval", func() {
		It("hot-applies a new sweep period", func() {
			e.SetInterval(3 * time.Second)
			Expect(e.interval()).To(BeEquivalentTo(3))
		})

		It("ignores a non-positive duration", func() {
			e.SetInterval(3 * time.Second)
			e.SetInterval(0)
			Expect(e.interval()).To(BeEquivalentTo(3))
		})
	})
})
