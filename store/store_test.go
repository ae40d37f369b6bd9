package store

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/cachegate/cachegate/testutil"
	"github.com/cachegate/cachegate/wire"
)

func newTestStore(ceiling int64) *Store {
	return New(Config{
		CeilingBytes:      ceiling,
		EvictionThreshold: 0.9,
		Log:               testLogger(),
	})
}

var _ = Describe("Store", func() {
	var s *Store

	BeforeEach(func() {
		s = newTestStore(1 << 20)
	})

	Describe("Create", func() {
		It("inserts a new key", func() {
			ev, err := s.Create("k1", "v1", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(ev).NotTo(BeNil())
			Expect(ev.Kind).To(Equal(wire.EventCreate))
			v, _, err := s.Read("k1", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("v1"))
		})

		It("rejects a duplicate key", func() {
			_, err := s.Create("k1", "v1", 0)
			Expect(err).NotTo(HaveOccurred())
			_, err = s.Create("k1", "v2", 0)
			Expect(err).To(MatchError(ErrDuplicateKey))
		})

		It("starts usage_count at 1", func() {
			_, err := s.Create("k1", "v1", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.entries["k1"].UsageCount).To(BeEquivalentTo(1))
		})

		It("refuses to exceed the memory ceiling", func() {
			tiny := newTestStore(1)
			_, err := tiny.Create("k1", "v1", 0)
			Expect(err).To(MatchError(ErrMemoryLimit))
		})

		It("signals eviction once usage crosses the threshold", func() {
			small := newTestStore(10)
			// 10 bytes: at the ceiling, past the 0.9 threshold.
			small.Create("k1", "v12", 0)
			// The next Create sees NeedsEviction before its own insert.
			small.Create("k2", "v2", 0)
			select {
			case <-small.EvictionSignal():
			default:
				Fail("expected an eviction signal")
			}
		})
	})

	Describe("Read", func() {
		It("reports not found for an absent key", func() {
			_, _, err := s.Read("missing", false)
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("bumps usage_count on every successful read", func() {
			s.Create("k1", "v1", 0)
			s.Read("k1", false)
			s.Read("k1", false)
			Expect(s.entries["k1"].UsageCount).To(BeEquivalentTo(3))
		})

		Context("lazy expiry", func() {
			It("deletes and reports not-found when the flag is already set", func() {
				s.Create("k1", "v1", 0)
				s.MarkExpired("k1")
				_, ev, err := s.Read("k1", true)
				Expect(err).To(MatchError(ErrNotFound))
				Expect(s.entries).NotTo(HaveKey("k1"))
				Expect(ev).NotTo(BeNil())
				Expect(ev.Kind).To(Equal(wire.EventDelete))
			})

			It("ignores the flag when lazyExpiry is false", func() {
				s.Create("k1", "v1", 0)
				s.MarkExpired("k1")
				v, ev, err := s.Read("k1", false)
				Expect(err).NotTo(HaveOccurred())
				Expect(v).To(Equal("v1"))
				Expect(ev).To(BeNil())
			})
		})
	})

	Describe("Update", func() {
		It("reports not found for an absent key", func() {
			_, err := s.Update("missing", "v", true, 0)
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("preserves the prior ttl when ttlSet is false", func() {
			s.Create("k1", "v1", 42)
			_, err := s.Update("k1", "v2", false, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.entries["k1"].TTLDeadline).To(BeEquivalentTo(42))
		})

		It("replaces the ttl when ttlSet is true", func() {
			s.Create("k1", "v1", 42)
			_, err := s.Update("k1", "v2", true, 99)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.entries["k1"].TTLDeadline).To(BeEquivalentTo(99))
		})

		It("bumps usage_count", func() {
			s.Create("k1", "v1", 0)
			s.Update("k1", "v2", false, 0)
			Expect(s.entries["k1"].UsageCount).To(BeEquivalentTo(2))
		})
	})

	Describe("Delete", func() {
		It("removes an existing key", func() {
			s.Create("k1", "v1", 0)
			ev, err := s.Delete("k1")
			Expect(err).NotTo(HaveOccurred())
			Expect(ev).NotTo(BeNil())
			_, _, err = s.Read("k1", false)
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("is a silent no-op for an absent key", func() {
			ev, err := s.Delete("missing")
			Expect(err).NotTo(HaveOccurred())
			Expect(ev).To(BeNil())
		})

		It("frees the accounted bytes", func() {
			s.Create("k1", "v1", 0)
			before := s.Accountant.CurrentBytes()
			s.Delete("k1")
			Expect(s.Accountant.CurrentBytes()).To(BeNumerically("<", before))
		})
	})

	Describe("FlushAll", func() {
		It("removes every entry and resets the accountant", func() {
			s.Create("k1", "v1", 0)
			s.Create("k2", "v2", 0)
			ev := s.FlushAll()
			Expect(s.entries).To(BeEmpty())
			Expect(s.Accountant.CurrentBytes()).To(BeZero())
			Expect(ev.Kind).To(Equal(wire.EventFlushAll))
		})

		It("survives a FlushAll on a store seeded with fuzzed keys and values", func() {
			for i := 0; i < 20; i++ {
				var key, value string
				testutil.Fuzz(&key)
				testutil.Fuzz(&value)
				testutil.Byf("seeding %q", key)
				s.Create(key, value, 0)
			}
			s.FlushAll()
			Expect(s.entries).To(BeEmpty())
			Expect(s.Accountant.CurrentBytes()).To(BeZero())
		})
	})

	Describe("Stats", func() {
		It("reports item count and byte usage without emitting an event", func() {
			s.Create("k1", "v1", 0)
			stats := s.Stats()
			Expect(stats.Items).To(Equal(1))
			Expect(stats.CurrentBytes).To(BeNumerically(">", 0))
			Expect(stats.CeilingBytes).To(Equal(int64(1 << 20)))
		})
	})

	Describe("hook publication", func() {
		It("fans out Create/Update/Delete/FlushAll to every subscriber", func() {
			q := subscribeTestQueue(s)
			s.Create("k1", "v1", 5)
			s.Update("k1", "v2", true, 6)
			s.Delete("k1")
			s.FlushAll()

			Expect(popKind(q)).To(Equal(HookCreated))
			Expect(popKind(q)).To(Equal(HookUpdated))
			Expect(popKind(q)).To(Equal(HookDeleted))
			Expect(popKind(q)).To(Equal(HookFlushedAll))
		})

		It("does not publish a hook for MarkExpired", func() {
			q := subscribeTestQueue(s)
			s.Create("k1", "v1", 5)
			Expect(popKind(q)).To(Equal(HookCreated))
			s.MarkExpired("k1")
			Consistently(func() int { return q.Len() }).Should(BeZero())
		})
	})
})
