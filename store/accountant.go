package store

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Accountant atomically tracks bytes in use against a ceiling. Every
// operation is a single atomic word access, so it needs no lock and stays
// wait-free under concurrent mutation.
type Accountant struct {
	currentBytes int64 // atomic
	ceilingBytes int64
	evictionFrac int64 // atomic, math.Float64bits
}

func NewAccountant(ceilingBytes int64, evictionThreshold float64) *Accountant {
	if evictionThreshold <= 0 || evictionThreshold > 1 {
		panic("eviction threshold must be in (0,1]")
	}
	return &Accountant{ceilingBytes: ceilingBytes, evictionFrac: int64(math.Float64bits(evictionThreshold))}
}

// SetEvictionThreshold hot-applies a new high-water fraction.
func (a *Accountant) SetEvictionThreshold(frac float64) {
	if frac <= 0 || frac > 1 {
		return
	}
	atomic.StoreInt64(&a.evictionFrac, int64(math.Float64bits(frac)))
}

func (a *Accountant) evictionThreshold() float64 {
	return math.Float64frombits(uint64(atomic.LoadInt64(&a.evictionFrac)))
}

func (a *Accountant) CurrentBytes() int64 { return atomic.LoadInt64(&a.currentBytes) }
func (a *Accountant) CeilingBytes() int64 { return a.ceilingBytes }

func (a *Accountant) CanAdd(n int) bool {
	return a.CurrentBytes()+int64(n) <= a.ceilingBytes
}

func (a *Accountant) CanUpdate(oldN, newN int) bool {
	return a.CurrentBytes()-int64(oldN)+int64(newN) <= a.ceilingBytes
}

func (a *Accountant) Add(n int) { a.mutate(int64(n)) }

func (a *Accountant) Remove(n int) { a.mutate(-int64(n)) }

func (a *Accountant) Update(oldN, newN int) { a.mutate(int64(newN) - int64(oldN)) }

func (a *Accountant) mutate(delta int64) {
	v := atomic.AddInt64(&a.currentBytes, delta)
	if v < 0 {
		panic(fmt.Sprintf("accountant underflow: current bytes went negative (%d)", v))
	}
}

// NeedsEviction reports whether current usage has crossed the high-water
// fraction of the ceiling.
func (a *Accountant) NeedsEviction() bool {
	return float64(a.CurrentBytes()) >= a.evictionThreshold()*float64(a.ceilingBytes)
}

// Reset zeroes current bytes. Called only by Store.FlushAll.
func (a *Accountant) Reset() { atomic.StoreInt64(&a.currentBytes, 0) }

// CurrentMB returns a six-decimal fractional megabyte view for MEM.
func (a *Accountant) CurrentMB() float64 {
	mb := float64(a.CurrentBytes()) / (1 << 20)
	return roundTo6(mb)
}

func roundTo6(v float64) float64 {
	const scale = 1e6
	return float64(int64(v*scale+sign(v)*0.5)) / scale
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
