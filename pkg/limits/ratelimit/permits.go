package ratelimit

import (
	"math"
	"sync/atomic"
)

// Permits is a bounded counting semaphore with non-blocking acquisition.
//
// The number of available permits always stays within [0, capacity].
//
// # Algorithm
//
//  1. Load the available count
//  2. If zero: reject
//  3. Otherwise: compare-and-swap count-1, retry on contention
//  4. On completion: Release adds one back, never above capacity
type Permits struct {
	capacity  int64 // Maximum permits
	available int64 // Permits currently available
}

// NewPermits creates a counter holding capacity permits.
//
// A capacity of zero is valid and produces a counter that never grants.
// Capacities above math.MaxInt64 are clamped to it.
func NewPermits(capacity uint) *Permits {
	n := int64(math.MaxInt64)
	if uint64(capacity) < math.MaxInt64 {
		n = int64(capacity)
	}
	return &Permits{
		capacity:  n,
		available: n,
	}
}

// TryAcquire takes one permit if any is available.
// Returns true if a permit was taken, false if the counter is empty.
func (p *Permits) TryAcquire() bool {
	for {
		current := atomic.LoadInt64(&p.available)
		if current <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&p.available, current, current-1) {
			return true
		}
	}
}

// Release returns one permit.
//
// Returns false when the counter was already full, in which case nothing
// changes. Unpaired releases therefore cannot inflate the budget.
func (p *Permits) Release() bool {
	for {
		current := atomic.LoadInt64(&p.available)
		if current >= p.capacity {
			return false
		}
		if atomic.CompareAndSwapInt64(&p.available, current, current+1) {
			return true
		}
	}
}

// Available returns the number of permits that can still be acquired.
func (p *Permits) Available() int64 {
	return atomic.LoadInt64(&p.available)
}

// Capacity returns the configured maximum.
func (p *Permits) Capacity() int64 {
	return p.capacity
}

// InUse returns the number of permits currently held.
func (p *Permits) InUse() int64 {
	return p.capacity - atomic.LoadInt64(&p.available)
}

// Reset refills the counter to capacity.
func (p *Permits) Reset() {
	atomic.StoreInt64(&p.available, p.capacity)
}
