package testutil

import (
	"sync"
	"time"
)

// DeterministicClock provides a thread-safe fixed clock for tests.
//
// Unlike time.Now, the returned instant never changes unless the test
// advances it explicitly. This keeps persisted timestamps and golden
// files stable across runs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu  sync.Mutex
	now time.Time
}

// Epoch is the default instant for deterministic clocks.
var Epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// NewDeterministicClock creates a clock frozen at Epoch.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{now: Epoch}
}

// NewDeterministicClockAt creates a clock frozen at the given instant.
func NewDeterministicClockAt(t time.Time) *DeterministicClock {
	return &DeterministicClock{now: t}
}

// Now returns the current frozen instant. Suitable for passing as a
// now-function to components that accept one.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *DeterministicClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
