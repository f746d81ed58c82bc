package wallclock

import (
	"sync"
	"time"
)

// HostClock is a monotonic nanosecond source provided by the host.
type HostClock interface {
	// Nanoseconds returns the nanoseconds elapsed since an arbitrary fixed
	// origin. Successive calls never return a smaller value.
	Nanoseconds() int64
}

// SystemClock reads the monotonic reading of the Go runtime clock.
type SystemClock struct {
	origin time.Time
}

// NewSystemClock creates a SystemClock whose origin is the moment of the call.
func NewSystemClock() *SystemClock {
	return &SystemClock{origin: time.Now()}
}

// Nanoseconds returns the time since the clock was created.
func (c *SystemClock) Nanoseconds() int64 {
	return int64(time.Since(c.origin))
}

// ManualClock is a HostClock that only moves when told to. It is used to make
// multi-core timing deterministic.
type ManualClock struct {
	lock sync.Mutex
	now  int64
}

// NewManualClock creates a ManualClock reading zero.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// Nanoseconds returns the current manual reading.
func (c *ManualClock) Nanoseconds() int64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.now
}

// Advance moves the clock forward by d. Negative durations are ignored.
func (c *ManualClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}

	c.lock.Lock()
	c.now += int64(d)
	c.lock.Unlock()
}

// Set moves the clock to ns if that is not earlier than the current reading.
func (c *ManualClock) Set(ns int64) {
	c.lock.Lock()
	if ns > c.now {
		c.now = ns
	}
	c.lock.Unlock()
}
