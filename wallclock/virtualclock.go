package wallclock

import (
	"sync"
	"time"
)

// VirtualClock derives emulated time from a HostClock. It starts at zero on
// Reset, stops while frozen and resumes from the frozen reading, so paused
// intervals never show up in virtual time. Readings never decrease.
type VirtualClock struct {
	lock sync.Mutex

	host     HostClock
	origin   int64
	frozen   bool
	frozenAt int64
	last     int64
}

// NewVirtualClock creates a VirtualClock that reads zero at the moment of the
// call.
func NewVirtualClock(host HostClock) *VirtualClock {
	c := &VirtualClock{host: host}
	c.origin = host.Nanoseconds()

	return c
}

// Reset moves the virtual origin to the current host reading. A frozen clock
// stays frozen, at zero.
func (c *VirtualClock) Reset() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.origin = c.host.Nanoseconds()
	c.frozenAt = 0
	c.last = 0
}

// Nanoseconds returns the virtual nanoseconds elapsed since the origin,
// excluding frozen intervals.
func (c *VirtualClock) Nanoseconds() int64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.readLocked()
}

// Microseconds returns the virtual time in microseconds.
func (c *VirtualClock) Microseconds() int64 {
	return c.Nanoseconds() / int64(time.Microsecond)
}

// CNTPCT returns the virtual time as system counter ticks.
func (c *VirtualClock) CNTPCT() uint64 {
	return CNTFreq.NsToTicks(c.Nanoseconds())
}

// GPUTick returns the virtual time as GPU timestamp ticks.
func (c *VirtualClock) GPUTick() uint64 {
	return GPUTickFreq.NsToTicks(c.Nanoseconds())
}

func (c *VirtualClock) readLocked() int64 {
	now := c.frozenAt
	if !c.frozen {
		now = c.host.Nanoseconds() - c.origin
	}

	if now < c.last {
		now = c.last
	}
	c.last = now

	return now
}

// Freeze stops the clock at its current reading.
func (c *VirtualClock) Freeze() {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.frozen {
		return
	}

	c.frozenAt = c.readLocked()
	c.frozen = true
}

// Unfreeze lets the clock run again, continuing from the frozen reading.
func (c *VirtualClock) Unfreeze() {
	c.lock.Lock()
	defer c.lock.Unlock()

	if !c.frozen {
		return
	}

	c.origin = c.host.Nanoseconds() - c.frozenAt
	c.frozen = false
}

// IsFrozen tells if the clock is currently frozen.
func (c *VirtualClock) IsFrozen() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.frozen
}
