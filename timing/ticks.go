package timing

import (
	"github.com/sarchlab/coretiming/wallclock"
)

const (
	// MaxSliceLength is the most cycles a CPU core runs before it yields to
	// the scheduler in single-core mode.
	MaxSliceLength = 10000

	// IdleTicks is how far Idle moves the clock when nothing is scheduled.
	IdleTicks = 1000
)

// AddTicks reports CPU cycles consumed by the CPU loop in single-core mode.
// Ticks are dropped while the timeline is paused.
func (c *CoreTiming) AddTicks(ticks uint64) {
	if c.paused.Load() {
		return
	}

	c.cpuTicks.Add(ticks)
	c.downcount.Add(-int64(ticks))
}

// ResetTicks starts a new slice: the downcount becomes the number of cycles
// until the nearest pending entry, capped at MaxSliceLength.
func (c *CoreTiming) ResetTicks() {
	c.basicLock.Lock()
	head, ok := c.queue.peek()
	c.basicLock.Unlock()

	slice := int64(MaxSliceLength)
	if ok {
		if until := c.cyclesUntil(head.time); until < slice {
			slice = until
		}
	}

	c.downcount.Store(slice)
}

// Idle moves the clock straight to the nearest pending entry, for when no
// CPU core has anything to run. With an empty queue it moves IdleTicks
// forward.
func (c *CoreTiming) Idle() {
	if c.paused.Load() {
		return
	}

	c.basicLock.Lock()
	head, ok := c.queue.peek()
	c.basicLock.Unlock()

	if !ok {
		c.cpuTicks.Add(IdleTicks)
		c.downcount.Store(0)

		return
	}

	target := wallclock.BaseClockRate.NsToTicksCeil(int64(head.time))
	for {
		current := c.cpuTicks.Load()
		if target <= current || c.cpuTicks.CompareAndSwap(current, target) {
			break
		}
	}

	c.downcount.Store(0)
}

// GetDowncount returns the cycles left in the current slice. A value of zero
// or less means the CPU loop should call Advance.
func (c *CoreTiming) GetDowncount() int64 {
	return c.downcount.Load()
}

// GetCPUTicks returns the CPU cycles reported so far in single-core mode.
func (c *CoreTiming) GetCPUTicks() uint64 {
	return c.cpuTicks.Load()
}

func (c *CoreTiming) cyclesUntil(t VTimeInNs) int64 {
	target := wallclock.BaseClockRate.NsToTicksCeil(int64(t))
	current := c.cpuTicks.Load()

	if target <= current {
		return 0
	}

	diff := target - current
	if diff > MaxSliceLength {
		return MaxSliceLength
	}

	return int64(diff)
}

// lowerDowncount shortens the current slice when a nearer entry is
// scheduled.
func (c *CoreTiming) lowerDowncount(t VTimeInNs) {
	until := c.cyclesUntil(t)

	for {
		current := c.downcount.Load()
		if until >= current || c.downcount.CompareAndSwap(current, until) {
			return
		}
	}
}
