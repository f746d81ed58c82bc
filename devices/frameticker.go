package devices

import (
	"sync/atomic"
	"time"

	"github.com/sarchlab/coretiming/timing"
)

// DefaultFrameRate is the rate at which cheat codes are re-applied.
const DefaultFrameRate = 12

// FrameTicker calls a function at a fixed rate of virtual time, for as long
// as it is started.
type FrameTicker struct {
	scheduler Scheduler
	event     *timing.EventType
	period    time.Duration
	onFrame   func(frame uint64, now timing.VTimeInNs)

	frames  atomic.Uint64
	started atomic.Bool
}

// NewFrameTicker creates a FrameTicker that runs onFrame rate times per
// virtual second. A rate of zero selects DefaultFrameRate.
func NewFrameTicker(
	s Scheduler,
	name string,
	rate int,
	onFrame func(frame uint64, now timing.VTimeInNs),
) *FrameTicker {
	if rate <= 0 {
		rate = DefaultFrameRate
	}

	t := &FrameTicker{
		scheduler: s,
		period:    time.Second / time.Duration(rate),
		onFrame:   onFrame,
	}
	t.event = s.CreateEvent(name, t.tick)

	return t
}

// Period returns the virtual time between two frames.
func (t *FrameTicker) Period() time.Duration {
	return t.period
}

// Start arms the ticker. The first frame comes one period from now.
// Starting a started ticker does nothing.
func (t *FrameTicker) Start() {
	if t.started.Swap(true) {
		return
	}

	t.scheduler.ScheduleLoopingEvent(t.period, t.period, t.event)
}

// Stop disarms the ticker and waits for a frame in progress. It may be
// called from inside onFrame.
func (t *FrameTicker) Stop() {
	if !t.started.Swap(false) {
		return
	}

	t.scheduler.UnscheduleEvent(t.event, timing.UnscheduleWait)
}

// Frames returns the number of frames run so far.
func (t *FrameTicker) Frames() uint64 {
	return t.frames.Load()
}

func (t *FrameTicker) tick(now timing.VTimeInNs, _ time.Duration) timing.CallbackResult {
	frame := t.frames.Add(1)

	if t.onFrame != nil {
		t.onFrame(frame, now)
	}

	return timing.OneShot()
}
