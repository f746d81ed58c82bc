// Package devices holds emulated peripherals that drive themselves off the
// timing session: a frame ticker, a set of input pollers and an audio-style
// sample counter.
package devices

import (
	"time"

	"github.com/sarchlab/coretiming/timing"
)

// Scheduler is the part of a timing session that devices use.
type Scheduler interface {
	CreateEvent(name string, callback timing.Callback) *timing.EventType
	ScheduleEvent(delay time.Duration, eventType *timing.EventType)
	ScheduleLoopingEvent(start, period time.Duration, eventType *timing.EventType)
	UnscheduleEvent(eventType *timing.EventType, mode timing.UnscheduleMode)
	GetGlobalTimeNs() timing.VTimeInNs
}
