package hooking

import "time"

// A list of hook poses for the hooks to apply to
var (
	HookPosBeforeEvent = &HookPos{Name: "HookPosBeforeEvent"}
	HookPosAfterEvent  = &HookPos{Name: "HookPosAfterEvent"}
	HookPosPause       = &HookPos{Name: "HookPosPause"}
	HookPosResume      = &HookPos{Name: "HookPosResume"}
)

// EventFiring describes one invocation of an event callback. It is the Item
// of the HookPosBeforeEvent and HookPosAfterEvent hooks.
type EventFiring struct {
	// Name is the name of the event type.
	Name string

	// Time is the virtual nanosecond the entry was scheduled for.
	Time int64

	// Lateness is how far the virtual clock had moved past Time when the
	// callback was invoked.
	Lateness time.Duration

	// FifoID is the scheduling order of the entry.
	FifoID uint64

	// Looping tells if the entry came from a looping schedule.
	Looping bool
}

// EventFilter is a function that can filter interesting firings. If this
// function returns true, the firing is considered useful.
type EventFilter func(f EventFiring) bool

// TimeTeller can tell the current host time. Any wallclock.HostClock
// satisfies it.
type TimeTeller interface {
	Nanoseconds() int64
}

func accept(filter EventFilter, f EventFiring) bool {
	return filter == nil || filter(f)
}
