package datarecording

import (
	"sync"

	"github.com/sarchlab/coretiming/hooking"
	"github.com/sarchlab/coretiming/timing"
)

// Tables written by EventRecorder.
const (
	FiringTable = "event_firing"
	PauseTable  = "pause_log"
)

// FiringEntry is one executed callback.
type FiringEntry struct {
	FifoID    uint64
	Name      string
	Time      int64
	Lateness  int64
	Looping   bool
	HostStart int64
	HostEnd   int64
}

// PauseEntry is one pause or resume of the timeline.
type PauseEntry struct {
	Paused bool
	Time   int64
}

// EventRecorder is a hook that writes every event firing and every pause
// transition of a CoreTiming into a DataRecorder.
type EventRecorder struct {
	recorder DataRecorder
	host     hooking.TimeTeller
	filter   hooking.EventFilter

	lock   sync.Mutex
	starts map[uint64]int64
}

// NewEventRecorder creates the firing and pause tables in the recorder. host
// measures how long each callback takes. A nil filter records every firing.
func NewEventRecorder(
	recorder DataRecorder,
	host hooking.TimeTeller,
	filter hooking.EventFilter,
) *EventRecorder {
	recorder.CreateTable(FiringTable, FiringEntry{})
	recorder.CreateTable(PauseTable, PauseEntry{})

	return &EventRecorder{
		recorder: recorder,
		host:     host,
		filter:   filter,
		starts:   make(map[uint64]int64),
	}
}

// Func receives the hook invocations.
func (r *EventRecorder) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case hooking.HookPosBeforeEvent:
		r.before(ctx)
	case hooking.HookPosAfterEvent:
		r.after(ctx)
	case hooking.HookPosPause, hooking.HookPosResume:
		r.pause(ctx)
	}
}

func (r *EventRecorder) before(ctx hooking.HookCtx) {
	firing, ok := ctx.Item.(hooking.EventFiring)
	if !ok || (r.filter != nil && !r.filter(firing)) {
		return
	}

	r.lock.Lock()
	r.starts[firing.FifoID] = r.host.Nanoseconds()
	r.lock.Unlock()
}

func (r *EventRecorder) after(ctx hooking.HookCtx) {
	firing, ok := ctx.Item.(hooking.EventFiring)
	if !ok {
		return
	}

	r.lock.Lock()
	start, found := r.starts[firing.FifoID]
	delete(r.starts, firing.FifoID)
	r.lock.Unlock()

	if !found {
		return
	}

	r.recorder.InsertData(FiringTable, FiringEntry{
		FifoID:    firing.FifoID,
		Name:      firing.Name,
		Time:      firing.Time,
		Lateness:  int64(firing.Lateness),
		Looping:   firing.Looping,
		HostStart: start,
		HostEnd:   r.host.Nanoseconds(),
	})
}

func (r *EventRecorder) pause(ctx hooking.HookCtx) {
	now, ok := ctx.Item.(timing.VTimeInNs)
	if !ok {
		return
	}

	r.recorder.InsertData(PauseTable, PauseEntry{
		Paused: ctx.Pos == hooking.HookPosPause,
		Time:   int64(now),
	})
}
