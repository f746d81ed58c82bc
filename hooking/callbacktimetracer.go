package hooking

import (
	"sync"
	"time"
)

// CallbackTimeTracer measures the host time spent inside callbacks, per event
// type. Slow callbacks delay every event queued behind them.
type CallbackTimeTracer struct {
	timeTeller TimeTeller
	filter     EventFilter
	lock       sync.Mutex

	inflight map[uint64]int64
	busy     map[string]time.Duration
}

// NewCallbackTimeTracer creates a CallbackTimeTracer reading host time from
// timeTeller.
func NewCallbackTimeTracer(
	timeTeller TimeTeller,
	filter EventFilter,
) *CallbackTimeTracer {
	return &CallbackTimeTracer{
		timeTeller: timeTeller,
		filter:     filter,
		inflight:   make(map[uint64]int64),
		busy:       make(map[string]time.Duration),
	}
}

// Func records the start and end of a callback.
func (t *CallbackTimeTracer) Func(ctx HookCtx) {
	firing, ok := ctx.Item.(EventFiring)
	if !ok || !accept(t.filter, firing) {
		return
	}

	switch ctx.Pos {
	case HookPosBeforeEvent:
		t.start(firing)
	case HookPosAfterEvent:
		t.end(firing)
	}
}

func (t *CallbackTimeTracer) start(f EventFiring) {
	now := t.timeTeller.Nanoseconds()

	t.lock.Lock()
	t.inflight[f.FifoID] = now
	t.lock.Unlock()
}

func (t *CallbackTimeTracer) end(f EventFiring) {
	now := t.timeTeller.Nanoseconds()

	t.lock.Lock()
	defer t.lock.Unlock()

	startTime, ok := t.inflight[f.FifoID]
	if !ok {
		return
	}

	t.busy[f.Name] += time.Duration(now - startTime)
	delete(t.inflight, f.FifoID)
}

// BusyTime returns the host time spent in the callbacks of an event type.
func (t *CallbackTimeTracer) BusyTime(name string) time.Duration {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.busy[name]
}
