package hooking

import (
	"sync"
	"time"
)

// LatenessTracer collects the total, average and worst lateness of event
// firings.
type LatenessTracer struct {
	filter EventFilter
	lock   sync.Mutex

	total time.Duration
	worst time.Duration
	count uint64
}

// NewLatenessTracer creates a new LatenessTracer
func NewLatenessTracer(filter EventFilter) *LatenessTracer {
	return &LatenessTracer{filter: filter}
}

// Func records the lateness of each firing as it starts.
func (t *LatenessTracer) Func(ctx HookCtx) {
	if ctx.Pos != HookPosBeforeEvent {
		return
	}

	firing, ok := ctx.Item.(EventFiring)
	if !ok || !accept(t.filter, firing) {
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	t.total += firing.Lateness
	t.count++

	if firing.Lateness > t.worst {
		t.worst = firing.Lateness
	}
}

// AverageLateness returns the mean lateness, or zero when nothing fired.
func (t *LatenessTracer) AverageLateness() time.Duration {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.count == 0 {
		return 0
	}

	return t.total / time.Duration(t.count)
}

// WorstLateness returns the largest lateness seen.
func (t *LatenessTracer) WorstLateness() time.Duration {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.worst
}

// TotalCount returns the number of firings traced.
func (t *LatenessTracer) TotalCount() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.count
}
