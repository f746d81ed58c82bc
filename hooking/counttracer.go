package hooking

import (
	"sync"
)

// EventCountTracer counts how many times each event type has fired.
type EventCountTracer struct {
	filter EventFilter
	lock   sync.Mutex

	names  []string
	counts map[string]uint64
}

// NewEventCountTracer creates a new EventCountTracer. A nil filter accepts
// every firing.
func NewEventCountTracer(filter EventFilter) *EventCountTracer {
	t := &EventCountTracer{
		filter: filter,
		counts: make(map[string]uint64),
	}

	return t
}

// Func counts the firing carried by an after-event hook.
func (t *EventCountTracer) Func(ctx HookCtx) {
	if ctx.Pos != HookPosAfterEvent {
		return
	}

	firing, ok := ctx.Item.(EventFiring)
	if !ok {
		return
	}

	t.Count(firing)
}

// Count records one firing.
func (t *EventCountTracer) Count(f EventFiring) {
	if !accept(t.filter, f) {
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if _, ok := t.counts[f.Name]; !ok {
		t.names = append(t.names, f.Name)
	}

	t.counts[f.Name]++
}

// Names returns the names of the event types seen, in first-seen order.
func (t *EventCountTracer) Names() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	names := make([]string, len(t.names))
	copy(names, t.names)

	return names
}

// CountOf returns the number of firings recorded for an event type.
func (t *EventCountTracer) CountOf(name string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.counts[name]
}
