// Package timing is the virtual-time event scheduler of the emulated system.
//
// Every subsystem that needs to act at a point of emulated time creates an
// EventType once, and then schedules it on the CoreTiming that the system
// owns. CoreTiming fires due callbacks strictly in (time, scheduling order)
// order, either from its own timer goroutine (multi-core mode) or when the
// CPU loop calls Advance (single-core mode).
package timing

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// VTimeInNs is a point of virtual time, in nanoseconds since the session
// started.
type VTimeInNs int64

// Duration returns the virtual time as a duration since the session start.
func (t VTimeInNs) Duration() time.Duration {
	return time.Duration(t)
}

// Add returns the virtual time d after t.
func (t VTimeInNs) Add(d time.Duration) VTimeInNs {
	return t + VTimeInNs(d)
}

// CallbackResult tells the scheduler what to do with an entry after its
// callback returns.
type CallbackResult struct {
	reschedule bool
	after      time.Duration
}

// OneShot is the result of a callback that does not ask for another firing.
// Looping entries are still re-armed with their period.
func OneShot() CallbackResult {
	return CallbackResult{}
}

// RescheduleAfter asks the scheduler to fire the same event type again d
// after the target time of the entry that just fired. For looping entries, d
// also becomes the new period.
func RescheduleAfter(d time.Duration) CallbackResult {
	if d <= 0 {
		panic(fmt.Sprintf("timing: reschedule duration must be positive, got %s", d))
	}

	return CallbackResult{reschedule: true, after: d}
}

// IsReschedule tells if the result asks for another firing, and after how
// long.
func (r CallbackResult) IsReschedule() (time.Duration, bool) {
	return r.after, r.reschedule
}

// Callback is invoked when an event is due. now is the target time of the
// entry and late is how far the virtual clock had moved past it.
type Callback func(now VTimeInNs, late time.Duration) CallbackResult

// EventType is a named, reusable callback descriptor. One EventType is
// created per purpose and shared by every scheduling of it.
type EventType struct {
	name     string
	callback Callback

	sequenceNumber atomic.Uint64
}

// CreateEvent creates an EventType. The handle is meant to be kept for the
// lifetime of the process and reused whenever the event is scheduled.
func CreateEvent(name string, callback Callback) *EventType {
	return &EventType{
		name:     name,
		callback: callback,
	}
}

// Name returns the name of the event type.
func (e *EventType) Name() string {
	return e.name
}

// SequenceNumber returns how many times the identity of the event type has
// been invalidated.
func (e *EventType) SequenceNumber() uint64 {
	return e.sequenceNumber.Load()
}

// Invalidate marks every in-flight firing of the event type as stale, so that
// none of them is re-armed when its callback returns.
func (e *EventType) Invalidate() {
	e.sequenceNumber.Add(1)
}

func (e *EventType) invoke(now VTimeInNs, late time.Duration) CallbackResult {
	if e.callback == nil {
		return OneShot()
	}

	return e.callback(now, late)
}

// Registry keeps the event types of a session by name.
type Registry struct {
	lock  sync.RWMutex
	types map[string]*EventType
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]*EventType),
	}
}

// CreateEvent creates an EventType and registers it. Names must be unique.
func (r *Registry) CreateEvent(name string, callback Callback) *EventType {
	e := CreateEvent(name, callback)
	r.Register(e)

	return e
}

// Register adds an existing EventType.
func (r *Registry) Register(e *EventType) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.types[e.name]; ok {
		panic(fmt.Sprintf("timing: event type %q already registered", e.name))
	}

	r.types[e.name] = e
	r.order = append(r.order, e.name)
}

// Lookup finds an event type by name.
func (r *Registry) Lookup(name string) (*EventType, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	e, ok := r.types[name]

	return e, ok
}

// List returns the registered event types in registration order.
func (r *Registry) List() []*EventType {
	r.lock.RLock()
	defer r.lock.RUnlock()

	list := make([]*EventType, 0, len(r.order))
	for _, name := range r.order {
		list = append(list, r.types[name])
	}

	return list
}
