package timing

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sarchlab/coretiming/hooking"
	"github.com/sarchlab/coretiming/wallclock"
	"go.uber.org/zap"
)

// UnscheduleMode tells UnscheduleEvent whether to wait for an in-flight
// callback of the event type.
type UnscheduleMode int

// Unschedule modes.
const (
	// UnscheduleWait blocks until a callback of the event type that is
	// currently executing has returned.
	UnscheduleWait UnscheduleMode = iota

	// UnscheduleNoWait only removes the pending entries.
	UnscheduleNoWait
)

// CoreTiming schedules callbacks against the virtual clock of one emulated
// system session.
type CoreTiming struct {
	*hooking.HookableBase

	log      *zap.Logger
	registry *Registry
	clock    *wallclock.VirtualClock

	isMulticore atomic.Bool
	initialized atomic.Bool

	// advanceLock serialises Advance and ClearPendingEvents.
	advanceLock sync.Mutex

	// basicLock is the scheduling lock. It guards everything below it up to
	// dispatchDone.
	basicLock    sync.Mutex
	queue        eventHeap
	nextFifoID   uint64
	globalTimer  VTimeInNs
	pauseEndTime VTimeInNs
	inFlight     *EventType
	dispatchDone *sync.Cond

	// dispatcher is the goroutine id of the caller of Advance while it is
	// invoking callbacks, zero otherwise.
	dispatcher atomic.Uint64

	cpuTicks  atomic.Uint64
	downcount atomic.Int64

	wake         chan struct{}
	pauseWake    chan struct{}
	onThreadInit func()
	shuttingDown atomic.Bool
	paused       atomic.Bool
	hasStarted   atomic.Bool
	waitSet      atomic.Bool

	// pauseRequestLock keeps the pause flag and the clock freeze in step.
	pauseRequestLock sync.Mutex

	pauseLock     sync.Mutex
	pauseCond     *sync.Cond
	pausedSet     bool
	threadRunning bool
	state         State
	done          chan struct{}
}

// NewCoreTiming creates a single-core CoreTiming with default settings.
func NewCoreTiming() *CoreTiming {
	return MakeBuilder().Build()
}

// Registry returns the registry that CreateEvent records event types in.
func (c *CoreTiming) Registry() *Registry {
	return c.registry
}

// CreateEvent creates an EventType and records it in the registry of the
// CoreTiming.
func (c *CoreTiming) CreateEvent(name string, callback Callback) *EventType {
	return c.registry.CreateEvent(name, callback)
}

// SetMulticore selects between the timer goroutine and cooperative advancing.
// It must be called before Initialize.
func (c *CoreTiming) SetMulticore(multicore bool) {
	if c.initialized.Load() {
		panic("timing: SetMulticore called after Initialize")
	}

	c.isMulticore.Store(multicore)
}

// IsMulticore tells if the CoreTiming runs its own timer goroutine.
func (c *CoreTiming) IsMulticore() bool {
	return c.isMulticore.Load()
}

// ScheduleEvent arms a one-shot firing of eventType delay after the current
// virtual time.
func (c *CoreTiming) ScheduleEvent(delay time.Duration, eventType *EventType) {
	c.schedule(c.GetGlobalTimeNs().Add(delay), 0, eventType)
}

// ScheduleEventAt arms a one-shot firing of eventType at an absolute virtual
// time.
func (c *CoreTiming) ScheduleEventAt(at VTimeInNs, eventType *EventType) {
	c.schedule(at, 0, eventType)
}

// ScheduleLoopingEvent arms eventType to fire start after the current virtual
// time and then every period, until it is unscheduled.
func (c *CoreTiming) ScheduleLoopingEvent(
	start, period time.Duration,
	eventType *EventType,
) {
	c.ScheduleLoopingEventAt(c.GetGlobalTimeNs().Add(start), period, eventType)
}

// ScheduleLoopingEventAt is ScheduleLoopingEvent with an absolute first
// firing time.
func (c *CoreTiming) ScheduleLoopingEventAt(
	start VTimeInNs,
	period time.Duration,
	eventType *EventType,
) {
	if period <= 0 {
		panic(fmt.Sprintf("timing: looping period must be positive, got %s", period))
	}

	c.schedule(start, period, eventType)
}

func mustBeValid(eventType *EventType) {
	if eventType == nil {
		panic("timing: nil event type")
	}
}

func (c *CoreTiming) schedule(
	at VTimeInNs,
	period time.Duration,
	eventType *EventType,
) {
	mustBeValid(eventType)

	c.basicLock.Lock()
	evt := c.pushLocked(at, period, eventType)
	head, _ := c.queue.peek()
	c.basicLock.Unlock()

	if head != evt {
		return
	}

	if !c.IsMulticore() {
		c.lowerDowncount(at)
	}

	signal(c.wake)
}

func (c *CoreTiming) pushLocked(
	at VTimeInNs,
	period time.Duration,
	eventType *EventType,
) *event {
	evt := &event{
		time:      at,
		fifoID:    c.nextFifoID,
		eventType: eventType,
		period:    period,
	}
	c.nextFifoID++

	c.queue.push(evt)

	return evt
}

// UnscheduleEvent removes every pending entry of eventType. With
// UnscheduleWait it also waits for a callback of eventType that is executing
// right now. A wait requested from inside a callback, on the goroutine that
// dispatches it, does not block.
func (c *CoreTiming) UnscheduleEvent(eventType *EventType, mode UnscheduleMode) {
	mustBeValid(eventType)

	c.basicLock.Lock()
	defer c.basicLock.Unlock()

	removed := c.queue.removeIf(func(evt *event) bool {
		return evt.eventType == eventType
	})
	eventType.Invalidate()

	if removed > 0 {
		c.log.Debug("unscheduled event",
			zap.String("event", eventType.name),
			zap.Int("entries", removed))
	}

	if mode != UnscheduleWait || c.inFlight != eventType {
		return
	}

	if c.onDispatcher() {
		return
	}

	for c.inFlight == eventType {
		c.dispatchDone.Wait()
	}
}

func (c *CoreTiming) onDispatcher() bool {
	id := c.dispatcher.Load()
	return id != 0 && id == curGoroutineID()
}

// Advance fires every entry that is due at the current virtual time, in
// (time, scheduling order) order. It returns the target time of the nearest
// remaining entry, and false if the queue is empty. Nothing fires while the
// timeline is paused.
//
// Callbacks may schedule and unschedule events but must not call Advance.
func (c *CoreTiming) Advance() (VTimeInNs, bool) {
	c.advanceLock.Lock()
	defer c.advanceLock.Unlock()

	c.basicLock.Lock()
	defer c.basicLock.Unlock()

	c.refreshGlobalTimerLocked()

	if !c.paused.Load() {
		c.dispatchDueLocked()
	}

	head, ok := c.queue.peek()
	if !ok {
		return 0, false
	}

	return head.time, true
}

func (c *CoreTiming) refreshGlobalTimerLocked() {
	now := c.GetGlobalTimeNs()
	if now > c.globalTimer {
		c.globalTimer = now
	}
}

func (c *CoreTiming) dispatchDueLocked() {
	var dispatcher uint64

	for {
		head, ok := c.queue.peek()
		if !ok || head.time > c.globalTimer {
			break
		}

		if dispatcher == 0 {
			dispatcher = curGoroutineID()
			c.dispatcher.Store(dispatcher)
		}

		evt := c.queue.pop()
		seq := evt.eventType.SequenceNumber()
		late := time.Duration(c.globalTimer - evt.time)

		result := c.fireUnlocked(evt, late)

		if seq == evt.eventType.SequenceNumber() {
			c.rearmLocked(evt, result)
		}

		c.refreshGlobalTimerLocked()

		if c.paused.Load() {
			break
		}
	}

	if dispatcher != 0 {
		c.dispatcher.Store(0)
	}
}

// fireUnlocked runs one callback with the scheduling lock released. The lock
// is held again when it returns, also when the callback panics; a panicking
// entry is not re-armed.
func (c *CoreTiming) fireUnlocked(evt *event, late time.Duration) CallbackResult {
	c.inFlight = evt.eventType
	c.basicLock.Unlock()

	returned := false
	defer func() {
		c.basicLock.Lock()
		c.inFlight = nil
		c.dispatchDone.Broadcast()

		if !returned {
			c.dispatcher.Store(0)
		}
	}()

	result := c.fire(evt, late)
	returned = true

	return result
}

func (c *CoreTiming) fire(evt *event, late time.Duration) CallbackResult {
	firing := hooking.EventFiring{
		Name:     evt.eventType.name,
		Time:     int64(evt.time),
		Lateness: late,
		FifoID:   evt.fifoID,
		Looping:  evt.period > 0,
	}

	ctx := hooking.HookCtx{
		Domain: c,
		Pos:    hooking.HookPosBeforeEvent,
		Item:   firing,
	}
	c.InvokeHook(ctx)

	result := evt.eventType.invoke(evt.time, late)

	ctx.Pos = hooking.HookPosAfterEvent
	c.InvokeHook(ctx)

	return result
}

// rearmLocked puts a fired entry back when its callback or its looping period
// asks for it. The next target is counted from the previous target, so
// lateness is absorbed, but never lies in the past. Entries that were due
// before the end of the last pause restart from the pause end.
func (c *CoreTiming) rearmLocked(evt *event, result CallbackResult) {
	period := evt.period

	after, reschedule := result.IsReschedule()
	if !reschedule {
		if period == 0 {
			return
		}

		after = period
	} else if period > 0 {
		period = after
	}

	base := evt.time
	if base < c.pauseEndTime {
		base = c.pauseEndTime
	}

	next := base.Add(after)
	if next < c.globalTimer {
		next = c.globalTimer
	}

	c.pushLocked(next, period, evt.eventType)
}

// ClearPendingEvents drops every pending entry. It is meant for teardown,
// when no collaborator is scheduling anymore.
func (c *CoreTiming) ClearPendingEvents() {
	c.advanceLock.Lock()
	c.basicLock.Lock()
	n := len(c.queue)
	c.queue = nil
	c.basicLock.Unlock()
	c.advanceLock.Unlock()

	c.log.Info("cleared pending events", zap.Int("entries", n))

	signal(c.wake)
}

// HasPendingEvents tells if there is work ahead. In multi-core mode it is
// false only while the timer goroutine idles on an empty queue. In
// single-core mode it tells if the queue holds any entry.
func (c *CoreTiming) HasPendingEvents() bool {
	c.basicLock.Lock()
	defer c.basicLock.Unlock()

	if !c.isMulticore.Load() {
		return len(c.queue) > 0
	}

	return !(c.waitSet.Load() && len(c.queue) == 0)
}

// PendingEvent describes a queued entry.
type PendingEvent struct {
	Name    string        `json:"name"`
	Time    VTimeInNs     `json:"time"`
	FifoID  uint64        `json:"fifo_id"`
	Period  time.Duration `json:"period"`
	Looping bool          `json:"looping"`
}

// PendingEvents returns the queued entries in firing order.
func (c *CoreTiming) PendingEvents() []PendingEvent {
	c.basicLock.Lock()
	list := make([]PendingEvent, 0, len(c.queue))
	for _, evt := range c.queue {
		list = append(list, PendingEvent{
			Name:    evt.eventType.name,
			Time:    evt.time,
			FifoID:  evt.fifoID,
			Period:  evt.period,
			Looping: evt.period > 0,
		})
	}
	c.basicLock.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].Time != list[j].Time {
			return list[i].Time < list[j].Time
		}

		return list[i].FifoID < list[j].FifoID
	})

	return list
}

// GetGlobalTimeNs returns the current virtual time.
func (c *CoreTiming) GetGlobalTimeNs() VTimeInNs {
	if c.IsMulticore() {
		return VTimeInNs(c.clock.Nanoseconds())
	}

	return VTimeInNs(wallclock.CPUTickToNs(c.cpuTicks.Load()))
}

// GetGlobalTimeUs returns the current virtual time in microseconds.
func (c *CoreTiming) GetGlobalTimeUs() int64 {
	if c.IsMulticore() {
		return c.clock.Microseconds()
	}

	return wallclock.CPUTickToUs(c.cpuTicks.Load())
}

// GetClockTicks returns the emulated system counter (CNTPCT).
func (c *CoreTiming) GetClockTicks() uint64 {
	if c.IsMulticore() {
		return c.clock.CNTPCT()
	}

	return wallclock.CPUTickToCNTPCT(c.cpuTicks.Load())
}

// GetGPUTicks returns the emulated GPU timestamp counter.
func (c *CoreTiming) GetGPUTicks() uint64 {
	if c.IsMulticore() {
		return c.clock.GPUTick()
	}

	return wallclock.CPUTickToGPUTick(c.cpuTicks.Load())
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
