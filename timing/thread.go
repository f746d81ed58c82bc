package timing

import (
	"time"

	"github.com/sarchlab/coretiming/hooking"
	"go.uber.org/zap"
)

// State is the lifecycle state of a CoreTiming session.
type State int

// Session states. Stopped is the initial state and Terminated the final one.
const (
	Stopped State = iota
	Running
	Paused
	ShuttingDown
	Terminated
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	case ShuttingDown:
		return "ShuttingDown"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Initialize starts a new session. A previous session is shut down first, its
// pending entries are dropped and the virtual clock restarts at zero. In
// multi-core mode the timer goroutine is started and onThreadInit runs on it
// before the first event.
func (c *CoreTiming) Initialize(onThreadInit func()) {
	c.reset()

	c.initialized.Store(true)
	c.onThreadInit = onThreadInit

	c.advanceLock.Lock()
	c.basicLock.Lock()
	c.queue = nil
	c.globalTimer = 0
	c.pauseEndTime = 0
	c.basicLock.Unlock()
	c.advanceLock.Unlock()

	c.cpuTicks.Store(0)
	c.downcount.Store(MaxSliceLength)
	c.shuttingDown.Store(false)
	c.paused.Store(false)
	c.clock.Unfreeze()
	c.clock.Reset()
	drain(c.wake)
	drain(c.pauseWake)

	multicore := c.IsMulticore()

	c.pauseLock.Lock()
	c.pausedSet = false
	c.state = Running
	c.threadRunning = multicore
	c.done = make(chan struct{})
	done := c.done
	c.pauseLock.Unlock()

	c.log.Info("timing session initialized", zap.Bool("multicore", multicore))

	if multicore {
		go c.threadEntry(done)
	}
}

// Shutdown stops the session and, in multi-core mode, waits for the timer
// goroutine to exit. Pending entries are kept until the next Initialize or
// ClearPendingEvents.
func (c *CoreTiming) Shutdown() {
	c.reset()
}

func (c *CoreTiming) reset() {
	c.pauseLock.Lock()
	if c.state == Stopped || c.state == Terminated {
		c.pauseLock.Unlock()
		return
	}

	c.state = ShuttingDown
	running := c.threadRunning
	done := c.done
	c.pauseLock.Unlock()

	c.shuttingDown.Store(true)
	signal(c.pauseWake)
	signal(c.wake)

	if running && !c.onDispatcher() {
		<-done
	}

	c.pauseLock.Lock()
	if !c.threadRunning {
		c.state = Terminated
	}
	c.pauseLock.Unlock()

	c.hasStarted.Store(false)
	c.log.Info("timing session shut down")
}

func (c *CoreTiming) threadEntry(done chan struct{}) {
	defer c.threadExit(done)

	c.hasStarted.Store(true)
	if c.onThreadInit != nil {
		c.onThreadInit()
	}

	c.log.Debug("timer thread started")

	c.threadLoop()
}

func (c *CoreTiming) threadLoop() {
	for !c.shuttingDown.Load() {
		for !c.paused.Load() && !c.shuttingDown.Load() {
			c.setPausedSet(false)

			next, ok := c.Advance()
			if !ok {
				c.waitSet.Store(true)
				<-c.wake
				c.waitSet.Store(false)

				continue
			}

			wait := time.Duration(next - c.GetGlobalTimeNs())
			if wait > 0 {
				c.waitFor(wait)
			}
		}

		if c.shuttingDown.Load() {
			return
		}

		c.setPausedSet(true)
		<-c.pauseWake
	}
}

func (c *CoreTiming) waitFor(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-c.wake:
	case <-timer.C:
	}
}

func (c *CoreTiming) threadExit(done chan struct{}) {
	c.pauseLock.Lock()
	c.threadRunning = false
	c.pausedSet = true
	c.state = Terminated
	c.pauseCond.Broadcast()
	c.pauseLock.Unlock()

	c.log.Debug("timer thread exited")

	close(done)
}

func (c *CoreTiming) setPausedSet(paused bool) {
	c.pauseLock.Lock()
	defer c.pauseLock.Unlock()

	if c.pausedSet == paused {
		return
	}

	c.applyPausedLocked(paused)
}

func (c *CoreTiming) applyPausedLocked(paused bool) {
	c.pausedSet = paused
	if c.state == Running || c.state == Paused {
		c.state = Running
		if paused {
			c.state = Paused
		}
	}

	c.pauseCond.Broadcast()
}

// Pause sets the target pause state. The virtual clock stops at once; the
// timer goroutine notices and parks shortly after. Pending entries are kept.
func (c *CoreTiming) Pause(isPaused bool) {
	if !c.requestPause(isPaused) {
		return
	}

	signal(c.pauseWake)
	signal(c.wake)

	pos := hooking.HookPosResume
	if isPaused {
		pos = hooking.HookPosPause
	}
	c.InvokeHook(hooking.HookCtx{
		Domain: c,
		Pos:    pos,
		Item:   c.GetGlobalTimeNs(),
	})

	c.log.Debug("pause requested", zap.Bool("paused", isPaused))
}

// requestPause flips the pause flag and the clock together. It reports false
// when the flag already had the requested value.
func (c *CoreTiming) requestPause(isPaused bool) bool {
	c.pauseRequestLock.Lock()
	defer c.pauseRequestLock.Unlock()

	if c.paused.Load() == isPaused {
		return false
	}

	if isPaused {
		c.clock.Freeze()
	} else {
		c.clock.Unfreeze()

		c.basicLock.Lock()
		c.pauseEndTime = c.GetGlobalTimeNs()
		c.basicLock.Unlock()
	}

	c.paused.Store(isPaused)

	c.pauseLock.Lock()
	if !c.threadRunning {
		c.applyPausedLocked(isPaused)
	}
	c.pauseLock.Unlock()

	return true
}

// SyncPause is Pause followed by a wait until the timer goroutine has applied
// the new state. When pausing, no callback is executing once it returns.
// Called from inside a callback it does not wait.
func (c *CoreTiming) SyncPause(isPaused bool) {
	c.Pause(isPaused)

	if c.onDispatcher() {
		return
	}

	c.pauseLock.Lock()
	defer c.pauseLock.Unlock()

	for c.threadRunning && c.pausedSet != isPaused {
		c.pauseCond.Wait()
	}
}

// IsRunning tells if the session is running and not paused.
func (c *CoreTiming) IsRunning() bool {
	return c.State() == Running
}

// State returns the lifecycle state of the session.
func (c *CoreTiming) State() State {
	c.pauseLock.Lock()
	defer c.pauseLock.Unlock()

	return c.state
}

// HasStarted tells if the timer goroutine of the current session has begun.
// It stays false in single-core mode.
func (c *CoreTiming) HasStarted() bool {
	return c.hasStarted.Load()
}

func drain(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
