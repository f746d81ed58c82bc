// Package system assembles an emulated console around one timing session: it
// attaches devices, drives the CPU loop in single-core mode and runs the
// session for a span of virtual time.
package system

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sarchlab/coretiming/timing"
	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned by Run when the system is running already.
var ErrAlreadyRunning = errors.New("system: already running")

// pausePoll is how often a paused CPU loop checks for resumption.
const pausePoll = time.Millisecond

// Device is a peripheral that schedules its own work on the timing session.
type Device interface {
	Start()
	Stop()
}

type attachedDevice struct {
	name   string
	device Device
}

// System is an emulated console built around one CoreTiming.
type System struct {
	timing *timing.CoreTiming
	log    *zap.Logger
	cpu    CPU

	deadlineEvent *timing.EventType
	running       atomic.Bool

	lock     sync.Mutex
	devices  []attachedDevice
	deadline chan struct{}
}

// Timing returns the timing session of the system.
func (s *System) Timing() *timing.CoreTiming {
	return s.timing
}

// Attach adds a device. Devices are started in attach order when Run begins
// and stopped in reverse order when it ends.
func (s *System) Attach(name string, d Device) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.devices = append(s.devices, attachedDevice{name: name, device: d})
	s.log.Debug("device attached", zap.String("device", name))
}

// Run runs the session until duration of virtual time has passed or ctx is
// cancelled. A zero duration runs until ctx is cancelled. It returns
// ctx.Err() when cancelled and nil when the duration elapsed.
func (s *System) Run(ctx context.Context, duration time.Duration) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	deadline := s.arm()

	s.timing.Initialize(func() {
		s.log.Debug("timer goroutine running")
	})

	if duration > 0 {
		s.timing.ScheduleEvent(duration, s.deadlineEventType())
	}

	devices := s.attached()
	for _, d := range devices {
		d.device.Start()
	}

	s.log.Info("system running",
		zap.Bool("multicore", s.timing.IsMulticore()),
		zap.Duration("duration", duration),
		zap.Int("devices", len(devices)))

	var err error
	if s.timing.IsMulticore() {
		err = s.wait(ctx, deadline)
	} else {
		err = s.runCPU(ctx, deadline)
	}

	for i := len(devices) - 1; i >= 0; i-- {
		devices[i].device.Stop()
	}

	s.timing.Shutdown()
	s.timing.ClearPendingEvents()

	s.log.Info("system stopped",
		zap.Int64("virtual_ns", int64(s.timing.GetGlobalTimeNs())),
		zap.Error(err))

	return err
}

// Pause pauses the timeline and returns once no callback is running.
func (s *System) Pause() {
	s.timing.SyncPause(true)
}

// Resume resumes the timeline.
func (s *System) Resume() {
	s.timing.SyncPause(false)
}

// IsRunning tells if Run is in progress.
func (s *System) IsRunning() bool {
	return s.running.Load()
}

func (s *System) attached() []attachedDevice {
	s.lock.Lock()
	defer s.lock.Unlock()

	devices := make([]attachedDevice, len(s.devices))
	copy(devices, s.devices)

	return devices
}

func (s *System) arm() chan struct{} {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.deadline = make(chan struct{})

	return s.deadline
}

func (s *System) deadlineEventType() *timing.EventType {
	if s.deadlineEvent == nil {
		s.deadlineEvent = s.timing.CreateEvent("system.deadline", s.onDeadline)
	}

	return s.deadlineEvent
}

func (s *System) onDeadline(timing.VTimeInNs, time.Duration) timing.CallbackResult {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.deadline != nil {
		close(s.deadline)
		s.deadline = nil
	}

	return timing.OneShot()
}

func (s *System) wait(ctx context.Context, deadline <-chan struct{}) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deadline:
		return nil
	}
}

func (s *System) runCPU(ctx context.Context, deadline <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return nil
		default:
		}

		if s.timing.State() == timing.Paused {
			time.Sleep(pausePoll)
			continue
		}

		s.timing.ResetTicks()

		used, idle := s.cpu.Run(s.timing.GetDowncount())
		switch {
		case idle:
			s.timing.Idle()
		case used > 0:
			s.timing.AddTicks(uint64(used))
		}

		s.timing.Advance()
	}
}
