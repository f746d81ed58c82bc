package timing

import (
	"sync"

	"github.com/sarchlab/coretiming/hooking"
	"github.com/sarchlab/coretiming/wallclock"
	"go.uber.org/zap"
)

// Builder can help building CoreTiming instances.
type Builder struct {
	hostClock wallclock.HostClock
	multicore bool
	logger    *zap.Logger
	registry  *Registry
}

// MakeBuilder creates a new Builder with default configurations: single-core
// mode, the Go runtime monotonic clock and no logging.
func MakeBuilder() Builder {
	return Builder{}
}

// WithHostClock sets the host time source read in multi-core mode.
func (b Builder) WithHostClock(c wallclock.HostClock) Builder {
	b.hostClock = c
	return b
}

// WithMulticore sets whether the CoreTiming runs its own timer goroutine.
func (b Builder) WithMulticore(multicore bool) Builder {
	b.multicore = multicore
	return b
}

// WithLogger sets the logger used for lifecycle messages.
func (b Builder) WithLogger(l *zap.Logger) Builder {
	b.logger = l
	return b
}

// WithRegistry sets the registry that CreateEvent records event types in.
func (b Builder) WithRegistry(r *Registry) Builder {
	b.registry = r
	return b
}

// Build creates the CoreTiming. It is created Stopped; call Initialize to
// start the session.
func (b Builder) Build() *CoreTiming {
	hostClock := b.hostClock
	if hostClock == nil {
		hostClock = wallclock.NewSystemClock()
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := b.registry
	if registry == nil {
		registry = NewRegistry()
	}

	c := &CoreTiming{
		HookableBase: hooking.NewHookableBase(),
		log:          logger.Named("timing"),
		registry:     registry,
		clock:        wallclock.NewVirtualClock(hostClock),
		wake:         make(chan struct{}, 1),
		pauseWake:    make(chan struct{}, 1),
	}

	c.isMulticore.Store(b.multicore)
	c.dispatchDone = sync.NewCond(&c.basicLock)
	c.pauseCond = sync.NewCond(&c.pauseLock)
	c.downcount.Store(MaxSliceLength)

	return c
}
