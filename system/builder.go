package system

import (
	"github.com/sarchlab/coretiming/timing"
	"github.com/sarchlab/coretiming/wallclock"
	"go.uber.org/zap"
)

// Builder can help building Systems.
type Builder struct {
	multicore bool
	hostClock wallclock.HostClock
	logger    *zap.Logger
	cpu       CPU
}

// MakeBuilder creates a Builder for a single-core system with a BusyCPU and
// no logging.
func MakeBuilder() Builder {
	return Builder{}
}

// WithMulticore selects the timer goroutine instead of the CPU loop.
func (b Builder) WithMulticore(multicore bool) Builder {
	b.multicore = multicore
	return b
}

// WithHostClock sets the host clock of the timing session.
func (b Builder) WithHostClock(c wallclock.HostClock) Builder {
	b.hostClock = c
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(l *zap.Logger) Builder {
	b.logger = l
	return b
}

// WithCPU sets the processor driven in single-core mode.
func (b Builder) WithCPU(cpu CPU) Builder {
	b.cpu = cpu
	return b
}

// Build creates the System and its timing session.
func (b Builder) Build() *System {
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cpu := b.cpu
	if cpu == nil {
		cpu = BusyCPU{}
	}

	tb := timing.MakeBuilder().
		WithMulticore(b.multicore).
		WithLogger(logger)
	if b.hostClock != nil {
		tb = tb.WithHostClock(b.hostClock)
	}

	return &System{
		timing: tb.Build(),
		log:    logger.Named("system"),
		cpu:    cpu,
	}
}
