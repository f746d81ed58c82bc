// Package wallclock provides the host time source and the virtual clock that
// the timing package reads, together with the tick conversions of the
// emulated hardware counters.
package wallclock

import (
	"log"
	"math"
	"math/bits"
	"time"
)

// Freq defines the type of frequency, in Hz.
type Freq uint64

// Defines the unit of frequency
const (
	Hz  Freq = 1
	KHz Freq = 1e3
	MHz Freq = 1e6
	GHz Freq = 1e9
)

// Clock rates of the emulated hardware.
const (
	// BaseClockRate is the rate of the emulated CPU cores.
	BaseClockRate Freq = 1020 * MHz

	// CNTFreq is the rate of the system counter exposed as CNTPCT.
	CNTFreq Freq = 19200 * KHz

	// GPUTickFreq is the rate of the GPU timestamp counter.
	GPUTickFreq Freq = 6144 * 100 * KHz
)

const nsPerSec = uint64(time.Second)

// Period returns the time between two consecutive ticks, truncated to whole
// nanoseconds.
func (f Freq) Period() time.Duration {
	if f == 0 {
		log.Panic("frequency cannot be 0")
	}

	return time.Duration(nsPerSec / uint64(f))
}

// TicksToNs converts a number of ticks at this frequency to nanoseconds.
func (f Freq) TicksToNs(ticks uint64) int64 {
	return toInt64(scale(ticks, nsPerSec, uint64(f)))
}

// TicksToUs converts a number of ticks at this frequency to microseconds.
func (f Freq) TicksToUs(ticks uint64) int64 {
	return toInt64(scale(ticks, nsPerSec/1000, uint64(f)))
}

// NsToTicks returns the number of whole ticks that fit in ns nanoseconds.
// Negative inputs count as zero.
func (f Freq) NsToTicks(ns int64) uint64 {
	if ns <= 0 {
		return 0
	}

	return scale(uint64(ns), uint64(f), nsPerSec)
}

// NsToTicksCeil returns the smallest number of ticks that covers ns
// nanoseconds.
func (f Freq) NsToTicksCeil(ns int64) uint64 {
	if ns <= 0 {
		return 0
	}

	ticks := f.NsToTicks(ns)
	if f.TicksToNs(ticks) < ns {
		ticks++
	}

	return ticks
}

// ConvertTicks converts ticks between two counters running at different
// frequencies.
func ConvertTicks(ticks uint64, from, to Freq) uint64 {
	return scale(ticks, uint64(to), uint64(from))
}

// CPUTickToNs converts CPU cycles to nanoseconds.
func CPUTickToNs(ticks uint64) int64 {
	return BaseClockRate.TicksToNs(ticks)
}

// CPUTickToUs converts CPU cycles to microseconds.
func CPUTickToUs(ticks uint64) int64 {
	return BaseClockRate.TicksToUs(ticks)
}

// CPUTickToCNTPCT converts CPU cycles to system counter ticks.
func CPUTickToCNTPCT(ticks uint64) uint64 {
	return ConvertTicks(ticks, BaseClockRate, CNTFreq)
}

// CPUTickToGPUTick converts CPU cycles to GPU timestamp ticks.
func CPUTickToGPUTick(ticks uint64) uint64 {
	return ConvertTicks(ticks, BaseClockRate, GPUTickFreq)
}

// NsToCPUTick converts nanoseconds to whole CPU cycles.
func NsToCPUTick(ns int64) uint64 {
	return BaseClockRate.NsToTicks(ns)
}

// scale computes v * num / den with a 128-bit intermediate product. The
// result saturates instead of wrapping when it does not fit in 64 bits.
func scale(v, num, den uint64) uint64 {
	if den == 0 {
		log.Panic("frequency cannot be 0")
	}

	hi, lo := bits.Mul64(v, num)
	if hi >= den {
		return ^uint64(0)
	}

	q, _ := bits.Div64(hi, lo, den)

	return q
}

func toInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(v)
}
