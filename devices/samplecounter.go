package devices

import (
	"sync"
	"time"

	"github.com/sarchlab/coretiming/timing"
)

// SampleCounter produces audio samples in batches. Each firing produces one
// batch and asks to be called again when the batch would have played out.
type SampleCounter struct {
	scheduler  Scheduler
	event      *timing.EventType
	sampleRate uint64
	batch      uint64
	onBatch    func(samples uint64, now timing.VTimeInNs)

	lock      sync.Mutex
	running   bool
	produced  uint64
	startedAt timing.VTimeInNs
	lastAt    timing.VTimeInNs
}

// NewSampleCounter creates a counter producing batch samples at a time, at
// sampleRate samples per virtual second.
func NewSampleCounter(
	s Scheduler,
	name string,
	sampleRate, batch uint64,
	onBatch func(samples uint64, now timing.VTimeInNs),
) *SampleCounter {
	if sampleRate == 0 || batch == 0 {
		panic("devices: sample rate and batch size must be positive")
	}

	c := &SampleCounter{
		scheduler:  s,
		sampleRate: sampleRate,
		batch:      batch,
		onBatch:    onBatch,
	}
	c.event = s.CreateEvent(name, c.produce)

	return c
}

// BatchDuration returns the virtual time one batch lasts, at least 1 ns.
func (c *SampleCounter) BatchDuration() time.Duration {
	d := time.Duration(c.batch * uint64(time.Second) / c.sampleRate)
	if d < 1 {
		d = 1
	}

	return d
}

// Start schedules the first batch right away.
func (c *SampleCounter) Start() {
	c.lock.Lock()
	if c.running {
		c.lock.Unlock()
		return
	}

	c.running = true
	c.startedAt = c.scheduler.GetGlobalTimeNs()
	c.lock.Unlock()

	c.scheduler.ScheduleEvent(0, c.event)
}

// Stop stops producing. A batch in progress is allowed to finish.
func (c *SampleCounter) Stop() {
	c.lock.Lock()
	c.running = false
	c.lock.Unlock()

	c.scheduler.UnscheduleEvent(c.event, timing.UnscheduleNoWait)
}

// Samples returns the number of samples produced.
func (c *SampleCounter) Samples() uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.produced
}

// EffectiveRate returns the samples produced per virtual second between the
// start and the last batch.
func (c *SampleCounter) EffectiveRate() float64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	elapsed := c.lastAt - c.startedAt
	if elapsed <= 0 {
		return 0
	}

	return float64(c.produced-c.batch) / elapsed.Duration().Seconds()
}

func (c *SampleCounter) produce(
	now timing.VTimeInNs,
	_ time.Duration,
) timing.CallbackResult {
	c.lock.Lock()
	if !c.running {
		c.lock.Unlock()
		return timing.OneShot()
	}

	c.produced += c.batch
	c.lastAt = now
	c.lock.Unlock()

	if c.onBatch != nil {
		c.onBatch(c.batch, now)
	}

	return timing.RescheduleAfter(c.BatchDuration())
}
