package devices

import (
	"fmt"
	"sync"
	"time"

	"github.com/sarchlab/coretiming/timing"
)

// PollFunc samples one input device.
type PollFunc func(now timing.VTimeInNs)

type poller struct {
	name   string
	period time.Duration
	poll   PollFunc
	event  *timing.EventType
	polls  uint64
}

// InputPollers samples several input devices, each at its own period.
type InputPollers struct {
	scheduler Scheduler

	lock    sync.Mutex
	pollers []*poller
	byName  map[string]*poller
	running bool
}

// NewInputPollers creates an empty poller set.
func NewInputPollers(s Scheduler) *InputPollers {
	return &InputPollers{
		scheduler: s,
		byName:    make(map[string]*poller),
	}
}

// Add registers a device. Devices added while the set is running start
// polling right away.
func (p *InputPollers) Add(name string, period time.Duration, poll PollFunc) {
	if period <= 0 {
		panic(fmt.Sprintf("devices: poll period of %s must be positive", name))
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	if _, exists := p.byName[name]; exists {
		panic(fmt.Sprintf("devices: input %s is already registered", name))
	}

	d := &poller{name: name, period: period, poll: poll}
	d.event = p.scheduler.CreateEvent("input."+name, func(
		now timing.VTimeInNs,
		_ time.Duration,
	) timing.CallbackResult {
		p.lock.Lock()
		d.polls++
		p.lock.Unlock()

		if d.poll != nil {
			d.poll(now)
		}

		return timing.OneShot()
	})

	p.pollers = append(p.pollers, d)
	p.byName[name] = d

	if p.running {
		p.scheduler.ScheduleLoopingEvent(0, period, d.event)
	}
}

// Start begins polling every registered device.
func (p *InputPollers) Start() {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.running {
		return
	}

	p.running = true
	for _, d := range p.pollers {
		p.scheduler.ScheduleLoopingEvent(0, d.period, d.event)
	}
}

// Stop ends polling. It returns once no poll function is running.
func (p *InputPollers) Stop() {
	p.lock.Lock()
	if !p.running {
		p.lock.Unlock()
		return
	}

	p.running = false
	pollers := make([]*poller, len(p.pollers))
	copy(pollers, p.pollers)
	p.lock.Unlock()

	for _, d := range pollers {
		p.scheduler.UnscheduleEvent(d.event, timing.UnscheduleWait)
	}
}

// Polls returns how many times a device was sampled.
func (p *InputPollers) Polls(name string) uint64 {
	p.lock.Lock()
	defer p.lock.Unlock()

	d, ok := p.byName[name]
	if !ok {
		return 0
	}

	return d.polls
}

// Names lists the registered devices in registration order.
func (p *InputPollers) Names() []string {
	p.lock.Lock()
	defer p.lock.Unlock()

	names := make([]string, 0, len(p.pollers))
	for _, d := range p.pollers {
		names = append(names, d.name)
	}

	return names
}
