package timing

import (
	"math/rand"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/coretiming/hooking"
	"github.com/sarchlab/coretiming/wallclock"
)

type firingRecord struct {
	name string
	time VTimeInNs
	late time.Duration
}

type callRecorder struct {
	mu    sync.Mutex
	calls []firingRecord
}

func (r *callRecorder) callback(name string) Callback {
	return func(now VTimeInNs, late time.Duration) CallbackResult {
		r.mu.Lock()
		r.calls = append(r.calls, firingRecord{name: name, time: now, late: late})
		r.mu.Unlock()

		return OneShot()
	}
}

func (r *callRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		names = append(names, c.name)
	}

	return names
}

func (r *callRecorder) snapshot() []firingRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	dup := make([]firingRecord, len(r.calls))
	copy(dup, r.calls)

	return dup
}

func (r *callRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.calls)
}

func newManualCoreTiming() (*CoreTiming, *wallclock.ManualClock) {
	host := wallclock.NewManualClock()
	ct := MakeBuilder().
		WithMulticore(true).
		WithHostClock(host).
		Build()

	return ct, host
}

var _ = Describe("CoreTiming", func() {
	var (
		ct       *CoreTiming
		host     *wallclock.ManualClock
		recorder *callRecorder
	)

	BeforeEach(func() {
		ct, host = newManualCoreTiming()
		recorder = &callRecorder{}
	})

	Context("when advancing", func() {
		It("should fire events in time order regardless of scheduling order", func() {
			r := rand.New(rand.NewSource(7))
			times := r.Perm(50)

			for _, t := range times {
				et := CreateEvent("e", recorder.callback("e"))
				ct.ScheduleEventAt(VTimeInNs(t*10+10), et)
			}

			host.Set(1000)
			_, ok := ct.Advance()
			Expect(ok).To(BeFalse())

			calls := recorder.snapshot()
			Expect(calls).To(HaveLen(50))
			for i := 1; i < len(calls); i++ {
				Expect(calls[i].time).To(BeNumerically(">", calls[i-1].time))
			}
		})

		It("should fire events due at the same time in scheduling order", func() {
			for _, name := range []string{"C", "A", "B", "E", "D"} {
				ct.ScheduleEvent(100, CreateEvent(name, recorder.callback(name)))
			}

			host.Set(100)
			ct.Advance()

			Expect(recorder.names()).To(Equal([]string{"C", "A", "B", "E", "D"}))
		})

		It("should fire each of five staggered events exactly once", func() {
			for i, name := range []string{"C", "A", "B", "E", "D"} {
				et := CreateEvent(name, recorder.callback(name))
				ct.ScheduleEvent(time.Duration(i*1000+100), et)
			}

			host.Set(2500)
			ct.Advance()
			Expect(recorder.names()).To(Equal([]string{"C", "A", "B"}))

			host.Set(5000)
			ct.Advance()
			Expect(recorder.names()).To(Equal([]string{"C", "A", "B", "E", "D"}))

			ct.Advance()
			Expect(recorder.count()).To(Equal(5))
		})

		It("should not fire before the target and report lateness after", func() {
			x := CreateEvent("X", recorder.callback("X"))
			ct.ScheduleEvent(5000, x)

			host.Set(4999)
			next, ok := ct.Advance()
			Expect(ok).To(BeTrue())
			Expect(next).To(Equal(VTimeInNs(5000)))
			Expect(recorder.count()).To(Equal(0))

			host.Set(5300)
			_, ok = ct.Advance()
			Expect(ok).To(BeFalse())

			calls := recorder.snapshot()
			Expect(calls).To(HaveLen(1))
			Expect(calls[0].time).To(Equal(VTimeInNs(5000)))
			Expect(calls[0].late).To(Equal(300 * time.Nanosecond))

			ct.Advance()
			Expect(recorder.count()).To(Equal(1))
		})

		It("should let callbacks schedule new events", func() {
			second := CreateEvent("second", recorder.callback("second"))
			first := CreateEvent("first", func(now VTimeInNs, late time.Duration) CallbackResult {
				recorder.callback("first")(now, late)
				ct.ScheduleEventAt(now.Add(50), second)
				return OneShot()
			})

			ct.ScheduleEventAt(100, first)
			host.Set(200)
			ct.Advance()

			Expect(recorder.names()).To(Equal([]string{"first", "second"}))
		})

		It("should reschedule when the callback asks for it", func() {
			fired := 0
			et := CreateEvent("again", func(VTimeInNs, time.Duration) CallbackResult {
				fired++
				if fired == 1 {
					return RescheduleAfter(500)
				}
				return OneShot()
			})

			ct.ScheduleEventAt(100, et)
			host.Set(100)
			next, ok := ct.Advance()

			Expect(fired).To(Equal(1))
			Expect(ok).To(BeTrue())
			Expect(next).To(Equal(VTimeInNs(600)))

			host.Set(600)
			_, ok = ct.Advance()
			Expect(fired).To(Equal(2))
			Expect(ok).To(BeFalse())
		})
	})

	Context("with looping events", func() {
		It("should correct drift by re-arming from the previous target", func() {
			loop := CreateEvent("loop", recorder.callback("loop"))
			ct.ScheduleLoopingEvent(1000, 1000, loop)

			host.Set(1300)
			next, ok := ct.Advance()
			Expect(ok).To(BeTrue())
			Expect(next).To(Equal(VTimeInNs(2000)))
			Expect(recorder.snapshot()[0].late).To(Equal(300 * time.Nanosecond))

			host.Set(2000)
			next, _ = ct.Advance()
			Expect(next).To(Equal(VTimeInNs(3000)))
			Expect(recorder.snapshot()[1].late).To(Equal(time.Duration(0)))
		})

		It("should never re-arm into the past", func() {
			loop := CreateEvent("loop", recorder.callback("loop"))
			ct.ScheduleLoopingEvent(1000, 1000, loop)

			host.Set(3500)
			next, _ := ct.Advance()

			calls := recorder.snapshot()
			Expect(calls).To(HaveLen(2))
			Expect(calls[0].time).To(Equal(VTimeInNs(1000)))
			Expect(calls[1].time).To(Equal(VTimeInNs(3500)))
			Expect(next).To(Equal(VTimeInNs(4500)))
		})

		It("should take a new period from the callback", func() {
			loop := CreateEvent("loop", func(VTimeInNs, time.Duration) CallbackResult {
				return RescheduleAfter(250)
			})
			ct.ScheduleLoopingEvent(1000, 1000, loop)

			host.Set(1000)
			next, _ := ct.Advance()
			Expect(next).To(Equal(VTimeInNs(1250)))

			pending := ct.PendingEvents()
			Expect(pending).To(HaveLen(1))
			Expect(pending[0].Period).To(Equal(250 * time.Nanosecond))
			Expect(pending[0].Looping).To(BeTrue())
		})

		It("should restart from the end of a pause it was scheduled into", func() {
			loop := CreateEvent("loop", recorder.callback("loop"))
			ct.ScheduleLoopingEvent(1000, 1000, loop)

			host.Set(1200)
			ct.Pause(true)
			host.Set(5000)
			ct.Pause(false)

			ct.Advance()
			next, _ := ct.Advance()

			Expect(recorder.count()).To(Equal(1))
			Expect(next).To(Equal(VTimeInNs(2200)))
		})

		It("should reject a non-positive period", func() {
			Expect(func() {
				ct.ScheduleLoopingEvent(0, 0, CreateEvent("bad", nil))
			}).To(Panic())
		})
	})

	Context("when unscheduling", func() {
		It("should remove every pending entry of the event type", func() {
			a := CreateEvent("a", recorder.callback("a"))
			b := CreateEvent("b", recorder.callback("b"))

			ct.ScheduleEvent(100, a)
			ct.ScheduleEvent(200, b)
			ct.ScheduleEvent(300, a)
			ct.ScheduleLoopingEvent(400, 100, a)

			ct.UnscheduleEvent(a, UnscheduleWait)

			pending := ct.PendingEvents()
			Expect(pending).To(HaveLen(1))
			Expect(pending[0].Name).To(Equal("b"))

			host.Set(1000)
			ct.Advance()
			Expect(recorder.names()).To(Equal([]string{"b"}))
		})

		It("should leave others untouched when nothing is pending", func() {
			idle := CreateEvent("idle", nil)
			b := CreateEvent("b", recorder.callback("b"))
			ct.ScheduleEvent(200, b)

			done := make(chan struct{})
			go func() {
				ct.UnscheduleEvent(idle, UnscheduleWait)
				close(done)
			}()

			Eventually(done).Should(BeClosed())
			Expect(ct.PendingEvents()).To(HaveLen(1))
		})

		It("should not deadlock when a callback unschedules itself", func() {
			var self *EventType
			fired := 0
			self = CreateEvent("self", func(VTimeInNs, time.Duration) CallbackResult {
				fired++
				if fired == 2 {
					ct.UnscheduleEvent(self, UnscheduleWait)
				}
				return OneShot()
			})

			ct.ScheduleLoopingEvent(100, 100, self)
			host.Set(1000)
			ct.Advance()

			Expect(fired).To(Equal(2))
			Expect(ct.PendingEvents()).To(BeEmpty())
		})

		It("should wait for an in-flight callback", func() {
			entered := make(chan struct{})
			release := make(chan struct{})
			blocking := CreateEvent("blocking", func(VTimeInNs, time.Duration) CallbackResult {
				close(entered)
				<-release
				return OneShot()
			})

			ct.ScheduleLoopingEvent(100, 100, blocking)
			host.Set(100)

			go ct.Advance()
			Eventually(entered).Should(BeClosed())

			done := make(chan struct{})
			go func() {
				ct.UnscheduleEvent(blocking, UnscheduleWait)
				close(done)
			}()

			Consistently(done, 50*time.Millisecond).ShouldNot(BeClosed())
			close(release)
			Eventually(done).Should(BeClosed())

			Expect(ct.PendingEvents()).To(BeEmpty())
		})

		It("should not wait with NoWait", func() {
			entered := make(chan struct{})
			release := make(chan struct{})
			blocking := CreateEvent("blocking", func(VTimeInNs, time.Duration) CallbackResult {
				close(entered)
				<-release
				return OneShot()
			})

			ct.ScheduleLoopingEvent(100, 100, blocking)
			host.Set(100)

			advanced := make(chan struct{})
			go func() {
				ct.Advance()
				close(advanced)
			}()
			Eventually(entered).Should(BeClosed())

			ct.UnscheduleEvent(blocking, UnscheduleNoWait)
			close(release)

			Eventually(advanced).Should(BeClosed())
			Expect(ct.PendingEvents()).To(BeEmpty())
		})

		It("should panic on a nil event type", func() {
			Expect(func() { ct.UnscheduleEvent(nil, UnscheduleWait) }).To(Panic())
			Expect(func() { ct.ScheduleEvent(1, nil) }).To(Panic())
		})
	})

	Context("when paused", func() {
		It("should freeze time and fire nothing", func() {
			et := CreateEvent("e", recorder.callback("e"))
			ct.ScheduleEvent(500, et)

			host.Set(400)
			ct.Pause(true)
			ct.SyncPause(true)

			host.Set(10000)
			frozen := ct.GetGlobalTimeNs()
			Expect(frozen).To(Equal(VTimeInNs(400)))
			Expect(ct.GetGlobalTimeNs()).To(Equal(frozen))

			ct.Advance()
			Expect(recorder.count()).To(Equal(0))
			Expect(ct.PendingEvents()).To(HaveLen(1))

			ct.Pause(false)
			Expect(ct.GetGlobalTimeNs()).To(Equal(frozen))

			host.Set(10100)
			ct.Advance()
			Expect(recorder.count()).To(Equal(1))
		})

		It("should keep the clock in step with concurrent pause requests", func() {
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					for j := 0; j < 200; j++ {
						ct.Pause((i+j)%2 == 0)
					}
				}(i)
			}
			wg.Wait()

			Expect(ct.clock.IsFrozen()).To(Equal(ct.paused.Load()))

			ct.Pause(false)
			Expect(ct.clock.IsFrozen()).To(BeFalse())

			before := ct.GetGlobalTimeNs()
			host.Set(host.Nanoseconds() + 1000)
			Expect(ct.GetGlobalTimeNs()).To(Equal(before + 1000))
		})
	})

	Context("when a callback panics", func() {
		It("should release the scheduler", func() {
			bad := CreateEvent("bad", func(VTimeInNs, time.Duration) CallbackResult {
				panic("device fault")
			})
			ct.ScheduleLoopingEvent(100, 100, bad)

			host.Set(100)
			Expect(func() { ct.Advance() }).To(Panic())

			Expect(ct.onDispatcher()).To(BeFalse())
			Expect(ct.PendingEvents()).To(BeEmpty())

			done := make(chan struct{})
			go func() {
				ct.UnscheduleEvent(bad, UnscheduleWait)
				close(done)
			}()
			Eventually(done).Should(BeClosed())

			ct.ScheduleEvent(100, CreateEvent("next", recorder.callback("next")))
			host.Set(200)
			ct.Advance()
			Expect(recorder.names()).To(Equal([]string{"next"}))
		})
	})

	Context("with hooks", func() {
		It("should report every firing", func() {
			counter := hooking.NewEventCountTracer(nil)
			lateness := hooking.NewLatenessTracer(nil)
			ct.AcceptHook(counter)
			ct.AcceptHook(lateness)

			ct.ScheduleEvent(100, CreateEvent("a", nil))
			ct.ScheduleLoopingEvent(100, 100, CreateEvent("b", nil))

			host.Set(200)
			ct.Advance()
			host.Set(300)
			ct.Advance()

			Expect(counter.Names()).To(Equal([]string{"a", "b"}))
			Expect(counter.CountOf("a")).To(Equal(uint64(1)))
			Expect(counter.CountOf("b")).To(Equal(uint64(3)))
			Expect(lateness.WorstLateness()).To(Equal(100 * time.Nanosecond))
		})

		It("should report a late loop once per advance", func() {
			counter := hooking.NewEventCountTracer(nil)
			lateness := hooking.NewLatenessTracer(nil)
			ct.AcceptHook(counter)
			ct.AcceptHook(lateness)

			ct.ScheduleLoopingEvent(100, 100, CreateEvent("b", nil))

			host.Set(300)
			ct.Advance()

			Expect(counter.CountOf("b")).To(Equal(uint64(2)))
			Expect(lateness.WorstLateness()).To(Equal(200 * time.Nanosecond))

			pending := ct.PendingEvents()
			Expect(pending).To(HaveLen(1))
			Expect(pending[0].Time).To(Equal(VTimeInNs(400)))
		})
	})

	It("should drop everything on ClearPendingEvents", func() {
		ct.ScheduleEvent(100, CreateEvent("a", recorder.callback("a")))
		ct.ScheduleLoopingEvent(100, 100, CreateEvent("b", recorder.callback("b")))

		ct.ClearPendingEvents()

		host.Set(1000)
		_, ok := ct.Advance()
		Expect(ok).To(BeFalse())
		Expect(recorder.count()).To(Equal(0))
	})

	It("should record created events in its registry", func() {
		et := ct.CreateEvent("vsync", nil)

		got, ok := ct.Registry().Lookup("vsync")
		Expect(ok).To(BeTrue())
		Expect(got).To(BeIdenticalTo(et))
	})

	It("should convert the clock to hardware counters", func() {
		host.Set(int64(time.Second))

		Expect(ct.GetGlobalTimeUs()).To(Equal(int64(1_000_000)))
		Expect(ct.GetClockTicks()).To(Equal(uint64(19_200_000)))
		Expect(ct.GetGPUTicks()).To(Equal(uint64(614_400_000)))
	})
})

var _ = Describe("CoreTiming lifecycle", func() {
	It("should walk the single-core state machine", func() {
		ct := NewCoreTiming()
		Expect(ct.State()).To(Equal(Stopped))

		ct.Initialize(nil)
		Expect(ct.State()).To(Equal(Running))
		Expect(ct.IsRunning()).To(BeTrue())
		Expect(ct.HasStarted()).To(BeFalse())

		ct.SyncPause(true)
		Expect(ct.State()).To(Equal(Paused))
		Expect(ct.IsRunning()).To(BeFalse())

		ct.SyncPause(false)
		Expect(ct.State()).To(Equal(Running))

		ct.Shutdown()
		Expect(ct.State()).To(Equal(Terminated))
		Expect(ct.State().String()).To(Equal("Terminated"))
	})

	It("should refuse SetMulticore after Initialize", func() {
		ct := NewCoreTiming()
		ct.SetMulticore(true)
		Expect(ct.IsMulticore()).To(BeTrue())

		ct.SetMulticore(false)
		ct.Initialize(nil)
		defer ct.Shutdown()

		Expect(func() { ct.SetMulticore(true) }).To(Panic())
	})

	Context("in multi-core mode", func() {
		var (
			ct       *CoreTiming
			recorder *callRecorder
		)

		BeforeEach(func() {
			ct = MakeBuilder().WithMulticore(true).Build()
			recorder = &callRecorder{}
		})

		AfterEach(func() {
			ct.Shutdown()
		})

		It("should start the timer goroutine and run the init hook on it", func() {
			hookRan := make(chan struct{})
			ct.Initialize(func() { close(hookRan) })

			Eventually(hookRan).Should(BeClosed())
			Eventually(ct.HasStarted).Should(BeTrue())
			Eventually(ct.HasPendingEvents).Should(BeFalse())

			ct.Shutdown()
			Expect(ct.State()).To(Equal(Terminated))
			Expect(ct.HasStarted()).To(BeFalse())
		})

		It("should fire events from the timer goroutine", func() {
			ct.Initialize(nil)

			ct.ScheduleEvent(time.Millisecond, CreateEvent("a", recorder.callback("a")))
			Expect(ct.HasPendingEvents()).To(BeTrue())

			Eventually(recorder.count).Should(Equal(1))
		})

		It("should keep looping until unscheduled", func() {
			ct.Initialize(nil)

			loop := CreateEvent("loop", recorder.callback("loop"))
			ct.ScheduleLoopingEvent(time.Millisecond, time.Millisecond, loop)

			Eventually(recorder.count).Should(BeNumerically(">=", 3))

			ct.UnscheduleEvent(loop, UnscheduleWait)
			n := recorder.count()
			Consistently(recorder.count, 20*time.Millisecond).Should(Equal(n))
		})

		It("should let a callback unschedule itself on the timer goroutine", func() {
			ct.Initialize(nil)

			var self *EventType
			fired := make(chan struct{}, 10)
			self = CreateEvent("self", func(VTimeInNs, time.Duration) CallbackResult {
				fired <- struct{}{}
				if len(fired) == 3 {
					ct.UnscheduleEvent(self, UnscheduleWait)
				}
				return OneShot()
			})

			ct.ScheduleLoopingEvent(time.Millisecond, time.Millisecond, self)

			Eventually(func() int { return len(fired) }).Should(Equal(3))
			Consistently(func() int { return len(fired) }, 20*time.Millisecond).Should(Equal(3))
		})

		It("should hold events back while paused", func() {
			ct.Initialize(nil)

			ct.ScheduleEvent(5*time.Millisecond, CreateEvent("a", recorder.callback("a")))
			ct.SyncPause(true)
			Expect(ct.State()).To(Equal(Paused))

			frozen := ct.GetGlobalTimeNs()
			Consistently(recorder.count, 30*time.Millisecond).Should(Equal(0))
			Expect(ct.GetGlobalTimeNs()).To(Equal(frozen))

			ct.SyncPause(false)
			Expect(ct.State()).To(Equal(Running))
			Eventually(recorder.count).Should(Equal(1))
		})

		It("should never report time going backwards", func() {
			ct.Initialize(nil)

			var wg sync.WaitGroup
			failures := make(chan VTimeInNs, 8)

			for i := 0; i < 4; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()

					prev := ct.GetGlobalTimeNs()
					for j := 0; j < 2000; j++ {
						now := ct.GetGlobalTimeNs()
						if now < prev {
							failures <- now
							return
						}
						prev = now
					}
				}()
			}

			for i := 0; i < 20; i++ {
				ct.Pause(i%2 == 0)
			}
			ct.Pause(false)

			wg.Wait()
			Expect(failures).To(BeEmpty())
		})

		It("should restart cleanly on a second Initialize", func() {
			ct.Initialize(nil)
			ct.ScheduleEvent(time.Hour, CreateEvent("far", nil))

			ct.Initialize(nil)
			Expect(ct.PendingEvents()).To(BeEmpty())
			Expect(ct.State()).To(Equal(Running))
			Eventually(ct.HasStarted).Should(BeTrue())
		})
	})
})
