package sandbox

import (
	"time"

	"github.com/dop251/goja"
)

// loop is the per-invocation event loop. Everything touching the runtime runs
// on the goroutine that calls drain; other goroutines only hand it jobs.
type loop struct {
	jobs    chan func()
	stop    chan struct{}
	pending int // owned by the loop goroutine

	nextTimer int64
	timers    map[int64]*timer
}

type timer struct {
	t         *time.Timer
	cancelled bool
}

func newLoop() *loop {
	return &loop{
		jobs:   make(chan func()),
		stop:   make(chan struct{}),
		timers: make(map[int64]*timer),
	}
}

// hold reserves a slot for a job that another goroutine will post later.
// Call on the loop goroutine.
func (l *loop) hold() { l.pending++ }

// post hands job to the loop. It gives up once the loop has stopped.
func (l *loop) post(job func()) {
	select {
	case l.jobs <- job:
	case <-l.stop:
	}
}

// drain runs posted jobs until nothing is pending or the loop is stopped.
func (l *loop) drain(run func(func())) {
	for l.pending > 0 {
		select {
		case job := <-l.jobs:
			l.pending--
			run(job)
		case <-l.stop:
			return
		}
	}
}

func (l *loop) stopped() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

// setTimeout schedules fn on the loop after d. Call on the loop goroutine.
func (l *loop) setTimeout(fn func(), d time.Duration) int64 {
	l.nextTimer++
	id := l.nextTimer
	tm := &timer{}
	l.timers[id] = tm
	l.hold()
	tm.t = time.AfterFunc(d, func() {
		l.post(func() {
			delete(l.timers, id)
			if !tm.cancelled {
				fn()
			}
		})
	})
	return id
}

// clearTimeout cancels a pending timer. Call on the loop goroutine.
func (l *loop) clearTimeout(id int64) {
	tm, ok := l.timers[id]
	if !ok || tm.cancelled {
		return
	}
	tm.cancelled = true
	if tm.t.Stop() {
		// never fired, so no job will arrive to release the slot
		delete(l.timers, id)
		l.pending--
	}
}

// halt stops every timer that has not fired yet.
func (l *loop) halt() {
	for id, tm := range l.timers {
		tm.t.Stop()
		delete(l.timers, id)
	}
}

// installTimers exposes setTimeout/clearTimeout to scripts. call runs a
// continuation through the fault boundary.
func (l *loop) installTimers(vm *goja.Runtime, call func(goja.Callable, ...goja.Value)) {
	_ = vm.Set("setTimeout", func(fc goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(fc.Argument(0))
		if !ok {
			panic(vm.NewTypeError("setTimeout: callback is not a function"))
		}
		ms := fc.Argument(1).ToInteger()
		if ms < 0 {
			ms = 0
		}
		var args []goja.Value
		if len(fc.Arguments) > 2 {
			args = append(args, fc.Arguments[2:]...)
		}
		id := l.setTimeout(func() { call(fn, args...) }, time.Duration(ms)*time.Millisecond)
		return vm.ToValue(id)
	})
	_ = vm.Set("clearTimeout", func(fc goja.FunctionCall) goja.Value {
		l.clearTimeout(fc.Argument(0).ToInteger())
		return goja.Undefined()
	})
}
