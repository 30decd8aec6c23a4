package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"github.com/joeydtaylor/composr/pkg/fault"
	"go.uber.org/zap"
)

const maxCallStack = 4096

// invocation is one supervised execution of a unit. The runtime, loop and
// the maps below belong to the goroutine executing run; the sink, fault and
// channels are shared with Invoke and the watchdog.
type invocation struct {
	e      *Engine
	unit   *Unit
	call   Call
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger

	vm   *goja.Runtime
	loop *loop
	sink *sink

	mu        sync.Mutex
	fault     *fault.Fault
	abortOnce sync.Once
	expired   chan struct{}
	finished  chan struct{}

	rejected map[*goja.Promise]struct{}
	snippets map[string]goja.Value
}

func newInvocation(ctx context.Context, e *Engine, unit *Unit, call Call) *invocation {
	ictx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	inv := &invocation{
		e:        e,
		unit:     unit,
		call:     call,
		ctx:      ictx,
		cancel:   cancel,
		log:      e.log.With(zap.String("phrase", call.PhraseID), zap.String("domain", call.Domain)),
		vm:       goja.New(),
		loop:     newLoop(),
		sink:     newSink(),
		expired:  make(chan struct{}),
		finished: make(chan struct{}),
		rejected: make(map[*goja.Promise]struct{}),
		snippets: make(map[string]goja.Value),
	}
	inv.vm.SetMaxCallStackSize(maxCallStack)
	return inv
}

// fail records f if no fault was recorded yet. Reports whether f was first.
func (inv *invocation) fail(f *fault.Fault) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.fault != nil {
		return false
	}
	inv.fault = f
	return true
}

func (inv *invocation) faultOf() *fault.Fault {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.fault
}

// abort terminates the invocation: running script is interrupted, driver
// calls are cancelled and pending continuations are dropped.
func (inv *invocation) abort(reason *fault.Fault) {
	inv.abortOnce.Do(func() {
		inv.vm.Interrupt(reason)
		inv.cancel()
		close(inv.loop.stop)
	})
}

// run is the supervised body. Nothing escapes it: script exceptions,
// interrupts and Go panics from host bindings all end up as the invocation's
// fault.
func (inv *invocation) run() {
	defer close(inv.finished)
	defer func() {
		if r := recover(); r != nil {
			inv.log.Error("host panic in phrase", zap.Any("panic", r), zap.Stack("stack"))
			f := fault.Execution(fmt.Sprintf("internal error: %v", r))
			inv.fail(f)
			inv.abort(f)
		}
		inv.loop.halt()
		inv.cancel()
		if f := inv.faultOf(); f != nil && inv.sink.response() != nil {
			inv.log.Warn("fault after response was sent",
				zap.String("kind", string(f.Kind)), zap.String("error", f.Message))
		}
		inv.sink.seal()
	}()

	inv.vm.SetPromiseRejectionTracker(func(p *goja.Promise, op goja.PromiseRejectionOperation) {
		if op == goja.PromiseRejectionReject {
			inv.rejected[p] = struct{}{}
		} else {
			delete(inv.rejected, p)
		}
	})
	inv.loop.installTimers(inv.vm, func(fn goja.Callable, args ...goja.Value) {
		inv.guard(fault.KindUnhandledAsync, func() error {
			_, err := fn(goja.Undefined(), args...)
			return err
		})
	})

	var main goja.Callable
	if !inv.guard(fault.KindExecution, func() (err error) {
		main, err = inv.unit.load(inv.vm)
		return err
	}) {
		return
	}
	args := inv.bindings()
	if !inv.guard(fault.KindExecution, func() error {
		_, err := main(goja.Undefined(), args...)
		return err
	}) {
		return
	}

	inv.loop.drain(func(job func()) { job() })

	if !inv.loop.stopped() && inv.sink.response() == nil {
		f := fault.Execution("phrase completed without a response")
		inv.fail(f)
	}
}

// guard runs f and converts whatever it raised into the invocation fault.
// kind classifies script exceptions: ExecutionFault for the handler's direct
// execution, UnhandledAsyncFault for continuations. Reports false when the
// invocation has been terminated.
func (inv *invocation) guard(kind fault.Kind, f func() error) bool {
	if inv.loop.stopped() {
		return false
	}
	err := f()
	if err == nil {
		err = inv.unhandledRejection()
		kind = fault.KindUnhandledAsync
	}
	if err == nil {
		return true
	}
	ft := classify(kind, err)
	inv.fail(ft)
	inv.abort(ft)
	return false
}

func (inv *invocation) unhandledRejection() error {
	for p := range inv.rejected {
		delete(inv.rejected, p)
		return fault.UnhandledAsync("unhandled promise rejection: " + jsMessage(p.Result()))
	}
	return nil
}

func classify(kind fault.Kind, err error) *fault.Fault {
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		if f, ok := ie.Value().(*fault.Fault); ok {
			return f
		}
		return fault.Timeout("invocation interrupted")
	}
	var so *goja.StackOverflowError
	if errors.As(err, &so) {
		return fault.New(kind, "maximum call stack size exceeded")
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return fault.New(kind, jsMessage(ex.Value()))
	}
	if f, ok := fault.As(err); ok {
		return f
	}
	return fault.Wrap(kind, err.Error(), err)
}

// jsMessage renders a thrown value. Error objects yield "Name: message".
func jsMessage(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "undefined error"
	}
	if o, ok := v.(*goja.Object); ok {
		if m := o.Get("message"); m != nil && !goja.IsUndefined(m) {
			if n := o.Get("name"); n != nil && !goja.IsUndefined(n) {
				return n.String() + ": " + m.String()
			}
			return m.String()
		}
	}
	return v.String()
}

// outcome decides what the client gets. A response committed before the
// deadline always wins; otherwise the recorded fault does.
func (inv *invocation) outcome() Outcome {
	if r := inv.sink.response(); r != nil {
		return Outcome{Response: r}
	}
	if f := inv.faultOf(); f != nil {
		return Outcome{Fault: f}
	}
	select {
	case <-inv.finished:
		return Outcome{Fault: fault.Execution("phrase completed without a response")}
	default:
		// cancelled by the caller before anything happened
		return Outcome{Fault: fault.Execution("request cancelled")}
	}
}
