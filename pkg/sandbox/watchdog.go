package sandbox

import (
	"fmt"
	"time"

	"github.com/joeydtaylor/composr/pkg/fault"
)

// watchdog is a one-shot deadline for a single invocation.
type watchdog struct{ t *time.Timer }

func arm(d time.Duration, onExpire func()) *watchdog {
	return &watchdog{t: time.AfterFunc(d, onExpire)}
}

// disarm reports whether the deadline was cancelled before it fired.
func (w *watchdog) disarm() bool { return w.t.Stop() }

// expire runs on the timer goroutine. It seals the response so nothing can be
// sent after the 503 decision, then interrupts the runtime. Interrupt is
// preemptive: it stops tight loops that never yield.
func (inv *invocation) expire() {
	f := fault.Timeout(fmt.Sprintf("phrase %s exceeded %s", inv.call.PhraseID, inv.e.timeout))
	inv.fail(f)
	inv.sink.seal()
	inv.abort(f)
	close(inv.expired)
}
