package sandbox

import (
	"context"
	"net/http"
	"time"

	"github.com/joeydtaylor/composr/pkg/fault"
	"github.com/joeydtaylor/composr/pkg/middleware/metrics"
	"go.uber.org/zap"
)

// DefaultTimeout is the watchdog ceiling when none is configured.
const DefaultTimeout = 10 * time.Second

// Driver is the backend handle exposed to handlers as `driver`.
type Driver interface {
	Do(ctx context.Context, token string, req DriverRequest) (*DriverResponse, error)
}

type DriverRequest struct {
	Method string
	Path   string
	Body   any
}

type DriverResponse struct {
	Status  int
	Headers map[string]string
	Data    any
}

// SnippetSource resolves snippets for compoSR.snippet.
type SnippetSource interface {
	Snippet(domain, name string) (*Unit, bool)
}

// Call carries everything one invocation needs besides the unit.
type Call struct {
	PhraseID string
	Domain   string
	Method   string
	Token    string // caller bearer token, forwarded by the driver
	Request  Request
	Snippets SnippetSource
}

// Outcome is either a committed response or a fault, never both.
type Outcome struct {
	Response *Response
	Fault    *fault.Fault
}

func (o Outcome) Write(w http.ResponseWriter) {
	if o.Fault != nil {
		fault.Write(w, o.Fault)
		return
	}
	o.Response.Write(w)
}

// Engine runs compiled units. It holds no per-request state and is safe for
// concurrent use.
type Engine struct {
	timeout time.Duration
	driver  Driver
	log     *zap.Logger
}

type Option func(*Engine)

func WithTimeout(d time.Duration) Option { return func(e *Engine) { e.timeout = d } }
func WithDriver(d Driver) Option         { return func(e *Engine) { e.driver = d } }
func WithLogger(l *zap.Logger) Option    { return func(e *Engine) { e.log = l } }

func New(opts ...Option) *Engine {
	e := &Engine{timeout: DefaultTimeout, log: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	e.log = e.log.With(zap.String("component", "sandbox"))
	return e
}

func (e *Engine) Timeout() time.Duration { return e.timeout }

// Invoke runs unit for call under the watchdog. It returns as soon as the
// handler commits a response, fails, or times out; continuations the handler
// left behind keep running until they drain or the deadline passes.
func (e *Engine) Invoke(ctx context.Context, unit *Unit, call Call) Outcome {
	start := time.Now()
	inv := newInvocation(ctx, e, unit, call)
	wd := arm(e.timeout, inv.expire)

	go func() {
		defer wd.disarm()
		inv.run()
	}()

	select {
	case <-inv.sink.committed:
	case <-inv.finished:
	case <-inv.expired:
	case <-ctx.Done():
		f := fault.Wrap(fault.KindExecution, "request cancelled", ctx.Err())
		inv.fail(f)
		inv.abort(f)
	}

	out := inv.outcome()
	kind := metrics.OutcomeOK
	if out.Fault != nil {
		kind = string(out.Fault.Kind)
		e.log.Warn("phrase fault",
			zap.String("phrase", call.PhraseID),
			zap.String("domain", call.Domain),
			zap.String("method", call.Method),
			zap.String("kind", kind),
			zap.String("error", out.Fault.Message),
		)
	}
	metrics.ObserveInvocation(call.Domain, call.Method, kind, time.Since(start))
	return out
}
