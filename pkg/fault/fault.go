// pkg/fault/fault.go
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure. Every error surfaced by the core reduces to one.
type Kind string

const (
	KindValidation     Kind = "ValidationError"
	KindExecution      Kind = "ExecutionFault"
	KindTimeout        Kind = "TimeoutFault"
	KindUnhandledAsync Kind = "UnhandledAsyncFault"
	KindSync           Kind = "SyncFault"
	KindConnection     Kind = "ConnectionFault"
	KindNotFound       Kind = "NotFound"
	KindUnauthorized   Kind = "Unauthorized"
)

// Fault is the structured representation written to clients and logs.
type Fault struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"httpStatus"`

	cause error
}

func (f *Fault) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error { return f.cause }

// Is matches any *Fault of the same kind, so errors.Is(err, &Fault{Kind: k}) works.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	return ok && t.Kind == f.Kind
}

// StatusFor maps a kind to the HTTP status used when it reaches a client.
func StatusFor(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindTimeout:
		return http.StatusServiceUnavailable
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindExecution, KindUnhandledAsync:
		return http.StatusInternalServerError
	case KindConnection:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func New(k Kind, msg string) *Fault {
	return &Fault{Kind: k, Message: msg, HTTPStatus: StatusFor(k)}
}

func Newf(k Kind, format string, args ...any) *Fault {
	return New(k, fmt.Sprintf(format, args...))
}

// Wrap attaches cause to a new fault of kind k.
func Wrap(k Kind, msg string, cause error) *Fault {
	f := New(k, msg)
	f.cause = cause
	return f
}

func Validation(format string, args ...any) *Fault { return Newf(KindValidation, format, args...) }
func Execution(msg string) *Fault                 { return New(KindExecution, msg) }
func Timeout(msg string) *Fault                   { return New(KindTimeout, msg) }
func UnhandledAsync(msg string) *Fault            { return New(KindUnhandledAsync, msg) }

// As extracts the *Fault from err's chain.
func As(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsKind reports whether err carries a fault of kind k.
func IsKind(err error, k Kind) bool {
	f, ok := As(err)
	return ok && f.Kind == k
}

// From converts any error into a fault, defaulting to ExecutionFault.
func From(err error) *Fault {
	if err == nil {
		return nil
	}
	if f, ok := As(err); ok {
		return f
	}
	return Wrap(KindExecution, err.Error(), err)
}
