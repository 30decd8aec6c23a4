package fault

import (
	"net/http"

	"github.com/joeydtaylor/composr/pkg/codec"
)

// Write renders f as the JSON error body with its status.
func Write(w http.ResponseWriter, f *Fault) {
	if f == nil {
		f = Execution("unknown error")
	}
	status := f.HTTPStatus
	if status == 0 {
		status = StatusFor(f.Kind)
	}
	body, err := codec.JSON.Marshal(f)
	if err != nil {
		body = []byte(`{"kind":"ExecutionFault","message":"fault encode failed","httpStatus":500}`)
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", codec.JSON.ContentType())
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// WriteError is Write for arbitrary errors.
func WriteError(w http.ResponseWriter, err error) { Write(w, From(err)) }
