package fault

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:     http.StatusUnprocessableEntity,
		KindExecution:      http.StatusInternalServerError,
		KindTimeout:        http.StatusServiceUnavailable,
		KindUnhandledAsync: http.StatusInternalServerError,
		KindConnection:     http.StatusBadGateway,
		KindNotFound:       http.StatusNotFound,
		KindUnauthorized:   http.StatusUnauthorized,
		Kind("Whatever"):   http.StatusInternalServerError,
	}
	for k, want := range cases {
		assert.Equal(t, want, StatusFor(k), k)
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("bootstrap: %w", Wrap(KindSync, "fetch failed", cause))

	assert.True(t, IsKind(err, KindSync))
	assert.False(t, IsKind(err, KindExecution))
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, &Fault{Kind: KindSync})

	f, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, "SyncFault: fetch failed: dial tcp: refused", f.Error())
}

func TestFromDefaultsToExecution(t *testing.T) {
	assert.Nil(t, From(nil))
	f := From(errors.New("boom"))
	assert.Equal(t, KindExecution, f.Kind)
	assert.Equal(t, "boom", f.Message)

	v := Validation("bad %s", "id")
	assert.Same(t, v, From(v))
}

func TestWrite(t *testing.T) {
	w := httptest.NewRecorder()
	Write(w, Timeout("handler exceeded 10s"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	b, _ := io.ReadAll(w.Result().Body)
	assert.JSONEq(t, `{"kind":"TimeoutFault","message":"handler exceeded 10s","httpStatus":503}`, string(b))

	// explicit status overrides the kind's default
	w = httptest.NewRecorder()
	f := New(KindNotFound, "method not allowed")
	f.HTTPStatus = http.StatusMethodNotAllowed
	Write(w, f)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = httptest.NewRecorder()
	WriteError(w, errors.New("plain"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
