package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectSkipsScrapePath(t *testing.T) {
	h := Collect(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	before := testutil.ToFloat64(totalHttpRequests.WithLabelValues("204", http.MethodGet))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/acme/greet", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	after := testutil.ToFloat64(totalHttpRequests.WithLabelValues("204", http.MethodGet))

	assert.Equal(t, before+1, after)
}

func TestObserveInvocationCountsFaults(t *testing.T) {
	before := testutil.ToFloat64(faults.WithLabelValues("TimeoutFault"))
	ObserveInvocation("acme", http.MethodGet, "TimeoutFault", 50*time.Millisecond)
	ObserveInvocation("acme", http.MethodGet, OutcomeOK, time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(faults.WithLabelValues("TimeoutFault")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(phraseInvocations.WithLabelValues("acme", http.MethodGet, OutcomeOK)), 1.0)
}

func TestSetBusStateIsExclusive(t *testing.T) {
	states := []string{"Disconnected", "Connecting", "Ready"}
	SetBusState("Ready", states...)
	assert.Equal(t, 1.0, testutil.ToFloat64(busState.WithLabelValues("Ready")))
	assert.Equal(t, 0.0, testutil.ToFloat64(busState.WithLabelValues("Connecting")))

	SetBusState("Connecting", states...)
	assert.Equal(t, 0.0, testutil.ToFloat64(busState.WithLabelValues("Ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(busState.WithLabelValues("Connecting")))
}
