package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	responseTime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "response_time",
			Help:    "http response time.",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60},
		},
	)

	totalHttpRequestsFromDomain = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "total_http_requests_from_domain", Help: "http requests from caller domain"},
		[]string{"domain"},
	)

	totalHttpRequestsToUri = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "total_http_requests_to_uri", Help: "http requests to uri"},
		[]string{"code", "uri", "method"},
	)

	totalHttpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "total_http_requests", Help: "http requests by code, and method"},
		[]string{"code", "method"},
	)

	phraseInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "composr_phrase_invocations_total", Help: "phrase invocations by domain, method and outcome"},
		[]string{"domain", "method", "outcome"},
	)

	phraseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "composr_phrase_duration_seconds",
			Help:    "phrase invocation wall time.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"domain"},
	)

	faults = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "composr_faults_total", Help: "faults by kind"},
		[]string{"kind"},
	)

	syncEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "composr_sync_events_total", Help: "fleet sync events by type, action and result"},
		[]string{"type", "action", "result"},
	)

	registered = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "composr_registered", Help: "registered documents by kind"},
		[]string{"kind"},
	)

	busState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "composr_bus_state", Help: "1 for the connection manager's current state"},
		[]string{"state"},
	)

	busReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "composr_bus_reconnects_total", Help: "event bus connection attempts after a failure or drop"},
	)
)

func init() {
	prometheus.MustRegister(
		responseTime,
		totalHttpRequestsFromDomain,
		totalHttpRequestsToUri,
		totalHttpRequests,
		phraseInvocations,
		phraseDuration,
		faults,
		syncEvents,
		registered,
		busState,
		busReconnects,
	)
}
