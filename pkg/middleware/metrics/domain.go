package metrics

import "time"

// Outcome label for a phrase invocation that completed without a fault.
const OutcomeOK = "ok"

// ObserveInvocation records one phrase invocation. outcome is OutcomeOK or a
// fault kind.
func ObserveInvocation(domain, method, outcome string, d time.Duration) {
	phraseInvocations.WithLabelValues(domain, method, outcome).Inc()
	phraseDuration.WithLabelValues(domain).Observe(d.Seconds())
	if outcome != OutcomeOK {
		faults.WithLabelValues(outcome).Inc()
	}
}

// ObserveFault counts a fault raised outside an invocation (sync, connection).
func ObserveFault(kind string) { faults.WithLabelValues(kind).Inc() }

func ObserveSyncEvent(typ, action, result string) {
	syncEvents.WithLabelValues(typ, action, result).Inc()
}

func SetRegistered(phrases, snippets int) {
	registered.WithLabelValues("phrase").Set(float64(phrases))
	registered.WithLabelValues("snippet").Set(float64(snippets))
}

// SetBusState flips the state gauge so exactly one of states reads 1.
func SetBusState(current string, states ...string) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		busState.WithLabelValues(s).Set(v)
	}
}

func IncBusReconnect() { busReconnects.Inc() }
