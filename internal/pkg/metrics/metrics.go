// Package metrics exposes Prometheus instrumentation for the token lifecycle
// and the access gate.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TokensIssued counts tokens written to the store after a successful grant.
	TokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rn_tokens_issued_total",
		Help: "Capability tokens issued.",
	})

	// TokensRevoked counts revocations observed back from the authorization service.
	TokensRevoked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rn_tokens_revoked_total",
		Help: "Capability tokens observed transitioning to Revoked.",
	})

	// GateTransitions counts access gate state transitions by target state.
	GateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rn_gate_transitions_total",
		Help: "Access gate state transitions.",
	}, []string{"to", "reason"})

	// BoundSessions tracks principals currently bound to a resource stream.
	BoundSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rn_gate_bound_sessions",
		Help: "Principal sessions currently in the Bound state.",
	})

	// TelemetryReadings counts ingested sensor readings by resource.
	TelemetryReadings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rn_telemetry_readings_total",
		Help: "Sensor readings ingested.",
	}, []string{"resource"})
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
