package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for EnvelopesTotal.
const (
	OutcomeRouted    = "routed"
	OutcomeDelegated = "delegated"
	OutcomeMalformed = "malformed"
	OutcomeNoTarget  = "no_target"
	OutcomeMiss      = "unknown_target"
	OutcomeWriteFail = "write_failed"
)

var (
	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connections_active",
			Help: "Currently registered relay endpoints",
		},
	)

	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_connections_total",
			Help: "Connection attempts by handshake result",
		},
		[]string{"result"}, // "accepted" or "rejected"
	)

	// Relay metrics
	EnvelopesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_envelopes_total",
			Help: "Inbound envelopes by dispatch outcome",
		},
		[]string{"outcome"},
	)

	// Delegation metrics
	ModelRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_model_requests_total",
			Help: "Model requests by result",
		},
		[]string{"result"}, // "ok", "missing_model", "failed"
	)

	ModelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_model_call_duration_seconds",
			Help:    "Model provider call latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)
)
