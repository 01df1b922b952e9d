// Package metrics holds the Prometheus instruments for the monitoring pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sitewatch_sessions_active",
			Help: "Monitoring sessions currently processing or paused",
		},
	)

	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitewatch_session_transitions_total",
			Help: "Session state transitions by target status",
		},
		[]string{"status"},
	)

	FramesSampled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitewatch_frames_sampled_total",
			Help: "Sampled frames by outcome",
		},
		[]string{"outcome"}, // analyzed, analysis_unavailable, frame_unavailable
	)

	ViolationsAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitewatch_violations_accepted_total",
			Help: "Violations that cleared the cooldown window",
		},
		[]string{"severity"},
	)

	ViolationsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sitewatch_violations_suppressed_total",
			Help: "Detections discarded inside the cooldown window",
		},
	)

	EvidenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitewatch_evidence_failures_total",
			Help: "Evidence captures that were unavailable",
		},
		[]string{"kind"}, // screenshot, clip
	)

	TicketsFiled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitewatch_tickets_total",
			Help: "Automatic ticket filing attempts by result",
		},
		[]string{"result"},
	)

	SubscribersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sitewatch_broadcast_subscribers_dropped_total",
			Help: "Subscribers removed because their queue overflowed",
		},
	)

	ExternalCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sitewatch_external_call_duration_seconds",
			Help:    "Latency of calls to external services",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"service", "result"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sitewatch_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)
