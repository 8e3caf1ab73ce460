package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks protocol requests sent to the automation server
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbdeck_requests_total",
			Help: "Total number of protocol requests sent to the automation server",
		},
		[]string{"request", "status"}, // ok, error, timeout, not_connected
	)

	// RequestDuration tracks protocol round-trip duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sbdeck_request_duration_seconds",
			Help:    "Duration of protocol request round trips",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"request"},
	)

	// DispatchTotal tracks action submissions by outcome
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbdeck_dispatch_total",
			Help: "Total number of action submissions",
		},
		[]string{"result"}, // success, fallback, rejected, failure
	)

	// FallbackTotal tracks raw-frame fallback attempts
	FallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbdeck_fallback_total",
			Help: "Total number of raw-frame fallback attempts",
		},
		[]string{"result"}, // sent, failed, unavailable
	)

	// ResolveTotal tracks action reference resolution
	ResolveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbdeck_resolve_total",
			Help: "Total number of action reference resolutions",
		},
		[]string{"method"}, // canonical, lookup, not_found, error
	)

	// ConnectionState mirrors the connection indicator (exactly one state is 1)
	ConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sbdeck_connection_state",
			Help: "Current connection state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	// ReconnectsTotal tracks reconnection attempts in serve mode
	ReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sbdeck_reconnects_total",
			Help: "Total number of reconnection attempts",
		},
	)

	// ErrorsTotal tracks errors by kind
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbdeck_errors_total",
			Help: "Total number of errors by kind",
		},
		[]string{"kind"}, // connection, action
	)
)
