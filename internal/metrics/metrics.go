// Package metrics registers the Prometheus metrics used by the proxy.
// Import this package (via blank import) from the server entry point to
// register all metrics before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request-level counters and histograms.
var (
	// RequestsTotal counts completed forwards labelled by provider, cli_type, and
	// outcome ("success", "error", "upstream_error", "stream_error"). Requests
	// rejected for lack of a provider are counted by NoProviderTotal instead.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccrelay_requests_total",
			Help: "Total number of requests forwarded by the proxy.",
		},
		[]string{"provider", "cli_type", "status"},
	)

	// RequestDuration observes end-to-end request latency in seconds.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ccrelay_request_duration_seconds",
			Help:    "End-to-end request duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "cli_type"},
	)

	// TokensInput counts total prompt tokens sent to providers.
	TokensInput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccrelay_tokens_input_total",
			Help: "Total prompt tokens sent to providers.",
		},
		[]string{"provider", "cli_type"},
	)

	// TokensOutput counts total completion tokens received from providers.
	TokensOutput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccrelay_tokens_output_total",
			Help: "Total completion tokens received from providers.",
		},
		[]string{"provider", "cli_type"},
	)

	// ProviderErrors counts errors broken down by provider and error type.
	// The health recorder increments it with error type "forward_failure" for
	// every recorded failed forward.
	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccrelay_provider_errors_total",
			Help: "Total provider errors by type.",
		},
		[]string{"provider", "error_type"},
	)

	// ProviderBlacklisted tracks whether a provider is currently blacklisted, as
	// a 0/1 gauge.
	ProviderBlacklisted = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ccrelay_provider_blacklisted",
			Help: "Whether a provider is currently blacklisted (1) or not (0).",
		},
		[]string{"provider"},
	)

	// StreamTimeouts counts upstream timeouts by kind: "first_byte" and "idle"
	// for the streaming chunk pump, "non_stream" for a non-streaming forward.
	StreamTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccrelay_stream_timeouts_total",
			Help: "Total streaming timeouts by kind.",
		},
		[]string{"provider", "kind"},
	)

	// NoProviderTotal counts requests rejected because no healthy provider was
	// available for the requested CLI variant.
	NoProviderTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccrelay_no_provider_total",
			Help: "Total requests rejected for lack of an eligible provider.",
		},
		[]string{"cli_type"},
	)
)
