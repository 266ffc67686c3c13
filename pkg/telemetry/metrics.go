package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Call outcomes used as the "outcome" label.
const (
	OutcomeOK              = "ok"
	OutcomeStructuredError = "structured_error"
	OutcomeTransportError  = "transport_error"
	OutcomeParseError      = "parse_error"
)

// Metrics provides Prometheus metrics for core sessions.
type Metrics struct {
	config MetricsConfig

	// Call metrics
	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	responseSize *prometheus.HistogramVec

	// Error metrics
	structuredErrors  *prometheus.CounterVec
	parseErrors       *prometheus.CounterVec
	transportFailures *prometheus.CounterVec

	// Fragment metrics
	fragmentsDecoded *prometheus.CounterVec

	// Session metrics
	activeSessions prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "core_calls_total",
				Help:      "Total number of commands sent to the core",
			},
			[]string{"verb", "outcome"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "core_call_duration_seconds",
				Help:      "Round trip time of core commands in seconds",
				Buckets:   buckets,
			},
			[]string{"verb"},
		),
		responseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "core_response_lines",
				Help:      "Number of payload lines per core response",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"verb"},
		),

		structuredErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "core_structured_errors_total",
				Help:      "Structured errors reported by the core, by code",
			},
			[]string{"code"},
		),
		parseErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fragment_parse_errors_total",
				Help:      "Fragments that failed to decode, by kind",
			},
			[]string{"fragment", "kind"},
		),
		transportFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_failures_total",
				Help:      "Channel failures that ended a session, by kind",
			},
			[]string{"kind"},
		),

		fragmentsDecoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fragments_decoded_total",
				Help:      "Fragments decoded successfully, by type",
			},
			[]string{"fragment"},
		),

		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Current number of open core sessions",
			},
		),
	}

	registry.MustRegister(
		m.calls,
		m.callDuration,
		m.responseSize,
		m.structuredErrors,
		m.parseErrors,
		m.transportFailures,
		m.fragmentsDecoded,
		m.activeSessions,
	)

	return m, nil
}

// Call Metrics

// RecordCall records one command round trip.
func (m *Metrics) RecordCall(verb, outcome string, duration time.Duration, lines int) {
	if m.calls == nil {
		return
	}
	m.calls.WithLabelValues(verb, outcome).Inc()
	m.callDuration.WithLabelValues(verb).Observe(duration.Seconds())
	if outcome == OutcomeOK {
		m.responseSize.WithLabelValues(verb).Observe(float64(lines))
	}
}

// Error Metrics

// RecordStructuredError counts a structured error by its code.
func (m *Metrics) RecordStructuredError(code string) {
	if m.structuredErrors == nil {
		return
	}
	m.structuredErrors.WithLabelValues(code).Inc()
}

// RecordParseError counts a fragment that failed to decode.
func (m *Metrics) RecordParseError(fragment, kind string) {
	if m.parseErrors == nil {
		return
	}
	m.parseErrors.WithLabelValues(fragment, kind).Inc()
}

// RecordTransportFailure counts a channel failure.
func (m *Metrics) RecordTransportFailure(kind string) {
	if m.transportFailures == nil {
		return
	}
	m.transportFailures.WithLabelValues(kind).Inc()
}

// Fragment Metrics

// RecordFragmentDecoded counts a successfully decoded fragment.
func (m *Metrics) RecordFragmentDecoded(fragment string) {
	if m.fragmentsDecoded == nil {
		return
	}
	m.fragmentsDecoded.WithLabelValues(fragment).Inc()
}

// Session Metrics

// SessionStarted increments the open session gauge.
func (m *Metrics) SessionStarted() {
	if m.activeSessions == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionEnded decrements the open session gauge.
func (m *Metrics) SessionEnded() {
	if m.activeSessions == nil {
		return
	}
	m.activeSessions.Dec()
}

// Registry returns the Prometheus registry, or nil when metrics are
// disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. It is a
// no-op when metrics are disabled or no listen address is configured.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			log.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("metrics server stopped")
		}
	}()

	return nil
}
