package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for package lifecycle operations.
// A disabled instance is a no-op.
type Metrics struct {
	config MetricsConfig

	// Transition metrics
	transitions        *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
	stepsCommitted     *prometheus.CounterVec

	// Gate metrics
	checkResults *prometheus.CounterVec
	gateDuration *prometheus.HistogramVec

	// Package metrics
	packagesByState *prometheus.GaugeVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Total number of transition requests by target state and result",
			},
			[]string{"target", "result"},
		),
		transitionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transition_duration_seconds",
				Help:      "Duration of transition requests in seconds, including gating",
				Buckets:   buckets,
			},
			[]string{"target", "result"},
		),
		stepsCommitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_committed_total",
				Help:      "Total number of package state changes committed by operation",
			},
			[]string{"operation"},
		),

		checkResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "check_results_total",
				Help:      "Total number of requirement check evaluations",
			},
			[]string{"phase", "severity", "status"},
		),
		gateDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gate_duration_seconds",
				Help:      "Duration of gating a single plan step in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),

		packagesByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "packages",
				Help:      "Current number of registered packages by lifecycle state",
			},
			[]string{"state"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.transitions,
		m.transitionDuration,
		m.stepsCommitted,
		m.checkResults,
		m.gateDuration,
		m.packagesByState,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// RecordTransition records a finished transition request.
func (m *Metrics) RecordTransition(target, result string, duration time.Duration) {
	if m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(target, result).Inc()
	m.transitionDuration.WithLabelValues(target, result).Observe(duration.Seconds())
}

// RecordStepCommitted records one committed package state change.
func (m *Metrics) RecordStepCommitted(operation string) {
	if m.stepsCommitted == nil {
		return
	}
	m.stepsCommitted.WithLabelValues(operation).Inc()
}

// RecordCheck records a single requirement check outcome.
func (m *Metrics) RecordCheck(phase, severity, status string) {
	if m.checkResults == nil {
		return
	}
	m.checkResults.WithLabelValues(phase, severity, status).Inc()
}

// RecordGate records how long gating a plan step took.
func (m *Metrics) RecordGate(operation string, duration time.Duration) {
	if m.gateDuration == nil {
		return
	}
	m.gateDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetPackageCount sets the number of packages in a lifecycle state.
func (m *Metrics) SetPackageCount(state string, count float64) {
	if m.packagesByState == nil {
		return
	}
	m.packagesByState.WithLabelValues(state).Set(count)
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Registry returns the Prometheus registry, or nil when disabled.
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

// StartMetricsServer serves metrics until ctx is cancelled. It is a no-op
// when metrics are disabled or no listen address is configured.
func (m *Metrics) StartMetricsServer(ctx context.Context) error {
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
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("address", m.config.ListenAddress).Msg("Metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return nil
}
