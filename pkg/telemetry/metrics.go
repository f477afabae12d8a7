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

// Metrics provides Prometheus metrics for catlet orchestration.
// A nil *Metrics and a disabled instance are both valid no-ops.
type Metrics struct {
	config MetricsConfig

	// Reconcile metrics
	reconciles        *prometheus.CounterVec
	reconcileDuration *prometheus.HistogramVec

	// Operation tracking metrics
	operationsTracked *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	eventsDropped     prometheus.Counter
	activeOperations  prometheus.Gauge

	// Remote API metrics
	remoteCalls    *prometheus.CounterVec
	remoteDuration *prometheus.HistogramVec

	// Cache metrics
	cacheLookups *prometheus.CounterVec

	// Error metrics
	errorsByKind *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
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

		reconciles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciles_total",
				Help:      "Total number of reconciles by action, resulting state and result",
			},
			[]string{"action", "state", "result"},
		),
		reconcileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconcile_duration_seconds",
				Help:      "Duration of reconciles in seconds",
				Buckets:   buckets,
			},
			[]string{"action"},
		),

		operationsTracked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_tracked_total",
				Help:      "Total number of remote operations tracked to an outcome",
			},
			[]string{"step", "outcome"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Time from submission to terminal state of remote operations",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"step"},
		),
		eventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "progress_events_dropped_total",
				Help:      "Progress events dropped because the consumer was not keeping up",
			},
		),
		activeOperations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_operations",
				Help:      "Current number of operations being tracked",
			},
		),

		remoteCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_calls_total",
				Help:      "Total number of compute API calls",
			},
			[]string{"call", "result"},
		),
		remoteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_call_duration_seconds",
				Help:      "Duration of compute API calls in seconds",
				Buckets:   buckets,
			},
			[]string{"call"},
		),

		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Status cache lookups by result",
			},
			[]string{"result"},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by kind",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.reconciles,
		m.reconcileDuration,
		m.operationsTracked,
		m.operationDuration,
		m.eventsDropped,
		m.activeOperations,
		m.remoteCalls,
		m.remoteDuration,
		m.cacheLookups,
		m.errorsByKind,
	)

	return m, nil
}

// Reconcile Metrics

// RecordReconcile records a finished reconcile.
func (m *Metrics) RecordReconcile(action, state, result string, duration time.Duration) {
	if m == nil || m.reconciles == nil {
		return
	}
	m.reconciles.WithLabelValues(action, state, result).Inc()
	m.reconcileDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// Operation Metrics

// OperationStarted marks the start of tracking an operation.
func (m *Metrics) OperationStarted() {
	if m == nil || m.activeOperations == nil {
		return
	}
	m.activeOperations.Inc()
}

// RecordOperation records an operation that reached an outcome
// (completed, failed, timeout, cancelled, error).
func (m *Metrics) RecordOperation(step, outcome string, duration time.Duration) {
	if m == nil || m.operationsTracked == nil {
		return
	}
	m.operationsTracked.WithLabelValues(step, outcome).Inc()
	m.operationDuration.WithLabelValues(step).Observe(duration.Seconds())
	m.activeOperations.Dec()
}

// RecordEventDropped counts a dropped progress event.
func (m *Metrics) RecordEventDropped() {
	if m == nil || m.eventsDropped == nil {
		return
	}
	m.eventsDropped.Inc()
}

// Remote Call Metrics

// RecordRemoteCall records a compute API call.
func (m *Metrics) RecordRemoteCall(call string, err error, duration time.Duration) {
	if m == nil || m.remoteCalls == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.remoteCalls.WithLabelValues(call, result).Inc()
	m.remoteDuration.WithLabelValues(call).Observe(duration.Seconds())
}

// Cache Metrics

// RecordCacheLookup records a status cache lookup result
// (hit, miss, name_fallback, list_error).
func (m *Metrics) RecordCacheLookup(result string) {
	if m == nil || m.cacheLookups == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// Error Metrics

// RecordError records an error by kind.
func (m *Metrics) RecordError(kind string) {
	if m == nil || m.errorsByKind == nil {
		return
	}
	if kind == "" {
		kind = "unclassified"
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// Registry returns the underlying registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint until ctx is cancelled.
func (m *Metrics) StartMetricsServer(ctx context.Context) error {
	if m == nil || !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

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
