package telemetry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/openfroyo/haproxyctl/pkg/dataplane"
	"github.com/openfroyo/haproxyctl/pkg/engine"
)

var (
	_ engine.Recorder    = (*Metrics)(nil)
	_ dataplane.Recorder = (*Metrics)(nil)
)

// Metrics provides Prometheus metrics for reconciliation and API traffic.
// Every method is safe on a nil or disabled Metrics.
type Metrics struct {
	config MetricsConfig

	// Reconcile metrics
	reconciles        *prometheus.CounterVec
	reconcileDuration *prometheus.HistogramVec

	// Data Plane API metrics
	apiRequests *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec

	transactions *prometheus.CounterVec

	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Apply run metrics
	runs          *prometheus.CounterVec
	configVersion prometheus.Gauge

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
				Help:      "Total number of reconciliations by kind, decided operation and outcome",
			},
			[]string{"kind", "operation", "changed"},
		),
		reconcileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconcile_duration_seconds",
				Help:      "Duration of a single resource reconciliation in seconds",
				Buckets:   buckets,
			},
			[]string{"kind", "operation"},
		),

		apiRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dataplane_requests_total",
				Help:      "Total number of Data Plane API requests",
			},
			[]string{"method", "operation", "status"},
		),
		apiDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dataplane_request_duration_seconds",
				Help:      "Duration of Data Plane API requests in seconds",
				Buckets:   buckets,
			},
			[]string{"method", "operation"},
		),

		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Total number of transaction transitions by outcome",
			},
			[]string{"outcome"},
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

		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "apply_runs_total",
				Help:      "Total number of apply runs by status",
			},
			[]string{"status"},
		),
		configVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "configuration_version",
				Help:      "Last configuration version observed on the Data Plane API",
			},
		),
	}

	registry.MustRegister(
		m.reconciles,
		m.reconcileDuration,
		m.apiRequests,
		m.apiDuration,
		m.transactions,
		m.errorsByClass,
		m.errorsByCode,
		m.runs,
		m.configVersion,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordReconcile implements engine.Recorder.
func (m *Metrics) RecordReconcile(kind, operation string, changed bool, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.reconciles.WithLabelValues(kind, operation, strconv.FormatBool(changed)).Inc()
	m.reconcileDuration.WithLabelValues(kind, operation).Observe(duration.Seconds())
}

// RecordTransaction implements engine.Recorder.
func (m *Metrics) RecordTransaction(outcome string) {
	if !m.enabled() {
		return
	}
	m.transactions.WithLabelValues(outcome).Inc()
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// RecordAPIRequest implements dataplane.Recorder. Status 0 means no
// response was received.
func (m *Metrics) RecordAPIRequest(method, operation string, status int, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.apiRequests.WithLabelValues(method, operation, strconv.Itoa(status)).Inc()
	m.apiDuration.WithLabelValues(method, operation).Observe(duration.Seconds())
}

// RecordRun records the end of an apply run.
func (m *Metrics) RecordRun(status string) {
	if !m.enabled() {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}

// SetConfigVersion records the last observed configuration version.
func (m *Metrics) SetConfigVersion(version int64) {
	if !m.enabled() {
		return
	}
	m.configVersion.Set(float64(version))
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint on addr until ctx is cancelled. An
// empty addr uses the configured listen address.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	if !m.enabled() {
		return nil
	}
	if addr == "" {
		addr = m.config.ListenAddress
	}
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Str("path", path).Msg("Serving metrics")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
