package engine

import (
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type options struct {
	logger  zerolog.Logger
	tracer  trace.Tracer
	metrics Recorder
}

// Option configures a Reconciler or TransactionManager.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTracer sets the tracer. The default is the global OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithMetrics sets the measurement sink.
func WithMetrics(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.metrics = r
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{
		logger:  zerolog.Nop(),
		tracer:  defaultTracer(),
		metrics: nopRecorder{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
