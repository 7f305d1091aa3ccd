package telemetry

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"
)

// Telemetry bundles the logger, tracer and metrics of one process.
type Telemetry struct {
	Logger  zerolog.Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config

	logCloser io.Closer
}

// New initializes every telemetry component from cfg.
func New(cfg *Config) (*Telemetry, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, closer, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	return &Telemetry{
		Logger:    logger,
		Tracer:    tracer,
		Metrics:   metrics,
		Config:    cfg,
		logCloser: closer,
	}, nil
}

// Shutdown flushes the tracer and closes the log output.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if err := t.Tracer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if t.logCloser != nil {
		if err := t.logCloser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
