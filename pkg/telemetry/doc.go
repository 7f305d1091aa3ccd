// Package telemetry wires structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus) for haproxyctl.
//
// # Usage
//
// Initialize telemetry at startup and hand its pieces to the components:
//
//	tel, err := telemetry.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	client, _ := dataplane.New(dataplane.Config{
//	    BaseURL: "http://127.0.0.1:5555",
//	    Logger:  &tel.Logger,
//	    Metrics: tel.Metrics,
//	})
//	reconciler := engine.NewReconciler(client,
//	    engine.WithLogger(telemetry.Component(tel.Logger, "engine")),
//	    engine.WithMetrics(tel.Metrics),
//	)
//
// # Tracing
//
// NewTracer installs the provider globally, so the spans opened by the
// engine (reconcile, reconcile.batch, transaction.open, transaction.commit,
// transaction.discard) and by the client (dataplane.request) are exported
// without further wiring. The client also injects the W3C trace context
// into every request.
//
// Exporters: stdout (pretty printed to stderr), otlp (gRPC) and none.
//
// # Metrics
//
// Metrics implements engine.Recorder and dataplane.Recorder:
//
//	haproxyctl_reconciles_total{kind,operation,changed}
//	haproxyctl_reconcile_duration_seconds{kind,operation}
//	haproxyctl_dataplane_requests_total{method,operation,status}
//	haproxyctl_dataplane_request_duration_seconds{method,operation}
//	haproxyctl_transactions_total{outcome}
//	haproxyctl_errors_by_class_total{class}
//	haproxyctl_errors_by_code_total{code}
//	haproxyctl_apply_runs_total{status}
//	haproxyctl_configuration_version
//
// Serve exposes them over HTTP until its context is cancelled.
package telemetry
