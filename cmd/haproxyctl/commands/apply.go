package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/haproxyctl/pkg/config"
	"github.com/openfroyo/haproxyctl/pkg/engine"
	"github.com/openfroyo/haproxyctl/pkg/policy"
	"github.com/openfroyo/haproxyctl/pkg/stores"
	"github.com/openfroyo/haproxyctl/pkg/telemetry"
)

func newApplyCommand() *cobra.Command {
	var (
		files          []string
		dryRun         bool
		retryConflicts int
		watch          bool
		debounce       time.Duration
		metricsAddr    string
		noPolicy       bool
		policyPaths    []string
		vars           []string
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Converge a manifest of backends, servers and frontends",
		Long: `Apply one or more manifests in a single transaction.

This command:
  - Loads YAML, JSON, CUE and Starlark manifests
  - Checks every resource against the Rego policies
  - Reconciles all resources in one transaction and commits it once
  - Records the run and every change in the journal

A version conflict means someone else changed the configuration in the
meantime. With --retry-conflicts the whole read, compare and write cycle
is repeated against the new version.`,
		Example: `  # Apply a manifest
  haproxyctl apply -f site.yaml

  # Show the changes only
  haproxyctl apply -f site.cue --dry-run

  # Keep applying on every change, exposing metrics
  haproxyctl apply -f ./manifests --watch --metrics-addr :9101`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			logger := telemetry.Component(rt.logger, "apply")

			variables, err := parseVars(vars)
			if err != nil {
				return err
			}

			a := &applier{
				files:     files,
				dryRun:    dryRun,
				retries:   retryConflicts,
				baseURL:   rt.settings.BaseURL,
				env:       rt.settings.Telemetry.Environment,
				loader:    config.NewLoader(config.WithVariables(variables)),
				batch:     rt.reconciler,
				versioner: rt.client,
				tracer:    rt.telemetry.Tracer,
				metrics:   rt.telemetry.Metrics,
				logger:    logger,
				out:       cmd.OutOrStdout(),
			}

			if rt.settings.Policy.Enabled && !noPolicy {
				pe, err := policy.NewEngine(rt.logger)
				if err != nil {
					return err
				}
				paths := append(append([]string{}, rt.settings.Policy.Paths...), policyPaths...)
				if len(paths) > 0 {
					if err := pe.LoadPolicies(ctx, paths); err != nil {
						return err
					}
				}
				a.policies = pe
			}

			journal, err := rt.openJournal(ctx)
			if err != nil {
				return err
			}
			if journal != nil {
				defer journal.Close()
				a.journal = journal
			}

			if !watch {
				_, err := a.apply(ctx)
				return err
			}
			return a.watch(ctx, debounce, metricsAddr)
		},
	}

	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "manifest files or directories")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the changes without writing")
	cmd.Flags().IntVar(&retryConflicts, "retry-conflicts", 0, "retry the whole run this many times on a version conflict")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-apply whenever a manifest changes")
	cmd.Flags().DurationVar(&debounce, "debounce", config.DefaultDebounce, "quiet period before re-applying in watch mode")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address in watch mode")
	cmd.Flags().BoolVar(&noPolicy, "no-policy", false, "skip policy evaluation")
	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "extra .rego files or directories")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "Starlark variable, e.g. --var env=prod (repeatable)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// batchReconciler is the part of the engine apply needs.
type batchReconciler interface {
	ReconcileBatch(ctx context.Context, req engine.BatchRequest) (*engine.BatchResult, error)
}

type versionFetcher interface {
	FetchVersion(ctx context.Context) (int64, error)
}

// applier runs one manifest apply: load, policy, reconcile, journal.
type applier struct {
	files   []string
	dryRun  bool
	retries int
	baseURL string
	env     string

	loader    *config.Loader
	batch     batchReconciler
	versioner versionFetcher
	policies  *policy.Engine
	journal   stores.Journal
	tracer    *telemetry.Tracer
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
	out       io.Writer

	// newBackOff returns the wait policy between conflict retries.
	newBackOff func() backoff.BackOff
}

// apply performs one run and prints its result.
func (a *applier) apply(ctx context.Context) (*engine.BatchResult, error) {
	m, err := a.loader.Load(ctx, a.files...)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	ctx, span := a.tracer.StartApplySpan(ctx, runID, len(m.Resources))
	defer span.End()

	logger := a.logger.With().Str("run_id", runID).Logger()
	run := &stores.Run{
		ID:        runID,
		Sources:   m.SourceFiles,
		DryRun:    a.dryRun,
		BaseURL:   a.baseURL,
		Resources: len(m.Resources),
	}
	if a.journal != nil {
		if err := a.journal.CreateRun(ctx, run); err != nil {
			return nil, err
		}
	}

	req, err := m.BatchRequest(a.dryRun)
	if err != nil {
		return nil, a.finish(ctx, span, run, stores.RunOutcome{Status: stores.RunStatusDenied, Err: err})
	}

	if a.policies != nil {
		verdict, err := a.policies.EvaluateBatch(ctx, req, a.env)
		if err != nil {
			return nil, a.finish(ctx, span, run, stores.RunOutcome{Status: stores.RunStatusFailed, Err: err})
		}
		for _, w := range verdict.Warnings {
			logger.Warn().Str("policy", w.Policy).Str("key", w.Resource).Msg(w.Message)
		}
		if !verdict.Allowed {
			for _, v := range verdict.Violations {
				fmt.Fprintf(a.out, "denied: %s\n", v)
			}
			return nil, a.finish(ctx, span, run, stores.RunOutcome{Status: stores.RunStatusDenied, Err: verdict.Err()})
		}
	}

	var before *int64
	if !a.dryRun && req.TransactionID == "" && a.versioner != nil {
		if v, err := a.versioner.FetchVersion(ctx); err == nil {
			before = &v
		}
	}

	result, attempts, err := a.reconcile(ctx, req, logger)
	outcome := stores.RunOutcome{Status: stores.RunStatusSuccess, VersionBefore: before, Attempts: attempts, Err: err}
	if err != nil {
		outcome.Status = stores.RunStatusFailed
		return nil, a.finish(ctx, span, run, outcome)
	}

	outcome.Changed = result.Changed
	outcome.TransactionID = result.TransactionID
	if result.Version > 0 {
		v := result.Version
		if result.TransactionState == engine.TxCommitted {
			// A commit bumps the version by one.
			v++
		}
		outcome.VersionAfter = &v
		a.metrics.SetConfigVersion(v)
	}

	if a.journal != nil {
		if err := a.journal.RecordChanges(ctx, runID, stores.ChangesFromBatch(result)); err != nil {
			logger.Error().Err(err).Msg("Failed to record changes")
		}
		if result.TransactionID != "" {
			tx := &stores.Transaction{
				ID:      result.TransactionID,
				RunID:   runID,
				Version: result.Version,
				Status:  string(result.TransactionState),
			}
			if err := a.journal.RecordTransaction(ctx, tx); err != nil {
				logger.Error().Err(err).Msg("Failed to record transaction")
			}
		}
	}

	if err := a.finish(ctx, span, run, outcome); err != nil {
		return nil, err
	}
	return result, printBatch(a.out, result)
}

// reconcile runs the batch, retrying the whole cycle on version conflicts
// when the engine owns the transaction.
func (a *applier) reconcile(ctx context.Context, req engine.BatchRequest, logger zerolog.Logger) (*engine.BatchResult, int, error) {
	attempts := 0
	op := func() (*engine.BatchResult, error) {
		attempts++
		res, err := a.batch.ReconcileBatch(ctx, req)
		if err == nil {
			return res, nil
		}
		if engine.IsVersionConflict(err) && req.TransactionID == "" {
			logger.Warn().Err(err).Int("attempt", attempts).Msg("Version conflict")
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	b := backoff.BackOff(backoff.NewExponentialBackOff())
	if a.newBackOff != nil {
		b = a.newBackOff()
	}
	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(a.retries)+1),
	)
	return res, attempts, err
}

// finish closes the run in the journal and returns the run error.
func (a *applier) finish(ctx context.Context, span trace.Span, run *stores.Run, outcome stores.RunOutcome) error {
	a.metrics.RecordRun(string(outcome.Status))
	if outcome.Err != nil {
		class := string(engine.ClassOf(outcome.Err))
		if class == "" {
			class = "unknown"
		}
		a.metrics.RecordError(class, errorCode(outcome.Err))
		telemetry.RecordError(span, outcome.Err)
	} else {
		telemetry.RecordSuccess(span)
	}

	if a.journal != nil {
		if err := a.journal.FinishRun(ctx, run.ID, outcome); err != nil {
			a.logger.Error().Err(err).Str("run_id", run.ID).Msg("Failed to finish run")
		}
	}

	if outcome.Err != nil {
		a.logger.Error().Err(outcome.Err).Str("run_id", run.ID).Str("status", string(outcome.Status)).Msg("Apply failed")
	} else {
		a.logger.Info().Str("run_id", run.ID).Bool("changed", outcome.Changed).Int("attempts", outcome.Attempts).Msg("Apply completed")
	}
	return outcome.Err
}

// watch applies once, then again after every manifest change, until ctx is
// done. Failed runs are logged and do not stop watching.
func (a *applier) watch(ctx context.Context, debounce time.Duration, metricsAddr string) error {
	g, ctx := errgroup.WithContext(ctx)

	if metricsAddr != "" {
		g.Go(func() error {
			return a.metrics.Serve(ctx, metricsAddr, a.logger)
		})
	}

	g.Go(func() error {
		if _, err := a.apply(ctx); err != nil {
			a.logger.Error().Err(err).Msg("Initial apply failed")
		}
		return config.Watch(ctx, a.files, debounce, a.logger, func(ctx context.Context) {
			a.logger.Info().Strs("files", a.files).Msg("Manifest changed, applying")
			if _, err := a.apply(ctx); err != nil {
				a.logger.Error().Err(err).Msg("Apply failed")
			}
		})
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func errorCode(err error) string {
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// parseVars turns --var key=value flags into Starlark variables.
func parseVars(vars []string) (map[string]any, error) {
	out := make(map[string]any, len(vars))
	for _, kv := range vars {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, engine.NewValidationError(fmt.Sprintf("--var %q: expected name=value", kv), nil)
		}
		out[k] = parseValue(v)
	}
	return out, nil
}
