package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/haproxyctl/pkg/model"
)

// ReconcileBatch converges several resources inside one transaction so they
// are committed atomically. Every item is validated before the first remote
// call.
//
// Items are reordered so that removals run first, servers before their
// parents, and additions run parents before servers. A frontend waits for
// its default backend when both are in the batch. The transaction is
// opened on the first write only, so a batch with nothing to do issues no
// transaction at all. Any failure stops the batch; the engine's transaction
// is then discarded, a caller supplied one is left as is.
func (r *Reconciler) ReconcileBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	ctx, span := r.tracer.Start(ctx, "reconcile.batch", trace.WithAttributes(
		attribute.Int("haproxy.items", len(req.Items)),
		attribute.Bool("haproxy.dry_run", req.DryRun),
	))
	defer span.End()

	if err := validateRequest(req.TransactionID, WriteTransactional, req.Commit); err != nil {
		return nil, r.failed(span, err)
	}
	if err := checkDuplicateKeys(req.Items); err != nil {
		return nil, r.failed(span, err)
	}
	for _, item := range req.Items {
		if err := validateTarget(item.Desired, item.Key, item.targetState()); err != nil {
			return nil, r.failed(span, err)
		}
	}

	items, err := BatchOrder(req.Items)
	if err != nil {
		return nil, r.failed(span, err)
	}
	s := r.newSession(req.TransactionID, req.ForceReload, req.DryRun, WriteTransactional, req.Commit)

	out := &BatchResult{Results: make([]*Result, 0, len(items))}
	for _, item := range items {
		res, err := s.apply(ctx, item.Desired, item.Key, item.targetState())
		if err != nil {
			s.abort(ctx)
			return nil, r.failed(span, err)
		}
		out.Results = append(out.Results, res)
		out.Changed = out.Changed || res.Changed
	}

	if err := s.finish(ctx); err != nil {
		return nil, r.failed(span, err)
	}

	out.TransactionID = s.transactionID()
	out.TransactionState = s.transactionState()
	out.Version = s.version
	for _, res := range out.Results {
		if res.Changed {
			res.TransactionID = out.TransactionID
			res.TransactionState = out.TransactionState
		}
	}

	r.logger.Info().
		Int("items", len(items)).
		Bool("changed", out.Changed).
		Str("transaction_id", out.TransactionID).
		Str("transaction_state", string(out.TransactionState)).
		Msg("Reconciled batch")
	return out, nil
}

func (item BatchItem) targetState() TargetState {
	if item.State == "" {
		return StatePresent
	}
	return item.State
}

func checkDuplicateKeys(items []BatchItem) error {
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		k := item.Key.String()
		if _, ok := seen[k]; ok {
			return NewValidationError("duplicate resource in batch", nil).WithResource(k).WithOperation("reconcile.batch")
		}
		seen[k] = struct{}{}
	}
	return nil
}

// batchPriority returns the priority value for an item. Higher runs first.
// Removals: server (6) > frontend (5) > backend (4).
// Additions: backend (3) > frontend (2) > server (1).
func batchPriority(item BatchItem) int {
	absent := item.State == StateAbsent
	switch item.Key.Kind {
	case model.KindServer:
		if absent {
			return 6
		}
		return 1
	case model.KindFrontend:
		if absent {
			return 5
		}
		return 2
	case model.KindBackend:
		if absent {
			return 4
		}
		return 3
	default:
		return 0
	}
}
