package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/haproxyctl/pkg/model"
)

// Reconciler converges remote resources towards desired descriptions.
//
// Each call reads the current state, compares only the fields the caller
// set, and issues at most one write per resource. Calls share nothing, so a
// Reconciler may be used from several goroutines. Version conflicts and
// every other failure are returned to the caller without retry.
type Reconciler struct {
	remote  Remote
	txm     *TransactionManager
	logger  zerolog.Logger
	tracer  trace.Tracer
	metrics Recorder
}

// NewReconciler creates a reconciler over remote.
func NewReconciler(remote Remote, opts ...Option) *Reconciler {
	o := applyOptions(opts)
	return &Reconciler{
		remote:  remote,
		txm:     NewTransactionManager(remote, remote, opts...),
		logger:  o.logger.With().Str("component", "reconciler").Logger(),
		tracer:  o.tracer,
		metrics: o.metrics,
	}
}

// Transactions returns the transaction manager used by the reconciler.
func (r *Reconciler) Transactions() *TransactionManager {
	return r.txm
}

// Reconcile converges one resource.
//
// Writes go to req.TransactionID when set; that transaction is left open for
// its owner. Otherwise the engine opens its own transaction against the
// current version, commits it unless req.Commit is CommitNever, and discards
// it if a write or the commit fails.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (*Result, error) {
	ctx, span := r.tracer.Start(ctx, "reconcile", trace.WithAttributes(
		attribute.String("haproxy.key", req.Key.String()),
		attribute.String("haproxy.state", string(req.targetState())),
		attribute.Bool("haproxy.dry_run", req.DryRun),
	))
	defer span.End()

	if err := validateRequest(req.TransactionID, req.Write, req.Commit); err != nil {
		return nil, r.failed(span, err)
	}

	s := r.newSession(req.TransactionID, req.ForceReload, req.DryRun, req.writeMode(), req.commitPolicy())
	res, err := s.apply(ctx, req.Desired, req.Key, req.targetState())
	if err != nil {
		s.abort(ctx)
		return nil, r.failed(span, err)
	}
	if err := s.finish(ctx); err != nil {
		return nil, r.failed(span, err)
	}

	res.TransactionID = s.transactionID()
	res.TransactionState = s.transactionState()
	span.SetAttributes(
		attribute.String("haproxy.operation", string(res.Operation)),
		attribute.Bool("haproxy.changed", res.Changed),
	)
	return res, nil
}

func (r *Reconciler) failed(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	var e *EngineError
	if errors.As(err, &e) {
		r.metrics.RecordError(string(e.Class), e.Code)
	}
	return err
}

func validateRequest(txID string, write WriteMode, commit CommitPolicy) error {
	if err := write.Validate(); err != nil {
		return NewValidationError("invalid request", err).WithOperation("reconcile")
	}
	if err := commit.Validate(); err != nil {
		return NewValidationError("invalid request", err).WithOperation("reconcile")
	}
	if txID != "" && write == WriteDirect {
		return NewValidationError("direct writes cannot use a transaction id", nil).WithOperation("reconcile")
	}
	return nil
}

// session carries the transaction context of one Reconcile or
// ReconcileBatch call. The transaction is opened lazily on the first write.
type session struct {
	r           *Reconciler
	callerTxID  string
	forceReload bool
	dryRun      bool
	write       WriteMode
	commit      CommitPolicy
	tx          *Transaction
	version     int64
}

func (r *Reconciler) newSession(txID string, forceReload, dryRun bool, write WriteMode, commit CommitPolicy) *session {
	if write == "" {
		write = WriteTransactional
	}
	if commit == "" {
		commit = CommitAuto
	}
	return &session{
		r:           r,
		callerTxID:  txID,
		forceReload: forceReload,
		dryRun:      dryRun,
		write:       write,
		commit:      commit,
	}
}

// apply runs the read, compare and write cycle for one resource.
// validateTarget checks a target without touching the remote.
func validateTarget(desired model.Resource, key model.Key, state TargetState) error {
	resource := key.String()
	if err := state.Validate(); err != nil {
		return NewValidationError("invalid request", err).WithResource(resource).WithOperation("reconcile")
	}
	if state == StatePresent {
		if err := model.ValidateWithKey(desired, key); err != nil {
			return NewValidationError("invalid desired resource", err).
				WithResource(resource).WithOperation("validate")
		}
	} else if err := key.Validate(); err != nil {
		return NewValidationError("invalid resource key", err).
			WithResource(resource).WithOperation("validate")
	}
	return nil
}

func (s *session) apply(ctx context.Context, desired model.Resource, key model.Key, state TargetState) (*Result, error) {
	start := time.Now()
	r := s.r
	resource := key.String()

	if err := validateTarget(desired, key, state); err != nil {
		return nil, err
	}

	read := r.remote.FetchResource(ctx, key)
	if err := read.Validate(); err != nil {
		return nil, NewTransportError("inconsistent read result", err).WithResource(resource).WithOperation("read")
	}
	if read.Outcome == ReadFailed {
		return nil, read.Err
	}

	res := &Result{Key: key, DryRun: s.dryRun}
	var err error
	switch {
	case state == StateAbsent && read.Outcome == ReadNotFound:
		res.Operation = OperationNoop
		res.Message = fmt.Sprintf("%s not found", resource)

	case state == StateAbsent:
		res.Operation = OperationDelete
		err = s.delete(ctx, key, res)

	case read.Outcome == ReadNotFound:
		res.Operation = OperationCreate
		err = s.create(ctx, key, desired, res)

	default:
		err = s.update(ctx, key, desired, read, res)
	}
	if err != nil {
		return nil, err
	}

	res.Changed = res.Operation.IsMutating()
	r.metrics.RecordReconcile(string(key.Kind), string(res.Operation), res.Changed, time.Since(start))

	evt := r.logger.Debug()
	if res.Changed {
		evt = r.logger.Info()
	}
	evt.Str("key", resource).
		Str("operation", string(res.Operation)).
		Bool("dry_run", s.dryRun).
		Str("transaction_id", s.transactionID()).
		Int("changes", len(res.Changes)).
		Msg("Reconciled resource")
	return res, nil
}

func (s *session) create(ctx context.Context, key model.Key, desired model.Resource, res *Result) error {
	if s.dryRun {
		res.Message = fmt.Sprintf("%s would be created", key)
		res.Resource = desired
		return nil
	}

	scope, err := s.scope(ctx)
	if err != nil {
		return err
	}
	created, err := s.r.remote.Create(ctx, key, desired, scope)
	if err != nil {
		return err
	}
	if created == nil {
		created = desired
	}

	res.Resource = created
	res.Message = fmt.Sprintf("%s created", key)
	return nil
}

func (s *session) update(ctx context.Context, key model.Key, desired model.Resource, read ReadResult, res *Result) error {
	current := read.Object
	if current == nil {
		obj, err := model.ToObject(read.Resource)
		if err != nil {
			return NewValidationError("cannot render remote resource", err).WithResource(key.String()).WithOperation("compare")
		}
		current = obj
	}
	remote := read.Resource
	if remote == nil {
		decoded, err := model.FromObject(key.Kind, current)
		if err != nil {
			return NewTransportError("cannot decode remote resource", err).
				WithResource(key.String()).WithOperation("read").WithCode(ErrCodeMalformedResponse)
		}
		remote = decoded
	}

	changes, err := model.Compare(desired, current)
	if err != nil {
		return NewValidationError("cannot compare resource", err).WithResource(key.String()).WithOperation("compare")
	}
	if len(changes) == 0 {
		res.Operation = OperationNoop
		res.Message = fmt.Sprintf("%s is up to date", key)
		res.Resource = remote
		return nil
	}

	res.Operation = OperationUpdate
	res.Changes = changes
	payload, err := model.Merge(current, desired)
	if err != nil {
		return NewValidationError("cannot merge resource", err).WithResource(key.String()).WithOperation("merge")
	}

	if s.dryRun {
		res.Message = fmt.Sprintf("%s would be updated (%d fields)", key, len(changes))
		merged, err := model.FromObject(key.Kind, payload)
		if err == nil {
			res.Resource = merged
		}
		return nil
	}

	scope, err := s.scope(ctx)
	if err != nil {
		return err
	}
	updated, err := s.r.remote.Update(ctx, key, payload, scope)
	if err != nil {
		return err
	}
	if updated == nil {
		updated, _ = model.FromObject(key.Kind, payload)
	}

	res.Resource = updated
	res.Message = fmt.Sprintf("%s updated (%d fields)", key, len(changes))
	return nil
}

func (s *session) delete(ctx context.Context, key model.Key, res *Result) error {
	if s.dryRun {
		res.Message = fmt.Sprintf("%s would be deleted", key)
		return nil
	}

	scope, err := s.scope(ctx)
	if err != nil {
		return err
	}
	if err := s.r.remote.Delete(ctx, key, scope); err != nil {
		return err
	}
	res.Message = fmt.Sprintf("%s deleted", key)
	return nil
}

// scope returns where the next write goes, opening or adopting the
// transaction on first use.
func (s *session) scope(ctx context.Context) (WriteScope, error) {
	if s.write == WriteDirect {
		// Every direct write bumps the remote version.
		version, err := s.r.remote.FetchVersion(ctx)
		if err != nil {
			return WriteScope{}, err
		}
		s.version = version
		return WriteScope{Version: version, ForceReload: s.forceReload}, nil
	}

	if s.tx == nil {
		var (
			tx  *Transaction
			err error
		)
		if s.callerTxID != "" {
			tx, err = s.r.txm.Adopt(s.callerTxID)
		} else {
			tx, err = s.r.txm.OpenCurrent(ctx)
		}
		if err != nil {
			return WriteScope{}, err
		}
		s.tx = tx
		s.version = tx.Version
	}
	if !s.tx.IsOpen() {
		return WriteScope{}, NewValidationError(
			fmt.Sprintf("transaction %s is %s", s.tx.ID, s.tx.State()), nil).
			WithCode(ErrCodeInvalidTransition).WithOperation("write")
	}
	return s.tx.Scope(), nil
}

// finish commits the engine's own transaction unless asked not to.
func (s *session) finish(ctx context.Context) error {
	if s.tx == nil || !s.tx.Owned || s.commit == CommitNever {
		return nil
	}
	if _, err := s.r.txm.Commit(ctx, s.tx, s.forceReload); err != nil {
		s.abort(ctx)
		return err
	}
	return nil
}

// abort discards the engine's own transaction after a failure. Caller
// supplied transactions are never touched.
func (s *session) abort(ctx context.Context) {
	if s.tx == nil || !s.tx.Owned || !s.tx.IsOpen() {
		return
	}
	if err := s.r.txm.Discard(context.WithoutCancel(ctx), s.tx); err != nil {
		s.r.logger.Warn().Err(err).Str("transaction_id", s.tx.ID).Msg("Failed to discard transaction after error")
	}
}

func (s *session) transactionID() string {
	if s.tx != nil {
		return s.tx.ID
	}
	return ""
}

func (s *session) transactionState() TransactionState {
	if s.tx == nil {
		return ""
	}
	return s.tx.State()
}
