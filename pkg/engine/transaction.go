package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/openfroyo/haproxyctl/pkg/engine"

// Transaction lifecycle events.
const (
	eventOpen    = "open"
	eventCommit  = "commit"
	eventDiscard = "discard"
)

// Transaction is a remote configuration transaction together with its local
// lifecycle: none, open, then committed or discarded. Transitions are
// checked locally before anything is sent to the remote.
type Transaction struct {
	// ID is the remote transaction identifier.
	ID string

	// Version is the configuration version the transaction is anchored to.
	// Zero for adopted transactions whose version was never read.
	Version int64

	// Owned is true when the engine opened the transaction and is therefore
	// responsible for closing it.
	Owned bool

	machine *fsm.FSM
}

func newTransaction(initial TransactionState) *Transaction {
	return &Transaction{
		machine: fsm.NewFSM(
			string(initial),
			fsm.Events{
				{Name: eventOpen, Src: []string{string(TxNone)}, Dst: string(TxOpen)},
				{Name: eventCommit, Src: []string{string(TxOpen)}, Dst: string(TxCommitted)},
				{Name: eventDiscard, Src: []string{string(TxOpen)}, Dst: string(TxDiscarded)},
			},
			fsm.Callbacks{},
		),
	}
}

// State returns the current local state.
func (t *Transaction) State() TransactionState {
	if t == nil {
		return TxNone
	}
	return TransactionState(t.machine.Current())
}

// IsOpen reports whether the transaction accepts writes.
func (t *Transaction) IsOpen() bool {
	return t.State() == TxOpen
}

// Scope returns the write scope for writes inside this transaction.
func (t *Transaction) Scope() WriteScope {
	return WriteScope{TransactionID: t.ID, Version: t.Version}
}

// guard returns a local validation error when event is not allowed from the
// current state.
func (t *Transaction) guard(event string) error {
	if t.machine.Can(event) {
		return nil
	}
	return NewValidationError(
		fmt.Sprintf("cannot %s transaction in state %s", event, t.State()), nil).
		WithCode(ErrCodeInvalidTransition).
		WithOperation("transaction." + event).
		WithResource(t.ID)
}

// advance applies event after the remote accepted it. The local transition
// must not be lost to a cancelled context once the remote side is done.
func (t *Transaction) advance(ctx context.Context, event string) error {
	err := t.machine.Event(context.WithoutCancel(ctx), event)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		return fmt.Errorf("transaction %s: %w", event, err)
	}
	return nil
}

// TransactionManager drives transactions against a TransactionAPI. It holds
// no state of its own; every Transaction carries its own lifecycle.
type TransactionManager struct {
	api     TransactionAPI
	reader  StateReader
	logger  zerolog.Logger
	tracer  trace.Tracer
	metrics Recorder
}

// NewTransactionManager creates a manager. reader is used by OpenCurrent and
// may be nil when only explicit versions are opened.
func NewTransactionManager(api TransactionAPI, reader StateReader, opts ...Option) *TransactionManager {
	o := applyOptions(opts)
	return &TransactionManager{
		api:     api,
		reader:  reader,
		logger:  o.logger.With().Str("component", "transactions").Logger(),
		tracer:  o.tracer,
		metrics: o.metrics,
	}
}

// Open starts a transaction anchored to version. A stale version surfaces
// as a version conflict; it is never retried here.
func (m *TransactionManager) Open(ctx context.Context, version int64) (*Transaction, error) {
	ctx, span := m.tracer.Start(ctx, "transaction.open",
		trace.WithAttributes(attribute.Int64("haproxy.version", version)))
	defer span.End()

	tx := newTransaction(TxNone)
	if err := tx.guard(eventOpen); err != nil {
		return nil, err
	}

	info, err := m.api.OpenTransaction(ctx, version)
	if err != nil {
		m.fail(span, err, "open")
		m.logger.Warn().Err(err).Int64("version", version).Msg("Failed to open transaction")
		return nil, err
	}
	if info == nil || info.ID == "" {
		err := NewTransportError("transaction open returned no id", nil).WithOperation("transaction.open")
		m.fail(span, err, "open")
		return nil, err
	}

	tx.ID = info.ID
	tx.Version = version
	if info.Version != 0 {
		tx.Version = info.Version
	}
	tx.Owned = true
	if err := tx.advance(ctx, eventOpen); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("haproxy.transaction_id", tx.ID))
	m.metrics.RecordTransaction("opened")
	m.logger.Debug().Str("transaction_id", tx.ID).Int64("version", tx.Version).Msg("Opened transaction")
	return tx, nil
}

// OpenCurrent fetches the current configuration version and opens a
// transaction against it.
func (m *TransactionManager) OpenCurrent(ctx context.Context) (*Transaction, error) {
	if m.reader == nil {
		return nil, NewValidationError("no state reader configured", nil).WithOperation("transaction.open")
	}
	version, err := m.reader.FetchVersion(ctx)
	if err != nil {
		return nil, err
	}
	return m.Open(ctx, version)
}

// Adopt wraps a transaction opened by someone else. The engine never
// commits or discards adopted transactions on its own.
func (m *TransactionManager) Adopt(id string) (*Transaction, error) {
	if id == "" {
		return nil, NewValidationError("transaction id is required", nil).WithOperation("transaction.adopt")
	}
	tx := newTransaction(TxOpen)
	tx.ID = id
	return tx, nil
}

// Commit validates and applies the writes of tx. A remote rejection is
// returned verbatim and leaves tx open so its owner can discard it.
func (m *TransactionManager) Commit(ctx context.Context, tx *Transaction, forceReload bool) (*TransactionInfo, error) {
	if tx == nil {
		return nil, NewValidationError("transaction is required", nil).WithOperation("transaction.commit")
	}

	ctx, span := m.tracer.Start(ctx, "transaction.commit", trace.WithAttributes(
		attribute.String("haproxy.transaction_id", tx.ID),
		attribute.Bool("haproxy.force_reload", forceReload),
	))
	defer span.End()

	if err := tx.guard(eventCommit); err != nil {
		m.fail(span, err, "commit")
		return nil, err
	}

	info, err := m.api.CommitTransaction(ctx, tx.ID, forceReload)
	if err != nil {
		m.fail(span, err, "commit")
		m.logger.Warn().Err(err).Str("transaction_id", tx.ID).Msg("Failed to commit transaction")
		return nil, err
	}
	if err := tx.advance(ctx, eventCommit); err != nil {
		return nil, err
	}

	m.metrics.RecordTransaction("committed")
	m.logger.Info().Str("transaction_id", tx.ID).Msg("Committed transaction")
	return info, nil
}

// Discard abandons tx.
func (m *TransactionManager) Discard(ctx context.Context, tx *Transaction) error {
	if tx == nil {
		return NewValidationError("transaction is required", nil).WithOperation("transaction.discard")
	}

	ctx, span := m.tracer.Start(ctx, "transaction.discard",
		trace.WithAttributes(attribute.String("haproxy.transaction_id", tx.ID)))
	defer span.End()

	if err := tx.guard(eventDiscard); err != nil {
		m.fail(span, err, "discard")
		return err
	}

	if err := m.api.DiscardTransaction(ctx, tx.ID); err != nil {
		m.fail(span, err, "discard")
		m.logger.Warn().Err(err).Str("transaction_id", tx.ID).Msg("Failed to discard transaction")
		return err
	}
	if err := tx.advance(ctx, eventDiscard); err != nil {
		return err
	}

	m.metrics.RecordTransaction("discarded")
	m.logger.Info().Str("transaction_id", tx.ID).Msg("Discarded transaction")
	return nil
}

// Get reads the remote view of a transaction.
func (m *TransactionManager) Get(ctx context.Context, id string) (*TransactionInfo, error) {
	if id == "" {
		return nil, NewValidationError("transaction id is required", nil).WithOperation("transaction.get")
	}
	return m.api.GetTransaction(ctx, id)
}

func (m *TransactionManager) fail(span trace.Span, err error, op string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	switch {
	case IsVersionConflict(err):
		m.metrics.RecordTransaction("conflict")
	case op == "commit" && IsValidationFailed(err):
		m.metrics.RecordTransaction("rejected")
	default:
		m.metrics.RecordTransaction(op + "_failed")
	}
}

// defaultTracer returns the global tracer for the engine.
func defaultTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
