package engine

import (
	"fmt"
)

// TargetState is the desired presence of a resource.
type TargetState string

const (
	// StatePresent means the resource must exist and match the desired fields.
	StatePresent TargetState = "present"

	// StateAbsent means the resource must not exist.
	StateAbsent TargetState = "absent"
)

// Validate checks if the target state is valid. The empty value means present.
func (s TargetState) Validate() error {
	switch s {
	case "", StatePresent, StateAbsent:
		return nil
	default:
		return fmt.Errorf("invalid target state: %s", s)
	}
}

// OperationType is the decision taken by the reconciler.
type OperationType string

const (
	// OperationCreate indicates a new resource is created.
	OperationCreate OperationType = "create"

	// OperationUpdate indicates an existing resource is replaced by the merged payload.
	OperationUpdate OperationType = "update"

	// OperationDelete indicates an existing resource is deleted.
	OperationDelete OperationType = "delete"

	// OperationNoop indicates the remote already matches.
	OperationNoop OperationType = "noop"
)

// IsDestructive returns true if the operation removes a resource.
func (o OperationType) IsDestructive() bool {
	return o == OperationDelete
}

// IsMutating returns true if the operation writes to the remote.
func (o OperationType) IsMutating() bool {
	return o == OperationCreate || o == OperationUpdate || o == OperationDelete
}

// Validate checks if the operation type is valid.
func (o OperationType) Validate() error {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete, OperationNoop:
		return nil
	default:
		return fmt.Errorf("invalid operation type: %s", o)
	}
}

// WriteMode selects how writes reach the remote.
type WriteMode string

const (
	// WriteTransactional issues writes inside a transaction. Default.
	WriteTransactional WriteMode = "transactional"

	// WriteDirect issues version scoped writes without a transaction.
	WriteDirect WriteMode = "direct"
)

// Validate checks if the write mode is valid. The empty value means transactional.
func (m WriteMode) Validate() error {
	switch m {
	case "", WriteTransactional, WriteDirect:
		return nil
	default:
		return fmt.Errorf("invalid write mode: %s", m)
	}
}

// CommitPolicy decides what happens to a transaction the engine opened.
type CommitPolicy string

const (
	// CommitAuto commits the engine's transaction after its writes. Default.
	CommitAuto CommitPolicy = "auto"

	// CommitNever leaves the engine's transaction open and returns its id.
	CommitNever CommitPolicy = "never"
)

// Validate checks if the commit policy is valid. The empty value means auto.
func (p CommitPolicy) Validate() error {
	switch p {
	case "", CommitAuto, CommitNever:
		return nil
	default:
		return fmt.Errorf("invalid commit policy: %s", p)
	}
}

// TransactionState is the local lifecycle state of a transaction.
type TransactionState string

const (
	// TxNone is the state before open.
	TxNone TransactionState = "none"

	// TxOpen is an in-progress transaction accepting writes.
	TxOpen TransactionState = "open"

	// TxCommitted is terminal: the writes were applied.
	TxCommitted TransactionState = "committed"

	// TxDiscarded is terminal: the writes were abandoned.
	TxDiscarded TransactionState = "discarded"
)

// IsTerminal returns true if no further transition is possible.
func (s TransactionState) IsTerminal() bool {
	return s == TxCommitted || s == TxDiscarded
}

// Validate checks if the transaction state is valid.
func (s TransactionState) Validate() error {
	switch s {
	case TxNone, TxOpen, TxCommitted, TxDiscarded:
		return nil
	default:
		return fmt.Errorf("invalid transaction state: %s", s)
	}
}

// ReadOutcome is one of the three results of a remote read.
type ReadOutcome string

const (
	// ReadFound means the resource exists and ReadResult.Resource is set.
	ReadFound ReadOutcome = "found"

	// ReadNotFound means the remote reported the resource absent.
	ReadNotFound ReadOutcome = "not_found"

	// ReadFailed means the read itself failed and ReadResult.Err is set.
	ReadFailed ReadOutcome = "failed"
)

// Validate checks if the outcome is valid.
func (o ReadOutcome) Validate() error {
	switch o {
	case ReadFound, ReadNotFound, ReadFailed:
		return nil
	default:
		return fmt.Errorf("invalid read outcome: %s", o)
	}
}
