package engine

import (
	"fmt"

	"github.com/openfroyo/haproxyctl/pkg/model"
)

// ReadResult is the discriminated outcome of StateReader.FetchResource.
type ReadResult struct {
	// Outcome tells found, not found and failed apart.
	Outcome ReadOutcome

	// Resource is the decoded remote resource when found.
	Resource model.Resource

	// Object is the raw JSON object when found. It keeps fields that the
	// model does not describe so updates can preserve them.
	Object model.Object

	// Err is the failure when Outcome is ReadFailed.
	Err error
}

// Found builds a found result.
func Found(r model.Resource, obj model.Object) ReadResult {
	return ReadResult{Outcome: ReadFound, Resource: r, Object: obj}
}

// NotFound builds a not-found result.
func NotFound() ReadResult {
	return ReadResult{Outcome: ReadNotFound}
}

// Failed builds a failed result.
func Failed(err error) ReadResult {
	return ReadResult{Outcome: ReadFailed, Err: err}
}

// Validate checks that the fields agree with the outcome.
func (r ReadResult) Validate() error {
	if err := r.Outcome.Validate(); err != nil {
		return err
	}
	switch r.Outcome {
	case ReadFound:
		if r.Resource == nil && r.Object == nil {
			return fmt.Errorf("found read result without a resource")
		}
	case ReadFailed:
		if r.Err == nil {
			return fmt.Errorf("failed read result without an error")
		}
	}
	return nil
}

// WriteScope tells a ResourceWriter which URL shape to use. A non-empty
// TransactionID selects the transaction scoped shape; otherwise the write is
// scoped to Version and carries ForceReload.
type WriteScope struct {
	TransactionID string
	Version       int64
	ForceReload   bool
}

// InTransaction reports whether the write belongs to a transaction.
func (s WriteScope) InTransaction() bool {
	return s.TransactionID != ""
}

// TransactionInfo is the remote view of a transaction.
type TransactionInfo struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
	Status  string `json:"status"`
}

// Request is one reconciliation call.
type Request struct {
	// Desired is the resource the caller wants. For StateAbsent only its
	// identity matters and it may be nil.
	Desired model.Resource

	// Key identifies the resource. Servers carry their parent here.
	Key model.Key

	// State is present (default) or absent.
	State TargetState

	// TransactionID, when set, is an already open transaction owned by the
	// caller. The engine writes into it and never commits or discards it.
	TransactionID string

	// ForceReload asks the remote to reload immediately after applying.
	ForceReload bool

	// DryRun reports the decision without any write.
	DryRun bool

	// Write selects transactional (default) or direct writes.
	Write WriteMode

	// Commit decides what happens to a transaction the engine opened.
	Commit CommitPolicy
}

func (r Request) targetState() TargetState {
	if r.State == "" {
		return StatePresent
	}
	return r.State
}

func (r Request) writeMode() WriteMode {
	if r.Write == "" {
		return WriteTransactional
	}
	return r.Write
}

func (r Request) commitPolicy() CommitPolicy {
	if r.Commit == "" {
		return CommitAuto
	}
	return r.Commit
}

// Result is the outcome of one reconciliation call.
type Result struct {
	// Changed is true when a write was issued or, for a dry run, would be.
	Changed bool `json:"changed"`

	// Operation is the decision taken.
	Operation OperationType `json:"operation"`

	// Message is a short human readable summary.
	Message string `json:"message"`

	// Key is the reconciled identity.
	Key model.Key `json:"key"`

	// Resource is the resulting resource: the remote echo after a create or
	// update, the current remote resource after a no-op, nil after a delete.
	Resource model.Resource `json:"resource,omitempty"`

	// Changes lists the differing fields of an update.
	Changes []model.FieldChange `json:"changes,omitempty"`

	// TransactionID is the transaction the writes went to, if any.
	TransactionID string `json:"transaction_id,omitempty"`

	// TransactionState is the local state of that transaction after the call.
	TransactionState TransactionState `json:"transaction_state,omitempty"`

	// DryRun marks results that issued no write.
	DryRun bool `json:"dry_run,omitempty"`
}

// BatchItem is one resource of a batch.
type BatchItem struct {
	Desired model.Resource
	Key     model.Key
	State   TargetState
}

// BatchRequest reconciles several resources in a single transaction.
type BatchRequest struct {
	Items         []BatchItem
	TransactionID string
	ForceReload   bool
	DryRun        bool
	Commit        CommitPolicy
}

// BatchResult holds per item results in execution order.
type BatchResult struct {
	Results          []*Result        `json:"results"`
	Changed          bool             `json:"changed"`
	TransactionID    string           `json:"transaction_id,omitempty"`
	TransactionState TransactionState `json:"transaction_state,omitempty"`
	Version          int64            `json:"version,omitempty"`
}
