package engine

import (
	"context"
	"time"

	"github.com/openfroyo/haproxyctl/pkg/model"
)

// StateReader fetches the current remote state.
type StateReader interface {
	// FetchVersion returns the current configuration version.
	FetchVersion(ctx context.Context) (int64, error)

	// FetchResource reads a resource by key. The result is always one of
	// found, not found or failed; a 404 is never reported as a failure.
	FetchResource(ctx context.Context, key model.Key) ReadResult
}

// ResourceWriter issues writes, either inside a transaction or scoped to a
// configuration version.
type ResourceWriter interface {
	// Create posts a new resource and returns the resource echoed by the remote.
	Create(ctx context.Context, key model.Key, body any, scope WriteScope) (model.Resource, error)

	// Update replaces an existing resource and returns the echoed resource.
	Update(ctx context.Context, key model.Key, body any, scope WriteScope) (model.Resource, error)

	// Delete removes a resource.
	Delete(ctx context.Context, key model.Key, scope WriteScope) error
}

// TransactionAPI is the remote side of the transaction lifecycle.
type TransactionAPI interface {
	// OpenTransaction starts a transaction anchored to version.
	OpenTransaction(ctx context.Context, version int64) (*TransactionInfo, error)

	// CommitTransaction validates and applies every write issued under id.
	CommitTransaction(ctx context.Context, id string, forceReload bool) (*TransactionInfo, error)

	// DiscardTransaction abandons a transaction.
	DiscardTransaction(ctx context.Context, id string) error

	// GetTransaction reads the remote view of a transaction.
	GetTransaction(ctx context.Context, id string) (*TransactionInfo, error)
}

// Remote is everything the reconciler needs from the Data Plane API.
type Remote interface {
	StateReader
	ResourceWriter
	TransactionAPI
}

// Recorder receives engine measurements. telemetry.Metrics implements it.
type Recorder interface {
	RecordReconcile(kind, operation string, changed bool, duration time.Duration)
	RecordTransaction(outcome string)
	RecordError(class, code string)
}

type nopRecorder struct{}

func (nopRecorder) RecordReconcile(string, string, bool, time.Duration) {}
func (nopRecorder) RecordTransaction(string)                            {}
func (nopRecorder) RecordError(string, string)                          {}
