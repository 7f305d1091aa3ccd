package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// RunStatus represents the status of an apply run
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"

	// RunStatusDenied marks runs stopped by validation or policy before
	// anything was sent.
	RunStatusDenied RunStatus = "denied"
)

// IsTerminal reports whether the run has finished.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed || s == RunStatusDenied
}

// Run is one apply of a manifest against a Data Plane API instance.
type Run struct {
	ID            string    `json:"id"`
	Sources       []string  `json:"sources"`
	Status        RunStatus `json:"status"`
	DryRun        bool      `json:"dry_run"`
	BaseURL       string    `json:"base_url"`
	TransactionID *string   `json:"transaction_id,omitempty"`

	// VersionBefore and VersionAfter are the configuration versions seen
	// before the run and after its commit.
	VersionBefore *int64 `json:"version_before,omitempty"`
	VersionAfter  *int64 `json:"version_after,omitempty"`

	Resources int  `json:"resources"`
	Changed   bool `json:"changed"`

	// Attempts counts version conflict retries plus the first try.
	Attempts int `json:"attempts"`

	Error      *string `json:"error,omitempty"`
	ErrorClass *string `json:"error_class,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Change is the reconciliation outcome of one resource within a run.
type Change struct {
	ID          int64     `json:"id"`
	RunID       string    `json:"run_id"`
	Seq         int       `json:"seq"`
	ResourceKey string    `json:"resource_key"`
	Kind        string    `json:"kind"`
	Operation   string    `json:"operation"`
	Changed     bool      `json:"changed"`
	Message     string    `json:"message"`
	Fields      []string  `json:"fields"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Transaction is a Data Plane API transaction a run used.
type Transaction struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Version   int64     `json:"version"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunOutcome finishes a run.
type RunOutcome struct {
	Status        RunStatus
	TransactionID string
	VersionBefore *int64
	VersionAfter  *int64
	Changed       bool
	Attempts      int
	Err           error
	ErrorClass    string
}

// Journal records apply runs.
type Journal interface {
	// Lifecycle
	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Close() error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id string, outcome RunOutcome) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error
	PruneRuns(ctx context.Context, before time.Time) (int64, error)

	// Change operations
	RecordChanges(ctx context.Context, runID string, changes []Change) error
	ListChanges(ctx context.Context, runID string) ([]*Change, error)
	ResourceHistory(ctx context.Context, resourceKey string, limit int) ([]*Change, error)

	// Transaction operations
	RecordTransaction(ctx context.Context, tx *Transaction) error
	ListTransactions(ctx context.Context, runID string) ([]*Transaction, error)
}
