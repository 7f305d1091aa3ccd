package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/openfroyo/haproxyctl/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ Journal = (*SQLiteStore)(nil)

// SQLiteStore implements Journal using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Every connection to :memory: opens a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate&_time_format=sqlite"
	if s.cfg.Path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HealthCheck verifies the database answers.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

const runColumns = `id, sources, status, dry_run, base_url, transaction_id, version_before, version_after,
	resources, changed, attempts, error, error_class, started_at, completed_at`

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	if run.Attempts == 0 {
		run.Attempts = 1
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.StartedAt = run.StartedAt.UTC()

	sources, err := json.Marshal(nonNil(run.Sources))
	if err != nil {
		return fmt.Errorf("failed to encode sources: %w", err)
	}

	query := `INSERT INTO runs (` + runColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		string(sources),
		run.Status,
		run.DryRun,
		run.BaseURL,
		run.TransactionID,
		run.VersionBefore,
		run.VersionAfter,
		run.Resources,
		run.Changed,
		run.Attempts,
		run.Error,
		run.ErrorClass,
		run.StartedAt,
		run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// FinishRun records the outcome of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, outcome RunOutcome) error {
	if !outcome.Status.IsTerminal() {
		return fmt.Errorf("run %s: status %q is not terminal", id, outcome.Status)
	}

	var errMsg, errClass, txID *string
	if outcome.Err != nil {
		msg := outcome.Err.Error()
		errMsg = &msg
		class := outcome.ErrorClass
		if class == "" {
			class = string(engine.ClassOf(outcome.Err))
		}
		if class != "" {
			errClass = &class
		}
	}
	if outcome.TransactionID != "" {
		txID = &outcome.TransactionID
	}
	attempts := outcome.Attempts
	if attempts == 0 {
		attempts = 1
	}

	query := `
		UPDATE runs
		SET status = ?, transaction_id = COALESCE(?, transaction_id),
			version_before = COALESCE(?, version_before), version_after = ?,
			changed = ?, attempts = ?, error = ?, error_class = ?, completed_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		outcome.Status, txID, outcome.VersionBefore, outcome.VersionAfter, outcome.Changed, attempts,
		errMsg, errClass, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var sources string
	err := row.Scan(
		&run.ID,
		&sources,
		&run.Status,
		&run.DryRun,
		&run.BaseURL,
		&run.TransactionID,
		&run.VersionBefore,
		&run.VersionAfter,
		&run.Resources,
		&run.Changed,
		&run.Attempts,
		&run.Error,
		&run.ErrorClass,
		&run.StartedAt,
		&run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sources), &run.Sources); err != nil {
		return nil, fmt.Errorf("failed to decode sources: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs with pagination, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run with its changes and transactions
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	return nil
}

// PruneRuns deletes finished runs started before the given time.
func (s *SQLiteStore) PruneRuns(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE started_at < ? AND status != ?`, before.UTC(), RunStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return result.RowsAffected()
}

// RecordChanges appends changes to a run in one database transaction.
// Seq numbers continue after the run's existing changes.
func (s *SQLiteStore) RecordChanges(ctx context.Context, runID string, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM changes WHERE run_id = ?`, runID).Scan(&next); err != nil {
		return fmt.Errorf("failed to read change sequence: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO changes (run_id, seq, resource_key, kind, operation, changed, message, fields, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range changes {
		c := &changes[i]
		next++
		c.RunID = runID
		c.Seq = next
		if c.RecordedAt.IsZero() {
			c.RecordedAt = now
		}
		fields, err := json.Marshal(nonNil(c.Fields))
		if err != nil {
			return fmt.Errorf("failed to encode fields: %w", err)
		}
		res, err := stmt.ExecContext(ctx, runID, c.Seq, c.ResourceKey, c.Kind, c.Operation,
			c.Changed, c.Message, string(fields), c.RecordedAt)
		if err != nil {
			if strings.Contains(err.Error(), "FOREIGN KEY") {
				return fmt.Errorf("run %s: %w", runID, ErrNotFound)
			}
			return fmt.Errorf("failed to record change: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			c.ID = id
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit changes: %w", err)
	}
	return nil
}

const changeColumns = `id, run_id, seq, resource_key, kind, operation, changed, message, fields, recorded_at`

func (s *SQLiteStore) queryChanges(ctx context.Context, query string, args ...any) ([]*Change, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}
	defer rows.Close()

	changes := []*Change{}
	for rows.Next() {
		c := &Change{}
		var fields string
		if err := rows.Scan(&c.ID, &c.RunID, &c.Seq, &c.ResourceKey, &c.Kind, &c.Operation,
			&c.Changed, &c.Message, &fields, &c.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		if err := json.Unmarshal([]byte(fields), &c.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode fields: %w", err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating changes: %w", err)
	}
	return changes, nil
}

// ListChanges returns the changes of a run in execution order.
func (s *SQLiteStore) ListChanges(ctx context.Context, runID string) ([]*Change, error) {
	return s.queryChanges(ctx,
		`SELECT `+changeColumns+` FROM changes WHERE run_id = ? ORDER BY seq`, runID)
}

// ResourceHistory returns the most recent changes of one resource across
// runs, newest first. Dry runs are excluded.
func (s *SQLiteStore) ResourceHistory(ctx context.Context, resourceKey string, limit int) ([]*Change, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryChanges(ctx, `
		SELECT c.id, c.run_id, c.seq, c.resource_key, c.kind, c.operation, c.changed, c.message, c.fields, c.recorded_at
		FROM changes c JOIN runs r ON r.id = c.run_id
		WHERE c.resource_key = ? AND r.dry_run = 0
		ORDER BY c.recorded_at DESC, c.id DESC
		LIMIT ?
	`, resourceKey, limit)
}

// RecordTransaction inserts or updates a transaction of a run.
func (s *SQLiteStore) RecordTransaction(ctx context.Context, tx *Transaction) error {
	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now

	query := `
		INSERT INTO transactions (id, run_id, version, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, tx.ID, tx.RunID, tx.Version, tx.Status, tx.CreatedAt, tx.UpdatedAt); err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return fmt.Errorf("run %s: %w", tx.RunID, ErrNotFound)
		}
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

// ListTransactions returns the transactions of a run, oldest first.
func (s *SQLiteStore) ListTransactions(ctx context.Context, runID string) ([]*Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, version, status, created_at, updated_at
		FROM transactions WHERE run_id = ? ORDER BY created_at, id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txs := []*Transaction{}
	for rows.Next() {
		t := &Transaction{}
		if err := rows.Scan(&t.ID, &t.RunID, &t.Version, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txs, nil
}

// ChangesFromBatch converts batch results into journal changes.
func ChangesFromBatch(result *engine.BatchResult) []Change {
	if result == nil {
		return nil
	}
	changes := make([]Change, 0, len(result.Results))
	for _, r := range result.Results {
		if r == nil {
			continue
		}
		fields := make([]string, len(r.Changes))
		for i, fc := range r.Changes {
			fields[i] = fc.Path
		}
		changes = append(changes, Change{
			ResourceKey: r.Key.String(),
			Kind:        string(r.Key.Kind),
			Operation:   string(r.Operation),
			Changed:     r.Changed,
			Message:     r.Message,
			Fields:      fields,
		})
	}
	return changes
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
