package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/openfroyo/haproxyctl/pkg/config"
	"github.com/openfroyo/haproxyctl/pkg/engine"
	"github.com/openfroyo/haproxyctl/pkg/model"
	"github.com/openfroyo/haproxyctl/pkg/policy"
	"github.com/openfroyo/haproxyctl/pkg/stores"
	"github.com/openfroyo/haproxyctl/pkg/telemetry"
)

const siteManifest = `
resources:
  - kind: backend
    spec: {name: web, mode: tcp}
  - kind: server
    parent: {kind: backend, name: web}
    spec: {name: web1, address: 10.0.0.1, port: 8080}
`

// fakeBatch fails with errs in order, then succeeds with result.
type fakeBatch struct {
	errs   []error
	result *engine.BatchResult
	calls  int
	reqs   []engine.BatchRequest
}

func (f *fakeBatch) ReconcileBatch(_ context.Context, req engine.BatchRequest) (*engine.BatchResult, error) {
	f.calls++
	f.reqs = append(f.reqs, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.result, nil
}

type fakeVersion struct{ version int64 }

func (f fakeVersion) FetchVersion(context.Context) (int64, error) { return f.version, nil }

func committedResult() *engine.BatchResult {
	return &engine.BatchResult{
		Results: []*engine.Result{
			{Key: model.BackendKey("web"), Operation: engine.OperationCreate, Changed: true, Message: "created"},
			{Key: model.ServerKey(model.KindBackend, "web", "web1"), Operation: engine.OperationNoop, Message: "up to date"},
		},
		Changed:          true,
		TransactionID:    "tx-1",
		TransactionState: engine.TxCommitted,
		Version:          5,
	}
}

func newTestApplier(t *testing.T, manifest string, batch batchReconciler) (*applier, *stores.SQLiteStore, *bytes.Buffer) {
	t.Helper()

	dir := t.TempDir()
	file := filepath.Join(dir, "site.yaml")
	if err := os.WriteFile(file, []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	journal, err := stores.Open(context.Background(), filepath.Join(dir, "journal.db"))
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })

	tracer, err := telemetry.NewTracer(telemetry.TracingConfig{}, "haproxyctl-test", "dev", "test")
	if err != nil {
		t.Fatal(err)
	}

	pe, err := policy.NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	out := &bytes.Buffer{}
	return &applier{
		files:      []string{file},
		baseURL:    "http://127.0.0.1:5555",
		env:        "test",
		loader:     config.NewLoader(),
		batch:      batch,
		versioner:  fakeVersion{version: 5},
		policies:   pe,
		journal:    journal,
		tracer:     tracer,
		logger:     zerolog.Nop(),
		out:        out,
		newBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}, journal, out
}

func onlyRun(t *testing.T, journal *stores.SQLiteStore) *stores.Run {
	t.Helper()
	runs, err := journal.ListRuns(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	return runs[0]
}

func TestApplierSuccess(t *testing.T) {
	batch := &fakeBatch{result: committedResult()}
	a, journal, out := newTestApplier(t, siteManifest, batch)

	res, err := a.apply(context.Background())
	if err != nil {
		t.Fatalf("apply() error = %v", err)
	}
	if !res.Changed {
		t.Error("expected changed result")
	}
	if len(batch.reqs) != 1 || len(batch.reqs[0].Items) != 2 || !batch.reqs[0].ForceReload {
		t.Errorf("unexpected batch request: %+v", batch.reqs)
	}
	if !strings.Contains(out.String(), "+ backend/web: created") {
		t.Errorf("unexpected output:\n%s", out.String())
	}

	run := onlyRun(t, journal)
	if run.Status != stores.RunStatusSuccess || !run.Changed || run.Attempts != 1 {
		t.Errorf("unexpected run: %+v", run)
	}
	if run.VersionBefore == nil || *run.VersionBefore != 5 {
		t.Errorf("version_before = %v, want 5", run.VersionBefore)
	}
	if run.VersionAfter == nil || *run.VersionAfter != 6 {
		t.Errorf("version_after = %v, want 6", run.VersionAfter)
	}
	if run.TransactionID == nil || *run.TransactionID != "tx-1" {
		t.Errorf("transaction_id = %v, want tx-1", run.TransactionID)
	}

	changes, err := journal.ListChanges(context.Background(), run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 2 || changes[0].ResourceKey != "backend/web" || changes[0].Operation != "create" {
		t.Errorf("unexpected changes: %+v", changes)
	}

	txs, err := journal.ListTransactions(context.Background(), run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 1 || txs[0].Status != string(engine.TxCommitted) {
		t.Errorf("unexpected transactions: %+v", txs)
	}
}

func TestApplierRetriesVersionConflicts(t *testing.T) {
	conflict := engine.NewVersionConflictError("commit transaction", nil)
	batch := &fakeBatch{errs: []error{conflict, conflict}, result: committedResult()}
	a, journal, _ := newTestApplier(t, siteManifest, batch)
	a.retries = 2

	if _, err := a.apply(context.Background()); err != nil {
		t.Fatalf("apply() error = %v", err)
	}
	if batch.calls != 3 {
		t.Errorf("expected 3 calls, got %d", batch.calls)
	}
	if run := onlyRun(t, journal); run.Attempts != 3 || run.Status != stores.RunStatusSuccess {
		t.Errorf("unexpected run: %+v", run)
	}
}

func TestApplierRetryLimit(t *testing.T) {
	conflict := engine.NewVersionConflictError("open transaction", nil)
	batch := &fakeBatch{errs: []error{conflict, conflict, conflict}, result: committedResult()}
	a, journal, _ := newTestApplier(t, siteManifest, batch)
	a.retries = 1

	_, err := a.apply(context.Background())
	if !engine.IsVersionConflict(err) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if batch.calls != 2 {
		t.Errorf("expected 2 calls, got %d", batch.calls)
	}

	run := onlyRun(t, journal)
	if run.Status != stores.RunStatusFailed || run.Attempts != 2 {
		t.Errorf("unexpected run: %+v", run)
	}
	if run.ErrorClass == nil || *run.ErrorClass != string(engine.ErrorClassVersionConflict) {
		t.Errorf("error_class = %v", run.ErrorClass)
	}
}

func TestApplierNoRetryWithoutFlag(t *testing.T) {
	conflict := engine.NewVersionConflictError("open transaction", nil)
	batch := &fakeBatch{errs: []error{conflict}, result: committedResult()}
	a, _, _ := newTestApplier(t, siteManifest, batch)

	if _, err := a.apply(context.Background()); !engine.IsVersionConflict(err) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if batch.calls != 1 {
		t.Errorf("expected 1 call, got %d", batch.calls)
	}
}

func TestApplierNoRetryForOtherErrors(t *testing.T) {
	transport := engine.NewTransportError("connection refused", errors.New("dial tcp"))
	batch := &fakeBatch{errs: []error{transport}, result: committedResult()}
	a, _, _ := newTestApplier(t, siteManifest, batch)
	a.retries = 3

	if _, err := a.apply(context.Background()); !engine.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if batch.calls != 1 {
		t.Errorf("expected 1 call, got %d", batch.calls)
	}
}

func TestApplierNoRetryInCallerTransaction(t *testing.T) {
	manifest := "transaction: {id: tx-caller}\n" + siteManifest
	conflict := engine.NewVersionConflictError("commit transaction", nil)
	batch := &fakeBatch{errs: []error{conflict}, result: committedResult()}
	a, _, _ := newTestApplier(t, manifest, batch)
	a.retries = 3

	if _, err := a.apply(context.Background()); !engine.IsVersionConflict(err) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if batch.calls != 1 {
		t.Errorf("expected 1 call, got %d", batch.calls)
	}
	if batch.reqs[0].TransactionID != "tx-caller" {
		t.Errorf("transaction id = %q", batch.reqs[0].TransactionID)
	}
}

func TestApplierPolicyDenied(t *testing.T) {
	manifest := `
resources:
  - kind: backend
    state: absent
    spec: {name: old}
  - kind: server
    parent: {kind: backend, name: old}
    spec: {name: s1, address: 10.0.0.1, port: 80}
`
	batch := &fakeBatch{result: committedResult()}
	a, journal, out := newTestApplier(t, manifest, batch)

	_, err := a.apply(context.Background())
	if !engine.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if batch.calls != 0 {
		t.Errorf("expected no reconcile call, got %d", batch.calls)
	}
	if !strings.Contains(out.String(), "dangling-references") {
		t.Errorf("expected violation in output:\n%s", out.String())
	}
	if run := onlyRun(t, journal); run.Status != stores.RunStatusDenied {
		t.Errorf("status = %s, want denied", run.Status)
	}
}

func TestApplierInvalidManifest(t *testing.T) {
	batch := &fakeBatch{result: committedResult()}
	a, journal, _ := newTestApplier(t, "resources:\n  - kind: backend\n    spec: {name: web, mode: udp}\n", batch)

	if _, err := a.apply(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if batch.calls != 0 {
		t.Errorf("expected no reconcile call, got %d", batch.calls)
	}
	runs, err := journal.ListRuns(context.Background(), 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range runs {
		if r.Status == stores.RunStatusSuccess {
			t.Errorf("invalid manifest recorded as success: %+v", r)
		}
	}
}

func TestApplierDryRun(t *testing.T) {
	result := committedResult()
	result.TransactionID = ""
	result.TransactionState = ""
	result.Version = 0
	batch := &fakeBatch{result: result}
	a, journal, _ := newTestApplier(t, siteManifest, batch)
	a.dryRun = true

	if _, err := a.apply(context.Background()); err != nil {
		t.Fatalf("apply() error = %v", err)
	}
	if !batch.reqs[0].DryRun {
		t.Error("expected dry run request")
	}

	run := onlyRun(t, journal)
	if !run.DryRun || run.VersionBefore != nil || run.VersionAfter != nil {
		t.Errorf("unexpected dry run: %+v", run)
	}
	history, err := journal.ResourceHistory(context.Background(), "backend/web", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		t.Errorf("dry runs should not appear in resource history, got %d", len(history))
	}
}

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"env=prod", "replicas=3"})
	if err != nil {
		t.Fatalf("parseVars() error = %v", err)
	}
	if vars["env"] != "prod" || vars["replicas"] != float64(3) {
		t.Errorf("unexpected vars: %v", vars)
	}

	if _, err := parseVars([]string{"novalue"}); !engine.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}
