package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/haproxyctl/pkg/model"
)

// fakeRemote is an in-memory Data Plane API. Transaction scoped writes are
// buffered and applied on commit; direct writes apply immediately. Every
// applied change bumps the version.
type fakeRemote struct {
	version int64

	// reportedVersion, when non-zero, is what FetchVersion returns instead
	// of the real version, simulating a concurrent writer.
	reportedVersion int64

	objects map[string]model.Object
	txs     map[string]*fakeTx
	nextTx  int
	calls   []string

	readErr   error
	writeErr  error
	commitErr error
}

type fakeTx struct {
	version int64
	status  string
	ops     []func()
}

func newFakeRemote(version int64) *fakeRemote {
	return &fakeRemote{
		version: version,
		objects: make(map[string]model.Object),
		txs:     make(map[string]*fakeTx),
	}
}

func (f *fakeRemote) seed(key model.Key, js string) {
	obj, err := model.DecodeObject([]byte(js))
	if err != nil {
		panic(err)
	}
	f.objects[key.String()] = obj
}

func (f *fakeRemote) called(prefix string) int {
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeRemote) FetchVersion(ctx context.Context) (int64, error) {
	f.calls = append(f.calls, "version")
	if f.reportedVersion != 0 {
		return f.reportedVersion, nil
	}
	return f.version, nil
}

func (f *fakeRemote) FetchResource(ctx context.Context, key model.Key) ReadResult {
	f.calls = append(f.calls, "read "+key.String())
	if f.readErr != nil {
		return Failed(f.readErr)
	}
	obj, ok := f.objects[key.String()]
	if !ok {
		return NotFound()
	}
	r, err := model.FromObject(key.Kind, obj)
	if err != nil {
		return Failed(err)
	}
	return Found(r, obj)
}

func (f *fakeRemote) write(op string, key model.Key, scope WriteScope, apply func()) error {
	f.calls = append(f.calls, fmt.Sprintf("%s %s tx=%s", op, key, scope.TransactionID))
	if f.writeErr != nil {
		return f.writeErr
	}
	if !scope.InTransaction() {
		if scope.Version != f.version {
			return NewVersionConflictError("version mismatch", nil).WithOperation(op)
		}
		apply()
		f.version++
		return nil
	}
	tx, ok := f.txs[scope.TransactionID]
	if !ok || tx.status != "in_progress" {
		return NewNotFoundError("transaction not found", nil).WithOperation(op)
	}
	tx.ops = append(tx.ops, apply)
	return nil
}

func (f *fakeRemote) Create(ctx context.Context, key model.Key, body any, scope WriteScope) (model.Resource, error) {
	obj, err := model.ToObject(body)
	if err != nil {
		return nil, err
	}
	if err := f.write("create", key, scope, func() { f.objects[key.String()] = obj }); err != nil {
		return nil, err
	}
	return model.FromObject(key.Kind, obj)
}

func (f *fakeRemote) Update(ctx context.Context, key model.Key, body any, scope WriteScope) (model.Resource, error) {
	obj, err := model.ToObject(body)
	if err != nil {
		return nil, err
	}
	if err := f.write("update", key, scope, func() { f.objects[key.String()] = obj }); err != nil {
		return nil, err
	}
	return model.FromObject(key.Kind, obj)
}

func (f *fakeRemote) Delete(ctx context.Context, key model.Key, scope WriteScope) error {
	return f.write("delete", key, scope, func() { delete(f.objects, key.String()) })
}

func (f *fakeRemote) OpenTransaction(ctx context.Context, version int64) (*TransactionInfo, error) {
	f.calls = append(f.calls, fmt.Sprintf("open v=%d", version))
	if version != f.version {
		return nil, NewVersionConflictError("version mismatch", nil).
			WithOperation("transaction.open").WithStatus(409, `{"code":409,"message":"version mismatch"}`)
	}
	f.nextTx++
	id := fmt.Sprintf("tx-%d", f.nextTx)
	f.txs[id] = &fakeTx{version: version, status: "in_progress"}
	return &TransactionInfo{ID: id, Version: version, Status: "in_progress"}, nil
}

func (f *fakeRemote) CommitTransaction(ctx context.Context, id string, forceReload bool) (*TransactionInfo, error) {
	f.calls = append(f.calls, fmt.Sprintf("commit %s reload=%t", id, forceReload))
	tx, ok := f.txs[id]
	if !ok || tx.status != "in_progress" {
		return nil, NewNotFoundError("transaction not found", nil)
	}
	if f.commitErr != nil {
		return nil, f.commitErr
	}
	if tx.version != f.version {
		return nil, NewVersionConflictError("version mismatch", nil)
	}
	for _, op := range tx.ops {
		op()
	}
	f.version++
	tx.status = "success"
	return &TransactionInfo{ID: id, Version: tx.version, Status: tx.status}, nil
}

func (f *fakeRemote) DiscardTransaction(ctx context.Context, id string) error {
	f.calls = append(f.calls, "discard "+id)
	tx, ok := f.txs[id]
	if !ok {
		return NewNotFoundError("transaction not found", nil)
	}
	tx.status = "discarded"
	return nil
}

func (f *fakeRemote) GetTransaction(ctx context.Context, id string) (*TransactionInfo, error) {
	tx, ok := f.txs[id]
	if !ok {
		return nil, NewNotFoundError("transaction not found", nil)
	}
	return &TransactionInfo{ID: id, Version: tx.version, Status: tx.status}, nil
}

// countingRecorder records what the engine reports.
type countingRecorder struct {
	reconciles   map[string]int
	transactions map[string]int
	errors       map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		reconciles:   make(map[string]int),
		transactions: make(map[string]int),
		errors:       make(map[string]int),
	}
}

func (c *countingRecorder) RecordReconcile(kind, operation string, changed bool, _ time.Duration) {
	c.reconciles[kind+"/"+operation]++
}

func (c *countingRecorder) RecordTransaction(outcome string) {
	c.transactions[outcome]++
}

func (c *countingRecorder) RecordError(class, code string) {
	c.errors[class]++
}
