package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/openfroyo/haproxyctl/pkg/model"
)

func TestReconcileBatchSingleCommit(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(10)
	remote.seed(model.BackendKey("old"), `{"name":"old"}`)
	r := NewReconciler(remote)

	res, err := r.ReconcileBatch(ctx, BatchRequest{
		Items: []BatchItem{
			{Desired: server("s1"), Key: model.ServerKey(model.KindBackend, "b1", "s1")},
			{Desired: &model.Backend{Name: "b1"}, Key: model.BackendKey("b1")},
			{Key: model.BackendKey("old"), State: StateAbsent},
			{Key: model.BackendKey("missing"), State: StateAbsent},
		},
		ForceReload: true,
	})
	if err != nil {
		t.Fatalf("ReconcileBatch failed: %v", err)
	}

	if !res.Changed || res.TransactionState != TxCommitted || res.Version != 10 {
		t.Fatalf("unexpected batch result %+v", res)
	}
	if remote.called("open") != 1 || remote.called("commit") != 1 {
		t.Errorf("expected one transaction with one commit, calls %v", remote.calls)
	}
	if len(res.Results) != 4 {
		t.Fatalf("results = %d", len(res.Results))
	}
	if res.Results[0].Operation != OperationDelete {
		t.Errorf("removals should run first, got %+v", res.Results[0])
	}
	if res.Results[1].Operation != OperationNoop || res.Results[1].TransactionID != "" {
		t.Errorf("unchanged item should not carry the transaction: %+v", res.Results[1])
	}
	if _, ok := remote.objects["backend/b1/server/s1"]; !ok {
		t.Error("server should exist after commit")
	}
}

func TestReconcileBatchNothingToDo(t *testing.T) {
	remote := newFakeRemote(3)
	remote.seed(model.BackendKey("b1"), `{"name":"b1","mode":"http"}`)
	r := NewReconciler(remote)

	res, err := r.ReconcileBatch(context.Background(), BatchRequest{
		Items: []BatchItem{{Desired: &model.Backend{Name: "b1"}, Key: model.BackendKey("b1")}},
	})
	if err != nil {
		t.Fatalf("ReconcileBatch failed: %v", err)
	}
	if res.Changed || res.TransactionID != "" {
		t.Errorf("no-op batch should not open a transaction: %+v", res)
	}
	if remote.called("version") != 0 {
		t.Errorf("no version fetch expected, calls %v", remote.calls)
	}
}

func TestReconcileBatchFailureDiscards(t *testing.T) {
	remote := newFakeRemote(3)
	remote.writeErr = NewAPIError("bad request", nil).WithStatus(400, "bad")
	r := NewReconciler(remote)

	_, err := r.ReconcileBatch(context.Background(), BatchRequest{
		Items: []BatchItem{
			{Desired: &model.Backend{Name: "b1"}, Key: model.BackendKey("b1")},
			{Desired: server("s1"), Key: model.ServerKey(model.KindBackend, "b1", "s1")},
		},
	})
	if !IsAPI(err) {
		t.Fatalf("expected api error, got %v", err)
	}
	if remote.called("discard tx-1") != 1 || remote.called("commit") != 0 {
		t.Errorf("failed batch should discard its transaction, calls %v", remote.calls)
	}
}

func TestReconcileBatchInvalidItemBeforeNetwork(t *testing.T) {
	tests := []struct {
		name string
		txID string
	}{
		{"engine transaction", ""},
		{"caller transaction", "caller"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := newFakeRemote(5)
			r := NewReconciler(remote)

			_, err := r.ReconcileBatch(context.Background(), BatchRequest{
				Items: []BatchItem{
					{Desired: &model.Backend{Name: "b1"}, Key: model.BackendKey("b1")},
					{Desired: &model.Server{Name: "s1"}, Key: model.ServerKey(model.KindBackend, "b1", "s1")},
				},
				TransactionID: tt.txID,
			})
			if !IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if len(remote.calls) != 0 {
				t.Errorf("invalid batch must not reach the remote, calls %v", remote.calls)
			}
		})
	}
}

func TestReconcileBatchInvalidAbsentKey(t *testing.T) {
	remote := newFakeRemote(5)
	r := NewReconciler(remote)

	_, err := r.ReconcileBatch(context.Background(), BatchRequest{
		Items: []BatchItem{
			{Desired: &model.Backend{Name: "b1"}, Key: model.BackendKey("b1")},
			{Key: model.BackendKey(""), State: StateAbsent},
		},
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(remote.calls) != 0 {
		t.Errorf("invalid batch must not reach the remote, calls %v", remote.calls)
	}
}

func TestReconcileBatchZeroAgainstOmitted(t *testing.T) {
	remote := newFakeRemote(4)
	key := model.ServerKey(model.KindBackend, "b1", "s1")
	remote.seed(key, `{"name":"s1","address":"10.0.0.1","port":8080}`)
	r := NewReconciler(remote)

	drained := server("s1")
	drained.Weight = model.Some[int64](0)
	res, err := r.ReconcileBatch(context.Background(), BatchRequest{
		Items: []BatchItem{{Desired: drained, Key: key}},
	})
	if err != nil {
		t.Fatalf("ReconcileBatch failed: %v", err)
	}
	if !res.Changed || res.Results[0].Operation != OperationUpdate {
		t.Fatalf("zero weight should update an omitted weight, got %+v", res.Results[0])
	}
	if w, ok := remote.objects[key.String()]["weight"]; !ok || fmt.Sprint(w) != "0" {
		t.Errorf("weight = %v, want 0", w)
	}
}

func TestReconcileBatchDuplicateKeys(t *testing.T) {
	r := NewReconciler(newFakeRemote(1))
	_, err := r.ReconcileBatch(context.Background(), BatchRequest{
		Items: []BatchItem{
			{Desired: &model.Backend{Name: "b1"}, Key: model.BackendKey("b1")},
			{Key: model.BackendKey("b1"), State: StateAbsent},
		},
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
