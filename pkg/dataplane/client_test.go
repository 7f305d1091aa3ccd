package dataplane

import (
	"context"
	"testing"

	"github.com/openfroyo/haproxyctl/pkg/engine"
	"github.com/openfroyo/haproxyctl/pkg/model"
)

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{BaseURL: "http://127.0.0.1:5555"}},
		{name: "trailing slash", cfg: Config{BaseURL: "https://lb.example.com/"}},
		{name: "missing url", cfg: Config{}, wantErr: true},
		{name: "bad scheme", cfg: Config{BaseURL: "ftp://lb"}, wantErr: true},
		{name: "bad style", cfg: Config{BaseURL: "http://lb", TransactionStyle: "header"}, wantErr: true},
		{name: "query style", cfg: Config{BaseURL: "http://lb", TransactionStyle: TransactionInQuery}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEndpointShapes(t *testing.T) {
	cl, err := New(Config{BaseURL: "http://lb:5555/api/"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	key := model.ServerKey(model.KindBackend, "web", "s1")
	got := cl.endpoint(resourcePath(key), nil)
	want := "http://lb:5555/api/v2/services/haproxy/configuration/backends/web/servers/s1"
	if got != want {
		t.Errorf("endpoint = %s, want %s", got, want)
	}

	path, query := cl.writeTarget(collectionPath(key.Kind, key.Parent), engine.WriteScope{TransactionID: "abc"})
	if path != "backends/web/servers/abc" || query != nil {
		t.Errorf("path style target = %s %v", path, query)
	}

	path, query = cl.writeTarget(resourcePath(model.BackendKey("web")), engine.WriteScope{Version: 7, ForceReload: true})
	if path != "backends/web" || query.Get("version") != "7" || query.Get("force_reload") != "true" {
		t.Errorf("direct target = %s %v", path, query)
	}

	qcl, _ := New(Config{BaseURL: "http://lb:5555", TransactionStyle: TransactionInQuery})
	path, query = qcl.writeTarget("frontends", engine.WriteScope{TransactionID: "abc"})
	if path != "frontends" || query.Get("transaction_id") != "abc" {
		t.Errorf("query style target = %s %v", path, query)
	}
}

func TestFetchVersion(t *testing.T) {
	_, cl := newFakeAPI(t, 42)
	v, err := cl.FetchVersion(context.Background())
	if err != nil {
		t.Fatalf("FetchVersion failed: %v", err)
	}
	if v != 42 {
		t.Errorf("version = %d, want 42", v)
	}
}

func TestFetchResourceOutcomes(t *testing.T) {
	ctx := context.Background()
	f, cl := newFakeAPI(t, 1)
	f.seed("backends/b1", `{"name":"b1","mode":"http","balance":{"algorithm":"roundrobin"},"server_timeout":30000}`)

	found := cl.FetchResource(ctx, model.BackendKey("b1"))
	if found.Outcome != engine.ReadFound {
		t.Fatalf("outcome = %s, want found (err %v)", found.Outcome, found.Err)
	}
	b, ok := found.Resource.(*model.Backend)
	if !ok || b.Name != "b1" || b.Balance == nil || b.Balance.Algorithm != model.AlgorithmRoundRobin {
		t.Errorf("decoded backend = %+v", found.Resource)
	}
	if _, ok := found.Object["server_timeout"]; !ok {
		t.Error("raw object should keep every remote field")
	}

	missing := cl.FetchResource(ctx, model.ServerKey(model.KindBackend, "b1", "nope"))
	if missing.Outcome != engine.ReadNotFound || missing.Err != nil {
		t.Errorf("missing server = %+v, want not_found", missing)
	}

	bad := cl.FetchResource(ctx, model.Key{Kind: model.KindServer, Name: "orphan"})
	if bad.Outcome != engine.ReadFailed || !engine.IsValidation(bad.Err) {
		t.Errorf("server without parent = %+v, want failed validation", bad)
	}
}

func TestFetchResourceEnvelope(t *testing.T) {
	f, cl := newFakeAPI(t, 9)
	f.envelope = true
	f.seed("frontends/fe", `{"name":"fe","default_backend":"b1"}`)

	read := cl.FetchResource(context.Background(), model.FrontendKey("fe"))
	if read.Outcome != engine.ReadFound {
		t.Fatalf("outcome = %s (err %v)", read.Outcome, read.Err)
	}
	fe := read.Resource.(*model.Frontend)
	if got, _ := fe.DefaultBackend.Get(); got != "b1" {
		t.Errorf("default_backend = %q, want b1", got)
	}
}

func TestListResources(t *testing.T) {
	ctx := context.Background()
	f, cl := newFakeAPI(t, 1)
	f.seed("backends/b1", `{"name":"b1"}`)
	f.seed("backends/b1/servers/s2", `{"name":"s2","address":"10.0.0.2","port":80}`)
	f.seed("backends/b1/servers/s1", `{"name":"s1","address":"10.0.0.1","port":80}`)

	servers, err := cl.ListResources(ctx, model.KindServer, &model.ParentRef{Kind: model.KindBackend, Name: "b1"})
	if err != nil {
		t.Fatalf("ListResources failed: %v", err)
	}
	if len(servers) != 2 || servers[0].GetName() != "s1" || servers[1].GetName() != "s2" {
		t.Errorf("servers = %v", servers)
	}

	if _, err := cl.ListResources(ctx, model.KindServer, nil); !engine.IsValidation(err) {
		t.Errorf("listing servers without a parent should fail validation, got %v", err)
	}

	frontends, err := cl.ListResources(ctx, model.KindFrontend, nil)
	if err != nil || len(frontends) != 0 {
		t.Errorf("frontends = %v, err %v", frontends, err)
	}
}

func TestTransactionLifecycle(t *testing.T) {
	ctx := context.Background()
	f, cl := newFakeAPI(t, 3)

	tx, err := cl.OpenTransaction(ctx, 3)
	if err != nil {
		t.Fatalf("OpenTransaction failed: %v", err)
	}
	if tx.ID != "tx-1" || tx.Version != 3 || tx.Status != "in_progress" {
		t.Errorf("opened = %+v", tx)
	}

	got, err := cl.GetTransaction(ctx, tx.ID)
	if err != nil || got.ID != tx.ID {
		t.Fatalf("GetTransaction = %+v, %v", got, err)
	}

	committed, err := cl.CommitTransaction(ctx, tx.ID, true)
	if err != nil {
		t.Fatalf("CommitTransaction failed: %v", err)
	}
	if committed.Status != "success" {
		t.Errorf("status = %s, want success", committed.Status)
	}
	if v, _ := cl.FetchVersion(ctx); v != 4 {
		t.Errorf("version after commit = %d, want 4", v)
	}

	second, err := cl.OpenTransaction(ctx, 4)
	if err != nil {
		t.Fatalf("second OpenTransaction failed: %v", err)
	}
	if err := cl.DiscardTransaction(ctx, second.ID); err != nil {
		t.Fatalf("DiscardTransaction failed: %v", err)
	}
	if _, err := cl.GetTransaction(ctx, second.ID); !engine.IsNotFound(err) {
		t.Errorf("discarded transaction should be gone, got %v", err)
	}

	log := f.log()
	if log[0] != "POST /transactions?version=3" || log[2] != "PUT /transactions/tx-1?force_reload=true" {
		t.Errorf("unexpected requests %v", log)
	}
}

func TestOpenTransactionConflicts(t *testing.T) {
	ctx := context.Background()
	f, cl := newFakeAPI(t, 5)

	if _, err := cl.OpenTransaction(ctx, 4); !engine.IsVersionConflict(err) {
		t.Errorf("stale version: want version conflict, got %v", err)
	}

	f.conflictOnOpen = true
	if _, err := cl.OpenTransaction(ctx, 5); !engine.IsVersionConflict(err) {
		t.Errorf("406: want version conflict, got %v", err)
	}
}

func TestReconcileServerEndToEnd(t *testing.T) {
	ctx := context.Background()
	f, cl := newFakeAPI(t, 3)
	f.seed("backends/b1", `{"name":"b1","mode":"http"}`)
	r := engine.NewReconciler(cl)

	key := model.ServerKey(model.KindBackend, "b1", "s1")
	desired := &model.Server{Name: "s1", Address: "10.0.0.1", Port: 8080}

	res, err := r.Reconcile(ctx, engine.Request{Desired: desired, Key: key, ForceReload: true})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !res.Changed || res.Operation != engine.OperationCreate || res.TransactionState != engine.TxCommitted {
		t.Fatalf("result = %+v", res)
	}

	want := []string{
		"GET /backends/b1/servers/s1",
		"GET /version",
		"POST /transactions?version=3",
		"POST /backends/b1/servers/tx-1",
		"PUT /transactions/tx-1?force_reload=true",
	}
	log := f.log()
	if len(log) != len(want) {
		t.Fatalf("requests = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("request %d = %q, want %q", i, log[i], want[i])
		}
	}

	stored, ok := f.object("backends/b1/servers/s1")
	if !ok || stored["address"] != "10.0.0.1" || stored["port"] != float64(8080) {
		t.Errorf("stored server = %v", stored)
	}

	again, err := r.Reconcile(ctx, engine.Request{Desired: desired, Key: key})
	if err != nil {
		t.Fatalf("second Reconcile failed: %v", err)
	}
	if again.Changed || again.Operation != engine.OperationNoop {
		t.Errorf("second reconcile = %+v, want noop", again)
	}
	if n := len(f.log()); n != len(want)+1 {
		t.Errorf("no-op should issue a single read, got %v", f.log()[len(want):])
	}
}

func TestReconcileUpdatePreservesRemoteFields(t *testing.T) {
	ctx := context.Background()
	f, cl := newFakeAPI(t, 1)
	f.seed("backends/b1", `{"name":"b1"}`)
	f.seed("backends/b1/servers/s1", `{"name":"s1","address":"10.0.0.1","port":80,"weight":10,"cookie":"s1c"}`)
	r := engine.NewReconciler(cl)

	desired := &model.Server{Name: "s1", Address: "10.0.0.1", Port: 80, Weight: model.Some[int64](20)}
	res, err := r.Reconcile(ctx, engine.Request{Desired: desired, Key: model.ServerKey(model.KindBackend, "b1", "s1")})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if res.Operation != engine.OperationUpdate || len(res.Changes) != 1 || res.Changes[0].Path != "weight" {
		t.Fatalf("result = %+v", res)
	}

	stored, _ := f.object("backends/b1/servers/s1")
	if stored["weight"] != float64(20) || stored["cookie"] != "s1c" {
		t.Errorf("stored server = %v", stored)
	}
}

func TestReconcileCommitRejected(t *testing.T) {
	ctx := context.Background()
	f, cl := newFakeAPI(t, 2)
	r := engine.NewReconciler(cl)

	key := model.ServerKey(model.KindBackend, "missing", "s1")
	_, err := r.Reconcile(ctx, engine.Request{
		Desired: &model.Server{Name: "s1", Address: "10.0.0.1", Port: 80},
		Key:     key,
	})
	if !engine.IsValidationFailed(err) {
		t.Fatalf("want validation_failed, got %v", err)
	}

	log := f.log()
	if last := log[len(log)-1]; last != "DELETE /transactions/tx-1" {
		t.Errorf("rejected transaction should be discarded, last request %q", last)
	}
	if _, ok := f.object("backends/missing/servers/s1"); ok {
		t.Error("rejected commit must not apply writes")
	}
}

func TestReconcileDirectWrite(t *testing.T) {
	ctx := context.Background()
	f, cl := newFakeAPI(t, 7)
	r := engine.NewReconciler(cl)

	res, err := r.Reconcile(ctx, engine.Request{
		Desired: &model.Frontend{Name: "fe", DefaultBackend: model.Some("b1")},
		Key:     model.FrontendKey("fe"),
		Write:   engine.WriteDirect,
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !res.Changed || res.TransactionID != "" {
		t.Errorf("result = %+v", res)
	}

	log := f.log()
	if got := log[len(log)-1]; got != "POST /frontends?force_reload=false&version=7" {
		t.Errorf("direct write request = %q", got)
	}
	if v, _ := cl.FetchVersion(ctx); v != 8 {
		t.Errorf("version after direct write = %d, want 8", v)
	}
}

func TestReconcileQueryStyleTransaction(t *testing.T) {
	ctx := context.Background()
	f, _ := newFakeAPI(t, 1)
	cl, err := New(Config{
		BaseURL:          f.url,
		Username:         testUser,
		Password:         testPassword,
		TransactionStyle: TransactionInQuery,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	r := engine.NewReconciler(cl)
	_, err = r.Reconcile(ctx, engine.Request{
		Desired: &model.Backend{Name: "b1", Mode: model.Some(model.ModeHTTP)},
		Key:     model.BackendKey("b1"),
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	found := false
	for _, entry := range f.log() {
		if entry == "POST /backends?transaction_id=tx-1" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected query style write, got %v", f.log())
	}
	if _, ok := f.object("backends/b1"); !ok {
		t.Error("backend was not committed")
	}
}

func TestWrongCredentials(t *testing.T) {
	f, _ := newFakeAPI(t, 1)
	cl, _ := New(Config{BaseURL: f.url, Username: "admin", Password: "wrong"})

	_, err := cl.FetchVersion(context.Background())
	e, ok := err.(*engine.EngineError)
	if !ok || e.Class != engine.ErrorClassAPI || e.StatusCode != 401 {
		t.Errorf("want 401 api error, got %v", err)
	}
}
