package dataplane

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

const (
	testUser     = "admin"
	testPassword = "secret"
	apiPrefix    = "/v2/services/haproxy/configuration/"
)

// fakeAPI is an in-memory Data Plane API. Transaction writes are buffered
// and applied on commit; direct writes are applied immediately. Every
// successful apply bumps the configuration version.
type fakeAPI struct {
	t   *testing.T
	url string

	mu       sync.Mutex
	version  int64
	objects  map[string]json.RawMessage
	txs      map[string]*fakeTx
	nextTx   int
	requests []string

	// envelope wraps single resource reads in {_version, data}.
	envelope bool
	// conflictOnOpen answers every transaction open with 406.
	conflictOnOpen bool
}

type fakeTx struct {
	version int64
	status  string
	ops     []fakeOp
}

type fakeOp struct {
	method string
	path   string
	body   json.RawMessage
}

func newFakeAPI(t *testing.T, version int64) (*fakeAPI, *Client) {
	t.Helper()
	f := &fakeAPI{
		t:       t,
		version: version,
		objects: make(map[string]json.RawMessage),
		txs:     make(map[string]*fakeTx),
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	f.url = srv.URL

	cl, err := New(Config{BaseURL: srv.URL, Username: testUser, Password: testPassword})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return f, cl
}

func (f *fakeAPI) seed(path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = json.RawMessage(body)
}

func (f *fakeAPI) object(path string) (map[string]any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.objects[path]
	if !ok {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		f.t.Fatalf("stored object %s is not json: %v", path, err)
	}
	return obj, true
}

func (f *fakeAPI) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, pass, ok := r.BasicAuth()
	if !ok || user != testUser || pass != testPassword {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if r.Header.Get(RequestIDHeader) == "" {
		writeError(w, http.StatusBadRequest, "missing request id")
		return
	}
	if !strings.HasPrefix(r.URL.Path, apiPrefix) {
		writeError(w, http.StatusNotFound, "unknown path "+r.URL.Path)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, apiPrefix)
	entry := r.Method + " /" + path
	if r.URL.RawQuery != "" {
		entry += "?" + r.URL.RawQuery
	}
	f.requests = append(f.requests, entry)

	body, _ := io.ReadAll(r.Body)

	switch {
	case path == "version":
		fmt.Fprintf(w, "%d\n", f.version)
	case path == "transactions" || strings.HasPrefix(path, "transactions/"):
		f.serveTransaction(w, r, strings.TrimPrefix(strings.TrimPrefix(path, "transactions"), "/"))
	default:
		f.serveResource(w, r, path, body)
	}
}

func (f *fakeAPI) serveTransaction(w http.ResponseWriter, r *http.Request, id string) {
	switch {
	case id == "" && r.Method == http.MethodPost:
		if f.conflictOnOpen {
			writeError(w, http.StatusNotAcceptable, "version mismatch")
			return
		}
		v, _ := strconv.ParseInt(r.URL.Query().Get("version"), 10, 64)
		if v != f.version {
			writeError(w, http.StatusConflict, fmt.Sprintf("version mismatch: have %d, got %d", f.version, v))
			return
		}
		f.nextTx++
		id = fmt.Sprintf("tx-%d", f.nextTx)
		f.txs[id] = &fakeTx{version: v, status: "in_progress"}
		writeJSON(w, http.StatusCreated, map[string]any{"id": id, "status": "in_progress", "_version": v})
		return
	case id == "":
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	tx, ok := f.txs[id]
	if !ok {
		writeError(w, http.StatusNotFound, "transaction "+id+" not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": tx.status, "_version": tx.version})
	case http.MethodDelete:
		delete(f.txs, id)
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPut:
		if tx.version != f.version {
			writeError(w, http.StatusNotAcceptable, "version mismatch")
			return
		}
		staged := make(map[string]json.RawMessage, len(f.objects))
		for k, v := range f.objects {
			staged[k] = v
		}
		for _, op := range tx.ops {
			if status, msg := applyOp(staged, op); status != 0 {
				tx.status = "failed"
				writeError(w, http.StatusBadRequest, msg)
				return
			}
		}
		f.objects = staged
		f.version++
		tx.status = "success"
		writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "status": tx.status, "_version": tx.version})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (f *fakeAPI) serveResource(w http.ResponseWriter, r *http.Request, path string, body []byte) {
	q := r.URL.Query()
	txID := q.Get("transaction_id")
	if r.Method != http.MethodGet && txID == "" {
		if i := strings.LastIndex(path, "/"); i >= 0 && strings.HasPrefix(path[i+1:], "tx-") {
			txID = path[i+1:]
			path = path[:i]
		} else if strings.HasPrefix(path, "tx-") {
			txID, path = path, ""
		}
	}

	if r.Method == http.MethodGet {
		f.serveRead(w, path)
		return
	}

	op := fakeOp{method: r.Method, path: path, body: json.RawMessage(body)}
	if txID != "" {
		tx, ok := f.txs[txID]
		if !ok {
			writeError(w, http.StatusNotFound, "transaction "+txID+" not found")
			return
		}
		tx.ops = append(tx.ops, op)
		f.writeEcho(w, r.Method, body)
		return
	}

	v, err := strconv.ParseInt(q.Get("version"), 10, 64)
	if err != nil || v != f.version {
		writeError(w, http.StatusConflict, "version mismatch")
		return
	}
	if status, msg := applyOp(f.objects, op); status != 0 {
		writeError(w, status, msg)
		return
	}
	f.version++
	f.writeEcho(w, r.Method, body)
}

func (f *fakeAPI) serveRead(w http.ResponseWriter, path string) {
	if raw, ok := f.objects[path]; ok {
		if f.envelope {
			writeJSON(w, http.StatusOK, map[string]any{"_version": f.version, "data": raw})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(raw)
		return
	}

	prefix := path + "/"
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) && !strings.Contains(strings.TrimPrefix(k, prefix), "/") {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 && !isCollection(path) {
		writeError(w, http.StatusNotFound, "object "+path+" not found")
		return
	}
	sort.Strings(keys)
	items := make([]json.RawMessage, 0, len(keys))
	for _, k := range keys {
		items = append(items, f.objects[k])
	}
	writeJSON(w, http.StatusOK, items)
}

func (f *fakeAPI) writeEcho(w http.ResponseWriter, method string, body []byte) {
	if method == http.MethodDelete {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	status := http.StatusAccepted
	if method == http.MethodPost {
		status = http.StatusCreated
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// applyOp applies one write to objects and returns a non-zero status when
// the write is invalid.
func applyOp(objects map[string]json.RawMessage, op fakeOp) (int, string) {
	switch op.method {
	case http.MethodPost:
		var named struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(op.body, &named); err != nil || named.Name == "" {
			return http.StatusBadRequest, "name is required"
		}
		if parent, ok := parentPath(op.path); ok {
			if _, exists := objects[parent]; !exists {
				return http.StatusBadRequest, "parent " + parent + " does not exist"
			}
		}
		key := op.path + "/" + named.Name
		if _, exists := objects[key]; exists {
			return http.StatusConflict, "object " + key + " already exists"
		}
		objects[key] = op.body
	case http.MethodPut:
		if _, exists := objects[op.path]; !exists {
			return http.StatusNotFound, "object " + op.path + " not found"
		}
		objects[op.path] = op.body
	case http.MethodDelete:
		if _, exists := objects[op.path]; !exists {
			return http.StatusNotFound, "object " + op.path + " not found"
		}
		delete(objects, op.path)
		for k := range objects {
			if strings.HasPrefix(k, op.path+"/") {
				delete(objects, k)
			}
		}
	}
	return 0, ""
}

// parentPath returns "backends/b1" for "backends/b1/servers".
func parentPath(collection string) (string, bool) {
	i := strings.LastIndex(collection, "/")
	if i < 0 {
		return "", false
	}
	return collection[:i], true
}

func isCollection(path string) bool {
	return path == "backends" || path == "frontends" || strings.HasSuffix(path, "/servers")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"code": status, "message": msg})
}
