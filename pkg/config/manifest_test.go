package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/haproxyctl/pkg/engine"
	"github.com/openfroyo/haproxyctl/pkg/model"
)

const webManifest = `
transaction:
  force_reload: false
resources:
  - kind: backend
    spec:
      name: web
      mode: http
      balance:
        algorithm: roundrobin
  - kind: server
    parent: {kind: backend, name: web}
    spec: {name: web1, address: 10.0.0.1, port: 8080, weight: 10}
  - kind: frontend
    state: absent
    spec: {name: legacy}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDecodeManifest(t *testing.T) {
	m, err := DecodeManifest([]byte(webManifest), "web.yaml")
	if err != nil {
		t.Fatalf("DecodeManifest() error = %v", err)
	}
	if len(m.Resources) != 3 {
		t.Fatalf("expected 3 resources, got %d", len(m.Resources))
	}
	if m.ForceReload() {
		t.Error("expected force_reload false")
	}

	req, err := m.BatchRequest(true)
	if err != nil {
		t.Fatalf("BatchRequest() error = %v", err)
	}
	if !req.DryRun || req.ForceReload {
		t.Errorf("unexpected request flags: %+v", req)
	}

	want := []string{"backend/web", "backend/web/server/web1", "frontend/legacy"}
	for i, item := range req.Items {
		if item.Key.String() != want[i] {
			t.Errorf("item %d key = %s, want %s", i, item.Key, want[i])
		}
	}

	srv, ok := req.Items[1].Desired.(*model.Server)
	if !ok {
		t.Fatalf("expected *model.Server, got %T", req.Items[1].Desired)
	}
	if srv.Port != 8080 || srv.Address != "10.0.0.1" {
		t.Errorf("unexpected server: %+v", srv)
	}
	if req.Items[2].State != engine.StateAbsent || req.Items[2].Desired != nil {
		t.Errorf("expected absent frontend without desired value, got %+v", req.Items[2])
	}
}

func TestDecodeManifestDefaults(t *testing.T) {
	m, err := DecodeManifest([]byte(`{"resources": [{"kind": "backend", "spec": {"name": "api"}}]}`), "api.json")
	if err != nil {
		t.Fatalf("DecodeManifest() error = %v", err)
	}
	if !m.ForceReload() {
		t.Error("force_reload should default to true")
	}
	items, err := m.Items()
	if err != nil {
		t.Fatalf("Items() error = %v", err)
	}
	if items[0].State != engine.StatePresent {
		t.Errorf("state = %q, want present", items[0].State)
	}
}

func TestDecodeManifestMultiDocument(t *testing.T) {
	data := `
resources:
  - kind: backend
    spec: {name: a}
---
transaction: {id: tx-42}
resources:
  - kind: backend
    spec: {name: b}
`
	m, err := DecodeManifest([]byte(data), "multi.yaml")
	if err != nil {
		t.Fatalf("DecodeManifest() error = %v", err)
	}
	if len(m.Resources) != 2 || m.Transaction.ID != "tx-42" {
		t.Errorf("unexpected manifest: %+v", m)
	}
}

func TestDecodeManifestUnknownField(t *testing.T) {
	_, err := DecodeManifest([]byte("resources: []\nextra: true\n"), "bad.yaml")
	var merr *ManifestError
	if !errors.As(err, &merr) {
		t.Fatalf("expected ManifestError, got %v", err)
	}
	if merr.Errors[0].File != "bad.yaml" {
		t.Errorf("File = %q", merr.Errors[0].File)
	}
}

func TestItemsReportsEveryError(t *testing.T) {
	m := &Manifest{Resources: []ResourceConfig{
		{Kind: "listener", Spec: map[string]any{"name": "x"}},
		{Kind: model.KindServer, Spec: map[string]any{"name": "s1", "address": "10.0.0.1", "port": 80}},
		{Kind: model.KindBackend, State: "gone", Spec: map[string]any{"name": "b"}},
		{Kind: model.KindBackend, Spec: map[string]any{"name": "ok"}},
	}}

	_, err := m.Items()
	var merr *ManifestError
	if !errors.As(err, &merr) {
		t.Fatalf("expected ManifestError, got %v", err)
	}
	if len(merr.Errors) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(merr.Errors), err)
	}
	for i, want := range []string{"resources[0]", "resources[1]", "resources[2]"} {
		if merr.Errors[i].Path != want {
			t.Errorf("error %d path = %s, want %s", i, merr.Errors[i].Path, want)
		}
	}
	if !strings.Contains(merr.Errors[1].Message, "parent") {
		t.Errorf("expected parent error, got %q", merr.Errors[1].Message)
	}
}

func TestItemsMissingSpec(t *testing.T) {
	m := &Manifest{Resources: []ResourceConfig{{Kind: model.KindBackend}}}
	_, err := m.Items()
	if err == nil || !strings.Contains(err.Error(), "spec is required") {
		t.Fatalf("expected spec error, got %v", err)
	}
}

func TestLoaderLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "10-backends.yaml", `
resources:
  - kind: backend
    spec: {name: web}
`)
	writeFile(t, dir, "20-servers.json", `{"resources": [
  {"kind": "server", "parent": {"kind": "backend", "name": "web"}, "spec": {"name": "web1", "address": "10.0.0.1", "port": 80}}
]}`)
	writeFile(t, dir, "README.md", "ignored")

	m, err := NewLoader().Load(context.Background(), dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(m.Resources) != 2 {
		t.Fatalf("expected 2 resources, got %d", len(m.Resources))
	}
	if m.Resources[0].Kind != model.KindBackend {
		t.Errorf("files should load in lexical order, first kind = %s", m.Resources[0].Kind)
	}
	if !strings.HasSuffix(m.Resources[1].Source, "20-servers.json") {
		t.Errorf("Source = %s", m.Resources[1].Source)
	}
	if len(m.SourceFiles) != 2 {
		t.Errorf("SourceFiles = %v", m.SourceFiles)
	}
}

func TestLoaderRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.yaml", "resources:\n  - kind: backend\n    spec: {name: web}\n")
	b := writeFile(t, dir, "b.yaml", "resources:\n  - kind: backend\n    spec: {name: web}\n  - kind: frontend\n    spec: {name: web}\n")

	_, err := NewLoader().Load(context.Background(), a, b)
	var merr *ManifestError
	if !errors.As(err, &merr) {
		t.Fatalf("expected ManifestError, got %v", err)
	}
	if len(merr.Errors) != 1 {
		t.Fatalf("backend and frontend with the same name are distinct, got %v", err)
	}
	if !strings.Contains(merr.Errors[0].Message, "duplicate resource backend/web") {
		t.Errorf("unexpected message %q", merr.Errors[0].Message)
	}
}

func TestLoaderConflictingTransactionIDs(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.yaml", "transaction: {id: tx-1}\nresources: []\n")
	b := writeFile(t, dir, "b.yaml", "transaction: {id: tx-2}\nresources: []\n")

	if _, err := NewLoader().Load(context.Background(), a, b); err == nil {
		t.Fatal("expected conflicting transaction id error")
	}
}

func TestLoaderSchemaCheck(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.yaml", `
resources:
  - kind: server
    parent: {kind: backend, name: web}
    spec: {name: web1, address: 10.0.0.1, port: 70000}
`)
	_, err := NewLoader().Load(context.Background(), path)
	var merr *ManifestError
	if !errors.As(err, &merr) {
		t.Fatalf("expected ManifestError, got %v", err)
	}
	if merr.Errors[0].Path != "resources[0]" {
		t.Errorf("Path = %q", merr.Errors[0].Path)
	}
}

func TestLoaderErrors(t *testing.T) {
	dir := t.TempDir()
	txt := writeFile(t, dir, "notes.txt", "hello")

	tests := []struct {
		name  string
		paths []string
	}{
		{name: "no paths"},
		{name: "missing file", paths: []string{filepath.Join(dir, "missing.yaml")}},
		{name: "unsupported format", paths: []string{txt}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLoader().Load(context.Background(), tt.paths...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFormatOf(t *testing.T) {
	tests := map[string]Format{
		"a.yaml": FormatYAML, "a.YML": FormatYAML, "a.json": FormatJSON,
		"a.cue": FormatCUE, "a.star": FormatStarlark, "a.starlark": FormatStarlark,
	}
	for path, want := range tests {
		got, ok := FormatOf(path)
		if !ok || got != want {
			t.Errorf("FormatOf(%s) = %s, %v", path, got, ok)
		}
	}
	if _, ok := FormatOf("a.toml"); ok {
		t.Error("toml should be unsupported")
	}
}

func TestValidationErrorString(t *testing.T) {
	ve := ValidationError{File: "a.cue", Line: 3, Column: 5, Path: "resources.web", Message: "conflict"}
	if got := ve.String(); got != "a.cue:3:5: resources.web: conflict" {
		t.Errorf("String() = %q", got)
	}
	if got := (ValidationError{Message: "boom"}).String(); got != "boom" {
		t.Errorf("String() = %q", got)
	}
}
