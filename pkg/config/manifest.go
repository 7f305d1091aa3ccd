package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/haproxyctl/pkg/model"
)

// Format is a manifest file format.
type Format string

const (
	FormatYAML     Format = "yaml"
	FormatJSON     Format = "json"
	FormatCUE      Format = "cue"
	FormatStarlark Format = "starlark"
)

// FormatOf returns the format implied by a file extension.
func FormatOf(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".json":
		return FormatJSON, true
	case ".cue":
		return FormatCUE, true
	case ".star", ".starlark":
		return FormatStarlark, true
	default:
		return "", false
	}
}

// Loader reads manifests in every supported format.
type Loader struct {
	cue      *CUEParser
	starlark *StarlarkEvaluator
	vars     map[string]any
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithVariables exposes vars to Starlark manifests as predeclared globals.
func WithVariables(vars map[string]any) LoaderOption {
	return func(l *Loader) { l.vars = vars }
}

// WithStarlarkEvaluator replaces the default evaluator.
func WithStarlarkEvaluator(se *StarlarkEvaluator) LoaderOption {
	return func(l *Loader) { l.starlark = se }
}

// NewLoader creates a manifest loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		cue:      NewCUEParser(),
		starlark: NewStarlarkEvaluator(0),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads every file and directory in paths and merges them into one
// manifest. Directories contribute their supported files in lexical order.
// A resource identity appearing twice is an error.
func (l *Loader) Load(ctx context.Context, paths ...string) (*Manifest, error) {
	if len(paths) == 0 {
		return nil, errors.New("no manifest provided")
	}

	files, err := expandPaths(paths)
	if err != nil {
		return nil, err
	}

	merged := &Manifest{}
	for _, file := range files {
		m, err := l.LoadFile(ctx, file)
		if err != nil {
			return nil, err
		}
		if err := merged.merge(m); err != nil {
			return nil, err
		}
	}
	if err := merged.checkDuplicates(); err != nil {
		return nil, err
	}
	return merged, nil
}

// LoadFile reads one manifest file.
func (l *Loader) LoadFile(ctx context.Context, path string) (*Manifest, error) {
	format, ok := FormatOf(path)
	if !ok {
		return nil, fmt.Errorf("unsupported manifest format: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m *Manifest
	switch format {
	case FormatYAML, FormatJSON:
		m, err = DecodeManifest(data, path)
	case FormatCUE:
		m, err = l.cue.ParseManifest(ctx, string(data), path)
	case FormatStarlark:
		m, err = l.starlark.EvaluateManifest(ctx, path, string(data), l.vars)
	}
	if err != nil {
		return nil, err
	}
	m.SourceFiles = []string{path}
	for i := range m.Resources {
		m.Resources[i].Source = path
	}

	// CUE entries are checked while they are extracted.
	if format != FormatCUE {
		if err := l.checkSchemas(ctx, m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (l *Loader) checkSchemas(ctx context.Context, m *Manifest) error {
	var errs []ValidationError
	for i, rc := range m.Resources {
		if err := l.cue.Schemas().ValidateResource(ctx, rc); err != nil {
			errs = append(errs, ValidationError{
				File:    rc.Source,
				Path:    fmt.Sprintf("resources[%d]", i),
				Message: err.Error(),
			})
		}
	}
	if len(errs) > 0 {
		return &ManifestError{Errors: errs}
	}
	return nil
}

// DecodeManifest parses a YAML or JSON manifest. JSON is valid YAML, so
// both go through the same decoder. Multiple YAML documents in one stream
// are concatenated.
func DecodeManifest(data []byte, source string) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	m := &Manifest{}
	for {
		var doc Manifest
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ManifestError{Errors: []ValidationError{yamlError(source, err)}}
		}
		if err := m.merge(&doc); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func yamlError(source string, err error) ValidationError {
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		return ValidationError{File: source, Message: strings.Join(typeErr.Errors, "; ")}
	}
	return ValidationError{File: source, Message: err.Error()}
}

// merge appends other's resources. Transaction settings from a later
// document override earlier ones field by field.
func (m *Manifest) merge(other *Manifest) error {
	m.Resources = append(m.Resources, other.Resources...)
	m.SourceFiles = append(m.SourceFiles, other.SourceFiles...)

	if other.Transaction.ForceReload != nil {
		m.Transaction.ForceReload = other.Transaction.ForceReload
	}
	if other.Transaction.ID != "" {
		if m.Transaction.ID != "" && m.Transaction.ID != other.Transaction.ID {
			return fmt.Errorf("conflicting transaction ids %q and %q", m.Transaction.ID, other.Transaction.ID)
		}
		m.Transaction.ID = other.Transaction.ID
	}
	return nil
}

func (m *Manifest) checkDuplicates() error {
	seen := make(map[string]string, len(m.Resources))
	var errs []ValidationError
	for i, rc := range m.Resources {
		name, _ := rc.Spec["name"].(string)
		if name == "" {
			continue
		}
		key := model.Key{Kind: rc.Kind, Name: name, Parent: rc.Parent}
		if rc.Kind != model.KindServer {
			key.Parent = nil
		}
		id := key.String()
		if first, ok := seen[id]; ok {
			errs = append(errs, ValidationError{
				File:    rc.Source,
				Path:    fmt.Sprintf("resources[%d]", i),
				Message: fmt.Sprintf("duplicate resource %s (first defined in %s)", id, first),
			})
			continue
		}
		seen[id] = rc.Source
	}
	if len(errs) > 0 {
		return &ManifestError{Errors: errs}
	}
	return nil
}

// expandPaths replaces directories by the manifest files they contain.
func expandPaths(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", path, err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}

		var found []string
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if _, ok := FormatOf(p); ok {
				found = append(found, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk directory: %w", err)
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}
