package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/haproxyctl/pkg/engine"
	"github.com/openfroyo/haproxyctl/pkg/model"
)

// ResourceConfig is one entry of a manifest's resources list.
//
//	- kind: server
//	  parent: {kind: backend, name: web}
//	  state: present
//	  spec: {name: web1, address: 10.0.0.1, port: 8080}
type ResourceConfig struct {
	// Kind is backend, server or frontend.
	Kind model.Kind `json:"kind" yaml:"kind" validate:"required"`

	// Parent is required for servers and forbidden otherwise.
	Parent *model.ParentRef `json:"parent,omitempty" yaml:"parent,omitempty"`

	// State is present (default) or absent.
	State engine.TargetState `json:"state,omitempty" yaml:"state,omitempty" validate:"omitempty,oneof=present absent"`

	// Spec holds the resource fields using the Data Plane API field names.
	Spec map[string]any `json:"spec" yaml:"spec" validate:"required"`

	// Source is the file the entry was read from.
	Source string `json:"-" yaml:"-"`
}

// TransactionConfig controls how a manifest is applied.
type TransactionConfig struct {
	// ForceReload asks HAProxy to reload right after the commit. Defaults
	// to true.
	ForceReload *bool `json:"force_reload,omitempty" yaml:"force_reload,omitempty"`

	// ID applies the manifest inside an existing transaction the caller
	// owns. The transaction is left open.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`
}

// Manifest is a desired state document.
type Manifest struct {
	Resources   []ResourceConfig  `json:"resources" yaml:"resources" validate:"dive"`
	Transaction TransactionConfig `json:"transaction,omitempty" yaml:"transaction,omitempty"`

	// SourceFiles are the files the manifest was assembled from.
	SourceFiles []string `json:"-" yaml:"-"`
}

// ValidationError represents a manifest problem with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path locates the problem inside the document, e.g. resources[2].spec.
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ManifestError collects every problem found while loading manifests.
type ManifestError struct {
	Errors []ValidationError
}

func (e *ManifestError) Error() string {
	if len(e.Errors) == 1 {
		return "invalid manifest: " + e.Errors[0].String()
	}
	parts := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		parts[i] = ve.String()
	}
	return fmt.Sprintf("invalid manifest (%d errors): %s", len(e.Errors), strings.Join(parts, "; "))
}

// ForceReload returns the effective force reload flag.
func (m *Manifest) ForceReload() bool {
	if m.Transaction.ForceReload == nil {
		return true
	}
	return *m.Transaction.ForceReload
}

// Items converts the manifest into decoded, validated batch items. Every
// problem is reported, not only the first.
func (m *Manifest) Items() ([]engine.BatchItem, error) {
	items := make([]engine.BatchItem, 0, len(m.Resources))
	var errs []ValidationError

	for i, rc := range m.Resources {
		item, err := rc.item()
		if err != nil {
			errs = append(errs, ValidationError{
				File:    rc.Source,
				Path:    fmt.Sprintf("resources[%d]", i),
				Message: err.Error(),
			})
			continue
		}
		items = append(items, item)
	}

	if len(errs) > 0 {
		return nil, &ManifestError{Errors: errs}
	}
	return items, nil
}

// BatchRequest builds the engine request for the manifest.
func (m *Manifest) BatchRequest(dryRun bool) (engine.BatchRequest, error) {
	items, err := m.Items()
	if err != nil {
		return engine.BatchRequest{}, err
	}
	return engine.BatchRequest{
		Items:         items,
		TransactionID: m.Transaction.ID,
		ForceReload:   m.ForceReload(),
		DryRun:        dryRun,
	}, nil
}

func (rc ResourceConfig) item() (engine.BatchItem, error) {
	if err := validate.Struct(rc); err != nil {
		return engine.BatchItem{}, fieldError(err)
	}
	if !rc.Kind.IsValid() {
		return engine.BatchItem{}, fmt.Errorf("unknown kind %q", rc.Kind)
	}
	if err := rc.State.Validate(); err != nil {
		return engine.BatchItem{}, err
	}

	r, err := model.FromObject(rc.Kind, model.Object(rc.Spec))
	if err != nil {
		return engine.BatchItem{}, err
	}
	key := model.KeyOf(r, rc.Parent)

	if rc.State == engine.StateAbsent {
		if err := key.Validate(); err != nil {
			return engine.BatchItem{}, err
		}
		return engine.BatchItem{Key: key, State: engine.StateAbsent}, nil
	}

	if err := model.ValidateWithKey(r, key); err != nil {
		return engine.BatchItem{}, err
	}
	return engine.BatchItem{Desired: r, Key: key, State: engine.StatePresent}, nil
}

func fieldError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	if fe.Tag() == "required" {
		return fmt.Errorf("%s is required", strings.ToLower(fe.Field()))
	}
	return fmt.Errorf("%s: invalid value %q", strings.ToLower(fe.Field()), fmt.Sprint(fe.Value()))
}
