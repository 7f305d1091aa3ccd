package config

import (
	"context"
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
)

// CUEParser evaluates CUE manifests.
//
// A CUE manifest has a top level resources field, either a list of entries
// or a struct keyed by resource name, and an optional transaction field:
//
//	resources: {
//		web: {kind: "backend", spec: {mode: "http"}}
//		web1: {kind: "server", parent: {kind: "backend", name: "web"}, spec: {address: "10.0.0.1", port: 8080}}
//	}
//
// In the struct form a missing spec.name defaults to the key.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	return &CUEParser{
		ctx:            cuecontext.New(),
		schemaRegistry: NewSchemaRegistry(),
	}
}

// Schemas returns the schema registry used to check entries.
func (cp *CUEParser) Schemas() *SchemaRegistry {
	return cp.schemaRegistry
}

// ParseManifest evaluates CUE source text.
func (cp *CUEParser) ParseManifest(ctx context.Context, content, filename string) (*Manifest, error) {
	val := cp.ctx.CompileString(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, &ManifestError{Errors: cp.convertCUEErrors(err)}
	}
	return cp.extractManifest(ctx, val, filename)
}

// ParseDirectory evaluates a directory as one CUE package.
func (cp *CUEParser) ParseDirectory(ctx context.Context, dir string) (*Manifest, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &ManifestError{Errors: []ValidationError{{File: dir, Message: "no CUE files found"}}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, &ManifestError{Errors: cp.convertCUEErrors(inst.Err)}
	}

	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return nil, &ManifestError{Errors: cp.convertCUEErrors(err)}
	}

	m, err := cp.extractManifest(ctx, val, dir)
	if err != nil {
		return nil, err
	}
	for _, file := range inst.Files {
		if file.Filename != "" {
			m.SourceFiles = append(m.SourceFiles, file.Filename)
		}
	}
	return m, nil
}

func (cp *CUEParser) extractManifest(ctx context.Context, val cue.Value, source string) (*Manifest, error) {
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, &ManifestError{Errors: cp.convertCUEErrors(err)}
	}

	m := &Manifest{}
	var errs []ValidationError

	txVal := val.LookupPath(cue.ParsePath("transaction"))
	if txVal.Exists() {
		if err := decodeCUE(txVal, &m.Transaction); err != nil {
			errs = append(errs, ValidationError{File: source, Path: "transaction", Message: err.Error()})
		}
	}

	resourcesVal := val.LookupPath(cue.ParsePath("resources"))
	switch {
	case !resourcesVal.Exists():
	case resourcesVal.Kind() == cue.StructKind:
		iter, err := resourcesVal.Fields()
		if err != nil {
			errs = append(errs, ValidationError{File: source, Path: "resources", Message: err.Error()})
			break
		}
		for iter.Next() {
			path := fmt.Sprintf("resources.%s", iter.Selector())
			rc, err := cp.extractResource(ctx, iter.Selector().Unquoted(), iter.Value())
			if err != nil {
				errs = append(errs, ValidationError{File: source, Path: path, Message: err.Error()})
				continue
			}
			m.Resources = append(m.Resources, rc)
		}
	case resourcesVal.Kind() == cue.ListKind:
		list, err := resourcesVal.List()
		if err != nil {
			errs = append(errs, ValidationError{File: source, Path: "resources", Message: err.Error()})
			break
		}
		for idx := 0; list.Next(); idx++ {
			rc, err := cp.extractResource(ctx, "", list.Value())
			if err != nil {
				errs = append(errs, ValidationError{File: source, Path: fmt.Sprintf("resources[%d]", idx), Message: err.Error()})
				continue
			}
			m.Resources = append(m.Resources, rc)
		}
	default:
		errs = append(errs, ValidationError{File: source, Path: "resources", Message: "resources must be a list or a struct"})
	}

	if len(errs) > 0 {
		return nil, &ManifestError{Errors: errs}
	}
	return m, nil
}

func (cp *CUEParser) extractResource(ctx context.Context, name string, val cue.Value) (ResourceConfig, error) {
	var rc ResourceConfig
	if err := decodeCUE(val, &rc); err != nil {
		return rc, fmt.Errorf("failed to decode resource: %w", err)
	}
	if rc.Spec == nil {
		rc.Spec = map[string]any{}
	}
	if _, ok := rc.Spec["name"]; !ok && name != "" {
		rc.Spec["name"] = name
	}
	if err := cp.schemaRegistry.ValidateResource(ctx, rc); err != nil {
		return rc, err
	}
	return rc, nil
}

// decodeCUE goes through JSON so the same field names and text
// unmarshalers apply as for YAML and JSON manifests.
func decodeCUE(val cue.Value, out any) error {
	data, err := val.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		ve := ValidationError{Message: errors.Details(e, nil)}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		if path := e.Path(); len(path) > 0 {
			ve.Path = cue.MakePath(selectors(path)...).String()
		}
		out = append(out, ve)
	}
	return out
}

func selectors(path []string) []cue.Selector {
	sels := make([]cue.Selector, 0, len(path))
	for _, p := range path {
		sels = append(sels, cue.Str(p))
	}
	return sels
}
