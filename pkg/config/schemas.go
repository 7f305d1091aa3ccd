package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for manifest validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	for name, src := range map[string]string{
		"resource": builtinResourceSchema,
		"backend":  builtinBackendSchema,
		"server":   builtinServerSchema,
		"frontend": builtinFrontendSchema,
	} {
		if err := sr.RegisterSchema(name, src); err != nil {
			panic(err)
		}
	}
}

// RegisterSchema compiles schema and registers it under name. The schema
// must define exactly one top level definition.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	iter, err := val.Fields(cue.Definitions(true))
	if err != nil {
		return fmt.Errorf("schema %s: %w", name, err)
	}
	var def cue.Value
	count := 0
	for iter.Next() {
		if iter.Selector().IsDefinition() {
			def = iter.Value()
			count++
		}
	}
	if count != 1 {
		return fmt.Errorf("schema %s must define exactly one definition, found %d", name, count)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data any) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ValidateResource checks a manifest entry and its spec against the
// built-in schemas.
func (sr *SchemaRegistry) ValidateResource(ctx context.Context, rc ResourceConfig) error {
	entry := map[string]any{"kind": string(rc.Kind), "spec": rc.Spec}
	if rc.Parent != nil {
		entry["parent"] = map[string]any{"kind": string(rc.Parent.Kind), "name": rc.Parent.Name}
	}
	if rc.State != "" {
		entry["state"] = string(rc.State)
	}
	if err := sr.ValidateAgainstSchema(ctx, "resource", entry); err != nil {
		return err
	}
	if !rc.Kind.IsValid() || rc.State == "absent" {
		return nil
	}
	return sr.ValidateAgainstSchema(ctx, string(rc.Kind), rc.Spec)
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs are open: the Data Plane API has many more fields than these, and
// unknown ones are passed through.

const builtinResourceSchema = `
#Resource: {
	kind: "backend" | "server" | "frontend"
	state?: "present" | "absent"
	parent?: {
		kind: "backend" | "frontend"
		name: string & != ""
	}
	spec: {
		name: string & =~"^[A-Za-z0-9_.:-]+$"
		...
	}
}
`

const builtinBackendSchema = `
#Backend: {
	name: string
	balance?: {
		algorithm: string
		...
	}
	connect_timeout?: number & >=0
	server_timeout?: number & >=0
	...
}
`

const builtinServerSchema = `
#Server: {
	name: string
	address: string & != ""
	port: number & >=1 & <=65535
	weight?: number & >=0 & <=256
	health_check_port?: number & >=1 & <=65535
	maxconn?: number & >=0
	...
}
`

const builtinFrontendSchema = `
#Frontend: {
	name: string
	default_backend?: string
	maxconn?: number & >=0
	...
}
`
