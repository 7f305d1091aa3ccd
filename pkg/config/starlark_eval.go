package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// StarlarkEvaluator executes Starlark manifests.
//
// A script assigns a list of entries to the global resources and may assign
// a dict to transaction. The predeclared builtins backend, server and
// frontend build entries:
//
//	pool = ["10.0.0.%d" % i for i in range(1, 4)]
//	resources = [backend("web", mode = "http")] + [
//	    server("web%d" % i, backend = "web", address = a, port = 8080)
//	    for i, a in enumerate(pool)
//	]
//
// Each builtin accepts state = "absent". Any remaining keyword becomes a
// spec field.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// NewStarlarkEvaluator creates a new Starlark evaluator. A zero timeout
// means 30 seconds.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &StarlarkEvaluator{
		timeout: timeout,
	}
}

// EvaluateManifest runs script and reads the manifest from its globals.
// vars are predeclared alongside the builtins.
func (se *StarlarkEvaluator) EvaluateManifest(ctx context.Context, filename, script string, vars map[string]any) (*Manifest, error) {
	globals, err := se.Evaluate(ctx, filename, script, vars)
	if err != nil {
		return nil, &ManifestError{Errors: []ValidationError{starlarkError(filename, err)}}
	}

	m := &Manifest{}
	var errs []ValidationError

	if tx, ok := globals["transaction"]; ok {
		if err := decodeGo(tx, &m.Transaction); err != nil {
			errs = append(errs, ValidationError{File: filename, Path: "transaction", Message: err.Error()})
		}
	}

	raw, ok := globals["resources"]
	if !ok {
		return nil, &ManifestError{Errors: []ValidationError{{File: filename, Message: "script does not define resources"}}}
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, &ManifestError{Errors: []ValidationError{{File: filename, Path: "resources", Message: "resources must be a list"}}}
	}
	for i, entry := range list {
		var rc ResourceConfig
		if err := decodeGo(entry, &rc); err != nil {
			errs = append(errs, ValidationError{File: filename, Path: fmt.Sprintf("resources[%d]", i), Message: err.Error()})
			continue
		}
		m.Resources = append(m.Resources, rc)
	}

	if len(errs) > 0 {
		return nil, &ManifestError{Errors: errs}
	}
	return m, nil
}

// Evaluate executes script and returns its exported globals converted to
// Go values. Globals starting with an underscore are skipped.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, filename, script string, vars map[string]any) (map[string]any, error) {
	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "haproxyctl",
		Print: func(_ *starlark.Thread, _ string) {},
	}

	// Cancel interrupts the interpreter at the next instruction.
	stop := context.AfterFunc(evalCtx, func() {
		thread.Cancel(evalCtx.Err().Error())
	})
	defer stop()

	predeclared := starlark.StringDict{
		"struct":   starlarkstruct.Default,
		"backend":  starlark.NewBuiltin("backend", builtinResource("backend", "")),
		"frontend": starlark.NewBuiltin("frontend", builtinResource("frontend", "")),
		"server":   starlark.NewBuiltin("server", builtinResource("server", "backend")),
	}
	for key, val := range vars {
		sv, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert variable %s: %w", key, err)
		}
		predeclared[key] = sv
	}

	globals, err := starlark.ExecFile(thread, filename, script, predeclared)
	if err != nil {
		if evalCtx.Err() != nil {
			return nil, fmt.Errorf("starlark execution timeout after %v: %w", se.timeout, evalCtx.Err())
		}
		return nil, err
	}

	out := make(map[string]any, len(globals))
	for name, val := range globals {
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert global %s: %w", name, err)
		}
		out[name] = goVal
	}
	return out, nil
}

// builtinResource returns the implementation of a resource builtin. When
// parentKind is set the builtin requires a keyword of that name holding the
// parent's name.
func builtinResource(kind, parentKind string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name starlark.String
		if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 1, &name); err != nil {
			return nil, err
		}

		spec := starlark.NewDict(len(kwargs) + 1)
		if err := spec.SetKey(starlark.String("name"), name); err != nil {
			return nil, err
		}

		entry := starlark.NewDict(4)
		_ = entry.SetKey(starlark.String("kind"), starlark.String(kind))

		var parent starlark.Value
		for _, kv := range kwargs {
			key := string(kv[0].(starlark.String))
			switch {
			case key == "state":
				_ = entry.SetKey(starlark.String("state"), kv[1])
			case parentKind != "" && key == parentKind:
				parent = kv[1]
			default:
				if err := spec.SetKey(kv[0], kv[1]); err != nil {
					return nil, err
				}
			}
		}

		if parentKind != "" {
			pname, ok := parent.(starlark.String)
			if !ok || pname == "" {
				return nil, fmt.Errorf("%s: missing %s name", b.Name(), parentKind)
			}
			ref := starlark.NewDict(2)
			_ = ref.SetKey(starlark.String("kind"), starlark.String(parentKind))
			_ = ref.SetKey(starlark.String("name"), pname)
			_ = entry.SetKey(starlark.String("parent"), ref)
		}

		_ = entry.SetKey(starlark.String("spec"), spec)
		return entry, nil
	}
}

func starlarkError(filename string, err error) ValidationError {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		// Builtin frames have no position; report the innermost script line.
		for i := range evalErr.CallStack {
			if pos := evalErr.CallStack.At(i).Pos; pos.Line > 0 {
				return ValidationError{File: filename, Line: int(pos.Line), Column: int(pos.Col), Message: evalErr.Msg}
			}
		}
		return ValidationError{File: filename, Message: evalErr.Msg}
	}
	return ValidationError{File: filename, Message: err.Error()}
}

func decodeGo(v any, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]any, len(val))
		for i, elem := range val {
			item, err := fromStarlarkValue(elem)
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
