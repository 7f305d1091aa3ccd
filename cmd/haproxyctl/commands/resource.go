package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/haproxyctl/pkg/engine"
	"github.com/openfroyo/haproxyctl/pkg/model"
	"github.com/openfroyo/haproxyctl/pkg/telemetry"
)

// reconcileFlags are the flags shared by the backend, server and frontend
// commands.
type reconcileFlags struct {
	state         string
	transactionID string
	forceReload   bool
	dryRun        bool
	noCommit      bool
	direct        bool
	specFile      string
	sets          []string
}

func (f *reconcileFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.state, "state", string(engine.StatePresent), "desired state: present or absent")
	fs.StringVar(&f.transactionID, "transaction-id", "", "write into this open transaction and leave it open")
	fs.BoolVar(&f.forceReload, "force-reload", true, "reload HAProxy right after the change is applied")
	fs.BoolVar(&f.dryRun, "dry-run", false, "report the change without writing")
	fs.BoolVar(&f.noCommit, "no-commit", false, "leave the transaction open and print its id")
	fs.BoolVar(&f.direct, "direct", false, "write without a transaction")
	fs.StringVar(&f.specFile, "spec", "", "YAML or JSON file with resource fields")
	fs.StringArrayVar(&f.sets, "set", nil, "set a field, e.g. --set balance.algorithm=roundrobin (repeatable)")
}

// request builds the engine request for key and desired.
func (f *reconcileFlags) request(key model.Key, desired model.Resource) (engine.Request, error) {
	state := engine.TargetState(f.state)
	if err := state.Validate(); err != nil {
		return engine.Request{}, engine.NewValidationError(err.Error(), nil)
	}
	req := engine.Request{
		Desired:       desired,
		Key:           key,
		State:         state,
		TransactionID: f.transactionID,
		ForceReload:   f.forceReload,
		DryRun:        f.dryRun,
	}
	if f.noCommit {
		req.Commit = engine.CommitNever
	}
	if f.direct {
		req.Write = engine.WriteDirect
	}
	return req, nil
}

// fieldFlag maps a command line flag onto a spec field.
type fieldFlag struct {
	name  string
	path  string
	usage string
	isInt bool
}

type fieldFlags struct {
	defs   []fieldFlag
	values map[string]*string
}

func newFieldFlags(defs ...fieldFlag) *fieldFlags {
	return &fieldFlags{defs: defs, values: make(map[string]*string, len(defs))}
}

func (ff *fieldFlags) register(fs *pflag.FlagSet) {
	for _, d := range ff.defs {
		ff.values[d.name] = fs.String(d.name, "", d.usage)
	}
}

// apply copies every flag the user actually set into spec. Unset flags
// leave the field unset, so the remote value is kept.
func (ff *fieldFlags) apply(fs *pflag.FlagSet, spec map[string]any) error {
	for _, d := range ff.defs {
		if !fs.Changed(d.name) {
			continue
		}
		raw := *ff.values[d.name]
		var v any = raw
		if d.isInt {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return engine.NewValidationError(fmt.Sprintf("--%s: %q is not an integer", d.name, raw), err)
			}
			v = n
		}
		setPath(spec, d.path, v)
	}
	return nil
}

// buildSpec assembles the desired resource fields from --spec, the field
// flags and --set, in that order.
func buildSpec(cmd *cobra.Command, rf *reconcileFlags, ff *fieldFlags, name string) (map[string]any, error) {
	spec := map[string]any{}
	if rf.specFile != "" {
		data, err := os.ReadFile(rf.specFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read spec: %w", err)
		}
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return nil, engine.NewValidationError(fmt.Sprintf("invalid spec file %s", rf.specFile), err)
		}
		if spec == nil {
			spec = map[string]any{}
		}
	}

	if ff != nil {
		if err := ff.apply(cmd.Flags(), spec); err != nil {
			return nil, err
		}
	}

	for _, kv := range rf.sets {
		path, raw, ok := strings.Cut(kv, "=")
		if !ok || path == "" {
			return nil, engine.NewValidationError(fmt.Sprintf("--set %q: expected field=value", kv), nil)
		}
		setPath(spec, path, parseValue(raw))
	}

	spec["name"] = name
	return spec, nil
}

// desiredResource decodes spec into a resource of kind. Absent resources
// only need their identity.
func desiredResource(kind model.Kind, state string, spec map[string]any) (model.Resource, error) {
	if engine.TargetState(state) == engine.StateAbsent {
		return nil, nil
	}
	r, err := model.FromObject(kind, spec)
	if err != nil {
		return nil, engine.NewValidationError(fmt.Sprintf("invalid %s fields", kind), err)
	}
	return r, nil
}

// parseValue reads a --set value as JSON when it is one and as a plain
// string otherwise, so port=80 is a number and mode=http a string.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// setPath sets a dotted path inside a nested map, creating intermediate
// maps as needed.
func setPath(m map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = v
}

// runReconcile issues one reconciliation and prints its result.
func runReconcile(cmd *cobra.Command, key model.Key, desired model.Resource, rf *reconcileFlags) error {
	req, err := rf.request(key, desired)
	if err != nil {
		return err
	}

	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, span := rt.telemetry.Tracer.Start(cmd.Context(), "cli."+string(key.Kind))
	defer span.End()

	res, err := rt.reconciler.Reconcile(ctx, req)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.RecordSuccess(span)
	return printResult(cmd.OutOrStdout(), res)
}
