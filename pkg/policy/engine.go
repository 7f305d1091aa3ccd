package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/haproxyctl/pkg/engine"
	"github.com/openfroyo/haproxyctl/pkg/model"
)

// Engine evaluates Rego policies against batches of desired resources.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// Inputs builds one policy input per batch item. Each input carries the
// whole batch in Resources.
func Inputs(req engine.BatchRequest, environment string) ([]Input, error) {
	all := make([]ResourceInput, 0, len(req.Items))
	for _, item := range req.Items {
		ri := ResourceInput{
			Key:    item.Key.String(),
			Kind:   item.Key.Kind,
			Name:   item.Key.Name,
			Parent: item.Key.Parent,
			State:  string(item.State),
		}
		if ri.State == "" {
			ri.State = string(engine.StatePresent)
		}
		if item.Desired != nil {
			spec, err := model.ToObject(item.Desired)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", ri.Key, err)
			}
			ri.Spec = spec
		}
		all = append(all, ri)
	}

	ctx := Context{
		Environment:   environment,
		Timestamp:     time.Now().UTC(),
		DryRun:        req.DryRun,
		TransactionID: req.TransactionID,
	}
	inputs := make([]Input, len(all))
	for i := range all {
		inputs[i] = Input{Resource: all[i], Resources: all, Context: ctx}
	}
	return inputs, nil
}

// EvaluateBatch evaluates every enabled policy against every item of req.
func (e *Engine) EvaluateBatch(ctx context.Context, req engine.BatchRequest, environment string) (*Result, error) {
	inputs, err := Inputs(req, environment)
	if err != nil {
		return nil, err
	}
	return e.Evaluate(ctx, inputs)
}

// Evaluate evaluates every enabled policy against each input. A policy that
// fails to evaluate is reported as a warning and does not block.
func (e *Engine) Evaluate(ctx context.Context, inputs []Input) (*Result, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		for i := range inputs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			violations, err := e.evaluatePolicy(ctx, cp, &inputs[i])
			if err != nil {
				e.logger.Error().Err(err).
					Str("policy", name).
					Str("resource", inputs[i].Resource.Key).
					Msg("Policy evaluation failed")
				result.Warnings = append(result.Warnings, Violation{
					Policy:   name,
					Resource: inputs[i].Resource.Key,
					Message:  fmt.Sprintf("evaluation failed: %v", err),
					Severity: SeverityWarning,
				})
				continue
			}
			for _, v := range violations {
				if v.Severity.Blocks() {
					result.Violations = append(result.Violations, v)
					result.Allowed = false
				} else {
					result.Warnings = append(result.Warnings, v)
				}
			}
		}
	}

	result.EvaluatedAt = time.Now()
	result.Duration = time.Since(startTime)

	e.logger.Debug().
		Int("resources", len(inputs)).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

// LoadPolicies compiles the policies found at paths and adds them to the
// engine. A policy with the name of a loaded one replaces it.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// AddPolicy compiles and adds a single policy.
func (e *Engine) AddPolicy(ctx context.Context, policy Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compileAndStorePolicy(ctx, &policy)
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		// deny is a set, which evaluates to a list.
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d, input))
		}
	}
	return violations, nil
}

// createViolation creates a Violation from a deny result, which is either a
// message string or an object with message, severity, resource and
// remediation fields.
func createViolation(policy *Policy, result interface{}, input *Input) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Resource: input.Resource.Key,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if res, ok := v["resource"].(string); ok {
			violation.Resource = res
		}
		if rem, ok := v["remediation"].(string); ok {
			violation.Remediation = rem
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy compiles a policy and stores it. Callers hold mu.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}
	if policy.Severity == "" {
		policy.Severity = SeverityWarning
	}

	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Query(module.Package.Path.String()+".deny"),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		query:    query,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")

	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := GetBuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStorePolicy(ctx, &builtins[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// ReloadPolicies drops loaded policies and reloads the built-ins.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)
	return e.loadBuiltinPolicies(ctx)
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")
	return nil
}
