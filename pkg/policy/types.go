package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/haproxyctl/pkg/engine"
	"github.com/openfroyo/haproxyctl/pkg/model"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block an apply.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity denies an apply.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code. A policy produces
// violations through a deny rule in its package:
//
//	package haproxyctl.policies.timeouts
//
//	deny contains violation if {
//		input.resource.kind == "backend"
//		not input.resource.spec.server_timeout
//		violation := {"message": "backends need a server timeout", "severity": "warning"}
//	}
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity applies to violations that do not carry their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Resource is the key of the offending resource, e.g. backend/web.
	Resource string `json:"resource,omitempty"`

	Message  string   `json:"message"`
	Severity Severity `json:"severity"`

	// Remediation provides a suggested fix.
	Remediation string `json:"remediation,omitempty"`
}

func (v Violation) String() string {
	if v.Resource == "" {
		return fmt.Sprintf("[%s] %s: %s", v.Severity, v.Policy, v.Message)
	}
	return fmt.Sprintf("[%s] %s: %s: %s", v.Severity, v.Policy, v.Resource, v.Message)
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed is false when any violation blocks.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists violations that do not block.
	Warnings []Violation `json:"warnings,omitempty"`

	EvaluatedAt       time.Time     `json:"evaluated_at"`
	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// Err returns a validation error listing the blocking violations, or nil
// when the result is allowed.
func (r *Result) Err() error {
	if r == nil || r.Allowed {
		return nil
	}
	msgs := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		msgs[i] = v.String()
	}
	err := engine.NewValidationError("denied by policy: "+strings.Join(msgs, "; "), nil).
		WithCode(engine.ErrCodePolicyDenied).
		WithDetail("violations", len(r.Violations))
	if len(r.Violations) > 0 {
		err = err.WithResource(r.Violations[0].Resource)
	}
	return err
}

// Input is the document a policy sees as input.
type Input struct {
	// Resource is the entry being evaluated.
	Resource ResourceInput `json:"resource"`

	// Resources holds every entry of the batch so policies can check
	// references between them.
	Resources []ResourceInput `json:"resources"`

	Context Context `json:"context"`
}

// ResourceInput describes one desired resource.
type ResourceInput struct {
	Key    string           `json:"key"`
	Kind   model.Kind       `json:"kind"`
	Name   string           `json:"name"`
	Parent *model.ParentRef `json:"parent,omitempty"`
	State  string           `json:"state"`

	// Spec is the resource in Data Plane API form. Empty for absent
	// resources.
	Spec model.Object `json:"spec,omitempty"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// Environment is the telemetry environment, e.g. production.
	Environment string    `json:"environment,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	DryRun      bool      `json:"dry_run"`

	// TransactionID is set when the batch joins a caller owned transaction.
	TransactionID string `json:"transaction_id,omitempty"`
}
