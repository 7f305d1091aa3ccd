// Package policy evaluates Rego policies against a batch of desired
// resources before it is applied.
//
// Every policy is a Rego module with a deny set. Each member is either a
// message string or an object:
//
//	deny contains violation if {
//		input.resource.kind == "server"
//		input.resource.spec.weight == 0
//		violation := {
//			"message": "server takes no traffic",
//			"severity": "warning",
//			"remediation": "remove the server or set a weight",
//		}
//	}
//
// A policy is evaluated once per batch item. The input document holds the
// item under resource and the whole batch under resources, so policies can
// check references between entries:
//
//	{
//	  "resource":  {"key": "backend/web", "kind": "backend", "name": "web", "state": "present", "spec": {...}},
//	  "resources": [...],
//	  "context":   {"environment": "production", "dry_run": false, "timestamp": "..."}
//	}
//
// Violations with severity error or critical deny the batch; Result.Err
// turns them into a validation error with code POLICY_DENIED. Other
// severities are reported as warnings.
//
// Built-in policies:
//
//   - resource-naming: lowercase names up to 63 characters (warning)
//   - backend-health-check: http backends and their servers should check health (warning)
//   - server-bounds: port and weight limits (error)
//   - dangling-references: servers and default_backend must not point at a
//     resource removed by the same batch (error)
//
// Site policies are loaded from .rego files or JSON definitions with
// Engine.LoadPolicies. A comment header in a .rego file becomes the
// description, and a "# severity: error" line sets the default severity.
package policy
