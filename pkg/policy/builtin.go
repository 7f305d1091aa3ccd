package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		resourceNamingPolicy(),
		healthCheckPolicy(),
		serverBoundsPolicy(),
		referencesPolicy(),
	}
}

// resourceNamingPolicy warns about names that are awkward in haproxy.cfg
// and in log lines.
func resourceNamingPolicy() Policy {
	return Policy{
		Name:        "resource-naming",
		Description: "Resource names should be lowercase and at most 63 characters",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		Rego: `package haproxyctl.policies.naming

import rego.v1

deny contains violation if {
	name := input.resource.name
	lower(name) != name
	violation := {
		"message": sprintf("name '%s' should be lowercase", [name]),
		"remediation": sprintf("rename to '%s'", [lower(name)]),
	}
}

deny contains violation if {
	name := input.resource.name
	count(name) > 63
	violation := {"message": sprintf("name '%s' is longer than 63 characters", [name])}
}

deny contains violation if {
	name := input.resource.name
	regex.match("^[-.]|[-.]$", name)
	violation := {"message": sprintf("name '%s' should not start or end with '-' or '.'", [name])}
}
`,
	}
}

// healthCheckPolicy warns about http backends that route to servers
// without any health checking.
func healthCheckPolicy() Policy {
	return Policy{
		Name:        "backend-health-check",
		Description: "HTTP backends should configure an HTTP health check",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"availability"},
		Rego: `package haproxyctl.policies.healthcheck

import rego.v1

deny contains violation if {
	input.resource.kind == "backend"
	input.resource.state == "present"
	input.resource.spec.mode == "http"
	not input.resource.spec.adv_check
	not input.resource.spec.httpchk
	violation := {
		"message": "http backend has no health check",
		"remediation": "set adv_check: httpchk",
	}
}

deny contains violation if {
	input.resource.kind == "server"
	input.resource.state == "present"
	not input.resource.spec.check
	some parent in input.resources
	parent.kind == input.resource.parent.kind
	parent.name == input.resource.parent.name
	parent.spec.adv_check
	violation := {
		"message": sprintf("backend '%s' defines a health check but the server does not enable it", [parent.name]),
		"remediation": "set check: enabled",
	}
}
`,
	}
}

// serverBoundsPolicy rejects server values HAProxy refuses at reload.
func serverBoundsPolicy() Policy {
	return Policy{
		Name:        "server-bounds",
		Description: "Server ports and weights must be within HAProxy limits",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety"},
		Rego: `package haproxyctl.policies.servers

import rego.v1

deny contains violation if {
	input.resource.kind == "server"
	input.resource.state == "present"
	port := input.resource.spec.port
	not valid_port(port)
	violation := {"message": sprintf("port %v is outside 1-65535", [port])}
}

deny contains violation if {
	input.resource.kind == "server"
	input.resource.state == "present"
	weight := input.resource.spec.weight
	weight > 256
	violation := {"message": sprintf("weight %v is above 256", [weight])}
}

valid_port(port) if {
	port >= 1
	port <= 65535
}
`,
	}
}

// referencesPolicy catches a batch that removes something another entry
// of the same batch still depends on.
func referencesPolicy() Policy {
	return Policy{
		Name:        "dangling-references",
		Description: "Present resources must not depend on resources removed by the same batch",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety", "references"},
		Rego: `package haproxyctl.policies.references

import rego.v1

deny contains violation if {
	input.resource.kind == "server"
	input.resource.state == "present"
	some other in input.resources
	other.state == "absent"
	other.kind == input.resource.parent.kind
	other.name == input.resource.parent.name
	violation := {"message": sprintf("parent %s is removed by the same batch", [other.key])}
}

deny contains violation if {
	input.resource.kind == "frontend"
	input.resource.state == "present"
	target := input.resource.spec.default_backend
	some other in input.resources
	other.state == "absent"
	other.kind == "backend"
	other.name == target
	violation := {"message": sprintf("default_backend %s is removed by the same batch", [target])}
}
`,
	}
}
