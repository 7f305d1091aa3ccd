// Package config loads haproxyctl manifests and settings.
//
// # Manifests
//
// A manifest lists the backends, servers and frontends that should exist on
// a Data Plane API instance, using the API's own field names:
//
//	transaction:
//	  force_reload: true
//	resources:
//	  - kind: backend
//	    spec: {name: web, mode: http, balance: {algorithm: roundrobin}}
//	  - kind: server
//	    parent: {kind: backend, name: web}
//	    spec: {name: web1, address: 10.0.0.1, port: 8080, check: enabled}
//	  - kind: frontend
//	    state: absent
//	    spec: {name: legacy}
//
// Manifests may be written in YAML, JSON, CUE or Starlark, chosen by file
// extension. Loader.Load accepts files and directories and merges them; a
// resource identity defined twice is rejected. Every entry is checked
// against the built-in CUE schemas (see SchemaRegistry) and then decoded
// into the typed model by Manifest.Items.
//
// CUE manifests may key resources by name:
//
//	resources: web: {kind: "backend", spec: mode: "http"}
//
// Starlark manifests assign a list to the resources global, usually built
// with the backend, server and frontend builtins. See StarlarkEvaluator.
//
// # Settings
//
// Settings holds the connection and telemetry configuration, read from
// ~/.haproxyctl/config.yaml by default and overridden by HAPROXYCTL_*
// environment variables.
//
// # Watching
//
// Watch re-runs a callback when manifest files change, debounced so that a
// burst of writes produces one call.
package config
