// Package checks builds engine requirement checks from the declarative
// check specs found in package manifests: environment variables, files,
// commands on PATH, starlark scripts, inline Rego modules and named
// policies.
package checks
