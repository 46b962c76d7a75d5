// Package manifest loads package manifests: one package per file, written
// in YAML, JSON, TOML or CUE.
//
//	id: mongodb
//	version: 7.0.2
//	dependencies: [storage]
//	checks:
//	  - name: disk-space
//	    phase: install
//	    kind: rego
//	    rego: |
//	      package pkgctl.disk
//	      deny contains "not enough disk" if input.version == ""
//	  - name: swap-disabled
//	    phase: enable
//	    severity: warning
//	    kind: file
//	    path: /etc/pkgctl/swapoff
//
// Every manifest is unified with a closed CUE schema, then checked with
// validator struct tags. LoadDir reads a directory in sorted order and
// Apply registers the result with an engine.Manager.
package manifest
