// Package policy evaluates Open Policy Agent (OPA) Rego modules as package
// requirement checks.
//
// A policy is a Rego module with a `deny` rule. Evaluating it against an
// Input yields the deny messages; an empty result means the check passes.
//
//	package pkgctl.disk
//
//	deny contains msg if {
//		input.phase == "install"
//		not input.version
//		msg := "a version is required to install"
//	}
//
// The Engine holds named policies (built-ins plus those read by a Loader
// from a policy directory). Checks refer to policies by name and look them
// up at evaluation time, so a Loader watching the directory with fsnotify
// can hot-reload policies into the Engine:
//
//	loader := policy.NewLoader(logger)
//	policies, err := loader.LoadDir(ctx, "/etc/pkgctl/policies")
//	if err != nil {
//		return err
//	}
//	if err := eng.Load(ctx, policies); err != nil {
//		return err
//	}
//	err = loader.Watch(ctx, "/etc/pkgctl/policies", func(ps []policy.Policy) error {
//		return eng.Load(ctx, ps)
//	})
//
// Compile prepares a single inline module for checks declared directly in
// a package manifest.
package policy
