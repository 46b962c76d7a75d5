// Package engine provides the package lifecycle core: the registry of known
// packages, the dependency resolver, the requirement evaluator and the
// lifecycle state machine that ties them together.
//
// # Overview
//
// Every package is in exactly one lifecycle state:
//
//	uninstalled --install--> disabled --enable--> enabled
//	uninstalled <-uninstall- disabled <-disable-- enabled
//
// A request names one package and a target state. The Manager computes a
// TransitionPlan against a registry snapshot, gates every step with the
// Evaluator and then commits every step at once. Nothing changes if any gate
// fails.
//
// # Planning
//
// Raising a package (install or enable) uses Resolver.Resolve: the target and
// its transitive dependencies in dependency order, target last. Each package
// not already at the target state becomes a step. Steps leaving uninstalled
// are gated by the install phase, steps reaching enabled by the enable phase.
//
// Lowering a package (disable or uninstall) uses Resolver.ResolveDependents:
// dependents come down before the packages they depend on. Uninstalling an
// enabled package, or one with an enabled dependent, is an illegal transition.
//
// # Requirement Checks
//
// Checks are registered per package and phase and run in declaration order.
// A failing Error check blocks; a failing Warning check is reported only.
// Checks that panic or exceed their timeout fail with Error severity.
// Results are never cached.
//
// # Errors
//
// All failures are *EngineError values classified as transient or permanent
// and carrying a code:
//
//	_, err := mgr.RequestTransition(ctx, "mongodb", engine.StateEnabled)
//	if errors.Is(err, engine.ErrRequirementFailed) {
//	    for _, f := range engine.FailedChecks(err) {
//	        log.Warn().Str("check", f.Name).Msg(f.Message)
//	    }
//	}
//
// Only requirement failures are transient: fix the condition and resubmit.
//
// # Concurrency
//
// Planning and gating run concurrently. Commits are serialised, and a plan
// computed against a registry that has since changed is recomputed and
// re-gated under the commit lock before it is applied.
package engine
