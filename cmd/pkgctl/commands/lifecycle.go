package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pkgctl/pkg/engine"
	"github.com/openfroyo/pkgctl/pkg/telemetry"
)

// transitionCommand describes one lifecycle verb.
type transitionCommand struct {
	use     string
	short   string
	long    string
	example string
	target  engine.LifecycleState

	// rejectFrom is a current state the verb does not apply to even though
	// the target state is reachable from it.
	rejectFrom engine.LifecycleState
	reason     string
}

func newEnableCommand(opts *globalOptions) *cobra.Command {
	return newTransitionCommand(opts, transitionCommand{
		use:   "enable <package>",
		short: "Enable a package and its dependencies",
		long: `Enable a package.

Uninstalled dependencies are installed and disabled dependencies are enabled
first. Install checks gate every package that gets installed and enable
checks gate every package that gets enabled. Nothing changes unless every
gate passes.`,
		example: `  # Enable mongodb using manifests from ./packages
  pkgctl enable mongodb

  # Enable with a persistent registry
  pkgctl enable mongodb --db ./pkgctl.db`,
		target: engine.StateEnabled,
	})
}

func newDisableCommand(opts *globalOptions) *cobra.Command {
	return newTransitionCommand(opts, transitionCommand{
		use:   "disable <package>",
		short: "Disable a package and every enabled package depending on it",
		long: `Disable an enabled package.

Enabled packages that depend on it are disabled first. Disabling keeps the
packages installed and runs no requirement checks.`,
		example:    `  pkgctl disable mongodb`,
		target:     engine.StateDisabled,
		rejectFrom: engine.StateUninstalled,
		reason:     "package is not installed",
	})
}

func newInstallCommand(opts *globalOptions) *cobra.Command {
	return newTransitionCommand(opts, transitionCommand{
		use:   "install <package>",
		short: "Install a package without enabling it",
		long: `Install an uninstalled package and its uninstalled dependencies.

Installed packages end up disabled. Install checks gate every package that
gets installed. Installing an enabled package is rejected.`,
		example:    `  pkgctl install mongodb`,
		target:     engine.StateDisabled,
		rejectFrom: engine.StateEnabled,
		reason:     "package is already enabled",
	})
}

func newUninstallCommand(opts *globalOptions) *cobra.Command {
	return newTransitionCommand(opts, transitionCommand{
		use:   "uninstall <package>",
		short: "Uninstall a package and every installed package depending on it",
		long: `Uninstall a disabled package.

Installed dependents are uninstalled first. The request is rejected while the
package or any of those dependents is still enabled.`,
		example: `  pkgctl disable mongodb && pkgctl uninstall mongodb`,
		target:  engine.StateUninstalled,
	})
}

func newTransitionCommand(opts *globalOptions, tc transitionCommand) *cobra.Command {
	return &cobra.Command{
		Use:     tc.use,
		Short:   tc.short,
		Long:    tc.long,
		Example: tc.example,
		Args:    usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, packageID := cmd.Name(), args[0]

			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			if tc.rejectFrom != "" {
				if err := a.checkApplicable(name, packageID, tc); err != nil {
					return a.out.printError(err)
				}
			}

			ctx, cancel := a.requestContext(cmd.Context())
			defer cancel()
			ctx, span := a.telemetry.Tracer.StartCommandSpan(ctx, name, packageID)
			defer span.End()

			a.logger.Debug().
				Str("package_id", packageID).
				Str("target", string(tc.target)).
				Msg("Requesting transition")

			committed, err := a.manager.RequestTransition(ctx, packageID, tc.target)
			if err != nil {
				telemetry.RecordError(span, err)
				return a.out.printError(err)
			}
			telemetry.RecordSuccess(span)
			a.telemetry.Observer.UpdatePackageGauges(a.manager.Registry().List())

			if a.out.json {
				return a.out.printJSON(committed)
			}
			a.out.printPlan(committed.Plan)
			a.out.printWarnings(committed.Warnings())
			if !committed.Plan.IsNoop() {
				fmt.Fprintf(a.out.w, "%s is now %s\n", packageID, tc.target)
			}
			return nil
		},
	}
}

// checkApplicable rejects a verb for a package in tc.rejectFrom, e.g.
// install on an enabled package, which would otherwise plan a disable.
func (a *app) checkApplicable(verb, packageID string, tc transitionCommand) error {
	state, err := a.manager.QueryState(packageID)
	if err != nil {
		return err
	}
	if state == tc.rejectFrom {
		return engine.NewPermanentError(fmt.Sprintf("cannot %s %s: %s", verb, packageID, tc.reason), nil).
			WithCode(engine.ErrCodeIllegalTransition).
			WithPackage(packageID).
			WithOperation(verb)
	}
	return nil
}
