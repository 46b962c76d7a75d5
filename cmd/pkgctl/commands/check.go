package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pkgctl/pkg/engine"
)

func newCheckCommand(opts *globalOptions) *cobra.Command {
	var phase string

	cmd := &cobra.Command{
		Use:   "check <package>",
		Short: "Evaluate a package's requirement checks for one phase",
		Long: `Evaluate the requirement checks a package declares for a phase.

Only the package's own checks run; dependencies and the current state are
ignored. Exits 1 when an error-severity check fails.`,
		Example: `  pkgctl check mongodb --phase install`,
		Args:    usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			packageID := args[0]
			p := engine.Phase(phase)
			if err := p.Validate(); err != nil {
				return asUsageError(err)
			}

			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := a.requestContext(cmd.Context())
			defer cancel()

			report, err := a.manager.CheckPhase(ctx, packageID, p)
			if err != nil {
				return a.out.printError(err)
			}

			if a.out.json {
				if err := a.out.printJSON(report); err != nil {
					return err
				}
			} else {
				a.out.printReport(report)
			}

			if failures := report.Failures(); len(failures) > 0 {
				return engine.NewTransientError(
					fmt.Sprintf("%d %s check(s) failed", len(failures), p), nil).
					WithCode(engine.ErrCodeRequirementFailed).
					WithPackage(packageID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&phase, "phase", string(engine.PhaseInstall), "phase to check (install, enable)")

	return cmd
}
