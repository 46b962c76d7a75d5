package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pkgctl/pkg/engine"
)

// planOutput is the JSON shape of a dry run.
type planOutput struct {
	Plan   *engine.TransitionPlan `json:"plan"`
	Report engine.GateReport      `json:"report"`
	Error  *errorBody             `json:"error,omitempty"`
}

func newPlanCommand(opts *globalOptions) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "plan <package>",
		Short: "Show the transition plan for a package without applying it",
		Long: `Resolve and gate a transition without committing it.

The plan lists every step in execution order together with the result of
each requirement check the steps would run. The exit code matches what the
real request would return.`,
		Example: `  # Preview enabling mongodb
  pkgctl plan mongodb --to enabled

  # Preview uninstalling as JSON
  pkgctl plan mongodb --to uninstalled --json`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			packageID := args[0]
			target, err := engine.ParseState(to)
			if err != nil {
				return asUsageError(err)
			}

			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := a.requestContext(cmd.Context())
			defer cancel()

			plan, report, err := a.manager.Plan(ctx, packageID, target)

			if a.out.json {
				out := planOutput{Plan: plan, Report: report}
				if err != nil {
					out.Error = &errorBody{Code: engine.CodeOf(err), Message: err.Error(), Package: packageID}
				}
				if encErr := a.out.printJSON(out); encErr != nil {
					return encErr
				}
				return err
			}

			if plan != nil {
				a.out.printPlan(plan)
				if !plan.IsNoop() {
					a.out.printReport(report)
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out.w, "All gates pass")
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", string(engine.StateEnabled), "target state (uninstalled, disabled, enabled)")

	return cmd
}
