package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/pkgctl/pkg/engine"
)

func newStatusCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [package]",
		Short: "Show package lifecycle states",
		Long: `Show the lifecycle state of every declared package, or of one package.

States are restored from the registry database when --db is set; otherwise
every package starts uninstalled.`,
		Example: `  # List all packages
  pkgctl status

  # Show one package as JSON
  pkgctl status mongodb --json`,
		Args: usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			var pkgs []*engine.Package
			if len(args) == 1 {
				pkg, err := a.manager.Registry().Get(args[0])
				if err != nil {
					return a.out.printError(err)
				}
				pkgs = append(pkgs, pkg)
			} else {
				pkgs = a.manager.Registry().List()
			}

			if a.out.json {
				if len(args) == 1 {
					return a.out.printJSON(pkgs[0])
				}
				return a.out.printJSON(pkgs)
			}
			a.out.printPackages(pkgs)
			return nil
		},
	}
}
