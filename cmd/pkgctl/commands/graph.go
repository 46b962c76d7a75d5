package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newGraphCommand(opts *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the package dependency graph",
		Long: `Print the dependency graph of every declared package.

The dot format can be rendered with Graphviz; nodes are coloured by state.
The levels format groups packages that can be enabled together, dependencies
first.`,
		Example: `  # Render with Graphviz
  pkgctl graph | dot -Tsvg > packages.svg

  # Show enable order
  pkgctl graph --format levels`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "dot" && format != "levels" {
				return asUsageError(fmt.Errorf("unknown graph format %q", format))
			}

			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			pkgs, _ := a.manager.Registry().Snapshot()
			resolver := a.manager.Resolver()

			if format == "dot" {
				dot, err := resolver.ToDOT(pkgs)
				if err != nil {
					return a.out.printError(err)
				}
				fmt.Fprint(a.out.w, dot)
				return nil
			}

			levels, err := resolver.Levels(pkgs)
			if err != nil {
				return a.out.printError(err)
			}
			if a.out.json {
				return a.out.printJSON(levels)
			}
			for i, level := range levels {
				fmt.Fprintf(a.out.w, "%d: %s\n", i, strings.Join(level, " "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "dot", "output format (dot, levels)")

	return cmd
}
