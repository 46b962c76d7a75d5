package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// globalOptions holds the flags shared by every command.
type globalOptions struct {
	configPath string
	verbose    bool
	jsonOutput bool
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "pkgctl",
		Short: "pkgctl - package lifecycle manager",
		Long: `pkgctl moves packages between the uninstalled, disabled and enabled states.

Packages are declared in manifest files (YAML, JSON or CUE). Every transition
is resolved against the dependency graph and gated by the requirement checks
of each package it touches:
  - Dependencies are installed or enabled first
  - Dependents are disabled or uninstalled first
  - Error-severity check failures abort the whole request
  - Warning-severity failures are reported but never block

Checks can test environment variables, files, commands on PATH, Starlark
scripts, inline Rego modules or named Rego policies.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file path")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")
	flags.String("manifests", "./packages", "package manifest directory")
	flags.String("policies", "", "named Rego policy directory")
	flags.String("db", "", "registry database path (in-memory when empty)")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console, json)")
	flags.Duration("check-timeout", 10*time.Second, "timeout for a single requirement check")
	flags.Duration("timeout", 0, "timeout for a whole request (0 disables)")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return asUsageError(err)
	})

	// Add subcommands
	rootCmd.AddCommand(newEnableCommand(opts))
	rootCmd.AddCommand(newDisableCommand(opts))
	rootCmd.AddCommand(newInstallCommand(opts))
	rootCmd.AddCommand(newUninstallCommand(opts))
	rootCmd.AddCommand(newStatusCommand(opts))
	rootCmd.AddCommand(newPlanCommand(opts))
	rootCmd.AddCommand(newCheckCommand(opts))
	rootCmd.AddCommand(newGraphCommand(opts))
	rootCmd.AddCommand(newValidateCommand(opts))
	rootCmd.AddCommand(newWatchCommand(opts))

	return rootCmd
}

// usageArgs marks argument validation failures as usage errors.
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return asUsageError(fn(cmd, args))
	}
}
