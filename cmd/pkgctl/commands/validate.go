package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pkgctl/pkg/checks"
	"github.com/openfroyo/pkgctl/pkg/engine"
	"github.com/openfroyo/pkgctl/pkg/manifest"
)

// validateOutput is the JSON shape of a validation run.
type validateOutput struct {
	Valid    bool                       `json:"valid"`
	Packages int                        `json:"packages"`
	Checks   int                        `json:"checks"`
	Errors   []manifest.ValidationError `json:"errors,omitempty"`
}

func newValidateCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [dir]",
		Short: "Validate package manifests",
		Long: `Validate every package manifest in a directory.

This command checks:
  - YAML, JSON and CUE syntax
  - Schema conformance and unique package IDs
  - Starlark scripts and inline Rego modules compile
  - Referenced policies exist
  - Dependencies exist and form no cycle

Every problem is reported, not just the first one.`,
		Example: `  # Validate the configured manifest directory
  pkgctl validate

  # Validate a specific directory
  pkgctl validate ./packages`,
		Args: usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			dir := a.settings.Manifests
			if len(args) == 1 {
				dir = args[0]
			}

			ctx := cmd.Context()
			if err := a.loadPolicies(ctx); err != nil {
				return err
			}

			out := validateOutput{}
			manifests, err := a.parser.LoadDir(ctx, dir)
			if err != nil {
				var verrs manifest.ValidationErrors
				if !errors.As(err, &verrs) {
					return err
				}
				out.Errors = append(out.Errors, verrs...)
			}
			out.Packages = len(manifests)

			registry := engine.NewRegistry()
			for _, m := range manifests {
				pkg := m.Package()
				if err := registry.RegisterPackage(pkg); err != nil {
					out.Errors = append(out.Errors, manifest.ValidationError{File: m.Source, Path: "id", Message: err.Error()})
					continue
				}
				for i, spec := range m.Checks {
					if err := a.validateCheck(cmd, pkg, spec); err != nil {
						out.Errors = append(out.Errors, manifest.ValidationError{
							File:    m.Source,
							Path:    fmt.Sprintf("checks[%d]", i),
							Message: err.Error(),
						})
						continue
					}
					out.Checks++
				}
			}

			pkgs, _ := registry.Snapshot()
			if _, err := engine.NewResolver().Levels(pkgs); err != nil {
				out.Errors = append(out.Errors, manifest.ValidationError{File: dir, Path: "dependencies", Message: err.Error()})
			}

			out.Valid = len(out.Errors) == 0
			if a.out.json {
				if err := a.out.printJSON(out); err != nil {
					return err
				}
			} else {
				for _, e := range out.Errors {
					fmt.Fprintln(a.out.w, e.Error())
				}
				if out.Valid {
					fmt.Fprintf(a.out.w, "%d package(s) and %d check(s) are valid\n", out.Packages, out.Checks)
				}
			}

			if !out.Valid {
				return manifest.ValidationErrors(out.Errors)
			}
			return nil
		},
	}
}

func (a *app) validateCheck(cmd *cobra.Command, pkg engine.Package, spec checks.Spec) error {
	if _, err := a.builder.Build(cmd.Context(), pkg, spec); err != nil {
		return err
	}
	if spec.Kind == checks.KindPolicy && !a.policies.HasPolicy(spec.Policy) {
		return fmt.Errorf("check %q: unknown policy %q", spec.Name, spec.Policy)
	}
	return nil
}
