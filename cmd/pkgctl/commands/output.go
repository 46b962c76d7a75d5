package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/openfroyo/pkgctl/pkg/engine"
)

// printer renders command results as text or JSON.
type printer struct {
	w    io.Writer
	json bool
}

func newPrinter(w io.Writer, jsonOutput bool) *printer {
	return &printer{w: w, json: jsonOutput}
}

func (p *printer) printJSON(v interface{}) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// errorOutput is the JSON shape of a failed command.
type errorOutput struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code     string               `json:"code,omitempty"`
	Message  string               `json:"message"`
	Package  string               `json:"package,omitempty"`
	Cycle    []string             `json:"cycle,omitempty"`
	Failures []engine.CheckResult `json:"failures,omitempty"`
}

// printError renders err and returns it unchanged so callers can
// `return p.printError(err)`.
func (p *printer) printError(err error) error {
	if p.json {
		body := errorBody{
			Code:     engine.CodeOf(err),
			Message:  err.Error(),
			Failures: engine.FailedChecks(err),
		}
		var ee *engine.EngineError
		if errors.As(err, &ee) {
			body.Package = ee.Package
			body.Cycle = ee.Cycle
		}
		if encErr := p.printJSON(errorOutput{Error: body}); encErr != nil {
			return encErr
		}
		return err
	}

	if failures := engine.FailedChecks(err); len(failures) > 0 {
		fmt.Fprintln(p.w, "Failed checks:")
		p.printResults(failures)
	}
	return err
}

func (p *printer) printPlan(plan *engine.TransitionPlan) {
	if plan == nil {
		return
	}
	if plan.IsNoop() {
		fmt.Fprintf(p.w, "%s is already %s, nothing to do\n", plan.Target, plan.Desired)
		return
	}

	fmt.Fprintf(p.w, "Plan %s: %s -> %s (%d steps)\n", plan.ID, plan.Target, plan.Desired, len(plan.Steps))
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	for i, step := range plan.Steps {
		phases := make([]string, 0, len(step.Phases))
		for _, ph := range step.Phases {
			phases = append(phases, string(ph))
		}
		fmt.Fprintf(tw, "  %d.\t%s\t%s\t%s -> %s\t%s\n",
			i+1, step.Operation, step.PackageID, step.From, step.To, strings.Join(phases, ","))
	}
	_ = tw.Flush()
}

func (p *printer) printReport(report engine.GateReport) {
	if len(report.Results) == 0 {
		fmt.Fprintln(p.w, "No requirement checks")
		return
	}
	fmt.Fprintln(p.w, "Checks:")
	p.printResults(report.Results)
}

func (p *printer) printResults(results []engine.CheckResult) {
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	for _, r := range results {
		fmt.Fprintf(tw, "  %s\t%s/%s\t%s\t%s\t%s\n",
			statusMark(r), r.PackageID, r.Name, r.Phase, r.Severity, r.Message)
	}
	_ = tw.Flush()
}

func (p *printer) printWarnings(warnings []engine.CheckResult) {
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintf(p.w, "%d warning(s):\n", len(warnings))
	p.printResults(warnings)
}

func (p *printer) printPackages(pkgs []*engine.Package) {
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PACKAGE\tVERSION\tSTATE\tDEPENDENCIES")
	for _, pkg := range pkgs {
		deps := "-"
		if len(pkg.Dependencies) > 0 {
			deps = strings.Join(pkg.Dependencies, ",")
		}
		version := pkg.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", pkg.ID, version, pkg.State, deps)
	}
	_ = tw.Flush()
}

func statusMark(r engine.CheckResult) string {
	switch {
	case r.Status == engine.CheckPass:
		return "ok"
	case r.Severity == engine.SeverityWarning:
		return "warn"
	default:
		return "FAIL"
	}
}
