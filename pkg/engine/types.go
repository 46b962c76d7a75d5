package engine

import (
	"context"
	"time"
)

// Package is a unit of installable, enableable functionality.
type Package struct {
	// ID is the unique identifier for this package.
	ID string `json:"id"`

	// Version is the declared package version.
	Version string `json:"version,omitempty"`

	// Description is a human-readable summary.
	Description string `json:"description,omitempty"`

	// Dependencies lists package IDs that must be at least as far along
	// the lifecycle as this package. Sorted and de-duplicated on registration.
	Dependencies []string `json:"dependencies,omitempty"`

	// State is the current lifecycle state.
	State LifecycleState `json:"state"`

	// UpdatedAt is when the state last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// clone returns a deep copy so callers never alias registry internals.
func (p *Package) clone() *Package {
	c := *p
	c.Dependencies = append([]string(nil), p.Dependencies...)
	return &c
}

// Predicate is the callable behind a requirement check. A nil error means the
// check passed; a non-nil error fails it and its message becomes the reason.
// Predicates may read external conditions but must not mutate them.
type Predicate func(ctx context.Context) error

// RequirementCheck is a pre-condition declared by a package for one phase.
type RequirementCheck struct {
	// PackageID is the owning package.
	PackageID string `json:"package_id"`

	// Phase is the lifecycle phase this check gates.
	Phase Phase `json:"phase"`

	// Name identifies the check within its package.
	Name string `json:"name"`

	// Severity decides whether a failure blocks the transition.
	Severity Severity `json:"severity"`

	// Timeout bounds a single evaluation. Zero means the evaluator default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Predicate is evaluated on every gate; results are never cached.
	Predicate Predicate `json:"-"`
}

// CheckResult is the outcome of evaluating one check.
type CheckResult struct {
	PackageID string        `json:"package_id"`
	Phase     Phase         `json:"phase"`
	Name      string        `json:"name"`
	Severity  Severity      `json:"severity"`
	Status    CheckStatus   `json:"status"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Blocking returns true if this result fails its gate.
func (r CheckResult) Blocking() bool {
	return r.Status == CheckFail && r.Severity == SeverityError
}

// GateReport aggregates check results for one or more gates.
type GateReport struct {
	Results []CheckResult `json:"results"`
}

// Passed returns true if no Error-severity check failed.
func (g GateReport) Passed() bool {
	for _, r := range g.Results {
		if r.Blocking() {
			return false
		}
	}
	return true
}

// Failures returns every blocking result.
func (g GateReport) Failures() []CheckResult {
	var out []CheckResult
	for _, r := range g.Results {
		if r.Blocking() {
			out = append(out, r)
		}
	}
	return out
}

// Warnings returns every failed Warning-severity result.
func (g GateReport) Warnings() []CheckResult {
	var out []CheckResult
	for _, r := range g.Results {
		if r.Status == CheckFail && r.Severity == SeverityWarning {
			out = append(out, r)
		}
	}
	return out
}

func (g *GateReport) merge(other GateReport) {
	g.Results = append(g.Results, other.Results...)
}

// PlanStep moves one package from one state to another.
type PlanStep struct {
	PackageID string         `json:"package_id"`
	From      LifecycleState `json:"from"`
	To        LifecycleState `json:"to"`
	Operation Operation      `json:"operation"`

	// Phases lists the gates this step must pass, in evaluation order.
	Phases []Phase `json:"phases,omitempty"`
}

// TransitionPlan is the ordered set of steps computed for one request.
// It is never partially applied.
type TransitionPlan struct {
	ID        string         `json:"id"`
	Target    string         `json:"target"`
	Desired   LifecycleState `json:"desired"`
	Steps     []PlanStep     `json:"steps"`
	CreatedAt time.Time      `json:"created_at"`

	// generation is the registry generation the plan was computed against.
	generation uint64
}

// IsNoop returns true if the request is already satisfied.
func (p *TransitionPlan) IsNoop() bool {
	return len(p.Steps) == 0
}

// PackageIDs returns the packages touched by the plan in order.
func (p *TransitionPlan) PackageIDs() []string {
	ids := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		ids = append(ids, s.PackageID)
	}
	return ids
}

// CommittedPlan is returned by a successful transition request.
type CommittedPlan struct {
	Plan        *TransitionPlan `json:"plan"`
	Report      GateReport      `json:"report"`
	CommittedAt time.Time       `json:"committed_at"`
}

// Warnings returns the non-blocking failures surfaced while gating.
func (c *CommittedPlan) Warnings() []CheckResult {
	return c.Report.Warnings()
}
