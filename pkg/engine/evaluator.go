package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultCheckTimeout bounds a single check when neither the check nor the
// evaluator specify a timeout.
const DefaultCheckTimeout = 10 * time.Second

// CheckSource supplies the checks declared for a (package, phase) pair in
// declaration order.
type CheckSource interface {
	ChecksFor(packageID string, phase Phase) []RequirementCheck
}

// Evaluator runs requirement checks. It owns no state beyond its settings and
// never caches results: environment conditions may change between calls.
type Evaluator struct {
	source  CheckSource
	timeout time.Duration
}

// NewEvaluator creates a new requirement evaluator. A non-positive timeout
// selects DefaultCheckTimeout.
func NewEvaluator(source CheckSource, timeout time.Duration) *Evaluator {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Evaluator{
		source:  source,
		timeout: timeout,
	}
}

// Evaluate runs every check registered for the package and phase, in
// declaration order, and returns all results. It never short-circuits so a
// caller can report every failure.
func (e *Evaluator) Evaluate(ctx context.Context, packageID string, phase Phase) GateReport {
	checks := e.source.ChecksFor(packageID, phase)
	report := GateReport{Results: make([]CheckResult, 0, len(checks))}
	for _, check := range checks {
		report.Results = append(report.Results, e.run(ctx, check))
	}
	return report
}

// EvaluateStep runs every gate of a plan step in order.
func (e *Evaluator) EvaluateStep(ctx context.Context, step PlanStep) GateReport {
	var report GateReport
	for _, phase := range step.Phases {
		report.merge(e.Evaluate(ctx, step.PackageID, phase))
	}
	return report
}

// run evaluates a single check under its timeout. A predicate that does not
// return in time, or panics, is recorded as a failure.
func (e *Evaluator) run(ctx context.Context, check RequirementCheck) CheckResult {
	start := time.Now()
	result := CheckResult{
		PackageID: check.PackageID,
		Phase:     check.Phase,
		Name:      check.Name,
		Severity:  check.Severity,
		Status:    CheckPass,
	}

	timeout := check.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("check panicked: %v", r)
			}
		}()
		if check.Predicate == nil {
			errCh <- errors.New("check has no predicate")
			return
		}
		errCh <- check.Predicate(checkCtx)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-checkCtx.Done():
		err = fmt.Errorf("check did not complete within %v: %w", timeout, checkCtx.Err())
	}

	result.Duration = time.Since(start)
	if err != nil {
		result.Status = CheckFail
		result.Message = err.Error()
		// A stuck check always blocks, whatever its declared severity.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			result.Severity = SeverityError
		}
	}
	return result
}
