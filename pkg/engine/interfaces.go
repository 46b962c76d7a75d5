package engine

import (
	"context"
	"time"
)

// StateStore persists committed package states. SaveStates is called with
// every package a plan touches, before the in-memory commit; an error aborts
// the commit.
type StateStore interface {
	// SaveStates writes all packages in one transaction.
	SaveStates(ctx context.Context, pkgs []*Package) error

	// LoadStates returns the last persisted state of every stored package.
	LoadStates(ctx context.Context) (map[string]LifecycleState, error)
}

// Observer receives lifecycle notifications for metrics and events.
// Implementations must not block.
type Observer interface {
	// GateEvaluated is called after every plan step is gated.
	GateEvaluated(step PlanStep, report GateReport, duration time.Duration)

	// TransitionCommitted is called after a plan is committed.
	TransitionCommitted(committed *CommittedPlan, duration time.Duration)

	// TransitionAborted is called when a request fails for any reason.
	TransitionAborted(packageID string, target LifecycleState, err error, duration time.Duration)
}

// nopObserver discards every notification.
type nopObserver struct{}

func (nopObserver) GateEvaluated(PlanStep, GateReport, time.Duration)          {}
func (nopObserver) TransitionCommitted(*CommittedPlan, time.Duration)          {}
func (nopObserver) TransitionAborted(string, LifecycleState, error, time.Duration) {}
