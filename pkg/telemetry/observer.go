package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/pkgctl/pkg/engine"
)

// LifecycleObserver turns engine notifications into metrics and events.
type LifecycleObserver struct {
	metrics *Metrics
	events  *EventPublisher
	logger  *Logger
}

var _ engine.Observer = (*LifecycleObserver)(nil)

// NewLifecycleObserver creates an observer. Any argument may be nil.
func NewLifecycleObserver(metrics *Metrics, events *EventPublisher, logger *Logger) *LifecycleObserver {
	if metrics == nil {
		metrics = &Metrics{}
	}
	if events == nil {
		events = &EventPublisher{}
	}
	if logger == nil {
		logger = Nop()
	}
	return &LifecycleObserver{
		metrics: metrics,
		events:  events,
		logger:  logger.NewComponentLogger("observer"),
	}
}

// GateEvaluated implements engine.Observer.
func (o *LifecycleObserver) GateEvaluated(step engine.PlanStep, report engine.GateReport, duration time.Duration) {
	o.metrics.RecordGate(string(step.Operation), duration)
	for _, r := range report.Results {
		o.metrics.RecordCheck(string(r.Phase), string(r.Severity), string(r.Status))
	}
	for _, w := range report.Warnings() {
		o.publish(Event{
			Type:      EventTypeCheckWarning,
			Source:    "evaluator",
			PackageID: w.PackageID,
			Message:   fmt.Sprintf("Check %s/%s failed with warning severity: %s", w.PackageID, w.Name, w.Message),
			Level:     EventLevelWarning,
			Data: map[string]interface{}{
				"check": w.Name,
				"phase": string(w.Phase),
			},
		})
	}
}

// TransitionCommitted implements engine.Observer.
func (o *LifecycleObserver) TransitionCommitted(committed *engine.CommittedPlan, duration time.Duration) {
	plan := committed.Plan
	o.metrics.RecordTransition(string(plan.Desired), "committed", duration)

	for _, step := range plan.Steps {
		o.metrics.RecordStepCommitted(string(step.Operation))
		o.publish(Event{
			Type:      EventTypeStateChanged,
			Source:    "lifecycle",
			PackageID: step.PackageID,
			PlanID:    plan.ID,
			Message:   fmt.Sprintf("Package %s moved from %s to %s", step.PackageID, step.From, step.To),
			Level:     EventLevelInfo,
			Data: map[string]interface{}{
				"from":      string(step.From),
				"to":        string(step.To),
				"operation": string(step.Operation),
			},
		})
	}

	o.publish(Event{
		Type:      EventTypeTransitionCommitted,
		Source:    "lifecycle",
		PackageID: plan.Target,
		PlanID:    plan.ID,
		Message:   fmt.Sprintf("Package %s is %s (%d steps)", plan.Target, plan.Desired, len(plan.Steps)),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"steps":    plan.PackageIDs(),
			"warnings": len(committed.Warnings()),
			"duration": duration.Seconds(),
		},
	})
}

// TransitionAborted implements engine.Observer.
func (o *LifecycleObserver) TransitionAborted(packageID string, target engine.LifecycleState, err error, duration time.Duration) {
	o.metrics.RecordTransition(string(target), "aborted", duration)

	var engErr *engine.EngineError
	class, code := "unknown", ""
	if errors.As(err, &engErr) {
		class, code = string(engErr.Class), engErr.Code
	}
	o.metrics.RecordError(class, code)

	data := map[string]interface{}{
		"target": string(target),
		"code":   code,
	}
	if failures := engine.FailedChecks(err); len(failures) > 0 {
		names := make([]string, 0, len(failures))
		for _, f := range failures {
			names = append(names, f.PackageID+"/"+f.Name)
		}
		data["failed_checks"] = names
	}

	o.publish(Event{
		Type:      EventTypeTransitionAborted,
		Source:    "lifecycle",
		PackageID: packageID,
		Message:   err.Error(),
		Level:     EventLevelError,
		Data:      data,
	})
}

// UpdatePackageGauges sets the per-state package counts.
func (o *LifecycleObserver) UpdatePackageGauges(pkgs []*engine.Package) {
	counts := make(map[engine.LifecycleState]int, len(engine.AllStates))
	for _, p := range pkgs {
		counts[p.State]++
	}
	for _, state := range engine.AllStates {
		o.metrics.SetPackageCount(string(state), float64(counts[state]))
	}
}

func (o *LifecycleObserver) publish(event Event) {
	if err := o.events.Publish(event); err != nil {
		o.logger.WithError(err).WithField("event_type", event.Type).Warn("Failed to publish event")
	}
}
