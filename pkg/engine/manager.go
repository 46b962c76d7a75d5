package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxCommitAttempts bounds how often a request is re-planned under the commit
// lock when the registry keeps moving underneath it.
const maxCommitAttempts = 3

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Logger receives structured lifecycle logs. Defaults to a disabled logger.
	Logger *zerolog.Logger

	// Store, when set, persists every commit before it becomes visible.
	Store StateStore

	// Observer receives metrics and event notifications.
	Observer Observer

	// CheckTimeout bounds each requirement check. Zero selects DefaultCheckTimeout.
	CheckTimeout time.Duration
}

// Manager is the lifecycle state machine. It exclusively owns package state,
// validates and applies transitions, and uses the Resolver and Evaluator as
// gates. Commits are serialised; planning and gating run concurrently.
type Manager struct {
	registry  *Registry
	resolver  *Resolver
	evaluator *Evaluator
	store     StateStore
	observer  Observer
	logger    zerolog.Logger
	tracer    trace.Tracer

	// commitMu admits one committing request at a time.
	commitMu sync.Mutex
}

// NewManager creates a lifecycle manager with an empty registry.
func NewManager(opts ManagerOptions) *Manager {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	registry := NewRegistry()
	return &Manager{
		registry:  registry,
		resolver:  NewResolver(),
		evaluator: NewEvaluator(registry, opts.CheckTimeout),
		store:     opts.Store,
		observer:  observer,
		logger:    logger.With().Str("component", "lifecycle").Logger(),
		tracer:    otel.Tracer("github.com/openfroyo/pkgctl/pkg/engine"),
	}
}

// Registry exposes the package table for declaration and read-only queries.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Resolver exposes the dependency resolver.
func (m *Manager) Resolver() *Resolver {
	return m.resolver
}

// RegisterPackage declares a package in the Uninstalled state.
func (m *Manager) RegisterPackage(p Package) error {
	return m.registry.RegisterPackage(p)
}

// RegisterCheck declares a requirement check for a package and phase.
func (m *Manager) RegisterCheck(packageID string, phase Phase, severity Severity, name string, predicate Predicate) error {
	return m.registry.RegisterCheck(RequirementCheck{
		PackageID: packageID,
		Phase:     phase,
		Name:      name,
		Severity:  severity,
		Predicate: predicate,
	})
}

// QueryState returns the current lifecycle state of a package.
func (m *Manager) QueryState(packageID string) (LifecycleState, error) {
	p, err := m.registry.Get(packageID)
	if err != nil {
		return "", err
	}
	return p.State, nil
}

// ResetRegistry forgets every package, check and state. Intended for test
// harnesses that need isolation between independent runs.
func (m *Manager) ResetRegistry() {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()
	m.registry.Reset()
	m.logger.Debug().Msg("Registry reset")
}

// Restore loads persisted states from the configured store. Packages must be
// registered first; states for unknown packages are skipped and returned.
func (m *Manager) Restore(ctx context.Context) ([]string, error) {
	if m.store == nil {
		return nil, nil
	}
	states, err := m.store.LoadStates(ctx)
	if err != nil {
		return nil, NewPermanentError("failed to load persisted states", err).WithCode(ErrCodeStore)
	}

	m.commitMu.Lock()
	defer m.commitMu.Unlock()
	skipped := m.registry.restore(states)
	m.logger.Info().
		Int("restored", len(states)-len(skipped)).
		Strs("skipped", skipped).
		Msg("Restored package states")
	return skipped, nil
}

// Plan resolves and gates a transition without committing it. The returned
// error is non-nil for resolver failures, illegal transitions and failed gates;
// plan and report are still returned for failed gates.
func (m *Manager) Plan(ctx context.Context, packageID string, target LifecycleState) (*TransitionPlan, GateReport, error) {
	plan, report, err := m.prepare(ctx, packageID, target)
	if err != nil {
		return plan, report, err
	}
	if failures := report.Failures(); len(failures) > 0 {
		return plan, report, newRequirementError(packageID, target, failures)
	}
	return plan, report, nil
}

// CheckPhase evaluates one package's own checks for phase, ignoring its
// dependencies and current state.
func (m *Manager) CheckPhase(ctx context.Context, packageID string, phase Phase) (GateReport, error) {
	if err := phase.Validate(); err != nil {
		return GateReport{}, NewPermanentError("invalid phase", err).WithCode(ErrCodeValidation)
	}
	if _, err := m.registry.Get(packageID); err != nil {
		return GateReport{}, err
	}
	return m.evaluator.Evaluate(ctx, packageID, phase), nil
}

// RequestTransition moves a package, and whatever else the plan requires, to
// target. Either every step commits or none does.
func (m *Manager) RequestTransition(ctx context.Context, packageID string, target LifecycleState) (*CommittedPlan, error) {
	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "lifecycle.request_transition", trace.WithAttributes(
		attribute.String("package.id", packageID),
		attribute.String("lifecycle.target", string(target)),
	))
	defer span.End()

	log := m.logger.With().Str("package_id", packageID).Str("target", string(target)).Logger()

	committed, err := m.requestTransition(ctx, packageID, target, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.observer.TransitionAborted(packageID, target, err, time.Since(start))

		event := log.Warn().Err(err).Str("code", CodeOf(err))
		if failures := FailedChecks(err); len(failures) > 0 {
			event = event.Int("failed_checks", len(failures))
		}
		event.Msg("Transition aborted")
		return nil, err
	}

	span.SetAttributes(attribute.Int("plan.steps", len(committed.Plan.Steps)))
	span.SetStatus(codes.Ok, "")
	m.observer.TransitionCommitted(committed, time.Since(start))
	return committed, nil
}

func (m *Manager) requestTransition(ctx context.Context, packageID string, target LifecycleState, log zerolog.Logger) (*CommittedPlan, error) {
	plan, report, err := m.prepare(ctx, packageID, target)
	if err != nil {
		return nil, err
	}

	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, newTimeoutError(packageID, target, ctxErr)
		}
		if failures := report.Failures(); len(failures) > 0 {
			return nil, newRequirementError(packageID, target, failures)
		}
		m.logWarnings(log, report)

		if plan.IsNoop() {
			log.Debug().Msg("Transition already satisfied")
			return &CommittedPlan{Plan: plan, Report: report, CommittedAt: time.Now()}, nil
		}

		now := time.Now()
		err := m.registry.commit(plan, now, m.persist(ctx))
		if err == nil {
			log.Info().
				Str("plan_id", plan.ID).
				Strs("packages", plan.PackageIDs()).
				Msg("Transition committed")
			return &CommittedPlan{Plan: plan, Report: report, CommittedAt: now}, nil
		}
		if !errors.Is(err, errStalePlan) {
			return nil, err
		}
		if attempt >= maxCommitAttempts {
			return nil, NewTransientError("registry kept changing while committing", err).
				WithPackage(packageID).
				WithOperation(string(target))
		}

		log.Debug().Int("attempt", attempt).Msg("Registry changed since planning, re-planning under commit lock")
		plan, report, err = m.prepare(ctx, packageID, target)
		if err != nil {
			return nil, err
		}
	}
}

// persist adapts the configured store to the registry commit hook.
func (m *Manager) persist(ctx context.Context) func([]*Package) error {
	if m.store == nil {
		return nil
	}
	return func(pkgs []*Package) error {
		if err := m.store.SaveStates(ctx, pkgs); err != nil {
			return NewPermanentError("failed to persist package states", err).WithCode(ErrCodeStore)
		}
		return nil
	}
}

func (m *Manager) logWarnings(log zerolog.Logger, report GateReport) {
	for _, w := range report.Warnings() {
		log.Warn().
			Str("check", w.Name).
			Str("owner", w.PackageID).
			Str("phase", string(w.Phase)).
			Str("reason", w.Message).
			Msg("Requirement warning")
	}
}

// prepare computes the plan against a registry snapshot and gates every step
// in plan order. Gate failures are reported, not returned as errors.
func (m *Manager) prepare(ctx context.Context, packageID string, target LifecycleState) (*TransitionPlan, GateReport, error) {
	if err := target.Validate(); err != nil {
		return nil, GateReport{}, NewPermanentError("invalid target state", err).
			WithCode(ErrCodeValidation).
			WithPackage(packageID)
	}

	snapshot, generation := m.registry.Snapshot()
	plan, err := m.buildPlan(snapshot, packageID, target)
	if err != nil {
		return nil, GateReport{}, err
	}
	plan.generation = generation

	m.logger.Debug().
		Str("package_id", packageID).
		Str("target", string(target)).
		Strs("order", plan.PackageIDs()).
		Msg("Plan resolved")

	var report GateReport
	for _, step := range plan.Steps {
		if len(step.Phases) == 0 {
			continue
		}
		stepStart := time.Now()
		stepCtx, span := m.tracer.Start(ctx, "lifecycle.gate", trace.WithAttributes(
			attribute.String("package.id", step.PackageID),
			attribute.String("lifecycle.operation", string(step.Operation)),
		))
		stepReport := m.evaluator.EvaluateStep(stepCtx, step)
		if !stepReport.Passed() {
			span.SetStatus(codes.Error, "gate failed")
		}
		span.End()

		m.observer.GateEvaluated(step, stepReport, time.Since(stepStart))
		report.merge(stepReport)
	}

	return plan, report, nil
}

// buildPlan turns a request into ordered steps. Raising a package (install or
// enable) pulls its dependencies up first; lowering it (disable or uninstall)
// brings its dependents down first.
func (m *Manager) buildPlan(pkgs map[string]*Package, packageID string, target LifecycleState) (*TransitionPlan, error) {
	current, ok := pkgs[packageID]
	if !ok {
		return nil, newUnknownPackageError(packageID)
	}

	plan := &TransitionPlan{
		ID:        uuid.New().String(),
		Target:    packageID,
		Desired:   target,
		Steps:     make([]PlanStep, 0),
		CreatedAt: time.Now(),
	}

	raising := target.rank() > current.State.rank() ||
		(target == current.State && target == StateEnabled)

	if raising {
		order, err := m.resolver.Resolve(packageID, pkgs)
		if err != nil {
			return nil, err
		}
		for _, id := range order {
			p := pkgs[id]
			if p.State.Satisfies(target) {
				continue
			}
			plan.Steps = append(plan.Steps, raiseStep(p, target))
		}
		return plan, nil
	}

	order, err := m.resolver.ResolveDependents(packageID, pkgs)
	if err != nil {
		return nil, err
	}
	if target == current.State {
		return plan, nil
	}

	if target == StateUninstalled && current.State == StateEnabled {
		return nil, newIllegalTransitionError(packageID, current.State, target, "disable it first")
	}

	for _, id := range order {
		p := pkgs[id]
		switch target {
		case StateDisabled:
			if p.State == StateEnabled {
				plan.Steps = append(plan.Steps, lowerStep(p, StateDisabled))
			}
		case StateUninstalled:
			if p.State == StateEnabled {
				return nil, newIllegalTransitionError(id, p.State, target,
					fmt.Sprintf("enabled dependent of %q must be disabled first", packageID))
			}
			if p.State == StateDisabled {
				plan.Steps = append(plan.Steps, lowerStep(p, StateUninstalled))
			}
		}
	}
	return plan, nil
}

func raiseStep(p *Package, target LifecycleState) PlanStep {
	step := PlanStep{
		PackageID: p.ID,
		From:      p.State,
		To:        target,
		Operation: OperationFor(p.State, target),
	}
	if p.State == StateUninstalled {
		step.Phases = append(step.Phases, PhaseInstall)
	}
	if target == StateEnabled {
		step.Phases = append(step.Phases, PhaseEnable)
	}
	return step
}

func lowerStep(p *Package, target LifecycleState) PlanStep {
	return PlanStep{
		PackageID: p.ID,
		From:      p.State,
		To:        target,
		Operation: OperationFor(p.State, target),
	}
}
