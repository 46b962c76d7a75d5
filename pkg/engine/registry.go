package engine

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"
)

// packageIDPattern restricts IDs to what manifests, metrics labels and DOT
// output can carry unescaped.
var packageIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

type checkKey struct {
	packageID string
	phase     Phase
}

// Registry is the process-wide table of known packages and their declared
// checks. Package state inside the registry is only ever changed through
// commit, which the Manager drives.
type Registry struct {
	mu         sync.RWMutex
	packages   map[string]*Package
	checks     map[checkKey][]RequirementCheck
	generation uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		packages: make(map[string]*Package),
		checks:   make(map[checkKey][]RequirementCheck),
	}
}

// RegisterPackage declares a package. Re-registering an existing ID replaces
// its version, description and dependencies but keeps its lifecycle state.
func (r *Registry) RegisterPackage(p Package) error {
	if !packageIDPattern.MatchString(p.ID) {
		return NewPermanentError(fmt.Sprintf("invalid package id %q", p.ID), nil).
			WithCode(ErrCodeValidation)
	}

	deps := make([]string, 0, len(p.Dependencies))
	seen := make(map[string]bool, len(p.Dependencies))
	for _, dep := range p.Dependencies {
		if dep == p.ID {
			return NewPermanentError("package cannot depend on itself", nil).
				WithCode(ErrCodeValidation).
				WithPackage(p.ID)
		}
		if dep == "" || seen[dep] {
			continue
		}
		seen[dep] = true
		deps = append(deps, dep)
	}
	sort.Strings(deps)

	r.mu.Lock()
	defer r.mu.Unlock()

	state := StateUninstalled
	updatedAt := time.Now()
	if existing, ok := r.packages[p.ID]; ok {
		state = existing.State
		updatedAt = existing.UpdatedAt
	}

	r.packages[p.ID] = &Package{
		ID:           p.ID,
		Version:      p.Version,
		Description:  p.Description,
		Dependencies: deps,
		State:        state,
		UpdatedAt:    updatedAt,
	}
	r.generation++
	return nil
}

// RegisterCheck appends a check to its package's list for the check's phase.
// Checks run in registration order.
func (r *Registry) RegisterCheck(check RequirementCheck) error {
	if err := check.Phase.Validate(); err != nil {
		return NewPermanentError("invalid check", err).WithCode(ErrCodeValidation).WithPackage(check.PackageID)
	}
	if err := check.Severity.Validate(); err != nil {
		return NewPermanentError("invalid check", err).WithCode(ErrCodeValidation).WithPackage(check.PackageID)
	}
	if check.Name == "" {
		return NewPermanentError("check name is required", nil).WithCode(ErrCodeValidation).WithPackage(check.PackageID)
	}
	if check.Predicate == nil {
		return NewPermanentError(fmt.Sprintf("check %q has no predicate", check.Name), nil).
			WithCode(ErrCodeValidation).
			WithPackage(check.PackageID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.packages[check.PackageID]; !ok {
		return newUnknownPackageError(check.PackageID)
	}
	key := checkKey{packageID: check.PackageID, phase: check.Phase}
	r.checks[key] = append(r.checks[key], check)
	r.generation++
	return nil
}

// ChecksFor implements CheckSource.
func (r *Registry) ChecksFor(packageID string, phase Phase) []RequirementCheck {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]RequirementCheck(nil), r.checks[checkKey{packageID: packageID, phase: phase}]...)
}

// Get returns a copy of a package.
func (r *Registry) Get(id string) (*Package, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.packages[id]
	if !ok {
		return nil, newUnknownPackageError(id)
	}
	return p.clone(), nil
}

// List returns copies of every package sorted by ID.
func (r *Registry) List() []*Package {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Package, 0, len(r.packages))
	for _, id := range sortedKeys(r.packages) {
		out = append(out, r.packages[id].clone())
	}
	return out
}

// Snapshot returns a deep copy of the package table and the generation it
// was taken at.
func (r *Registry) Snapshot() (map[string]*Package, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := make(map[string]*Package, len(r.packages))
	for id, p := range r.packages {
		snap[id] = p.clone()
	}
	return snap, r.generation
}

// Generation returns a counter that changes whenever packages, checks or
// states change.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Reset forgets every package and check.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packages = make(map[string]*Package)
	r.checks = make(map[checkKey][]RequirementCheck)
	r.generation++
}

// errStalePlan is returned by commit when the registry moved since planning.
var errStalePlan = fmt.Errorf("registry changed since plan was computed")

// commit applies every step of plan at once. persist, when non-nil, is called
// with the updated packages while the write lock is held; if it fails nothing
// changes. commit refuses plans computed against an older generation.
func (r *Registry) commit(plan *TransitionPlan, now time.Time, persist func([]*Package) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if plan.generation != r.generation {
		return errStalePlan
	}

	updated := make([]*Package, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		p, ok := r.packages[step.PackageID]
		if !ok {
			return newUnknownPackageError(step.PackageID)
		}
		if p.State != step.From {
			return errStalePlan
		}
		next := p.clone()
		next.State = step.To
		next.UpdatedAt = now
		updated = append(updated, next)
	}

	if persist != nil {
		if err := persist(updated); err != nil {
			return err
		}
	}

	for _, p := range updated {
		r.packages[p.ID] = p
	}
	r.generation++
	return nil
}

// restore sets states for known packages without gating. Unknown IDs are
// ignored and reported back.
func (r *Registry) restore(states map[string]LifecycleState) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var unknown []string
	for id, state := range states {
		p, ok := r.packages[id]
		if !ok || state.Validate() != nil {
			unknown = append(unknown, id)
			continue
		}
		p.State = state
	}
	sort.Strings(unknown)
	r.generation++
	return unknown
}
