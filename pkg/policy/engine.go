package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"
)

// ErrPolicyNotFound is returned when a check names a policy that is not loaded.
var ErrPolicyNotFound = errors.New("policy not found")

// denyRule is the rule every policy module must define.
const denyRule = "deny"

// Module is a compiled Rego module queried through its deny rule.
type Module struct {
	name    string
	pkgPath string
	query   rego.PreparedEvalQuery
}

// Compile parses and prepares a Rego module. The module must define a
// `deny` rule.
func Compile(ctx context.Context, name, source string) (*Module, error) {
	parsed, err := ast.ParseModule(name+".rego", source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy %s: %w", name, err)
	}

	if !hasRule(parsed, denyRule) {
		return nil, fmt.Errorf("policy %s does not define a %q rule", name, denyRule)
	}

	pkgPath := parsed.Package.Path.String()
	query, err := rego.New(
		rego.Query(pkgPath+"."+denyRule),
		rego.Module(name+".rego", source),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", name, err)
	}

	return &Module{name: name, pkgPath: pkgPath, query: query}, nil
}

// Package returns the module's package path, e.g. "data.pkgctl.disk".
func (m *Module) Package() string {
	return m.pkgPath
}

// Deny evaluates the deny rule against input and returns the violation
// messages in sorted order. An undefined deny rule yields no violations.
func (m *Module) Deny(ctx context.Context, input interface{}) ([]string, error) {
	rs, err := m.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy %s: %w", m.name, err)
	}

	var messages []string
	for _, result := range rs {
		for _, expr := range result.Expressions {
			messages = append(messages, violationMessages(expr.Value)...)
		}
	}
	sort.Strings(messages)
	return messages, nil
}

func hasRule(module *ast.Module, name string) bool {
	for _, rule := range module.Rules {
		if ref := rule.Head.Ref(); len(ref) > 0 && ref[0].Value.String() == name {
			return true
		}
	}
	return false
}

// violationMessages accepts deny values that are sets or arrays of strings,
// or of objects carrying a "message" (or "msg") field.
func violationMessages(value interface{}) []string {
	var out []string
	switch v := value.(type) {
	case []interface{}:
		for _, item := range v {
			out = append(out, violationMessages(item)...)
		}
	case string:
		out = append(out, v)
	case bool:
		if v {
			out = append(out, "denied")
		}
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			out = append(out, msg)
		} else if msg, ok := v["msg"].(string); ok {
			out = append(out, msg)
		} else {
			out = append(out, fmt.Sprintf("%v", v))
		}
	default:
		if v != nil {
			out = append(out, fmt.Sprintf("%v", v))
		}
	}
	return out
}

// Engine holds the named policies checks can refer to.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

type compiledPolicy struct {
	policy   Policy
	module   *Module
	compiled time.Time
}

// NewEngine creates a policy engine preloaded with the built-in policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	if err := e.Load(context.Background(), nil); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// Load replaces the loaded policies with the built-ins plus policies. A
// policy sharing a built-in's name overrides it. Either every policy
// compiles and the set is swapped, or the previous set stays in place.
func (e *Engine) Load(ctx context.Context, policies []Policy) error {
	next := make(map[string]*compiledPolicy, len(policies))

	all := append(BuiltinPolicies(), policies...)
	for _, p := range all {
		if p.Name == "" {
			return fmt.Errorf("policy loaded from %q has no name", p.Source)
		}
		cp, err := compilePolicy(ctx, p)
		if err != nil {
			return err
		}
		next[p.Name] = cp
	}

	e.mu.Lock()
	e.policies = next
	e.mu.Unlock()

	e.logger.Info().
		Int("total", len(next)).
		Int("custom", len(policies)).
		Msg("Policies loaded")
	return nil
}

// AddPolicy compiles and adds (or replaces) a single policy.
func (e *Engine) AddPolicy(ctx context.Context, p Policy) error {
	cp, err := compilePolicy(ctx, p)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.policies[p.Name] = cp
	e.mu.Unlock()

	e.logger.Debug().Str("policy", p.Name).Msg("Policy added")
	return nil
}

func compilePolicy(ctx context.Context, p Policy) (*compiledPolicy, error) {
	module, err := Compile(ctx, p.Name, p.Rego)
	if err != nil {
		return nil, err
	}
	return &compiledPolicy{policy: p, module: module, compiled: time.Now()}, nil
}

// Evaluate runs the named policy against input.
func (e *Engine) Evaluate(ctx context.Context, name string, input interface{}) (Decision, error) {
	start := time.Now()

	e.mu.RLock()
	cp, ok := e.policies[name]
	var enabled bool
	if ok {
		enabled = cp.policy.Enabled
	}
	e.mu.RUnlock()
	if !ok {
		return Decision{Policy: name}, fmt.Errorf("%w: %s", ErrPolicyNotFound, name)
	}

	decision := Decision{Policy: name}
	if !enabled {
		e.logger.Debug().Str("policy", name).Msg("Policy disabled, skipping")
		decision.Duration = time.Since(start)
		return decision, nil
	}

	violations, err := cp.module.Deny(ctx, input)
	decision.Duration = time.Since(start)
	if err != nil {
		return decision, err
	}
	decision.Violations = violations

	e.logger.Debug().
		Str("policy", name).
		Int("violations", len(violations)).
		Dur("duration", decision.Duration).
		Msg("Policy evaluated")
	return decision, nil
}

// HasPolicy reports whether a policy with the given name is loaded.
func (e *Engine) HasPolicy(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.policies[name]
	return ok
}

// GetPolicy returns a loaded policy by name.
func (e *Engine) GetPolicy(name string) (Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, ok := e.policies[name]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %s", ErrPolicyNotFound, name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	return policies
}

// EnablePolicy enables a policy.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPolicyNotFound, name)
	}
	cp.policy.Enabled = enabled

	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}
