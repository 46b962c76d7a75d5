package checks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/openfroyo/pkgctl/pkg/engine"
	"github.com/openfroyo/pkgctl/pkg/policy"
)

// Builder turns declarative check specs into engine requirement checks.
type Builder struct {
	policies        *policy.Engine
	starlarkTimeout time.Duration
	logger          zerolog.Logger
	validate        *validator.Validate

	lookupEnv func(string) (string, bool)
	lookPath  func(string) (string, error)
	stat      func(string) (os.FileInfo, error)
}

// Option configures a Builder.
type Option func(*Builder)

// WithPolicyEngine sets the engine policy checks are resolved against.
func WithPolicyEngine(e *policy.Engine) Option {
	return func(b *Builder) { b.policies = e }
}

// WithStarlarkTimeout bounds a single starlark script run.
func WithStarlarkTimeout(d time.Duration) Option {
	return func(b *Builder) {
		if d > 0 {
			b.starlarkTimeout = d
		}
	}
}

// WithLogger sets the logger scripts print to.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Builder) { b.logger = logger.With().Str("component", "checks").Logger() }
}

// WithEnvLookup replaces os.LookupEnv.
func WithEnvLookup(fn func(string) (string, bool)) Option {
	return func(b *Builder) { b.lookupEnv = fn }
}

// WithPathLookup replaces exec.LookPath.
func WithPathLookup(fn func(string) (string, error)) Option {
	return func(b *Builder) { b.lookPath = fn }
}

// NewBuilder creates a check builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		starlarkTimeout: 5 * time.Second,
		logger:          zerolog.Nop(),
		validate:        validator.New(),
		lookupEnv:       os.LookupEnv,
		lookPath:        exec.LookPath,
		stat:            os.Stat,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Validate checks a spec's fields without compiling it.
func (b *Builder) Validate(spec Spec) error {
	if err := b.validate.Struct(spec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("check %q: %s", spec.Name, strings.Join(msgs, ", "))
		}
		return fmt.Errorf("check %q: %w", spec.Name, err)
	}
	_, err := spec.timeout()
	return err
}

// Build validates and compiles spec into a requirement check owned by pkg.
// Starlark scripts and inline Rego modules are compiled here, so syntax
// errors surface at registration rather than at the first gate.
func (b *Builder) Build(ctx context.Context, pkg engine.Package, spec Spec) (engine.RequirementCheck, error) {
	if err := b.Validate(spec); err != nil {
		return engine.RequirementCheck{}, err
	}
	timeout, _ := spec.timeout()

	predicate, err := b.predicate(ctx, pkg, spec)
	if err != nil {
		return engine.RequirementCheck{}, fmt.Errorf("package %s: %w", pkg.ID, err)
	}
	if spec.Message != "" {
		predicate = withMessage(predicate, spec.Message)
	}

	return engine.RequirementCheck{
		PackageID: pkg.ID,
		Phase:     spec.Phase,
		Name:      spec.Name,
		Severity:  spec.severity(),
		Timeout:   timeout,
		Predicate: predicate,
	}, nil
}

func (b *Builder) predicate(ctx context.Context, pkg engine.Package, spec Spec) (engine.Predicate, error) {
	switch spec.Kind {
	case KindEnv:
		return b.envCheck(spec.Env, spec.Equals), nil
	case KindFile:
		return b.fileCheck(spec.Path), nil
	case KindCommand:
		return b.commandCheck(spec.Command), nil
	case KindStarlark:
		return b.starlarkCheck(pkg, spec)
	case KindRego:
		return b.regoCheck(ctx, pkg, spec)
	case KindPolicy:
		return b.policyCheck(pkg, spec)
	default:
		return nil, fmt.Errorf("check %s: unknown kind %q", spec.Name, spec.Kind)
	}
}

func (b *Builder) envCheck(name, want string) engine.Predicate {
	return func(context.Context) error {
		got, ok := b.lookupEnv(name)
		if !ok {
			return fmt.Errorf("environment variable %s is not set", name)
		}
		if want != "" && got != want {
			return fmt.Errorf("environment variable %s is %q, want %q", name, got, want)
		}
		return nil
	}
}

func (b *Builder) fileCheck(path string) engine.Predicate {
	return func(context.Context) error {
		expanded := os.ExpandEnv(path)
		if _, err := b.stat(expanded); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%s does not exist", expanded)
			}
			return fmt.Errorf("cannot stat %s: %w", expanded, err)
		}
		return nil
	}
}

func (b *Builder) commandCheck(command string) engine.Predicate {
	return func(context.Context) error {
		if _, err := b.lookPath(command); err != nil {
			return fmt.Errorf("command %s not found on PATH", command)
		}
		return nil
	}
}

func (b *Builder) regoCheck(ctx context.Context, pkg engine.Package, spec Spec) (engine.Predicate, error) {
	module, err := policy.Compile(ctx, pkg.ID+"_"+spec.Name, spec.Rego)
	if err != nil {
		return nil, fmt.Errorf("check %s: %w", spec.Name, err)
	}

	return func(ctx context.Context) error {
		violations, err := module.Deny(ctx, policyInput(pkg, spec))
		if err != nil {
			return err
		}
		return denied(violations)
	}, nil
}

func (b *Builder) policyCheck(pkg engine.Package, spec Spec) (engine.Predicate, error) {
	if b.policies == nil {
		return nil, fmt.Errorf("check %s: no policy engine configured for policy %q", spec.Name, spec.Policy)
	}
	policies := b.policies

	return func(ctx context.Context) error {
		decision, err := policies.Evaluate(ctx, spec.Policy, policyInput(pkg, spec))
		if err != nil {
			return err
		}
		return denied(decision.Violations)
	}, nil
}

func policyInput(pkg engine.Package, spec Spec) policy.Input {
	deps := pkg.Dependencies
	if deps == nil {
		deps = []string{}
	}
	return policy.Input{
		Package:      pkg.ID,
		Phase:        string(spec.Phase),
		Version:      pkg.Version,
		Dependencies: deps,
		Check:        spec.Name,
	}
}

func denied(violations []string) error {
	if len(violations) == 0 {
		return nil
	}
	return errors.New(strings.Join(violations, "; "))
}

// withMessage replaces the failure reason of predicate.
func withMessage(predicate engine.Predicate, message string) engine.Predicate {
	return func(ctx context.Context) error {
		if err := predicate(ctx); err != nil {
			if ctx.Err() != nil {
				return err
			}
			return errors.New(message)
		}
		return nil
	}
}
