package checks

import (
	"fmt"
	"time"

	"github.com/openfroyo/pkgctl/pkg/engine"
)

// Kind selects how a declarative check is evaluated.
type Kind string

const (
	// KindEnv passes when an environment variable is set (and, if Equals is
	// given, has that value).
	KindEnv Kind = "env"

	// KindFile passes when Path exists.
	KindFile Kind = "file"

	// KindCommand passes when Command resolves on PATH.
	KindCommand Kind = "command"

	// KindStarlark runs Script and passes when it sets ok = True.
	KindStarlark Kind = "starlark"

	// KindRego evaluates an inline Rego module and passes when its deny
	// rule is empty.
	KindRego Kind = "rego"

	// KindPolicy evaluates a named policy from the policy engine.
	KindPolicy Kind = "policy"
)

// Spec declares one requirement check of a package. It is the form checks
// take in package manifests.
type Spec struct {
	Name     string          `yaml:"name" toml:"name" json:"name" validate:"required,max=64"`
	Phase    engine.Phase    `yaml:"phase" toml:"phase" json:"phase" validate:"required,oneof=install enable"`
	Severity engine.Severity `yaml:"severity,omitempty" toml:"severity,omitempty" json:"severity,omitempty" validate:"omitempty,oneof=error warning"`
	Kind     Kind            `yaml:"kind" toml:"kind" json:"kind" validate:"required,oneof=env file command starlark rego policy"`

	// Timeout overrides the evaluator's per-check timeout, e.g. "2s".
	Timeout string `yaml:"timeout,omitempty" toml:"timeout,omitempty" json:"timeout,omitempty"`

	// Message replaces the failure reason reported by the check.
	Message string `yaml:"message,omitempty" toml:"message,omitempty" json:"message,omitempty"`

	Env     string `yaml:"env,omitempty" toml:"env,omitempty" json:"env,omitempty" validate:"required_if=Kind env"`
	Equals  string `yaml:"equals,omitempty" toml:"equals,omitempty" json:"equals,omitempty"`
	Path    string `yaml:"path,omitempty" toml:"path,omitempty" json:"path,omitempty" validate:"required_if=Kind file"`
	Command string `yaml:"command,omitempty" toml:"command,omitempty" json:"command,omitempty" validate:"required_if=Kind command"`
	Script  string `yaml:"script,omitempty" toml:"script,omitempty" json:"script,omitempty" validate:"required_if=Kind starlark"`
	Rego    string `yaml:"rego,omitempty" toml:"rego,omitempty" json:"rego,omitempty" validate:"required_if=Kind rego"`
	Policy  string `yaml:"policy,omitempty" toml:"policy,omitempty" json:"policy,omitempty" validate:"required_if=Kind policy"`
}

// severity defaults to error.
func (s Spec) severity() engine.Severity {
	if s.Severity == "" {
		return engine.SeverityError
	}
	return s.Severity
}

func (s Spec) timeout() (time.Duration, error) {
	if s.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 0, fmt.Errorf("check %s: invalid timeout %q: %w", s.Name, s.Timeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("check %s: timeout must not be negative", s.Name)
	}
	return d, nil
}
