package engine

import (
	"encoding/json"
	"fmt"
)

// LifecycleState represents where a package is in its lifecycle.
type LifecycleState string

const (
	// StateUninstalled indicates the package is known but not installed.
	// Every package starts here.
	StateUninstalled LifecycleState = "uninstalled"

	// StateDisabled indicates the package is installed but not active.
	StateDisabled LifecycleState = "disabled"

	// StateEnabled indicates the package is installed and active.
	StateEnabled LifecycleState = "enabled"
)

// AllStates lists every lifecycle state in ascending order.
var AllStates = []LifecycleState{StateUninstalled, StateDisabled, StateEnabled}

// IsInstalled returns true if the package is installed (disabled or enabled).
func (s LifecycleState) IsInstalled() bool {
	return s == StateDisabled || s == StateEnabled
}

// rank orders states so that "at least" comparisons are possible.
func (s LifecycleState) rank() int {
	switch s {
	case StateDisabled:
		return 1
	case StateEnabled:
		return 2
	default:
		return 0
	}
}

// Satisfies returns true if a package in state s already meets the requirement
// of being at least in state want. Used when deciding whether a dependency
// needs to move.
func (s LifecycleState) Satisfies(want LifecycleState) bool {
	return s.rank() >= want.rank()
}

// Validate checks if the lifecycle state is valid.
func (s LifecycleState) Validate() error {
	switch s {
	case StateUninstalled, StateDisabled, StateEnabled:
		return nil
	default:
		return fmt.Errorf("invalid lifecycle state: %s", s)
	}
}

// ParseState parses a lifecycle state name.
func ParseState(v string) (LifecycleState, error) {
	s := LifecycleState(v)
	if err := s.Validate(); err != nil {
		return "", err
	}
	return s, nil
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s LifecycleState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *LifecycleState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = LifecycleState(str)
	return s.Validate()
}

// Phase identifies which requirement set gates a transition.
type Phase string

const (
	// PhaseInstall gates moving out of Uninstalled.
	PhaseInstall Phase = "install"

	// PhaseEnable gates moving into Enabled.
	PhaseEnable Phase = "enable"
)

// Validate checks if the phase is valid.
func (p Phase) Validate() error {
	switch p {
	case PhaseInstall, PhaseEnable:
		return nil
	default:
		return fmt.Errorf("invalid phase: %s", p)
	}
}

// Severity determines whether a failing check blocks a transition.
type Severity string

const (
	// SeverityError failures block the transition.
	SeverityError Severity = "error"

	// SeverityWarning failures are surfaced but never block.
	SeverityWarning Severity = "warning"
)

// Validate checks if the severity is valid.
func (s Severity) Validate() error {
	switch s {
	case SeverityError, SeverityWarning:
		return nil
	default:
		return fmt.Errorf("invalid severity: %s", s)
	}
}

// CheckStatus is the outcome of evaluating a single requirement check.
type CheckStatus string

const (
	// CheckPass indicates the predicate held.
	CheckPass CheckStatus = "pass"

	// CheckFail indicates the predicate did not hold, errored or timed out.
	CheckFail CheckStatus = "fail"
)

// Operation names the user-facing verb behind a step.
type Operation string

const (
	OperationInstall   Operation = "install"
	OperationEnable    Operation = "enable"
	OperationDisable   Operation = "disable"
	OperationUninstall Operation = "uninstall"
	OperationNoop      Operation = "noop"
)

// OperationFor derives the operation for moving from one state to another.
func OperationFor(from, to LifecycleState) Operation {
	switch {
	case from == to:
		return OperationNoop
	case to == StateEnabled:
		return OperationEnable
	case to == StateUninstalled:
		return OperationUninstall
	case from == StateUninstalled:
		return OperationInstall
	default:
		return OperationDisable
	}
}

// IsDestructive returns true if the operation removes installed state.
func (o Operation) IsDestructive() bool {
	return o == OperationUninstall
}
