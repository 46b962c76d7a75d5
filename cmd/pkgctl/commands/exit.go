package commands

import (
	"errors"

	"github.com/openfroyo/pkgctl/pkg/engine"
	"github.com/openfroyo/pkgctl/pkg/manifest"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitGate     = 1
	ExitRejected = 2
)

// usageError marks command-line and configuration mistakes.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }

func (e *usageError) Unwrap() error { return e.err }

func asUsageError(err error) error {
	if err == nil {
		return nil
	}
	return &usageError{err: err}
}

// ExitCode maps a command error to the process exit status: 0 on success,
// 1 when requirements failed or timed out (and for other runtime failures),
// 2 when the request itself was rejected.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var usage *usageError
	if errors.As(err, &usage) {
		return ExitRejected
	}
	var verrs manifest.ValidationErrors
	if errors.As(err, &verrs) {
		return ExitRejected
	}

	switch engine.CodeOf(err) {
	case engine.ErrCodeRequirementFailed, engine.ErrCodeTimeout:
		return ExitGate
	case engine.ErrCodeUnknownPackage,
		engine.ErrCodeUnknownDependency,
		engine.ErrCodeCycleDetected,
		engine.ErrCodeIllegalTransition,
		engine.ErrCodeValidation:
		return ExitRejected
	default:
		return ExitGate
	}
}
