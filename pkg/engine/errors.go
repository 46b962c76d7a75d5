package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorClass represents the classification of an error for retry logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a failure that may succeed once the caller
	// fixes the underlying condition and resubmits.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a caller or configuration mistake.
	// Examples: unknown package, dependency cycle, illegal transition.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes.
const (
	ErrCodeUnknownPackage    = "UNKNOWN_PACKAGE"
	ErrCodeUnknownDependency = "UNKNOWN_DEPENDENCY"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeIllegalTransition = "ILLEGAL_TRANSITION"
	ErrCodeRequirementFailed = "REQUIREMENT_FAILED"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeStore             = "STORE_ERROR"
)

// Sentinel errors for use with errors.Is. Matching compares class and code only.
var (
	ErrUnknownPackage    = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeUnknownPackage}
	ErrUnknownDependency = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeUnknownDependency}
	ErrCycleDetected     = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeCycleDetected}
	ErrIllegalTransition = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeIllegalTransition}
	ErrRequirementFailed = &EngineError{Class: ErrorClassTransient, Code: ErrCodeRequirementFailed}
	ErrTimeout           = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeTimeout}
	ErrValidation        = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeValidation}
)

// EngineError represents a classified lifecycle error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code identifies the error kind for programmatic handling.
	Code string `json:"code,omitempty"`

	// Package is the package ID that caused the error, if applicable.
	Package string `json:"package,omitempty"`

	// Operation is the transition being requested when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Cycle is the dependency cycle path for CYCLE_DETECTED errors.
	Cycle []string `json:"cycle,omitempty"`

	// Failures lists the failed Error-severity checks for REQUIREMENT_FAILED errors.
	Failures []CheckResult `json:"failures,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Class, e.Message)
	if e.Package != "" && e.Operation != "" {
		fmt.Fprintf(&sb, " (package=%s, operation=%s)", e.Package, e.Operation)
	} else if e.Package != "" {
		fmt.Fprintf(&sb, " (package=%s)", e.Package)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// WithPackage adds package context to an error.
func (e *EngineError) WithPackage(packageID string) *EngineError {
	e.Package = packageID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newUnknownPackageError(id string) *EngineError {
	return NewPermanentError(fmt.Sprintf("unknown package %q", id), nil).
		WithCode(ErrCodeUnknownPackage).
		WithPackage(id)
}

func newUnknownDependencyError(owner, missing string) *EngineError {
	return NewPermanentError(fmt.Sprintf("package %q depends on unknown package %q", owner, missing), nil).
		WithCode(ErrCodeUnknownDependency).
		WithPackage(owner).
		WithDetail("missing", missing)
}

func newCycleError(cycle []string) *EngineError {
	e := NewPermanentError(fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)), nil).
		WithCode(ErrCodeCycleDetected)
	e.Cycle = cycle
	if len(cycle) > 0 {
		e.Package = cycle[0]
	}
	return e
}

func newIllegalTransitionError(id string, from, to LifecycleState, reason string) *EngineError {
	msg := fmt.Sprintf("cannot move from %s to %s", from, to)
	if reason != "" {
		msg += ": " + reason
	}
	return NewPermanentError(msg, nil).
		WithCode(ErrCodeIllegalTransition).
		WithPackage(id).
		WithOperation(string(to))
}

func newRequirementError(id string, to LifecycleState, failures []CheckResult) *EngineError {
	names := make([]string, 0, len(failures))
	for _, f := range failures {
		names = append(names, f.PackageID+"/"+f.Name)
	}
	sort.Strings(names)
	e := NewTransientError(fmt.Sprintf("requirements not met: %s", strings.Join(names, ", ")), nil).
		WithCode(ErrCodeRequirementFailed).
		WithPackage(id).
		WithOperation(string(to))
	e.Failures = failures
	return e
}

func newTimeoutError(id string, to LifecycleState, err error) *EngineError {
	return NewPermanentError("transition request timed out before commit", err).
		WithCode(ErrCodeTimeout).
		WithPackage(id).
		WithOperation(string(to))
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the caller may fix the underlying condition and resubmit.
// Only requirement failures are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err)
}

// CodeOf returns the error code of the first EngineError in the chain, or "".
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// FailedChecks returns the failed checks carried by a REQUIREMENT_FAILED error.
func FailedChecks(err error) []CheckResult {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Failures
	}
	return nil
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}
