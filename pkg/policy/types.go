package policy

import (
	"time"
)

// Policy is a named Rego module used as a requirement check. A policy
// denies a check by producing messages from its `deny` rule.
type Policy struct {
	// Name is the unique name checks refer to the policy by.
	Name string `json:"name"`

	// Description is a human-readable summary, taken from the leading
	// comment block of a .rego file.
	Description string `json:"description"`

	// Rego is the module source.
	Rego string `json:"rego"`

	// Enabled reports whether the policy is evaluated. A disabled policy
	// never denies.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Input is the document a policy sees as `input`.
type Input struct {
	Package      string   `json:"package"`
	Phase        string   `json:"phase"`
	Version      string   `json:"version"`
	Dependencies []string `json:"dependencies"`
	Check        string   `json:"check,omitempty"`
}

// Decision is the outcome of one policy evaluation.
type Decision struct {
	Policy     string        `json:"policy"`
	Violations []string      `json:"violations,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Allowed reports whether the policy produced no violations.
func (d Decision) Allowed() bool {
	return len(d.Violations) == 0
}
