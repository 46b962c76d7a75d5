package manifest

import (
	"fmt"
	"strings"

	"github.com/openfroyo/pkgctl/pkg/checks"
	"github.com/openfroyo/pkgctl/pkg/engine"
)

// Manifest declares one package and its requirement checks.
type Manifest struct {
	// ID is the unique identifier for the package (e.g., "mongodb").
	ID string `yaml:"id" toml:"id" json:"id" validate:"required,max=128"`

	// Version is the declared package version.
	Version string `yaml:"version,omitempty" toml:"version,omitempty" json:"version,omitempty"`

	Description string `yaml:"description,omitempty" toml:"description,omitempty" json:"description,omitempty"`

	// Dependencies lists package IDs this package needs.
	Dependencies []string `yaml:"dependencies,omitempty" toml:"dependencies,omitempty" json:"dependencies,omitempty" validate:"dive,required"`

	// Checks are the package's requirement checks for both phases.
	Checks []checks.Spec `yaml:"checks,omitempty" toml:"checks,omitempty" json:"checks,omitempty" validate:"dive"`

	// Source is the file the manifest was read from.
	Source string `yaml:"-" toml:"-" json:"-"`
}

// Package converts the manifest into an engine package declaration.
func (m *Manifest) Package() engine.Package {
	return engine.Package{
		ID:           m.ID,
		Version:      m.Version,
		Description:  m.Description,
		Dependencies: append([]string(nil), m.Dependencies...),
	}
}

// ValidationError is a problem found in a manifest file.
type ValidationError struct {
	File    string `json:"file"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(e.File)
	if e.Line > 0 {
		fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (%s)", e.Path)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors collects every problem found while loading manifests.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}
