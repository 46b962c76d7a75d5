package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Parser reads package manifests written in YAML, JSON, TOML or CUE. Every
// manifest is checked against the CUE package schema and the struct
// validation tags.
type Parser struct {
	mu       sync.Mutex
	ctx      *cue.Context
	schema   cue.Value
	validate *validator.Validate
}

// NewParser creates a manifest parser.
func NewParser() (*Parser, error) {
	ctx := cuecontext.New()
	schema, err := compileSchema(ctx)
	if err != nil {
		return nil, err
	}
	return &Parser{
		ctx:      ctx,
		schema:   schema,
		validate: validator.New(),
	}, nil
}

// IsManifestFile reports whether path has a manifest extension.
func IsManifestFile(path string) bool {
	switch filepath.Ext(path) {
	case ".yaml", ".yml", ".json", ".toml", ".cue":
		return true
	default:
		return false
	}
}

// ParseFile reads and parses one manifest file.
func (p *Parser) ParseFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ValidationErrors{{File: path, Message: fmt.Sprintf("failed to read file: %v", err)}}
	}
	return p.Parse(path, data)
}

// Parse parses manifest content. The format is chosen from name's extension.
func (p *Parser) Parse(name string, data []byte) (*Manifest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		m   *Manifest
		err error
	)
	switch filepath.Ext(name) {
	case ".cue":
		m, err = p.parseCUE(name, data)
	case ".yaml", ".yml", ".json":
		m, err = p.parseYAML(name, data)
	case ".toml":
		m, err = p.parseTOML(name, data)
	default:
		return nil, ValidationErrors{{File: name, Message: "unsupported manifest format"}}
	}
	if err != nil {
		return nil, err
	}

	m.Source = name
	if errs := p.validateManifest(name, m); len(errs) > 0 {
		return nil, errs
	}
	return m, nil
}

func (p *Parser) parseYAML(name string, data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ValidationErrors{{File: name, Message: "manifest is empty"}}
		}
		return nil, ValidationErrors{{File: name, Message: err.Error()}}
	}
	return p.unifyDecoded(name, &m)
}

func (p *Parser) parseTOML(name string, data []byte) (*Manifest, error) {
	var m Manifest
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		ve := ValidationError{File: name, Message: err.Error()}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			ve.Line, ve.Column = derr.Position()
		}
		var serr *toml.StrictMissingError
		if errors.As(err, &serr) {
			ve.Message = strings.TrimSpace(serr.String())
		}
		return nil, ValidationErrors{ve}
	}
	return p.unifyDecoded(name, &m)
}

// unifyDecoded checks a manifest decoded from YAML, JSON or TOML against the
// schema so every format obeys the same rules as CUE.
func (p *Parser) unifyDecoded(name string, m *Manifest) (*Manifest, error) {
	val := p.ctx.Encode(m)
	if err := val.Err(); err != nil {
		return nil, ValidationErrors{{File: name, Message: fmt.Sprintf("failed to encode manifest: %v", err)}}
	}
	if err := p.schema.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(name, err)
	}

	return m, nil
}

func (p *Parser) parseCUE(name string, data []byte) (*Manifest, error) {
	val := p.ctx.CompileBytes(data, cue.Filename(name))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(name, err)
	}

	unified := p.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(name, err)
	}

	var m Manifest
	if err := unified.Decode(&m); err != nil {
		return nil, ValidationErrors{{File: name, Message: fmt.Sprintf("failed to decode manifest: %v", err)}}
	}
	return &m, nil
}

// validateManifest applies the struct tags and the cross-field rules CUE
// cannot express.
func (p *Parser) validateManifest(name string, m *Manifest) ValidationErrors {
	var errs ValidationErrors

	if err := p.validate.Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, ValidationError{
					File:    name,
					Path:    fe.Namespace(),
					Message: fmt.Sprintf("failed %q validation", fe.Tag()),
				})
			}
		} else {
			errs = append(errs, ValidationError{File: name, Message: err.Error()})
		}
	}

	for _, dep := range m.Dependencies {
		if dep == m.ID {
			errs = append(errs, ValidationError{File: name, Path: "dependencies", Message: "package cannot depend on itself"})
		}
	}

	seen := make(map[string]bool, len(m.Checks))
	for i, c := range m.Checks {
		key := string(c.Phase) + "/" + c.Name
		if seen[key] {
			errs = append(errs, ValidationError{
				File:    name,
				Path:    fmt.Sprintf("checks[%d]", i),
				Message: fmt.Sprintf("duplicate %s check %q", c.Phase, c.Name),
			})
		}
		seen[key] = true
	}

	return errs
}

// convertCUEErrors converts CUE errors into positioned validation errors.
func convertCUEErrors(name string, err error) ValidationErrors {
	var out ValidationErrors

	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{File: name, Message: strings.TrimSpace(cueerrors.Details(e, nil))}
		if pos := cueerrors.Positions(e); len(pos) > 0 && pos[0].Filename() == name {
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}

	if len(out) == 0 {
		out = append(out, ValidationError{File: name, Message: err.Error()})
	}
	return out
}
