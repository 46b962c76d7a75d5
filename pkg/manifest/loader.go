package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pkgctl/pkg/checks"
	"github.com/openfroyo/pkgctl/pkg/engine"
)

// LoadDir parses every manifest below dir in lexical path order. All files
// are parsed even when some fail; the returned error is then a
// ValidationErrors listing every problem. Package IDs must be unique.
func (p *Parser) LoadDir(ctx context.Context, dir string) ([]*Manifest, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsManifestFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk manifest directory %s: %w", dir, err)
	}
	sort.Strings(paths)

	var (
		manifests []*Manifest
		errs      ValidationErrors
		owners    = make(map[string]string, len(paths))
	)
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		m, err := p.ParseFile(path)
		if err != nil {
			var verrs ValidationErrors
			if errors.As(err, &verrs) {
				errs = append(errs, verrs...)
				continue
			}
			return nil, err
		}

		if prev, dup := owners[m.ID]; dup {
			errs = append(errs, ValidationError{
				File:    path,
				Path:    "id",
				Message: fmt.Sprintf("package %q is already declared in %s", m.ID, prev),
			})
			continue
		}
		owners[m.ID] = path
		manifests = append(manifests, m)
	}

	if len(errs) > 0 {
		return manifests, errs
	}
	return manifests, nil
}

// Apply registers the manifests' packages and then their checks with mgr.
// Checks are compiled by builder, so script and module errors are reported
// here.
func Apply(ctx context.Context, mgr *engine.Manager, builder *checks.Builder, manifests []*Manifest, logger zerolog.Logger) error {
	for _, m := range manifests {
		if err := mgr.RegisterPackage(m.Package()); err != nil {
			return fmt.Errorf("%s: %w", m.Source, err)
		}
	}

	total := 0
	for _, m := range manifests {
		pkg := m.Package()
		for _, spec := range m.Checks {
			check, err := builder.Build(ctx, pkg, spec)
			if err != nil {
				return fmt.Errorf("%s: %w", m.Source, err)
			}
			if err := mgr.Registry().RegisterCheck(check); err != nil {
				return fmt.Errorf("%s: %w", m.Source, err)
			}
			total++
		}
	}

	logger.Debug().
		Int("packages", len(manifests)).
		Int("checks", total).
		Msg("Manifests applied")
	return nil
}
