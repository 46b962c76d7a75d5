package checks

import (
	"context"
	"errors"
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/pkgctl/pkg/engine"
)

// Globals a starlark check script reads and writes.
const (
	starlarkOK      = "ok"
	starlarkMessage = "message"
)

// starlarkCheck compiles spec.Script once. Each evaluation runs it in a
// fresh thread with `package`, `phase`, `version` and `dependencies`
// predeclared. The script must bind `ok` to a bool and may bind `message`
// to the failure reason:
//
//	def has_capacity():
//	    return len(dependencies) < 5
//
//	ok = has_capacity()
//	message = "too many dependencies" if not ok else ""
func (b *Builder) starlarkCheck(pkg engine.Package, spec Spec) (engine.Predicate, error) {
	predeclared := starlarkPredeclared(pkg, spec.Phase)
	filename := pkg.ID + "/" + spec.Name + ".star"

	_, prog, err := starlark.SourceProgram(filename, spec.Script, predeclared.Has)
	if err != nil {
		return nil, fmt.Errorf("check %s: invalid starlark: %w", spec.Name, err)
	}

	logger := b.logger.With().Str("package_id", pkg.ID).Str("check", spec.Name).Logger()
	timeout := b.starlarkTimeout

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		thread := &starlark.Thread{
			Name: filename,
			Print: func(_ *starlark.Thread, msg string) {
				logger.Debug().Str("output", msg).Msg("Starlark print")
			},
		}

		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				thread.Cancel(ctx.Err().Error())
			case <-done:
			}
		}()

		globals, err := prog.Init(thread, predeclared)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("starlark execution cancelled: %w", ctx.Err())
			}
			var evalErr *starlark.EvalError
			if errors.As(err, &evalErr) {
				return fmt.Errorf("starlark execution failed: %s", evalErr.Msg)
			}
			return fmt.Errorf("starlark execution failed: %w", err)
		}

		return scriptVerdict(globals)
	}, nil
}

func starlarkPredeclared(pkg engine.Package, phase engine.Phase) starlark.StringDict {
	deps := make([]starlark.Value, 0, len(pkg.Dependencies))
	for _, dep := range pkg.Dependencies {
		deps = append(deps, starlark.String(dep))
	}

	return starlark.StringDict{
		"struct":       starlark.NewBuiltin("struct", starlarkstruct.Make),
		"package":      starlark.String(pkg.ID),
		"phase":        starlark.String(string(phase)),
		"version":      starlark.String(pkg.Version),
		"dependencies": starlark.Tuple(deps),
	}
}

func scriptVerdict(globals starlark.StringDict) error {
	value, ok := globals[starlarkOK]
	if !ok {
		return fmt.Errorf("starlark script did not set %q", starlarkOK)
	}
	passed, isBool := value.(starlark.Bool)
	if !isBool {
		return fmt.Errorf("starlark %q must be a bool, got %s", starlarkOK, value.Type())
	}
	if passed {
		return nil
	}

	if msg, ok := globals[starlarkMessage].(starlark.String); ok && msg != "" {
		return errors.New(string(msg))
	}
	return errors.New("starlark check returned ok = False")
}
