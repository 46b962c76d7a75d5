package checks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/pkgctl/pkg/engine"
	"github.com/openfroyo/pkgctl/pkg/policy"
)

var mongodb = engine.Package{ID: "mongodb", Version: "7.0.2", Dependencies: []string{"storage"}}

func build(t *testing.T, b *Builder, spec Spec) engine.RequirementCheck {
	t.Helper()
	check, err := b.Build(context.Background(), mongodb, spec)
	require.NoError(t, err)
	return check
}

func TestBuild_Defaults(t *testing.T) {
	b := NewBuilder()

	check := build(t, b, Spec{Name: "home", Phase: engine.PhaseInstall, Kind: KindEnv, Env: "HOME", Timeout: "2s"})
	assert.Equal(t, "mongodb", check.PackageID)
	assert.Equal(t, engine.PhaseInstall, check.Phase)
	assert.Equal(t, engine.SeverityError, check.Severity)
	assert.Equal(t, 2*time.Second, check.Timeout)
}

func TestBuild_Validation(t *testing.T) {
	b := NewBuilder()

	tests := []struct {
		name string
		spec Spec
	}{
		{"missing name", Spec{Phase: engine.PhaseInstall, Kind: KindEnv, Env: "X"}},
		{"bad phase", Spec{Name: "c", Phase: "upgrade", Kind: KindEnv, Env: "X"}},
		{"bad severity", Spec{Name: "c", Phase: engine.PhaseInstall, Severity: "fatal", Kind: KindEnv, Env: "X"}},
		{"bad kind", Spec{Name: "c", Phase: engine.PhaseInstall, Kind: "http"}},
		{"env without variable", Spec{Name: "c", Phase: engine.PhaseInstall, Kind: KindEnv}},
		{"file without path", Spec{Name: "c", Phase: engine.PhaseInstall, Kind: KindFile}},
		{"policy without name", Spec{Name: "c", Phase: engine.PhaseInstall, Kind: KindPolicy}},
		{"bad timeout", Spec{Name: "c", Phase: engine.PhaseInstall, Kind: KindEnv, Env: "X", Timeout: "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Build(context.Background(), mongodb, tt.spec)
			assert.Error(t, err)
		})
	}
}

func TestEnvCheck(t *testing.T) {
	env := map[string]string{"MONGO_URI": "mongodb://localhost"}
	b := NewBuilder(WithEnvLookup(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	ctx := context.Background()

	set := build(t, b, Spec{Name: "uri", Phase: engine.PhaseEnable, Kind: KindEnv, Env: "MONGO_URI"})
	assert.NoError(t, set.Predicate(ctx))

	equal := build(t, b, Spec{Name: "uri", Phase: engine.PhaseEnable, Kind: KindEnv, Env: "MONGO_URI", Equals: "mongodb://db"})
	assert.EqualError(t, equal.Predicate(ctx), `environment variable MONGO_URI is "mongodb://localhost", want "mongodb://db"`)

	missing := build(t, b, Spec{Name: "key", Phase: engine.PhaseEnable, Kind: KindEnv, Env: "MONGO_KEY"})
	assert.EqualError(t, missing.Predicate(ctx), "environment variable MONGO_KEY is not set")

	// External conditions are read on every evaluation.
	env["MONGO_KEY"] = "secret"
	assert.NoError(t, missing.Predicate(ctx))
}

func TestFileCheck(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mongod.conf")
	b := NewBuilder()

	check := build(t, b, Spec{Name: "conf", Phase: engine.PhaseInstall, Kind: KindFile, Path: path})
	err := check.Predicate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	require.NoError(t, os.WriteFile(path, []byte("net: {}\n"), 0o644))
	assert.NoError(t, check.Predicate(context.Background()))
}

func TestCommandCheck(t *testing.T) {
	b := NewBuilder(WithPathLookup(func(name string) (string, error) {
		if name == "mongod" {
			return "/usr/bin/mongod", nil
		}
		return "", errors.New("not found")
	}))

	found := build(t, b, Spec{Name: "mongod", Phase: engine.PhaseEnable, Kind: KindCommand, Command: "mongod"})
	assert.NoError(t, found.Predicate(context.Background()))

	missing := build(t, b, Spec{Name: "mongosh", Phase: engine.PhaseEnable, Kind: KindCommand, Command: "mongosh"})
	assert.EqualError(t, missing.Predicate(context.Background()), "command mongosh not found on PATH")
}

func TestMessageOverride(t *testing.T) {
	b := NewBuilder(WithEnvLookup(func(string) (string, bool) { return "", false }))

	check := build(t, b, Spec{
		Name: "disk", Phase: engine.PhaseInstall, Kind: KindEnv, Env: "DISK_OK",
		Message: "insufficient disk",
	})
	assert.EqualError(t, check.Predicate(context.Background()), "insufficient disk")
}

func TestRegoCheck(t *testing.T) {
	b := NewBuilder()

	check := build(t, b, Spec{
		Name:  "version-pin",
		Phase: engine.PhaseInstall,
		Kind:  KindRego,
		Rego: `package pkgctl.pin

deny contains msg if {
	startswith(input.version, "7.")
	"storage" in input.dependencies
	msg := sprintf("%s %s needs storage v2", [input.package, input.version])
}
`,
	})
	assert.EqualError(t, check.Predicate(context.Background()), "mongodb 7.0.2 needs storage v2")

	_, err := b.Build(context.Background(), engine.Package{ID: "redis", Version: "7.2.0"}, Spec{
		Name: "broken", Phase: engine.PhaseInstall, Kind: KindRego, Rego: "deny contains",
	})
	assert.Error(t, err, "an invalid module is rejected at build time")
}

func TestPolicyCheck_ResolvedAtEvaluation(t *testing.T) {
	eng, err := policy.NewEngine(zerolog.Nop())
	require.NoError(t, err)
	b := NewBuilder(WithPolicyEngine(eng))
	ctx := context.Background()

	check := build(t, b, Spec{Name: "quota", Phase: engine.PhaseInstall, Kind: KindPolicy, Policy: "quota"})

	err = check.Predicate(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, policy.ErrPolicyNotFound)

	require.NoError(t, eng.Load(ctx, []policy.Policy{{
		Name:    "quota",
		Enabled: true,
		Rego:    "package pkgctl.quota\n\ndeny contains \"quota exceeded\" if input.phase == \"install\"\n",
	}}))
	assert.EqualError(t, check.Predicate(ctx), "quota exceeded")

	require.NoError(t, eng.Load(ctx, []policy.Policy{{
		Name:    "quota",
		Enabled: true,
		Rego:    "package pkgctl.quota\n\ndeny contains \"quota exceeded\" if false\n",
	}}))
	assert.NoError(t, check.Predicate(ctx))
}

func TestPolicyCheck_Builtin(t *testing.T) {
	eng, err := policy.NewEngine(zerolog.Nop())
	require.NoError(t, err)
	b := NewBuilder(WithPolicyEngine(eng))

	check, err := b.Build(context.Background(), engine.Package{ID: "legacy"}, Spec{
		Name: "versioned", Phase: engine.PhaseInstall, Kind: KindPolicy, Policy: "version-required",
	})
	require.NoError(t, err)
	assert.EqualError(t, check.Predicate(context.Background()), "package legacy does not declare a version")
}

func TestPolicyCheck_RequiresEngine(t *testing.T) {
	_, err := NewBuilder().Build(context.Background(), mongodb, Spec{
		Name: "quota", Phase: engine.PhaseInstall, Kind: KindPolicy, Policy: "quota",
	})
	assert.Error(t, err)
}

func TestChecksGateTransitions(t *testing.T) {
	env := map[string]string{}
	b := NewBuilder(WithEnvLookup(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	ctx := context.Background()

	mgr := engine.NewManager(engine.ManagerOptions{})
	require.NoError(t, mgr.RegisterPackage(engine.Package{ID: "storage"}))
	require.NoError(t, mgr.RegisterPackage(mongodb))

	check := build(t, b, Spec{Name: "uri", Phase: engine.PhaseEnable, Kind: KindEnv, Env: "MONGO_URI"})
	require.NoError(t, mgr.Registry().RegisterCheck(check))

	_, err := mgr.RequestTransition(ctx, "mongodb", engine.StateEnabled)
	require.Error(t, err)
	assert.Equal(t, engine.ErrCodeRequirementFailed, engine.CodeOf(err))

	env["MONGO_URI"] = "mongodb://localhost"
	_, err = mgr.RequestTransition(ctx, "mongodb", engine.StateEnabled)
	require.NoError(t, err)
}
