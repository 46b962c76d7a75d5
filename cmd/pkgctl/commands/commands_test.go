package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/pkgctl/pkg/engine"
	"github.com/openfroyo/pkgctl/pkg/manifest"
)

const storageManifest = `
id: storage
version: 1.0.0
description: Block storage
`

const mongodbManifest = `
id: mongodb
version: 7.0.2
dependencies: [storage]
checks:
  - name: uri
    phase: install
    kind: env
    env: PKGCTL_TEST_MONGO_URI
  - name: swap
    phase: enable
    severity: warning
    kind: file
    path: /nonexistent/swapoff
`

type fixture struct {
	dir       string
	manifests string
	db        string
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:       dir,
		manifests: filepath.Join(dir, "packages"),
		db:        filepath.Join(dir, "registry.db"),
	}
	require.NoError(t, os.MkdirAll(f.manifests, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(f.manifests, name), []byte(content), 0o644))
	}
	return f
}

func mongodbFixture(t *testing.T) *fixture {
	return newFixture(t, map[string]string{
		"storage.yaml": storageManifest,
		"mongodb.yaml": mongodbManifest,
	})
}

// run executes pkgctl against the fixture and returns stdout.
func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("test", "none", "unknown")
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--manifests", f.manifests, "--db", f.db, "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func (f *fixture) state(t *testing.T, id string) engine.LifecycleState {
	t.Helper()
	out, err := f.run(t, "status", id, "--json")
	require.NoError(t, err)
	var pkg engine.Package
	require.NoError(t, json.Unmarshal([]byte(out), &pkg))
	return pkg.State
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, ExitOK},
		{"requirement failed", engine.NewTransientError("failed", nil).WithCode(engine.ErrCodeRequirementFailed), ExitGate},
		{"timeout", engine.NewPermanentError("slow", nil).WithCode(engine.ErrCodeTimeout), ExitGate},
		{"unknown package", engine.NewPermanentError("x", nil).WithCode(engine.ErrCodeUnknownPackage), ExitRejected},
		{"unknown dependency", engine.NewPermanentError("x", nil).WithCode(engine.ErrCodeUnknownDependency), ExitRejected},
		{"cycle", engine.NewPermanentError("x", nil).WithCode(engine.ErrCodeCycleDetected), ExitRejected},
		{"illegal transition", engine.NewPermanentError("x", nil).WithCode(engine.ErrCodeIllegalTransition), ExitRejected},
		{"wrapped code", fmt.Errorf("outer: %w", engine.NewPermanentError("x", nil).WithCode(engine.ErrCodeCycleDetected)), ExitRejected},
		{"usage", asUsageError(errors.New("bad flag")), ExitRejected},
		{"manifest", manifest.ValidationErrors{{File: "a.yaml", Message: "bad"}}, ExitRejected},
		{"store", engine.NewPermanentError("x", nil).WithCode(engine.ErrCodeStore), ExitGate},
		{"plain", errors.New("boom"), ExitGate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestEnable_MongodbScenario(t *testing.T) {
	f := mongodbFixture(t)
	t.Setenv("PKGCTL_TEST_MONGO_URI", "")
	require.NoError(t, os.Unsetenv("PKGCTL_TEST_MONGO_URI"))

	out, err := f.run(t, "enable", "mongodb")
	require.Error(t, err)
	assert.Equal(t, ExitGate, ExitCode(err))
	assert.Equal(t, engine.ErrCodeRequirementFailed, engine.CodeOf(err))
	assert.Contains(t, out, "Failed checks:")
	assert.Contains(t, out, "mongodb/uri")
	assert.Contains(t, out, "PKGCTL_TEST_MONGO_URI is not set")

	assert.Equal(t, engine.StateUninstalled, f.state(t, "mongodb"))
	assert.Equal(t, engine.StateUninstalled, f.state(t, "storage"))

	t.Setenv("PKGCTL_TEST_MONGO_URI", "mongodb://localhost")

	out, err = f.run(t, "enable", "mongodb")
	require.NoError(t, err)
	assert.Contains(t, out, "mongodb is now enabled")
	assert.Contains(t, out, "1 warning(s):")
	assert.Contains(t, out, "mongodb/swap")

	assert.Equal(t, engine.StateEnabled, f.state(t, "mongodb"))
	assert.Equal(t, engine.StateEnabled, f.state(t, "storage"))
}

func TestEnable_JSON(t *testing.T) {
	f := mongodbFixture(t)
	t.Setenv("PKGCTL_TEST_MONGO_URI", "mongodb://localhost")

	out, err := f.run(t, "enable", "mongodb", "--json")
	require.NoError(t, err)

	var committed engine.CommittedPlan
	require.NoError(t, json.Unmarshal([]byte(out), &committed))
	require.NotNil(t, committed.Plan)
	assert.Equal(t, []string{"storage", "mongodb"}, committed.Plan.PackageIDs())
	assert.Len(t, committed.Warnings(), 1)
}

func TestEnable_FailureJSON(t *testing.T) {
	f := mongodbFixture(t)
	t.Setenv("PKGCTL_TEST_MONGO_URI", "")
	require.NoError(t, os.Unsetenv("PKGCTL_TEST_MONGO_URI"))

	out, err := f.run(t, "enable", "mongodb", "--json")
	require.Error(t, err)

	var body errorOutput
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, engine.ErrCodeRequirementFailed, body.Error.Code)
	require.Len(t, body.Error.Failures, 1)
	assert.Equal(t, "uri", body.Error.Failures[0].Name)
}

func TestEnable_UnknownPackage(t *testing.T) {
	f := mongodbFixture(t)

	_, err := f.run(t, "enable", "redis")
	require.Error(t, err)
	assert.Equal(t, ExitRejected, ExitCode(err))
	assert.Equal(t, engine.ErrCodeUnknownPackage, engine.CodeOf(err))
}

func TestEnable_Cycle(t *testing.T) {
	f := newFixture(t, map[string]string{
		"a.yaml": "id: a\ndependencies: [b]\n",
		"b.yaml": "id: b\ndependencies: [a]\n",
	})

	_, err := f.run(t, "enable", "a")
	require.Error(t, err)
	assert.Equal(t, ExitRejected, ExitCode(err))
	assert.Equal(t, engine.ErrCodeCycleDetected, engine.CodeOf(err))
	assert.Equal(t, engine.StateUninstalled, f.state(t, "a"))
}

func TestLifecycle_InstallDisableUninstall(t *testing.T) {
	f := mongodbFixture(t)
	t.Setenv("PKGCTL_TEST_MONGO_URI", "mongodb://localhost")

	_, err := f.run(t, "install", "mongodb")
	require.NoError(t, err)
	assert.Equal(t, engine.StateDisabled, f.state(t, "mongodb"))
	assert.Equal(t, engine.StateDisabled, f.state(t, "storage"))

	_, err = f.run(t, "enable", "mongodb")
	require.NoError(t, err)

	_, err = f.run(t, "install", "mongodb")
	require.Error(t, err)
	assert.Equal(t, ExitRejected, ExitCode(err))
	assert.Equal(t, engine.StateEnabled, f.state(t, "mongodb"))

	_, err = f.run(t, "uninstall", "storage")
	require.Error(t, err)
	assert.Equal(t, engine.ErrCodeIllegalTransition, engine.CodeOf(err))

	// Disabling storage cascades to its enabled dependent.
	_, err = f.run(t, "disable", "storage")
	require.NoError(t, err)
	assert.Equal(t, engine.StateDisabled, f.state(t, "mongodb"))
	assert.Equal(t, engine.StateDisabled, f.state(t, "storage"))

	_, err = f.run(t, "uninstall", "storage")
	require.NoError(t, err)
	assert.Equal(t, engine.StateUninstalled, f.state(t, "mongodb"))
	assert.Equal(t, engine.StateUninstalled, f.state(t, "storage"))

	_, err = f.run(t, "disable", "storage")
	require.Error(t, err)
	assert.Equal(t, ExitRejected, ExitCode(err))
}

func TestEnable_Noop(t *testing.T) {
	f := newFixture(t, map[string]string{"storage.yaml": storageManifest})

	_, err := f.run(t, "enable", "storage")
	require.NoError(t, err)

	out, err := f.run(t, "enable", "storage")
	require.NoError(t, err)
	assert.Contains(t, out, "storage is already enabled, nothing to do")
}

func TestUsageErrors(t *testing.T) {
	f := mongodbFixture(t)

	tests := []struct {
		name string
		args []string
	}{
		{"missing package", []string{"enable"}},
		{"too many packages", []string{"enable", "a", "b"}},
		{"unknown flag", []string{"status", "--bogus"}},
		{"bad target", []string{"plan", "mongodb", "--to", "running"}},
		{"bad phase", []string{"check", "mongodb", "--phase", "configure"}},
		{"bad graph format", []string{"graph", "--format", "svg"}},
		{"bad log format", []string{"status", "--log-format", "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.run(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitRejected, ExitCode(err))
		})
	}
}

func TestStatus(t *testing.T) {
	f := mongodbFixture(t)

	out, err := f.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "PACKAGE")
	assert.Contains(t, out, "mongodb")
	assert.Contains(t, out, "7.0.2")
	assert.Contains(t, out, "storage")

	out, err = f.run(t, "status", "--json")
	require.NoError(t, err)
	var pkgs []engine.Package
	require.NoError(t, json.Unmarshal([]byte(out), &pkgs))
	require.Len(t, pkgs, 2)
	assert.Equal(t, "mongodb", pkgs[0].ID)
	assert.Equal(t, []string{"storage"}, pkgs[0].Dependencies)

	_, err = f.run(t, "status", "redis")
	require.Error(t, err)
	assert.Equal(t, ExitRejected, ExitCode(err))
}

func TestPlan_DoesNotCommit(t *testing.T) {
	f := mongodbFixture(t)
	t.Setenv("PKGCTL_TEST_MONGO_URI", "mongodb://localhost")

	out, err := f.run(t, "plan", "mongodb", "--to", "enabled", "--json")
	require.NoError(t, err)

	var result planOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.NotNil(t, result.Plan)
	assert.Equal(t, []string{"storage", "mongodb"}, result.Plan.PackageIDs())
	assert.Nil(t, result.Error)
	assert.True(t, result.Report.Passed())

	assert.Equal(t, engine.StateUninstalled, f.state(t, "mongodb"))
}

func TestPlan_FailedGate(t *testing.T) {
	f := mongodbFixture(t)
	t.Setenv("PKGCTL_TEST_MONGO_URI", "")
	require.NoError(t, os.Unsetenv("PKGCTL_TEST_MONGO_URI"))

	out, err := f.run(t, "plan", "mongodb")
	require.Error(t, err)
	assert.Equal(t, ExitGate, ExitCode(err))
	assert.Contains(t, out, "install")
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "mongodb/uri")
}

func TestCheck(t *testing.T) {
	f := mongodbFixture(t)
	t.Setenv("PKGCTL_TEST_MONGO_URI", "")
	require.NoError(t, os.Unsetenv("PKGCTL_TEST_MONGO_URI"))

	out, err := f.run(t, "check", "mongodb", "--phase", "install")
	require.Error(t, err)
	assert.Equal(t, ExitGate, ExitCode(err))
	assert.Contains(t, out, "mongodb/uri")

	// Warning failures do not fail the command.
	out, err = f.run(t, "check", "mongodb", "--phase", "enable")
	require.NoError(t, err)
	assert.Contains(t, out, "warn")

	out, err = f.run(t, "check", "storage", "--phase", "install")
	require.NoError(t, err)
	assert.Contains(t, out, "No requirement checks")
}

func TestGraph(t *testing.T) {
	f := mongodbFixture(t)

	out, err := f.run(t, "graph")
	require.NoError(t, err)
	assert.Contains(t, out, "digraph Packages {")
	assert.Contains(t, out, `"mongodb" -> "storage";`)

	out, err = f.run(t, "graph", "--format", "levels")
	require.NoError(t, err)
	assert.Equal(t, "0: storage\n1: mongodb\n", out)
}

func TestValidate(t *testing.T) {
	f := mongodbFixture(t)

	out, err := f.run(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "2 package(s) and 2 check(s) are valid")
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	f := newFixture(t, map[string]string{
		"web.yaml": `
id: web
dependencies: [missing]
checks:
  - name: script
    phase: enable
    kind: starlark
    script: "ok = ("
  - name: quota
    phase: install
    kind: policy
    policy: no-such-policy
`,
		"broken.yaml": "id: [\n",
	})

	out, err := f.run(t, "validate", "--json")
	require.Error(t, err)
	assert.Equal(t, ExitRejected, ExitCode(err))

	var result validateOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.False(t, result.Valid)
	assert.Equal(t, 1, result.Packages)

	var messages []string
	for _, e := range result.Errors {
		messages = append(messages, e.Error())
	}
	require.Len(t, messages, 4, "%v", messages)
	assert.Contains(t, messages[0], "broken.yaml")
	assert.Contains(t, messages[1], "invalid starlark")
	assert.Contains(t, messages[2], `unknown policy "no-such-policy"`)
	assert.Contains(t, messages[3], "missing")
}

func TestConfigFile(t *testing.T) {
	f := mongodbFixture(t)
	configPath := filepath.Join(f.dir, "pkgctl.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf("manifests: %s\nlog:\n  level: error\n", f.manifests)), 0o644))

	cmd := newRootCommand("test", "none", "unknown")
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"status", "--config", configPath})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, stdout.String(), "mongodb")
}
