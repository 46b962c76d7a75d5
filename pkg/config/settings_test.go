package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("manifests", "", "")
	fs.String("db", "", "")
	fs.String("log-level", "", "")
	fs.Duration("check-timeout", 0, "")
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	s, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "./packages", s.Manifests)
	assert.Equal(t, 10*time.Second, s.CheckTimeout)
	assert.Equal(t, "info", s.Log.Level)
	assert.Equal(t, "none", s.Tracing.Exporter)

	_, ok := s.StoreConfig()
	assert.False(t, ok)
}

func TestLoad_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pkgctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
manifests: /from/file
db: /from/file.db
check_timeout: 3s
log:
  level: warn
`), 0o644))

	t.Setenv("PKGCTL_DB", "/from/env.db")
	t.Setenv("PKGCTL_LOG_LEVEL", "error")

	fs := testFlags()
	require.NoError(t, fs.Parse([]string{"--log-level", "debug"}))

	s, err := Load(path, fs)
	require.NoError(t, err)

	assert.Equal(t, "/from/file", s.Manifests, "file beats default")
	assert.Equal(t, 3*time.Second, s.CheckTimeout)
	assert.Equal(t, "/from/env.db", s.DB, "env beats file")
	assert.Equal(t, "debug", s.Log.Level, "set flag beats env")

	store, ok := s.StoreConfig()
	require.True(t, ok)
	assert.Equal(t, "/from/env.db", store.Path)
}

func TestLoad_UnsetFlagsDoNotOverride(t *testing.T) {
	t.Setenv("PKGCTL_MANIFESTS", "/from/env")

	fs := testFlags()
	require.NoError(t, fs.Parse(nil))

	s, err := Load("", fs)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", s.Manifests)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("PKGCTL_LOG_LEVEL", "loud")

	_, err := Load("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Level")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate_TracingEndpoint(t *testing.T) {
	s, err := Load("", nil)
	require.NoError(t, err)

	s.Tracing.Exporter = "otlp"
	assert.Error(t, s.Validate())

	s.Tracing.Endpoint = "localhost:4317"
	assert.NoError(t, s.Validate())
}

func TestTelemetryConfig(t *testing.T) {
	s, err := Load("", nil)
	require.NoError(t, err)
	s.Metrics.Addr = ":9090"
	s.Log.Format = "json"

	cfg := s.TelemetryConfig("1.2.3")
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, ":9090", cfg.Metrics.ListenAddress)
	assert.True(t, cfg.Metrics.Enabled)
	assert.NoError(t, cfg.Validate())
}
