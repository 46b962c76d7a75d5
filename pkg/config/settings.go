package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/openfroyo/pkgctl/pkg/stores"
	"github.com/openfroyo/pkgctl/pkg/telemetry"
)

// EnvPrefix is the environment variable prefix for every setting, e.g.
// PKGCTL_LOG_LEVEL for log.level.
const EnvPrefix = "PKGCTL"

// Settings is the CLI configuration.
type Settings struct {
	// Manifests is the directory holding package manifests.
	Manifests string `mapstructure:"manifests" validate:"required"`

	// Policies is the directory of named Rego policies. Optional.
	Policies string `mapstructure:"policies"`

	// DB is the registry database path. Empty keeps state in memory only.
	DB string `mapstructure:"db"`

	CheckTimeout    time.Duration `mapstructure:"check_timeout" validate:"gt=0"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" validate:"gte=0"`
	StarlarkTimeout time.Duration `mapstructure:"starlark_timeout" validate:"gt=0"`

	Environment string `mapstructure:"environment"`

	Log     LogSettings     `mapstructure:"log"`
	Metrics MetricsSettings `mapstructure:"metrics"`
	Tracing TracingSettings `mapstructure:"tracing"`
}

// LogSettings configures logging.
type LogSettings struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool `mapstructure:"enabled"`

	// Addr is served by the watch command, e.g. ":9090". Empty disables it.
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// TracingSettings configures OpenTelemetry tracing.
type TracingSettings struct {
	Enabled  bool   `mapstructure:"enabled"`
	Exporter string `mapstructure:"exporter" validate:"oneof=otlp stdout none"`
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Exporter otlp"`
}

// flagKeys maps CLI flag names to setting keys.
var flagKeys = map[string]string{
	"manifests":     "manifests",
	"policies":      "policies",
	"db":            "db",
	"check-timeout": "check_timeout",
	"timeout":       "request_timeout",
	"log-level":     "log.level",
	"log-format":    "log.format",
	"metrics-addr":  "metrics.addr",
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("manifests", "./packages")
	v.SetDefault("policies", "")
	v.SetDefault("db", "")
	v.SetDefault("check_timeout", 10*time.Second)
	v.SetDefault("request_timeout", 0)
	v.SetDefault("starlark_timeout", 5*time.Second)
	v.SetDefault("environment", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.endpoint", "")
	return v
}

// Load resolves settings from defaults, an optional YAML config file,
// PKGCTL_* environment variables and flags, in increasing precedence. Only
// flags the user actually set override the other sources.
func Load(configFile string, flags *pflag.FlagSet) (*Settings, error) {
	v := newViper()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read config file %q: %w", configFile, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config: failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return s, nil
}

// Validate checks the settings' struct tags.
func (s *Settings) Validate() error {
	err := validator.New().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// TelemetryConfig derives the telemetry configuration.
func (s *Settings) TelemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Environment = s.Environment
	cfg.Logging.Level = s.Log.Level
	cfg.Logging.Format = s.Log.Format
	cfg.Metrics.Enabled = s.Metrics.Enabled || s.Metrics.Addr != ""
	cfg.Metrics.ListenAddress = s.Metrics.Addr
	cfg.Tracing.Enabled = s.Tracing.Enabled
	cfg.Tracing.Exporter = s.Tracing.Exporter
	cfg.Tracing.Endpoint = s.Tracing.Endpoint
	return cfg
}

// StoreConfig derives the registry store configuration. ok is false when no
// database is configured.
func (s *Settings) StoreConfig() (cfg stores.Config, ok bool) {
	if s.DB == "" {
		return stores.Config{}, false
	}
	return stores.Config{Path: s.DB}, true
}
