package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/pkgctl/pkg/checks"
	"github.com/openfroyo/pkgctl/pkg/config"
	"github.com/openfroyo/pkgctl/pkg/engine"
	"github.com/openfroyo/pkgctl/pkg/manifest"
	"github.com/openfroyo/pkgctl/pkg/policy"
	"github.com/openfroyo/pkgctl/pkg/stores"
	"github.com/openfroyo/pkgctl/pkg/telemetry"
)

// app is the wired runtime behind a single command invocation.
type app struct {
	settings  *config.Settings
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger

	policies     *policy.Engine
	policyLoader *policy.Loader
	builder      *checks.Builder
	parser       *manifest.Parser
	manager      *engine.Manager
	store        *stores.SQLiteStore

	out *printer
}

// newApp loads settings and wires every component without reading manifests.
func newApp(cmd *cobra.Command, opts *globalOptions) (*app, error) {
	settings, err := config.Load(opts.configPath, cmd.Flags())
	if err != nil {
		return nil, asUsageError(err)
	}
	if opts.verbose && settings.Log.Level == "info" {
		settings.Log.Level = "debug"
	}

	tcfg := settings.TelemetryConfig(cmd.Root().Version)
	logger := telemetry.NewLoggerWithWriter(tcfg.Logging, cmd.ErrOrStderr())
	zerolog.SetGlobalLevel(telemetry.ParseLevel(settings.Log.Level))
	log.Logger = *logger.Zerolog()

	tel, err := telemetry.NewTelemetryWithLogger(tcfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise telemetry: %w", err)
	}
	zl := *logger.Zerolog()

	policies, err := policy.NewEngine(zl)
	if err != nil {
		return nil, err
	}

	parser, err := manifest.NewParser()
	if err != nil {
		return nil, err
	}

	a := &app{
		settings:     settings,
		telemetry:    tel,
		logger:       zl,
		policies:     policies,
		policyLoader: policy.NewLoader(zl),
		builder: checks.NewBuilder(
			checks.WithPolicyEngine(policies),
			checks.WithStarlarkTimeout(settings.StarlarkTimeout),
			checks.WithLogger(zl),
		),
		parser: parser,
		out:    newPrinter(cmd.OutOrStdout(), opts.jsonOutput),
	}

	if opts.verbose {
		tel.Events.Subscribe(a.printEvent(cmd), nil)
	}
	return a, nil
}

// openApp wires the application and loads policies, manifests and persisted
// state into a ready manager.
func openApp(cmd *cobra.Command, opts *globalOptions) (*app, error) {
	a, err := newApp(cmd, opts)
	if err != nil {
		return nil, err
	}
	if err := a.load(cmd.Context()); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) load(ctx context.Context) error {
	if err := a.loadPolicies(ctx); err != nil {
		return err
	}

	manifests, err := a.parser.LoadDir(ctx, a.settings.Manifests)
	if err != nil {
		return err
	}

	if cfg, ok := a.settings.StoreConfig(); ok {
		store, err := stores.Open(ctx, cfg, a.logger)
		if err != nil {
			return engine.NewPermanentError("failed to open registry database", err).WithCode(engine.ErrCodeStore)
		}
		a.store = store
	}

	opts := engine.ManagerOptions{
		Logger:       &a.logger,
		Observer:     a.telemetry.Observer,
		CheckTimeout: a.settings.CheckTimeout,
	}
	if a.store != nil {
		opts.Store = a.store
	}
	a.manager = engine.NewManager(opts)

	if err := manifest.Apply(ctx, a.manager, a.builder, manifests, a.logger); err != nil {
		return err
	}

	skipped, err := a.manager.Restore(ctx)
	if err != nil {
		return err
	}
	if len(skipped) > 0 {
		a.logger.Warn().Strs("packages", skipped).Msg("Persisted packages have no manifest")
	}

	a.telemetry.Observer.UpdatePackageGauges(a.manager.Registry().List())
	return nil
}

func (a *app) loadPolicies(ctx context.Context) error {
	if a.settings.Policies == "" {
		return nil
	}
	loaded, err := a.policyLoader.LoadDir(ctx, a.settings.Policies)
	if err != nil {
		return err
	}
	return a.policies.Load(ctx, loaded)
}

// requestContext applies the configured request timeout.
func (a *app) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.settings.RequestTimeout > 0 {
		return context.WithTimeout(ctx, a.settings.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.telemetry.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close registry database")
		}
	}
}

// printEvent prints lifecycle events as progress lines on stderr.
func (a *app) printEvent(cmd *cobra.Command) telemetry.EventSubscriber {
	w := cmd.ErrOrStderr()
	return func(event telemetry.Event) {
		fmt.Fprintf(w, "[%s] %s\n", event.Type, event.Message)
	}
}
