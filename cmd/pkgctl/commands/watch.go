package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/pkgctl/pkg/policy"
	"github.com/openfroyo/pkgctl/pkg/telemetry"
)

func newWatchCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Serve metrics and hot-reload policies until interrupted",
		Long: `Load the registry, serve Prometheus metrics and reload named policies
whenever files in the policy directory change.

Policy checks resolve their policy by name on every evaluation, so a reload
takes effect without reloading manifests. A policy set that fails to compile
is rejected and the previous set stays active.`,
		Example: `  pkgctl watch --policies ./policies --metrics-addr :9090`,
		Args:    usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if err := a.telemetry.Metrics.StartMetricsServer(ctx); err != nil {
				return fmt.Errorf("failed to start metrics server: %w", err)
			}
			if addr := a.settings.Metrics.Addr; addr != "" {
				log.Info().Str("address", addr).Msg("Serving metrics")
			}

			if dir := a.settings.Policies; dir != "" {
				if err := a.policyLoader.Watch(ctx, dir, a.reloadPolicies(ctx)); err != nil {
					return err
				}
				defer func() { _ = a.policyLoader.StopWatching() }()
			}

			log.Info().
				Int("packages", len(a.manager.Registry().List())).
				Str("policies", a.settings.Policies).
				Msg("Watching, press Ctrl+C to stop")

			<-ctx.Done()
			log.Info().Msg("Stopped watching")
			return nil
		},
	}

	cmd.Flags().String("metrics-addr", "", "address to serve /metrics on, e.g. :9090")

	return cmd
}

// reloadPolicies swaps freshly loaded policies into the engine and reports
// the reload as an event.
func (a *app) reloadPolicies(ctx context.Context) func([]policy.Policy) error {
	return func(policies []policy.Policy) error {
		if err := a.policies.Load(ctx, policies); err != nil {
			return err
		}

		names := make([]string, 0, len(policies))
		for _, p := range policies {
			names = append(names, p.Name)
		}
		return a.telemetry.Events.Publish(telemetry.Event{
			Type:    telemetry.EventTypePoliciesReloaded,
			Source:  "watch",
			Message: fmt.Sprintf("%d policies reloaded", len(policies)),
			Level:   telemetry.EventLevelInfo,
			Data:    map[string]interface{}{"policies": names},
		})
	}
}
