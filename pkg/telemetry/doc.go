// Package telemetry provides observability for pkgctl: structured logging
// (zerolog), distributed tracing (OpenTelemetry), metrics (Prometheus) and an
// in-process event stream.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	mgr := engine.NewManager(engine.ManagerOptions{
//	    Logger:   tel.Logger.Zerolog(),
//	    Observer: tel.Observer,
//	})
//
// The LifecycleObserver implements engine.Observer. Every committed or aborted
// transition updates the transition counters and publishes events; every
// gated plan step records check outcomes.
//
// # Tracing
//
// When tracing is enabled NewTracer installs the SDK provider globally. The
// engine starts its spans from the global provider, so they are exported
// without further wiring. Supported exporters: otlp, stdout, none.
//
// # Metrics
//
//	pkgctl_transitions_total{target,result}
//	pkgctl_transition_duration_seconds{target,result}
//	pkgctl_steps_committed_total{operation}
//	pkgctl_check_results_total{phase,severity,status}
//	pkgctl_gate_duration_seconds{operation}
//	pkgctl_packages{state}
//	pkgctl_errors_by_class_total{class}
//	pkgctl_errors_by_code_total{code}
//
// # Events
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.PackageID, e.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
//
// Event types: transition.committed, transition.aborted,
// package.state_changed, check.warning, policies.reloaded.
package telemetry
