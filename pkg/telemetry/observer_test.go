package telemetry

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/pkgctl/pkg/engine"
)

func newTestTelemetry(t *testing.T) *Telemetry {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Events.EnableAsync = false
	tel, err := NewTelemetryWithLogger(cfg, Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	return tel
}

func TestLifecycleObserver_Committed(t *testing.T) {
	tel := newTestTelemetry(t)

	var mu sync.Mutex
	var types []string
	tel.Events.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, e.Type)
	}, nil)

	mgr := engine.NewManager(engine.ManagerOptions{Observer: tel.Observer})
	require.NoError(t, mgr.RegisterPackage(engine.Package{ID: "db"}))
	require.NoError(t, mgr.RegisterPackage(engine.Package{ID: "app", Dependencies: []string{"db"}}))
	require.NoError(t, mgr.RegisterCheck("app", engine.PhaseEnable, engine.SeverityWarning, "swap",
		func(context.Context) error { return errors.New("swap on") }))

	_, err := mgr.RequestTransition(context.Background(), "app", engine.StateEnabled)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(tel.Metrics.transitions.WithLabelValues("enabled", "committed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(tel.Metrics.stepsCommitted.WithLabelValues("enable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.Metrics.checkResults.WithLabelValues("enable", "warning", "fail")))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		EventTypeCheckWarning,
		EventTypeStateChanged,
		EventTypeStateChanged,
		EventTypeTransitionCommitted,
	}, types)
}

func TestLifecycleObserver_Aborted(t *testing.T) {
	tel := newTestTelemetry(t)

	var got []Event
	tel.Events.Subscribe(func(e Event) { got = append(got, e) }, FilterByType(EventTypeTransitionAborted))

	mgr := engine.NewManager(engine.ManagerOptions{Observer: tel.Observer})
	require.NoError(t, mgr.RegisterPackage(engine.Package{ID: "mongodb"}))
	require.NoError(t, mgr.RegisterCheck("mongodb", engine.PhaseInstall, engine.SeverityError, "disk",
		func(context.Context) error { return errors.New("disk full") }))

	_, err := mgr.RequestTransition(context.Background(), "mongodb", engine.StateEnabled)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(tel.Metrics.transitions.WithLabelValues("enabled", "aborted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.Metrics.errorsByCode.WithLabelValues(engine.ErrCodeRequirementFailed)))

	require.Len(t, got, 1)
	assert.Equal(t, "mongodb", got[0].PackageID)
	assert.Equal(t, EventLevelError, got[0].Level)
	assert.Equal(t, []string{"mongodb/disk"}, got[0].Data["failed_checks"])
}

func TestLifecycleObserver_PackageGauges(t *testing.T) {
	tel := newTestTelemetry(t)

	tel.Observer.UpdatePackageGauges([]*engine.Package{
		{ID: "a", State: engine.StateEnabled},
		{ID: "b", State: engine.StateEnabled},
		{ID: "c", State: engine.StateUninstalled},
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(tel.Metrics.packagesByState.WithLabelValues("enabled")))
	assert.Equal(t, 0.0, testutil.ToFloat64(tel.Metrics.packagesByState.WithLabelValues("disabled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.Metrics.packagesByState.WithLabelValues("uninstalled")))
}

func TestLifecycleObserver_NilDependencies(t *testing.T) {
	obs := NewLifecycleObserver(nil, nil, nil)

	assert.NotPanics(t, func() {
		obs.TransitionAborted("x", engine.StateEnabled, errors.New("boom"), time.Millisecond)
		obs.GateEvaluated(engine.PlanStep{}, engine.GateReport{}, time.Millisecond)
	})
}

func TestMetrics_Disabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		m.RecordTransition("enabled", "committed", time.Second)
		m.RecordCheck("install", "error", "pass")
		m.SetPackageCount("enabled", 1)
		m.RecordError("permanent", "")
	})
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.StartMetricsServer(context.Background()))
}

func TestEventPublisher_AsyncDrainsOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:       true,
		BufferSize:    16,
		FlushInterval: time.Hour,
		MaxBatchSize:  100,
		EnableAsync:   true,
	})
	require.NoError(t, err)

	var mu sync.Mutex
	var received []string
	ep.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e.PackageID)
	}, nil)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, ep.Publish(Event{Type: EventTypeStateChanged, PackageID: id}))
	}
	require.NoError(t, ep.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, received)
}

func TestEventPublisher_Filters(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 1})
	require.NoError(t, err)
	ep.AddFilter(FilterByLevel(EventLevelWarning))

	var got []Event
	ep.Subscribe(func(e Event) { got = append(got, e) }, FilterByPackageID("mongodb"))

	require.NoError(t, ep.Publish(Event{PackageID: "mongodb", Level: EventLevelInfo}))
	require.NoError(t, ep.Publish(Event{PackageID: "mongodb", Level: EventLevelError}))
	require.NoError(t, ep.Publish(Event{PackageID: "redis", Level: EventLevelError}))

	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.NewComponentLogger("lifecycle").WithPackageID("mongodb").WithPlanID("p-1").Info("Transition committed")

	out := buf.String()
	assert.Contains(t, out, `"component":"lifecycle"`)
	assert.Contains(t, out, `"package_id":"mongodb"`)
	assert.Contains(t, out, `"plan_id":"p-1"`)
	assert.Contains(t, out, `"message":"Transition committed"`)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Logging.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	assert.Error(t, cfg.Validate())

	cfg.Tracing.Endpoint = "localhost:4317"
	assert.NoError(t, cfg.Validate())
}
