package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/pkgctl/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), Config{Path: ":memory:"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	_, err := NewSQLiteStore(Config{})
	assert.Error(t, err)
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	require.NoError(t, err)

	ctx := context.Background()
	assert.Error(t, store.HealthCheck(ctx))

	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.HealthCheck(ctx))
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "second migration must be a no-op")
	require.NoError(t, store.Close())
}

func TestSaveAndLoadStates(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveStates(ctx, []*engine.Package{
		{ID: "storage", Version: "1.0.0", State: engine.StateEnabled, UpdatedAt: now},
		{ID: "mongodb", Version: "7.0.2", Dependencies: []string{"storage"}, State: engine.StateDisabled, UpdatedAt: now},
	}))

	states, err := store.LoadStates(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]engine.LifecycleState{
		"storage": engine.StateEnabled,
		"mongodb": engine.StateDisabled,
	}, states)

	record, err := store.GetPackage(ctx, "mongodb")
	require.NoError(t, err)
	assert.Equal(t, "7.0.2", record.Version)
	assert.Equal(t, []string{"storage"}, record.Dependencies)
	assert.True(t, record.UpdatedAt.Equal(now))
}

func TestSaveStates_Upserts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveStates(ctx, []*engine.Package{{ID: "mongodb", State: engine.StateDisabled}}))
	require.NoError(t, store.SaveStates(ctx, []*engine.Package{{ID: "mongodb", Version: "7.1", State: engine.StateEnabled}}))

	records, err := store.ListPackages(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, engine.StateEnabled, records[0].State)
	assert.Equal(t, "7.1", records[0].Version)
	assert.Empty(t, records[0].Dependencies)
}

func TestSaveStates_InvalidStateRollsBack(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.SaveStates(ctx, []*engine.Package{
		{ID: "good", State: engine.StateEnabled},
		{ID: "bad", State: engine.LifecycleState("running")},
	})
	require.Error(t, err)

	records, err := store.ListPackages(ctx)
	require.NoError(t, err)
	assert.Empty(t, records, "a failed batch must not leave partial rows")
}

func TestGetPackage_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetPackage(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestReset(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveStates(ctx, []*engine.Package{{ID: "mongodb", State: engine.StateEnabled}}))
	require.NoError(t, store.Reset(ctx))

	states, err := store.LoadStates(ctx)
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	ctx := context.Background()

	store, err := Open(ctx, Config{Path: path}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.SaveStates(ctx, []*engine.Package{{ID: "mongodb", State: engine.StateEnabled}}))
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, Config{Path: path}, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	states, err := reopened.LoadStates(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.StateEnabled, states["mongodb"])
}

func TestManagerCommitsThroughStore(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	mgr := engine.NewManager(engine.ManagerOptions{Store: store})
	require.NoError(t, mgr.RegisterPackage(engine.Package{ID: "storage"}))
	require.NoError(t, mgr.RegisterPackage(engine.Package{ID: "mongodb", Dependencies: []string{"storage"}}))

	_, err := mgr.RequestTransition(ctx, "mongodb", engine.StateEnabled)
	require.NoError(t, err)

	states, err := store.LoadStates(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.StateEnabled, states["storage"])
	assert.Equal(t, engine.StateEnabled, states["mongodb"])

	restarted := engine.NewManager(engine.ManagerOptions{Store: store})
	require.NoError(t, restarted.RegisterPackage(engine.Package{ID: "storage"}))
	require.NoError(t, restarted.RegisterPackage(engine.Package{ID: "mongodb", Dependencies: []string{"storage"}}))
	skipped, err := restarted.Restore(ctx)
	require.NoError(t, err)
	assert.Empty(t, skipped)

	state, err := restarted.QueryState("mongodb")
	require.NoError(t, err)
	assert.Equal(t, engine.StateEnabled, state)
}

func TestManagerStoreFailureAbortsCommit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	mgr := engine.NewManager(engine.ManagerOptions{Store: store})
	require.NoError(t, mgr.RegisterPackage(engine.Package{ID: "mongodb"}))
	require.NoError(t, store.Close())

	_, err := mgr.RequestTransition(ctx, "mongodb", engine.StateEnabled)
	require.Error(t, err)
	assert.Equal(t, engine.ErrCodeStore, engine.CodeOf(err))

	var engErr *engine.EngineError
	require.True(t, errors.As(err, &engErr))
	state, err := mgr.QueryState("mongodb")
	require.NoError(t, err)
	assert.Equal(t, engine.StateUninstalled, state)
}
