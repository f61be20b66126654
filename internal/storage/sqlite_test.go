package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homehub-io/catalog-sync/internal/metrics"
	"github.com/homehub-io/catalog-sync/internal/models"
	"github.com/homehub-io/catalog-sync/pkg/utils"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	cfg := &StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "catalog_test.db"),
		MaxConnections:   4,
		MaxIdleTime:      time.Minute,
	}

	store := NewSQLiteStorage(cfg, nil)
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })

	return store
}

func strPtr(s string) *string { return &s }

func testCatalogEntry(domain string) *models.CatalogEntry {
	now := time.Now().UTC()
	return &models.CatalogEntry{
		Domain:          domain,
		Name:            "Test " + domain,
		Description:     strPtr("description"),
		Icon:            strPtr("mdi:puzzle"),
		SupportsDevices: true,
		FlowType:        "manual",
		FlowConfig:      map[string]interface{}{"step": "host"},
		Metadata:        map[string]interface{}{"iot_class": "local_polling"},
		VersionHash:     strPtr("hash-" + domain),
		SyncStatus:      models.SyncStatusSynced,
		LastSyncedAt:    &now,
	}
}

func TestUpsertAndGetEntry(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	entry := testCatalogEntry("hue")
	require.NoError(t, store.UpsertEntry(ctx, entry))

	got, err := store.GetEntry(ctx, "hue")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "hue", got.Domain)
	assert.Equal(t, "Test hue", got.Name)
	assert.Equal(t, "description", *got.Description)
	assert.Equal(t, "hash-hue", *got.VersionHash)
	assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)
	assert.Equal(t, map[string]interface{}{"step": "host"}, got.FlowConfig)
	assert.Equal(t, map[string]interface{}{"iot_class": "local_polling"}, got.Metadata)
	assert.NotNil(t, got.LastSyncedAt)
}

func TestGetEntryMissing(t *testing.T) {
	store := newTestStorage(t)

	got, err := store.GetEntry(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsertPreservesCreatedAt(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	entry := testCatalogEntry("hue")
	require.NoError(t, store.UpsertEntry(ctx, entry))

	first, err := store.GetEntry(ctx, "hue")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	// Fresh struct, as a later sync run would produce
	updated := testCatalogEntry("hue")
	updated.Name = "Renamed"
	require.NoError(t, store.UpsertEntry(ctx, updated))

	second, err := store.GetEntry(ctx, "hue")
	require.NoError(t, err)

	assert.Equal(t, "Renamed", second.Name)
	assert.WithinDuration(t, first.CreatedAt, second.CreatedAt, time.Millisecond)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
}

func TestListEntriesFiltering(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertEntry(ctx, testCatalogEntry("hue")))
	require.NoError(t, store.UpsertEntry(ctx, testCatalogEntry("zwave")))

	old := testCatalogEntry("legacy_switch")
	old.SyncStatus = models.SyncStatusDeprecated
	require.NoError(t, store.UpsertEntry(ctx, old))

	// Deprecated entries are hidden by default
	entries, err := store.ListEntries(ctx, models.CatalogFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "hue", entries[0].Domain)
	assert.Equal(t, "zwave", entries[1].Domain)

	entries, err = store.ListEntries(ctx, models.CatalogFilter{IncludeDeprecated: true})
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	// Substring search matches domain or name
	query := "zwa"
	entries, err = store.ListEntries(ctx, models.CatalogFilter{Query: &query})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "zwave", entries[0].Domain)

	deprecated := models.SyncStatusDeprecated
	entries, err = store.ListEntries(ctx, models.CatalogFilter{Status: &deprecated})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "legacy_switch", entries[0].Domain)

	// Pagination
	entries, err = store.ListEntries(ctx, models.CatalogFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "zwave", entries[0].Domain)

	count, err := store.CountEntries(ctx, models.CatalogFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestSetEntryStatus(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertEntry(ctx, testCatalogEntry("hue")))
	require.NoError(t, store.SetEntryStatus(ctx, "hue", models.SyncStatusDeprecated))

	got, err := store.GetEntry(ctx, "hue")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusDeprecated, got.SyncStatus)

	err = store.SetEntryStatus(ctx, "ghost", models.SyncStatusDeprecated)
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeNotFound))
}

func TestSyncRunLifecycle(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	run := &models.SyncRun{
		ID:        "run-1",
		SyncType:  models.SyncTypeIncremental,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now().UTC(),
		Metadata:  map[string]interface{}{"forced": false},
	}
	require.NoError(t, store.CreateSyncRun(ctx, run))

	got, err := store.GetSyncRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.RunStatusRunning, got.Status)
	assert.Nil(t, got.CompletedAt)

	now := time.Now().UTC()
	run.Status = models.RunStatusCompleted
	run.CompletedAt = &now
	run.TotalCount = 10
	run.NewCount = 2
	run.ErrorCount = 1
	run.ErrorDetails = []models.SyncError{{Domain: "hue", Message: "boom"}}
	require.NoError(t, store.FinishSyncRun(ctx, run))

	got, err = store.GetSyncRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, 10, got.TotalCount)
	assert.Equal(t, 2, got.NewCount)
	require.Len(t, got.ErrorDetails, 1)
	assert.Equal(t, "hue", got.ErrorDetails[0].Domain)

	// A terminal run never transitions again
	run.Status = models.RunStatusFailed
	err = store.FinishSyncRun(ctx, run)
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeConflict))

	got, err = store.GetSyncRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
}

func TestGetLatestSyncRun(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	completedAt := base.Add(time.Minute)

	first := &models.SyncRun{ID: "run-1", SyncType: models.SyncTypeFull, Status: models.RunStatusRunning, StartedAt: base}
	require.NoError(t, store.CreateSyncRun(ctx, first))
	first.Status = models.RunStatusCompleted
	first.CompletedAt = &completedAt
	require.NoError(t, store.FinishSyncRun(ctx, first))

	second := &models.SyncRun{ID: "run-2", SyncType: models.SyncTypeIncremental, Status: models.RunStatusRunning, StartedAt: base.Add(30 * time.Minute)}
	require.NoError(t, store.CreateSyncRun(ctx, second))

	latest, err := store.GetLatestSyncRun(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "run-2", latest.ID)

	completed := models.RunStatusCompleted
	latest, err = store.GetLatestSyncRun(ctx, &completed)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "run-1", latest.ID)

	runs, err := store.ListSyncRuns(ctx, models.SyncRunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
}

func TestSyncChanges(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	run := &models.SyncRun{ID: "run-1", SyncType: models.SyncTypeFull, Status: models.RunStatusRunning, StartedAt: time.Now().UTC()}
	require.NoError(t, store.CreateSyncRun(ctx, run))

	changes := []*models.SyncChange{
		{SyncID: "run-1", Domain: "light_x", ChangeType: models.ChangeTypeNew, NewVersionHash: strPtr("h1")},
		{SyncID: "run-1", Domain: "switch_y", ChangeType: models.ChangeTypeUpdated, PreviousVersionHash: strPtr("h0"), NewVersionHash: strPtr("h2"), ChangedFields: []string{"description"}},
		{SyncID: "run-1", Domain: "legacy", ChangeType: models.ChangeTypeDeprecated, PreviousVersionHash: strPtr("h3")},
	}
	for _, change := range changes {
		require.NoError(t, store.SaveSyncChange(ctx, change))
		assert.NotZero(t, change.ID)
	}

	got, err := store.GetSyncChanges(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, models.ChangeTypeNew, got[0].ChangeType)
	assert.Equal(t, "light_x", got[0].Domain)
	assert.Nil(t, got[0].PreviousVersionHash)

	assert.Equal(t, models.ChangeTypeUpdated, got[1].ChangeType)
	assert.Equal(t, []string{"description"}, got[1].ChangedFields)

	assert.Equal(t, models.ChangeTypeDeprecated, got[2].ChangeType)
	assert.Nil(t, got[2].NewVersionHash)

	// Changes belong to their run only
	got, err = store.GetSyncChanges(ctx, "other-run")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStorageStats(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertEntry(ctx, testCatalogEntry("hue")))
	deprecated := testCatalogEntry("legacy")
	deprecated.SyncStatus = models.SyncStatusDeprecated
	require.NoError(t, store.UpsertEntry(ctx, deprecated))

	stats, err := store.GetStorageStats()
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.TotalEntries)
	assert.Equal(t, int64(1), stats.EntriesByStatus[models.SyncStatusSynced])
	assert.Equal(t, int64(1), stats.EntriesByStatus[models.SyncStatusDeprecated])
	assert.Nil(t, stats.LastCompletedRunAt)
}

func TestFactoryValidation(t *testing.T) {
	_, err := NewStorage(&StorageConfig{Type: "oracle", ConnectionString: "x"}, nil)
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeConfiguration))

	_, err = NewStorage(&StorageConfig{Type: "sqlite"}, nil)
	require.Error(t, err)

	store, err := NewStorage(&StorageConfig{Type: "sqlite", ConnectionString: ":memory:"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStorage{}, store)

	store, err = NewStorage(&StorageConfig{Type: "postgresql", ConnectionString: "postgres://localhost/db"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &PostgreSQLStorage{}, store)
}

func TestDatabaseMetricsRecorded(t *testing.T) {
	manager := metrics.NewManager()

	cfg := &StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "metrics_test.db"),
		MaxConnections:   4,
		MaxIdleTime:      time.Minute,
	}
	store := NewSQLiteStorage(cfg, manager)
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.UpsertEntry(ctx, testCatalogEntry("hue")))
	_, err := store.GetEntry(ctx, "hue")
	require.NoError(t, err)

	run := &models.SyncRun{ID: "metrics-run", SyncType: models.SyncTypeIncremental, Status: models.RunStatusRunning, StartedAt: time.Now().UTC()}
	require.NoError(t, store.CreateSyncRun(ctx, run))

	pm := manager.GetPrometheusMetrics()
	assert.Equal(t, float64(1),
		testutil.ToFloat64(pm.DatabaseOperationsTotal.WithLabelValues("upsert", "catalog_entries", "success")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(pm.DatabaseOperationsTotal.WithLabelValues("select", "catalog_entries", "success")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(pm.DatabaseOperationsTotal.WithLabelValues("insert", "sync_runs", "success")))
}
