package sync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homehub-io/catalog-sync/internal/config"
	"github.com/homehub-io/catalog-sync/internal/models"
	"github.com/homehub-io/catalog-sync/internal/source"
	"github.com/homehub-io/catalog-sync/internal/storage"
	"github.com/homehub-io/catalog-sync/pkg/utils"
)

// fakeFetcher is an in-memory upstream snapshot
type fakeFetcher struct {
	domains     []string
	manifests   map[string]*models.Manifest
	errs        map[string]error
	brands      map[string]struct{}
	listErr     error
	block       chan struct{}
	brandsPanic string
}

func (f *fakeFetcher) ListDomains(ctx context.Context) ([]string, error) {
	if f.block != nil {
		<-f.block
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.domains, nil
}

func (f *fakeFetcher) FetchManifest(ctx context.Context, domain string) (*models.Manifest, error) {
	if err, ok := f.errs[domain]; ok {
		return nil, err
	}
	return f.manifests[domain], nil
}

func (f *fakeFetcher) FetchBrandDomains(ctx context.Context) (map[string]struct{}, error) {
	if f.brandsPanic != "" {
		panic(f.brandsPanic)
	}
	if f.brands == nil {
		return map[string]struct{}{}, nil
	}
	return f.brands, nil
}

func (f *fakeFetcher) BrandImageURL(domain string) string {
	return fmt.Sprintf("https://brands.example.com/%s/icon.png", domain)
}

func (f *fakeFetcher) Stats() source.ClientStats {
	return source.ClientStats{}
}

func newTestStore(t *testing.T) storage.Storage {
	t.Helper()

	store := storage.NewSQLiteStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "engine_test.db"),
		MaxConnections:   4,
		MaxIdleTime:      time.Minute,
	}, nil)
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })

	return store
}

func newTestEngine(t *testing.T, fetcher *fakeFetcher) (*Engine, storage.Storage) {
	t.Helper()

	store := newTestStore(t)
	cfg := &config.SyncConfig{
		DefaultType:         "incremental",
		FallbackIcon:        "mdi:puzzle",
		FallbackDescription: "No description available",
	}

	return NewEngine(cfg, fetcher, store, nil), store
}

// runSync triggers a run and waits for its terminal state
func runSync(t *testing.T, engine *Engine, store storage.Storage, syncType models.SyncType) *models.SyncRun {
	t.Helper()

	run, err := engine.TriggerSync(context.Background(), syncType, false)
	require.NoError(t, err)
	engine.Wait()

	final, err := store.GetSyncRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, final)
	return final
}

func TestSyncNewAndUpdated(t *testing.T) {
	fetcher := &fakeFetcher{
		domains: []string{"switch_y"},
		manifests: map[string]*models.Manifest{
			"switch_y": {Domain: "switch_y", Name: "Switch Y", Description: "old"},
		},
	}
	engine, store := newTestEngine(t, fetcher)
	ctx := context.Background()

	first := runSync(t, engine, store, models.SyncTypeIncremental)
	assert.Equal(t, models.RunStatusCompleted, first.Status)
	assert.Equal(t, 1, first.NewCount)

	// Upstream gains light_x and changes switch_y's description
	fetcher.domains = []string{"light_x", "switch_y"}
	fetcher.manifests["light_x"] = &models.Manifest{Domain: "light_x", Name: "Light X"}
	fetcher.manifests["switch_y"] = &models.Manifest{Domain: "switch_y", Name: "Switch Y", Description: "new"}

	second := runSync(t, engine, store, models.SyncTypeIncremental)
	assert.Equal(t, models.RunStatusCompleted, second.Status)
	assert.Equal(t, 2, second.TotalCount)
	assert.Equal(t, 1, second.NewCount)
	assert.Equal(t, 1, second.UpdatedCount)
	assert.Equal(t, 0, second.DeletedCount)
	assert.Equal(t, 0, second.ErrorCount)

	changes, err := store.GetSyncChanges(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, changes, 2)

	byDomain := map[string]*models.SyncChange{}
	for _, change := range changes {
		byDomain[change.Domain] = change
	}

	require.Contains(t, byDomain, "light_x")
	assert.Equal(t, models.ChangeTypeNew, byDomain["light_x"].ChangeType)
	assert.NotNil(t, byDomain["light_x"].NewVersionHash)

	require.Contains(t, byDomain, "switch_y")
	assert.Equal(t, models.ChangeTypeUpdated, byDomain["switch_y"].ChangeType)
	assert.Equal(t, []string{"description"}, byDomain["switch_y"].ChangedFields)
	assert.NotNil(t, byDomain["switch_y"].PreviousVersionHash)

	entry, err := store.GetEntry(ctx, "switch_y")
	require.NoError(t, err)
	assert.Equal(t, "new", *entry.Description)
}

func TestNoOpSync(t *testing.T) {
	fetcher := &fakeFetcher{
		domains: []string{"hue"},
		manifests: map[string]*models.Manifest{
			"hue": {Domain: "hue", Name: "Philips Hue", IoTClass: "local_push"},
		},
	}
	engine, store := newTestEngine(t, fetcher)
	ctx := context.Background()

	runSync(t, engine, store, models.SyncTypeIncremental)

	before, err := store.GetEntry(ctx, "hue")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	second := runSync(t, engine, store, models.SyncTypeIncremental)
	assert.Equal(t, 0, second.NewCount)
	assert.Equal(t, 0, second.UpdatedCount)
	assert.Equal(t, 0, second.DeletedCount)

	changes, err := store.GetSyncChanges(ctx, second.ID)
	require.NoError(t, err)
	assert.Empty(t, changes)

	after, err := store.GetEntry(ctx, "hue")
	require.NoError(t, err)
	assert.Equal(t, *before.VersionHash, *after.VersionHash)
	assert.True(t, after.LastSyncedAt.After(*before.LastSyncedAt))
}

func TestDisappearanceDeprecates(t *testing.T) {
	fetcher := &fakeFetcher{
		domains: []string{"hue", "legacy_switch"},
		manifests: map[string]*models.Manifest{
			"hue":           {Domain: "hue", Name: "Philips Hue"},
			"legacy_switch": {Domain: "legacy_switch", Name: "Legacy Switch"},
		},
	}
	engine, store := newTestEngine(t, fetcher)
	ctx := context.Background()

	runSync(t, engine, store, models.SyncTypeIncremental)

	fetcher.domains = []string{"hue"}
	second := runSync(t, engine, store, models.SyncTypeIncremental)
	assert.Equal(t, models.RunStatusCompleted, second.Status)
	assert.Equal(t, 1, second.DeletedCount)

	entry, err := store.GetEntry(ctx, "legacy_switch")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusDeprecated, entry.SyncStatus)

	changes, err := store.GetSyncChanges(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, models.ChangeTypeDeprecated, changes[0].ChangeType)
	assert.Equal(t, "legacy_switch", changes[0].Domain)
	assert.NotNil(t, changes[0].PreviousVersionHash)
	assert.Nil(t, changes[0].NewVersionHash)
}

func TestResurrectionIsNew(t *testing.T) {
	fetcher := &fakeFetcher{
		domains: []string{"hue", "phoenix"},
		manifests: map[string]*models.Manifest{
			"hue":     {Domain: "hue", Name: "Philips Hue"},
			"phoenix": {Domain: "phoenix", Name: "Phoenix"},
		},
	}
	engine, store := newTestEngine(t, fetcher)
	ctx := context.Background()

	runSync(t, engine, store, models.SyncTypeIncremental)

	fetcher.domains = []string{"hue"}
	runSync(t, engine, store, models.SyncTypeIncremental)

	fetcher.domains = []string{"hue", "phoenix"}
	third := runSync(t, engine, store, models.SyncTypeIncremental)
	assert.Equal(t, 1, third.NewCount)
	assert.Equal(t, 0, third.UpdatedCount)

	changes, err := store.GetSyncChanges(ctx, third.ID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, models.ChangeTypeNew, changes[0].ChangeType)
	assert.Equal(t, "phoenix", changes[0].Domain)

	entry, err := store.GetEntry(ctx, "phoenix")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSynced, entry.SyncStatus)
}

func TestFullSyncStrategy(t *testing.T) {
	fetcher := &fakeFetcher{
		domains: []string{"hue", "legacy_switch"},
		manifests: map[string]*models.Manifest{
			"hue":           {Domain: "hue", Name: "Philips Hue"},
			"legacy_switch": {Domain: "legacy_switch", Name: "Legacy Switch"},
		},
	}
	engine, store := newTestEngine(t, fetcher)

	first := runSync(t, engine, store, models.SyncTypeFull)
	assert.Equal(t, models.RunStatusCompleted, first.Status)
	assert.Equal(t, 2, first.NewCount)

	fetcher.domains = []string{"hue"}
	fetcher.manifests["hue"] = &models.Manifest{Domain: "hue", Name: "Philips Hue Bridge"}

	second := runSync(t, engine, store, models.SyncTypeFull)
	assert.Equal(t, 1, second.UpdatedCount)
	assert.Equal(t, 1, second.DeletedCount)
	assert.Equal(t, 0, second.NewCount)
}

func TestPartialFailure(t *testing.T) {
	fetcher := &fakeFetcher{
		domains: []string{"a", "b", "c"},
		manifests: map[string]*models.Manifest{
			"a": {Domain: "a", Name: "A"},
			"c": {Domain: "c", Name: "C"},
		},
		errs: map[string]error{
			"b": errors.New("upstream exploded"),
		},
	}
	engine, store := newTestEngine(t, fetcher)
	ctx := context.Background()

	run := runSync(t, engine, store, models.SyncTypeIncremental)

	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.TotalCount)
	assert.Equal(t, 2, run.NewCount)
	assert.Equal(t, 1, run.ErrorCount)
	require.Len(t, run.ErrorDetails, 1)
	assert.Equal(t, "b", run.ErrorDetails[0].Domain)
	assert.Contains(t, run.ErrorDetails[0].Message, "upstream exploded")

	for _, domain := range []string{"a", "c"} {
		entry, err := store.GetEntry(ctx, domain)
		require.NoError(t, err)
		require.NotNil(t, entry, domain)
	}

	missing, err := store.GetEntry(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFetchErrorDoesNotDeprecate(t *testing.T) {
	fetcher := &fakeFetcher{
		domains: []string{"hue"},
		manifests: map[string]*models.Manifest{
			"hue": {Domain: "hue", Name: "Philips Hue"},
		},
	}
	engine, store := newTestEngine(t, fetcher)
	ctx := context.Background()

	runSync(t, engine, store, models.SyncTypeIncremental)

	// The domain is still enumerated, only its manifest fetch fails
	fetcher.errs = map[string]error{"hue": errors.New("transient")}
	second := runSync(t, engine, store, models.SyncTypeIncremental)

	assert.Equal(t, models.RunStatusCompleted, second.Status)
	assert.Equal(t, 1, second.ErrorCount)
	assert.Equal(t, 0, second.DeletedCount)

	entry, err := store.GetEntry(ctx, "hue")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSynced, entry.SyncStatus)
}

func TestListFailureFailsRun(t *testing.T) {
	fetcher := &fakeFetcher{listErr: errors.New("listing broke")}
	engine, store := newTestEngine(t, fetcher)

	run := runSync(t, engine, store, models.SyncTypeIncremental)

	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, 1, run.ErrorCount)
	require.Len(t, run.ErrorDetails, 1)
	assert.Empty(t, run.ErrorDetails[0].Domain)
	assert.Contains(t, run.ErrorDetails[0].Message, "listing broke")

	// The guard is released after a failed run
	assert.False(t, engine.Running())
}

func TestPanicDuringSyncFailsRun(t *testing.T) {
	fetcher := &fakeFetcher{
		domains:     []string{"hue"},
		brandsPanic: "boom",
	}
	engine, store := newTestEngine(t, fetcher)

	run := runSync(t, engine, store, models.SyncTypeIncremental)

	assert.Equal(t, models.RunStatusFailed, run.Status)
	require.NotEmpty(t, run.ErrorDetails)
	assert.Contains(t, run.ErrorDetails[len(run.ErrorDetails)-1].Message, "boom")

	// The guard is released so a later run can start
	assert.False(t, engine.Running())

	fetcher.brandsPanic = ""
	fetcher.manifests = map[string]*models.Manifest{
		"hue": {Domain: "hue", Name: "Philips Hue"},
	}
	next := runSync(t, engine, store, models.SyncTypeIncremental)
	assert.Equal(t, models.RunStatusCompleted, next.Status)
}

func TestMissingManifestFallsBack(t *testing.T) {
	fetcher := &fakeFetcher{
		domains:   []string{"bare_bones"},
		manifests: map[string]*models.Manifest{},
	}
	engine, store := newTestEngine(t, fetcher)
	ctx := context.Background()

	run := runSync(t, engine, store, models.SyncTypeIncremental)
	assert.Equal(t, 1, run.NewCount)
	assert.Equal(t, 0, run.ErrorCount)

	entry, err := store.GetEntry(ctx, "bare_bones")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "Bare Bones", entry.Name)
	assert.Equal(t, "No description available", *entry.Description)
	assert.Equal(t, "manual", entry.FlowType)
}

func TestBrandImageAttached(t *testing.T) {
	fetcher := &fakeFetcher{
		domains: []string{"hue", "obscure"},
		manifests: map[string]*models.Manifest{
			"hue":     {Domain: "hue", Name: "Philips Hue"},
			"obscure": {Domain: "obscure", Name: "Obscure"},
		},
		brands: map[string]struct{}{"hue": {}},
	}
	engine, store := newTestEngine(t, fetcher)
	ctx := context.Background()

	runSync(t, engine, store, models.SyncTypeIncremental)

	branded, err := store.GetEntry(ctx, "hue")
	require.NoError(t, err)
	require.NotNil(t, branded.BrandImageURL)
	assert.Equal(t, "https://brands.example.com/hue/icon.png", *branded.BrandImageURL)

	plain, err := store.GetEntry(ctx, "obscure")
	require.NoError(t, err)
	assert.Nil(t, plain.BrandImageURL)
}

func TestConcurrencyGuard(t *testing.T) {
	fetcher := &fakeFetcher{
		domains: []string{"hue"},
		manifests: map[string]*models.Manifest{
			"hue": {Domain: "hue", Name: "Philips Hue"},
		},
		block: make(chan struct{}),
	}
	engine, store := newTestEngine(t, fetcher)
	ctx := context.Background()

	first, err := engine.TriggerSync(ctx, models.SyncTypeIncremental, false)
	require.NoError(t, err)
	assert.True(t, engine.Running())

	// Second trigger conflicts and creates no run
	_, err = engine.TriggerSync(ctx, models.SyncTypeIncremental, false)
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeConflict))

	runs, err := store.ListSyncRuns(ctx, models.SyncRunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	// Forcing bypasses the guard
	forced, err := engine.TriggerSync(ctx, models.SyncTypeIncremental, true)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, forced.ID)

	runs, err = store.ListSyncRuns(ctx, models.SyncRunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	close(fetcher.block)
	engine.Wait()
	assert.False(t, engine.Running())
}

func TestGetSyncStatus(t *testing.T) {
	fetcher := &fakeFetcher{
		domains: []string{"hue"},
		manifests: map[string]*models.Manifest{
			"hue": {Domain: "hue", Name: "Philips Hue"},
		},
	}
	engine, store := newTestEngine(t, fetcher)
	ctx := context.Background()

	run := runSync(t, engine, store, models.SyncTypeManual)

	detail, err := engine.GetSyncStatus(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, detail.Run.ID)
	assert.Equal(t, models.SyncTypeManual, detail.Run.SyncType)
	require.Len(t, detail.Changes, 1)

	_, err = engine.GetSyncStatus(ctx, "no-such-run")
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeNotFound))

	summary, err := engine.GetStatusSummary(ctx)
	require.NoError(t, err)
	assert.False(t, summary.InProgress)
	require.NotNil(t, summary.LastCompletedRun)
	assert.Equal(t, run.ID, summary.LastCompletedRun.ID)
}

func TestImportCustomEntry(t *testing.T) {
	engine, store := newTestEngine(t, &fakeFetcher{})
	ctx := context.Background()

	err := engine.ImportCustomEntry(ctx, &models.CatalogEntry{})
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeValidation))

	entry := &models.CatalogEntry{Domain: "my_extension"}
	require.NoError(t, engine.ImportCustomEntry(ctx, entry))

	got, err := store.GetEntry(ctx, "my_extension")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "My Extension", got.Name)
	assert.Equal(t, "manual", got.FlowType)
	assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)
	assert.NotNil(t, got.VersionHash)
	assert.NotNil(t, got.LastSyncedAt)
}
