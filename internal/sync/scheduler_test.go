package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homehub-io/catalog-sync/internal/models"
)

func TestSchedulerTriggersRuns(t *testing.T) {
	fetcher := &fakeFetcher{
		domains: []string{"hue"},
		manifests: map[string]*models.Manifest{
			"hue": {Domain: "hue", Name: "Philips Hue"},
		},
	}
	engine, store := newTestEngine(t, fetcher)

	scheduler := NewScheduler(engine, 20*time.Millisecond, models.SyncTypeIncremental)
	scheduler.Start()

	require.Eventually(t, func() bool {
		runs, err := store.ListSyncRuns(context.Background(), models.SyncRunFilter{})
		return err == nil && len(runs) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	scheduler.Stop()
	engine.Wait()

	runs, err := store.ListSyncRuns(context.Background(), models.SyncRunFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	assert.Equal(t, models.SyncTypeIncremental, runs[0].SyncType)
}

func TestSchedulerDisabledWithoutInterval(t *testing.T) {
	engine, store := newTestEngine(t, &fakeFetcher{})

	scheduler := NewScheduler(engine, 0, models.SyncTypeIncremental)
	scheduler.Start()
	time.Sleep(50 * time.Millisecond)
	scheduler.Stop()

	runs, err := store.ListSyncRuns(context.Background(), models.SyncRunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestSchedulerSkipsWhileRunning(t *testing.T) {
	fetcher := &fakeFetcher{
		domains: []string{"hue"},
		manifests: map[string]*models.Manifest{
			"hue": {Domain: "hue", Name: "Philips Hue"},
		},
		block: make(chan struct{}),
	}
	engine, store := newTestEngine(t, fetcher)

	// Occupy the guard before the scheduler gets a chance
	_, err := engine.TriggerSync(context.Background(), models.SyncTypeIncremental, false)
	require.NoError(t, err)

	scheduler := NewScheduler(engine, 10*time.Millisecond, models.SyncTypeIncremental)
	scheduler.Start()
	time.Sleep(100 * time.Millisecond)
	scheduler.Stop()

	close(fetcher.block)
	engine.Wait()

	runs, err := store.ListSyncRuns(context.Background(), models.SyncRunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
