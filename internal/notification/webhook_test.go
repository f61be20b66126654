package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homehub-io/catalog-sync/internal/config"
	"github.com/homehub-io/catalog-sync/internal/models"
)

func testNotifierConfig(url string) *config.NotificationConfig {
	return &config.NotificationConfig{
		Enabled:       true,
		WebhookURL:    url,
		Timeout:       5 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}
}

func testRun() *models.SyncRun {
	return &models.SyncRun{
		ID:       "run-1",
		SyncType: models.SyncTypeIncremental,
		Status:   models.RunStatusCompleted,
		NewCount: 2,
	}
}

func TestNotifyDeliversPayload(t *testing.T) {
	var received WebhookPayload
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(testNotifierConfig(server.URL), nil)
	notifier.NotifySyncCompleted(context.Background(), testRun())

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, "sync_completed", received.Type)
	assert.Equal(t, "catalog-sync", received.Source)
	require.NotNil(t, received.Run)
	assert.Equal(t, "run-1", received.Run.ID)
	assert.Equal(t, 2, received.Run.NewCount)
}

func TestNotifyRetriesOnFailure(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(testNotifierConfig(server.URL), nil)
	notifier.NotifySyncCompleted(context.Background(), testRun())

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestNotifySwallowsExhaustedRetries(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(testNotifierConfig(server.URL), nil)

	// Must not panic or propagate anything
	notifier.NotifySyncCompleted(context.Background(), testRun())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestNotifyDisabled(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	cfg := testNotifierConfig(server.URL)
	cfg.Enabled = false

	notifier := NewWebhookNotifier(cfg, nil)
	notifier.NotifySyncCompleted(context.Background(), testRun())

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}
