// File: internal/notification/webhook.go
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/homehub-io/catalog-sync/internal/config"
	"github.com/homehub-io/catalog-sync/internal/metrics"
	"github.com/homehub-io/catalog-sync/internal/models"
	"github.com/homehub-io/catalog-sync/pkg/utils"
)

// WebhookPayload defines the payload delivered after each sync run
type WebhookPayload struct {
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Run       *models.SyncRun `json:"run"`
}

// WebhookNotifier delivers sync run summaries to a configured endpoint
type WebhookNotifier struct {
	config     *config.NotificationConfig
	logger     *logrus.Logger
	metrics    *metrics.Manager
	httpClient *http.Client
}

// NewWebhookNotifier creates a new webhook notifier
func NewWebhookNotifier(cfg *config.NotificationConfig, metricsManager *metrics.Manager) *WebhookNotifier {
	return &WebhookNotifier{
		config:  cfg,
		logger:  utils.GetLogger(),
		metrics: metricsManager,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// NotifySyncCompleted sends the run summary to the webhook endpoint. Delivery
// failures are logged and counted, never surfaced to the engine.
func (w *WebhookNotifier) NotifySyncCompleted(ctx context.Context, run *models.SyncRun) {
	if !w.config.Enabled || w.config.WebhookURL == "" {
		return
	}

	payload := &WebhookPayload{
		Type:      "sync_completed",
		Source:    "catalog-sync",
		Timestamp: time.Now().UTC(),
		Run:       run,
	}

	if err := w.sendWithRetry(ctx, payload); err != nil {
		w.logger.WithError(err).WithField("sync_id", run.ID).Error("Webhook delivery failed")
		if w.metrics != nil {
			w.metrics.GetPrometheusMetrics().RecordNotificationFailure(payload.Type)
		}
		return
	}

	w.logger.WithField("sync_id", run.ID).Debug("Webhook delivered")
	if w.metrics != nil {
		w.metrics.GetPrometheusMetrics().RecordNotificationSent(payload.Type)
	}
}

// sendWithRetry posts the payload with a doubling delay between attempts
func (w *WebhookNotifier) sendWithRetry(ctx context.Context, payload *WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	var lastErr error
	delay := w.config.RetryDelay

	for attempt := 1; attempt <= w.config.RetryAttempts; attempt++ {
		lastErr = w.send(ctx, body)
		if lastErr == nil {
			return nil
		}

		if attempt < w.config.RetryAttempts {
			w.logger.WithError(lastErr).WithField("attempt", attempt).Warn("Webhook attempt failed, retrying")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}

	return lastErr
}

func (w *WebhookNotifier) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "catalog-sync-webhook/1.0")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}

	return nil
}
