package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/homehub-io/catalog-sync/internal/config"
	"github.com/homehub-io/catalog-sync/internal/metrics"
	"github.com/homehub-io/catalog-sync/pkg/utils"
)

// Client wraps upstream HTTP access with retry, backoff and rate-limit
// aware pacing. All reads go through Get.
type Client struct {
	config  *config.SourceConfig
	http    *http.Client
	logger  *logrus.Logger
	metrics *metrics.Manager

	mu          sync.Mutex
	lastRequest time.Time
	stats       ClientStats

	// now and sleep are indirected for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// ClientStats holds upstream request statistics
type ClientStats struct {
	TotalRequests  uint64    `json:"total_requests"`
	FailedRequests uint64    `json:"failed_requests"`
	RateLimitWaits uint64    `json:"rate_limit_waits"`
	LastRequestAt  time.Time `json:"last_request_at"`
}

// NewClient creates a new upstream client
func NewClient(cfg *config.SourceConfig, metricsManager *metrics.Manager) *Client {
	return &Client{
		config:  cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		logger:  utils.GetLogger(),
		metrics: metricsManager,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Authenticated reports whether a source credential is configured
func (c *Client) Authenticated() bool {
	return c.config.Token != ""
}

// Stats returns upstream request statistics
func (c *Client) Stats() ClientStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Get fetches a URL and returns the response body. A 404 yields a NOT_FOUND
// AppError so callers can distinguish absence from failure. Rate-limit
// responses wait for the upstream-reported reset plus a safety margin and
// do not consume the retry budget; any other non-success response is
// retried up to the configured attempt budget with a doubling delay.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	if err := c.pace(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	delay := c.config.RetryDelay

	for attempt := 0; attempt < c.config.RetryAttempts; {
		body, retryable, err := c.doOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		if !retryable {
			return nil, err
		}
		if rle, ok := err.(*rateLimitError); ok {
			// Rate-limit waits are unbounded by the retry budget;
			// the call context's deadline is the backstop.
			if waitErr := c.waitForReset(ctx, rle); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		lastErr = err
		attempt++
		if attempt < c.config.RetryAttempts {
			if c.metrics != nil {
				c.metrics.GetPrometheusMetrics().RecordSourceRetry()
			}
			c.logger.WithFields(logrus.Fields{
				"url":     url,
				"attempt": attempt,
				"delay":   delay,
			}).Warn("Upstream request failed, retrying")
			if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
				return nil, sleepErr
			}
			delay *= 2
		}
	}

	c.mu.Lock()
	c.stats.FailedRequests++
	c.mu.Unlock()

	details := ""
	if lastErr != nil {
		details = lastErr.Error()
	}
	return nil, utils.NewAppError(utils.ErrCodeSource, "Upstream request failed after retries", details)
}

// doOnce performs a single request. The second return value reports
// whether the failure may be retried.
func (c *Client) doOnce(ctx context.Context, url string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, utils.NewAppError(utils.ErrCodeSource, "Failed to build request", err.Error())
	}
	req.Header.Set("Accept", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	c.mu.Lock()
	c.stats.TotalRequests++
	c.stats.LastRequestAt = c.now()
	c.mu.Unlock()

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe("error", c.now().Sub(start))
		return nil, true, utils.NewAppError(utils.ErrCodeConnection, "Upstream request failed", err.Error())
	}
	defer resp.Body.Close()
	duration := c.now().Sub(start)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			c.observe("error", duration)
			return nil, true, utils.NewAppError(utils.ErrCodeSource, "Failed to read response body", err.Error())
		}
		c.observe("success", duration)
		return body, false, nil

	case resp.StatusCode == http.StatusNotFound:
		c.observe("not_found", duration)
		return nil, false, utils.NewAppError(utils.ErrCodeNotFound, "Upstream resource not found", url)

	case isRateLimited(resp):
		c.observe("rate_limited", duration)
		reset := parseReset(resp, c.now())
		return nil, true, &rateLimitError{
			AppError: utils.NewAppError(utils.ErrCodeRateLimited, "Upstream rate limit hit", url),
			resetAt:  reset,
		}

	default:
		c.observe("error", duration)
		return nil, true, utils.NewAppError(utils.ErrCodeSource,
			"Unexpected upstream status", fmt.Sprintf("%s: %d", url, resp.StatusCode))
	}
}

func (c *Client) observe(status string, duration time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.GetPrometheusMetrics().RecordSourceRequest(status, duration)
}

// pace enforces the inter-request delay. The delay widens automatically
// when no source credential is configured to respect the stricter
// anonymous rate limit.
func (c *Client) pace(ctx context.Context) error {
	delay := c.config.RequestDelay
	if !c.Authenticated() {
		delay = c.config.AnonymousDelay
	}
	if delay <= 0 {
		return nil
	}

	c.mu.Lock()
	wait := delay - c.now().Sub(c.lastRequest)
	c.mu.Unlock()

	if wait > 0 {
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}

	// Record dispatch time after the wait, not call entry, so consecutive
	// calls keep the full inter-request gap.
	c.mu.Lock()
	c.lastRequest = c.now()
	c.mu.Unlock()
	return nil
}

// waitForReset sleeps until the upstream-reported reset time plus the
// configured safety margin.
func (c *Client) waitForReset(ctx context.Context, rle *rateLimitError) error {
	c.mu.Lock()
	c.stats.RateLimitWaits++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.GetPrometheusMetrics().RecordSourceRateLimitWait()
	}

	wait := c.config.RateLimitMargin
	if !rle.resetAt.IsZero() {
		if until := rle.resetAt.Sub(c.now()); until > 0 {
			wait = until + c.config.RateLimitMargin
		}
	}

	c.logger.WithField("wait", wait).Warn("Upstream rate limit hit, waiting for reset")
	return c.sleep(ctx, wait)
}

// rateLimitError carries the upstream-reported reset time
type rateLimitError struct {
	*utils.AppError
	resetAt time.Time
}

func isRateLimited(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0"
}

func parseReset(resp *http.Response, now time.Time) time.Time {
	if v := resp.Header.Get("X-RateLimit-Reset"); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(unix, 0)
		}
	}
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return now.Add(time.Duration(secs) * time.Second)
		}
	}
	return time.Time{}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
