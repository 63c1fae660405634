// Package webclient probes the web service's liveness and readiness endpoints
// and exposes the admin-token endpoints the observability layer consumes.
//
// The bot must not fall over when the web is down: every check is bounded by
// a short timeout and a TTL cache keeps chat commands from hammering the web.
package webclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/avoronov/sdbridge/common/trace"
)

// CheckResult is the outcome of probing a single endpoint.
type CheckResult struct {
	OK         bool
	Status     int // 0 when the request never completed
	Err        string
	DurationMS int64
	RequestID  string
}

// RollbackStats mirrors the web's GET /config/rollbacks response.
type RollbackStats struct {
	Count          int    `json:"count"`
	LastRollbackAt string `json:"last_rollback_at,omitempty"`
	WindowS        int    `json:"window_s"`
}

// Client probes /health and /ready with a TTL cache.
type Client struct {
	baseURL  string
	http     *http.Client
	cacheTTL time.Duration

	mu          sync.Mutex
	cachedAt    time.Time
	cacheHealth CheckResult
	cacheReady  CheckResult
}

// New creates a probe client. timeout <= 0 defaults to 1.5s, cacheTTL <= 0 to 3s.
func New(baseURL string, timeout, cacheTTL time.Duration) *Client {
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	if cacheTTL <= 0 {
		cacheTTL = 3 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: timeout},
		cacheTTL: cacheTTL,
	}
}

// BaseURL returns the configured web base URL (for /status rendering).
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) get(ctx context.Context, path, requestID string) CheckResult {
	t0 := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return CheckResult{Err: err.Error(), RequestID: requestID}
	}
	req.Header.Set(trace.Header, requestID)

	resp, err := c.http.Do(req)
	dur := time.Since(t0).Milliseconds()
	if err != nil {
		return CheckResult{Err: err.Error(), DurationMS: dur, RequestID: requestID}
	}
	resp.Body.Close()

	return CheckResult{
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status:     resp.StatusCode,
		DurationMS: dur,
		RequestID:  requestID,
	}
}

// CheckHealthReady probes /health and /ready, serving from cache unless force
// is set or the cache expired.
func (c *Client) CheckHealthReady(ctx context.Context, force bool) (health, ready CheckResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && !c.cachedAt.IsZero() && time.Since(c.cachedAt) <= c.cacheTTL {
		return c.cacheHealth, c.cacheReady
	}

	requestID := trace.NewRequestID()
	health = c.get(ctx, "/health", requestID)
	ready = c.get(ctx, "/ready", requestID)

	c.cachedAt = time.Now()
	c.cacheHealth = health
	c.cacheReady = ready
	return health, ready
}

// GetRollbacks fetches rollback statistics for the given window. Requires the
// admin token; the caller skips the probe entirely when no token is set.
func (c *Client) GetRollbacks(ctx context.Context, windowS int, adminToken string) (RollbackStats, error) {
	u := fmt.Sprintf("%s/config/rollbacks?window_s=%d", c.baseURL, windowS)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return RollbackStats{}, fmt.Errorf("webclient: build rollbacks request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+adminToken)
	req.Header.Set(trace.Header, trace.NewRequestID())

	resp, err := c.http.Do(req)
	if err != nil {
		return RollbackStats{}, fmt.Errorf("webclient: rollbacks request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return RollbackStats{}, fmt.Errorf("webclient: rollbacks status %d", resp.StatusCode)
	}
	var stats RollbackStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return RollbackStats{}, fmt.Errorf("webclient: decode rollbacks: %w", err)
	}
	return stats, nil
}
