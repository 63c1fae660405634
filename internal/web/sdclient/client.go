// Package sdclient is the web service's ServiceDesk (IntraService) API
// client. The web service is the only SD-facing party; the bot consumes the
// /sd/open proxy instead.
package sdclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avoronov/sdbridge/common/retry"
	"github.com/avoronov/sdbridge/internal/bot/ticket"
)

// OpenStatusID is the SD status treated as "awaiting work".
const OpenStatusID = 31

// DefaultTimeout bounds one SD API round trip.
const DefaultTimeout = 5 * time.Second

// Client talks to the ServiceDesk REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a Client. timeout <= 0 falls back to DefaultTimeout.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Configured reports whether base URL and token are both present. Readiness
// checks consult this.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.token != ""
}

// taskListResponse covers the two shapes SD is known to return: a wrapped
// {"Tasks": [...]} object or a bare array.
type taskListResponse struct {
	Tasks []ticket.Ticket `json:"Tasks"`
}

// GetOpen fetches up to limit tickets in the open status. Transient failures
// (network errors, 5xx) are retried with short backoff inside the call.
func (c *Client) GetOpen(ctx context.Context, limit int) ([]ticket.Ticket, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("sdclient: SERVICEDESK_BASE_URL / SERVICEDESK_API_TOKEN not configured")
	}
	var items []ticket.Ticket
	err := retry.Do(ctx, retry.Config{MaxAttempts: 2, InitialDelay: 300 * time.Millisecond}, func() error {
		var err error
		items, err = c.getOpenOnce(ctx, limit)
		return err
	})
	return items, err
}

func (c *Client) getOpenOnce(ctx context.Context, limit int) ([]ticket.Ticket, error) {
	if limit <= 0 {
		limit = 200
	}

	q := url.Values{}
	q.Set("statusids", strconv.Itoa(OpenStatusID))
	q.Set("pagesize", strconv.Itoa(limit))
	u := c.baseURL + "/api/task?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("sdclient: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sdclient: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sdclient: unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("sdclient: read response: %w", err)
	}

	var wrapped taskListResponse
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Tasks != nil {
		return wrapped.Tasks, nil
	}
	var bare []ticket.Ticket
	if err := json.Unmarshal(raw, &bare); err != nil {
		return nil, fmt.Errorf("sdclient: decode response: %w", err)
	}
	return bare, nil
}
