// Package sdweb fetches the ServiceDesk open queue through the web service.
// The web service is the single SD-facing party; the bot never talks to
// ServiceDesk directly.
package sdweb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avoronov/sdbridge/common/trace"
	"github.com/avoronov/sdbridge/internal/bot/ticket"
)

// DefaultTimeout bounds the total request time for one open-queue fetch.
const DefaultTimeout = 3 * time.Second

// OpenResult is the outcome of one open-queue fetch. GetOpen never fails with
// a Go error: every failure mode is encoded here so the poller can count and
// back off without unwinding.
type OpenResult struct {
	OK            bool
	Items         []ticket.Ticket
	CountReturned int
	Err           string
	RequestID     string
}

// Client calls the web service's /sd/open endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for the web service at baseURL. timeout <= 0 falls
// back to DefaultTimeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// openResponse is the wire shape of GET /sd/open.
type openResponse struct {
	OK            bool            `json:"ok"`
	Items         []ticket.Ticket `json:"items"`
	CountReturned int             `json:"count_returned"`
	Error         string          `json:"error,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
}

// GetOpen fetches up to limit open tickets.
func (c *Client) GetOpen(ctx context.Context, limit int) OpenResult {
	requestID := trace.FromContext(ctx)
	if requestID == "" {
		requestID = trace.NewRequestID()
	}

	u := fmt.Sprintf("%s/sd/open?limit=%s", c.baseURL, url.QueryEscape(strconv.Itoa(limit)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return OpenResult{Err: fmt.Sprintf("build request: %v", err), RequestID: requestID}
	}
	req.Header.Set(trace.Header, requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		return OpenResult{Err: fmt.Sprintf("request failed: %v", err), RequestID: requestID}
	}
	defer resp.Body.Close()

	if id := resp.Header.Get(trace.Header); id != "" {
		requestID = id
	}
	if resp.StatusCode != http.StatusOK {
		return OpenResult{Err: fmt.Sprintf("unexpected status %d", resp.StatusCode), RequestID: requestID}
	}

	var body openResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return OpenResult{Err: fmt.Sprintf("decode response: %v", err), RequestID: requestID}
	}
	if !body.OK {
		errText := body.Error
		if errText == "" {
			errText = "sd_open_error"
		}
		return OpenResult{Err: errText, RequestID: requestID}
	}

	return OpenResult{
		OK:            true,
		Items:         body.Items,
		CountReturned: body.CountReturned,
		RequestID:     requestID,
	}
}
