package web_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/avoronov/sdbridge/internal/bot/ticket"
	"github.com/avoronov/sdbridge/internal/web"
	"github.com/avoronov/sdbridge/internal/web/configstore"
)

// fakeStore keeps versioned config bodies in memory, mimicking the Postgres
// store's contract closely enough for handler tests.
type fakeStore struct {
	version int64
	body    json.RawMessage
	history []configstore.HistoryEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		version: 1,
		body:    json.RawMessage(`{"routing":{"rules":[],"default_dest":{}},"escalation":{"enabled":false}}`),
	}
}

func (f *fakeStore) Read(context.Context) (json.RawMessage, int64, error) {
	return f.body, f.version, nil
}

func (f *fakeStore) Write(_ context.Context, body json.RawMessage, actor string) (int64, error) {
	if verr := configstore.Validate(body); verr != nil {
		return 0, verr
	}
	f.history = append(f.history, configstore.HistoryEntry{
		Version:     f.version,
		At:          time.Now(),
		Actor:       actor,
		PriorConfig: f.body,
	})
	f.version++
	f.body = body
	return f.version, nil
}

func (f *fakeStore) Rollback(ctx context.Context, toVersion int64, actor string) (int64, error) {
	if toVersion == f.version {
		return f.Write(ctx, f.body, actor)
	}
	for _, e := range f.history {
		if e.Version == toVersion {
			return f.Write(ctx, e.PriorConfig, actor)
		}
	}
	return 0, configstore.ErrVersionNotFound
}

func (f *fakeStore) History(_ context.Context, limit int) ([]configstore.HistoryEntry, error) {
	if limit <= 0 || limit > len(f.history) {
		limit = len(f.history)
	}
	out := make([]configstore.HistoryEntry, 0, limit)
	for i := len(f.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.history[i])
	}
	return out, nil
}

func (f *fakeStore) RollbackStats(context.Context, time.Duration) (int, time.Time, error) {
	return 0, time.Time{}, nil
}

// fakeSD returns canned tickets or an error.
type fakeSD struct {
	items []ticket.Ticket
	err   error
}

func (f *fakeSD) GetOpen(context.Context, int) ([]ticket.Ticket, error) {
	return f.items, f.err
}

func (f *fakeSD) Configured() bool { return true }

const testAdminToken = "test-admin-token"

func newTestServer(t *testing.T, store web.ConfigStore, sd web.SDClient) *httptest.Server {
	t.Helper()
	srv := web.New(web.Config{
		Addr:        ":0",
		AdminToken:  testAdminToken,
		Environment: "test",
		GitSHA:      "deadbeef",
	}, store, sd, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, method, url, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reqBody *strings.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	} else {
		reqBody = strings.NewReader("")
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestConfigGet_InjectsVersion(t *testing.T) {
	ts := newTestServer(t, newFakeStore(), &fakeSD{})

	resp, body := doRequest(t, http.MethodGet, ts.URL+"/config", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if v, ok := body["version"].(float64); !ok || v != 1 {
		t.Errorf("version = %v, want 1", body["version"])
	}
	if _, ok := body["routing"]; !ok {
		t.Error("response must carry the routing section")
	}
	if got := resp.Header.Get("X-Request-ID"); got == "" {
		t.Error("response must carry X-Request-ID")
	}
}

func TestConfigGet_EchoesRequestID(t *testing.T) {
	ts := newTestServer(t, newFakeStore(), &fakeSD{})

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/config", nil)
	req.Header.Set("X-Request-ID", "caller-supplied-id")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "caller-supplied-id" {
		t.Errorf("X-Request-ID = %q, want echo of caller's id", got)
	}
}

func TestConfigPut_RequiresAuth(t *testing.T) {
	ts := newTestServer(t, newFakeStore(), &fakeSD{})
	body := `{"routing":{"rules":[],"default_dest":{}},"escalation":{"enabled":false}}`

	resp, _ := doRequest(t, http.MethodPut, ts.URL+"/config", "", body)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", resp.StatusCode)
	}

	resp, _ = doRequest(t, http.MethodPut, ts.URL+"/config", "wrong-token", body)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", resp.StatusCode)
	}
}

func TestConfigPut_WriteAndValidationError(t *testing.T) {
	store := newFakeStore()
	ts := newTestServer(t, store, &fakeSD{})

	valid := `{"routing":{"rules":[],"default_dest":{"chat_id":99}},"escalation":{"enabled":false}}`
	resp, body := doRequest(t, http.MethodPut, ts.URL+"/config", testAdminToken, valid)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid write: status = %d, want 200", resp.StatusCode)
	}
	if v := body["version"].(float64); v != 2 {
		t.Errorf("new version = %v, want 2", v)
	}

	invalid := `{"routing":{"rules":[{"dest":{"chat_id":1}}],"default_dest":{}},"escalation":{"enabled":false}}`
	resp, body = doRequest(t, http.MethodPut, ts.URL+"/config", testAdminToken, invalid)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid write: status = %d, want 400", resp.StatusCode)
	}
	if body["error"] != "validation_error" {
		t.Errorf("error = %v, want validation_error", body["error"])
	}
	if body["path"] != "routing.rules[0]" {
		t.Errorf("path = %v, want routing.rules[0]", body["path"])
	}
	if store.version != 2 {
		t.Errorf("store version after rejected write = %d, want 2 (write must not land)", store.version)
	}
}

func TestConfigRollback_RoundTrip(t *testing.T) {
	store := newFakeStore()
	ts := newTestServer(t, store, &fakeSD{})

	configA := `{"routing":{"rules":[],"default_dest":{"chat_id":11}},"escalation":{"enabled":false}}`
	configB := `{"routing":{"rules":[],"default_dest":{"chat_id":22}},"escalation":{"enabled":false}}`

	doRequest(t, http.MethodPut, ts.URL+"/config", testAdminToken, configA) // v2
	doRequest(t, http.MethodPut, ts.URL+"/config", testAdminToken, configB) // v3

	resp, body := doRequest(t, http.MethodPost, ts.URL+"/config/rollback", testAdminToken, `{"to_version": 2}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rollback: status = %d, want 200", resp.StatusCode)
	}
	if v := body["version"].(float64); v != 4 {
		t.Errorf("rollback version = %v, want 4 (rollback is a new write)", v)
	}

	_, current := doRequest(t, http.MethodGet, ts.URL+"/config", "", "")
	dd := current["routing"].(map[string]any)["default_dest"].(map[string]any)
	if dd["chat_id"].(float64) != 11 {
		t.Errorf("after rollback default_dest.chat_id = %v, want 11 (body of v2)", dd["chat_id"])
	}
}

func TestConfigRollback_UnknownVersion(t *testing.T) {
	ts := newTestServer(t, newFakeStore(), &fakeSD{})

	resp, _ := doRequest(t, http.MethodPost, ts.URL+"/config/rollback", testAdminToken, `{"to_version": 777}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown version: status = %d, want 404", resp.StatusCode)
	}
}

func TestSDOpen_SuccessAndFailure(t *testing.T) {
	sd := &fakeSD{items: []ticket.Ticket{
		{"Id": float64(1), "Name": "A"},
		{"Id": float64(2), "Name": "B"},
	}}
	ts := newTestServer(t, newFakeStore(), sd)

	resp, body := doRequest(t, http.MethodGet, ts.URL+"/sd/open?limit=10", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["ok"] != true {
		t.Errorf("ok = %v, want true", body["ok"])
	}
	if body["count_returned"].(float64) != 2 {
		t.Errorf("count_returned = %v, want 2", body["count_returned"])
	}

	sd.items = nil
	sd.err = fmt.Errorf("sd timeout")
	resp, body = doRequest(t, http.MethodGet, ts.URL+"/sd/open", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("failure status = %d, want 200 with ok=false", resp.StatusCode)
	}
	if body["ok"] != false || body["error"] != "sd timeout" {
		t.Errorf("failure body = %v, want ok=false with error text", body)
	}
	if body["request_id"] == "" {
		t.Error("failure body must carry request_id")
	}
}

func TestHealthReadyStatus(t *testing.T) {
	ts := newTestServer(t, newFakeStore(), &fakeSD{})

	resp, body := doRequest(t, http.MethodGet, ts.URL+"/health", "", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("/health = %d %v, want 200 ok", resp.StatusCode, body)
	}

	resp, body = doRequest(t, http.MethodGet, ts.URL+"/status", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/status = %d, want 200", resp.StatusCode)
	}
	if body["environment"] != "test" || body["git_sha"] != "deadbeef" {
		t.Errorf("/status body = %v, want environment/git_sha", body)
	}
}

func TestStrictReadiness(t *testing.T) {
	srv := web.New(web.Config{
		AdminToken:      testAdminToken,
		StrictReadiness: true,
	}, newFakeStore(), &fakeSD{}, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	// Required env vars are unset in the test environment.
	for _, name := range []string{"DATABASE_URL", "SERVICEDESK_BASE_URL", "SERVICEDESK_API_TOKEN"} {
		t.Setenv(name, "")
	}

	resp, body := doRequest(t, http.MethodGet, ts.URL+"/ready", "", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("/ready strict = %d, want 503", resp.StatusCode)
	}
	missing, _ := body["missing"].([]any)
	if len(missing) != 3 {
		t.Errorf("missing = %v, want the three required names", body["missing"])
	}
}

func TestIndex_PlainText(t *testing.T) {
	ts := newTestServer(t, newFakeStore(), &fakeSD{})
	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET / = %d, want 200", resp.StatusCode)
	}
}
