package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/avoronov/sdbridge/common/trace"
	"github.com/avoronov/sdbridge/internal/bot/ticket"
	"github.com/avoronov/sdbridge/internal/web/configstore"
	"github.com/avoronov/sdbridge/internal/web/eventlogstore"
)

// maxConfigBody bounds PUT /config payloads.
const maxConfigBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("web: encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "sdbridge web service is running")
}

// handleHealth is liveness only. No dependency may be touched here; a flaky
// database must not cause a restart storm.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	missing := missingRequiredEnv()
	if len(missing) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if s.cfg.StrictReadiness {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "not_ready",
			"missing": missing,
		})
		return
	}
	slog.Warn("web: required env vars missing, readiness degraded to warning", "missing", missing)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "missing": missing})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "ok",
		"environment": s.cfg.Environment,
		"git_sha":     s.cfg.GitSHA,
	})
}

// handleConfigGet returns the current config body with the version injected
// at the top level.
func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	body, version, err := s.store.Read(r.Context())
	if err != nil {
		slog.Error("web: config read failed", "err", err, "request_id", trace.FromContext(r.Context()))
		writeError(w, http.StatusInternalServerError, "config read failed")
		return
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		writeError(w, http.StatusInternalServerError, "stored config is not a JSON object")
		return
	}
	doc["version"] = version
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleConfigPut(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read request body")
		return
	}

	version, err := s.store.Write(r.Context(), body, actorOf(r))
	var verr *configstore.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "validation_error",
			"path":    verr.Path,
			"message": verr.Message,
		})
		return
	}
	if err != nil {
		slog.Error("web: config write failed", "err", err, "request_id", trace.FromContext(r.Context()))
		writeError(w, http.StatusInternalServerError, "config write failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": version})
}

func (s *Server) handleConfigHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.store.History(r.Context(), limit)
	if err != nil {
		slog.Error("web: history read failed", "err", err)
		writeError(w, http.StatusInternalServerError, "history read failed")
		return
	}
	if entries == nil {
		entries = []configstore.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (s *Server) handleConfigRollback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ToVersion int64 `json:"to_version"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxConfigBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "body must be {\"to_version\": <int>}")
		return
	}
	if req.ToVersion <= 0 {
		writeError(w, http.StatusBadRequest, "to_version must be a positive integer")
		return
	}

	version, err := s.store.Rollback(r.Context(), req.ToVersion, actorOf(r))
	if errors.Is(err, configstore.ErrVersionNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("version %d not found", req.ToVersion))
		return
	}
	if err != nil {
		slog.Error("web: rollback failed", "err", err, "to_version", req.ToVersion)
		writeError(w, http.StatusInternalServerError, "rollback failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": version})
}

func (s *Server) handleRollbackStats(w http.ResponseWriter, r *http.Request) {
	windowS, _ := strconv.Atoi(r.URL.Query().Get("window_s"))
	if windowS <= 0 {
		windowS = 3600
	}
	count, lastAt, err := s.store.RollbackStats(r.Context(), time.Duration(windowS)*time.Second)
	if err != nil {
		slog.Error("web: rollback stats failed", "err", err)
		writeError(w, http.StatusInternalServerError, "rollback stats failed")
		return
	}
	payload := map[string]any{"count": count, "window_s": windowS}
	if !lastAt.IsZero() {
		payload["last_rollback_at"] = lastAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleSDOpen proxies the open-queue fetch. Failures are reported in the
// body with ok=false rather than an HTTP error, so the bot's client can treat
// every outcome uniformly.
func (s *Server) handleSDOpen(w http.ResponseWriter, r *http.Request) {
	requestID := trace.FromContext(r.Context())

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.sd.GetOpen(r.Context(), limit)
	if err != nil {
		slog.Warn("web: sd open fetch failed", "err", err, "request_id", requestID)
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":         false,
			"error":      err.Error(),
			"request_id": requestID,
		})
		return
	}
	if items == nil {
		items = []ticket.Ticket{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"items":          items,
		"count_returned": len(items),
		"request_id":     requestID,
	})
}

func (s *Server) handleEventlogFilters(w http.ResponseWriter, r *http.Request) {
	filters, err := s.eventlog.ListEnabled(r.Context())
	if err != nil {
		slog.Error("web: eventlog filters read failed", "err", err)
		writeError(w, http.StatusInternalServerError, "eventlog filters read failed")
		return
	}
	if filters == nil {
		filters = []eventlogstore.Filter{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": filters})
}

// actorOf identifies the writer for the history log. Operators set X-Actor;
// everything else lands as "api".
func actorOf(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "api"
}
