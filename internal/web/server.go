// Package web implements the HTTP service: the config plane (read, write,
// history, rollback), the ServiceDesk open-queue proxy, eventlog filter
// administration, and the liveness/readiness/status endpoints.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/avoronov/sdbridge/internal/bot/ticket"
	"github.com/avoronov/sdbridge/internal/web/configstore"
	"github.com/avoronov/sdbridge/internal/web/eventlogstore"
)

// ConfigStore is the server's view of the versioned config storage.
// *configstore.Store implements it; tests substitute a fake.
type ConfigStore interface {
	Read(ctx context.Context) (json.RawMessage, int64, error)
	Write(ctx context.Context, body json.RawMessage, actor string) (int64, error)
	Rollback(ctx context.Context, toVersion int64, actor string) (int64, error)
	History(ctx context.Context, limit int) ([]configstore.HistoryEntry, error)
	RollbackStats(ctx context.Context, window time.Duration) (int, time.Time, error)
}

// SDClient fetches the open queue from ServiceDesk.
type SDClient interface {
	GetOpen(ctx context.Context, limit int) ([]ticket.Ticket, error)
	Configured() bool
}

// EventlogStore lists the enabled eventlog filters.
type EventlogStore interface {
	ListEnabled(ctx context.Context) ([]eventlogstore.Filter, error)
}

// Config holds the server's environment-derived settings.
type Config struct {
	Addr            string
	AdminToken      string
	Environment     string
	GitSHA          string
	StrictReadiness bool
}

// requiredEnvVars are checked by /ready under strict readiness.
var requiredEnvVars = []string{"DATABASE_URL", "SERVICEDESK_BASE_URL", "SERVICEDESK_API_TOKEN"}

// Server is the assembled HTTP service.
type Server struct {
	cfg      Config
	store    ConfigStore
	sd       SDClient
	eventlog EventlogStore
	router   *mux.Router
}

// New builds the server and its routes. eventlog may be nil, which hides the
// eventlog endpoints.
func New(cfg Config, store ConfigStore, sd SDClient, eventlog EventlogStore) *Server {
	s := &Server{cfg: cfg, store: store, sd: sd, eventlog: eventlog}
	s.router = s.routes()
	return s
}

// Handler exposes the routed handler, wrapped with the request-id middleware.
// Used directly by httptest in the test suite.
func (s *Server) Handler() http.Handler {
	return requestIDMiddleware(s.router)
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	r.HandleFunc("/config", s.handleConfigGet).Methods(http.MethodGet)
	r.HandleFunc("/config", s.adminAuth(s.handleConfigPut)).Methods(http.MethodPut)
	r.HandleFunc("/config/history", s.adminAuth(s.handleConfigHistory)).Methods(http.MethodGet)
	r.HandleFunc("/config/rollback", s.adminAuth(s.handleConfigRollback)).Methods(http.MethodPost)
	r.HandleFunc("/config/rollbacks", s.adminAuth(s.handleRollbackStats)).Methods(http.MethodGet)

	r.HandleFunc("/sd/open", s.handleSDOpen).Methods(http.MethodGet)

	if s.eventlog != nil {
		r.HandleFunc("/eventlog/filters", s.adminAuth(s.handleEventlogFilters)).Methods(http.MethodGet)
	}
	return r
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("web: listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		slog.Info("web: stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// missingRequiredEnv returns the names of unset required variables.
func missingRequiredEnv() []string {
	var missing []string
	for _, name := range requiredEnvVars {
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
