// Package configstore persists the bot's versioned runtime configuration in
// Postgres: a single bot_config row plus an append-only history table that
// makes every version recoverable.
package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrVersionNotFound is returned by Rollback when the requested version has
// no recorded body.
var ErrVersionNotFound = errors.New("configstore: version not found")

// rollbackLabel prefixes the change summary of every rollback write; rollback
// statistics count history rows carrying it.
const rollbackLabel = "rollback to v"

// HistoryEntry is one row of bot_config_history. Version is the version the
// write replaced; PriorConfig is that version's body.
type HistoryEntry struct {
	Version       int64           `json:"version"`
	At            time.Time       `json:"at"`
	Actor         string          `json:"actor"`
	ChangeSummary string          `json:"change_summary"`
	PriorConfig   json.RawMessage `json:"prior_config"`
}

// Store wraps the Postgres pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store on an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// defaultConfig is the seed body for a fresh database: empty rules, no
// default destination, escalation off.
func defaultConfig() string {
	return `{"routing":{"rules":[],"default_dest":{"chat_id":null,"thread_id":null},` +
		`"service_id_field":"ServiceId","customer_id_field":"CustomerId",` +
		`"creator_id_field":"CreatorId","creator_company_id_field":"CreatorCompanyId"},` +
		`"escalation":{"enabled":false,"after_s":600,"rules":[]}}`
}

// Init creates the tables and seeds the config row. Safe to call repeatedly.
func (s *Store) Init(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS bot_config (
	id          INTEGER PRIMARY KEY,
	version     BIGINT NOT NULL DEFAULT 1,
	config_json TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS bot_config_history (
	version           BIGINT PRIMARY KEY,
	at                TIMESTAMPTZ NOT NULL DEFAULT now(),
	actor             TEXT NOT NULL,
	change_summary    TEXT NOT NULL,
	prior_config_json TEXT NOT NULL
);`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("configstore: create schema: %w", err)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bot_config (id, version, config_json) VALUES (1, 1, $1)
		 ON CONFLICT (id) DO NOTHING`, defaultConfig())
	if err != nil {
		return fmt.Errorf("configstore: seed config row: %w", err)
	}
	return nil
}

// Read returns the current config body and version.
func (s *Store) Read(ctx context.Context) (json.RawMessage, int64, error) {
	var (
		version int64
		body    string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT version, config_json FROM bot_config WHERE id = 1`).Scan(&version, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, fmt.Errorf("configstore: bot_config row id=1 not found")
	}
	if err != nil {
		return nil, 0, fmt.Errorf("configstore: read config: %w", err)
	}
	if !json.Valid([]byte(body)) {
		return nil, 0, fmt.Errorf("configstore: stored config is not valid JSON")
	}
	return json.RawMessage(body), version, nil
}

// Write validates and applies a new config body, returning the new version.
// The old body goes to history keyed by the version it had; concurrent
// writers serialize on the row lock.
func (s *Store) Write(ctx context.Context, body json.RawMessage, actor string) (int64, error) {
	if verr := Validate(body); verr != nil {
		return 0, verr
	}
	return s.write(ctx, body, actor, "")
}

// Rollback re-applies the body of an earlier version as a new write. The
// current version's body lives in the config row; older bodies live in
// history.
func (s *Store) Rollback(ctx context.Context, toVersion int64, actor string) (int64, error) {
	body, err := s.bodyOfVersion(ctx, toVersion)
	if err != nil {
		return 0, err
	}
	if verr := Validate(body); verr != nil {
		return 0, fmt.Errorf("configstore: version %d no longer validates: %w", toVersion, verr)
	}
	return s.write(ctx, body, actor, fmt.Sprintf("%s%d", rollbackLabel, toVersion))
}

func (s *Store) bodyOfVersion(ctx context.Context, version int64) (json.RawMessage, error) {
	current, currentVersion, err := s.Read(ctx)
	if err != nil {
		return nil, err
	}
	if version == currentVersion {
		return current, nil
	}
	var body string
	err = s.pool.QueryRow(ctx,
		`SELECT prior_config_json FROM bot_config_history WHERE version = $1`, version).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("configstore: read version %d: %w", version, err)
	}
	return json.RawMessage(body), nil
}

// write performs the transactional version bump. summary == "" means "derive
// from the diff".
func (s *Store) write(ctx context.Context, body json.RawMessage, actor, summary string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("configstore: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		oldVersion int64
		oldBody    string
	)
	err = tx.QueryRow(ctx,
		`SELECT version, config_json FROM bot_config WHERE id = 1 FOR UPDATE`).Scan(&oldVersion, &oldBody)
	if err != nil {
		return 0, fmt.Errorf("configstore: lock config row: %w", err)
	}

	if summary == "" {
		summary = SummarizeDiff(json.RawMessage(oldBody), body)
	}

	newVersion := oldVersion + 1
	_, err = tx.Exec(ctx,
		`INSERT INTO bot_config_history (version, at, actor, change_summary, prior_config_json)
		 VALUES ($1, now(), $2, $3, $4)`,
		oldVersion, actor, summary, oldBody)
	if err != nil {
		return 0, fmt.Errorf("configstore: insert history: %w", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE bot_config SET version = $1, config_json = $2 WHERE id = 1`,
		newVersion, string(body))
	if err != nil {
		return 0, fmt.Errorf("configstore: update config: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("configstore: commit: %w", err)
	}
	return newVersion, nil
}

// History returns the most recent history rows, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT version, at, actor, change_summary, prior_config_json
		 FROM bot_config_history ORDER BY version DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("configstore: read history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e    HistoryEntry
			body string
		)
		if err := rows.Scan(&e.Version, &e.At, &e.Actor, &e.ChangeSummary, &body); err != nil {
			return nil, fmt.Errorf("configstore: scan history row: %w", err)
		}
		e.PriorConfig = json.RawMessage(body)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RollbackStats counts rollback writes within the window.
func (s *Store) RollbackStats(ctx context.Context, window time.Duration) (count int, lastAt time.Time, err error) {
	var last *time.Time
	err = s.pool.QueryRow(ctx,
		`SELECT count(*), max(at) FROM bot_config_history
		 WHERE change_summary LIKE $1 AND at >= now() - $2::interval`,
		rollbackLabel+"%", fmt.Sprintf("%d seconds", int(window.Seconds()))).Scan(&count, &last)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("configstore: rollback stats: %w", err)
	}
	if last != nil {
		lastAt = *last
	}
	return count, lastAt, nil
}
