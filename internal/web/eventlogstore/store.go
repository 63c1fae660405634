// Package eventlogstore keeps the operator-managed eventlog filters in
// Postgres. A filter names a message field (or "any"), a pattern, and a match
// kind; matching messages bump the filter's hit counter.
package eventlogstore

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Match kinds. Unknown kinds never match.
const (
	MatchContains = "contains"
	MatchRegex    = "regex"
)

// Filter is one eventlog filter row.
type Filter struct {
	ID        int64  `json:"id"`
	Field     string `json:"field"`
	Pattern   string `json:"pattern"`
	MatchKind string `json:"match_kind"`
	Enabled   bool   `json:"enabled"`
	Hits      int64  `json:"hits"`
}

// Store wraps the Postgres pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store on an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the filters table. Safe to call repeatedly.
func (s *Store) Init(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS eventlog_filters (
	id         BIGSERIAL PRIMARY KEY,
	field      TEXT NOT NULL,
	pattern    TEXT NOT NULL,
	match_kind TEXT NOT NULL DEFAULT 'contains',
	enabled    BOOLEAN NOT NULL DEFAULT TRUE,
	hits       BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("eventlogstore: create schema: %w", err)
	}
	return nil
}

// ListEnabled returns the enabled filters in id order.
func (s *Store) ListEnabled(ctx context.Context) ([]Filter, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, field, pattern, match_kind, enabled, hits
		 FROM eventlog_filters WHERE enabled = TRUE ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("eventlogstore: list filters: %w", err)
	}
	defer rows.Close()

	var out []Filter
	for rows.Next() {
		var f Filter
		if err := rows.Scan(&f.ID, &f.Field, &f.Pattern, &f.MatchKind, &f.Enabled, &f.Hits); err != nil {
			return nil, fmt.Errorf("eventlogstore: scan filter: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// IncrementHits bumps the hit counters of the given filters.
func (s *Store) IncrementHits(ctx context.Context, filterIDs []int64) error {
	if len(filterIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE eventlog_filters SET hits = hits + 1, updated_at = now() WHERE id = ANY($1)`,
		filterIDs)
	if err != nil {
		return fmt.Errorf("eventlogstore: increment hits: %w", err)
	}
	return nil
}

// Match reports whether the filter fires on the message. A field of "any" or
// "*" matches against all string values joined. Regex compile errors collapse
// to no-match rather than propagating.
func Match(f Filter, message map[string]string) bool {
	if f.Pattern == "" {
		return false
	}

	var target string
	switch strings.ToLower(strings.TrimSpace(f.Field)) {
	case "any", "*":
		values := make([]string, 0, len(message))
		for _, v := range message {
			values = append(values, v)
		}
		target = strings.Join(values, " ")
	default:
		target = message[f.Field]
	}

	switch f.MatchKind {
	case MatchContains, "":
		return strings.Contains(target, f.Pattern)
	case MatchRegex:
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			return false
		}
		return re.MatchString(target)
	default:
		return false
	}
}
