// Package runtimecfg holds the bot's hot-reloadable configuration: the typed
// in-memory snapshot, the wire-JSON parser, and the sync loop that pulls new
// versions from the web service.
package runtimecfg

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/avoronov/sdbridge/internal/bot/escalation"
	"github.com/avoronov/sdbridge/internal/bot/routing"
)

// Source values for Snapshot.Source.
const (
	SourceDefault = "default"
	SourceDB      = "db"
)

// Snapshot is one immutable parsed configuration. Consumers read whole
// snapshots through Holder; nothing mutates a snapshot after Parse returns it.
type Snapshot struct {
	Version     int64
	Source      string
	LoadedAt    time.Time
	Rules       []routing.Rule
	DefaultDest *routing.Destination
	Bindings    routing.FieldBindings
	Escalation  escalation.Config
}

// Empty returns the cold-start snapshot: no rules, no default destination.
// Every ticket routed against it takes the no-destination alert path until a
// real config arrives.
func Empty() *Snapshot {
	return &Snapshot{
		Source:   SourceDefault,
		LoadedAt: time.Now(),
		Bindings: routing.DefaultBindings,
	}
}

// wireConfig is the on-wire JSON shape served by GET /config.
type wireConfig struct {
	Version int64 `json:"version"`
	Routing struct {
		Rules                 []routing.RuleSpec `json:"rules"`
		DefaultDest           *routing.DestSpec  `json:"default_dest"`
		ServiceIDField        string             `json:"service_id_field"`
		CustomerIDField       string             `json:"customer_id_field"`
		CreatorIDField        string             `json:"creator_id_field"`
		CreatorCompanyIDField string             `json:"creator_company_id_field"`
	} `json:"routing"`
	Escalation struct {
		Enabled bool `json:"enabled"`
		AfterS  int  `json:"after_s"`
		Rules   []struct {
			Dest    routing.DestSpec `json:"dest"`
			Mention string           `json:"mention"`
			Filter  routing.RuleSpec `json:"filter"`
		} `json:"rules"`
	} `json:"escalation"`
}

// Parse builds a typed snapshot from wire JSON. Parsing is total past the JSON
// layer: individually malformed rules are dropped, a malformed default_dest
// becomes no default. The JSON itself failing to decode is the only error.
func Parse(raw []byte, source string) (*Snapshot, error) {
	var w wireConfig
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("runtimecfg: decode config: %w", err)
	}

	snap := &Snapshot{
		Version:  w.Version,
		Source:   source,
		LoadedAt: time.Now(),
		Rules:    routing.ParseRules(w.Routing.Rules),
		Bindings: routing.FieldBindings{
			ServiceID:        w.Routing.ServiceIDField,
			CustomerID:       w.Routing.CustomerIDField,
			CreatorID:        w.Routing.CreatorIDField,
			CreatorCompanyID: w.Routing.CreatorCompanyIDField,
		}.WithDefaults(),
	}

	if w.Routing.DefaultDest != nil {
		if dest, ok := routing.ParseDestination(*w.Routing.DefaultDest); ok {
			snap.DefaultDest = &dest
		}
	}

	esc := escalation.Config{
		Enabled:  w.Escalation.Enabled,
		After:    time.Duration(w.Escalation.AfterS) * time.Second,
		Bindings: snap.Bindings,
	}
	for _, r := range w.Escalation.Rules {
		dest, ok := routing.ParseDestination(r.Dest)
		if !ok {
			continue
		}
		esc.Rules = append(esc.Rules, escalation.Rule{
			Dest:    dest,
			Mention: r.Mention,
			Filter:  routing.ParseFilter(r.Filter),
		})
	}
	snap.Escalation = esc

	return snap, nil
}

// Holder publishes the current snapshot with atomic pointer swaps. Readers see
// either the whole old or the whole new snapshot, never a mix.
type Holder struct {
	ptr atomic.Pointer[Snapshot]
}

// NewHolder starts with the empty cold-start snapshot.
func NewHolder() *Holder {
	h := &Holder{}
	h.ptr.Store(Empty())
	return h
}

// Current returns the active snapshot. Never nil.
func (h *Holder) Current() *Snapshot {
	return h.ptr.Load()
}

// Swap publishes a new snapshot.
func (h *Holder) Swap(s *Snapshot) {
	h.ptr.Store(s)
}
