// Package ticket holds the loosely-typed ServiceDesk ticket representation
// shared by the routing, escalation, and polling layers.
//
// ServiceDesk returns tickets as JSON objects whose routing-relevant fields
// (ServiceId, CustomerId, ...) are configurable by name, so the core keeps the
// raw object and exposes typed accessors instead of a closed struct.
package ticket

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Ticket is a single ServiceDesk ticket as returned by the open-queue endpoint.
type Ticket map[string]any

// ID returns the ticket identifier, or 0 when absent or not an integer.
// Tickets with non-positive IDs are ignored by every consumer.
func (t Ticket) ID() int64 {
	id, ok := AsInt64(t["Id"])
	if !ok {
		return 0
	}
	return id
}

// Name returns the ticket name, or "" when absent.
func (t Ticket) Name() string {
	if s, ok := t["Name"].(string); ok {
		return s
	}
	return ""
}

// IntField returns the ticket's value under the given field name parsed as an
// integer. Absent or non-integer values report ok=false and never match an
// id-based rule.
func (t Ticket) IntField(name string) (int64, bool) {
	if name == "" {
		return 0, false
	}
	return AsInt64(t[name])
}

// AsInt64 coerces the JSON representations of an integer (number, string,
// json.Number) to int64.
func AsInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		n := int64(x)
		if float64(n) != x {
			return 0, false
		}
		return n, true
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// IDs returns the sorted, deduplicated set of positive ticket IDs in items.
func IDs(items []Ticket) []int64 {
	seen := make(map[int64]struct{}, len(items))
	for _, t := range items {
		if id := t.ID(); id > 0 {
			seen[id] = struct{}{}
		}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SortByID returns a copy of items with non-positive IDs dropped, sorted by ID
// ascending. Used when rendering the queue to operators.
func SortByID(items []Ticket) []Ticket {
	out := make([]Ticket, 0, len(items))
	for _, t := range items {
		if t.ID() > 0 {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
