package routing

import (
	"github.com/avoronov/sdbridge/internal/bot/ticket"
)

// MatchDestinations returns the destinations of every rule matched by at
// least one item. Output preserves rule order and is deduplicated.
func MatchDestinations(items []ticket.Ticket, rules []Rule, b FieldBindings) []Destination {
	b = b.WithDefaults()
	var out []Destination
	seen := make(map[Destination]struct{})
	for _, rule := range rules {
		matched := false
		for _, item := range items {
			if ok, _ := rule.Filter.Match(item, b); ok {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if _, dup := seen[rule.Dest]; dup {
			continue
		}
		seen[rule.Dest] = struct{}{}
		out = append(out, rule.Dest)
	}
	return out
}

// PickDestinations resolves the final destination set for a notification:
// matched rules first, the default destination when nothing matched, and an
// empty set when neither applies. An empty result means the caller must take
// the no-destination admin-alert path.
func PickDestinations(items []ticket.Ticket, rules []Rule, defaultDest *Destination, b FieldBindings) []Destination {
	if dests := MatchDestinations(items, rules, b); len(dests) > 0 {
		return dests
	}
	if defaultDest != nil {
		return []Destination{*defaultDest}
	}
	return nil
}

// Explanation describes why a single item did or did not match any rule.
type Explanation struct {
	ID      int64  `json:"id"`
	Matched bool   `json:"matched"`
	Reason  string `json:"reason"`
}

// ExplainMatches reports, per item, the first matching criterion across the
// rules (in rule order). Items matching nothing get Matched=false with an
// empty reason. Used by diagnostics surfaces only; notification routing goes
// through MatchDestinations.
func ExplainMatches(items []ticket.Ticket, rules []Rule, b FieldBindings) []Explanation {
	b = b.WithDefaults()
	out := make([]Explanation, 0, len(items))
	for _, item := range items {
		exp := Explanation{ID: item.ID()}
		for _, rule := range rules {
			if ok, reason := rule.Filter.Match(item, b); ok {
				exp.Matched = true
				exp.Reason = reason
				break
			}
		}
		out = append(out, exp)
	}
	return out
}
