package routing

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/avoronov/sdbridge/internal/bot/ticket"
)

// FieldBindings names the ticket fields consulted by id-based criteria.
// The names are operator-configurable because different ServiceDesk
// installations expose different field sets.
type FieldBindings struct {
	ServiceID        string `json:"service_id_field"`
	CustomerID       string `json:"customer_id_field"`
	CreatorID        string `json:"creator_id_field"`
	CreatorCompanyID string `json:"creator_company_id_field"`
}

// DefaultBindings are the stock IntraService field names.
var DefaultBindings = FieldBindings{
	ServiceID:        "ServiceId",
	CustomerID:       "CustomerId",
	CreatorID:        "CreatorId",
	CreatorCompanyID: "CreatorCompanyId",
}

// WithDefaults fills empty bindings from DefaultBindings.
func (b FieldBindings) WithDefaults() FieldBindings {
	if b.ServiceID == "" {
		b.ServiceID = DefaultBindings.ServiceID
	}
	if b.CustomerID == "" {
		b.CustomerID = DefaultBindings.CustomerID
	}
	if b.CreatorID == "" {
		b.CreatorID = DefaultBindings.CreatorID
	}
	if b.CreatorCompanyID == "" {
		b.CreatorCompanyID = DefaultBindings.CreatorCompanyID
	}
	return b
}

// Filter is the five-criterion predicate shared by routing rules and
// escalation rules. An empty filter is interpreted by the caller: routing
// discards rules with no criterion, escalation treats them as match-all.
type Filter struct {
	Keywords          []string
	ServiceIDs        []int64
	CustomerIDs       []int64
	CreatorIDs        []int64
	CreatorCompanyIDs []int64
}

// Empty reports whether the filter carries no criterion at all.
func (f Filter) Empty() bool {
	return len(f.Keywords) == 0 &&
		len(f.ServiceIDs) == 0 &&
		len(f.CustomerIDs) == 0 &&
		len(f.CreatorIDs) == 0 &&
		len(f.CreatorCompanyIDs) == 0
}

// Match reports whether the item satisfies any of the filter's non-empty
// criteria (OR semantics), along with the first matching criterion rendered
// for diagnostics (e.g. "keyword:vip", "service_id:101"). An empty filter
// never matches here; match-all handling belongs to the caller.
func (f Filter) Match(item ticket.Ticket, b FieldBindings) (bool, string) {
	if len(f.Keywords) > 0 {
		name := Normalize(item.Name())
		for _, kw := range f.Keywords {
			if kw != "" && containsKeyword(name, kw) {
				return true, "keyword:" + kw
			}
		}
	}
	if ok, reason := matchIDSet(item, b.ServiceID, f.ServiceIDs, "service_id"); ok {
		return true, reason
	}
	if ok, reason := matchIDSet(item, b.CustomerID, f.CustomerIDs, "customer_id"); ok {
		return true, reason
	}
	if ok, reason := matchIDSet(item, b.CreatorID, f.CreatorIDs, "creator_id"); ok {
		return true, reason
	}
	if ok, reason := matchIDSet(item, b.CreatorCompanyID, f.CreatorCompanyIDs, "creator_company_id"); ok {
		return true, reason
	}
	return false, ""
}

func containsKeyword(normalizedName, normalizedKeyword string) bool {
	return normalizedName != "" && normalizedKeyword != "" &&
		strings.Contains(normalizedName, normalizedKeyword)
}

func matchIDSet(item ticket.Ticket, field string, ids []int64, label string) (bool, string) {
	if len(ids) == 0 || field == "" {
		return false, ""
	}
	v, ok := item.IntField(field)
	if !ok {
		return false, ""
	}
	for _, id := range ids {
		if v == id {
			return true, label + ":" + strconv.FormatInt(id, 10)
		}
	}
	return false, ""
}

// Rule binds a filter to a destination.
type Rule struct {
	Dest   Destination
	Filter Filter
}

// RuleSpec is the wire form of a routing rule.
type RuleSpec struct {
	Dest              DestSpec `json:"dest"`
	Keywords          []string `json:"keywords"`
	ServiceIDs        []any    `json:"service_ids"`
	CustomerIDs       []any    `json:"customer_ids"`
	CreatorIDs        []any    `json:"creator_ids"`
	CreatorCompanyIDs []any    `json:"creator_company_ids"`
}

// ParseFilter normalizes the criterion lists of a wire rule. Keywords are
// casefolded and stripped; blank keywords and non-integer ids are dropped.
func ParseFilter(spec RuleSpec) Filter {
	var f Filter
	for _, kw := range spec.Keywords {
		if n := Normalize(kw); n != "" {
			f.Keywords = append(f.Keywords, n)
		}
	}
	f.ServiceIDs = parseIDList(spec.ServiceIDs)
	f.CustomerIDs = parseIDList(spec.CustomerIDs)
	f.CreatorIDs = parseIDList(spec.CreatorIDs)
	f.CreatorCompanyIDs = parseIDList(spec.CreatorCompanyIDs)
	return f
}

// ParseRules converts wire rules into matchable rules. Parsing is total:
// malformed rules (bad destination, no criterion) are dropped and reported,
// never a reason to fail.
func ParseRules(specs []RuleSpec) []Rule {
	rules := make([]Rule, 0, len(specs))
	for i, spec := range specs {
		dest, ok := ParseDestination(spec.Dest)
		if !ok {
			slog.Warn("routing: dropping rule with invalid destination", "index", i)
			continue
		}
		f := ParseFilter(spec)
		if f.Empty() {
			slog.Warn("routing: dropping rule with no criteria", "index", i, "dest", dest.String())
			continue
		}
		rules = append(rules, Rule{Dest: dest, Filter: f})
	}
	return rules
}

func parseIDList(raw []any) []int64 {
	var out []int64
	for _, v := range raw {
		if id, ok := ticket.AsInt64(v); ok {
			out = append(out, id)
		}
	}
	return out
}
