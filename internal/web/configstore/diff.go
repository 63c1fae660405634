package configstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Change is one leaf-level difference between two config bodies.
type Change struct {
	Path string `json:"path"`
	From any    `json:"from"`
	To   any    `json:"to"`
}

// DiffJSON computes the recursive difference between two JSON documents.
// Objects recurse per key; lists and scalars compare as whole values.
func DiffJSON(a, b json.RawMessage) []Change {
	var av, bv any
	// Unparseable sides become nil, which the walk reports as a change.
	_ = json.Unmarshal(a, &av)
	_ = json.Unmarshal(b, &bv)
	return diffValues(av, bv, "")
}

func diffValues(a, b any, path string) []Change {
	am, aIsMap := a.(map[string]any)
	bm, bIsMap := b.(map[string]any)
	if aIsMap && bIsMap {
		keys := make(map[string]struct{}, len(am)+len(bm))
		for k := range am {
			keys[k] = struct{}{}
		}
		for k := range bm {
			keys[k] = struct{}{}
		}
		sorted := make([]string, 0, len(keys))
		for k := range keys {
			sorted = append(sorted, k)
		}
		sort.Strings(sorted)

		var changes []Change
		for _, k := range sorted {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			changes = append(changes, diffValues(am[k], bm[k], childPath)...)
		}
		return changes
	}

	if reflect.DeepEqual(a, b) {
		return nil
	}
	return []Change{{Path: path, From: a, To: b}}
}

// SummarizeDiff renders the diff compactly for the history table, e.g.
// "routing.rules: changed; escalation.enabled: false → true".
func SummarizeDiff(a, b json.RawMessage) string {
	changes := DiffJSON(a, b)
	if len(changes) == 0 {
		return "no changes"
	}
	parts := make([]string, 0, len(changes))
	for _, c := range changes {
		parts = append(parts, fmt.Sprintf("%s: %s → %s", c.Path, compactValue(c.From), compactValue(c.To)))
	}
	summary := strings.Join(parts, "; ")
	if len(summary) > 1024 {
		summary = summary[:1021] + "..."
	}
	return summary
}

// compactValue keeps the summary readable: scalars render as-is, composites
// collapse to a type tag.
func compactValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "∅"
	case string:
		if len(x) > 48 {
			x = x[:45] + "..."
		}
		return fmt.Sprintf("%q", x)
	case bool, float64:
		return fmt.Sprintf("%v", x)
	case []any:
		return fmt.Sprintf("list(%d)", len(x))
	case map[string]any:
		return fmt.Sprintf("object(%d)", len(x))
	default:
		return fmt.Sprintf("%v", x)
	}
}
