package configstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestDiffJSON_NestedObjects(t *testing.T) {
	a := json.RawMessage(`{"routing": {"rules": [], "service_id_field": "ServiceId"}, "escalation": {"enabled": false}}`)
	b := json.RawMessage(`{"routing": {"rules": [{"dest": {"chat_id": 1}}], "service_id_field": "ServiceId"}, "escalation": {"enabled": true}}`)

	changes := DiffJSON(a, b)
	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2: %+v", len(changes), changes)
	}
	// Keys walk in sorted order, so escalation.enabled comes first.
	if changes[0].Path != "escalation.enabled" {
		t.Errorf("changes[0].Path = %q, want escalation.enabled", changes[0].Path)
	}
	if changes[1].Path != "routing.rules" {
		t.Errorf("changes[1].Path = %q, want routing.rules", changes[1].Path)
	}
}

func TestDiffJSON_EqualDocuments(t *testing.T) {
	a := json.RawMessage(`{"x": [1, 2], "y": {"z": "v"}}`)
	if changes := DiffJSON(a, a); len(changes) != 0 {
		t.Errorf("identical documents produced %d changes: %+v", len(changes), changes)
	}
}

func TestDiffJSON_AddedAndRemovedKeys(t *testing.T) {
	a := json.RawMessage(`{"old": 1}`)
	b := json.RawMessage(`{"new": 2}`)
	changes := DiffJSON(a, b)
	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2", len(changes))
	}
	if changes[0].Path != "new" || changes[0].From != nil {
		t.Errorf("added key change = %+v, want from=nil at path new", changes[0])
	}
	if changes[1].Path != "old" || changes[1].To != nil {
		t.Errorf("removed key change = %+v, want to=nil at path old", changes[1])
	}
}

func TestSummarizeDiff(t *testing.T) {
	a := json.RawMessage(`{"escalation": {"enabled": false}}`)
	b := json.RawMessage(`{"escalation": {"enabled": true}}`)
	got := SummarizeDiff(a, b)
	want := "escalation.enabled: false → true"
	if got != want {
		t.Errorf("SummarizeDiff = %q, want %q", got, want)
	}

	if got := SummarizeDiff(a, a); got != "no changes" {
		t.Errorf("SummarizeDiff(equal) = %q, want %q", got, "no changes")
	}
}

func TestSummarizeDiff_Truncates(t *testing.T) {
	// Same routing object on both sides so the diff recurses into it; every
	// leaf differs, producing enough changes to blow past the summary cap.
	body := func(value string) json.RawMessage {
		var sb strings.Builder
		sb.WriteString(`{"routing": {`)
		for i := 0; i < 200; i++ {
			if i > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, `"field_%03d": %s`, i, value)
		}
		sb.WriteString(`}}`)
		return json.RawMessage(sb.String())
	}

	old, updated := body("1"), body("2")
	if n := len(DiffJSON(old, updated)); n != 200 {
		t.Fatalf("fixture produced %d changes, want 200", n)
	}

	got := SummarizeDiff(old, updated)
	if len(got) > 1024 {
		t.Errorf("summary length = %d, want <= 1024", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated summary should end with ellipsis, got %q", got[len(got)-10:])
	}
}
