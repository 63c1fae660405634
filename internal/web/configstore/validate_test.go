package configstore

import (
	"strings"
	"testing"
)

func validBody() string {
	return `{
		"routing": {
			"rules": [
				{"dest": {"chat_id": -100200300}, "keywords": ["vip"]},
				{"dest": {"chat_id": 42, "thread_id": 7}, "service_ids": [101, 102]}
			],
			"default_dest": {"chat_id": 99},
			"service_id_field": "ServiceId"
		},
		"escalation": {
			"enabled": true,
			"after_s": 600,
			"rules": [{"dest": {"chat_id": 55}, "mention": "@duty", "filter": {}}]
		}
	}`
}

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	if err := Validate([]byte(validBody())); err != nil {
		t.Fatalf("Validate rejected a valid config: %v", err)
	}
}

func TestValidate_AcceptsMinimalConfig(t *testing.T) {
	body := `{"routing": {"rules": [], "default_dest": {}}, "escalation": {"enabled": false}}`
	if err := Validate([]byte(body)); err != nil {
		t.Fatalf("Validate rejected minimal config: %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantPath string
	}{
		{
			"not json",
			`{{`,
			"",
		},
		{
			"missing routing",
			`{"escalation": {"enabled": false}}`,
			"routing",
		},
		{
			"missing rules list",
			`{"routing": {"default_dest": {}}, "escalation": {"enabled": false}}`,
			"routing.rules",
		},
		{
			"rule without criterion",
			`{"routing": {"rules": [{"dest": {"chat_id": 1}}], "default_dest": {}}, "escalation": {"enabled": false}}`,
			"routing.rules[0]",
		},
		{
			"rule without chat id",
			`{"routing": {"rules": [{"dest": {}, "keywords": ["x"]}], "default_dest": {}}, "escalation": {"enabled": false}}`,
			"routing.rules[0].dest.chat_id",
		},
		{
			"missing default_dest",
			`{"routing": {"rules": []}, "escalation": {"enabled": false}}`,
			"routing.default_dest",
		},
		{
			"empty binding",
			`{"routing": {"rules": [], "default_dest": {}, "service_id_field": "  "}, "escalation": {"enabled": false}}`,
			"routing.service_id_field",
		},
		{
			"non-integer id",
			`{"routing": {"rules": [{"dest": {"chat_id": 1}, "service_ids": [1.5]}], "default_dest": {}}, "escalation": {"enabled": false}}`,
			"routing.rules[0].service_ids[0]",
		},
		{
			"id overflows 64 bits",
			`{"routing": {"rules": [{"dest": {"chat_id": 1}, "service_ids": [99999999999999999999]}], "default_dest": {}}, "escalation": {"enabled": false}}`,
			"routing.rules[0].service_ids[0]",
		},
		{
			"missing escalation",
			`{"routing": {"rules": [], "default_dest": {}}}`,
			"escalation",
		},
		{
			"missing enabled",
			`{"routing": {"rules": [], "default_dest": {}}, "escalation": {}}`,
			"escalation.enabled",
		},
		{
			"enabled without after_s",
			`{"routing": {"rules": [], "default_dest": {}}, "escalation": {"enabled": true, "rules": [{"dest": {"chat_id": 1}}]}}`,
			"escalation.after_s",
		},
		{
			"enabled with zero after_s",
			`{"routing": {"rules": [], "default_dest": {}}, "escalation": {"enabled": true, "after_s": 0, "rules": [{"dest": {"chat_id": 1}}]}}`,
			"escalation.after_s",
		},
		{
			"enabled without rules",
			`{"routing": {"rules": [], "default_dest": {}}, "escalation": {"enabled": true, "after_s": 60, "rules": []}}`,
			"escalation.rules",
		},
		{
			"escalation rule without dest",
			`{"routing": {"rules": [], "default_dest": {}}, "escalation": {"enabled": true, "after_s": 60, "rules": [{"mention": "@x"}]}}`,
			"escalation.rules[0].dest",
		},
		{
			"oversized keyword",
			`{"routing": {"rules": [{"dest": {"chat_id": 1}, "keywords": ["` + strings.Repeat("a", 5000) + `"]}], "default_dest": {}}, "escalation": {"enabled": false}}`,
			"routing.rules[0].keywords[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := Validate([]byte(tt.body))
			if verr == nil {
				t.Fatal("Validate accepted an invalid config")
			}
			if verr.Path != tt.wantPath {
				t.Errorf("error path = %q, want %q (message: %s)", verr.Path, tt.wantPath, verr.Message)
			}
		})
	}
}

func TestValidate_DefaultDestNullChatMeansNone(t *testing.T) {
	body := `{"routing": {"rules": [], "default_dest": {"chat_id": null, "thread_id": null}}, "escalation": {"enabled": false}}`
	if err := Validate([]byte(body)); err != nil {
		t.Fatalf("null default_dest fields must be accepted: %v", err)
	}
}
