package domain_test

import (
	"testing"

	"github.com/korulabs/lead-engine/internal/domain"
)

func TestDecodeActionConfigs_FlatShape(t *testing.T) {
	data := []byte(`[
		{"action": "create_task", "enabled": true, "config": {"task_title": "Call {{lead.email}}", "due_in_days": 2}},
		{"action": "send_notification", "enabled": false, "config": {"message": "hi", "channel": "sales"}}
	]`)

	configs, err := domain.DecodeActionConfigs(data)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("expected 2 configs, got %d", len(configs))
	}
	first := configs[0]
	if first.Kind != domain.ActionCreateTask || !first.Enabled {
		t.Errorf("unexpected first config: %+v", first)
	}
	if first.TaskTitle != "Call {{lead.email}}" || first.DueInDays != 2 {
		t.Errorf("config params not decoded: %+v", first)
	}
	second := configs[1]
	if second.Kind != domain.ActionSendNotification || second.Enabled {
		t.Errorf("expected a disabled notification, got %+v", second)
	}
	if second.Message != "hi" || second.Channel != "sales" {
		t.Errorf("config params not decoded: %+v", second)
	}
}

func TestDecodeActionConfigs_EnabledDefaultsTrue(t *testing.T) {
	data := []byte(`[{"action": "sync_moco", "config": {"entity_type": "customer"}}]`)

	configs, err := domain.DecodeActionConfigs(data)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(configs) != 1 || !configs[0].Enabled {
		t.Errorf("missing enabled flag must default to true, got %+v", configs)
	}
}

func TestDecodeActionConfigs_LegacyNestedShape(t *testing.T) {
	data := []byte(`[
		{"trigger": {"type": "stage_entry"},
		 "action": {"type": "move_to_stage", "stage_slug": "qualified"}}
	]`)

	configs, err := domain.DecodeActionConfigs(data)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("expected 1 config, got %d", len(configs))
	}
	cfg := configs[0]
	if cfg.Kind != domain.ActionMoveToStage || !cfg.Enabled {
		t.Errorf("unexpected legacy decode: %+v", cfg)
	}
	if cfg.StageSlug != "qualified" {
		t.Errorf("expected stage_slug to survive the legacy shape, got %q", cfg.StageSlug)
	}
}

func TestDecodeActionConfigs_EmptyInput(t *testing.T) {
	configs, err := domain.DecodeActionConfigs(nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if configs != nil {
		t.Errorf("expected nil configs, got %+v", configs)
	}
}

func TestDecodeActionConfigs_Malformed(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", `{{{`},
		{"entry without action", `[{"enabled": true}]`},
		{"action kind not a string", `[{"action": 42}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := domain.DecodeActionConfigs([]byte(tc.data)); err == nil {
				t.Error("expected a decode error")
			}
		})
	}
}

func TestIntentValid(t *testing.T) {
	for _, intent := range domain.Intents {
		if !intent.Valid() {
			t.Errorf("expected %q to be valid", intent)
		}
	}
	if domain.Intent("world_domination").Valid() {
		t.Error("unknown intents must be invalid")
	}
	if domain.Intent("").Valid() {
		t.Error("the empty intent must be invalid")
	}
}
