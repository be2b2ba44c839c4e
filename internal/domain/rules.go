package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================
// Intent/scoring rules (signal matchers)
// ============================================================

// IntentTriggerKind is the single trigger kind an intent rule carries.
type IntentTriggerKind string

const (
	TriggerEventType         IntentTriggerKind = "event_type"
	TriggerLeadField         IntentTriggerKind = "lead_field"
	TriggerOrganizationField IntentTriggerKind = "organization_field"
)

// FieldCondition is the predicate applied by field-based rules.
// Exactly one of Pattern, Contains or In is set.
type FieldCondition struct {
	Field    string   `json:"field"`
	Pattern  string   `json:"pattern,omitempty"`  // regex match
	Contains []string `json:"contains,omitempty"` // any-substring match
	In       []string `json:"in,omitempty"`       // exact-set membership
}

// IntentRule declares when a lead earns intent points. Each rule has
// exactly one trigger kind.
type IntentRule struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Intent           Intent            `json:"intent"`
	ConfidencePoints int               `json:"confidence_points"`
	TriggerKind      IntentTriggerKind `json:"trigger_kind"`

	// event_type trigger
	EventType string         `json:"event_type,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"` // equality or {lt,gte} numeric operators

	// lead_field / organization_field trigger
	Condition *FieldCondition `json:"condition,omitempty"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// ============================================================
// Automation rules
// ============================================================

// AutomationTriggerKind is what fires an automation rule.
type AutomationTriggerKind string

const (
	AutoTriggerEvent          AutomationTriggerKind = "event"
	AutoTriggerScoreThreshold AutomationTriggerKind = "score_threshold"
	AutoTriggerIntentDetected AutomationTriggerKind = "intent_detected"
	AutoTriggerTimeInStage    AutomationTriggerKind = "time_in_stage"
	AutoTriggerStageChange    AutomationTriggerKind = "stage_change"
)

// TriggerConfig carries the parameters of an automation trigger. Only the
// fields relevant to the rule's kind are set.
type TriggerConfig struct {
	EventType     string         `json:"event_type,omitempty"`
	Source        string         `json:"source,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"` // equality match
	Threshold     int            `json:"threshold,omitempty"`
	Intent        Intent         `json:"intent,omitempty"`
	MinConfidence int            `json:"min_confidence,omitempty"`
	Days          int            `json:"days,omitempty"`
	ToStage       string         `json:"to_stage,omitempty"` // stage slug filter
	PipelineID    string         `json:"pipeline_id,omitempty"`
}

// AutomationRule reacts to events and stage transitions with a configured
// action. Rules are declarative: the engine loads them into memory and
// never mutates them beyond execution bookkeeping.
type AutomationRule struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	TriggerKind    AutomationTriggerKind `json:"trigger_kind"`
	Trigger        TriggerConfig         `json:"trigger"`
	Action         ActionConfig          `json:"action"`
	Priority       int                   `json:"priority"` // ascending execution order
	IsActive       bool                  `json:"is_active"`
	ExecutionCount int64                 `json:"execution_count"`
	LastExecuted   *time.Time            `json:"last_executed,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

// ============================================================
// Actions
// ============================================================

// ActionKind tags what an automation action does.
type ActionKind string

const (
	ActionMoveToStage      ActionKind = "move_to_stage"
	ActionAssignOwner      ActionKind = "assign_owner"
	ActionSendNotification ActionKind = "send_notification"
	ActionCreateTask       ActionKind = "create_task"
	ActionSyncMoco         ActionKind = "sync_moco"
	ActionUpdateField      ActionKind = "update_field"
	ActionRouteToPipeline  ActionKind = "route_to_pipeline"
)

// ActionConfig is the normalized, strongly-typed action payload. Stage
// automation configs arrive in two stored shapes (flat and legacy nested);
// DecodeActionConfigs normalizes both into this one type so the dispatcher
// never sniffs shapes at execution time.
type ActionConfig struct {
	Kind    ActionKind `json:"kind"`
	Enabled bool       `json:"enabled"`

	// move_to_stage / route_to_pipeline
	StageSlug    string `json:"stage_slug,omitempty"`
	PipelineSlug string `json:"pipeline_slug,omitempty"`
	CreateDeal   bool   `json:"create_deal,omitempty"`

	// assign_owner
	Strategy AssignmentStrategy `json:"strategy,omitempty"`
	Role     string             `json:"role,omitempty"`
	Region   string             `json:"region,omitempty"`

	// send_notification
	Channel string `json:"channel,omitempty"`
	Message string `json:"message,omitempty"` // template, {{dotted.key}} placeholders

	// create_task
	TaskTitle  string `json:"task_title,omitempty"` // template
	DueInDays  int    `json:"due_in_days,omitempty"`
	AssigneeID string `json:"assignee_id,omitempty"`

	// sync_moco
	EntityType string `json:"entity_type,omitempty"` // customer | offer | invoice
	SyncAction string `json:"sync_action,omitempty"` // create | update

	// update_field
	Field string `json:"field,omitempty"`
	Value string `json:"value,omitempty"`
}

// rawStageAction covers both stored shapes of a stage automation entry:
//
//	flat:   {"action": "create_task", "enabled": true, "config": {...}}
//	legacy: {"trigger": {"type": "stage_entry"}, "action": {"type": "create_task", ...}}
type rawStageAction struct {
	// flat shape
	Action  json.RawMessage `json:"action"`
	Config  json.RawMessage `json:"config"`
	Enabled *bool           `json:"enabled"`

	// legacy nested shape
	Trigger *struct {
		Type string `json:"type"`
	} `json:"trigger"`
}

// DecodeActionConfigs parses a stage automation_config JSON document into
// normalized ActionConfigs. It is called once at config load time.
func DecodeActionConfigs(data []byte) ([]ActionConfig, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raws []rawStageAction
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode automation_config: %w", err)
	}

	configs := make([]ActionConfig, 0, len(raws))
	for i, raw := range raws {
		var cfg ActionConfig
		cfg.Enabled = true

		switch {
		case raw.Trigger != nil:
			// Legacy nested shape: action is an object carrying its own type.
			var nested struct {
				Type ActionKind `json:"type"`
				ActionConfig
			}
			if err := json.Unmarshal(raw.Action, &nested); err != nil {
				return nil, fmt.Errorf("decode legacy action %d: %w", i, err)
			}
			cfg = nested.ActionConfig
			cfg.Kind = nested.Type
			cfg.Enabled = true

		case raw.Action != nil:
			// Flat shape: action is a string kind, params live under config.
			var kind ActionKind
			if err := json.Unmarshal(raw.Action, &kind); err != nil {
				return nil, fmt.Errorf("decode action kind %d: %w", i, err)
			}
			if len(raw.Config) > 0 {
				if err := json.Unmarshal(raw.Config, &cfg); err != nil {
					return nil, fmt.Errorf("decode action config %d: %w", i, err)
				}
			}
			cfg.Kind = kind
			cfg.Enabled = raw.Enabled == nil || *raw.Enabled

		default:
			return nil, fmt.Errorf("automation_config entry %d has no action", i)
		}

		configs = append(configs, cfg)
	}
	return configs, nil
}

// ActionResult is the non-throwing outcome of one action execution.
// Handled failures (validation, missing candidates) set Success=false with
// a Reason; unexpected errors are returned as errors by the dispatcher.
type ActionResult struct {
	Kind    ActionKind `json:"kind"`
	Success bool       `json:"success"`
	Reason  string     `json:"reason,omitempty"`
	Detail  string     `json:"detail,omitempty"`
}
