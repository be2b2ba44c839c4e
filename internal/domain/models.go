// Package domain contains the core entities of the lead-to-revenue engine:
// leads, intent signals, deals, pipelines, rules and team members.
package domain

import "time"

// ============================================================
// Intent
// ============================================================

// Intent classifies a lead's likely interest into one of three buckets.
type Intent string

const (
	IntentResearch   Intent = "research"
	IntentB2B        Intent = "b2b"
	IntentCoCreation Intent = "co_creation"
)

// Intents lists all intent buckets in canonical order. The order matters:
// it is the tie-break order when two buckets carry equal points.
var Intents = []Intent{IntentResearch, IntentB2B, IntentCoCreation}

// Valid reports whether i is one of the three known buckets.
func (i Intent) Valid() bool {
	switch i {
	case IntentResearch, IntentB2B, IntentCoCreation:
		return true
	}
	return false
}

// IntentResult is the output of the intent confidence calculation.
type IntentResult struct {
	PrimaryIntent    Intent         `json:"primary_intent"` // empty when no signals
	Confidence       int            `json:"intent_confidence"`
	Summary          map[Intent]int `json:"intent_summary"`
	IsRoutable       bool           `json:"is_routable"`
	ConflictDetected bool           `json:"conflict_detected"`
}

// IntentSignal is one point-scoring observation tying a lead to an intent
// via a matched rule. At most one signal exists per (lead, rule) pair.
// Signals are immutable once recorded.
type IntentSignal struct {
	ID               string         `json:"id"`
	LeadID           string         `json:"lead_id"`
	Intent           Intent         `json:"intent"`
	RuleID           string         `json:"rule_id"`
	ConfidencePoints int            `json:"confidence_points"`
	TriggerType      string         `json:"trigger_type"`
	EventID          string         `json:"event_id,omitempty"`
	TriggerData      map[string]any `json:"trigger_data,omitempty"`
	DetectedAt       time.Time      `json:"detected_at"`
}

// ============================================================
// Lead
// ============================================================

// RoutingStatus tracks where a lead sits in the routing state machine.
type RoutingStatus string

const (
	RoutingUnrouted     RoutingStatus = "unrouted"
	RoutingPending      RoutingStatus = "pending"
	RoutingRouted       RoutingStatus = "routed"
	RoutingManualReview RoutingStatus = "manual_review"
)

// Lead is the central entity. Invariant: PipelineID is non-empty iff
// RoutingStatus == RoutingRouted.
type Lead struct {
	ID             string `json:"id"`
	Email          string `json:"email"` // unique
	FirstName      string `json:"first_name,omitempty"`
	LastName       string `json:"last_name,omitempty"`
	Company        string `json:"company,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	ExternalID     string `json:"external_id,omitempty"` // CRM/accounting customer id

	// Lifecycle fields mutable through the update_field action.
	Status         string `json:"status,omitempty"`
	LifecycleStage string `json:"lifecycle_stage,omitempty"`

	// Scoring
	TotalScore      int `json:"total_score"`
	FitScore        int `json:"fit_score"`
	EngagementScore int `json:"engagement_score"`
	IntentScore     int `json:"intent_score"`

	// Intent
	PrimaryIntent    Intent         `json:"primary_intent,omitempty"`
	IntentConfidence int            `json:"intent_confidence"`
	IntentSummary    map[Intent]int `json:"intent_summary,omitempty"`

	// Routing
	RoutingStatus RoutingStatus `json:"routing_status"`
	PipelineID    string        `json:"pipeline_id,omitempty"`
	RoutedAt      *time.Time    `json:"routed_at,omitempty"`

	// Attribution
	FirstTouchSource   string     `json:"first_touch_source,omitempty"`
	FirstTouchCampaign string     `json:"first_touch_campaign,omitempty"`
	FirstTouchAt       *time.Time `json:"first_touch_at,omitempty"`
	LastTouchSource    string     `json:"last_touch_source,omitempty"`
	LastTouchCampaign  string     `json:"last_touch_campaign,omitempty"`
	LastTouchAt        *time.Time `json:"last_touch_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Organization groups leads belonging to the same company account.
// Used by organization_field rule triggers.
type Organization struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Domain    string         `json:"domain,omitempty"`
	Industry  string         `json:"industry,omitempty"`
	SizeBand  string         `json:"size_band,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Event is a marketing/product event attributed to a lead.
type Event struct {
	ID         string         `json:"id"`
	LeadID     string         `json:"lead_id"`
	Type       string         `json:"type"`
	Source     string         `json:"source,omitempty"`
	Campaign   string         `json:"campaign,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// ============================================================
// Deals & pipelines
// ============================================================

// DealStatus is the lifecycle state of a deal. open→won and open→lost are
// one-way; reopening is a separate explicit operation.
type DealStatus string

const (
	DealOpen DealStatus = "open"
	DealWon  DealStatus = "won"
	DealLost DealStatus = "lost"
)

// Deal is a sales opportunity. Invariant: exactly one open deal per
// (lead_id, pipeline_id), enforced by upsert-on-conflict in the store.
type Deal struct {
	ID             string     `json:"id"`
	LeadID         string     `json:"lead_id"`
	PipelineID     string     `json:"pipeline_id"`
	StageID        string     `json:"stage_id"`
	Position       int        `json:"position"`
	Status         DealStatus `json:"status"`
	Value          float64    `json:"value"`
	AssignedTo     string     `json:"assigned_to,omitempty"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`
	StageEnteredAt time.Time  `json:"stage_entered_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Pipeline is a sales pipeline leads get routed into.
type Pipeline struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"` // unique
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// PipelineStage is one column of a pipeline. Automation holds the
// stage-entry action configs, already normalized from their stored
// shapes (flat or legacy nested) at decode time.
type PipelineStage struct {
	ID         string         `json:"id"`
	PipelineID string         `json:"pipeline_id"`
	Slug       string         `json:"slug"`
	Name       string         `json:"name"`
	Position   int            `json:"position"`
	Automation []ActionConfig `json:"automation,omitempty"`
}

// ============================================================
// Team
// ============================================================

// TeamMember is a sales person deals can be assigned to.
// CurrentLeads is a denormalized counter; the capacity check and the
// increment happen in a single conditional UPDATE in the store.
type TeamMember struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	Region       string `json:"region,omitempty"`
	IsActive     bool   `json:"is_active"`
	CurrentLeads int    `json:"current_leads"`
	MaxLeads     int    `json:"max_leads"`
}

// AssignmentStrategy selects how an owner is picked for a routed deal.
type AssignmentStrategy string

const (
	AssignRoundRobin    AssignmentStrategy = "round_robin"
	AssignCapacityBased AssignmentStrategy = "capacity_based"
	AssignManual        AssignmentStrategy = "manual"
	AssignNotifyOnly    AssignmentStrategy = "notify_only"
)

// ============================================================
// Tasks, logs, enrollments
// ============================================================

// Task is a follow-up item created by the create_task action.
type Task struct {
	ID         string    `json:"id"`
	LeadID     string    `json:"lead_id,omitempty"`
	DealID     string    `json:"deal_id,omitempty"`
	Title      string    `json:"title"`
	AssignedTo string    `json:"assigned_to,omitempty"`
	DueAt      time.Time `json:"due_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// AutomationLogEntry is an audit record of one rule execution.
// Writing it is best-effort: a log failure never fails the triggering flow.
type AutomationLogEntry struct {
	ID         string     `json:"id"`
	RuleID     string     `json:"rule_id"`
	LeadID     string     `json:"lead_id,omitempty"`
	DealID     string     `json:"deal_id,omitempty"`
	ActionKind ActionKind `json:"action_kind"`
	Success    bool       `json:"success"`
	Detail     string     `json:"detail,omitempty"`
	ExecutedAt time.Time  `json:"executed_at"`
}

// SequenceEnrollment tracks a deal's membership in an email sequence tied
// to a pipeline stage. Moving the deal out of the stage pauses it.
type SequenceEnrollment struct {
	ID        string    `json:"id"`
	DealID    string    `json:"deal_id"`
	StageID   string    `json:"stage_id"`
	Status    string    `json:"status"` // active | paused | finished
	CreatedAt time.Time `json:"created_at"`
}

// ============================================================
// External collaborator payloads
// ============================================================

// MailMessage is a templated outbound email.
type MailMessage struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
}

// MailResult reports the outcome of a mail send.
type MailResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// MocoCustomer is the payload for creating a customer in the external
// CRM/accounting system.
type MocoCustomer struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company,omitempty"`
	LeadID  string `json:"lead_id"`
}

// MocoOffer is the payload for creating an offer.
type MocoOffer struct {
	CustomerID string  `json:"customer_id"`
	Title      string  `json:"title"`
	Value      float64 `json:"value"`
	DealID     string  `json:"deal_id"`
}

// MocoInvoice is the payload for creating an invoice.
type MocoInvoice struct {
	CustomerID string  `json:"customer_id"`
	Title      string  `json:"title"`
	Value      float64 `json:"value"`
	DealID     string  `json:"deal_id"`
}

// BookingLink is a scheduling link generated by the booking system.
type BookingLink struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}
