package domain

// RoutingAction is the discriminant of a routing evaluation outcome.
// Callers receive these instead of errors for expected outcomes.
type RoutingAction string

const (
	RouteSkip         RoutingAction = "skip"
	RouteWait         RoutingAction = "wait"
	RouteRouted       RoutingAction = "routed"
	RouteManualReview RoutingAction = "manual_review"
)

// RoutingReason explains why the router landed on an outcome.
type RoutingReason string

const (
	ReasonAlreadyRouted          RoutingReason = "already_routed"
	ReasonScoreBelowThreshold    RoutingReason = "score_below_threshold"
	ReasonInsufficientConfidence RoutingReason = "insufficient_confidence"
	ReasonIntentConflict         RoutingReason = "intent_conflict"
	ReasonStuckInPool            RoutingReason = "stuck_in_pool"
)

// RoutingResult is the discriminated outcome of EvaluateAndRoute.
type RoutingResult struct {
	Action     RoutingAction `json:"action"`
	Reason     RoutingReason `json:"reason,omitempty"`
	PipelineID string        `json:"pipeline_id,omitempty"`
	DealID     string        `json:"deal_id,omitempty"`
	AssigneeID string        `json:"assignee_id,omitempty"`
	Intent     IntentResult  `json:"intent,omitempty"`
}

// EngineStats is a cumulative counter snapshot for the stats endpoint.
type EngineStats struct {
	EventsProcessed int64   `json:"events_processed"`
	LeadsRouted     int64   `json:"leads_routed"`
	ManualReviews   int64   `json:"manual_reviews"`
	Waits           int64   `json:"waits"`
	Skips           int64   `json:"skips"`
	RuleExecutions  int64   `json:"rule_executions"`
	RuleFailureRate float64 `json:"rule_failure_rate"`
	SignalsRecorded int64   `json:"signals_recorded"`
	Period          string  `json:"period"`
}
