// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/korulabs/lead-engine/internal/domain"
)

// LeadStore defines persistence operations on leads.
type LeadStore interface {
	GetLead(ctx context.Context, id string) (*domain.Lead, error)
	GetLeadByEmail(ctx context.Context, email string) (*domain.Lead, error)
	CreateLead(ctx context.Context, lead *domain.Lead) error
	UpdateLeadIntent(ctx context.Context, leadID string, res domain.IntentResult) error
	UpdateLeadRouting(ctx context.Context, leadID string, status domain.RoutingStatus, pipelineID string, routedAt *time.Time) error
	UpdateLeadScore(ctx context.Context, leadID string, total, fit, engagement, intent int) error
	UpdateLeadField(ctx context.Context, leadID, field, value string) error
	SetLeadExternalID(ctx context.Context, leadID, externalID string) error
	TouchLeadAttribution(ctx context.Context, leadID, source, campaign string, at time.Time) error
}

// SignalStore is the append-only intent signal record.
type SignalStore interface {
	ListSignals(ctx context.Context, leadID string) ([]domain.IntentSignal, error)
	HasSignal(ctx context.Context, leadID, ruleID string) (bool, error)
	InsertSignal(ctx context.Context, sig *domain.IntentSignal) error
	ClearSignals(ctx context.Context, leadID string) error
}

// DealStore defines persistence operations on deals.
type DealStore interface {
	GetDeal(ctx context.Context, id string) (*domain.Deal, error)
	GetOpenDeal(ctx context.Context, leadID, pipelineID string) (*domain.Deal, error)
	// UpsertDeal inserts the deal or, on conflict by (lead_id, pipeline_id),
	// updates the stage and stage_entered_at of the existing open deal.
	// The returned deal is the surviving row.
	UpsertDeal(ctx context.Context, deal *domain.Deal) (*domain.Deal, error)
	// InsertDealIfAbsent inserts the deal, doing nothing on conflict.
	InsertDealIfAbsent(ctx context.Context, deal *domain.Deal) error
	UpdateDealStage(ctx context.Context, dealID, stageID string, enteredAt time.Time) error
	AssignDeal(ctx context.Context, dealID, memberID string, at time.Time) error
	CloseDeal(ctx context.Context, dealID string, status domain.DealStatus, at time.Time) error
	ReopenDeal(ctx context.Context, dealID string) error
	// ListOpenDeals returns all deals with status open, for periodic sweeps.
	ListOpenDeals(ctx context.Context) ([]*domain.Deal, error)
}

// PipelineStore resolves pipelines and stages.
type PipelineStore interface {
	GetPipeline(ctx context.Context, id string) (*domain.Pipeline, error)
	GetPipelineBySlug(ctx context.Context, slug string) (*domain.Pipeline, error)
	GetFirstStage(ctx context.Context, pipelineID string) (*domain.PipelineStage, error)
	GetStage(ctx context.Context, stageID string) (*domain.PipelineStage, error)
	GetStageBySlug(ctx context.Context, pipelineID, slug string) (*domain.PipelineStage, error)
}

// RuleStore loads declarative rules and records execution bookkeeping.
type RuleStore interface {
	ListIntentRules(ctx context.Context) ([]domain.IntentRule, error)
	// ListAutomationRules returns active rules ordered by ascending priority.
	ListAutomationRules(ctx context.Context) ([]domain.AutomationRule, error)
	IncrementRuleExecution(ctx context.Context, ruleID string, at time.Time) error
	AppendAutomationLog(ctx context.Context, entry *domain.AutomationLogEntry) error
	// HasSuccessLog reports whether a rule already fired successfully for a
	// lead (used by one-shot triggers like score_threshold).
	HasSuccessLog(ctx context.Context, leadID, ruleID string) (bool, error)
}

// TeamStore defines operations on team members for owner assignment.
type TeamStore interface {
	ListActiveMembers(ctx context.Context, role, region string) ([]domain.TeamMember, error)
	// ClaimMemberSlot atomically increments current_leads if and only if the
	// member is still under capacity. Returns false when the slot was gone.
	ClaimMemberSlot(ctx context.Context, memberID string) (bool, error)
	ReleaseMemberSlot(ctx context.Context, memberID string) error
}

// TaskStore persists follow-up tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task *domain.Task) error
}

// EnrollmentStore manages email-sequence enrollments tied to stages.
type EnrollmentStore interface {
	// PauseEnrollments pauses all active enrollments of the deal on the given
	// stage and returns how many were paused.
	PauseEnrollments(ctx context.Context, dealID, stageID string) (int, error)
}

// OrganizationStore resolves a lead's organization for field-based rules.
type OrganizationStore interface {
	GetOrganization(ctx context.Context, id string) (*domain.Organization, error)
}

// QueueOptions tune enqueue behavior.
type QueueOptions struct {
	Priority int
	Delay    time.Duration
	JobID    string // dedupe key; empty means no deduplication
}

// TaskQueue is the async task-dispatch interface. Delivery is at-least-once;
// consumers are outside this core.
type TaskQueue interface {
	Add(ctx context.Context, jobName string, payload map[string]any, opts QueueOptions) error
}

// Notifier delivers a message to a named channel.
type Notifier interface {
	Send(ctx context.Context, channel, message string) error
}

// MailSender delivers templated email.
type MailSender interface {
	Send(ctx context.Context, msg *domain.MailMessage) (*domain.MailResult, error)
}

// MocoClient creates entities in the external CRM/accounting system.
// Each call returns the external ID to persist back onto the local entity.
type MocoClient interface {
	CreateCustomer(ctx context.Context, c *domain.MocoCustomer) (string, error)
	CreateOffer(ctx context.Context, o *domain.MocoOffer) (string, error)
	CreateInvoice(ctx context.Context, i *domain.MocoInvoice) (string, error)
}

// BookingClient generates scheduling links.
type BookingClient interface {
	GenerateBookingLink(ctx context.Context, leadID string) (*domain.BookingLink, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
