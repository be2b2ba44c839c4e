package service

import (
	"context"
	"fmt"
	"time"

	"github.com/korulabs/lead-engine/internal/domain"
	"github.com/korulabs/lead-engine/internal/infra/observability"
	"github.com/korulabs/lead-engine/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var actionTracer = otel.Tracer("service/actions")

// updatableLeadFields is the allow-list for the update_field action.
// Anything else is a handled failure, not a write.
var updatableLeadFields = map[string]bool{
	"status":          true,
	"lifecycle_stage": true,
	"primary_intent":  true,
}

// ActionContext carries the entities an action operates on. Deal may be nil
// for event-triggered rules on unrouted leads.
type ActionContext struct {
	Lead  *domain.Lead
	Deal  *domain.Deal
	Event *domain.Event
}

// actionHandler executes one action kind. Handled failures come back as an
// unsuccessful ActionResult; errors are reserved for store failures.
type actionHandler func(ctx context.Context, ac ActionContext, cfg domain.ActionConfig) (domain.ActionResult, error)

// profileReevaluator re-runs field-based intent rules against a lead's
// current profile. Satisfied by *Matcher.
type profileReevaluator interface {
	ReevaluateProfile(ctx context.Context, lead *domain.Lead) (domain.IntentResult, bool, error)
}

// Dispatcher maps action kinds to their handlers. Registration happens once
// in the constructor; an unregistered kind yields ErrUnknownAction.
type Dispatcher struct {
	handlers map[domain.ActionKind]actionHandler

	leads       port.LeadStore
	deals       port.DealStore
	pipelines   port.PipelineStore
	tasks       port.TaskStore
	enrollments port.EnrollmentStore
	assigner    *Assigner
	profiles    profileReevaluator
	queue       port.TaskQueue
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// NewDispatcher wires the action registry.
func NewDispatcher(
	leads port.LeadStore,
	deals port.DealStore,
	pipelines port.PipelineStore,
	tasks port.TaskStore,
	enrollments port.EnrollmentStore,
	assigner *Assigner,
	profiles profileReevaluator,
	queue port.TaskQueue,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Dispatcher {
	d := &Dispatcher{
		leads:       leads,
		deals:       deals,
		pipelines:   pipelines,
		tasks:       tasks,
		enrollments: enrollments,
		assigner:    assigner,
		profiles:    profiles,
		queue:       queue,
		metrics:     metrics,
		logger:      logger,
	}
	d.handlers = map[domain.ActionKind]actionHandler{
		domain.ActionMoveToStage:      d.moveToStage,
		domain.ActionAssignOwner:      d.assignOwner,
		domain.ActionSendNotification: d.sendNotification,
		domain.ActionCreateTask:       d.createTask,
		domain.ActionSyncMoco:         d.syncMoco,
		domain.ActionUpdateField:      d.updateField,
		domain.ActionRouteToPipeline:  d.routeToPipeline,
	}
	return d
}

// Execute dispatches cfg to its handler and records the action duration.
func (d *Dispatcher) Execute(ctx context.Context, ac ActionContext, cfg domain.ActionConfig) (domain.ActionResult, error) {
	ctx, span := actionTracer.Start(ctx, "Dispatcher.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("action.kind", string(cfg.Kind)))

	handler, ok := d.handlers[cfg.Kind]
	if !ok {
		return domain.ActionResult{Kind: cfg.Kind}, &domain.ErrUnknownAction{Kind: cfg.Kind}
	}

	start := time.Now()
	result, err := handler(ctx, ac, cfg)
	d.metrics.RecordActionDuration(cfg.Kind, time.Since(start))
	return result, err
}

// moveToStage moves the lead's open deal to another stage of its pipeline.
// Enrollments on the departed stage are paused best-effort.
func (d *Dispatcher) moveToStage(ctx context.Context, ac ActionContext, cfg domain.ActionConfig) (domain.ActionResult, error) {
	result := domain.ActionResult{Kind: domain.ActionMoveToStage}

	deal := ac.Deal
	if deal == nil {
		if ac.Lead == nil || ac.Lead.PipelineID == "" {
			result.Reason = "lead has no open deal"
			return result, nil
		}
		var err error
		deal, err = d.deals.GetOpenDeal(ctx, ac.Lead.ID, ac.Lead.PipelineID)
		if err != nil {
			if _, ok := err.(*domain.ErrNotFound); ok {
				result.Reason = "lead has no open deal"
				return result, nil
			}
			return result, err
		}
	}
	if deal.Status != domain.DealOpen {
		result.Reason = fmt.Sprintf("deal is %s", deal.Status)
		return result, nil
	}

	stage, err := d.pipelines.GetStageBySlug(ctx, deal.PipelineID, cfg.StageSlug)
	if err != nil {
		if _, ok := err.(*domain.ErrNotFound); ok {
			result.Reason = fmt.Sprintf("stage %q not in pipeline", cfg.StageSlug)
			return result, nil
		}
		return result, err
	}
	if stage.ID == deal.StageID {
		result.Success = true
		result.Detail = "already on stage"
		return result, nil
	}

	fromStage := deal.StageID
	if err := d.deals.UpdateDealStage(ctx, deal.ID, stage.ID, time.Now()); err != nil {
		return result, err
	}

	// Pausing sequences on the departed stage must not fail the move.
	if paused, err := d.enrollments.PauseEnrollments(ctx, deal.ID, fromStage); err != nil {
		d.logger.Warn("failed to pause sequence enrollments",
			zap.String("deal_id", deal.ID), zap.Error(err))
	} else if paused > 0 {
		d.logger.Info("paused sequence enrollments",
			zap.String("deal_id", deal.ID), zap.Int("paused", paused))
	}

	result.Success = true
	result.Detail = fmt.Sprintf("moved to %s", stage.Slug)
	return result, nil
}

func (d *Dispatcher) assignOwner(ctx context.Context, ac ActionContext, cfg domain.ActionConfig) (domain.ActionResult, error) {
	result := domain.ActionResult{Kind: domain.ActionAssignOwner}

	deal := ac.Deal
	if deal == nil {
		if ac.Lead == nil || ac.Lead.PipelineID == "" {
			result.Reason = "lead has no open deal"
			return result, nil
		}
		var err error
		deal, err = d.deals.GetOpenDeal(ctx, ac.Lead.ID, ac.Lead.PipelineID)
		if err != nil {
			if _, ok := err.(*domain.ErrNotFound); ok {
				result.Reason = "lead has no open deal"
				return result, nil
			}
			return result, err
		}
	}

	strategy := cfg.Strategy
	if strategy == "" {
		strategy = domain.AssignRoundRobin
	}
	member, err := d.assigner.Assign(ctx, deal, strategy, cfg.Role, cfg.Region)
	if err != nil {
		if _, ok := err.(*domain.ErrValidation); ok {
			result.Reason = err.Error()
			return result, nil
		}
		return result, err
	}
	if member == nil {
		result.Reason = "no eligible member with capacity"
		return result, nil
	}
	result.Success = true
	result.Detail = member.ID
	return result, nil
}

// sendNotification renders the message template and hands it to the queue.
func (d *Dispatcher) sendNotification(ctx context.Context, ac ActionContext, cfg domain.ActionConfig) (domain.ActionResult, error) {
	result := domain.ActionResult{Kind: domain.ActionSendNotification}

	channel := cfg.Channel
	if channel == "" {
		channel = "sales"
	}
	message := RenderTemplate(cfg.Message, TemplateContext(ac.Lead, ac.Deal, nil))

	err := d.queue.Add(ctx, "notification.send", map[string]any{
		"kind":    "automation",
		"channel": channel,
		"message": message,
	}, port.QueueOptions{})
	if err != nil {
		return result, err
	}
	result.Success = true
	return result, nil
}

func (d *Dispatcher) createTask(ctx context.Context, ac ActionContext, cfg domain.ActionConfig) (domain.ActionResult, error) {
	result := domain.ActionResult{Kind: domain.ActionCreateTask}

	title := RenderTemplate(cfg.TaskTitle, TemplateContext(ac.Lead, ac.Deal, nil))
	if title == "" {
		result.Reason = "empty task title"
		return result, nil
	}

	dueInDays := cfg.DueInDays
	if dueInDays <= 0 {
		dueInDays = 1
	}
	task := &domain.Task{
		ID:         uuid.New().String(),
		Title:      title,
		AssignedTo: cfg.AssigneeID,
		DueAt:      time.Now().AddDate(0, 0, dueInDays),
		CreatedAt:  time.Now(),
	}
	if ac.Lead != nil {
		task.LeadID = ac.Lead.ID
	}
	if ac.Deal != nil {
		task.DealID = ac.Deal.ID
		if task.AssignedTo == "" {
			task.AssignedTo = ac.Deal.AssignedTo
		}
	}

	if err := d.tasks.CreateTask(ctx, task); err != nil {
		return result, err
	}
	result.Success = true
	result.Detail = task.ID
	return result, nil
}

// syncMoco is fire-and-forget: the actual external call runs on the queue so
// a slow CRM never blocks rule processing.
func (d *Dispatcher) syncMoco(ctx context.Context, ac ActionContext, cfg domain.ActionConfig) (domain.ActionResult, error) {
	result := domain.ActionResult{Kind: domain.ActionSyncMoco}

	if ac.Lead == nil {
		result.Reason = "no lead in action context"
		return result, nil
	}
	entity := cfg.EntityType
	if entity == "" {
		entity = "customer"
	}

	payload := map[string]any{
		"entity_type": entity,
		"sync_action": cfg.SyncAction,
		"lead_id":     ac.Lead.ID,
	}
	if ac.Deal != nil {
		payload["deal_id"] = ac.Deal.ID
	}
	err := d.queue.Add(ctx, "moco.sync", payload, port.QueueOptions{
		JobID: fmt.Sprintf("moco.sync:%s:%s", entity, ac.Lead.ID),
	})
	if err != nil {
		return result, err
	}
	result.Success = true
	return result, nil
}

func (d *Dispatcher) updateField(ctx context.Context, ac ActionContext, cfg domain.ActionConfig) (domain.ActionResult, error) {
	result := domain.ActionResult{Kind: domain.ActionUpdateField}

	if ac.Lead == nil {
		result.Reason = "no lead in action context"
		return result, nil
	}
	if !updatableLeadFields[cfg.Field] {
		result.Reason = fmt.Sprintf("field %q is not updatable", cfg.Field)
		return result, nil
	}
	if cfg.Field == "primary_intent" && !domain.Intent(cfg.Value).Valid() {
		result.Reason = fmt.Sprintf("invalid intent %q", cfg.Value)
		return result, nil
	}

	if err := d.leads.UpdateLeadField(ctx, ac.Lead.ID, cfg.Field, cfg.Value); err != nil {
		return result, err
	}
	result.Success = true

	// The written field may match field-based intent rules, so the lead's
	// profile is re-evaluated against the fresh row. Failures here don't
	// undo the field write.
	if d.profiles != nil {
		fresh, err := d.leads.GetLead(ctx, ac.Lead.ID)
		if err == nil {
			_, _, err = d.profiles.ReevaluateProfile(ctx, fresh)
		}
		if err != nil {
			d.logger.Warn("profile re-evaluation after field update failed",
				zap.String("lead_id", ac.Lead.ID),
				zap.String("field", cfg.Field),
				zap.Error(err))
		}
	}
	return result, nil
}

// routeToPipeline places the lead into an explicit pipeline's entry stage,
// independent of intent. Insertion is conflict-free: an existing deal for
// the same lead and pipeline wins.
func (d *Dispatcher) routeToPipeline(ctx context.Context, ac ActionContext, cfg domain.ActionConfig) (domain.ActionResult, error) {
	result := domain.ActionResult{Kind: domain.ActionRouteToPipeline}

	if ac.Lead == nil {
		result.Reason = "no lead in action context"
		return result, nil
	}
	pipeline, err := d.pipelines.GetPipelineBySlug(ctx, cfg.PipelineSlug)
	if err != nil {
		if _, ok := err.(*domain.ErrNotFound); ok {
			result.Reason = fmt.Sprintf("pipeline %q not found", cfg.PipelineSlug)
			return result, nil
		}
		return result, err
	}
	stage, err := d.pipelines.GetFirstStage(ctx, pipeline.ID)
	if err != nil {
		return result, err
	}

	now := time.Now()
	err = d.deals.InsertDealIfAbsent(ctx, &domain.Deal{
		ID:             uuid.New().String(),
		LeadID:         ac.Lead.ID,
		PipelineID:     pipeline.ID,
		StageID:        stage.ID,
		Status:         domain.DealOpen,
		StageEnteredAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return result, err
	}
	if err := d.leads.UpdateLeadRouting(ctx, ac.Lead.ID, domain.RoutingRouted, pipeline.ID, &now); err != nil {
		return result, err
	}
	result.Success = true
	result.Detail = pipeline.Slug
	return result, nil
}
