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

var engineTracer = otel.Tracer("service/engine")

// Engine evaluates automation rules against events and stage changes.
// Rules run sequentially in ascending priority; each rule is isolated so
// one failing rule never prevents later rules from running.
type Engine struct {
	rules      *RuleRepository
	ruleStore  port.RuleStore
	leads      port.LeadStore
	deals      port.DealStore
	dispatcher *Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewEngine creates the automation engine.
func NewEngine(
	rules *RuleRepository,
	ruleStore port.RuleStore,
	leads port.LeadStore,
	deals port.DealStore,
	dispatcher *Dispatcher,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		rules:      rules,
		ruleStore:  ruleStore,
		leads:      leads,
		deals:      deals,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
	}
}

// ProcessEvent runs every active event-reactive rule against one event.
// Returns the per-rule results; the error slot is reserved for failures to
// load the lead itself.
func (e *Engine) ProcessEvent(ctx context.Context, event *domain.Event) ([]domain.ActionResult, error) {
	ctx, span := engineTracer.Start(ctx, "Engine.ProcessEvent")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.type", event.Type),
		attribute.String("lead.id", event.LeadID),
	)

	lead, err := e.leads.GetLead(ctx, event.LeadID)
	if err != nil {
		return nil, err
	}
	ac := ActionContext{Lead: lead, Event: event}

	var results []domain.ActionResult
	for _, rule := range e.rules.AutomationRules() {
		if !rule.IsActive {
			continue
		}
		match, err := e.triggerMatches(ctx, &rule, lead, event)
		if err != nil {
			e.logger.Error("trigger evaluation failed",
				zap.String("rule_id", rule.ID), zap.Error(err))
			e.metrics.IncrRuleExecution("error")
			continue
		}
		if !match {
			continue
		}
		result := e.runRule(ctx, &rule, ac)
		results = append(results, result)

		// Rules run in priority order so later rules may depend on state
		// mutated by earlier ones: a field update can arm an intent or
		// score trigger within the same pass. Reload so they see it.
		if result.Success && mutatesLead(rule.Action.Kind) {
			if fresh := e.reloadLead(ctx, event.LeadID); fresh != nil {
				lead = fresh
				ac.Lead = fresh
			}
		}
	}
	return results, nil
}

// ProcessScoreChange runs score_threshold rules for one lead after its
// score changed. Routing re-evaluation is the caller's follow-up.
func (e *Engine) ProcessScoreChange(ctx context.Context, leadID string) ([]domain.ActionResult, error) {
	ctx, span := engineTracer.Start(ctx, "Engine.ProcessScoreChange")
	defer span.End()
	span.SetAttributes(attribute.String("lead.id", leadID))

	lead, err := e.leads.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	ac := ActionContext{Lead: lead}

	var results []domain.ActionResult
	for _, rule := range e.rules.AutomationRules() {
		if !rule.IsActive || rule.TriggerKind != domain.AutoTriggerScoreThreshold {
			continue
		}
		if lead.TotalScore < rule.Trigger.Threshold {
			continue
		}
		fired, err := e.ruleStore.HasSuccessLog(ctx, lead.ID, rule.ID)
		if err != nil {
			e.logger.Error("trigger evaluation failed",
				zap.String("rule_id", rule.ID), zap.Error(err))
			e.metrics.IncrRuleExecution("error")
			continue
		}
		if fired {
			continue
		}
		result := e.runRule(ctx, &rule, ac)
		results = append(results, result)
		if result.Success && mutatesLead(rule.Action.Kind) {
			if fresh := e.reloadLead(ctx, leadID); fresh != nil {
				lead = fresh
				ac.Lead = fresh
			}
		}
	}
	return results, nil
}

// ProcessStageChange fires the destination stage's entry automation, then
// the stage_change rules. Closed deals never trigger automation.
func (e *Engine) ProcessStageChange(ctx context.Context, deal *domain.Deal, toStage *domain.PipelineStage) ([]domain.ActionResult, error) {
	ctx, span := engineTracer.Start(ctx, "Engine.ProcessStageChange")
	defer span.End()
	span.SetAttributes(
		attribute.String("deal.id", deal.ID),
		attribute.String("stage.slug", toStage.Slug),
	)

	if deal.Status != domain.DealOpen {
		return nil, nil
	}
	lead, err := e.leads.GetLead(ctx, deal.LeadID)
	if err != nil {
		return nil, err
	}
	ac := ActionContext{Lead: lead, Deal: deal}

	var results []domain.ActionResult
	for _, cfg := range toStage.Automation {
		if !cfg.Enabled {
			continue
		}
		result := e.runStageAction(ctx, ac, cfg, toStage)
		results = append(results, result)
		if result.Success && mutatesLead(cfg.Kind) {
			if fresh := e.reloadLead(ctx, deal.LeadID); fresh != nil {
				ac.Lead = fresh
			}
		}
	}

	for _, rule := range e.rules.AutomationRules() {
		if !rule.IsActive || rule.TriggerKind != domain.AutoTriggerStageChange {
			continue
		}
		if rule.Trigger.ToStage != "" && rule.Trigger.ToStage != toStage.Slug {
			continue
		}
		if rule.Trigger.PipelineID != "" && rule.Trigger.PipelineID != deal.PipelineID {
			continue
		}
		result := e.runRule(ctx, &rule, ac)
		results = append(results, result)
		if result.Success && mutatesLead(rule.Action.Kind) {
			if fresh := e.reloadLead(ctx, deal.LeadID); fresh != nil {
				ac.Lead = fresh
			}
		}
	}
	return results, nil
}

// SweepTimeInStage evaluates time_in_stage rules against one open deal.
// Intended to be called periodically per deal by a scheduler.
func (e *Engine) SweepTimeInStage(ctx context.Context, deal *domain.Deal) ([]domain.ActionResult, error) {
	if deal.Status != domain.DealOpen {
		return nil, nil
	}
	lead, err := e.leads.GetLead(ctx, deal.LeadID)
	if err != nil {
		return nil, err
	}
	ac := ActionContext{Lead: lead, Deal: deal}

	var results []domain.ActionResult
	for _, rule := range e.rules.AutomationRules() {
		if !rule.IsActive || rule.TriggerKind != domain.AutoTriggerTimeInStage {
			continue
		}
		if rule.Trigger.PipelineID != "" && rule.Trigger.PipelineID != deal.PipelineID {
			continue
		}
		if daysSince(deal.StageEnteredAt) < rule.Trigger.Days {
			continue
		}
		if fired, err := e.ruleStore.HasSuccessLog(ctx, lead.ID, rule.ID); err != nil || fired {
			continue
		}
		results = append(results, e.runRule(ctx, &rule, ac))
	}
	return results, nil
}

// StartSweeper runs the time_in_stage sweep over all open deals on the given
// interval until ctx is cancelled. Sweep failures are logged and retried on
// the next tick.
func (e *Engine) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.sweepOnce(ctx)
			}
		}
	}()
}

func (e *Engine) sweepOnce(ctx context.Context) {
	ctx, span := engineTracer.Start(ctx, "Engine.sweepOnce")
	defer span.End()

	deals, err := e.deals.ListOpenDeals(ctx)
	if err != nil {
		e.logger.Warn("time-in-stage sweep failed to list deals", zap.Error(err))
		return
	}
	for _, deal := range deals {
		if _, err := e.SweepTimeInStage(ctx, deal); err != nil {
			e.logger.Warn("time-in-stage sweep failed for deal",
				zap.String("deal_id", deal.ID), zap.Error(err))
		}
	}
}

// runRule executes one rule's action with full isolation: handler errors and
// panics are converted into failed results and logged, never propagated.
func (e *Engine) runRule(ctx context.Context, rule *domain.AutomationRule, ac ActionContext) (result domain.ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			result = domain.ActionResult{
				Kind:   rule.Action.Kind,
				Reason: fmt.Sprintf("panic: %v", r),
			}
			e.logger.Error("automation rule panicked",
				zap.String("rule_id", rule.ID),
				zap.Any("panic", r),
			)
			e.metrics.IncrRuleExecution("panic")
			e.appendLog(ctx, rule, ac, result)
		}
	}()

	result, err := e.dispatcher.Execute(ctx, ac, rule.Action)
	if err != nil {
		result.Success = false
		if result.Reason == "" {
			result.Reason = err.Error()
		}
		e.logger.Error("automation rule failed",
			zap.String("rule_id", rule.ID),
			zap.String("rule_name", rule.Name),
			zap.String("action", string(rule.Action.Kind)),
			zap.Error(err),
		)
		e.metrics.IncrRuleExecution("failure")
		e.appendLog(ctx, rule, ac, result)
		return result
	}

	if result.Success {
		e.metrics.IncrRuleExecution("success")
		// Bookkeeping is best-effort: the action already happened.
		if err := e.ruleStore.IncrementRuleExecution(ctx, rule.ID, time.Now()); err != nil {
			e.logger.Warn("failed to record rule execution",
				zap.String("rule_id", rule.ID), zap.Error(err))
		}
	} else {
		e.metrics.IncrRuleExecution("handled_failure")
	}
	e.appendLog(ctx, rule, ac, result)
	return result
}

// runStageAction executes one stage-entry action config with the same
// isolation guarantees as runRule, but without rule bookkeeping.
func (e *Engine) runStageAction(ctx context.Context, ac ActionContext, cfg domain.ActionConfig, stage *domain.PipelineStage) (result domain.ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			result = domain.ActionResult{
				Kind:   cfg.Kind,
				Reason: fmt.Sprintf("panic: %v", r),
			}
			e.logger.Error("stage automation panicked",
				zap.String("stage_id", stage.ID), zap.Any("panic", r))
			e.metrics.IncrRuleExecution("panic")
		}
	}()

	result, err := e.dispatcher.Execute(ctx, ac, cfg)
	if err != nil {
		result.Success = false
		if result.Reason == "" {
			result.Reason = err.Error()
		}
		e.logger.Error("stage automation failed",
			zap.String("stage_id", stage.ID),
			zap.String("action", string(cfg.Kind)),
			zap.Error(err),
		)
		e.metrics.IncrRuleExecution("failure")
		return result
	}
	e.metrics.IncrRuleExecution("success")
	return result
}

func (e *Engine) appendLog(ctx context.Context, rule *domain.AutomationRule, ac ActionContext, result domain.ActionResult) {
	entry := &domain.AutomationLogEntry{
		ID:         uuid.New().String(),
		RuleID:     rule.ID,
		ActionKind: result.Kind,
		Success:    result.Success,
		Detail:     firstNonEmpty(result.Detail, result.Reason),
		ExecutedAt: time.Now(),
	}
	if ac.Lead != nil {
		entry.LeadID = ac.Lead.ID
	}
	if ac.Deal != nil {
		entry.DealID = ac.Deal.ID
	}
	if err := e.ruleStore.AppendAutomationLog(ctx, entry); err != nil {
		e.logger.Warn("failed to append automation log",
			zap.String("rule_id", rule.ID), zap.Error(err))
	}
}

// triggerMatches decides whether an event-reactive rule fires for the event.
func (e *Engine) triggerMatches(ctx context.Context, rule *domain.AutomationRule, lead *domain.Lead, event *domain.Event) (bool, error) {
	switch rule.TriggerKind {
	case domain.AutoTriggerEvent:
		if rule.Trigger.EventType != "" && rule.Trigger.EventType != event.Type {
			return false, nil
		}
		if rule.Trigger.Source != "" && rule.Trigger.Source != event.Source {
			return false, nil
		}
		for k, want := range rule.Trigger.Metadata {
			got, ok := event.Metadata[k]
			if !ok || !looseEqual(got, want) {
				return false, nil
			}
		}
		return true, nil

	case domain.AutoTriggerScoreThreshold:
		// One-shot: fires when the score sits at or above the threshold and
		// the rule has not succeeded for this lead before.
		if lead.TotalScore < rule.Trigger.Threshold {
			return false, nil
		}
		fired, err := e.ruleStore.HasSuccessLog(ctx, lead.ID, rule.ID)
		if err != nil {
			return false, err
		}
		return !fired, nil

	case domain.AutoTriggerIntentDetected:
		if rule.Trigger.Intent != "" && rule.Trigger.Intent != lead.PrimaryIntent {
			return false, nil
		}
		if lead.PrimaryIntent == "" {
			return false, nil
		}
		return lead.IntentConfidence >= rule.Trigger.MinConfidence, nil

	case domain.AutoTriggerTimeInStage, domain.AutoTriggerStageChange:
		// Not event-reactive; handled by ProcessStageChange / SweepTimeInStage.
		return false, nil

	default:
		return false, &domain.ErrValidation{Field: "trigger_kind",
			Message: fmt.Sprintf("unknown trigger kind %q", rule.TriggerKind)}
	}
}

// mutatesLead reports whether an action kind writes lead fields that
// later triggers in the same pass may read.
func mutatesLead(kind domain.ActionKind) bool {
	switch kind {
	case domain.ActionUpdateField, domain.ActionRouteToPipeline, domain.ActionAssignOwner:
		return true
	}
	return false
}

// reloadLead fetches the lead again after a mutating action. A failed
// reload is logged and the caller keeps the snapshot it has.
func (e *Engine) reloadLead(ctx context.Context, leadID string) *domain.Lead {
	fresh, err := e.leads.GetLead(ctx, leadID)
	if err != nil {
		e.logger.Warn("lead reload after mutating action failed",
			zap.String("lead_id", leadID), zap.Error(err))
		return nil
	}
	return fresh
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
