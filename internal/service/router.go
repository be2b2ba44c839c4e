package service

import (
	"context"
	"fmt"
	"time"

	"github.com/korulabs/lead-engine/internal/domain"
	"github.com/korulabs/lead-engine/internal/infra/cache"
	"github.com/korulabs/lead-engine/internal/infra/leadlock"
	"github.com/korulabs/lead-engine/internal/infra/observability"
	"github.com/korulabs/lead-engine/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var routerTracer = otel.Tracer("service/router")

// RouterConfig carries the routing thresholds and the static
// intent → pipeline slug mapping.
type RouterConfig struct {
	MinScoreThreshold int
	MaxUnroutedDays   int
	Strategy          domain.AssignmentStrategy
	Role              string
	IntentPipelines   map[domain.Intent]string
	CacheTTL          time.Duration
}

// routeTarget is a resolved pipeline plus its entry stage, cached per intent.
type routeTarget struct {
	pipeline *domain.Pipeline
	stage    *domain.PipelineStage
}

// Router decides whether a lead enters a sales pipeline. Outcomes are a
// strict priority chain: already-routed check, score gate, intent
// recompute, then route / conflict / stuck / wait. Earlier conditions
// short-circuit later ones, so the same inputs always yield the same
// outcome (owner tie-break aside).
type Router struct {
	leads     port.LeadStore
	deals     port.DealStore
	pipelines port.PipelineStore
	intent    *IntentService
	assigner  *Assigner
	queue     port.TaskQueue
	locks     *leadlock.KeyedMutex
	targets   port.Cache[routeTarget]

	cfg     RouterConfig
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewRouter creates the pipeline router with all dependencies injected.
func NewRouter(
	leads port.LeadStore,
	deals port.DealStore,
	pipelines port.PipelineStore,
	intent *IntentService,
	assigner *Assigner,
	queue port.TaskQueue,
	locks *leadlock.KeyedMutex,
	cfg RouterConfig,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Router {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Router{
		leads:     leads,
		deals:     deals,
		pipelines: pipelines,
		intent:    intent,
		assigner:  assigner,
		queue:     queue,
		locks:     locks,
		targets:   cache.New[routeTarget](ttl),
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
	}
}

// EvaluateAndRoute runs the routing state machine for one lead.
// Expected outcomes come back as a RoutingResult; errors are reserved for
// missing referenced entities and store failures.
func (r *Router) EvaluateAndRoute(ctx context.Context, leadID string) (*domain.RoutingResult, error) {
	ctx, span := routerTracer.Start(ctx, "Router.EvaluateAndRoute")
	defer span.End()
	span.SetAttributes(attribute.String("lead.id", leadID))

	unlock := r.locks.Lock(leadID)
	defer unlock()

	// Reload under the lock: the caller's copy may be stale.
	lead, err := r.leads.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}

	// 1. Idempotent no-op: a routed lead never routes twice. Intent fields
	// are deliberately left untouched on this path.
	if lead.PipelineID != "" {
		return r.decide(&domain.RoutingResult{
			Action:     domain.RouteSkip,
			Reason:     domain.ReasonAlreadyRouted,
			PipelineID: lead.PipelineID,
		}), nil
	}

	// 2. Score gate.
	if lead.TotalScore < r.cfg.MinScoreThreshold {
		return r.decide(&domain.RoutingResult{
			Action: domain.RouteSkip,
			Reason: domain.ReasonScoreBelowThreshold,
		}), nil
	}

	// 3. Recompute intent from signals; persisted regardless of outcome.
	res, err := r.intent.Recalculate(ctx, leadID)
	if err != nil {
		return nil, err
	}

	// 4./5. Route when the intent is clear enough.
	if res.IsRoutable && res.PrimaryIntent != "" {
		return r.route(ctx, lead, res)
	}

	// 6. Conflicting signals need a human.
	if res.ConflictDetected {
		if err := r.markManualReview(ctx, lead, res, domain.ReasonIntentConflict); err != nil {
			return nil, err
		}
		return r.decide(&domain.RoutingResult{
			Action: domain.RouteManualReview,
			Reason: domain.ReasonIntentConflict,
			Intent: res,
		}), nil
	}

	// 7. Stale leads escalate instead of rotting in the pool.
	if daysSince(lead.CreatedAt) > r.cfg.MaxUnroutedDays {
		if err := r.markManualReview(ctx, lead, res, domain.ReasonStuckInPool); err != nil {
			return nil, err
		}
		return r.decide(&domain.RoutingResult{
			Action: domain.RouteManualReview,
			Reason: domain.ReasonStuckInPool,
			Intent: res,
		}), nil
	}

	// 8. Not enough confidence yet; re-evaluated on the next event.
	return r.decide(&domain.RoutingResult{
		Action: domain.RouteWait,
		Reason: domain.ReasonInsufficientConfidence,
		Intent: res,
	}), nil
}

// route creates the deal, marks the lead routed, assigns an owner and
// notifies the channel.
func (r *Router) route(ctx context.Context, lead *domain.Lead, res domain.IntentResult) (*domain.RoutingResult, error) {
	ctx, span := routerTracer.Start(ctx, "Router.route")
	defer span.End()

	target, err := r.resolveTarget(ctx, res.PrimaryIntent)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	deal, err := r.deals.UpsertDeal(ctx, &domain.Deal{
		ID:             uuid.New().String(),
		LeadID:         lead.ID,
		PipelineID:     target.pipeline.ID,
		StageID:        target.stage.ID,
		Status:         domain.DealOpen,
		StageEnteredAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, err
	}

	if err := r.leads.UpdateLeadRouting(ctx, lead.ID, domain.RoutingRouted, target.pipeline.ID, &now); err != nil {
		return nil, err
	}

	assignee, err := r.assigner.Assign(ctx, deal, r.cfg.Strategy, r.cfg.Role, lead.LastTouchSource)
	if err != nil {
		// Assignment failures must not undo the routing; the deal stays
		// unassigned and operators get notified through the assigner.
		r.logger.Error("owner assignment failed after routing",
			zap.String("lead_id", lead.ID),
			zap.String("deal_id", deal.ID),
			zap.Error(err),
		)
		assignee = nil
	}

	result := &domain.RoutingResult{
		Action:     domain.RouteRouted,
		PipelineID: target.pipeline.ID,
		DealID:     deal.ID,
		Intent:     res,
	}
	if assignee != nil {
		result.AssigneeID = assignee.ID
	}

	r.enqueueNotification(ctx, map[string]any{
		"kind":        "lead_routed",
		"lead_id":     lead.ID,
		"deal_id":     deal.ID,
		"pipeline":    target.pipeline.Slug,
		"intent":      string(res.PrimaryIntent),
		"confidence":  res.Confidence,
		"assignee_id": result.AssigneeID,
	})

	r.logger.Info("lead routed",
		zap.String("lead_id", lead.ID),
		zap.String("pipeline", target.pipeline.Slug),
		zap.String("deal_id", deal.ID),
		zap.String("assignee", result.AssigneeID),
		zap.Int("confidence", res.Confidence),
	)
	return r.decide(result), nil
}

// ManualRoute lets an operator route a lead (typically out of
// manual_review) into an explicit pipeline, bypassing the confidence gate.
func (r *Router) ManualRoute(ctx context.Context, leadID, pipelineSlug string) (*domain.RoutingResult, error) {
	ctx, span := routerTracer.Start(ctx, "Router.ManualRoute")
	defer span.End()

	unlock := r.locks.Lock(leadID)
	defer unlock()

	lead, err := r.leads.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if lead.PipelineID != "" {
		return nil, &domain.ErrConflict{Resource: "routing", ExistingID: lead.PipelineID,
			Message: fmt.Sprintf("lead %s is already routed to pipeline %s", leadID, lead.PipelineID)}
	}

	pipeline, err := r.pipelines.GetPipelineBySlug(ctx, pipelineSlug)
	if err != nil {
		return nil, err
	}
	stage, err := r.pipelines.GetFirstStage(ctx, pipeline.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	deal, err := r.deals.UpsertDeal(ctx, &domain.Deal{
		ID:             uuid.New().String(),
		LeadID:         lead.ID,
		PipelineID:     pipeline.ID,
		StageID:        stage.ID,
		Status:         domain.DealOpen,
		StageEnteredAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, err
	}
	if err := r.leads.UpdateLeadRouting(ctx, lead.ID, domain.RoutingRouted, pipeline.ID, &now); err != nil {
		return nil, err
	}

	assignee, err := r.assigner.Assign(ctx, deal, r.cfg.Strategy, r.cfg.Role, "")
	if err != nil {
		r.logger.Error("owner assignment failed after manual routing",
			zap.String("lead_id", lead.ID), zap.Error(err))
		assignee = nil
	}

	result := &domain.RoutingResult{
		Action:     domain.RouteRouted,
		PipelineID: pipeline.ID,
		DealID:     deal.ID,
	}
	if assignee != nil {
		result.AssigneeID = assignee.ID
	}
	return r.decide(result), nil
}

// resolveTarget maps an intent to its pipeline and entry stage, with a TTL
// cache in front of the two lookups.
func (r *Router) resolveTarget(ctx context.Context, intent domain.Intent) (routeTarget, error) {
	key := string(intent)
	if target, ok := r.targets.Get(key); ok {
		r.metrics.IncrCacheHit("route_target")
		return target, nil
	}
	r.metrics.IncrCacheMiss("route_target")

	slug, ok := r.cfg.IntentPipelines[intent]
	if !ok {
		return routeTarget{}, &domain.ErrNotFound{Resource: "pipeline_mapping", ID: string(intent)}
	}

	pipeline, err := r.pipelines.GetPipelineBySlug(ctx, slug)
	if err != nil {
		return routeTarget{}, err
	}
	stage, err := r.pipelines.GetFirstStage(ctx, pipeline.ID)
	if err != nil {
		return routeTarget{}, err
	}

	target := routeTarget{pipeline: pipeline, stage: stage}
	r.targets.Set(key, target)
	return target, nil
}

func (r *Router) markManualReview(ctx context.Context, lead *domain.Lead, res domain.IntentResult, reason domain.RoutingReason) error {
	if err := r.leads.UpdateLeadRouting(ctx, lead.ID, domain.RoutingManualReview, "", nil); err != nil {
		return err
	}
	r.enqueueNotification(ctx, map[string]any{
		"kind":       "manual_review",
		"lead_id":    lead.ID,
		"reason":     string(reason),
		"intent":     string(res.PrimaryIntent),
		"confidence": res.Confidence,
	})
	return nil
}

// enqueueNotification is best-effort: a full queue delays operator
// visibility but never blocks routing.
func (r *Router) enqueueNotification(ctx context.Context, payload map[string]any) {
	if err := r.queue.Add(ctx, "notification.send", payload, port.QueueOptions{}); err != nil {
		r.logger.Error("failed to enqueue routing notification", zap.Error(err))
	}
}

func (r *Router) decide(result *domain.RoutingResult) *domain.RoutingResult {
	r.metrics.IncrRoutingDecision(result.Action)
	return result
}

func daysSince(t time.Time) int {
	return int(time.Since(t).Hours() / 24)
}
