package service

import (
	"context"

	"github.com/korulabs/lead-engine/internal/domain"
	"github.com/korulabs/lead-engine/internal/infra/leadlock"
	"github.com/korulabs/lead-engine/internal/infra/observability"
	"github.com/korulabs/lead-engine/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var scoreTracer = otel.Tracer("service/scoring")

// ScoreInput carries the three score components produced by an upstream
// scoring model. Components are absolute values, not deltas.
type ScoreInput struct {
	Fit        int `json:"fit_score"`
	Engagement int `json:"engagement_score"`
	Intent     int `json:"intent_score"`
}

// ScoreResult reports what one score update caused.
type ScoreResult struct {
	LeadID     string                `json:"lead_id"`
	TotalScore int                   `json:"total_score"`
	Actions    []domain.ActionResult `json:"actions,omitempty"`
	Routing    *domain.RoutingResult `json:"routing,omitempty"`
}

// ScoreService persists score updates and pushes their consequences through
// the engine: threshold rules first, then a routing re-evaluation, since a
// higher score can clear the router's minimum-score gate.
type ScoreService struct {
	leads   port.LeadStore
	engine  *Engine
	router  *Router
	locks   *leadlock.KeyedMutex
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewScoreService creates the score-update orchestrator.
func NewScoreService(
	leads port.LeadStore,
	engine *Engine,
	router *Router,
	locks *leadlock.KeyedMutex,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *ScoreService {
	return &ScoreService{
		leads:   leads,
		engine:  engine,
		router:  router,
		locks:   locks,
		metrics: metrics,
		logger:  logger,
	}
}

// UpdateScore writes the new component scores and total, runs score_threshold
// rules, and re-evaluates routing. The lead lock is held only for the write;
// the engine and router take it themselves as needed.
func (s *ScoreService) UpdateScore(ctx context.Context, leadID string, in ScoreInput) (*ScoreResult, error) {
	ctx, span := scoreTracer.Start(ctx, "ScoreService.UpdateScore")
	defer span.End()
	span.SetAttributes(attribute.String("lead.id", leadID))

	if err := validateScoreInput(in); err != nil {
		return nil, err
	}
	total := in.Fit + in.Engagement + in.Intent

	unlock := s.locks.Lock(leadID)
	if _, err := s.leads.GetLead(ctx, leadID); err != nil {
		unlock()
		return nil, err
	}
	if err := s.leads.UpdateLeadScore(ctx, leadID, total, in.Fit, in.Engagement, in.Intent); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	result := &ScoreResult{LeadID: leadID, TotalScore: total}

	actions, err := s.engine.ProcessScoreChange(ctx, leadID)
	if err != nil {
		return nil, err
	}
	result.Actions = actions

	routing, err := s.router.EvaluateAndRoute(ctx, leadID)
	if err != nil {
		return nil, err
	}
	result.Routing = routing

	s.logger.Info("lead score updated",
		zap.String("lead_id", leadID),
		zap.Int("total_score", total),
		zap.Int("actions", len(actions)),
		zap.String("routing_action", string(routing.Action)))
	return result, nil
}

func validateScoreInput(in ScoreInput) error {
	switch {
	case in.Fit < 0:
		return &domain.ErrValidation{Field: "fit_score", Message: "must be non-negative"}
	case in.Engagement < 0:
		return &domain.ErrValidation{Field: "engagement_score", Message: "must be non-negative"}
	case in.Intent < 0:
		return &domain.ErrValidation{Field: "intent_score", Message: "must be non-negative"}
	}
	return nil
}
