package service

import (
	"context"
	"fmt"
	"time"

	"github.com/korulabs/lead-engine/internal/domain"
	"github.com/korulabs/lead-engine/internal/port"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var dealTracer = otel.Tracer("service/deals")

// DealService covers the operator-facing deal transitions. Stage moves go
// through the automation engine so manual moves fire the same stage-entry
// automation as rule-driven ones.
type DealService struct {
	deals     port.DealStore
	pipelines port.PipelineStore
	engine    *Engine
	logger    *zap.Logger
}

// NewDealService creates the deal transition service.
func NewDealService(deals port.DealStore, pipelines port.PipelineStore, engine *Engine, logger *zap.Logger) *DealService {
	return &DealService{deals: deals, pipelines: pipelines, engine: engine, logger: logger}
}

// MoveStage moves an open deal to another stage of its pipeline and fires
// the destination stage's automation.
func (s *DealService) MoveStage(ctx context.Context, dealID, stageSlug string) (*domain.Deal, []domain.ActionResult, error) {
	ctx, span := dealTracer.Start(ctx, "DealService.MoveStage")
	defer span.End()

	deal, err := s.deals.GetDeal(ctx, dealID)
	if err != nil {
		return nil, nil, err
	}
	if deal.Status != domain.DealOpen {
		return nil, nil, &domain.ErrBusinessLogic{Op: "move_stage",
			Message: fmt.Sprintf("deal %s is %s", dealID, deal.Status)}
	}

	stage, err := s.pipelines.GetStageBySlug(ctx, deal.PipelineID, stageSlug)
	if err != nil {
		return nil, nil, err
	}
	if stage.ID == deal.StageID {
		return deal, nil, nil
	}

	now := time.Now()
	if err := s.deals.UpdateDealStage(ctx, deal.ID, stage.ID, now); err != nil {
		return nil, nil, err
	}
	deal.StageID = stage.ID
	deal.StageEnteredAt = now

	results, err := s.engine.ProcessStageChange(ctx, deal, stage)
	if err != nil {
		// Automation failures are reported but the move itself stands.
		s.logger.Error("stage-change automation failed",
			zap.String("deal_id", deal.ID), zap.Error(err))
	}
	return deal, results, nil
}

// Close marks an open deal won or lost. Closing is one-way; use Reopen for
// the explicit inverse.
func (s *DealService) Close(ctx context.Context, dealID string, status domain.DealStatus) (*domain.Deal, error) {
	ctx, span := dealTracer.Start(ctx, "DealService.Close")
	defer span.End()

	if status != domain.DealWon && status != domain.DealLost {
		return nil, &domain.ErrValidation{Field: "status",
			Message: fmt.Sprintf("close status must be won or lost, got %q", status)}
	}

	deal, err := s.deals.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.Status != domain.DealOpen {
		return nil, &domain.ErrBusinessLogic{Op: "close_deal",
			Message: fmt.Sprintf("deal %s is already %s", dealID, deal.Status)}
	}

	now := time.Now()
	if err := s.deals.CloseDeal(ctx, dealID, status, now); err != nil {
		return nil, err
	}
	deal.Status = status
	deal.ClosedAt = &now

	s.logger.Info("deal closed",
		zap.String("deal_id", dealID), zap.String("status", string(status)))
	return deal, nil
}

// Reopen returns a closed deal to the open state on its current stage.
func (s *DealService) Reopen(ctx context.Context, dealID string) (*domain.Deal, error) {
	ctx, span := dealTracer.Start(ctx, "DealService.Reopen")
	defer span.End()

	deal, err := s.deals.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.Status == domain.DealOpen {
		return nil, &domain.ErrBusinessLogic{Op: "reopen_deal",
			Message: fmt.Sprintf("deal %s is already open", dealID)}
	}

	if err := s.deals.ReopenDeal(ctx, dealID); err != nil {
		return nil, err
	}
	deal.Status = domain.DealOpen
	deal.ClosedAt = nil
	return deal, nil
}
