package service

import (
	"context"
	"strings"
	"time"

	"github.com/korulabs/lead-engine/internal/domain"
	"github.com/korulabs/lead-engine/internal/infra/observability"
	"github.com/korulabs/lead-engine/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var eventTracer = otel.Tracer("service/events")

// EventInput is the inbound shape of a marketing/product event. Events are
// keyed by email; the first event for an unknown email creates the lead.
type EventInput struct {
	Email      string         `json:"email"`
	Type       string         `json:"type"`
	Source     string         `json:"source,omitempty"`
	Campaign   string         `json:"campaign,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt *time.Time     `json:"occurred_at,omitempty"`
}

// IngestResult reports what one ingested event caused.
type IngestResult struct {
	LeadID      string                `json:"lead_id"`
	LeadCreated bool                  `json:"lead_created"`
	Intent      domain.IntentResult   `json:"intent"`
	Routing     *domain.RoutingResult `json:"routing,omitempty"`
	Actions     []domain.ActionResult `json:"actions,omitempty"`
}

// EventService orchestrates one event through the whole engine: lead
// resolution, signal matching and automation in parallel, then routing.
type EventService struct {
	leads   port.LeadStore
	matcher *Matcher
	engine  *Engine
	router  *Router
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewEventService creates the ingestion orchestrator.
func NewEventService(
	leads port.LeadStore,
	matcher *Matcher,
	engine *Engine,
	router *Router,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *EventService {
	return &EventService{
		leads:   leads,
		matcher: matcher,
		engine:  engine,
		router:  router,
		metrics: metrics,
		logger:  logger,
	}
}

// Ingest processes one event end to end. Signal matching and automation are
// independent of each other and run concurrently; routing runs afterwards so
// it sees the signals this event produced.
func (s *EventService) Ingest(ctx context.Context, in *EventInput) (*IngestResult, error) {
	ctx, span := eventTracer.Start(ctx, "EventService.Ingest")
	defer span.End()
	span.SetAttributes(attribute.String("event.type", in.Type))

	if err := validateEventInput(in); err != nil {
		s.metrics.IncrEventProcessed("rejected")
		return nil, err
	}

	lead, created, err := s.resolveLead(ctx, in)
	if err != nil {
		s.metrics.IncrEventProcessed("error")
		return nil, err
	}

	occurred := time.Now()
	if in.OccurredAt != nil {
		occurred = *in.OccurredAt
	}
	event := &domain.Event{
		ID:         uuid.New().String(),
		LeadID:     lead.ID,
		Type:       in.Type,
		Source:     in.Source,
		Campaign:   in.Campaign,
		Metadata:   in.Metadata,
		OccurredAt: occurred,
	}

	// Attribution never blocks processing.
	if err := s.leads.TouchLeadAttribution(ctx, lead.ID, in.Source, in.Campaign, occurred); err != nil {
		s.logger.Warn("failed to touch attribution",
			zap.String("lead_id", lead.ID), zap.Error(err))
	}

	result := &IngestResult{LeadID: lead.ID, LeadCreated: created}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, _, err := s.matcher.ProcessEvent(gctx, lead, event)
		if err != nil {
			return err
		}
		result.Intent = res
		return nil
	})
	g.Go(func() error {
		actions, err := s.engine.ProcessEvent(gctx, event)
		if err != nil {
			return err
		}
		result.Actions = actions
		return nil
	})
	if err := g.Wait(); err != nil {
		s.metrics.IncrEventProcessed("error")
		return nil, err
	}

	routing, err := s.router.EvaluateAndRoute(ctx, lead.ID)
	if err != nil {
		s.metrics.IncrEventProcessed("error")
		return nil, err
	}
	result.Routing = routing
	// Routing recomputed intent under the lead lock; prefer its view.
	if routing.Intent.Summary != nil {
		result.Intent = routing.Intent
	}

	s.metrics.IncrEventProcessed("ok")
	return result, nil
}

// resolveLead finds the lead by email or creates it on first contact.
func (s *EventService) resolveLead(ctx context.Context, in *EventInput) (*domain.Lead, bool, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))

	lead, err := s.leads.GetLeadByEmail(ctx, email)
	if err == nil {
		return lead, false, nil
	}
	if _, ok := err.(*domain.ErrNotFound); !ok {
		return nil, false, err
	}

	now := time.Now()
	lead = &domain.Lead{
		ID:                 uuid.New().String(),
		Email:              email,
		RoutingStatus:      domain.RoutingUnrouted,
		FirstTouchSource:   in.Source,
		FirstTouchCampaign: in.Campaign,
		FirstTouchAt:       &now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.leads.CreateLead(ctx, lead); err != nil {
		// Lost a create race: another event for the same email got in first.
		if conflict, ok := err.(*domain.ErrConflict); ok {
			existing, gerr := s.leads.GetLead(ctx, conflict.ExistingID)
			if gerr != nil {
				return nil, false, gerr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	s.logger.Info("lead created from event",
		zap.String("lead_id", lead.ID), zap.String("source", in.Source))
	return lead, true, nil
}

func validateEventInput(in *EventInput) error {
	if strings.TrimSpace(in.Email) == "" {
		return &domain.ErrValidation{Field: "email", Message: "email is required"}
	}
	if strings.TrimSpace(in.Type) == "" {
		return &domain.ErrValidation{Field: "type", Message: "event type is required"}
	}
	return nil
}
