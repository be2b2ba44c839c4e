// Package service provides the business logic layer: intent calculation,
// rule matching, pipeline routing, owner assignment and the automation
// engine.
package service

import (
	"context"
	"math"
	"sort"

	"github.com/korulabs/lead-engine/internal/domain"
	"github.com/korulabs/lead-engine/internal/infra/observability"
	"github.com/korulabs/lead-engine/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var intentTracer = otel.Tracer("service/intent")

// Low-signal penalty kicks in below this many total points.
const lowSignalTotal = 30

// CalculateIntent aggregates intent signals into a three-bucket summary and
// derives the primary intent, a 0–100 confidence score and a conflict flag.
//
// The order of operations is load-bearing: the dominance boost is applied
// before the low-signal penalty, and both are clamped. Ties between buckets
// resolve in the enumeration order of domain.Intents (the sort is stable).
func CalculateIntent(signals []domain.IntentSignal, margin, minConfidence int) domain.IntentResult {
	summary := make(map[domain.Intent]int, len(domain.Intents))
	for _, sig := range signals {
		summary[sig.Intent] += sig.ConfidencePoints
	}

	type bucket struct {
		intent domain.Intent
		points int
	}
	buckets := make([]bucket, 0, len(domain.Intents))
	for _, intent := range domain.Intents {
		buckets = append(buckets, bucket{intent: intent, points: summary[intent]})
	}
	sort.SliceStable(buckets, func(i, j int) bool {
		return buckets[i].points > buckets[j].points
	})

	primary := buckets[0]
	secondary := buckets[1]

	total := 0
	for _, b := range buckets {
		total += b.points
	}

	res := domain.IntentResult{Summary: summary}
	if total == 0 {
		return res
	}

	confidence := int(math.Round(float64(primary.points) / float64(total) * 100))

	// Dominance boost: a clear gap to the runner-up adds certainty.
	if primary.points-secondary.points >= margin {
		confidence = min(100, confidence+10)
	}
	// Low-signal penalty: thin evidence caps how sure we can be.
	if total < lowSignalTotal {
		confidence = max(0, confidence-20)
	}

	conflict := secondary.points > 0 && (primary.points-secondary.points) < margin

	res.PrimaryIntent = primary.intent
	res.Confidence = confidence
	res.ConflictDetected = conflict
	res.IsRoutable = primary.points > 0 && confidence >= minConfidence && !conflict
	return res
}

// IntentService recomputes and persists a lead's intent fields from its
// recorded signals.
type IntentService struct {
	leads   port.LeadStore
	signals port.SignalStore

	margin        int
	minConfidence int

	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewIntentService creates the intent service with thresholds from config.
func NewIntentService(leads port.LeadStore, signals port.SignalStore, margin, minConfidence int, metrics *observability.Metrics, logger *zap.Logger) *IntentService {
	return &IntentService{
		leads:         leads,
		signals:       signals,
		margin:        margin,
		minConfidence: minConfidence,
		metrics:       metrics,
		logger:        logger,
	}
}

// Recalculate loads the lead's signals, recomputes the intent summary and
// persists the updated intent fields. Callers must hold the lead lock.
func (s *IntentService) Recalculate(ctx context.Context, leadID string) (domain.IntentResult, error) {
	ctx, span := intentTracer.Start(ctx, "IntentService.Recalculate")
	defer span.End()
	span.SetAttributes(attribute.String("lead.id", leadID))

	signals, err := s.signals.ListSignals(ctx, leadID)
	if err != nil {
		return domain.IntentResult{}, err
	}

	res := CalculateIntent(signals, s.margin, s.minConfidence)
	if err := s.leads.UpdateLeadIntent(ctx, leadID, res); err != nil {
		return domain.IntentResult{}, err
	}

	s.logger.Debug("intent recalculated",
		zap.String("lead_id", leadID),
		zap.String("primary_intent", string(res.PrimaryIntent)),
		zap.Int("confidence", res.Confidence),
		zap.Bool("routable", res.IsRoutable),
		zap.Bool("conflict", res.ConflictDetected),
	)
	return res, nil
}

// ResetSignals clears every signal of the lead and persists the zeroed
// intent fields. Used by operators to force a clean recalculation.
func (s *IntentService) ResetSignals(ctx context.Context, leadID string) error {
	ctx, span := intentTracer.Start(ctx, "IntentService.ResetSignals")
	defer span.End()

	if err := s.signals.ClearSignals(ctx, leadID); err != nil {
		return err
	}
	_, err := s.Recalculate(ctx, leadID)
	return err
}
