package service

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/korulabs/lead-engine/internal/domain"
	"github.com/korulabs/lead-engine/internal/infra/observability"
	"github.com/korulabs/lead-engine/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var assignTracer = otel.Tracer("service/assignment")

// Assigner selects a team member for a routed deal. Finding nobody is a
// recoverable condition, not an error: the deal stays unassigned and an
// assignment-needed notification is enqueued.
type Assigner struct {
	team  port.TeamStore
	deals port.DealStore
	queue port.TaskQueue

	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewAssigner creates the owner assignment service.
func NewAssigner(team port.TeamStore, deals port.DealStore, queue port.TaskQueue, metrics *observability.Metrics, logger *zap.Logger) *Assigner {
	return &Assigner{team: team, deals: deals, queue: queue, metrics: metrics, logger: logger}
}

// Assign picks an owner per the strategy and records the assignment on the
// deal. Returns nil (and no error) when no owner could be assigned.
func (a *Assigner) Assign(ctx context.Context, deal *domain.Deal, strategy domain.AssignmentStrategy, role, region string) (*domain.TeamMember, error) {
	ctx, span := assignTracer.Start(ctx, "Assigner.Assign")
	defer span.End()
	span.SetAttributes(
		attribute.String("deal.id", deal.ID),
		attribute.String("strategy", string(strategy)),
	)

	switch strategy {
	case domain.AssignManual, domain.AssignNotifyOnly:
		a.notifyAssignmentNeeded(ctx, deal, "manual assignment requested")
		return nil, nil
	case domain.AssignRoundRobin, domain.AssignCapacityBased:
		// handled below
	default:
		return nil, &domain.ErrValidation{Field: "strategy", Message: fmt.Sprintf("unknown assignment strategy '%s'", strategy)}
	}

	members, err := a.team.ListActiveMembers(ctx, role, region)
	if err != nil {
		return nil, err
	}

	candidates := orderCandidates(members, strategy)

	for _, member := range candidates {
		claimed, err := a.team.ClaimMemberSlot(ctx, member.ID)
		if err != nil {
			return nil, err
		}
		if !claimed {
			// Lost the slot to a concurrent assignment; try the next one.
			continue
		}

		now := time.Now()
		if err := a.deals.AssignDeal(ctx, deal.ID, member.ID, now); err != nil {
			// Give the slot back so the counter stays honest.
			if relErr := a.team.ReleaseMemberSlot(ctx, member.ID); relErr != nil {
				a.logger.Error("failed to release member slot after assignment error",
					zap.String("member_id", member.ID),
					zap.Error(relErr),
				)
			}
			return nil, err
		}

		deal.AssignedTo = member.ID
		deal.AssignedAt = &now

		a.logger.Info("deal assigned",
			zap.String("deal_id", deal.ID),
			zap.String("member_id", member.ID),
			zap.String("strategy", string(strategy)),
		)
		return &member, nil
	}

	a.notifyAssignmentNeeded(ctx, deal, "no team member under capacity")
	return nil, nil
}

// orderCandidates returns members in assignment preference order.
// round_robin orders by current load with a random tie-break;
// capacity_based orders by load ratio. Members at capacity are dropped.
func orderCandidates(members []domain.TeamMember, strategy domain.AssignmentStrategy) []domain.TeamMember {
	candidates := make([]domain.TeamMember, 0, len(members))
	for _, m := range members {
		if m.MaxLeads > 0 && m.CurrentLeads >= m.MaxLeads {
			continue
		}
		candidates = append(candidates, m)
	}

	// Shuffle first so the stable sort breaks ties randomly.
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	switch strategy {
	case domain.AssignCapacityBased:
		sort.SliceStable(candidates, func(i, j int) bool {
			return loadRatio(candidates[i]) < loadRatio(candidates[j])
		})
	default: // round_robin
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].CurrentLeads < candidates[j].CurrentLeads
		})
	}
	return candidates
}

func loadRatio(m domain.TeamMember) float64 {
	if m.MaxLeads <= 0 {
		return 1
	}
	return float64(m.CurrentLeads) / float64(m.MaxLeads)
}

// notifyAssignmentNeeded enqueues an assignment-needed notification.
// Enqueue failures are logged, not propagated: assignment is best-effort.
func (a *Assigner) notifyAssignmentNeeded(ctx context.Context, deal *domain.Deal, reason string) {
	payload := map[string]any{
		"kind":    "assignment_needed",
		"deal_id": deal.ID,
		"lead_id": deal.LeadID,
		"reason":  reason,
	}
	if err := a.queue.Add(ctx, "notification.send", payload, port.QueueOptions{}); err != nil {
		a.logger.Error("failed to enqueue assignment-needed notification",
			zap.String("deal_id", deal.ID),
			zap.Error(err),
		)
	}
}
