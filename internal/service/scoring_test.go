package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/korulabs/lead-engine/internal/domain"
	"github.com/korulabs/lead-engine/internal/infra/leadlock"
	"github.com/korulabs/lead-engine/internal/infra/observability"
	"github.com/korulabs/lead-engine/internal/service"

	"go.uber.org/zap"
)

type scoreFixture struct {
	leads     *mockLeadStore
	deals     *mockDealStore
	ruleStore *mockRuleStore
	queue     *mockQueue
	svc       *service.ScoreService
}

// newScoreFixture wires engine and router over shared mocks: a routing gate
// at score 50, one score_threshold rule at 50, and a recorded b2b signal
// strong enough to route once the gate clears.
func newScoreFixture(t *testing.T, lead *domain.Lead) *scoreFixture {
	t.Helper()
	f := &scoreFixture{
		leads:     newMockLeadStore(lead),
		deals:     newMockDealStore(),
		ruleStore: newMockRuleStore(),
		queue:     &mockQueue{},
	}
	signals := &mockSignalStore{signals: []domain.IntentSignal{{
		ID:               "sig-1",
		LeadID:           lead.ID,
		Intent:           domain.IntentB2B,
		RuleID:           "r1",
		ConfidencePoints: 40,
		DetectedAt:       time.Now(),
	}}}
	f.ruleStore.autoRules = []domain.AutomationRule{{
		ID:          "ar-mql",
		TriggerKind: domain.AutoTriggerScoreThreshold,
		Trigger:     domain.TriggerConfig{Threshold: 50},
		Action: domain.ActionConfig{
			Kind:  domain.ActionUpdateField,
			Field: "lifecycle_stage",
			Value: "mql",
		},
		IsActive: true,
	}}
	pipelines := newMockPipelineStore()
	pipelines.addPipeline("pl-b2b", "b2b-sales",
		&domain.PipelineStage{ID: "st-new", Slug: "new"},
	)
	team := &mockTeamStore{members: []domain.TeamMember{member("m1", 0, 10)}}
	repo := newRuleRepo(t, f.ruleStore)

	metrics := observability.NewMetrics()
	logger := zap.NewNop()
	locks := leadlock.New()
	intent := service.NewIntentService(f.leads, signals, 15, 60, metrics, logger)
	assigner := service.NewAssigner(team, f.deals, f.queue, metrics, logger)
	dispatcher := service.NewDispatcher(f.leads, f.deals, pipelines, &mockTaskStore{}, &mockEnrollmentStore{},
		assigner, nil, f.queue, metrics, logger)
	engine := service.NewEngine(repo, f.ruleStore, f.leads, f.deals, dispatcher, metrics, logger)
	router := service.NewRouter(f.leads, f.deals, pipelines, intent, assigner, f.queue, locks,
		service.RouterConfig{
			MinScoreThreshold: 50,
			MaxUnroutedDays:   14,
			Strategy:          domain.AssignRoundRobin,
			Role:              "sales",
			IntentPipelines: map[domain.Intent]string{
				domain.IntentB2B: "b2b-sales",
			},
		}, metrics, logger)
	f.svc = service.NewScoreService(f.leads, engine, router, locks, metrics, logger)
	return f
}

func TestUpdateScore_PersistsFiresRulesAndRoutes(t *testing.T) {
	lead := &domain.Lead{ID: "lead-1", Email: "a@b.c", RoutingStatus: domain.RoutingUnrouted, CreatedAt: time.Now()}
	f := newScoreFixture(t, lead)

	res, err := f.svc.UpdateScore(context.Background(), "lead-1",
		service.ScoreInput{Fit: 25, Engagement: 20, Intent: 15})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.TotalScore != 60 {
		t.Errorf("expected total 60, got %d", res.TotalScore)
	}
	stored, err := f.leads.GetLead(context.Background(), "lead-1")
	if err != nil {
		t.Fatalf("expected the lead to exist, got %v", err)
	}
	if stored.TotalScore != 60 || stored.FitScore != 25 || stored.EngagementScore != 20 || stored.IntentScore != 15 {
		t.Errorf("expected persisted components, got %+v", stored)
	}
	if len(res.Actions) != 1 || !res.Actions[0].Success {
		t.Fatalf("expected the threshold rule to fire, got %+v", res.Actions)
	}
	if f.leads.fields["lifecycle_stage"] != "mql" {
		t.Error("expected the threshold rule's field update to land")
	}
	if res.Routing == nil || res.Routing.Action != domain.RouteRouted {
		t.Fatalf("expected routing once the score gate cleared, got %+v", res.Routing)
	}
	if res.Routing.PipelineID != "pl-b2b" || res.Routing.AssigneeID != "m1" {
		t.Errorf("unexpected routing target: %+v", res.Routing)
	}
}

func TestUpdateScore_BelowGateDoesNotRoute(t *testing.T) {
	lead := &domain.Lead{ID: "lead-1", RoutingStatus: domain.RoutingUnrouted, CreatedAt: time.Now()}
	f := newScoreFixture(t, lead)

	res, err := f.svc.UpdateScore(context.Background(), "lead-1",
		service.ScoreInput{Fit: 10, Engagement: 10, Intent: 10})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(res.Actions) != 0 {
		t.Errorf("expected no threshold fire at 30, got %+v", res.Actions)
	}
	if res.Routing.Action != domain.RouteSkip || res.Routing.Reason != domain.ReasonScoreBelowThreshold {
		t.Errorf("expected a below-threshold skip, got %+v", res.Routing)
	}
	if len(f.deals.openDeals()) != 0 {
		t.Error("no deal may be created below the score gate")
	}
}

func TestUpdateScore_ThresholdRuleIsOneShot(t *testing.T) {
	lead := &domain.Lead{ID: "lead-1", Email: "a@b.c", RoutingStatus: domain.RoutingUnrouted, CreatedAt: time.Now()}
	f := newScoreFixture(t, lead)
	in := service.ScoreInput{Fit: 30, Engagement: 20, Intent: 10}

	first, err := f.svc.UpdateScore(context.Background(), "lead-1", in)
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	if len(first.Actions) != 1 {
		t.Fatalf("expected one fire, got %+v", first.Actions)
	}

	// The success log suppresses the rule; the lead is already routed.
	second, err := f.svc.UpdateScore(context.Background(), "lead-1", in)
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if len(second.Actions) != 0 {
		t.Errorf("expected no re-fire, got %+v", second.Actions)
	}
	if second.Routing.Action != domain.RouteSkip || second.Routing.Reason != domain.ReasonAlreadyRouted {
		t.Errorf("expected an already-routed skip, got %+v", second.Routing)
	}
}

func TestUpdateScore_ValidatesComponents(t *testing.T) {
	lead := &domain.Lead{ID: "lead-1"}
	f := newScoreFixture(t, lead)

	_, err := f.svc.UpdateScore(context.Background(), "lead-1",
		service.ScoreInput{Fit: -1, Engagement: 10, Intent: 10})
	var verr *domain.ErrValidation
	if !errors.As(err, &verr) || verr.Field != "fit_score" {
		t.Fatalf("expected a fit_score validation error, got %v", err)
	}
}

func TestUpdateScore_UnknownLead(t *testing.T) {
	f := newScoreFixture(t, &domain.Lead{ID: "lead-1"})

	_, err := f.svc.UpdateScore(context.Background(), "nope",
		service.ScoreInput{Fit: 10, Engagement: 10, Intent: 10})
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected not found, got %v", err)
	}
}
