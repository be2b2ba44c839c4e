package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/korulabs/lead-engine/internal/domain"
	"github.com/korulabs/lead-engine/internal/infra/leadlock"
	"github.com/korulabs/lead-engine/internal/infra/observability"
	"github.com/korulabs/lead-engine/internal/service"

	"go.uber.org/zap"
)

type ingestFixture struct {
	leads   *mockLeadStore
	signals *mockSignalStore
	deals   *mockDealStore
	queue   *mockQueue
	svc     *service.EventService
}

// newIngestFixture wires the full pipeline: matcher, engine and router over
// shared mocks, with one intent rule worth enough points to route alone.
func newIngestFixture(t *testing.T, leads *mockLeadStore) *ingestFixture {
	t.Helper()
	f := &ingestFixture{
		leads:   leads,
		signals: &mockSignalStore{},
		deals:   newMockDealStore(),
		queue:   &mockQueue{},
	}
	pipelines := newMockPipelineStore()
	pipelines.addPipeline("pl-b2b", "b2b-sales",
		&domain.PipelineStage{ID: "st-new", Slug: "new"},
	)
	team := &mockTeamStore{members: []domain.TeamMember{member("m1", 0, 10)}}
	ruleStore := newMockRuleStore()
	ruleStore.intentRules = []domain.IntentRule{
		eventIntentRule("r1", domain.IntentB2B, 40, "demo_request"),
	}
	repo := newRuleRepo(t, ruleStore)

	metrics := observability.NewMetrics()
	logger := zap.NewNop()
	locks := leadlock.New()
	intent := service.NewIntentService(f.leads, f.signals, 15, 60, metrics, logger)
	matcher := service.NewMatcher(repo, f.leads, f.signals, &mockOrgStore{}, intent, locks, metrics, logger)
	assigner := service.NewAssigner(team, f.deals, f.queue, metrics, logger)
	dispatcher := service.NewDispatcher(f.leads, f.deals, pipelines, &mockTaskStore{}, &mockEnrollmentStore{},
		assigner, matcher, f.queue, metrics, logger)
	engine := service.NewEngine(repo, ruleStore, f.leads, f.deals, dispatcher, metrics, logger)
	router := service.NewRouter(f.leads, f.deals, pipelines, intent, assigner, f.queue, locks,
		service.RouterConfig{
			MinScoreThreshold: 0,
			MaxUnroutedDays:   14,
			Strategy:          domain.AssignRoundRobin,
			Role:              "sales",
			IntentPipelines: map[domain.Intent]string{
				domain.IntentB2B: "b2b-sales",
			},
		}, metrics, logger)
	f.svc = service.NewEventService(f.leads, matcher, engine, router, metrics, logger)
	return f
}

func TestIngest_CreatesLeadAndRoutesEndToEnd(t *testing.T) {
	f := newIngestFixture(t, newMockLeadStore())

	res, err := f.svc.Ingest(context.Background(), &service.EventInput{
		Email:  "Jane@Acme.IO",
		Type:   "demo_request",
		Source: "website",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.LeadCreated {
		t.Error("expected a new lead")
	}
	lead, err := f.leads.GetLeadByEmail(context.Background(), "jane@acme.io")
	if err != nil {
		t.Fatalf("expected the lead stored under the normalized email: %v", err)
	}
	if lead.ID != res.LeadID {
		t.Errorf("result lead %q does not match stored lead %q", res.LeadID, lead.ID)
	}
	if len(f.signals.signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(f.signals.signals))
	}
	if res.Routing == nil || res.Routing.Action != domain.RouteRouted {
		t.Fatalf("expected the lead routed, got %+v", res.Routing)
	}
	if res.Routing.PipelineID != "pl-b2b" || res.Routing.AssigneeID != "m1" {
		t.Errorf("unexpected routing target: %+v", res.Routing)
	}
	if f.deals.openDeals() != 1 {
		t.Errorf("expected one open deal, got %d", f.deals.openDeals())
	}
	if res.Intent.PrimaryIntent != domain.IntentB2B {
		t.Errorf("expected primary intent b2b, got %q", res.Intent.PrimaryIntent)
	}
}

func TestIngest_ValidatesInput(t *testing.T) {
	f := newIngestFixture(t, newMockLeadStore())

	cases := []struct {
		name  string
		input *service.EventInput
	}{
		{"missing email", &service.EventInput{Type: "demo_request"}},
		{"missing type", &service.EventInput{Email: "a@b.c"}},
		{"blank email", &service.EventInput{Email: "   ", Type: "demo_request"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Ingest(context.Background(), tc.input)
			var verr *domain.ErrValidation
			if !errors.As(err, &verr) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestIngest_LostCreateRaceUsesExistingLead(t *testing.T) {
	existing := &domain.Lead{ID: "lead-existing", Email: "winner@acme.io"}
	leads := newMockLeadStore(existing)
	// The lookup misses but the insert conflicts, as when two events for the
	// same new email land concurrently.
	leads.createErr = &domain.ErrConflict{Resource: "lead", ExistingID: "lead-existing"}
	f := newIngestFixture(t, leads)

	res, err := f.svc.Ingest(context.Background(), &service.EventInput{
		Email: "other@acme.io",
		Type:  "demo_request",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.LeadCreated {
		t.Error("a lost race must not report a created lead")
	}
	if res.LeadID != "lead-existing" {
		t.Errorf("expected the conflicting lead, got %q", res.LeadID)
	}
}

func TestIngest_ReplayIsIdempotent(t *testing.T) {
	lead := &domain.Lead{ID: "lead-1", Email: "jane@acme.io"}
	f := newIngestFixture(t, newMockLeadStore(lead))

	input := &service.EventInput{Email: "jane@acme.io", Type: "demo_request"}
	if _, err := f.svc.Ingest(context.Background(), input); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	res, err := f.svc.Ingest(context.Background(), input)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if len(f.signals.signals) != 1 {
		t.Errorf("expected the signal recorded once, got %d", len(f.signals.signals))
	}
	if f.deals.openDeals() != 1 {
		t.Errorf("expected a single open deal, got %d", f.deals.openDeals())
	}
	if res.Routing.Action != domain.RouteSkip || res.Routing.Reason != domain.ReasonAlreadyRouted {
		t.Errorf("expected replay to skip routing, got %+v", res.Routing)
	}
}
