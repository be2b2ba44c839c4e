package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/korulabs/lead-engine/internal/domain"
	"github.com/korulabs/lead-engine/internal/infra/observability"
	"github.com/korulabs/lead-engine/internal/service"

	"go.uber.org/zap"
)

type engineFixture struct {
	leads       *mockLeadStore
	deals       *mockDealStore
	pipelines   *mockPipelineStore
	tasks       *mockTaskStore
	enrollments *mockEnrollmentStore
	team        *mockTeamStore
	ruleStore   *mockRuleStore
	queue       *mockQueue
	engine      *service.Engine
}

func newEngineFixture(t *testing.T, lead *domain.Lead, rules []domain.AutomationRule) *engineFixture {
	t.Helper()
	f := &engineFixture{
		leads:       newMockLeadStore(lead),
		deals:       newMockDealStore(),
		pipelines:   newMockPipelineStore(),
		tasks:       &mockTaskStore{},
		enrollments: &mockEnrollmentStore{},
		team:        &mockTeamStore{members: []domain.TeamMember{member("m1", 0, 10)}},
		ruleStore:   newMockRuleStore(),
		queue:       &mockQueue{},
	}
	f.ruleStore.autoRules = rules
	f.pipelines.addPipeline("pl-b2b", "b2b-sales",
		&domain.PipelineStage{ID: "st-new", Slug: "new"},
		&domain.PipelineStage{ID: "st-qualified", Slug: "qualified"},
	)

	metrics := observability.NewMetrics()
	assigner := service.NewAssigner(f.team, f.deals, f.queue, metrics, zap.NewNop())
	dispatcher := service.NewDispatcher(f.leads, f.deals, f.pipelines, f.tasks, f.enrollments,
		assigner, nil, f.queue, metrics, zap.NewNop())
	f.engine = service.NewEngine(newRuleRepo(t, f.ruleStore), f.ruleStore, f.leads, f.deals,
		dispatcher, metrics, zap.NewNop())
	return f
}

func eventRule(id string, eventType string, action domain.ActionConfig, priority int) domain.AutomationRule {
	return domain.AutomationRule{
		ID:          id,
		Name:        id,
		TriggerKind: domain.AutoTriggerEvent,
		Trigger:     domain.TriggerConfig{EventType: eventType},
		Action:      action,
		Priority:    priority,
		IsActive:    true,
	}
}

func TestProcessEvent_EventTriggerFires(t *testing.T) {
	lead := &domain.Lead{ID: "lead-1", Email: "a@b.c"}
	rules := []domain.AutomationRule{
		eventRule("ar1", "demo_request", domain.ActionConfig{
			Kind:    domain.ActionSendNotification,
			Message: "demo from {{lead.email}}",
		}, 1),
	}
	f := newEngineFixture(t, lead, rules)

	results, err := f.engine.ProcessEvent(context.Background(),
		&domain.Event{ID: "ev-1", LeadID: "lead-1", Type: "demo_request"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("expected one successful result, got %+v", results)
	}
	jobs := f.queue.jobsNamed("notification.send")
	if len(jobs) != 1 || jobs[0].payload["message"] != "demo from a@b.c" {
		t.Errorf("expected a rendered notification, got %+v", jobs)
	}
	if f.ruleStore.execCounts["ar1"] != 1 {
		t.Errorf("expected execution count 1, got %d", f.ruleStore.execCounts["ar1"])
	}
	if len(f.ruleStore.logs) != 1 || !f.ruleStore.logs[0].Success {
		t.Errorf("expected one success log entry, got %+v", f.ruleStore.logs)
	}
}

func TestProcessEvent_FailingRuleDoesNotStopOthers(t *testing.T) {
	lead := &domain.Lead{ID: "lead-1", Email: "a@b.c"}
	rules := []domain.AutomationRule{
		eventRule("ar-bad", "demo_request", domain.ActionConfig{Kind: "teleport_lead"}, 1),
		eventRule("ar-good", "demo_request", domain.ActionConfig{
			Kind:  domain.ActionUpdateField,
			Field: "status",
			Value: "engaged",
		}, 2),
	}
	f := newEngineFixture(t, lead, rules)

	results, err := f.engine.ProcessEvent(context.Background(),
		&domain.Event{LeadID: "lead-1", Type: "demo_request"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected both rules to run, got %d results", len(results))
	}
	if results[0].Success {
		t.Error("expected the unknown action to fail")
	}
	if !results[1].Success {
		t.Errorf("expected the second rule to succeed, got %+v", results[1])
	}
	if f.leads.fields["status"] != "engaged" {
		t.Error("expected the field update to land despite the earlier failure")
	}
}

func TestProcessEvent_PanickingRuleIsIsolated(t *testing.T) {
	lead := &domain.Lead{ID: "lead-1"}
	rules := []domain.AutomationRule{
		eventRule("ar-panic", "signup", domain.ActionConfig{
			Kind:    domain.ActionSendNotification,
			Message: "hi",
		}, 1),
		eventRule("ar-after", "signup", domain.ActionConfig{
			Kind:  domain.ActionUpdateField,
			Field: "status",
			Value: "active",
		}, 2),
	}
	f := newEngineFixture(t, lead, rules)
	f.queue.panicOnAdd = true

	results, err := f.engine.ProcessEvent(context.Background(),
		&domain.Event{LeadID: "lead-1", Type: "signup"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected both rules to produce results, got %d", len(results))
	}
	if results[0].Success || !strings.Contains(results[0].Reason, "panic") {
		t.Errorf("expected a recovered panic result, got %+v", results[0])
	}
	if !results[1].Success {
		t.Errorf("expected the rule after the panic to run, got %+v", results[1])
	}
}

func TestProcessEvent_ScoreThresholdIsOneShot(t *testing.T) {
	lead := &domain.Lead{ID: "lead-1", TotalScore: 70}
	rules := []domain.AutomationRule{{
		ID:          "ar1",
		TriggerKind: domain.AutoTriggerScoreThreshold,
		Trigger:     domain.TriggerConfig{Threshold: 50},
		Action: domain.ActionConfig{
			Kind:  domain.ActionUpdateField,
			Field: "lifecycle_stage",
			Value: "mql",
		},
		IsActive: true,
	}}
	f := newEngineFixture(t, lead, rules)
	event := &domain.Event{LeadID: "lead-1", Type: "page_view"}

	first, err := f.engine.ProcessEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("first event: %v", err)
	}
	if len(first) != 1 || !first[0].Success {
		t.Fatalf("expected the threshold rule to fire once, got %+v", first)
	}

	// The success log written by the first run suppresses the second.
	second, err := f.engine.ProcessEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("second event: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("expected no re-fire, got %+v", second)
	}
}

func TestProcessEvent_ScoreBelowThresholdDoesNotFire(t *testing.T) {
	lead := &domain.Lead{ID: "lead-1", TotalScore: 20}
	rules := []domain.AutomationRule{{
		ID:          "ar1",
		TriggerKind: domain.AutoTriggerScoreThreshold,
		Trigger:     domain.TriggerConfig{Threshold: 50},
		Action: domain.ActionConfig{
			Kind:  domain.ActionUpdateField,
			Field: "lifecycle_stage",
			Value: "mql",
		},
		IsActive: true,
	}}
	f := newEngineFixture(t, lead, rules)

	results, err := f.engine.ProcessEvent(context.Background(), &domain.Event{LeadID: "lead-1", Type: "page_view"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected nothing to fire, got %+v", results)
	}
}

func TestProcessEvent_IntentDetectedNeedsConfidenceFloor(t *testing.T) {
	rules := []domain.AutomationRule{{
		ID:          "ar1",
		TriggerKind: domain.AutoTriggerIntentDetected,
		Trigger:     domain.TriggerConfig{Intent: domain.IntentB2B, MinConfidence: 60},
		Action: domain.ActionConfig{
			Kind:  domain.ActionUpdateField,
			Field: "lifecycle_stage",
			Value: "sql",
		},
		IsActive: true,
	}}

	t.Run("below floor", func(t *testing.T) {
		lead := &domain.Lead{ID: "lead-1", PrimaryIntent: domain.IntentB2B, IntentConfidence: 45}
		f := newEngineFixture(t, lead, rules)
		results, err := f.engine.ProcessEvent(context.Background(), &domain.Event{LeadID: "lead-1", Type: "x"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(results) != 0 {
			t.Errorf("expected no fire at confidence 45, got %+v", results)
		}
	})

	t.Run("at floor", func(t *testing.T) {
		lead := &domain.Lead{ID: "lead-1", PrimaryIntent: domain.IntentB2B, IntentConfidence: 60}
		f := newEngineFixture(t, lead, rules)
		results, err := f.engine.ProcessEvent(context.Background(), &domain.Event{LeadID: "lead-1", Type: "x"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(results) != 1 || !results[0].Success {
			t.Errorf("expected a fire at confidence 60, got %+v", results)
		}
	})
}

func TestProcessEvent_LaterRuleSeesEarlierFieldUpdate(t *testing.T) {
	// Rule 1 writes primary_intent; rule 2's intent_detected trigger must
	// evaluate the updated row, not the snapshot loaded before rule 1 ran.
	lead := &domain.Lead{ID: "lead-1", Email: "a@b.c"}
	rules := []domain.AutomationRule{
		eventRule("ar-set-intent", "pricing_view", domain.ActionConfig{
			Kind:  domain.ActionUpdateField,
			Field: "primary_intent",
			Value: "b2b",
		}, 1),
		{
			ID:          "ar-on-intent",
			TriggerKind: domain.AutoTriggerIntentDetected,
			Trigger:     domain.TriggerConfig{Intent: domain.IntentB2B, MinConfidence: 0},
			Action: domain.ActionConfig{
				Kind:    domain.ActionSendNotification,
				Message: "b2b intent on {{lead.email}}",
			},
			Priority: 2,
			IsActive: true,
		},
	}
	f := newEngineFixture(t, lead, rules)

	results, err := f.engine.ProcessEvent(context.Background(),
		&domain.Event{ID: "ev-1", LeadID: "lead-1", Type: "pricing_view"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected both rules to fire, got %+v", results)
	}
	if !results[0].Success || !results[1].Success {
		t.Fatalf("expected two successful results, got %+v", results)
	}
	if len(f.queue.jobsNamed("notification.send")) != 1 {
		t.Error("expected the intent rule to see the freshly written field")
	}
}

func TestProcessStageChange_ClosedDealRunsNothing(t *testing.T) {
	lead := &domain.Lead{ID: "lead-1"}
	f := newEngineFixture(t, lead, []domain.AutomationRule{{
		ID:          "ar1",
		TriggerKind: domain.AutoTriggerStageChange,
		Action:      domain.ActionConfig{Kind: domain.ActionSendNotification, Message: "moved"},
		IsActive:    true,
	}})

	deal := &domain.Deal{
		ID:         "d1",
		LeadID:     "lead-1",
		PipelineID: "pl-b2b",
		StageID:    "st-new",
		Status:     domain.DealWon,
	}
	stage := &domain.PipelineStage{
		ID:   "st-qualified",
		Slug: "qualified",
		Automation: []domain.ActionConfig{
			{Kind: domain.ActionSendNotification, Enabled: true, Message: "entry"},
		},
	}

	results, err := f.engine.ProcessStageChange(context.Background(), deal, stage)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(results) != 0 {
		t.Errorf("closed deals must not trigger automation, got %+v", results)
	}
	if len(f.queue.jobsNamed("notification.send")) != 0 {
		t.Error("closed deals must not enqueue notifications")
	}
}

func TestProcessStageChange_RunsEntryAutomationAndRules(t *testing.T) {
	lead := &domain.Lead{ID: "lead-1", Email: "a@b.c"}
	f := newEngineFixture(t, lead, []domain.AutomationRule{
		{
			ID:          "ar-match",
			TriggerKind: domain.AutoTriggerStageChange,
			Trigger:     domain.TriggerConfig{ToStage: "qualified"},
			Action: domain.ActionConfig{
				Kind:  domain.ActionUpdateField,
				Field: "lifecycle_stage",
				Value: "opportunity",
			},
			IsActive: true,
		},
		{
			ID:          "ar-other-stage",
			TriggerKind: domain.AutoTriggerStageChange,
			Trigger:     domain.TriggerConfig{ToStage: "negotiation"},
			Action:      domain.ActionConfig{Kind: domain.ActionSendNotification, Message: "nope"},
			IsActive:    true,
		},
	})

	deal := &domain.Deal{
		ID:         "d1",
		LeadID:     "lead-1",
		PipelineID: "pl-b2b",
		StageID:    "st-qualified",
		Status:     domain.DealOpen,
	}
	stage := &domain.PipelineStage{
		ID:         "st-qualified",
		PipelineID: "pl-b2b",
		Slug:       "qualified",
		Automation: []domain.ActionConfig{
			{Kind: domain.ActionCreateTask, Enabled: true, TaskTitle: "Call {{lead.email}}", DueInDays: 2},
			{Kind: domain.ActionSendNotification, Enabled: false, Message: "disabled"},
		},
	}

	results, err := f.engine.ProcessStageChange(context.Background(), deal, stage)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	// One enabled entry action plus one matching stage_change rule.
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %+v", results)
	}
	if len(f.tasks.tasks) != 1 || f.tasks.tasks[0].Title != "Call a@b.c" {
		t.Errorf("expected a templated task, got %+v", f.tasks.tasks)
	}
	if f.leads.fields["lifecycle_stage"] != "opportunity" {
		t.Error("expected the matching stage_change rule to run")
	}
	if len(f.queue.jobsNamed("notification.send")) != 0 {
		t.Error("disabled entry actions and non-matching rules must not run")
	}
}

func TestSweepTimeInStage(t *testing.T) {
	lead := &domain.Lead{ID: "lead-1"}
	rules := []domain.AutomationRule{{
		ID:          "ar-stale",
		TriggerKind: domain.AutoTriggerTimeInStage,
		Trigger:     domain.TriggerConfig{Days: 7},
		Action:      domain.ActionConfig{Kind: domain.ActionSendNotification, Message: "stale deal"},
		IsActive:    true,
	}}
	f := newEngineFixture(t, lead, rules)

	deal := &domain.Deal{
		ID:             "d1",
		LeadID:         "lead-1",
		PipelineID:     "pl-b2b",
		StageID:        "st-new",
		Status:         domain.DealOpen,
		StageEnteredAt: time.Now().AddDate(0, 0, -10),
	}

	results, err := f.engine.SweepTimeInStage(context.Background(), deal)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("expected the stale rule to fire, got %+v", results)
	}

	// A second sweep is suppressed by the success log.
	again, err := f.engine.SweepTimeInStage(context.Background(), deal)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("expected no re-fire on the next sweep, got %+v", again)
	}
}

func TestSweepTimeInStage_FreshDealUntouched(t *testing.T) {
	lead := &domain.Lead{ID: "lead-1"}
	rules := []domain.AutomationRule{{
		ID:          "ar-stale",
		TriggerKind: domain.AutoTriggerTimeInStage,
		Trigger:     domain.TriggerConfig{Days: 7},
		Action:      domain.ActionConfig{Kind: domain.ActionSendNotification, Message: "stale deal"},
		IsActive:    true,
	}}
	f := newEngineFixture(t, lead, rules)

	deal := &domain.Deal{
		ID:             "d1",
		LeadID:         "lead-1",
		Status:         domain.DealOpen,
		StageEnteredAt: time.Now().AddDate(0, 0, -2),
	}

	results, err := f.engine.SweepTimeInStage(context.Background(), deal)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no fire for a 2-day-old stage entry, got %+v", results)
	}
}
