package service_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/korulabs/lead-engine/internal/domain"
	"github.com/korulabs/lead-engine/internal/port"
	"github.com/korulabs/lead-engine/internal/service"

	"go.uber.org/zap"
)

// newRuleRepo loads a rule repository snapshot from the store, failing the
// test on load errors.
func newRuleRepo(t *testing.T, store *mockRuleStore) *service.RuleRepository {
	t.Helper()
	repo := service.NewRuleRepository(store, zap.NewNop())
	if err := repo.Load(context.Background()); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}
	return repo
}

// ============================================================
// Mocks shared by the service tests
// ============================================================

type routingCall struct {
	status     domain.RoutingStatus
	pipelineID string
}

type mockLeadStore struct {
	mu          sync.Mutex
	leads       map[string]*domain.Lead
	createErr   error
	intentCalls int
	routing     []routingCall
	fields      map[string]string
	externalIDs map[string]string
}

func newMockLeadStore(leads ...*domain.Lead) *mockLeadStore {
	m := &mockLeadStore{
		leads:       make(map[string]*domain.Lead),
		fields:      make(map[string]string),
		externalIDs: make(map[string]string),
	}
	for _, l := range leads {
		m.leads[l.ID] = l
	}
	return m
}

func (m *mockLeadStore) GetLead(_ context.Context, id string) (*domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "lead", ID: id}
	}
	// Fresh copy per read, like a row scan. Callers never see later writes
	// through a previously returned pointer.
	cp := *lead
	return &cp, nil
}

func (m *mockLeadStore) GetLeadByEmail(_ context.Context, email string) (*domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lead := range m.leads {
		if strings.EqualFold(lead.Email, email) {
			cp := *lead
			return &cp, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "lead", ID: email}
}

func (m *mockLeadStore) CreateLead(_ context.Context, lead *domain.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.leads[lead.ID] = lead
	return nil
}

func (m *mockLeadStore) UpdateLeadIntent(_ context.Context, leadID string, res domain.IntentResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[leadID]
	if !ok {
		return &domain.ErrNotFound{Resource: "lead", ID: leadID}
	}
	lead.PrimaryIntent = res.PrimaryIntent
	lead.IntentConfidence = res.Confidence
	lead.IntentSummary = res.Summary
	m.intentCalls++
	return nil
}

func (m *mockLeadStore) UpdateLeadRouting(_ context.Context, leadID string, status domain.RoutingStatus, pipelineID string, routedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[leadID]
	if !ok {
		return &domain.ErrNotFound{Resource: "lead", ID: leadID}
	}
	lead.RoutingStatus = status
	lead.PipelineID = pipelineID
	lead.RoutedAt = routedAt
	m.routing = append(m.routing, routingCall{status: status, pipelineID: pipelineID})
	return nil
}

func (m *mockLeadStore) UpdateLeadScore(_ context.Context, leadID string, total, fit, engagement, intent int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lead, ok := m.leads[leadID]; ok {
		lead.TotalScore = total
		lead.FitScore = fit
		lead.EngagementScore = engagement
		lead.IntentScore = intent
	}
	return nil
}

func (m *mockLeadStore) UpdateLeadField(_ context.Context, leadID, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fields[field] = value
	if lead, ok := m.leads[leadID]; ok {
		switch field {
		case "status":
			lead.Status = value
		case "lifecycle_stage":
			lead.LifecycleStage = value
		case "primary_intent":
			lead.PrimaryIntent = domain.Intent(value)
		}
	}
	return nil
}

func (m *mockLeadStore) SetLeadExternalID(_ context.Context, leadID, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.externalIDs[leadID] = externalID
	if lead, ok := m.leads[leadID]; ok {
		lead.ExternalID = externalID
	}
	return nil
}

func (m *mockLeadStore) TouchLeadAttribution(_ context.Context, leadID, source, campaign string, at time.Time) error {
	return nil
}

type mockSignalStore struct {
	mu        sync.Mutex
	signals   []domain.IntentSignal
	insertErr error
}

func (m *mockSignalStore) ListSignals(_ context.Context, leadID string) ([]domain.IntentSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.IntentSignal
	for _, sig := range m.signals {
		if sig.LeadID == leadID {
			out = append(out, sig)
		}
	}
	return out, nil
}

func (m *mockSignalStore) HasSignal(_ context.Context, leadID, ruleID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sig := range m.signals {
		if sig.LeadID == leadID && sig.RuleID == ruleID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockSignalStore) InsertSignal(_ context.Context, sig *domain.IntentSignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.signals = append(m.signals, *sig)
	return nil
}

func (m *mockSignalStore) ClearSignals(_ context.Context, leadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.signals[:0]
	for _, sig := range m.signals {
		if sig.LeadID != leadID {
			kept = append(kept, sig)
		}
	}
	m.signals = kept
	return nil
}

type mockDealStore struct {
	mu        sync.Mutex
	deals     map[string]*domain.Deal
	upsertErr error
	assignErr error
	assigned  map[string]string
}

func newMockDealStore(deals ...*domain.Deal) *mockDealStore {
	m := &mockDealStore{
		deals:    make(map[string]*domain.Deal),
		assigned: make(map[string]string),
	}
	for _, d := range deals {
		m.deals[d.ID] = d
	}
	return m
}

func (m *mockDealStore) GetDeal(_ context.Context, id string) (*domain.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deal, ok := m.deals[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "deal", ID: id}
	}
	return deal, nil
}

func (m *mockDealStore) GetOpenDeal(_ context.Context, leadID, pipelineID string) (*domain.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deals {
		if d.LeadID == leadID && d.PipelineID == pipelineID && d.Status == domain.DealOpen {
			return d, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "deal", ID: leadID + "/" + pipelineID}
}

func (m *mockDealStore) UpsertDeal(_ context.Context, deal *domain.Deal) (*domain.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	for _, existing := range m.deals {
		if existing.LeadID == deal.LeadID && existing.PipelineID == deal.PipelineID {
			if existing.Status == domain.DealOpen {
				existing.StageID = deal.StageID
				existing.StageEnteredAt = deal.StageEnteredAt
			}
			return existing, nil
		}
	}
	m.deals[deal.ID] = deal
	return deal, nil
}

func (m *mockDealStore) InsertDealIfAbsent(_ context.Context, deal *domain.Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.deals {
		if existing.LeadID == deal.LeadID && existing.PipelineID == deal.PipelineID {
			return nil
		}
	}
	m.deals[deal.ID] = deal
	return nil
}

func (m *mockDealStore) UpdateDealStage(_ context.Context, dealID, stageID string, enteredAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	deal, ok := m.deals[dealID]
	if !ok {
		return &domain.ErrNotFound{Resource: "deal", ID: dealID}
	}
	deal.StageID = stageID
	deal.StageEnteredAt = enteredAt
	return nil
}

func (m *mockDealStore) AssignDeal(_ context.Context, dealID, memberID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.assignErr != nil {
		return m.assignErr
	}
	m.assigned[dealID] = memberID
	if deal, ok := m.deals[dealID]; ok {
		deal.AssignedTo = memberID
		deal.AssignedAt = &at
	}
	return nil
}

func (m *mockDealStore) CloseDeal(_ context.Context, dealID string, status domain.DealStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	deal, ok := m.deals[dealID]
	if !ok {
		return &domain.ErrNotFound{Resource: "deal", ID: dealID}
	}
	deal.Status = status
	deal.ClosedAt = &at
	return nil
}

func (m *mockDealStore) ReopenDeal(_ context.Context, dealID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	deal, ok := m.deals[dealID]
	if !ok {
		return &domain.ErrNotFound{Resource: "deal", ID: dealID}
	}
	deal.Status = domain.DealOpen
	deal.ClosedAt = nil
	return nil
}

func (m *mockDealStore) ListOpenDeals(_ context.Context) ([]*domain.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Deal
	for _, d := range m.deals {
		if d.Status == domain.DealOpen {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockDealStore) openDeals() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, d := range m.deals {
		if d.Status == domain.DealOpen {
			n++
		}
	}
	return n
}

type mockPipelineStore struct {
	pipelines map[string]*domain.Pipeline       // by slug
	stages    map[string][]*domain.PipelineStage // by pipeline ID, ordered by position
}

func newMockPipelineStore() *mockPipelineStore {
	return &mockPipelineStore{
		pipelines: make(map[string]*domain.Pipeline),
		stages:    make(map[string][]*domain.PipelineStage),
	}
}

func (m *mockPipelineStore) addPipeline(id, slug string, stages ...*domain.PipelineStage) {
	m.pipelines[slug] = &domain.Pipeline{ID: id, Slug: slug, Name: slug}
	for i, st := range stages {
		st.PipelineID = id
		st.Position = i
	}
	m.stages[id] = stages
}

func (m *mockPipelineStore) GetPipeline(_ context.Context, id string) (*domain.Pipeline, error) {
	for _, p := range m.pipelines {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "pipeline", ID: id}
}

func (m *mockPipelineStore) GetPipelineBySlug(_ context.Context, slug string) (*domain.Pipeline, error) {
	p, ok := m.pipelines[slug]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "pipeline", ID: slug}
	}
	return p, nil
}

func (m *mockPipelineStore) GetFirstStage(_ context.Context, pipelineID string) (*domain.PipelineStage, error) {
	stages := m.stages[pipelineID]
	if len(stages) == 0 {
		return nil, &domain.ErrValidation{Field: "pipeline", Message: "pipeline has no stages"}
	}
	return stages[0], nil
}

func (m *mockPipelineStore) GetStage(_ context.Context, stageID string) (*domain.PipelineStage, error) {
	for _, stages := range m.stages {
		for _, st := range stages {
			if st.ID == stageID {
				return st, nil
			}
		}
	}
	return nil, &domain.ErrNotFound{Resource: "stage", ID: stageID}
}

func (m *mockPipelineStore) GetStageBySlug(_ context.Context, pipelineID, slug string) (*domain.PipelineStage, error) {
	for _, st := range m.stages[pipelineID] {
		if st.Slug == slug {
			return st, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "stage", ID: slug}
}

type mockRuleStore struct {
	mu          sync.Mutex
	intentRules []domain.IntentRule
	autoRules   []domain.AutomationRule
	execCounts  map[string]int
	logs        []*domain.AutomationLogEntry
	successLogs map[string]bool // leadID + "/" + ruleID
}

func newMockRuleStore() *mockRuleStore {
	return &mockRuleStore{
		execCounts:  make(map[string]int),
		successLogs: make(map[string]bool),
	}
}

func (m *mockRuleStore) ListIntentRules(_ context.Context) ([]domain.IntentRule, error) {
	return m.intentRules, nil
}

func (m *mockRuleStore) ListAutomationRules(_ context.Context) ([]domain.AutomationRule, error) {
	return m.autoRules, nil
}

func (m *mockRuleStore) IncrementRuleExecution(_ context.Context, ruleID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execCounts[ruleID]++
	return nil
}

func (m *mockRuleStore) AppendAutomationLog(_ context.Context, entry *domain.AutomationLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entry)
	if entry.Success {
		m.successLogs[entry.LeadID+"/"+entry.RuleID] = true
	}
	return nil
}

func (m *mockRuleStore) HasSuccessLog(_ context.Context, leadID, ruleID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.successLogs[leadID+"/"+ruleID], nil
}

type mockTeamStore struct {
	mu       sync.Mutex
	members  []domain.TeamMember
	denied   map[string]bool // memberID -> claim always lost
	claims   []string
	releases []string
	listErr  error
}

func (m *mockTeamStore) ListActiveMembers(_ context.Context, role, region string) ([]domain.TeamMember, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.TeamMember
	for _, member := range m.members {
		if role != "" && member.Role != role {
			continue
		}
		if region != "" && member.Region != region {
			continue
		}
		out = append(out, member)
	}
	return out, nil
}

func (m *mockTeamStore) ClaimMemberSlot(_ context.Context, memberID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.denied[memberID] {
		return false, nil
	}
	m.claims = append(m.claims, memberID)
	return true, nil
}

func (m *mockTeamStore) ReleaseMemberSlot(_ context.Context, memberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases = append(m.releases, memberID)
	return nil
}

type mockTaskStore struct {
	mu    sync.Mutex
	tasks []*domain.Task
}

func (m *mockTaskStore) CreateTask(_ context.Context, task *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
	return nil
}

type mockEnrollmentStore struct {
	paused   int
	pauseErr error
	calls    int
}

func (m *mockEnrollmentStore) PauseEnrollments(_ context.Context, dealID, stageID string) (int, error) {
	m.calls++
	if m.pauseErr != nil {
		return 0, m.pauseErr
	}
	return m.paused, nil
}

type mockOrgStore struct {
	orgs map[string]*domain.Organization
}

func (m *mockOrgStore) GetOrganization(_ context.Context, id string) (*domain.Organization, error) {
	org, ok := m.orgs[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "organization", ID: id}
	}
	return org, nil
}

type queuedJob struct {
	name    string
	payload map[string]any
	opts    port.QueueOptions
}

type mockQueue struct {
	mu         sync.Mutex
	jobs       []queuedJob
	addErr     error
	panicOnAdd bool
}

func (m *mockQueue) Add(_ context.Context, jobName string, payload map[string]any, opts port.QueueOptions) error {
	if m.panicOnAdd {
		panic("queue exploded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	m.jobs = append(m.jobs, queuedJob{name: jobName, payload: payload, opts: opts})
	return nil
}

func (m *mockQueue) jobsNamed(name string) []queuedJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []queuedJob
	for _, j := range m.jobs {
		if j.name == name {
			out = append(out, j)
		}
	}
	return out
}
