package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/korulabs/lead-engine/internal/domain"
	"github.com/korulabs/lead-engine/internal/infra/leadlock"
	"github.com/korulabs/lead-engine/internal/infra/observability"
	"github.com/korulabs/lead-engine/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var matcherTracer = otel.Tracer("service/matcher")

// Matcher evaluates intent rules against events and lead profiles, and
// records the resulting intent signals. Recording is idempotent: a rule
// that already produced a signal for a lead is silently skipped.
type Matcher struct {
	rules   *RuleRepository
	leads   port.LeadStore
	signals port.SignalStore
	orgs    port.OrganizationStore
	intent  *IntentService
	locks   *leadlock.KeyedMutex

	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewMatcher creates the rule matcher with all dependencies injected.
func NewMatcher(
	rules *RuleRepository,
	leads port.LeadStore,
	signals port.SignalStore,
	orgs port.OrganizationStore,
	intent *IntentService,
	locks *leadlock.KeyedMutex,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Matcher {
	return &Matcher{
		rules:   rules,
		leads:   leads,
		signals: signals,
		orgs:    orgs,
		intent:  intent,
		locks:   locks,
		metrics: metrics,
		logger:  logger,
	}
}

// ProcessEvent matches all active intent rules against the event and
// records signals for new matches. Returns the recalculated intent when at
// least one signal was recorded, and whether anything changed.
func (m *Matcher) ProcessEvent(ctx context.Context, lead *domain.Lead, event *domain.Event) (domain.IntentResult, bool, error) {
	ctx, span := matcherTracer.Start(ctx, "Matcher.ProcessEvent")
	defer span.End()
	span.SetAttributes(
		attribute.String("lead.id", lead.ID),
		attribute.String("event.type", event.Type),
	)

	unlock := m.locks.Lock(lead.ID)
	defer unlock()

	inserted := 0
	for _, rule := range m.rules.IntentRules() {
		if !rule.IsActive {
			continue
		}
		matched, err := m.ruleMatches(ctx, rule, lead, event)
		if err != nil {
			m.logger.Warn("intent rule evaluation failed",
				zap.String("rule_id", rule.ID),
				zap.String("lead_id", lead.ID),
				zap.Error(err),
			)
			continue
		}
		if !matched {
			continue
		}

		ok, err := m.recordSignal(ctx, rule, lead, event)
		if err != nil {
			return domain.IntentResult{}, false, err
		}
		if ok {
			inserted++
		}
	}

	if inserted == 0 {
		return domain.IntentResult{}, false, nil
	}

	res, err := m.intent.Recalculate(ctx, lead.ID)
	if err != nil {
		return domain.IntentResult{}, false, err
	}
	return res, true, nil
}

// ReevaluateProfile re-runs the field-based rules after a profile update.
// Event-type rules are excluded: they only fire on events.
func (m *Matcher) ReevaluateProfile(ctx context.Context, lead *domain.Lead) (domain.IntentResult, bool, error) {
	ctx, span := matcherTracer.Start(ctx, "Matcher.ReevaluateProfile")
	defer span.End()
	span.SetAttributes(attribute.String("lead.id", lead.ID))

	unlock := m.locks.Lock(lead.ID)
	defer unlock()

	inserted := 0
	for _, rule := range m.rules.IntentRules() {
		if !rule.IsActive || rule.TriggerKind == domain.TriggerEventType {
			continue
		}
		matched, err := m.ruleMatches(ctx, rule, lead, nil)
		if err != nil || !matched {
			continue
		}
		ok, err := m.recordSignal(ctx, rule, lead, nil)
		if err != nil {
			return domain.IntentResult{}, false, err
		}
		if ok {
			inserted++
		}
	}

	if inserted == 0 {
		return domain.IntentResult{}, false, nil
	}
	res, err := m.intent.Recalculate(ctx, lead.ID)
	if err != nil {
		return domain.IntentResult{}, false, err
	}
	return res, true, nil
}

// recordSignal inserts a signal for (lead, rule) unless one already exists.
// Idempotent replay: an existing signal means the event was already counted.
func (m *Matcher) recordSignal(ctx context.Context, rule domain.IntentRule, lead *domain.Lead, event *domain.Event) (bool, error) {
	exists, err := m.signals.HasSignal(ctx, lead.ID, rule.ID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	sig := &domain.IntentSignal{
		ID:               uuid.New().String(),
		LeadID:           lead.ID,
		Intent:           rule.Intent,
		RuleID:           rule.ID,
		ConfidencePoints: rule.ConfidencePoints,
		TriggerType:      string(rule.TriggerKind),
		DetectedAt:       time.Now(),
	}
	if event != nil {
		sig.EventID = event.ID
		sig.TriggerData = map[string]any{"event_type": event.Type, "source": event.Source}
	} else if rule.Condition != nil {
		sig.TriggerData = map[string]any{"field": rule.Condition.Field}
	}

	if err := m.signals.InsertSignal(ctx, sig); err != nil {
		return false, err
	}

	m.metrics.IncrSignalRecorded(rule.Intent)
	m.logger.Info("intent signal recorded",
		zap.String("lead_id", lead.ID),
		zap.String("rule_id", rule.ID),
		zap.String("intent", string(rule.Intent)),
		zap.Int("points", rule.ConfidencePoints),
	)
	return true, nil
}

// ruleMatches evaluates the rule's single trigger kind against the current
// context. Field-based rules ignore the event; event rules require one.
func (m *Matcher) ruleMatches(ctx context.Context, rule domain.IntentRule, lead *domain.Lead, event *domain.Event) (bool, error) {
	switch rule.TriggerKind {
	case domain.TriggerEventType:
		if event == nil || event.Type != rule.EventType {
			return false, nil
		}
		return metadataMatches(rule.Metadata, event.Metadata), nil

	case domain.TriggerLeadField:
		if rule.Condition == nil {
			return false, nil
		}
		value, ok := leadFieldValue(lead, rule.Condition.Field)
		if !ok {
			return false, nil
		}
		return conditionMatches(rule.Condition, value)

	case domain.TriggerOrganizationField:
		if rule.Condition == nil || lead.OrganizationID == "" {
			return false, nil
		}
		org, err := m.orgs.GetOrganization(ctx, lead.OrganizationID)
		if err != nil {
			return false, err
		}
		value, ok := orgFieldValue(org, rule.Condition.Field)
		if !ok {
			return false, nil
		}
		return conditionMatches(rule.Condition, value)

	default:
		return false, fmt.Errorf("unknown trigger kind: %s", rule.TriggerKind)
	}
}

// metadataMatches checks every filter entry against the event metadata.
// A filter value may be a scalar (equality) or a map carrying the numeric
// operators lt / gte.
func metadataMatches(filter, metadata map[string]any) bool {
	for key, want := range filter {
		got, ok := metadata[key]
		if !ok {
			return false
		}

		if ops, isOps := want.(map[string]any); isOps {
			num, numOK := toFloat(got)
			if !numOK {
				return false
			}
			if lt, has := ops["lt"]; has {
				bound, ok := toFloat(lt)
				if !ok || !(num < bound) {
					return false
				}
			}
			if gte, has := ops["gte"]; has {
				bound, ok := toFloat(gte)
				if !ok || !(num >= bound) {
					return false
				}
			}
			continue
		}

		if !looseEqual(want, got) {
			return false
		}
	}
	return true
}

// looseEqual compares scalars the way JSON round-trips them: numbers
// compare numerically regardless of int/float representation.
func looseEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		// json.Number and friends
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// conditionMatches applies the single predicate a field condition carries.
func conditionMatches(cond *domain.FieldCondition, value string) (bool, error) {
	switch {
	case cond.Pattern != "":
		re, err := regexp.Compile(cond.Pattern)
		if err != nil {
			return false, fmt.Errorf("invalid pattern %q: %w", cond.Pattern, err)
		}
		return re.MatchString(value), nil

	case len(cond.Contains) > 0:
		lower := strings.ToLower(value)
		for _, sub := range cond.Contains {
			if strings.Contains(lower, strings.ToLower(sub)) {
				return true, nil
			}
		}
		return false, nil

	case len(cond.In) > 0:
		for _, candidate := range cond.In {
			if value == candidate {
				return true, nil
			}
		}
		return false, nil

	default:
		return false, fmt.Errorf("field condition on %q has no predicate", cond.Field)
	}
}

// leadFieldValue resolves the named lead field for field-based rules.
func leadFieldValue(lead *domain.Lead, field string) (string, bool) {
	switch field {
	case "email":
		return lead.Email, true
	case "company":
		return lead.Company, true
	case "status":
		return lead.Status, true
	case "lifecycle_stage":
		return lead.LifecycleStage, true
	case "primary_intent":
		return string(lead.PrimaryIntent), true
	case "first_touch_source":
		return lead.FirstTouchSource, true
	case "last_touch_source":
		return lead.LastTouchSource, true
	case "first_touch_campaign":
		return lead.FirstTouchCampaign, true
	case "last_touch_campaign":
		return lead.LastTouchCampaign, true
	default:
		return "", false
	}
}

// orgFieldValue resolves the named organization field, falling back to the
// free-form Fields map.
func orgFieldValue(org *domain.Organization, field string) (string, bool) {
	switch field {
	case "name":
		return org.Name, true
	case "domain":
		return org.Domain, true
	case "industry":
		return org.Industry, true
	case "size_band":
		return org.SizeBand, true
	}
	if v, ok := org.Fields[field]; ok {
		return fmt.Sprintf("%v", v), true
	}
	return "", false
}
