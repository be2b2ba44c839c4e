package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/korulabs/lead-engine/internal/domain"
)

func (s *Store) ListIntentRules(ctx context.Context) ([]domain.IntentRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, name, intent, confidence_points, trigger_kind, event_type, metadata, condition, is_active, created_at
		FROM intent_rules ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list intent rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.IntentRule
	for rows.Next() {
		var (
			r                   domain.IntentRule
			metadata, condition string
			created             string
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Intent, &r.ConfidencePoints,
			&r.TriggerKind, &r.EventType, &metadata, &condition, &r.IsActive, &created); err != nil {
			return nil, fmt.Errorf("scan intent rule: %w", err)
		}
		r.Metadata = unmarshalMap(metadata)
		if condition != "" && condition != "{}" {
			var c domain.FieldCondition
			if err := json.Unmarshal([]byte(condition), &c); err != nil {
				return nil, fmt.Errorf("rule %s condition: %w", r.ID, err)
			}
			r.Condition = &c
		}
		r.CreatedAt = parseTime(created)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *Store) ListAutomationRules(ctx context.Context) ([]domain.AutomationRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, name, trigger_kind, trigger_config, action_config, priority, is_active, execution_count, last_executed, created_at
		FROM automation_rules WHERE is_active = 1 ORDER BY priority`)
	if err != nil {
		return nil, fmt.Errorf("list automation rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.AutomationRule
	for rows.Next() {
		var (
			r               domain.AutomationRule
			trigger, action string
			lastExecuted    sql.NullString
			created         string
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.TriggerKind, &trigger, &action,
			&r.Priority, &r.IsActive, &r.ExecutionCount, &lastExecuted, &created); err != nil {
			return nil, fmt.Errorf("scan automation rule: %w", err)
		}
		if trigger != "" && trigger != "{}" {
			if err := json.Unmarshal([]byte(trigger), &r.Trigger); err != nil {
				return nil, fmt.Errorf("rule %s trigger: %w", r.ID, err)
			}
		}
		if action != "" && action != "{}" {
			if err := json.Unmarshal([]byte(action), &r.Action); err != nil {
				return nil, fmt.Errorf("rule %s action: %w", r.ID, err)
			}
		}
		r.LastExecuted = parseTimePtr(lastExecuted)
		r.CreatedAt = parseTime(created)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *Store) IncrementRuleExecution(ctx context.Context, ruleID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE automation_rules SET
		execution_count = execution_count + 1, last_executed = ? WHERE id = ?`,
		formatTime(at), ruleID)
	if err != nil {
		return fmt.Errorf("increment rule execution: %w", err)
	}
	return requireRow(result, "automation_rule", ruleID)
}

func (s *Store) AppendAutomationLog(ctx context.Context, entry *domain.AutomationLogEntry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO automation_log
		(id, rule_id, lead_id, deal_id, action_kind, success, detail, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RuleID, entry.LeadID, entry.DealID,
		string(entry.ActionKind), entry.Success, entry.Detail, formatTime(entry.ExecutedAt))
	if err != nil {
		return fmt.Errorf("append automation log: %w", err)
	}
	return nil
}

func (s *Store) HasSuccessLog(ctx context.Context, leadID, ruleID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM automation_log WHERE lead_id = ? AND rule_id = ? AND success = 1`,
		leadID, ruleID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check automation log: %w", err)
	}
	return count > 0, nil
}
