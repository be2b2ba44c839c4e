package sqlite

import (
	"context"
	"fmt"

	"github.com/korulabs/lead-engine/internal/domain"
)

func (s *Store) ListSignals(ctx context.Context, leadID string) ([]domain.IntentSignal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, lead_id, intent, rule_id, confidence_points, trigger_type, event_id, trigger_data, detected_at
		FROM intent_signals WHERE lead_id = ? ORDER BY detected_at`, leadID)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()

	var signals []domain.IntentSignal
	for rows.Next() {
		var (
			sig         domain.IntentSignal
			triggerData string
			detectedAt  string
		)
		if err := rows.Scan(&sig.ID, &sig.LeadID, &sig.Intent, &sig.RuleID,
			&sig.ConfidencePoints, &sig.TriggerType, &sig.EventID, &triggerData, &detectedAt); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		sig.TriggerData = unmarshalMap(triggerData)
		sig.DetectedAt = parseTime(detectedAt)
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

func (s *Store) HasSignal(ctx context.Context, leadID, ruleID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM intent_signals WHERE lead_id = ? AND rule_id = ?`,
		leadID, ruleID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check signal: %w", err)
	}
	return count > 0, nil
}

// InsertSignal records one signal. The UNIQUE(lead_id, rule_id) constraint
// backs the per-rule dedup; a lost race surfaces as ErrConflict.
func (s *Store) InsertSignal(ctx context.Context, sig *domain.IntentSignal) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO intent_signals
		(id, lead_id, intent, rule_id, confidence_points, trigger_type, event_id, trigger_data, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.LeadID, string(sig.Intent), sig.RuleID,
		sig.ConfidencePoints, sig.TriggerType, sig.EventID,
		marshalJSON(sig.TriggerData), formatTime(sig.DetectedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.ErrConflict{Resource: "intent_signal",
				Message: fmt.Sprintf("signal for lead %s and rule %s already exists", sig.LeadID, sig.RuleID)}
		}
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

func (s *Store) ClearSignals(ctx context.Context, leadID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM intent_signals WHERE lead_id = ?`, leadID); err != nil {
		return fmt.Errorf("clear signals: %w", err)
	}
	return nil
}
