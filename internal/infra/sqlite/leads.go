package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/korulabs/lead-engine/internal/domain"
)

const leadColumns = `id, email, first_name, last_name, company, COALESCE(organization_id, ''), external_id,
	status, lifecycle_stage,
	total_score, fit_score, engagement_score, intent_score,
	primary_intent, intent_confidence, intent_summary,
	routing_status, pipeline_id, routed_at,
	first_touch_source, first_touch_campaign, first_touch_at,
	last_touch_source, last_touch_campaign, last_touch_at,
	created_at, updated_at`

func scanLead(row interface{ Scan(...any) error }) (*domain.Lead, error) {
	var (
		l                               domain.Lead
		summary                         string
		routedAt, firstTouch, lastTouch sql.NullString
		createdAt, updatedAt            string
	)
	err := row.Scan(
		&l.ID, &l.Email, &l.FirstName, &l.LastName, &l.Company, &l.OrganizationID, &l.ExternalID,
		&l.Status, &l.LifecycleStage,
		&l.TotalScore, &l.FitScore, &l.EngagementScore, &l.IntentScore,
		&l.PrimaryIntent, &l.IntentConfidence, &summary,
		&l.RoutingStatus, &l.PipelineID, &routedAt,
		&l.FirstTouchSource, &l.FirstTouchCampaign, &firstTouch,
		&l.LastTouchSource, &l.LastTouchCampaign, &lastTouch,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if summary != "" && summary != "{}" {
		_ = json.Unmarshal([]byte(summary), &l.IntentSummary)
	}
	l.RoutedAt = parseTimePtr(routedAt)
	l.FirstTouchAt = parseTimePtr(firstTouch)
	l.LastTouchAt = parseTimePtr(lastTouch)
	l.CreatedAt = parseTime(createdAt)
	l.UpdatedAt = parseTime(updatedAt)
	return &l, nil
}

func (s *Store) GetLead(ctx context.Context, id string) (*domain.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id)
	lead, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "lead", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return lead, nil
}

func (s *Store) GetLeadByEmail(ctx context.Context, email string) (*domain.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE email = ?`, email)
	lead, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "lead", ID: email}
	}
	if err != nil {
		return nil, fmt.Errorf("get lead by email: %w", err)
	}
	return lead, nil
}

func (s *Store) CreateLead(ctx context.Context, lead *domain.Lead) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO leads (
		id, email, first_name, last_name, company, organization_id, external_id,
		status, lifecycle_stage,
		total_score, fit_score, engagement_score, intent_score,
		primary_intent, intent_confidence, intent_summary,
		routing_status, pipeline_id, routed_at,
		first_touch_source, first_touch_campaign, first_touch_at,
		last_touch_source, last_touch_campaign, last_touch_at,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.Email, lead.FirstName, lead.LastName, lead.Company,
		nullable(lead.OrganizationID), lead.ExternalID,
		lead.Status, lead.LifecycleStage,
		lead.TotalScore, lead.FitScore, lead.EngagementScore, lead.IntentScore,
		string(lead.PrimaryIntent), lead.IntentConfidence, marshalJSON(lead.IntentSummary),
		string(lead.RoutingStatus), lead.PipelineID, formatTimePtr(lead.RoutedAt),
		lead.FirstTouchSource, lead.FirstTouchCampaign, formatTimePtr(lead.FirstTouchAt),
		lead.LastTouchSource, lead.LastTouchCampaign, formatTimePtr(lead.LastTouchAt),
		formatTime(lead.CreatedAt), formatTime(lead.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			existing, gerr := s.GetLeadByEmail(ctx, lead.Email)
			if gerr == nil {
				return &domain.ErrConflict{Resource: "lead", ExistingID: existing.ID}
			}
			return &domain.ErrConflict{Resource: "lead"}
		}
		return fmt.Errorf("create lead: %w", err)
	}
	return nil
}

func (s *Store) UpdateLeadIntent(ctx context.Context, leadID string, res domain.IntentResult) error {
	result, err := s.db.ExecContext(ctx, `UPDATE leads SET
		primary_intent = ?, intent_confidence = ?, intent_summary = ?, updated_at = ?
		WHERE id = ?`,
		string(res.PrimaryIntent), res.Confidence, marshalJSON(res.Summary),
		formatTime(time.Now()), leadID,
	)
	if err != nil {
		return fmt.Errorf("update lead intent: %w", err)
	}
	return requireRow(result, "lead", leadID)
}

func (s *Store) UpdateLeadRouting(ctx context.Context, leadID string, status domain.RoutingStatus, pipelineID string, routedAt *time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE leads SET
		routing_status = ?, pipeline_id = ?, routed_at = ?, updated_at = ?
		WHERE id = ?`,
		string(status), pipelineID, formatTimePtr(routedAt), formatTime(time.Now()), leadID,
	)
	if err != nil {
		return fmt.Errorf("update lead routing: %w", err)
	}
	return requireRow(result, "lead", leadID)
}

func (s *Store) UpdateLeadScore(ctx context.Context, leadID string, total, fit, engagement, intent int) error {
	result, err := s.db.ExecContext(ctx, `UPDATE leads SET
		total_score = ?, fit_score = ?, engagement_score = ?, intent_score = ?, updated_at = ?
		WHERE id = ?`,
		total, fit, engagement, intent, formatTime(time.Now()), leadID,
	)
	if err != nil {
		return fmt.Errorf("update lead score: %w", err)
	}
	return requireRow(result, "lead", leadID)
}

// UpdateLeadField writes one allow-listed column. The caller (the
// update_field action) validates the field name; the switch here is the
// backstop against SQL injection via column names.
func (s *Store) UpdateLeadField(ctx context.Context, leadID, field, value string) error {
	var column string
	switch field {
	case "status":
		column = "status"
	case "lifecycle_stage":
		column = "lifecycle_stage"
	case "primary_intent":
		column = "primary_intent"
	default:
		return &domain.ErrValidation{Field: field, Message: "field is not updatable"}
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE leads SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		value, formatTime(time.Now()), leadID,
	)
	if err != nil {
		return fmt.Errorf("update lead field: %w", err)
	}
	return requireRow(result, "lead", leadID)
}

func (s *Store) SetLeadExternalID(ctx context.Context, leadID, externalID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE leads SET external_id = ?, updated_at = ? WHERE id = ?`,
		externalID, formatTime(time.Now()), leadID,
	)
	if err != nil {
		return fmt.Errorf("set lead external id: %w", err)
	}
	return requireRow(result, "lead", leadID)
}

// TouchLeadAttribution updates last-touch fields and backfills first-touch
// fields if they are still empty.
func (s *Store) TouchLeadAttribution(ctx context.Context, leadID, source, campaign string, at time.Time) error {
	ts := formatTime(at)
	result, err := s.db.ExecContext(ctx, `UPDATE leads SET
		last_touch_source = ?, last_touch_campaign = ?, last_touch_at = ?,
		first_touch_source = CASE WHEN first_touch_source = '' THEN ? ELSE first_touch_source END,
		first_touch_campaign = CASE WHEN first_touch_campaign = '' THEN ? ELSE first_touch_campaign END,
		first_touch_at = COALESCE(first_touch_at, ?),
		updated_at = ?
		WHERE id = ?`,
		source, campaign, ts, source, campaign, ts, formatTime(time.Now()), leadID,
	)
	if err != nil {
		return fmt.Errorf("touch lead attribution: %w", err)
	}
	return requireRow(result, "lead", leadID)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requireRow(result sql.Result, resource, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.ErrNotFound{Resource: resource, ID: id}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
