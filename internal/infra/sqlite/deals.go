package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/korulabs/lead-engine/internal/domain"
)

const dealColumns = `id, lead_id, pipeline_id, stage_id, position, status, value,
	assigned_to, assigned_at, stage_entered_at, closed_at, created_at, updated_at`

func scanDeal(row interface{ Scan(...any) error }) (*domain.Deal, error) {
	var (
		d                              domain.Deal
		assignedAt, closedAt           sql.NullString
		stageEntered, created, updated string
	)
	err := row.Scan(&d.ID, &d.LeadID, &d.PipelineID, &d.StageID, &d.Position,
		&d.Status, &d.Value, &d.AssignedTo, &assignedAt, &stageEntered,
		&closedAt, &created, &updated)
	if err != nil {
		return nil, err
	}
	d.AssignedAt = parseTimePtr(assignedAt)
	d.ClosedAt = parseTimePtr(closedAt)
	d.StageEnteredAt = parseTime(stageEntered)
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)
	return &d, nil
}

func (s *Store) GetDeal(ctx context.Context, id string) (*domain.Deal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = ?`, id)
	deal, err := scanDeal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "deal", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get deal: %w", err)
	}
	return deal, nil
}

func (s *Store) GetOpenDeal(ctx context.Context, leadID, pipelineID string) (*domain.Deal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE lead_id = ? AND pipeline_id = ? AND status = 'open'`,
		leadID, pipelineID)
	deal, err := scanDeal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "deal", ID: leadID + "/" + pipelineID}
	}
	if err != nil {
		return nil, fmt.Errorf("get open deal: %w", err)
	}
	return deal, nil
}

// UpsertDeal inserts the deal; on conflict by (lead_id, pipeline_id) the
// existing row keeps its identity and only stage fields move. The surviving
// row is re-read and returned.
func (s *Store) UpsertDeal(ctx context.Context, deal *domain.Deal) (*domain.Deal, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO deals
		(id, lead_id, pipeline_id, stage_id, position, status, value,
		 assigned_to, assigned_at, stage_entered_at, closed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (lead_id, pipeline_id) DO UPDATE SET
			stage_id = excluded.stage_id,
			stage_entered_at = excluded.stage_entered_at,
			updated_at = excluded.updated_at
		WHERE status = 'open'`,
		deal.ID, deal.LeadID, deal.PipelineID, deal.StageID, deal.Position,
		string(deal.Status), deal.Value, deal.AssignedTo, formatTimePtr(deal.AssignedAt),
		formatTime(deal.StageEnteredAt), formatTimePtr(deal.ClosedAt),
		formatTime(deal.CreatedAt), formatTime(deal.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert deal: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE lead_id = ? AND pipeline_id = ?`,
		deal.LeadID, deal.PipelineID)
	surviving, err := scanDeal(row)
	if err != nil {
		return nil, fmt.Errorf("reload deal: %w", err)
	}
	return surviving, nil
}

func (s *Store) InsertDealIfAbsent(ctx context.Context, deal *domain.Deal) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO deals
		(id, lead_id, pipeline_id, stage_id, position, status, value,
		 assigned_to, assigned_at, stage_entered_at, closed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (lead_id, pipeline_id) DO NOTHING`,
		deal.ID, deal.LeadID, deal.PipelineID, deal.StageID, deal.Position,
		string(deal.Status), deal.Value, deal.AssignedTo, formatTimePtr(deal.AssignedAt),
		formatTime(deal.StageEnteredAt), formatTimePtr(deal.ClosedAt),
		formatTime(deal.CreatedAt), formatTime(deal.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert deal: %w", err)
	}
	return nil
}

func (s *Store) ListOpenDeals(ctx context.Context) ([]*domain.Deal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE status = 'open' ORDER BY stage_entered_at`)
	if err != nil {
		return nil, fmt.Errorf("list open deals: %w", err)
	}
	defer rows.Close()

	var deals []*domain.Deal
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		deals = append(deals, deal)
	}
	return deals, rows.Err()
}

func (s *Store) UpdateDealStage(ctx context.Context, dealID, stageID string, enteredAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE deals SET
		stage_id = ?, stage_entered_at = ?, updated_at = ? WHERE id = ?`,
		stageID, formatTime(enteredAt), formatTime(time.Now()), dealID)
	if err != nil {
		return fmt.Errorf("update deal stage: %w", err)
	}
	return requireRow(result, "deal", dealID)
}

func (s *Store) AssignDeal(ctx context.Context, dealID, memberID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE deals SET
		assigned_to = ?, assigned_at = ?, updated_at = ? WHERE id = ?`,
		memberID, formatTime(at), formatTime(time.Now()), dealID)
	if err != nil {
		return fmt.Errorf("assign deal: %w", err)
	}
	return requireRow(result, "deal", dealID)
}

func (s *Store) CloseDeal(ctx context.Context, dealID string, status domain.DealStatus, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE deals SET
		status = ?, closed_at = ?, updated_at = ? WHERE id = ? AND status = 'open'`,
		string(status), formatTime(at), formatTime(time.Now()), dealID)
	if err != nil {
		return fmt.Errorf("close deal: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.ErrBusinessLogic{Op: "close_deal",
			Message: fmt.Sprintf("deal %s is not open", dealID)}
	}
	return nil
}

func (s *Store) ReopenDeal(ctx context.Context, dealID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE deals SET
		status = 'open', closed_at = NULL, updated_at = ? WHERE id = ? AND status != 'open'`,
		formatTime(time.Now()), dealID)
	if err != nil {
		return fmt.Errorf("reopen deal: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.ErrBusinessLogic{Op: "reopen_deal",
			Message: fmt.Sprintf("deal %s is not closed", dealID)}
	}
	return nil
}
