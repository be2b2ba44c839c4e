package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/korulabs/lead-engine/internal/domain"
)

func (s *Store) CreateTask(ctx context.Context, task *domain.Task) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO tasks
		(id, lead_id, deal_id, title, assigned_to, due_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.LeadID, task.DealID, task.Title, task.AssignedTo,
		formatTime(task.DueAt), formatTime(task.CreatedAt))
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *Store) PauseEnrollments(ctx context.Context, dealID, stageID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE sequence_enrollments SET
		status = 'paused' WHERE deal_id = ? AND stage_id = ? AND status = 'active'`,
		dealID, stageID)
	if err != nil {
		return 0, fmt.Errorf("pause enrollments: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) GetOrganization(ctx context.Context, id string) (*domain.Organization, error) {
	var (
		o       domain.Organization
		fields  string
		created string
	)
	err := s.db.QueryRowContext(ctx, `SELECT
		id, name, domain, industry, size_band, fields, created_at
		FROM organizations WHERE id = ?`, id).
		Scan(&o.ID, &o.Name, &o.Domain, &o.Industry, &o.SizeBand, &fields, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "organization", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	o.Fields = unmarshalMap(fields)
	o.CreatedAt = parseTime(created)
	return &o, nil
}
