package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/korulabs/lead-engine/internal/domain"
)

func (s *Store) GetPipeline(ctx context.Context, id string) (*domain.Pipeline, error) {
	return s.pipelineBy(ctx, "id", id)
}

func (s *Store) GetPipelineBySlug(ctx context.Context, slug string) (*domain.Pipeline, error) {
	return s.pipelineBy(ctx, "slug", slug)
}

func (s *Store) pipelineBy(ctx context.Context, column, value string) (*domain.Pipeline, error) {
	var (
		p       domain.Pipeline
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, slug, name, created_at FROM pipelines WHERE `+column+` = ?`, value).
		Scan(&p.ID, &p.Slug, &p.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "pipeline", ID: value}
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline: %w", err)
	}
	p.CreatedAt = parseTime(created)
	return &p, nil
}

// GetFirstStage returns the stage with the lowest position. A pipeline
// without stages is a configuration error surfaced as validation.
func (s *Store) GetFirstStage(ctx context.Context, pipelineID string) (*domain.PipelineStage, error) {
	stage, err := s.scanStage(s.db.QueryRowContext(ctx, `SELECT
		id, pipeline_id, slug, name, position, automation_config
		FROM pipeline_stages WHERE pipeline_id = ? ORDER BY position LIMIT 1`, pipelineID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrValidation{Field: "pipeline",
			Message: fmt.Sprintf("pipeline %s has no stages", pipelineID)}
	}
	return stage, err
}

func (s *Store) GetStage(ctx context.Context, stageID string) (*domain.PipelineStage, error) {
	stage, err := s.scanStage(s.db.QueryRowContext(ctx, `SELECT
		id, pipeline_id, slug, name, position, automation_config
		FROM pipeline_stages WHERE id = ?`, stageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "stage", ID: stageID}
	}
	return stage, err
}

func (s *Store) GetStageBySlug(ctx context.Context, pipelineID, slug string) (*domain.PipelineStage, error) {
	stage, err := s.scanStage(s.db.QueryRowContext(ctx, `SELECT
		id, pipeline_id, slug, name, position, automation_config
		FROM pipeline_stages WHERE pipeline_id = ? AND slug = ?`, pipelineID, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "stage", ID: slug}
	}
	return stage, err
}

// scanStage decodes the stored automation_config (flat or legacy nested
// shape) into normalized action configs at read time.
func (s *Store) scanStage(row *sql.Row) (*domain.PipelineStage, error) {
	var (
		st     domain.PipelineStage
		config string
	)
	if err := row.Scan(&st.ID, &st.PipelineID, &st.Slug, &st.Name, &st.Position, &config); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan stage: %w", err)
	}
	if config != "" && config != "[]" {
		actions, err := domain.DecodeActionConfigs([]byte(config))
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", st.ID, err)
		}
		st.Automation = actions
	}
	return &st, nil
}
