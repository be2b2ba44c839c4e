package sqlite

import (
	"context"
	"fmt"

	"github.com/korulabs/lead-engine/internal/domain"
)

func (s *Store) ListActiveMembers(ctx context.Context, role, region string) ([]domain.TeamMember, error) {
	query := `SELECT id, name, email, role, region, is_active, current_leads, max_leads
		FROM team_members WHERE is_active = 1`
	args := []any{}
	if role != "" {
		query += ` AND role = ?`
		args = append(args, role)
	}
	if region != "" {
		query += ` AND region = ?`
		args = append(args, region)
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()

	var members []domain.TeamMember
	for rows.Next() {
		var m domain.TeamMember
		if err := rows.Scan(&m.ID, &m.Name, &m.Email, &m.Role, &m.Region,
			&m.IsActive, &m.CurrentLeads, &m.MaxLeads); err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ClaimMemberSlot increments current_leads only while the member is still
// under capacity and active. The capacity check and the increment are one
// statement, so two concurrent claims cannot both take the last slot.
func (s *Store) ClaimMemberSlot(ctx context.Context, memberID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE team_members SET
		current_leads = current_leads + 1
		WHERE id = ? AND is_active = 1 AND current_leads < max_leads`,
		memberID)
	if err != nil {
		return false, fmt.Errorf("claim member slot: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ReleaseMemberSlot(ctx context.Context, memberID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE team_members SET
		current_leads = MAX(current_leads - 1, 0) WHERE id = ?`, memberID)
	if err != nil {
		return fmt.Errorf("release member slot: %w", err)
	}
	return nil
}
