package pgstore

import (
	"context"
	"fmt"
	"time"

	"gaia/internal/booking"
	"gaia/internal/model"

	"github.com/jackc/pgx/v5"
)

const blockColumns = `id, hall_id, start_time, end_time, reason, created_by, is_active, created_at`

func findOverlappingBlocks(ctx context.Context, q querier, hallID int64, iv model.Interval) ([]model.BlockedSlot, error) {
	rows, err := q.Query(ctx, `
		SELECT `+blockColumns+` FROM blocked_slots
		WHERE hall_id = $1 AND is_active AND start_time < $2 AND end_time > $3
		ORDER BY start_time, id`,
		hallID, iv.End, iv.Start,
	)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []model.BlockedSlot
	for rows.Next() {
		var (
			b          model.BlockedSlot
			start, end time.Time
		)
		if err := rows.Scan(&b.ID, &b.HallID, &start, &end, &b.Reason, &b.CreatedBy, &b.IsActive, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Interval = model.NewInterval(start.UTC(), end.UTC())
		out = append(out, b)
	}
	return out, classify(rows.Err())
}

func (s *Store) FindOverlappingBlocks(ctx context.Context, hallID int64, iv model.Interval) ([]model.BlockedSlot, error) {
	return findOverlappingBlocks(ctx, s.pool, hallID, iv)
}

func (s *Store) InsertBlock(ctx context.Context, b *model.BlockedSlot) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM halls WHERE id = $1)`, b.HallID).Scan(&exists); err != nil {
		return classify(err)
	}
	if !exists {
		return fmt.Errorf("hall %d: %w", b.HallID, booking.ErrNotFound)
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO blocked_slots (hall_id, start_time, end_time, reason, created_by, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		b.HallID, b.Interval.Start, b.Interval.End, b.Reason, b.CreatedBy, b.IsActive, b.CreatedAt,
	).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("insert block: %w", classify(err))
	}
	return nil
}

func (s *Store) DeactivateBlock(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE blocked_slots SET is_active = false WHERE id = $1 AND is_active`, id)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("block %d: %w", id, booking.ErrNotFound)
	}
	return nil
}

// GetStaff returns the staff record of principalID, or nil if there is none.
func (s *Store) GetStaff(ctx context.Context, principalID string) (*model.StaffMember, error) {
	var (
		m    model.StaffMember
		role string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT principal_id, name, role, added_by, created_at FROM staff WHERE principal_id = $1`,
		principalID,
	).Scan(&m.PrincipalID, &m.Name, &role, &m.AddedBy, &m.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	m.Role = model.Role(role)
	return &m, nil
}

func (s *Store) UpsertStaff(ctx context.Context, m model.StaffMember) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO staff (principal_id, name, role, added_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (principal_id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			added_by = excluded.added_by`,
		m.PrincipalID, m.Name, string(m.Role), m.AddedBy, m.CreatedAt,
	)
	return classify(err)
}

func (s *Store) RemoveStaff(ctx context.Context, principalID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM staff WHERE principal_id = $1`, principalID)
	if err != nil {
		return false, classify(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListStaff(ctx context.Context) ([]model.StaffMember, error) {
	rows, err := s.pool.Query(ctx, `SELECT principal_id, name, role, added_by, created_at FROM staff ORDER BY created_at, principal_id`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []model.StaffMember
	for rows.Next() {
		var (
			m    model.StaffMember
			role string
		)
		if err := rows.Scan(&m.PrincipalID, &m.Name, &role, &m.AddedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = model.Role(role)
		out = append(out, m)
	}
	return out, classify(rows.Err())
}
