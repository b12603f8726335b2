package database

import (
	"context"
	"fmt"

	"gaia/internal/booking"
	"gaia/internal/model"
)

const blockColumns = `id, hall_id, start_time, end_time, reason, created_by, is_active, created_at`

func scanBlock(s rowScanner) (*model.BlockedSlot, error) {
	var (
		b                   model.BlockedSlot
		start, end, created int64
	)
	if err := s.Scan(&b.ID, &b.HallID, &start, &end, &b.Reason, &b.CreatedBy, &b.IsActive, &created); err != nil {
		return nil, err
	}
	b.Interval = model.NewInterval(fromUnix(start), fromUnix(end))
	b.CreatedAt = fromUnix(created)
	return &b, nil
}

func findOverlappingBlocks(ctx context.Context, q queryer, hallID int64, iv model.Interval) ([]model.BlockedSlot, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+blockColumns+` FROM blocked_slots
		WHERE hall_id = ? AND is_active = 1 AND start_time < ? AND end_time > ?
		ORDER BY start_time, id`,
		hallID, unix(iv.End), unix(iv.Start),
	)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []model.BlockedSlot
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, classify(rows.Err())
}

func (db *DB) FindOverlappingBlocks(ctx context.Context, hallID int64, iv model.Interval) ([]model.BlockedSlot, error) {
	return findOverlappingBlocks(ctx, db, hallID, iv)
}

func (db *DB) InsertBlock(ctx context.Context, b *model.BlockedSlot) error {
	if err := hallExists(ctx, db, b.HallID); err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO blocked_slots (hall_id, start_time, end_time, reason, created_by, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.HallID, unix(b.Interval.Start), unix(b.Interval.End), b.Reason, b.CreatedBy, b.IsActive, unix(b.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert block: %w", classify(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = id
	return nil
}

// DeactivateBlock returns ErrNotFound for unknown or already inactive blocks.
func (db *DB) DeactivateBlock(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `UPDATE blocked_slots SET is_active = 0 WHERE id = ? AND is_active = 1`, id)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("block %d: %w", id, booking.ErrNotFound)
	}
	return nil
}
