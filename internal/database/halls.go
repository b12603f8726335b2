package database

import (
	"context"
	"fmt"
	"time"

	"gaia/internal/booking"
	"gaia/internal/model"
)

const hallColumns = `id, slug, name, description, capacity, image_ref,
	rate_kind, hourly_rate, weekday_rate, weekend_rate, is_active`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHall(s rowScanner) (*model.Hall, error) {
	var (
		h                        model.Hall
		kind                     string
		hourly, weekday, weekend int64
	)
	err := s.Scan(&h.ID, &h.Slug, &h.Name, &h.Description, &h.Capacity, &h.ImageRef,
		&kind, &hourly, &weekday, &weekend, &h.IsActive)
	if err != nil {
		return nil, err
	}
	h.Rate = model.RateConfig{
		Kind:    model.RateKind(kind),
		Hourly:  model.Money(hourly),
		Weekday: model.Money(weekday),
		Weekend: model.Money(weekend),
	}
	return &h, nil
}

// SyncHalls applies the configured hall catalogue. Halls are matched by
// slug; halls missing from the list are marked inactive, never deleted.
func (db *DB) SyncHalls(ctx context.Context, halls []model.Hall) error {
	now := unix(time.Now())
	seen := make(map[string]struct{}, len(halls))

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	for _, h := range halls {
		kind := h.Rate.Kind
		if kind == "" {
			kind = model.RateFlat
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO halls (slug, name, description, capacity, image_ref,
				rate_kind, hourly_rate, weekday_rate, weekend_rate, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(slug) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				capacity = excluded.capacity,
				image_ref = excluded.image_ref,
				rate_kind = excluded.rate_kind,
				hourly_rate = excluded.hourly_rate,
				weekday_rate = excluded.weekday_rate,
				weekend_rate = excluded.weekend_rate,
				is_active = excluded.is_active,
				updated_at = excluded.updated_at`,
			h.Slug, h.Name, h.Description, h.Capacity, h.ImageRef,
			string(kind), h.Rate.Hourly.Minor(), h.Rate.Weekday.Minor(), h.Rate.Weekend.Minor(),
			h.IsActive, now, now,
		)
		if err != nil {
			return fmt.Errorf("sync hall %s: %w", h.Slug, classify(err))
		}
		seen[h.Slug] = struct{}{}
	}

	rows, err := tx.QueryContext(ctx, `SELECT slug FROM halls WHERE is_active = 1`)
	if err != nil {
		return classify(err)
	}
	var stale []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			rows.Close()
			return err
		}
		if _, ok := seen[slug]; !ok {
			stale = append(stale, slug)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, slug := range stale {
		if _, err := tx.ExecContext(ctx, `UPDATE halls SET is_active = 0, updated_at = ? WHERE slug = ?`, now, slug); err != nil {
			return fmt.Errorf("deactivate hall %s: %w", slug, classify(err))
		}
		db.logger.Info().Str("hall", slug).Msg("Hall removed from config, deactivated")
	}

	return classify(tx.Commit())
}

func (db *DB) GetHall(ctx context.Context, id int64) (*model.Hall, error) {
	h, err := scanHall(db.QueryRowContext(ctx, `SELECT `+hallColumns+` FROM halls WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("hall %d: %w", id, classify(err))
	}
	return h, nil
}

func (db *DB) GetHallBySlug(ctx context.Context, slug string) (*model.Hall, error) {
	h, err := scanHall(db.QueryRowContext(ctx, `SELECT `+hallColumns+` FROM halls WHERE slug = ?`, slug))
	if err != nil {
		return nil, fmt.Errorf("hall %q: %w", slug, classify(err))
	}
	return h, nil
}

// ListHalls returns active halls ordered by id.
func (db *DB) ListHalls(ctx context.Context) ([]model.Hall, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+hallColumns+` FROM halls WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var halls []model.Hall
	for rows.Next() {
		h, err := scanHall(rows)
		if err != nil {
			return nil, err
		}
		halls = append(halls, *h)
	}
	return halls, classify(rows.Err())
}

// ensure the hall exists before a foreign key failure turns into an opaque error
func hallExists(ctx context.Context, q queryer, id int64) error {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM halls WHERE id = ?`, id).Scan(&n); err != nil {
		return classify(err)
	}
	if n == 0 {
		return fmt.Errorf("hall %d: %w", id, booking.ErrNotFound)
	}
	return nil
}
