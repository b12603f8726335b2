// Package pgstore is the PostgreSQL implementation of booking.Store.
// Hall write sections take a transaction-scoped advisory lock keyed by
// hall id, so creates on different halls never wait on each other.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gaia/internal/booking"
	"gaia/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ booking.Store = (*Store)(nil)

func Open(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConnLifetime = 5 * time.Minute
	cfg.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// classify maps pgx errors to booking errors. Lock timeouts, serialization
// failures and dropped connections are retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%v: %w", err, booking.ErrNotFound)
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return booking.Transient(err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "57P01", "08006":
			return booking.Transient(err)
		}
	}
	return err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func statusStrings(statuses []model.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

const hallColumns = `id, slug, name, description, capacity, image_ref,
	rate_kind, hourly_rate, weekday_rate, weekend_rate, is_active`

func scanHall(row pgx.Row) (*model.Hall, error) {
	var (
		h                        model.Hall
		kind                     string
		hourly, weekday, weekend int64
	)
	if err := row.Scan(&h.ID, &h.Slug, &h.Name, &h.Description, &h.Capacity, &h.ImageRef,
		&kind, &hourly, &weekday, &weekend, &h.IsActive); err != nil {
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

// SyncHalls upserts halls by slug and deactivates halls missing from the list.
func (s *Store) SyncHalls(ctx context.Context, halls []model.Hall) error {
	slugs := make([]string, 0, len(halls))
	batch := &pgx.Batch{}
	for _, h := range halls {
		kind := h.Rate.Kind
		if kind == "" {
			kind = model.RateFlat
		}
		batch.Queue(`
			INSERT INTO halls (slug, name, description, capacity, image_ref,
				rate_kind, hourly_rate, weekday_rate, weekend_rate, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (slug) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				capacity = excluded.capacity,
				image_ref = excluded.image_ref,
				rate_kind = excluded.rate_kind,
				hourly_rate = excluded.hourly_rate,
				weekday_rate = excluded.weekday_rate,
				weekend_rate = excluded.weekend_rate,
				is_active = excluded.is_active,
				updated_at = now()`,
			h.Slug, h.Name, h.Description, h.Capacity, h.ImageRef,
			string(kind), h.Rate.Hourly.Minor(), h.Rate.Weekday.Minor(), h.Rate.Weekend.Minor(), h.IsActive,
		)
		slugs = append(slugs, h.Slug)
	}
	batch.Queue(`UPDATE halls SET is_active = false, updated_at = now() WHERE is_active AND NOT (slug = ANY($1))`, slugs)

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return classify(tx.SendBatch(ctx, batch).Close())
	})
}

func (s *Store) GetHall(ctx context.Context, id int64) (*model.Hall, error) {
	h, err := scanHall(s.pool.QueryRow(ctx, `SELECT `+hallColumns+` FROM halls WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("hall %d: %w", id, classify(err))
	}
	return h, nil
}

func (s *Store) GetHallBySlug(ctx context.Context, slug string) (*model.Hall, error) {
	h, err := scanHall(s.pool.QueryRow(ctx, `SELECT `+hallColumns+` FROM halls WHERE slug = $1`, slug))
	if err != nil {
		return nil, fmt.Errorf("hall %q: %w", slug, classify(err))
	}
	return h, nil
}

func (s *Store) ListHalls(ctx context.Context) ([]model.Hall, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+hallColumns+` FROM halls WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []model.Hall
	for rows.Next() {
		h, err := scanHall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, classify(rows.Err())
}
