package pgstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gaia/internal/booking"
	"gaia/internal/metrics"
	"gaia/internal/model"

	"github.com/jackc/pgx/v5"
)

const reservationColumns = `id, hall_id, customer_name, customer_phone, customer_email,
	start_time, end_time, duration_hours, total_price, comment,
	status, status_reason, changed_by, changed_by_role, created_at, updated_at`

func scanReservation(row pgx.Row) (*model.Reservation, error) {
	var (
		r            model.Reservation
		start, end   time.Time
		price        int64
		status, role string
	)
	err := row.Scan(&r.ID, &r.HallID, &r.Customer.Name, &r.Customer.Phone, &r.Customer.Email,
		&start, &end, &r.DurationHours, &price, &r.Comment,
		&status, &r.StatusReason, &r.ChangedBy, &role, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Interval = model.NewInterval(start.UTC(), end.UTC())
	r.TotalPrice = model.Money(price)
	r.Status = model.Status(status)
	r.ChangedByRole = model.Role(role)
	return &r, nil
}

func collectReservations(rows pgx.Rows) ([]model.Reservation, error) {
	defer rows.Close()
	var out []model.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, classify(rows.Err())
}

func findOverlapping(ctx context.Context, q querier, hallID int64, iv model.Interval, statuses []model.Status) ([]model.Reservation, error) {
	defer metrics.ObserveStore("find_overlapping", time.Now())

	query := `SELECT ` + reservationColumns + ` FROM reservations
		WHERE hall_id = $1 AND start_time < $2 AND end_time > $3`
	args := []any{hallID, iv.End, iv.Start}
	if len(statuses) > 0 {
		query += ` AND status = ANY($4)`
		args = append(args, statusStrings(statuses))
	}
	query += ` ORDER BY start_time, id`

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	return collectReservations(rows)
}

func (s *Store) FindOverlapping(ctx context.Context, hallID int64, iv model.Interval, statuses []model.Status) ([]model.Reservation, error) {
	return findOverlapping(ctx, s.pool, hallID, iv, statuses)
}

func (s *Store) GetReservation(ctx context.Context, id int64) (*model.Reservation, error) {
	r, err := scanReservation(s.pool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("reservation %d: %w", id, classify(err))
	}
	return r, nil
}

func (s *Store) ListReservations(ctx context.Context, f booking.ReservationFilter) ([]model.Reservation, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.HallID != 0 {
		where = append(where, "hall_id = "+arg(f.HallID))
	}
	if !f.From.IsZero() {
		where = append(where, "end_time > "+arg(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "start_time < "+arg(f.To))
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status = ANY("+arg(statusStrings(f.Statuses))+")")
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY start_time, id`
	if f.Limit > 0 {
		query += ` LIMIT ` + arg(f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	return collectReservations(rows)
}

// InHallTx serializes fn against other write sections on the same hall
// with pg_advisory_xact_lock. The lock is released at commit or rollback.
func (s *Store) InHallTx(ctx context.Context, hallID int64, fn func(ctx context.Context, tx booking.HallTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(context.Background())

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, hallID); err != nil {
		return fmt.Errorf("lock hall %d: %w", hallID, classify(err))
	}
	if err := fn(ctx, &hallTx{tx: tx, hallID: hallID}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify(tx.Commit(ctx))
}

type hallTx struct {
	tx     pgx.Tx
	hallID int64
}

func (t *hallTx) FindOverlapping(ctx context.Context, hallID int64, iv model.Interval, statuses []model.Status) ([]model.Reservation, error) {
	return findOverlapping(ctx, t.tx, hallID, iv, statuses)
}

func (t *hallTx) FindOverlappingBlocks(ctx context.Context, hallID int64, iv model.Interval) ([]model.BlockedSlot, error) {
	return findOverlappingBlocks(ctx, t.tx, hallID, iv)
}

func (t *hallTx) InsertReservation(ctx context.Context, r *model.Reservation) error {
	if r.HallID != t.hallID {
		return fmt.Errorf("reservation for hall %d inserted under lock of hall %d", r.HallID, t.hallID)
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO reservations (
			hall_id, customer_name, customer_phone, customer_email,
			start_time, end_time, duration_hours, total_price, comment,
			status, status_reason, changed_by, changed_by_role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`,
		r.HallID, r.Customer.Name, r.Customer.Phone, r.Customer.Email,
		r.Interval.Start, r.Interval.End, r.DurationHours, r.TotalPrice.Minor(), r.Comment,
		string(r.Status), r.StatusReason, r.ChangedBy, string(r.ChangedByRole), r.CreatedAt, r.UpdatedAt,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", classify(err))
	}
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, c booking.StatusChange) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE reservations
		SET status = $1, status_reason = $2, changed_by = $3, changed_by_role = $4, updated_at = $5
		WHERE id = $6 AND status = $7`,
		string(c.To), c.Reason, c.ChangedBy, string(c.ChangedByRole), c.At, c.ID, string(c.From),
	)
	if err != nil {
		return false, classify(err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM reservations WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
		return false, classify(err)
	}
	if !exists {
		return false, fmt.Errorf("reservation %d: %w", c.ID, booking.ErrNotFound)
	}
	return false, nil
}

// AnonymizeFinishedBefore clears the customer contact data and comment of
// cancelled and rejected reservations that ended before cutoff.
func (s *Store) AnonymizeFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reservations
		SET customer_name = $1, customer_phone = '', customer_email = '', comment = ''
		WHERE end_time < $2 AND status = ANY($3) AND customer_name <> $1`,
		model.AnonymizedName, cutoff,
		[]string{string(model.StatusCancelled), string(model.StatusRejected)},
	)
	if err != nil {
		return 0, classify(err)
	}
	return tag.RowsAffected(), nil
}
