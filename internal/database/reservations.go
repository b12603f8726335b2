package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gaia/internal/booking"
	"gaia/internal/metrics"
	"gaia/internal/model"
)

const reservationColumns = `id, hall_id, customer_name, customer_phone, customer_email,
	start_time, end_time, duration_hours, total_price, comment,
	status, status_reason, changed_by, changed_by_role, created_at, updated_at`

func scanReservation(s rowScanner) (*model.Reservation, error) {
	var (
		r                                  model.Reservation
		start, end, price, created, update int64
		status, role                       string
	)
	err := s.Scan(&r.ID, &r.HallID, &r.Customer.Name, &r.Customer.Phone, &r.Customer.Email,
		&start, &end, &r.DurationHours, &price, &r.Comment,
		&status, &r.StatusReason, &r.ChangedBy, &role, &created, &update)
	if err != nil {
		return nil, err
	}
	r.Interval = model.NewInterval(fromUnix(start), fromUnix(end))
	r.TotalPrice = model.Money(price)
	r.Status = model.Status(status)
	r.ChangedByRole = model.Role(role)
	r.CreatedAt = fromUnix(created)
	r.UpdatedAt = fromUnix(update)
	return &r, nil
}

func statusPlaceholders(statuses []model.Status) (string, []any) {
	marks := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, s := range statuses {
		marks[i] = "?"
		args[i] = string(s)
	}
	return strings.Join(marks, ", "), args
}

func findOverlapping(ctx context.Context, q queryer, hallID int64, iv model.Interval, statuses []model.Status) ([]model.Reservation, error) {
	defer metrics.ObserveStore("find_overlapping", time.Now())

	query := `SELECT ` + reservationColumns + ` FROM reservations
		WHERE hall_id = ? AND start_time < ? AND end_time > ?`
	args := []any{hallID, unix(iv.End), unix(iv.Start)}
	if len(statuses) > 0 {
		marks, sargs := statusPlaceholders(statuses)
		query += ` AND status IN (` + marks + `)`
		args = append(args, sargs...)
	}
	query += ` ORDER BY start_time, id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
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

func (db *DB) FindOverlapping(ctx context.Context, hallID int64, iv model.Interval, statuses []model.Status) ([]model.Reservation, error) {
	return findOverlapping(ctx, db, hallID, iv, statuses)
}

func (db *DB) GetReservation(ctx context.Context, id int64) (*model.Reservation, error) {
	r, err := scanReservation(db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("reservation %d: %w", id, classify(err))
	}
	return r, nil
}

// ListReservations returns reservations matching f ordered by start time.
// From/To select reservations overlapping [From, To).
func (db *DB) ListReservations(ctx context.Context, f booking.ReservationFilter) ([]model.Reservation, error) {
	var (
		where []string
		args  []any
	)
	if f.HallID != 0 {
		where = append(where, "hall_id = ?")
		args = append(args, f.HallID)
	}
	if !f.From.IsZero() {
		where = append(where, "end_time > ?")
		args = append(args, unix(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "start_time < ?")
		args = append(args, unix(f.To))
	}
	if len(f.Statuses) > 0 {
		marks, sargs := statusPlaceholders(f.Statuses)
		where = append(where, "status IN ("+marks+")")
		args = append(args, sargs...)
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY start_time, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
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

// InHallTx runs fn in an immediate transaction. The write lock is held
// from BEGIN, so the overlap check and insert inside fn are atomic.
func (db *DB) InHallTx(ctx context.Context, hallID int64, fn func(ctx context.Context, tx booking.HallTx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &hallTx{q: tx, hallID: hallID}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify(tx.Commit())
}

type hallTx struct {
	q      queryer
	hallID int64
}

func (t *hallTx) FindOverlapping(ctx context.Context, hallID int64, iv model.Interval, statuses []model.Status) ([]model.Reservation, error) {
	return findOverlapping(ctx, t.q, hallID, iv, statuses)
}

func (t *hallTx) FindOverlappingBlocks(ctx context.Context, hallID int64, iv model.Interval) ([]model.BlockedSlot, error) {
	return findOverlappingBlocks(ctx, t.q, hallID, iv)
}

func (t *hallTx) InsertReservation(ctx context.Context, r *model.Reservation) error {
	if r.HallID != t.hallID {
		return fmt.Errorf("reservation for hall %d inserted under lock of hall %d", r.HallID, t.hallID)
	}
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO reservations (
			hall_id, customer_name, customer_phone, customer_email,
			start_time, end_time, duration_hours, total_price, comment,
			status, status_reason, changed_by, changed_by_role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.HallID, r.Customer.Name, r.Customer.Phone, r.Customer.Email,
		unix(r.Interval.Start), unix(r.Interval.End), r.DurationHours, r.TotalPrice.Minor(), r.Comment,
		string(r.Status), r.StatusReason, r.ChangedBy, string(r.ChangedByRole),
		unix(r.CreatedAt), unix(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", classify(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	r.ID = id
	return nil
}

// UpdateStatus is a compare-and-swap on the status column.
func (db *DB) UpdateStatus(ctx context.Context, c booking.StatusChange) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE reservations
		SET status = ?, status_reason = ?, changed_by = ?, changed_by_role = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(c.To), c.Reason, c.ChangedBy, string(c.ChangedByRole), unix(c.At),
		c.ID, string(c.From),
	)
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	var exists int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reservations WHERE id = ?`, c.ID).Scan(&exists); err != nil {
		return false, classify(err)
	}
	if exists == 0 {
		return false, fmt.Errorf("reservation %d: %w", c.ID, booking.ErrNotFound)
	}
	return false, nil
}

// AnonymizeFinishedBefore clears the customer contact data and comment of
// cancelled and rejected reservations that ended before cutoff. Rows stay in
// place; holding reservations are never touched.
func (db *DB) AnonymizeFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE reservations
		SET customer_name = ?, customer_phone = '', customer_email = '', comment = ''
		WHERE end_time < ? AND status IN (?, ?) AND customer_name <> ?`,
		model.AnonymizedName, unix(cutoff),
		string(model.StatusCancelled), string(model.StatusRejected),
		model.AnonymizedName,
	)
	if err != nil {
		return 0, classify(err)
	}
	return res.RowsAffected()
}
