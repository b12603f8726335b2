package booking

import (
	"context"
	"time"

	"gaia/internal/model"
)

// OverlapReader answers the range queries behind the slot rules.
type OverlapReader interface {
	// FindOverlapping returns reservations of the hall in one of statuses
	// whose interval overlaps iv.
	FindOverlapping(ctx context.Context, hallID int64, iv model.Interval, statuses []model.Status) ([]model.Reservation, error)

	// FindOverlappingBlocks returns active blocks of the hall overlapping iv.
	FindOverlappingBlocks(ctx context.Context, hallID int64, iv model.Interval) ([]model.BlockedSlot, error)
}

// HallTx is a write section serialized against every other HallTx on the
// same hall. Reads through it see all writes committed before it began.
type HallTx interface {
	OverlapReader
	InsertReservation(ctx context.Context, r *model.Reservation) error
}

// StatusChange is a compare-and-swap of a reservation status.
type StatusChange struct {
	ID            int64
	From          model.Status
	To            model.Status
	Reason        string
	ChangedBy     string
	ChangedByRole model.Role
	At            time.Time
}

// ReservationFilter narrows ListReservations. Zero fields are ignored.
type ReservationFilter struct {
	HallID   int64
	From     time.Time
	To       time.Time
	Statuses []model.Status
	Limit    int
}

// Store is the persisted reservation/block store. Implementations return
// ErrNotFound for unknown ids and wrap timeouts/unavailability with
// ErrTransient.
type Store interface {
	OverlapReader

	GetHall(ctx context.Context, id int64) (*model.Hall, error)
	GetHallBySlug(ctx context.Context, slug string) (*model.Hall, error)
	ListHalls(ctx context.Context) ([]model.Hall, error)

	GetReservation(ctx context.Context, id int64) (*model.Reservation, error)
	ListReservations(ctx context.Context, f ReservationFilter) ([]model.Reservation, error)

	// InHallTx runs fn inside a hall-scoped serialized write section and
	// commits when fn returns nil. Nothing persists when fn fails or ctx
	// is cancelled before commit.
	InHallTx(ctx context.Context, hallID int64, fn func(ctx context.Context, tx HallTx) error) error

	// UpdateStatus applies the change only when the current status equals
	// c.From. It reports whether a row was updated.
	UpdateStatus(ctx context.Context, c StatusChange) (bool, error)

	InsertBlock(ctx context.Context, b *model.BlockedSlot) error
	DeactivateBlock(ctx context.Context, id int64) error
}

// Notifier receives reservation events after commit. Implementations must
// not block and must not fail the caller.
type Notifier interface {
	ReservationCreated(r model.Reservation)
	ReservationStatusChanged(r model.Reservation, from model.Status)
}

type nopNotifier struct{}

func (nopNotifier) ReservationCreated(model.Reservation)                     {}
func (nopNotifier) ReservationStatusChanged(model.Reservation, model.Status) {}
