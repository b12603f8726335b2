// Package booking is the reservation engine: slot validation, atomic
// creation and the status lifecycle.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gaia/internal/metrics"
	"gaia/internal/model"
	"gaia/internal/pricing"
	"gaia/internal/schedule"
	"gaia/internal/slots"

	"github.com/rs/zerolog"
)

// DefaultStoreTimeout bounds every store call made by the Manager.
const DefaultStoreTimeout = 5 * time.Second

// Actor identifies who performs a staff operation.
type Actor struct {
	PrincipalID string
	Role        model.Role
}

// CreateRequest is a customer's reservation request.
type CreateRequest struct {
	HallID   int64
	Interval model.Interval
	Customer model.Customer
	Comment  string
}

func (r CreateRequest) validate() error {
	if strings.TrimSpace(r.Customer.Name) == "" {
		return fmt.Errorf("%w: customer name is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Customer.Phone) == "" {
		return fmt.Errorf("%w: customer phone is required", ErrInvalidRequest)
	}
	return nil
}

// TransitionOptions carries the optional reason and the acting principal.
type TransitionOptions struct {
	Reason string
	Actor  Actor
}

// Options configures a Manager.
type Options struct {
	StoreTimeout time.Duration
	Now          func() time.Time
	Logger       *zerolog.Logger
}

// Manager owns reservation creation, status transitions and blocks.
type Manager struct {
	store      Store
	policy     *schedule.Policy
	validator  *Validator
	pricing    *pricing.Engine
	calculator *slots.Calculator
	fsm        *FSM
	notifier   Notifier
	timeout    time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

// NewManager wires the engine. notifier may be nil.
func NewManager(store Store, policy *schedule.Policy, notifier Notifier, opts Options) *Manager {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	validator := NewValidator(policy, store)
	return &Manager{
		store:      store,
		policy:     policy,
		validator:  validator,
		pricing:    pricing.NewEngine(policy),
		calculator: slots.NewCalculator(validator, policy),
		fsm:        NewFSM(),
		notifier:   notifier,
		timeout:    opts.StoreTimeout,
		now:        opts.Now,
		logger:     logger.With().Str("component", "booking").Logger(),
	}
}

func (m *Manager) Policy() *schedule.Policy { return m.policy }
func (m *Manager) FSM() *FSM                { return m.fsm }

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.timeout)
}

// Create validates, prices and persists a reservation in status new. The
// conflict and block rules are re-checked inside a hall-scoped write
// section so two overlapping requests can never both commit.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*model.Reservation, error) {
	if err := req.validate(); err != nil {
		metrics.IncReservationCreated("invalid")
		return nil, err
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	hall, err := m.getHall(ctx, req.HallID)
	if err != nil {
		return nil, err
	}
	if !hall.IsActive {
		return nil, fmt.Errorf("hall %s is not bookable: %w", hall.Slug, ErrNotFound)
	}

	iv := req.Interval
	if err := m.validator.ValidateRequest(ctx, hall.ID, iv); err != nil {
		return nil, m.createFailed(err)
	}

	price, err := m.pricing.Price(hall, iv)
	if errors.Is(err, pricing.ErrFractionalHours) {
		return nil, m.createFailed(fmt.Errorf("%w: %v", ErrInvalidRange, err))
	}
	if err != nil {
		return nil, m.createFailed(err)
	}

	now := m.now()
	r := &model.Reservation{
		HallID:        hall.ID,
		Customer:      req.Customer,
		Interval:      iv,
		DurationHours: pricing.Hours(iv),
		TotalPrice:    price,
		Comment:       req.Comment,
		Status:        model.StatusNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	start := time.Now()
	err = m.store.InHallTx(ctx, hall.ID, func(ctx context.Context, tx HallTx) error {
		if err := m.validator.CheckOccupancy(ctx, tx, hall.ID, iv); err != nil {
			return err
		}
		return tx.InsertReservation(ctx, r)
	})
	metrics.ObserveStore("create", start)
	if err != nil {
		return nil, m.createFailed(err)
	}

	metrics.IncReservationCreated("created")
	m.logger.Info().
		Int64("reservation_id", r.ID).
		Str("hall", hall.Slug).
		Str("interval", r.Interval.In(m.policy.Location()).String()).
		Str("price", r.TotalPrice.String()).
		Msg("reservation created")

	m.notifier.ReservationCreated(*r)
	return r, nil
}

func (m *Manager) createFailed(err error) error {
	err = storeError(err)
	switch {
	case errors.Is(err, ErrConflict):
		metrics.IncReservationCreated("conflict")
	case errors.Is(err, ErrBlocked):
		metrics.IncReservationCreated("blocked")
	case IsRejection(err):
		metrics.IncReservationCreated("invalid")
	case errors.Is(err, ErrTransient):
		metrics.IncReservationCreated("transient")
		m.logger.Warn().Err(err).Msg("reservation create hit a transient store error")
	default:
		metrics.IncReservationCreated("error")
		m.logger.Error().Err(err).Msg("reservation create failed")
	}
	return err
}

// Transition applies a staff action. The update is a compare-and-swap on
// the current status, so of two racing actions at most one applies.
// Repeating an already applied action fails with a TransitionError.
func (m *Manager) Transition(ctx context.Context, id int64, action model.Action, opts TransitionOptions) (*model.Reservation, error) {
	target, ok := action.Target()
	if !ok {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
	}
	role := opts.Actor.Role
	if role == "" {
		role = model.RoleNone
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	r, err := m.store.GetReservation(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if err := m.fsm.Check(id, r.Status, target); err != nil {
		metrics.IncTransition(string(action), string(role), "invalid")
		return nil, err
	}

	change := StatusChange{
		ID:            id,
		From:          r.Status,
		To:            target,
		Reason:        strings.TrimSpace(opts.Reason),
		ChangedBy:     opts.Actor.PrincipalID,
		ChangedByRole: role,
		At:            m.now(),
	}

	start := time.Now()
	applied, err := m.store.UpdateStatus(ctx, change)
	metrics.ObserveStore("update_status", start)
	if err != nil {
		metrics.IncTransition(string(action), string(role), "error")
		return nil, storeError(err)
	}
	if !applied {
		// Someone else moved it first; report against the status they left.
		current, err := m.store.GetReservation(ctx, id)
		if err != nil {
			return nil, storeError(err)
		}
		metrics.IncTransition(string(action), string(role), "lost_race")
		return nil, &TransitionError{ReservationID: id, From: current.Status, To: target}
	}

	from := r.Status
	r.Status = target
	r.StatusReason = change.Reason
	r.ChangedBy = change.ChangedBy
	r.ChangedByRole = change.ChangedByRole
	r.UpdatedAt = change.At

	metrics.IncTransition(string(action), string(role), "applied")
	m.logger.Info().
		Int64("reservation_id", id).
		Str("from", string(from)).
		Str("to", string(target)).
		Str("actor", change.ChangedBy).
		Str("role", string(role)).
		Msg("reservation status changed")

	m.notifier.ReservationStatusChanged(*r, from)
	return r, nil
}

func (m *Manager) Confirm(ctx context.Context, id int64, actor Actor) (*model.Reservation, error) {
	return m.Transition(ctx, id, model.ActionConfirm, TransitionOptions{Actor: actor})
}

func (m *Manager) Reject(ctx context.Context, id int64, reason string, actor Actor) (*model.Reservation, error) {
	return m.Transition(ctx, id, model.ActionReject, TransitionOptions{Reason: reason, Actor: actor})
}

func (m *Manager) Cancel(ctx context.Context, id int64, reason string, actor Actor) (*model.Reservation, error) {
	return m.Transition(ctx, id, model.ActionCancel, TransitionOptions{Reason: reason, Actor: actor})
}

// CreateBlock stores an administrative block. Blocks are not checked
// against reservations or other blocks.
func (m *Manager) CreateBlock(ctx context.Context, hallID int64, iv model.Interval, reason string, actor Actor) (*model.BlockedSlot, error) {
	if !iv.IsValid() {
		return nil, fmt.Errorf("%w: block start must be before end", ErrInvalidRange)
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	hall, err := m.getHall(ctx, hallID)
	if err != nil {
		return nil, err
	}

	b := &model.BlockedSlot{
		HallID:    hall.ID,
		Interval:  iv,
		Reason:    strings.TrimSpace(reason),
		CreatedBy: actor.PrincipalID,
		IsActive:  true,
		CreatedAt: m.now(),
	}
	if err := m.store.InsertBlock(ctx, b); err != nil {
		return nil, storeError(err)
	}

	metrics.IncBlockCreated()
	m.logger.Info().
		Int64("block_id", b.ID).
		Str("hall", hall.Slug).
		Str("interval", iv.In(m.policy.Location()).String()).
		Str("actor", actor.PrincipalID).
		Msg("slot blocked")
	return b, nil
}

// RemoveBlock deactivates a block and releases its interval.
func (m *Manager) RemoveBlock(ctx context.Context, id int64, actor Actor) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	if err := m.store.DeactivateBlock(ctx, id); err != nil {
		return storeError(err)
	}
	m.logger.Info().Int64("block_id", id).Str("actor", actor.PrincipalID).Msg("block removed")
	return nil
}

func (m *Manager) Get(ctx context.Context, id int64) (*model.Reservation, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	r, err := m.store.GetReservation(ctx, id)
	return r, storeError(err)
}

// List returns reservations matching f, ordered by start time.
func (m *Manager) List(ctx context.Context, f ReservationFilter) ([]model.Reservation, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	if f.Limit <= 0 {
		f.Limit = 100
	}
	rs, err := m.store.ListReservations(ctx, f)
	return rs, storeError(err)
}

// ListFreeSlots returns the free slots of the hall on date's local day.
func (m *Manager) ListFreeSlots(ctx context.Context, hallID int64, date time.Time) ([]model.Interval, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	if _, err := m.getHall(ctx, hallID); err != nil {
		return nil, err
	}
	free, err := m.calculator.FreeSlots(ctx, hallID, date)
	return free, storeError(err)
}

// DaySlots returns every slot of the day with its availability.
func (m *Manager) DaySlots(ctx context.Context, hallID int64, date time.Time) ([]slots.Slot, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	if _, err := m.getHall(ctx, hallID); err != nil {
		return nil, err
	}
	all, err := m.calculator.Slots(ctx, hallID, date)
	return all, storeError(err)
}

// SlotIsFree reports whether iv could be booked right now.
func (m *Manager) SlotIsFree(ctx context.Context, hallID int64, iv model.Interval) (bool, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	ok, err := m.validator.SlotIsFree(ctx, hallID, iv)
	return ok, storeError(err)
}

// ValidateRequest runs the slot rules without creating anything.
func (m *Manager) ValidateRequest(ctx context.Context, hallID int64, iv model.Interval) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	return storeError(m.validator.ValidateRequest(ctx, hallID, iv))
}

// Blocks returns active blocks of the hall overlapping iv.
func (m *Manager) Blocks(ctx context.Context, hallID int64, iv model.Interval) ([]model.BlockedSlot, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	bs, err := m.store.FindOverlappingBlocks(ctx, hallID, iv)
	return bs, storeError(err)
}

func (m *Manager) Halls(ctx context.Context) ([]model.Hall, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	hs, err := m.store.ListHalls(ctx)
	return hs, storeError(err)
}

func (m *Manager) HallBySlug(ctx context.Context, slug string) (*model.Hall, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	h, err := m.store.GetHallBySlug(ctx, slug)
	return h, storeError(err)
}

func (m *Manager) Hall(ctx context.Context, id int64) (*model.Hall, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	return m.getHall(ctx, id)
}

func (m *Manager) getHall(ctx context.Context, id int64) (*model.Hall, error) {
	h, err := m.store.GetHall(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	return h, nil
}
