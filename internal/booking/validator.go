package booking

import (
	"context"
	"fmt"
	"time"

	"gaia/internal/model"
	"gaia/internal/schedule"
)

// Validator runs the slot rules in order and stops at the first failure:
// range shape, business hours, holding reservations, blocks.
type Validator struct {
	policy *schedule.Policy
	reader OverlapReader
}

func NewValidator(policy *schedule.Policy, reader OverlapReader) *Validator {
	return &Validator{policy: policy, reader: reader}
}

// ValidateRequest returns nil or one of ErrInvalidRange,
// ErrOutsideBusinessHours, ErrConflict, ErrBlocked. Any other error is a
// store failure.
func (v *Validator) ValidateRequest(ctx context.Context, hallID int64, iv model.Interval) error {
	if err := v.CheckShape(iv); err != nil {
		return err
	}
	return v.CheckOccupancy(ctx, v.reader, hallID, iv)
}

// SlotIsFree reports whether iv passes every rule.
func (v *Validator) SlotIsFree(ctx context.Context, hallID int64, iv model.Interval) (bool, error) {
	err := v.ValidateRequest(ctx, hallID, iv)
	switch {
	case err == nil:
		return true, nil
	case IsRejection(err):
		return false, nil
	default:
		return false, err
	}
}

// CheckShape covers the store-independent rules: a positive whole number
// of slots inside one day's business window.
func (v *Validator) CheckShape(iv model.Interval) error {
	if !iv.IsValid() {
		return fmt.Errorf("%w: start %s is not before end %s", ErrInvalidRange,
			iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339))
	}
	step := v.policy.Granularity()
	d := iv.Duration()
	if d%step != 0 {
		return fmt.Errorf("%w: duration %s is not a multiple of %s", ErrInvalidRange, d, step)
	}
	n := int(d / step)
	if n < v.policy.MinSlots() {
		return fmt.Errorf("%w: at least %d slot(s) required", ErrInvalidRange, v.policy.MinSlots())
	}
	if limit := v.policy.MaxSlots(); limit > 0 && n > limit {
		return fmt.Errorf("%w: at most %d slot(s) allowed", ErrInvalidRange, limit)
	}

	window, ok := v.policy.Window(iv.Start)
	if !ok {
		return fmt.Errorf("%w: %s is closed", ErrOutsideBusinessHours, iv.Start.In(v.policy.Location()).Format("2006-01-02"))
	}
	if !window.Contains(iv) {
		return fmt.Errorf("%w: %s is outside %s", ErrOutsideBusinessHours,
			iv.In(v.policy.Location()), window.In(v.policy.Location()))
	}
	return nil
}

// CheckOccupancy applies the conflict and block rules through r, which is
// either the store or an open HallTx.
func (v *Validator) CheckOccupancy(ctx context.Context, r OverlapReader, hallID int64, iv model.Interval) error {
	existing, err := r.FindOverlapping(ctx, hallID, iv, model.HoldingStatuses)
	if err != nil {
		return fmt.Errorf("find overlapping reservations: %w", err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("%w: #%d %s", ErrConflict, existing[0].ID, existing[0].Interval.In(v.policy.Location()))
	}

	blocks, err := r.FindOverlappingBlocks(ctx, hallID, iv)
	if err != nil {
		return fmt.Errorf("find overlapping blocks: %w", err)
	}
	if len(blocks) > 0 {
		b := blocks[0]
		if b.Reason != "" {
			return fmt.Errorf("%w: %s (%s)", ErrBlocked, b.Interval.In(v.policy.Location()), b.Reason)
		}
		return fmt.Errorf("%w: %s", ErrBlocked, b.Interval.In(v.policy.Location()))
	}
	return nil
}
