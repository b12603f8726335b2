package model

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusNew       Status = "new"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusRejected  Status = "rejected"
)

// HoldingStatuses occupy their interval and block conflicting reservations.
var HoldingStatuses = []Status{StatusNew, StatusConfirmed}

// IsHolding reports whether the status still occupies its interval.
func (s Status) IsHolding() bool {
	return s == StatusNew || s == StatusConfirmed
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusRejected
}

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusConfirmed, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// ParseStatus also accepts the "pending" and "canceled" spellings.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "new", "pending":
		return StatusNew, nil
	case "confirmed":
		return StatusConfirmed, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	case "rejected":
		return StatusRejected, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Action is a staff command against a reservation.
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionReject  Action = "reject"
	ActionCancel  Action = "cancel"
)

// Target returns the status the action moves a reservation to.
func (a Action) Target() (Status, bool) {
	switch a {
	case ActionConfirm:
		return StatusConfirmed, true
	case ActionReject:
		return StatusRejected, true
	case ActionCancel:
		return StatusCancelled, true
	}
	return "", false
}

func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := a.Target(); !ok {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

// AnonymizedName replaces the customer name of reservations whose personal
// data has passed retention.
const AnonymizedName = "(скрыто)"

type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

type Reservation struct {
	ID            int64     `json:"id"`
	HallID        int64     `json:"hall_id"`
	Customer      Customer  `json:"customer"`
	Interval      Interval  `json:"interval"`
	DurationHours int       `json:"duration_hours"`
	TotalPrice    Money     `json:"total_price"`
	Comment       string    `json:"comment,omitempty"`
	Status        Status    `json:"status"`
	StatusReason  string    `json:"status_reason,omitempty"`
	ChangedBy     string    `json:"changed_by,omitempty"`
	ChangedByRole Role      `json:"changed_by_role,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
