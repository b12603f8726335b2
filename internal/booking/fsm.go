package booking

import "gaia/internal/model"

// FSM is the reservation status state machine. Every caller, whatever
// the transport, goes through it.
type FSM struct {
	transitions map[model.Status][]model.Status
}

// NewFSM creates the reservation lifecycle:
// new -> confirmed | rejected | cancelled, confirmed -> cancelled.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[model.Status][]model.Status{
			model.StatusNew:       {model.StatusConfirmed, model.StatusRejected, model.StatusCancelled},
			model.StatusConfirmed: {model.StatusCancelled},
			model.StatusCancelled: nil,
			model.StatusRejected:  nil,
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to model.Status) bool {
	for _, s := range f.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Check returns a *TransitionError when from -> to is not an edge.
func (f *FSM) Check(id int64, from, to model.Status) error {
	if !f.CanTransition(from, to) {
		return &TransitionError{ReservationID: id, From: from, To: to}
	}
	return nil
}

// AllowedActions lists the staff actions legal from status, in display order.
func (f *FSM) AllowedActions(status model.Status) []model.Action {
	var out []model.Action
	for _, a := range []model.Action{model.ActionConfirm, model.ActionReject, model.ActionCancel} {
		to, _ := a.Target()
		if f.CanTransition(status, to) {
			out = append(out, a)
		}
	}
	return out
}
