package bot

import (
	"sync"

	"gaia/internal/model"
)

type dialogStep string

const (
	stepNone   dialogStep = "none"
	stepReason dialogStep = "reason"
)

// pendingAction is a reject/cancel waiting for its reason message.
type pendingAction struct {
	ReservationID int64
	Action        model.Action
}

type userState struct {
	Step    dialogStep
	Pending pendingAction
}

type stateStore struct {
	mu sync.Mutex
	m  map[int64]*userState
}

func newStateStore() *stateStore {
	return &stateStore{m: make(map[int64]*userState)}
}

// peek returns a copy of the user's dialog state without creating one.
func (s *stateStore) peek(userID int64) (userState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[userID]
	if !ok {
		return userState{Step: stepNone}, false
	}
	return *st, true
}

func (s *stateStore) set(userID int64, st userState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[userID] = &st
}

func (s *stateStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *stateStore) reset(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, userID)
}
