// Package memstore is an in-process booking.Store. It serializes writers
// per hall with a mutex and is used by tests and the dev server.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gaia/internal/booking"
	"gaia/internal/model"
)

type Store struct {
	mu           sync.RWMutex
	halls        map[int64]model.Hall
	reservations map[int64]*model.Reservation
	byHall       map[int64][]int64 // reservation ids sorted by start
	blocks       map[int64]*model.BlockedSlot
	staff        map[string]model.StaffMember
	nextHall     int64
	nextRes      int64
	nextBlock    int64

	lockMu    sync.Mutex
	hallLocks map[int64]*sync.Mutex
}

func New() *Store {
	return &Store{
		halls:        make(map[int64]model.Hall),
		reservations: make(map[int64]*model.Reservation),
		byHall:       make(map[int64][]int64),
		blocks:       make(map[int64]*model.BlockedSlot),
		staff:        make(map[string]model.StaffMember),
		hallLocks:    make(map[int64]*sync.Mutex),
	}
}

var _ booking.Store = (*Store)(nil)

// PutHall inserts or replaces a hall matched by slug and returns it with its id.
func (s *Store) PutHall(h model.Hall) model.Hall {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.halls {
		if existing.Slug == h.Slug {
			h.ID = id
			s.halls[id] = h
			return h
		}
	}
	s.nextHall++
	h.ID = s.nextHall
	s.halls[h.ID] = h
	return h
}

// SyncHalls upserts halls by slug and deactivates halls missing from the list.
func (s *Store) SyncHalls(ctx context.Context, halls []model.Hall) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(halls))
	for _, h := range halls {
		s.PutHall(h)
		seen[h.Slug] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range s.halls {
		if !seen[h.Slug] {
			h.IsActive = false
			s.halls[id] = h
		}
	}
	return nil
}

func (s *Store) GetHall(ctx context.Context, id int64) (*model.Hall, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.halls[id]
	if !ok {
		return nil, fmt.Errorf("hall %d: %w", id, booking.ErrNotFound)
	}
	return &h, nil
}

func (s *Store) GetHallBySlug(ctx context.Context, slug string) (*model.Hall, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, h := range s.halls {
		if h.Slug == slug {
			h := h
			return &h, nil
		}
	}
	return nil, fmt.Errorf("hall %q: %w", slug, booking.ErrNotFound)
}

func (s *Store) ListHalls(ctx context.Context) ([]model.Hall, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Hall, 0, len(s.halls))
	for _, h := range s.halls {
		if h.IsActive {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) FindOverlapping(ctx context.Context, hallID int64, iv model.Interval, statuses []model.Status) ([]model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findOverlappingLocked(hallID, iv, statuses), nil
}

func (s *Store) findOverlappingLocked(hallID int64, iv model.Interval, statuses []model.Status) []model.Reservation {
	ids := s.byHall[hallID]
	// Only reservations starting before iv.End can overlap it.
	n := sort.Search(len(ids), func(i int) bool {
		return !s.reservations[ids[i]].Interval.Start.Before(iv.End)
	})

	var out []model.Reservation
	for _, id := range ids[:n] {
		r := s.reservations[id]
		if r.Interval.Overlaps(iv) && hasStatus(statuses, r.Status) {
			out = append(out, *r)
		}
	}
	return out
}

func hasStatus(statuses []model.Status, st model.Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

func (s *Store) FindOverlappingBlocks(ctx context.Context, hallID int64, iv model.Interval) ([]model.BlockedSlot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.BlockedSlot
	for _, b := range s.blocks {
		if b.HallID == hallID && b.IsActive && b.Interval.Overlaps(iv) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Interval.Start.Before(out[j].Interval.Start) })
	return out, nil
}

func (s *Store) GetReservation(ctx context.Context, id int64) (*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %d: %w", id, booking.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *Store) ListReservations(ctx context.Context, f booking.ReservationFilter) ([]model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Reservation
	for _, r := range s.reservations {
		if f.HallID != 0 && r.HallID != f.HallID {
			continue
		}
		if !f.From.IsZero() && !r.Interval.End.After(f.From) {
			continue
		}
		if !f.To.IsZero() && !r.Interval.Start.Before(f.To) {
			continue
		}
		if !hasStatus(f.Statuses, r.Status) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Interval.Start.Equal(out[j].Interval.Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Interval.Start.Before(out[j].Interval.Start)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) hallLock(hallID int64) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	l, ok := s.hallLocks[hallID]
	if !ok {
		l = &sync.Mutex{}
		s.hallLocks[hallID] = l
	}
	return l
}

// InHallTx holds the hall mutex for the duration of fn. Inserts are staged
// and become visible only when fn returns nil and ctx is still live.
func (s *Store) InHallTx(ctx context.Context, hallID int64, fn func(ctx context.Context, tx booking.HallTx) error) error {
	l := s.hallLock(hallID)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &hallTx{store: s, hallID: hallID}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range tx.staged {
		s.nextRes++
		r.ID = s.nextRes
		cp := *r
		s.reservations[cp.ID] = &cp
		s.insertSortedLocked(cp.HallID, cp.ID)
	}
	return nil
}

func (s *Store) insertSortedLocked(hallID, id int64) {
	ids := s.byHall[hallID]
	start := s.reservations[id].Interval.Start
	i := sort.Search(len(ids), func(i int) bool {
		return s.reservations[ids[i]].Interval.Start.After(start)
	})
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	s.byHall[hallID] = ids
}

type hallTx struct {
	store  *Store
	hallID int64
	staged []*model.Reservation
}

func (t *hallTx) FindOverlapping(ctx context.Context, hallID int64, iv model.Interval, statuses []model.Status) ([]model.Reservation, error) {
	out, err := t.store.FindOverlapping(ctx, hallID, iv, statuses)
	if err != nil {
		return nil, err
	}
	for _, r := range t.staged {
		if r.HallID == hallID && r.Interval.Overlaps(iv) && hasStatus(statuses, r.Status) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (t *hallTx) FindOverlappingBlocks(ctx context.Context, hallID int64, iv model.Interval) ([]model.BlockedSlot, error) {
	return t.store.FindOverlappingBlocks(ctx, hallID, iv)
}

func (t *hallTx) InsertReservation(ctx context.Context, r *model.Reservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.HallID != t.hallID {
		return fmt.Errorf("reservation for hall %d inserted under lock of hall %d", r.HallID, t.hallID)
	}
	t.staged = append(t.staged, r)
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, c booking.StatusChange) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[c.ID]
	if !ok {
		return false, fmt.Errorf("reservation %d: %w", c.ID, booking.ErrNotFound)
	}
	if r.Status != c.From {
		return false, nil
	}
	r.Status = c.To
	r.StatusReason = c.Reason
	r.ChangedBy = c.ChangedBy
	r.ChangedByRole = c.ChangedByRole
	r.UpdatedAt = c.At
	return true, nil
}

func (s *Store) InsertBlock(ctx context.Context, b *model.BlockedSlot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.halls[b.HallID]; !ok {
		return fmt.Errorf("hall %d: %w", b.HallID, booking.ErrNotFound)
	}
	s.nextBlock++
	b.ID = s.nextBlock
	cp := *b
	s.blocks[cp.ID] = &cp
	return nil
}

func (s *Store) DeactivateBlock(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blocks[id]
	if !ok || !b.IsActive {
		return fmt.Errorf("block %d: %w", id, booking.ErrNotFound)
	}
	b.IsActive = false
	return nil
}

func (s *Store) GetStaff(ctx context.Context, principalID string) (*model.StaffMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.staff[principalID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *Store) UpsertStaff(ctx context.Context, m model.StaffMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.staff[m.PrincipalID]; ok {
		m.CreatedAt = existing.CreatedAt
	} else if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.staff[m.PrincipalID] = m
	return nil
}

func (s *Store) RemoveStaff(ctx context.Context, principalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.staff[principalID]
	delete(s.staff, principalID)
	return ok, nil
}

func (s *Store) ListStaff(ctx context.Context) ([]model.StaffMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.StaffMember, 0, len(s.staff))
	for _, m := range s.staff {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PrincipalID < out[j].PrincipalID })
	return out, nil
}
