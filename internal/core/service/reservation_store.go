package service

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

// ReservationStore owns the reservation records, their state machine and the
// expiry deadline index. Status transitions are only performed by the
// LedgerEngine while it holds the backing unit's key lock, which makes
// check-and-set on one reservation race free.
type ReservationStore struct {
	mu        sync.RWMutex
	byID      map[string]*domain.Reservation
	deadlines expiryHeap
}

func NewReservationStore() *ReservationStore {
	return &ReservationStore{byID: make(map[string]*domain.Reservation)}
}

func (s *ReservationStore) Add(res domain.Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := res
	s.byID[res.ReservationID] = &stored
	if res.ExpiresAt != nil {
		heap.Push(&s.deadlines, expiryEntry{at: *res.ExpiresAt, id: res.ReservationID})
	}
}

func (s *ReservationStore) Get(reservationID string) (domain.Reservation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.byID[reservationID]
	if !ok {
		return domain.Reservation{}, false
	}
	return *res, true
}

func (s *ReservationStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// transition moves an Active reservation into a terminal status. Terminal
// states are final: a second transition fails with ErrInvalidStateTransition
// and changes nothing.
func (s *ReservationStore) transition(reservationID string, to domain.ReservationStatus, now time.Time) (domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.byID[reservationID]
	if !ok {
		return domain.Reservation{}, fmt.Errorf("%w: %s", domain.ErrReservationNotFound, reservationID)
	}
	if res.Status.Terminal() {
		return domain.Reservation{}, fmt.Errorf("%w: reservation %s is already %s", domain.ErrInvalidStateTransition, reservationID, res.Status)
	}
	res.Status = to
	res.UpdatedAt = now
	return *res, nil
}

// DuePop removes and returns the reservation ids whose deadline has passed.
// Entries come back once; resolution happens through the engine's
// cancellation path, which drops ids that were fulfilled or cancelled in the
// meantime.
func (s *ReservationStore) DuePop(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []string
	for len(s.deadlines) > 0 && !s.deadlines[0].at.After(now) {
		entry := heap.Pop(&s.deadlines).(expiryEntry)
		due = append(due, entry.id)
	}
	return due
}

type expiryEntry struct {
	at time.Time
	id string
}

type expiryHeap []expiryEntry

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x interface{}) { *h = append(*h, x.(expiryEntry)) }

func (h *expiryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}
