package circulation

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ReservationQueue keeps a FIFO waitlist per book.
// Ranks are assigned from a per-book counter and never reused, so among the Active
// reservations of a book the ranks are unique and follow creation order.
// It is safe for concurrent use.
//
// The mutators apply a change immediately for callers that use
// the queue without an Engine. The Engine validates the same transitions, persists them and
// then applies them.
type ReservationQueue struct {
	mu       sync.RWMutex
	byID     map[ReservationIDString]Reservation
	byBook   map[BookIDString][]ReservationIDString
	lastRank map[BookIDString]uint64
}

// NewReservationQueue creates an empty ReservationQueue.
func NewReservationQueue() *ReservationQueue {
	return &ReservationQueue{
		byID:     make(map[ReservationIDString]Reservation),
		byBook:   make(map[BookIDString][]ReservationIDString),
		lastRank: make(map[BookIDString]uint64),
	}
}

// Reserve puts the member at the end of the book's queue.
// It fails with ErrAlreadyReserved if the member already holds an eligible reservation for the book.
func (q *ReservationQueue) Reserve(
	memberID MemberIDString,
	bookID BookIDString,
	now time.Time,
	ttl time.Duration,
) (Reservation, error) {

	q.mu.Lock()
	defer q.mu.Unlock()

	reservation, err := q.prepareLocked(memberID, bookID, now, ttl)
	if err != nil {
		return Reservation{}, err
	}

	q.putLocked(reservation)

	return reservation, nil
}

// prepare builds the next reservation for the book without storing it.
func (q *ReservationQueue) prepare(
	memberID MemberIDString,
	bookID BookIDString,
	now time.Time,
	ttl time.Duration,
) (Reservation, error) {

	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.prepareLocked(memberID, bookID, now, ttl)
}

func (q *ReservationQueue) prepareLocked(
	memberID MemberIDString,
	bookID BookIDString,
	now time.Time,
	ttl time.Duration,
) (Reservation, error) {

	if memberID == "" || bookID == "" || ttl <= 0 {
		return Reservation{}, ErrInvalidArgument
	}

	now = ToEventTime(now)

	for _, id := range q.byBook[bookID] {
		existing := q.byID[id]
		if existing.MemberID == memberID && existing.IsEligibleAt(now) {
			return Reservation{}, ErrAlreadyReserved
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Reservation{}, err
	}

	return Reservation{
		ID:           id.String(),
		MemberID:     memberID,
		BookID:       bookID,
		CreatedAt:    now,
		ExpiryAt:     ToEventTime(now.Add(ttl)),
		PriorityRank: q.lastRank[bookID] + 1,
		Status:       ReservationActive,
	}, nil
}

// Cancel transitions an Active reservation to Cancelled.
func (q *ReservationQueue) Cancel(id ReservationIDString) (Reservation, error) {
	return q.transition(id, ReservationCancelled)
}

// Fulfill transitions an Active reservation to Fulfilled.
func (q *ReservationQueue) Fulfill(id ReservationIDString) (Reservation, error) {
	return q.transition(id, ReservationFulfilled)
}

func (q *ReservationQueue) transition(id ReservationIDString, status ReservationStatus) (Reservation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	reservation, ok := q.byID[id]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}

	changed, err := reservation.transitionTo(status)
	if err != nil {
		return reservation, err
	}

	q.byID[id] = changed

	return changed, nil
}

// ExpireOverdue transitions all Active reservations with ExpiryAt <= now to Expired
// and returns them.
func (q *ReservationQueue) ExpireOverdue(now time.Time) []Reservation {
	q.mu.Lock()
	defer q.mu.Unlock()

	expired := q.overdueLocked("", now)
	for _, reservation := range expired {
		q.byID[reservation.ID] = reservation
	}

	return expired
}

// overdue returns the Expired transitions which ExpireOverdue would apply,
// for one book or, with an empty bookID, for all books.
func (q *ReservationQueue) overdue(bookID BookIDString, now time.Time) []Reservation {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.overdueLocked(bookID, now)
}

func (q *ReservationQueue) overdueLocked(bookID BookIDString, now time.Time) []Reservation {
	expired := make([]Reservation, 0)

	for _, reservation := range q.byID {
		if bookID != "" && reservation.BookID != bookID {
			continue
		}

		if reservation.Status == ReservationActive && !now.Before(reservation.ExpiryAt) {
			reservation.Status = ReservationExpired
			expired = append(expired, reservation)
		}
	}

	sortReservations(expired)

	return expired
}

// NextEligible returns the lowest ranked Active, non-expired reservation of the book.
func (q *ReservationQueue) NextEligible(bookID BookIDString, now time.Time) (Reservation, bool) {
	active := q.ActiveFor(bookID, now)
	if len(active) == 0 {
		return Reservation{}, false
	}

	return active[0], true
}

// ActiveFor returns the Active, non-expired reservations of the book in rank order.
func (q *ReservationQueue) ActiveFor(bookID BookIDString, now time.Time) []Reservation {
	q.mu.RLock()
	defer q.mu.RUnlock()

	active := make([]Reservation, 0)

	for _, id := range q.byBook[bookID] {
		if reservation := q.byID[id]; reservation.IsEligibleAt(now) {
			active = append(active, reservation)
		}
	}

	sortReservations(active)

	return active
}

// ForBook returns all reservations of the book in rank order, terminal ones included.
func (q *ReservationQueue) ForBook(bookID BookIDString) []Reservation {
	q.mu.RLock()
	defer q.mu.RUnlock()

	all := make([]Reservation, 0, len(q.byBook[bookID]))
	for _, id := range q.byBook[bookID] {
		all = append(all, q.byID[id])
	}

	sortReservations(all)

	return all
}

// Reservation returns the reservation with the given ID.
func (q *ReservationQueue) Reservation(id ReservationIDString) (Reservation, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	reservation, ok := q.byID[id]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}

	return reservation, nil
}

// put stores a new reservation or a transition computed by the engine.
func (q *ReservationQueue) put(reservation Reservation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.byID[reservation.ID]; ok {
		if existing.Status.IsTerminal() && existing.Status != reservation.Status {
			return constraintViolation("terminal reservation can not change")
		}
	}

	q.putLocked(reservation)

	return nil
}

func (q *ReservationQueue) putLocked(reservation Reservation) {
	if _, exists := q.byID[reservation.ID]; !exists {
		q.byBook[reservation.BookID] = append(q.byBook[reservation.BookID], reservation.ID)
	}

	q.byID[reservation.ID] = reservation

	if reservation.PriorityRank > q.lastRank[reservation.BookID] {
		q.lastRank[reservation.BookID] = reservation.PriorityRank
	}
}

func sortReservations(reservations []Reservation) {
	slices.SortFunc(reservations, func(a, b Reservation) int {
		if a.BookID != b.BookID {
			if a.BookID < b.BookID {
				return -1
			}

			return 1
		}

		switch {
		case a.PriorityRank < b.PriorityRank:
			return -1
		case a.PriorityRank > b.PriorityRank:
			return 1
		default:
			return 0
		}
	})
}
