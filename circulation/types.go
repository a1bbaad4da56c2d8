package circulation

import (
	"time"

	"github.com/shopspring/decimal"
)

// Instead of implementing full value objects, some alias types are used for identifiers.

// BookIDString identifies a book (a title with one or more physical copies).
type BookIDString = string

// MemberIDString identifies a library member.
type MemberIDString = string

// StaffIDString identifies the staff actor who recorded a circulation event.
type StaffIDString = string

// PolicyIDString identifies a MemberTypePolicy.
type PolicyIDString = string

// EntryIDString identifies a LedgerEntry.
type EntryIDString = string

// ReservationIDString identifies a Reservation.
type ReservationIDString = string

// Money is an exact decimal amount, fines are never computed in floating point.
type Money = decimal.Decimal

// ToEventTime converts a time with UTC normalization and microsecond precision,
// so that values survive a round trip through any of the stores unchanged.
func ToEventTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}

	return t.UTC().Truncate(time.Microsecond)
}

/***** Member *****/

// MemberStatus is the soft status of a member. Members are never deleted.
type MemberStatus string

const (
	MemberActive    MemberStatus = "Active"
	MemberSuspended MemberStatus = "Suspended"
	MemberExpired   MemberStatus = "Expired"
	MemberCancelled MemberStatus = "Cancelled"
)

// IsValid reports whether s is one of the known statuses.
func (s MemberStatus) IsValid() bool {
	switch s {
	case MemberActive, MemberSuspended, MemberExpired, MemberCancelled:
		return true
	default:
		return false
	}
}

// Member is a registered library member, bound to exactly one MemberTypePolicy.
type Member struct {
	ID       MemberIDString
	PolicyID PolicyIDString
	Status   MemberStatus
}

// MemberTypePolicy holds the lending rules of a member type.
// Once referenced by a member it is immutable, otherwise historical fines could not be reproduced.
type MemberTypePolicy struct {
	ID              PolicyIDString
	MaxBooksAllowed int
	LoanPeriodDays  int
	FinePerDay      Money
}

// Validate checks the policy values.
func (p MemberTypePolicy) Validate() error {
	if p.ID == "" || p.MaxBooksAllowed < 1 || p.LoanPeriodDays < 1 || p.FinePerDay.IsNegative() {
		return ErrInvalidPolicy
	}

	return nil
}

// Equal reports whether both policies carry the same rules.
func (p MemberTypePolicy) Equal(other MemberTypePolicy) bool {
	return p.ID == other.ID &&
		p.MaxBooksAllowed == other.MaxBooksAllowed &&
		p.LoanPeriodDays == other.LoanPeriodDays &&
		p.FinePerDay.Equal(other.FinePerDay)
}

/***** Book *****/

// Book holds the copy counts of a title.
// Invariant: 0 <= AvailableCopies <= TotalCopies and TotalCopies >= 1.
// Version increases with every change and is used for compare-and-set in durable stores.
type Book struct {
	ID              BookIDString
	TotalCopies     int
	AvailableCopies int
	Version         uint64
}

// LentCopies returns the number of copies currently out.
func (b Book) LentCopies() int {
	return b.TotalCopies - b.AvailableCopies
}

func (b Book) afterBorrow() (Book, error) {
	if b.AvailableCopies <= 0 {
		return b, ErrNoCopiesAvailable
	}

	b.AvailableCopies--
	b.Version++

	return b, nil
}

func (b Book) afterReturn() (Book, error) {
	if b.AvailableCopies >= b.TotalCopies {
		return b, ErrOverReturn
	}

	b.AvailableCopies++
	b.Version++

	return b, nil
}

func (b Book) afterAddingCopies(n int) (Book, error) {
	if n < 1 {
		return b, ErrInvalidCopies
	}

	b.TotalCopies += n
	b.AvailableCopies += n
	b.Version++

	return b, nil
}

/***** Reservation *****/

// ReservationStatus is the lifecycle state of a Reservation.
// Active is the only non-terminal state, terminal states never revert.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "Active"
	ReservationFulfilled ReservationStatus = "Fulfilled"
	ReservationCancelled ReservationStatus = "Cancelled"
	ReservationExpired   ReservationStatus = "Expired"
)

// IsTerminal reports whether no further transition is possible.
func (s ReservationStatus) IsTerminal() bool {
	return s != ReservationActive
}

// Reservation is a member's place in the waitlist of a book.
// PriorityRank is assigned by the queue, strictly increasing per book and never reused.
type Reservation struct {
	ID           ReservationIDString
	MemberID     MemberIDString
	BookID       BookIDString
	CreatedAt    time.Time
	ExpiryAt     time.Time
	PriorityRank uint64
	Status       ReservationStatus
}

// IsEligibleAt reports whether the reservation is Active and not yet expired at now.
func (r Reservation) IsEligibleAt(now time.Time) bool {
	return r.Status == ReservationActive && now.Before(r.ExpiryAt)
}

func (r Reservation) transitionTo(status ReservationStatus) (Reservation, error) {
	if r.Status.IsTerminal() {
		return r, ErrAlreadyTerminal
	}

	r.Status = status

	return r, nil
}
