package circulation

import (
	"errors"
	"fmt"
)

// Precondition violations. These are expected outcomes which are reported to the caller
// and never retried automatically.
var (
	ErrMemberIneligible   = errors.New("member is not eligible")
	ErrBorrowLimitReached = errors.New("borrow limit reached")
	ErrNoCopiesAvailable  = errors.New("no copies available")
	ErrNoOpenBorrow       = errors.New("no open borrow")
	ErrAlreadyReserved    = errors.New("book is already reserved by this member")
	ErrAlreadyBorrowed    = errors.New("member already has this book on loan")
	ErrAlreadyTerminal    = errors.New("reservation is already terminal")
	ErrReservationPending = errors.New("a reservation is pending for this book")
	ErrStockAvailable     = errors.New("book has copies available, borrow instead")
)

// Consistency violations. They point at a sequencing bug on the caller side or a lost
// concurrency guard and must not be absorbed.
var (
	ErrConstraintViolation = errors.New("constraint violation")
	ErrOverReturn          = errors.New("available copies would exceed total copies")
)

// ErrContention is returned when a critical section could not be acquired in time or a
// compare-and-set in the store lost against a concurrent writer. Safe to retry.
var ErrContention = errors.New("contention on circulation resource, retry later")

// Lookup and onboarding errors.
var (
	ErrBookNotFound        = errors.New("book not found")
	ErrMemberNotFound      = errors.New("member not found")
	ErrPolicyNotFound      = errors.New("member type policy not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrBookAlreadyExists   = errors.New("book already exists")
	ErrMemberAlreadyExists = errors.New("member already exists")
	ErrPolicyInUse         = errors.New("member type policy is referenced by members and can not change")
	ErrInvalidPolicy       = errors.New("member type policy is not valid")
	ErrInvalidCopies       = errors.New("number of copies is not valid")
	ErrInvalidStatus       = errors.New("status is not valid")
	ErrInvalidArgument     = errors.New("invalid argument")
)

// ErrNilStore is returned when WithStore is given a nil Store.
var ErrNilStore = errors.New("store must not be nil")

var preconditionErrors = []error{
	ErrMemberIneligible,
	ErrBorrowLimitReached,
	ErrNoCopiesAvailable,
	ErrNoOpenBorrow,
	ErrAlreadyReserved,
	ErrAlreadyBorrowed,
	ErrAlreadyTerminal,
	ErrReservationPending,
	ErrStockAvailable,
}

// IsPreconditionViolation reports whether err is one of the expected, caller-recoverable outcomes.
func IsPreconditionViolation(err error) bool {
	for _, target := range preconditionErrors {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

// IsRetryable reports whether err is transient. Only contention is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention)
}

func constraintViolation(reason string) error {
	return fmt.Errorf("%w: %s", ErrConstraintViolation, reason)
}
