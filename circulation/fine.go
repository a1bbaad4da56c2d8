package circulation

import (
	"time"

	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// FineFor computes the fine of a loan as of the given time.
//
// The effective date is asOf, or the return date if the loan was returned on or before asOf,
// so a closed loan stops accruing. Only whole days past the due date count.
// Renewals recorded after the effective date are ignored. A renewal of an overdue loan does
// not forgive the days accrued up to it: they are counted against the due date that was in
// force until then, and counting continues against the new due date.
// FineFor is pure: same inputs, same result.
func FineFor(loan Loan, asOf time.Time, policy MemberTypePolicy) Money {
	effective := ToEventTime(asOf)
	if !loan.ReturnedAt.IsZero() && !loan.ReturnedAt.After(effective) {
		effective = loan.ReturnedAt
	}

	due := loan.DueDate
	if len(loan.Extensions) > 0 {
		due = loan.Borrow.DueDate
	}

	var daysOverdue int64

	for _, extension := range loan.Extensions {
		if extension.RenewedAt.After(effective) {
			break
		}

		daysOverdue += DaysOverdue(due, extension.RenewedAt)
		due = extension.DueDate
	}

	daysOverdue += DaysOverdue(due, effective)
	if daysOverdue <= 0 {
		return decimal.Zero
	}

	return policy.FinePerDay.Mul(decimal.NewFromInt(daysOverdue))
}

// DaysOverdue returns the whole days between dueDate and at, truncated, or zero if at is not past dueDate.
func DaysOverdue(dueDate, at time.Time) int64 {
	if dueDate.IsZero() || !at.After(dueDate) {
		return 0
	}

	return int64(at.Sub(dueDate) / day)
}
