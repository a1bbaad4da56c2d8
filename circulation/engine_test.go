package circulation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Engine_ReservationHandOverScenario(t *testing.T) {
	// arrange
	ctx := context.Background()
	clock := newFakeClock()

	var offered []Reservation
	notifier := NotifierFunc(func(_ context.Context, reservation Reservation) error {
		offered = append(offered, reservation)
		return nil
	})

	engine := newTestEngine(t, clock, []MemberIDString{"M1", "M2"}, WithNotifier(notifier))
	addBook(t, engine, "B1", 1)

	// act & assert
	m1Borrow := borrow(t, engine, "M1", "B1")
	assert.Equal(t, testStart.AddDate(0, 0, 14), m1Borrow.DueDate)
	assert.Equal(t, 0, availableCopies(t, engine, "B1"))

	_, err := engine.Borrow(ctx, BorrowCommand{MemberID: "M2", BookID: "B1", StaffID: "S1"})
	assert.ErrorIs(t, err, ErrNoCopiesAvailable)

	reservation, err := engine.Reserve(ctx, ReserveCommand{MemberID: "M2", BookID: "B1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), reservation.PriorityRank)

	clock.Advance(24 * time.Hour)
	result, err := engine.ReturnBook(ctx, ReturnCommand{MemberID: "M1", BookID: "B1", StaffID: "S1"})
	require.NoError(t, err)
	assert.Equal(t, 1, availableCopies(t, engine, "B1"))
	require.NotNil(t, result.Candidate)
	assert.Equal(t, "M2", result.Candidate.MemberID)
	assert.True(t, result.Fine.IsZero())
	require.Len(t, offered, 1)
	assert.Equal(t, reservation.ID, offered[0].ID)

	borrow(t, engine, "M2", "B1")
	assert.Equal(t, 0, availableCopies(t, engine, "B1"))

	reservations := engine.Reservations("B1")
	require.Len(t, reservations, 1)
	assert.Equal(t, ReservationFulfilled, reservations[0].Status)
}

func Test_Engine_BorrowThenReturn_RestoresAvailableCopies(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, newFakeClock(), []MemberIDString{"M1"})
	addBook(t, engine, "B1", 3)

	borrow(t, engine, "M1", "B1")
	_, err := engine.ReturnBook(ctx, ReturnCommand{MemberID: "M1", BookID: "B1", StaffID: "S1"})

	require.NoError(t, err)
	assert.Equal(t, 3, availableCopies(t, engine, "B1"))
}

func Test_Engine_Borrow_PreconditionViolations(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, newFakeClock(), []MemberIDString{"M1", "M2"})
	for _, bookID := range []BookIDString{"B1", "B2", "B3", "B4"} {
		addBook(t, engine, bookID, 2)
	}

	t.Run("already borrowed by the member", func(t *testing.T) {
		borrow(t, engine, "M1", "B1")

		_, err := engine.Borrow(ctx, BorrowCommand{MemberID: "M1", BookID: "B1"})

		assert.ErrorIs(t, err, ErrConstraintViolation)
		assert.Equal(t, 1, availableCopies(t, engine, "B1"))
	})

	t.Run("borrow limit reached", func(t *testing.T) {
		borrow(t, engine, "M1", "B2")
		borrow(t, engine, "M1", "B3")

		_, err := engine.Borrow(ctx, BorrowCommand{MemberID: "M1", BookID: "B4"})

		assert.ErrorIs(t, err, ErrBorrowLimitReached)
		assert.Equal(t, 2, availableCopies(t, engine, "B4"))
	})

	t.Run("member not active", func(t *testing.T) {
		_, err := engine.ChangeMemberStatus(ctx, "M2", MemberSuspended)
		require.NoError(t, err)

		_, err = engine.Borrow(ctx, BorrowCommand{MemberID: "M2", BookID: "B4"})

		assert.ErrorIs(t, err, ErrMemberIneligible)
		assert.True(t, IsPreconditionViolation(err))
	})

	t.Run("unknown member and book", func(t *testing.T) {
		_, err := engine.Borrow(ctx, BorrowCommand{MemberID: "nobody", BookID: "B4"})
		assert.ErrorIs(t, err, ErrMemberNotFound)

		_, err = engine.Borrow(ctx, BorrowCommand{MemberID: "M1", BookID: "nothing"})
		assert.ErrorIs(t, err, ErrBookNotFound)
	})
}

func Test_Engine_Borrow_UsesExplicitLoanPeriod(t *testing.T) {
	engine := newTestEngine(t, newFakeClock(), []MemberIDString{"M1"})
	addBook(t, engine, "B1", 1)

	entry, err := engine.Borrow(context.Background(), BorrowCommand{MemberID: "M1", BookID: "B1", LoanPeriodDays: 7})

	require.NoError(t, err)
	assert.Equal(t, testStart.AddDate(0, 0, 7), entry.DueDate)
}

func Test_Engine_Borrow_HoldsCopyForEarlierReservation(t *testing.T) {
	// arrange
	ctx := context.Background()
	engine := newTestEngine(t, newFakeClock(), []MemberIDString{"M1", "M2", "M3"})
	addBook(t, engine, "B1", 1)
	borrow(t, engine, "M1", "B1")
	_, err := engine.Reserve(ctx, ReserveCommand{MemberID: "M2", BookID: "B1"})
	require.NoError(t, err)
	_, err = engine.ReturnBook(ctx, ReturnCommand{MemberID: "M1", BookID: "B1"})
	require.NoError(t, err)

	// act
	_, err = engine.Borrow(ctx, BorrowCommand{MemberID: "M3", BookID: "B1"})

	// assert
	assert.ErrorIs(t, err, ErrReservationPending)
	assert.Equal(t, 1, availableCopies(t, engine, "B1"))

	_, err = engine.Reserve(ctx, ReserveCommand{MemberID: "M3", BookID: "B1"})
	assert.NoError(t, err, "a held copy does not count as stock")
}

func Test_Engine_Borrow_WithoutHoldsFirstComeFirstServed(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, newFakeClock(), []MemberIDString{"M1", "M2", "M3"}, WithReservationHolds(false))
	addBook(t, engine, "B1", 1)
	borrow(t, engine, "M1", "B1")
	_, err := engine.Reserve(ctx, ReserveCommand{MemberID: "M2", BookID: "B1"})
	require.NoError(t, err)
	_, err = engine.ReturnBook(ctx, ReturnCommand{MemberID: "M1", BookID: "B1"})
	require.NoError(t, err)

	_, err = engine.Borrow(ctx, BorrowCommand{MemberID: "M3", BookID: "B1"})

	assert.NoError(t, err)
}

func Test_Engine_Borrow_ExpiredReservationDoesNotHoldCopy(t *testing.T) {
	// arrange
	ctx := context.Background()
	clock := newFakeClock()
	engine := newTestEngine(t, clock, []MemberIDString{"M1", "M2", "M3"})
	addBook(t, engine, "B1", 1)
	borrow(t, engine, "M1", "B1")
	reservation, err := engine.Reserve(ctx, ReserveCommand{MemberID: "M2", BookID: "B1", TTL: time.Hour})
	require.NoError(t, err)
	_, err = engine.ReturnBook(ctx, ReturnCommand{MemberID: "M1", BookID: "B1"})
	require.NoError(t, err)

	// act
	clock.Advance(time.Hour)
	borrow(t, engine, "M3", "B1")

	// assert
	reservations := engine.Reservations("B1")
	require.Len(t, reservations, 1)
	assert.Equal(t, reservation.ID, reservations[0].ID)
	assert.Equal(t, ReservationExpired, reservations[0].Status, "expired lazily by the borrow")
}

func Test_Engine_ReturnBook_NoOpenBorrow(t *testing.T) {
	engine := newTestEngine(t, newFakeClock(), []MemberIDString{"M1"})
	addBook(t, engine, "B1", 1)

	_, err := engine.ReturnBook(context.Background(), ReturnCommand{MemberID: "M1", BookID: "B1"})

	assert.ErrorIs(t, err, ErrNoOpenBorrow)
	assert.Equal(t, 1, availableCopies(t, engine, "B1"))
}

func Test_Engine_ReturnBook_FinePinnedToReturnDate(t *testing.T) {
	// arrange
	ctx := context.Background()
	clock := newFakeClock()
	engine := newTestEngine(t, clock, []MemberIDString{"M1"})
	addBook(t, engine, "B1", 1)
	borrow(t, engine, "M1", "B1")

	// act
	clock.Advance((14 + 5) * day)
	result, err := engine.ReturnBook(ctx, ReturnCommand{MemberID: "M1", BookID: "B1"})
	require.NoError(t, err)
	clock.Advance(30 * day)
	total, err := engine.TotalFines(ctx, "M1")
	require.NoError(t, err)

	// assert
	assert.True(t, decimal.RequireFromString("2.50").Equal(result.Fine), "got %s", result.Fine)
	assert.True(t, result.Fine.Equal(total))
	assert.True(t, result.Fine.Equal(FineFor(result.Loan, result.Loan.ReturnedAt, standardPolicy())))
	assert.Nil(t, result.Candidate)
}

func Test_Engine_Renew_ExtendsDueDate(t *testing.T) {
	// arrange
	ctx := context.Background()
	clock := newFakeClock()
	engine := newTestEngine(t, clock, []MemberIDString{"M1"})
	addBook(t, engine, "B1", 1)
	entry := borrow(t, engine, "M1", "B1")

	// act
	clock.Advance(10 * day)
	renewed, err := engine.Renew(ctx, RenewCommand{MemberID: "M1", BookID: "B1", ExtraDays: 7})
	require.NoError(t, err)
	clock.Advance(20 * day)
	overdueRenewal, err := engine.Renew(ctx, RenewCommand{MemberID: "M1", BookID: "B1"})
	require.NoError(t, err)

	// assert
	assert.Equal(t, entry.DueDate.AddDate(0, 0, 7), renewed.DueDate)
	assert.Equal(t, 1, renewed.Renewals)
	assert.Equal(t, clock.Now().AddDate(0, 0, 14), overdueRenewal.DueDate, "an overdue loan is renewed from now")
	assert.Equal(t, 0, availableCopies(t, engine, "B1"))
}

func Test_Engine_Renew_WhileOverdueKeepsAccruedFine(t *testing.T) {
	// arrange
	ctx := context.Background()
	clock := newFakeClock()
	engine := newTestEngine(t, clock, []MemberIDString{"M1"})
	addBook(t, engine, "B1", 1)
	entry := borrow(t, engine, "M1", "B1")
	clock.Advance(20 * day)
	renewedAt := clock.Now()

	before, err := engine.TotalFines(ctx, "M1")
	require.NoError(t, err)

	// act
	renewed, err := engine.Renew(ctx, RenewCommand{MemberID: "M1", BookID: "B1"})
	require.NoError(t, err)

	// assert
	after, err := engine.TotalFines(ctx, "M1")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("3").Equal(before), "got %s", before)
	assert.True(t, before.Equal(after), "got %s after the renewal", after)

	fines, err := engine.FinesDue(ctx, "M1")
	require.NoError(t, err)
	require.Len(t, fines, 1)
	assert.True(t, before.Equal(fines[0].Amount))

	assert.Equal(t, entry.DueDate, renewed.DueDateAt(renewedAt.Add(-time.Second)))
	assert.Equal(t, renewedAt.AddDate(0, 0, 14), renewed.DueDateAt(renewedAt))
	assert.True(t, decimal.RequireFromString("1").Equal(FineFor(renewed, entry.DueDate.AddDate(0, 0, 2), standardPolicy())),
		"a fine as of a date before the renewal does not change")

	clock.Advance(16 * day)
	result, err := engine.ReturnBook(ctx, ReturnCommand{MemberID: "M1", BookID: "B1"})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("4").Equal(result.Fine), "6 days before and 2 days after the renewal, got %s", result.Fine)
}

func Test_Engine_Renew_BlockedByWaitingMember(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, newFakeClock(), []MemberIDString{"M1", "M2"})
	addBook(t, engine, "B1", 1)
	borrow(t, engine, "M1", "B1")
	_, err := engine.Reserve(ctx, ReserveCommand{MemberID: "M2", BookID: "B1"})
	require.NoError(t, err)

	_, err = engine.Renew(ctx, RenewCommand{MemberID: "M1", BookID: "B1"})

	assert.ErrorIs(t, err, ErrReservationPending)
}

func Test_Engine_Renew_AllowedByRenewalPolicy(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, newFakeClock(), []MemberIDString{"M1", "M2"}, WithRenewalPolicy(AllowWhenReserved))
	addBook(t, engine, "B1", 1)
	borrow(t, engine, "M1", "B1")
	_, err := engine.Reserve(ctx, ReserveCommand{MemberID: "M2", BookID: "B1"})
	require.NoError(t, err)

	_, err = engine.Renew(ctx, RenewCommand{MemberID: "M1", BookID: "B1"})

	assert.NoError(t, err)
	assert.Len(t, engine.reservations.ActiveFor("B1", testStart), 1)
}

func Test_Engine_Renew_NoOpenBorrow(t *testing.T) {
	engine := newTestEngine(t, newFakeClock(), []MemberIDString{"M1"})
	addBook(t, engine, "B1", 1)

	_, err := engine.Renew(context.Background(), RenewCommand{MemberID: "M1", BookID: "B1"})

	assert.ErrorIs(t, err, ErrNoOpenBorrow)
}

func Test_Engine_Reserve_Preconditions(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, newFakeClock(), []MemberIDString{"M1", "M2"})
	addBook(t, engine, "B1", 1)

	_, err := engine.Reserve(ctx, ReserveCommand{MemberID: "M2", BookID: "B1"})
	assert.ErrorIs(t, err, ErrStockAvailable)

	borrow(t, engine, "M1", "B1")

	_, err = engine.Reserve(ctx, ReserveCommand{MemberID: "M2", BookID: "B1"})
	require.NoError(t, err)

	_, err = engine.Reserve(ctx, ReserveCommand{MemberID: "M2", BookID: "B1"})
	assert.ErrorIs(t, err, ErrAlreadyReserved)

	_, err = engine.Reserve(ctx, ReserveCommand{MemberID: "M1", BookID: "B1"})
	assert.ErrorIs(t, err, ErrAlreadyBorrowed, "the holder of the only copy can not queue for it")
	assert.Len(t, engine.reservations.ActiveFor("B1", testStart), 1)

	_, err = engine.ChangeMemberStatus(ctx, "M2", MemberExpired)
	require.NoError(t, err)
	_, err = engine.Reserve(ctx, ReserveCommand{MemberID: "M2", BookID: "B1"})
	assert.ErrorIs(t, err, ErrMemberIneligible)
}

func Test_Engine_CancelReservation(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, newFakeClock(), []MemberIDString{"M1", "M2"})
	addBook(t, engine, "B1", 1)
	borrow(t, engine, "M1", "B1")
	reservation, err := engine.Reserve(ctx, ReserveCommand{MemberID: "M2", BookID: "B1"})
	require.NoError(t, err)

	cancelled, err := engine.CancelReservation(ctx, reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, ReservationCancelled, cancelled.Status)

	_, err = engine.CancelReservation(ctx, reservation.ID)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)

	_, err = engine.CancelReservation(ctx, "unknown")
	assert.ErrorIs(t, err, ErrReservationNotFound)

	_, err = engine.Renew(ctx, RenewCommand{MemberID: "M1", BookID: "B1"})
	assert.NoError(t, err, "a cancelled reservation no longer blocks renewals")
}

func Test_Engine_ExpireReservations(t *testing.T) {
	// arrange
	ctx := context.Background()
	clock := newFakeClock()
	engine := newTestEngine(t, clock, []MemberIDString{"M1", "M2", "M3"})
	addBook(t, engine, "B1", 1)
	addBook(t, engine, "B2", 1)
	borrow(t, engine, "M1", "B1")
	borrow(t, engine, "M1", "B2")
	_, err := engine.Reserve(ctx, ReserveCommand{MemberID: "M2", BookID: "B1", TTL: time.Hour})
	require.NoError(t, err)
	_, err = engine.Reserve(ctx, ReserveCommand{MemberID: "M3", BookID: "B2", TTL: time.Hour})
	require.NoError(t, err)
	_, err = engine.Reserve(ctx, ReserveCommand{MemberID: "M3", BookID: "B1"})
	require.NoError(t, err)

	// act
	clock.Advance(time.Hour)
	expired, err := engine.ExpireReservations(ctx)
	require.NoError(t, err)

	// assert
	assert.Equal(t, 2, expired)
	assert.Len(t, engine.reservations.ActiveFor("B1", clock.Now()), 1)
	assert.Empty(t, engine.reservations.ActiveFor("B2", clock.Now()))

	again, err := engine.ExpireReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again)
}

func Test_Engine_RunExpirySweeper_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := newFakeClock()
	engine := newTestEngine(t, clock, []MemberIDString{"M1", "M2"})
	addBook(t, engine, "B1", 1)
	borrow(t, engine, "M1", "B1")
	_, err := engine.Reserve(ctx, ReserveCommand{MemberID: "M2", BookID: "B1", TTL: time.Hour})
	require.NoError(t, err)
	clock.Advance(time.Hour)

	done := make(chan error, 1)
	go func() { done <- engine.RunExpirySweeper(ctx, 5*time.Millisecond) }()

	assert.Eventually(t, func() bool {
		return engine.Reservations("B1")[0].Status == ReservationExpired
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func Test_Engine_StoreFailure_LeavesStateUnchanged(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := newSwitchableStore()
	engine := newTestEngine(t, newFakeClock(), []MemberIDString{"M1", "M2"}, WithStore(store))
	addBook(t, engine, "B1", 1)
	borrow(t, engine, "M1", "B1")
	reservation, err := engine.Reserve(ctx, ReserveCommand{MemberID: "M2", BookID: "B1"})
	require.NoError(t, err)
	entriesBefore := engine.EntriesForBook("B1", DateRange{})

	store.failWith(errors.Join(ErrCommitFailed, errStoreDown))

	// act
	_, returnErr := engine.ReturnBook(ctx, ReturnCommand{MemberID: "M1", BookID: "B1"})
	_, cancelErr := engine.CancelReservation(ctx, reservation.ID)
	_, addErr := engine.AddCopies(ctx, "B1", 2)

	// assert
	assert.ErrorIs(t, returnErr, ErrCommitFailed)
	assert.ErrorIs(t, cancelErr, errStoreDown)
	assert.ErrorIs(t, addErr, ErrCommitFailed)

	book, err := engine.Book("B1")
	require.NoError(t, err)
	assert.Equal(t, 1, book.TotalCopies)
	assert.Equal(t, 0, book.AvailableCopies)
	assert.Equal(t, entriesBefore, engine.EntriesForBook("B1", DateRange{}))
	_, open := engine.ledger.OpenBorrow("M1", "B1")
	assert.True(t, open)
	assert.Equal(t, ReservationActive, engine.Reservations("B1")[0].Status)

	store.failWith(nil)
	_, err = engine.ReturnBook(ctx, ReturnCommand{MemberID: "M1", BookID: "B1"})
	assert.NoError(t, err)
}

func Test_Engine_StoreContention_IsRetried(t *testing.T) {
	ctx := context.Background()
	store := newSwitchableStore()
	engine := newTestEngine(t, newFakeClock(), []MemberIDString{"M1"},
		WithStore(store),
		WithRetryOptions(WithMaxAttempts(3), WithBaseDelay(time.Millisecond)),
	)
	addBook(t, engine, "B1", 1)
	callsBefore := store.commitCalls()

	store.failWith(ErrContention)
	_, err := engine.Borrow(ctx, BorrowCommand{MemberID: "M1", BookID: "B1"})

	assert.ErrorIs(t, err, ErrContention)
	assert.Equal(t, 3, store.commitCalls()-callsBefore)
	assert.Equal(t, 1, availableCopies(t, engine, "B1"))
}

func Test_Engine_LockContention_SurfacesRetryableError(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, newFakeClock(), []MemberIDString{"M1"},
		WithLockTimeout(time.Millisecond),
		WithRetryOptions(WithMaxAttempts(2), WithBaseDelay(time.Millisecond)),
	)
	addBook(t, engine, "B1", 1)

	release, err := engine.bookLocks.acquire(ctx, "B1", time.Second)
	require.NoError(t, err)
	defer release()

	_, err = engine.Borrow(ctx, BorrowCommand{MemberID: "M1", BookID: "B1"})

	assert.ErrorIs(t, err, ErrContention)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 1, availableCopies(t, engine, "B1"))
}

func Test_Engine_Restore_RebuildsStateFromStore(t *testing.T) {
	// arrange
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore()
	engine := newTestEngine(t, clock, []MemberIDString{"M1", "M2", "M3"}, WithStore(store))
	addBook(t, engine, "B1", 2)
	addBook(t, engine, "B2", 1)
	borrow(t, engine, "M1", "B1")
	borrow(t, engine, "M2", "B1")
	borrow(t, engine, "M1", "B2")
	_, err := engine.ReturnBook(ctx, ReturnCommand{MemberID: "M1", BookID: "B2"})
	require.NoError(t, err)
	_, err = engine.Renew(ctx, RenewCommand{MemberID: "M2", BookID: "B1", ExtraDays: 3})
	require.NoError(t, err)
	_, err = engine.Reserve(ctx, ReserveCommand{MemberID: "M3", BookID: "B1"})
	require.NoError(t, err)

	// act
	restarted, err := NewEngine(WithStore(store), WithClock(clock.Now))
	require.NoError(t, err)
	require.NoError(t, restarted.Restore(ctx))

	// assert
	assert.Equal(t, engine.Books(), restarted.Books())
	assert.Equal(t, engine.Members(), restarted.Members())
	assert.Equal(t, engine.Reservations("B1"), restarted.Reservations("B1"))
	assert.Equal(t, engine.EntriesForMember("M1", DateRange{}), restarted.EntriesForMember("M1", DateRange{}))
	assert.Equal(t, engine.LoansForMember("M2"), restarted.LoansForMember("M2"))

	_, err = restarted.Borrow(ctx, BorrowCommand{MemberID: "M1", BookID: "B1"})
	assert.ErrorIs(t, err, ErrConstraintViolation, "open borrows survive the restart")

	_, err = restarted.ReturnBook(ctx, ReturnCommand{MemberID: "M1", BookID: "B1"})
	require.NoError(t, err)
	assert.Equal(t, 1, availableCopies(t, restarted, "B1"))
}

func Test_Engine_Restore_RejectsCountsNotBackedByLedger(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Commit(ctx, Commit{
		Books: []Book{{ID: "B1", TotalCopies: 2, AvailableCopies: 1, Version: 1}},
	}))

	engine, err := NewEngine(WithStore(store))
	require.NoError(t, err)

	err = engine.Restore(ctx)

	assert.ErrorIs(t, err, ErrConstraintViolation)
}

func Test_Engine_DefinePolicy_ImmutableOnceReferenced(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, newFakeClock(), []MemberIDString{"M1"})

	changed := standardPolicy()
	changed.FinePerDay = decimal.RequireFromString("1.00")

	assert.ErrorIs(t, engine.DefinePolicy(ctx, changed), ErrPolicyInUse)
	assert.NoError(t, engine.DefinePolicy(ctx, standardPolicy()), "identical redefinition is a no-op")
	assert.ErrorIs(t, engine.DefinePolicy(ctx, MemberTypePolicy{ID: "broken"}), ErrInvalidPolicy)

	unused := MemberTypePolicy{ID: "student", MaxBooksAllowed: 2, LoanPeriodDays: 7, FinePerDay: decimal.Zero}
	require.NoError(t, engine.DefinePolicy(ctx, unused))
	unused.MaxBooksAllowed = 5
	assert.NoError(t, engine.DefinePolicy(ctx, unused))

	policy, err := engine.Policy("student")
	require.NoError(t, err)
	assert.Equal(t, 5, policy.MaxBooksAllowed)
}

func Test_Engine_RegisterMember_Validation(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, newFakeClock(), []MemberIDString{"M1"})

	_, err := engine.RegisterMember(ctx, Member{ID: "M1", PolicyID: "standard"})
	assert.ErrorIs(t, err, ErrMemberAlreadyExists)

	_, err = engine.RegisterMember(ctx, Member{ID: "M2", PolicyID: "unknown"})
	assert.ErrorIs(t, err, ErrPolicyNotFound)

	_, err = engine.RegisterMember(ctx, Member{ID: "M3", PolicyID: "standard", Status: "Retired"})
	assert.ErrorIs(t, err, ErrInvalidStatus)

	member, err := engine.RegisterMember(ctx, Member{ID: "M4", PolicyID: "standard"})
	require.NoError(t, err)
	assert.Equal(t, MemberActive, member.Status)
}

func Test_Engine_Options_Validation(t *testing.T) {
	_, err := NewEngine(WithStore(nil))
	assert.ErrorIs(t, err, ErrNilStore)

	_, err = NewEngine(WithLockTimeout(0))
	assert.ErrorIs(t, err, ErrNonPositiveLockTimeout)

	_, err = NewEngine(WithReservationTTL(-time.Hour))
	assert.ErrorIs(t, err, ErrNonPositiveReservationTTL)

	_, err = NewEngine(WithRenewalPolicy("sometimes"))
	assert.ErrorIs(t, err, ErrUnknownRenewalPolicy)

	_, err = NewEngine(WithClock(nil))
	assert.ErrorIs(t, err, ErrNilClock)

	_, err = NewEngine(WithRetryOptions(WithMaxAttempts(0)))
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
}

type recordingNotifier struct {
	mu      sync.Mutex
	offered []Reservation
	err     error
}

func (n *recordingNotifier) CopyAvailable(_ context.Context, reservation Reservation) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.offered = append(n.offered, reservation)

	return n.err
}

func Test_Engine_ReturnBook_NotifierErrorDoesNotFailReturn(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{err: errors.New("mail server down")}
	engine := newTestEngine(t, newFakeClock(), []MemberIDString{"M1", "M2"}, WithNotifier(notifier))
	addBook(t, engine, "B1", 1)
	borrow(t, engine, "M1", "B1")
	_, err := engine.Reserve(ctx, ReserveCommand{MemberID: "M2", BookID: "B1"})
	require.NoError(t, err)

	result, err := engine.ReturnBook(ctx, ReturnCommand{MemberID: "M1", BookID: "B1"})

	require.NoError(t, err)
	require.NotNil(t, result.Candidate)
	assert.Len(t, notifier.offered, 1)
}
