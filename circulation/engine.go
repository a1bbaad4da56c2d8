package circulation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const registryLockKey = "registry"

// Engine sequences Ledger, Inventory and ReservationQueue into atomic circulation operations.
//
// Every operation validates all preconditions inside the critical sections of the affected
// book and member, persists the resulting Commit through the Store and only then applies it
// to the in-memory state. A failure at any step leaves the state exactly as it was.
//
// When the Store reports ErrContention another writer changed the persisted state, so the
// engine reloads it from the Store before the operation is retried.
type Engine struct {
	stateMu sync.RWMutex // exclusive only while the state is reloaded
	stale   atomic.Bool

	ledger       *Ledger
	inventory    *Inventory
	reservations *ReservationQueue
	registry     *registry
	store        Store

	bookLocks     *keyedLocks
	memberLocks   *keyedLocks
	registryLocks *keyedLocks
	lockTimeout   time.Duration
	retry         retryConfig

	now                 func() time.Time
	reservationTTL      time.Duration
	renewalPolicy       RenewalPolicy
	holdForReservations bool
	notifier            Notifier
	metadata            MetadataProvider

	logger           Logger
	metricsCollector MetricsCollector
	tracingCollector TracingCollector
}

// NewEngine creates an Engine with empty state. Call Restore to load the state of a durable Store.
func NewEngine(options ...Option) (*Engine, error) {
	e := &Engine{
		ledger:        NewLedger(),
		inventory:     NewInventory(),
		reservations:  NewReservationQueue(),
		registry:      newRegistry(),
		store:         NewMemoryStore(),
		bookLocks:     newKeyedLocks(),
		memberLocks:   newKeyedLocks(),
		registryLocks: newKeyedLocks(),
		lockTimeout:   defaultLockTimeout,
		retry: retryConfig{
			maxAttempts:  defaultMaxAttempts,
			baseDelay:    defaultBaseDelay,
			jitterFactor: defaultJitterFactor,
		},
		now:                 time.Now,
		reservationTTL:      defaultReservationTTL,
		renewalPolicy:       BlockWhenReserved,
		holdForReservations: true,
	}

	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

func (e *Engine) currentTime() time.Time {
	return ToEventTime(e.now())
}

// run executes fn with observability and retries on ErrContention.
func (e *Engine) run(ctx context.Context, operation string, fn RetryableFunc, logArgs ...any) error {
	observer, ctx := e.observe(ctx, operation, logArgs...)

	config := e.retry
	config.metricsCollector = e.metricsCollector
	config.operation = operation

	err := retry(ctx, &config, func(ctx context.Context) error {
		if err := e.reloadIfStale(ctx); err != nil {
			return err
		}

		e.stateMu.RLock()
		defer e.stateMu.RUnlock()

		return fn(ctx)
	})
	observer.finish(err)

	return err
}

// reloadIfStale replaces the in-memory state with the persisted one after the Store
// reported a concurrent writer.
func (e *Engine) reloadIfStale(ctx context.Context) error {
	if !e.stale.Load() {
		return nil
	}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if !e.stale.Load() {
		return nil
	}

	if err := e.restoreLocked(ctx); err != nil {
		return err
	}

	e.stale.Store(false)

	if e.logger != nil {
		e.logger.Info(logMsgReloaded)
	}

	return nil
}

// commit persists the commit and applies it to the in-memory state.
func (e *Engine) commit(ctx context.Context, commit Commit) error {
	if commit.IsEmpty() {
		return nil
	}

	if commit.Entry != nil {
		commit.MemberHead = e.ledger.lastSequenceOf(commit.Entry.MemberID)
	}

	if err := e.store.Commit(ctx, commit); err != nil {
		if errors.Is(err, ErrContention) {
			e.stale.Store(true)
		}

		e.recordStoreError(ctx, commit.Operation, err)

		return err
	}

	return e.apply(commit)
}

func (e *Engine) apply(commit Commit) error {
	for _, policy := range commit.Policies {
		e.registry.putPolicy(policy)
	}

	for _, member := range commit.Members {
		e.registry.putMember(member)
	}

	var err error

	for _, book := range commit.Books {
		err = errors.Join(err, e.inventory.put(book))
	}

	for _, reservation := range commit.Reservations {
		err = errors.Join(err, e.reservations.put(reservation))
	}

	if commit.Entry != nil {
		err = errors.Join(err, e.ledger.insert(*commit.Entry))
	}

	return err
}

/***** Borrow *****/

// BorrowCommand asks to lend one copy of a book to a member.
// LoanPeriodDays of zero means the loan period of the member's policy.
type BorrowCommand struct {
	MemberID       MemberIDString
	BookID         BookIDString
	StaffID        StaffIDString
	LoanPeriodDays int
}

// Borrow lends a copy of the book to the member.
// It appends the Borrow entry and takes the copy out of the inventory as one unit and,
// if the member was waiting for the book, fulfills the member's reservation.
//
// Errors: ErrMemberIneligible, ErrBorrowLimitReached, ErrNoCopiesAvailable,
// ErrReservationPending, ErrConstraintViolation (the member already has the book).
func (e *Engine) Borrow(ctx context.Context, command BorrowCommand) (LedgerEntry, error) {
	var borrowed LedgerEntry

	err := e.run(ctx, operationBorrow, func(ctx context.Context) error {
		locks, err := e.lock(ctx, command.BookID, command.MemberID)
		if err != nil {
			return err
		}
		defer locks.unlock()

		borrowed, err = e.borrowLocked(ctx, command)

		return err
	}, logAttrMemberID, command.MemberID, logAttrBookID, command.BookID)

	if err != nil {
		return LedgerEntry{}, err
	}

	return borrowed, nil
}

func (e *Engine) borrowLocked(ctx context.Context, command BorrowCommand) (LedgerEntry, error) {
	if command.LoanPeriodDays < 0 {
		return LedgerEntry{}, ErrInvalidArgument
	}

	member, policy, err := e.registry.memberWithPolicy(command.MemberID)
	if err != nil {
		return LedgerEntry{}, err
	}

	if member.Status != MemberActive {
		return LedgerEntry{}, ErrMemberIneligible
	}

	book, err := e.inventory.Book(command.BookID)
	if err != nil {
		return LedgerEntry{}, err
	}

	if e.ledger.OpenBorrowCount(member.ID) >= policy.MaxBooksAllowed {
		return LedgerEntry{}, ErrBorrowLimitReached
	}

	if _, open := e.ledger.OpenBorrow(member.ID, book.ID); open {
		return LedgerEntry{}, constraintViolation("member already has an open borrow for this book")
	}

	changed, err := book.afterBorrow()
	if err != nil {
		return LedgerEntry{}, err
	}

	now := e.currentTime()
	active := e.reservations.ActiveFor(book.ID, now)
	own, ahead := positionInQueue(active, member.ID)

	if e.holdForReservations && ahead >= book.AvailableCopies {
		return LedgerEntry{}, ErrReservationPending
	}

	loanPeriodDays := command.LoanPeriodDays
	if loanPeriodDays == 0 {
		loanPeriodDays = policy.LoanPeriodDays
	}

	entry, err := e.ledger.Prepare(LedgerEntry{
		MemberID:  member.ID,
		BookID:    book.ID,
		StaffID:   command.StaffID,
		Kind:      EntryBorrow,
		EventDate: now,
		DueDate:   now.AddDate(0, 0, loanPeriodDays),
	})
	if err != nil {
		return LedgerEntry{}, err
	}

	commit := Commit{
		Operation:    operationBorrow,
		Entry:        &entry,
		Books:        []Book{changed},
		Reservations: e.reservations.overdue(book.ID, now),
	}

	if own != nil {
		fulfilled, err := own.transitionTo(ReservationFulfilled)
		if err != nil {
			return LedgerEntry{}, err
		}

		commit.Reservations = append(commit.Reservations, fulfilled)
	}

	if err = e.commit(ctx, commit); err != nil {
		return LedgerEntry{}, err
	}

	e.recordValue(ctx, metricAvailableCopies, float64(changed.AvailableCopies), map[string]string{labelBookID: book.ID})

	return entry, nil
}

// positionInQueue returns the member's own eligible reservation, if any, and how many
// eligible reservations are ranked ahead of the member. Without an own reservation all
// of them are ahead.
func positionInQueue(active []Reservation, memberID MemberIDString) (*Reservation, int) {
	for i := range active {
		if active[i].MemberID == memberID {
			return &active[i], i
		}
	}

	return nil, len(active)
}

/***** Return *****/

// ReturnCommand asks to take back the copy a member borrowed.
type ReturnCommand struct {
	MemberID MemberIDString
	BookID   BookIDString
	StaffID  StaffIDString
}

// ReturnResult describes a completed return.
type ReturnResult struct {
	Entry LedgerEntry
	Loan  Loan
	// Fine is the final fine of the loan, pinned to the return date.
	Fine Money
	// Candidate is the member who is offered the returned copy, if anyone is waiting.
	Candidate *Reservation
}

// ReturnBook closes the member's open Borrow of the book and puts the copy back.
// The next eligible reservation, if any, is reported as Candidate and handed to the Notifier.
//
// Errors: ErrNoOpenBorrow, ErrOverReturn.
func (e *Engine) ReturnBook(ctx context.Context, command ReturnCommand) (ReturnResult, error) {
	var result ReturnResult

	err := e.run(ctx, operationReturn, func(ctx context.Context) error {
		locks, err := e.lock(ctx, command.BookID, command.MemberID)
		if err != nil {
			return err
		}
		defer locks.unlock()

		result, err = e.returnLocked(ctx, command)

		return err
	}, logAttrMemberID, command.MemberID, logAttrBookID, command.BookID)

	if err != nil {
		return ReturnResult{}, err
	}

	if result.Candidate != nil && e.notifier != nil {
		if notifyErr := e.notifier.CopyAvailable(ctx, *result.Candidate); notifyErr != nil && e.logger != nil {
			e.logger.Warn(logMsgNotifyFailed,
				logAttrBookID, command.BookID,
				logAttrMemberID, result.Candidate.MemberID,
				logAttrError, notifyErr.Error())
		}
	}

	return result, nil
}

func (e *Engine) returnLocked(ctx context.Context, command ReturnCommand) (ReturnResult, error) {
	borrow, open := e.ledger.OpenBorrow(command.MemberID, command.BookID)
	if !open {
		return ReturnResult{}, ErrNoOpenBorrow
	}

	_, policy, err := e.registry.memberWithPolicy(command.MemberID)
	if err != nil {
		return ReturnResult{}, err
	}

	book, err := e.inventory.Book(command.BookID)
	if err != nil {
		return ReturnResult{}, err
	}

	changed, err := book.afterReturn()
	if err != nil {
		return ReturnResult{}, err
	}

	now := e.currentTime()

	entry, err := e.ledger.Prepare(LedgerEntry{
		MemberID:   command.MemberID,
		BookID:     command.BookID,
		StaffID:    command.StaffID,
		Kind:       EntryReturn,
		EventDate:  now,
		ReturnDate: now,
		BorrowID:   borrow.ID,
	})
	if err != nil {
		return ReturnResult{}, err
	}

	err = e.commit(ctx, Commit{
		Operation:    operationReturn,
		Entry:        &entry,
		Books:        []Book{changed},
		Reservations: e.reservations.overdue(book.ID, now),
	})
	if err != nil {
		return ReturnResult{}, err
	}

	e.recordValue(ctx, metricAvailableCopies, float64(changed.AvailableCopies), map[string]string{labelBookID: book.ID})

	loan, _ := e.ledger.Loan(borrow.ID)
	result := ReturnResult{
		Entry: entry,
		Loan:  loan,
		Fine:  FineFor(loan, now, policy),
	}

	if candidate, ok := e.reservations.NextEligible(book.ID, now); ok {
		result.Candidate = &candidate
	}

	return result, nil
}

/***** Renew *****/

// RenewCommand asks to extend the due date of an open loan.
// ExtraDays of zero means the loan period of the member's policy.
type RenewCommand struct {
	MemberID  MemberIDString
	BookID    BookIDString
	StaffID   StaffIDString
	ExtraDays int
}

// Renew extends the due date of the member's open loan of the book by the extra days,
// counted from the current due date or from now if the loan is already overdue.
// Days accrued while overdue stay fined, see FineFor.
//
// Errors: ErrNoOpenBorrow, ErrReservationPending (with BlockWhenReserved and another member waiting).
func (e *Engine) Renew(ctx context.Context, command RenewCommand) (Loan, error) {
	var renewed Loan

	err := e.run(ctx, operationRenew, func(ctx context.Context) error {
		locks, err := e.lock(ctx, command.BookID, command.MemberID)
		if err != nil {
			return err
		}
		defer locks.unlock()

		renewed, err = e.renewLocked(ctx, command)

		return err
	}, logAttrMemberID, command.MemberID, logAttrBookID, command.BookID)

	if err != nil {
		return Loan{}, err
	}

	return renewed, nil
}

func (e *Engine) renewLocked(ctx context.Context, command RenewCommand) (Loan, error) {
	if command.ExtraDays < 0 {
		return Loan{}, ErrInvalidArgument
	}

	borrow, open := e.ledger.OpenBorrow(command.MemberID, command.BookID)
	if !open {
		return Loan{}, ErrNoOpenBorrow
	}

	_, policy, err := e.registry.memberWithPolicy(command.MemberID)
	if err != nil {
		return Loan{}, err
	}

	if _, err = e.inventory.OnRenew(command.BookID); err != nil {
		return Loan{}, err
	}

	now := e.currentTime()

	if e.renewalPolicy == BlockWhenReserved {
		for _, reservation := range e.reservations.ActiveFor(command.BookID, now) {
			if reservation.MemberID != command.MemberID {
				return Loan{}, ErrReservationPending
			}
		}
	}

	loan, _ := e.ledger.Loan(borrow.ID)

	extraDays := command.ExtraDays
	if extraDays == 0 {
		extraDays = policy.LoanPeriodDays
	}

	base := loan.DueDate
	if now.After(base) {
		base = now
	}

	entry, err := e.ledger.Prepare(LedgerEntry{
		MemberID:  command.MemberID,
		BookID:    command.BookID,
		StaffID:   command.StaffID,
		Kind:      EntryRenew,
		EventDate: now,
		DueDate:   base.AddDate(0, 0, extraDays),
		BorrowID:  borrow.ID,
	})
	if err != nil {
		return Loan{}, err
	}

	if err = e.commit(ctx, Commit{Operation: operationRenew, Entry: &entry}); err != nil {
		return Loan{}, err
	}

	renewed, _ := e.ledger.Loan(borrow.ID)

	return renewed, nil
}

/***** Reserve *****/

// ReserveCommand asks to queue a member for a book. A TTL of zero means the configured default.
type ReserveCommand struct {
	MemberID MemberIDString
	BookID   BookIDString
	TTL      time.Duration
}

// Reserve puts the member at the end of the book's waitlist.
//
// Errors: ErrMemberIneligible, ErrAlreadyBorrowed, ErrStockAvailable (borrow instead), ErrAlreadyReserved.
func (e *Engine) Reserve(ctx context.Context, command ReserveCommand) (Reservation, error) {
	var reserved Reservation

	err := e.run(ctx, operationReserve, func(ctx context.Context) error {
		locks, err := e.lock(ctx, command.BookID, command.MemberID)
		if err != nil {
			return err
		}
		defer locks.unlock()

		reserved, err = e.reserveLocked(ctx, command)

		return err
	}, logAttrMemberID, command.MemberID, logAttrBookID, command.BookID)

	if err != nil {
		return Reservation{}, err
	}

	return reserved, nil
}

func (e *Engine) reserveLocked(ctx context.Context, command ReserveCommand) (Reservation, error) {
	if command.TTL < 0 {
		return Reservation{}, ErrInvalidArgument
	}

	member, err := e.registry.member(command.MemberID)
	if err != nil {
		return Reservation{}, err
	}

	if member.Status != MemberActive {
		return Reservation{}, ErrMemberIneligible
	}

	book, err := e.inventory.Book(command.BookID)
	if err != nil {
		return Reservation{}, err
	}

	if _, open := e.ledger.OpenBorrow(member.ID, book.ID); open {
		return Reservation{}, ErrAlreadyBorrowed
	}

	now := e.currentTime()

	freeCopies := book.AvailableCopies
	if e.holdForReservations {
		freeCopies -= len(e.reservations.ActiveFor(book.ID, now))
	}

	if freeCopies > 0 {
		return Reservation{}, ErrStockAvailable
	}

	ttl := command.TTL
	if ttl == 0 {
		ttl = e.reservationTTL
	}

	reservation, err := e.reservations.prepare(member.ID, book.ID, now, ttl)
	if err != nil {
		return Reservation{}, err
	}

	err = e.commit(ctx, Commit{
		Operation:    operationReserve,
		Reservations: append(e.reservations.overdue(book.ID, now), reservation),
	})
	if err != nil {
		return Reservation{}, err
	}

	return reservation, nil
}

/***** CancelReservation *****/

// CancelReservation transitions an Active reservation to Cancelled.
//
// Errors: ErrReservationNotFound, ErrAlreadyTerminal.
func (e *Engine) CancelReservation(ctx context.Context, reservationID ReservationIDString) (Reservation, error) {
	var cancelled Reservation

	err := e.run(ctx, operationCancelReservation, func(ctx context.Context) error {
		reservation, err := e.reservations.Reservation(reservationID)
		if err != nil {
			return err
		}

		locks, err := e.lock(ctx, reservation.BookID, reservation.MemberID)
		if err != nil {
			return err
		}
		defer locks.unlock()

		if reservation, err = e.reservations.Reservation(reservationID); err != nil {
			return err
		}

		if cancelled, err = reservation.transitionTo(ReservationCancelled); err != nil {
			return err
		}

		return e.commit(ctx, Commit{Operation: operationCancelReservation, Reservations: []Reservation{cancelled}})
	}, logAttrReservationID, reservationID)

	if err != nil {
		return Reservation{}, err
	}

	return cancelled, nil
}

/***** Expiry *****/

// ExpireReservations transitions all overdue Active reservations to Expired, one book at a time,
// and returns the number of expired reservations.
func (e *Engine) ExpireReservations(ctx context.Context) (int, error) {
	expiredCount := 0

	err := e.run(ctx, operationExpireReservations, func(ctx context.Context) error {
		books := make(map[BookIDString]struct{})
		for _, reservation := range e.reservations.overdue("", e.currentTime()) {
			books[reservation.BookID] = struct{}{}
		}

		for bookID := range books {
			n, err := e.expireBook(ctx, bookID)
			if err != nil {
				return err
			}

			expiredCount += n
		}

		return nil
	})

	if err != nil {
		return expiredCount, err
	}

	if expiredCount > 0 {
		e.recordValue(ctx, metricExpiredCount, float64(expiredCount), map[string]string{labelOperation: operationExpireReservations})
	}

	return expiredCount, nil
}

func (e *Engine) expireBook(ctx context.Context, bookID BookIDString) (int, error) {
	locks, err := e.lock(ctx, bookID, "")
	if err != nil {
		return 0, err
	}
	defer locks.unlock()

	expired := e.reservations.overdue(bookID, e.currentTime())
	if err = e.commit(ctx, Commit{Operation: operationExpireReservations, Reservations: expired}); err != nil {
		return 0, err
	}

	return len(expired), nil
}

// RunExpirySweeper calls ExpireReservations every interval until ctx is done.
// Failed sweeps are logged and retried on the next tick.
func (e *Engine) RunExpirySweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidArgument
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if e.logger != nil {
				e.logger.Info(logMsgSweeperStopped)
			}

			return ctx.Err()

		case <-ticker.C:
			if _, err := e.ExpireReservations(ctx); err != nil && ctx.Err() == nil && e.logger != nil {
				e.logger.Warn(logMsgSweepFailed, logAttrError, err.Error())
			}
		}
	}
}

/***** Onboarding *****/

// DefinePolicy creates a member type policy or redefines one that no member references yet.
// Redefining with identical values is a no-op.
//
// Errors: ErrInvalidPolicy, ErrPolicyInUse.
func (e *Engine) DefinePolicy(ctx context.Context, policy MemberTypePolicy) error {
	return e.run(ctx, operationDefinePolicy, func(ctx context.Context) error {
		release, err := e.registryLocks.acquire(ctx, registryLockKey, e.lockTimeout)
		if err != nil {
			return err
		}
		defer release()

		changed, err := e.registry.checkPolicy(policy)
		if err != nil || !changed {
			return err
		}

		return e.commit(ctx, Commit{Operation: operationDefinePolicy, Policies: []MemberTypePolicy{policy}})
	}, logAttrPolicyID, policy.ID)
}

// RegisterMember registers a new member under an existing policy. An empty status means Active.
//
// Errors: ErrMemberAlreadyExists, ErrPolicyNotFound, ErrInvalidStatus.
func (e *Engine) RegisterMember(ctx context.Context, member Member) (Member, error) {
	if member.Status == "" {
		member.Status = MemberActive
	}

	err := e.run(ctx, operationRegisterMember, func(ctx context.Context) error {
		release, err := e.registryLocks.acquire(ctx, registryLockKey, e.lockTimeout)
		if err != nil {
			return err
		}
		defer release()

		if err = e.registry.checkNewMember(member); err != nil {
			return err
		}

		return e.commit(ctx, Commit{Operation: operationRegisterMember, Members: []Member{member}})
	}, logAttrMemberID, member.ID)

	if err != nil {
		return Member{}, err
	}

	return member, nil
}

// ChangeMemberStatus sets the soft status of a member. Open loans stay untouched.
func (e *Engine) ChangeMemberStatus(ctx context.Context, memberID MemberIDString, status MemberStatus) (Member, error) {
	var changed Member

	err := e.run(ctx, operationChangeMemberStatus, func(ctx context.Context) error {
		if !status.IsValid() {
			return ErrInvalidStatus
		}

		locks, err := e.lock(ctx, "", memberID)
		if err != nil {
			return err
		}
		defer locks.unlock()

		if changed, err = e.registry.member(memberID); err != nil {
			return err
		}

		if changed.Status == status {
			return nil
		}

		changed.Status = status

		return e.commit(ctx, Commit{Operation: operationChangeMemberStatus, Members: []Member{changed}})
	}, logAttrMemberID, memberID, logAttrStatus, string(status))

	if err != nil {
		return Member{}, err
	}

	return changed, nil
}

// AddBook onboards a new book with all copies available.
//
// Errors: ErrBookAlreadyExists, ErrInvalidCopies.
func (e *Engine) AddBook(ctx context.Context, bookID BookIDString, totalCopies int) (Book, error) {
	var added Book

	err := e.run(ctx, operationAddBook, func(ctx context.Context) error {
		locks, err := e.lock(ctx, bookID, "")
		if err != nil {
			return err
		}
		defer locks.unlock()

		if added, err = e.inventory.prepareBook(bookID, totalCopies); err != nil {
			return err
		}

		return e.commit(ctx, Commit{Operation: operationAddBook, Books: []Book{added}})
	}, logAttrBookID, bookID)

	if err != nil {
		return Book{}, err
	}

	return added, nil
}

// AddCopies adds newly acquired copies of a book, they are available immediately.
func (e *Engine) AddCopies(ctx context.Context, bookID BookIDString, copies int) (Book, error) {
	var changed Book

	err := e.run(ctx, operationAddCopies, func(ctx context.Context) error {
		locks, err := e.lock(ctx, bookID, "")
		if err != nil {
			return err
		}
		defer locks.unlock()

		book, err := e.inventory.Book(bookID)
		if err != nil {
			return err
		}

		if changed, err = book.afterAddingCopies(copies); err != nil {
			return err
		}

		return e.commit(ctx, Commit{Operation: operationAddCopies, Books: []Book{changed}})
	}, logAttrBookID, bookID)

	if err != nil {
		return Book{}, err
	}

	return changed, nil
}

/***** Restore *****/

// Restore replaces the in-memory state with the state persisted in the Store.
// It must be called before the engine serves operations.
//
// The ledger is replayed in sequence order, and the copy counts are checked against
// the open borrows it yields. A mismatch fails with ErrConstraintViolation.
func (e *Engine) Restore(ctx context.Context) error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if err := e.restoreLocked(ctx); err != nil {
		return err
	}

	e.stale.Store(false)

	return nil
}

func (e *Engine) restoreLocked(ctx context.Context) error {
	snapshot, err := e.store.Load(ctx)
	if err != nil {
		return err
	}

	ledger := NewLedger()
	inventory := NewInventory()
	reservations := NewReservationQueue()
	reg := newRegistry()

	for _, policy := range snapshot.Policies {
		reg.putPolicy(policy)
	}

	for _, member := range snapshot.Members {
		reg.putMember(member)
	}

	for _, book := range snapshot.Books {
		if err = inventory.put(book); err != nil {
			return err
		}
	}

	for _, reservation := range snapshot.Reservations {
		if err = reservations.put(reservation); err != nil {
			return err
		}
	}

	entries := snapshot.Entries
	sortBySequence(entries)

	for _, entry := range entries {
		if err = ledger.insert(entry); err != nil {
			return err
		}
	}

	lent := make(map[BookIDString]int)
	for _, loan := range ledger.OpenLoans() {
		lent[loan.Borrow.BookID]++
	}

	for _, book := range inventory.Books() {
		if book.LentCopies() != lent[book.ID] {
			return constraintViolation("copy counts of book " + book.ID + " do not match its open borrows")
		}
	}

	e.ledger = ledger
	e.inventory = inventory
	e.reservations = reservations
	e.registry = reg

	if e.logger != nil {
		e.logger.Info(logMsgRestored,
			logAttrEntryCount, len(entries),
			logAttrCount, len(snapshot.Books))
	}

	return nil
}
