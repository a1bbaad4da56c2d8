package circulation

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EntryKind is the kind of circulation event recorded in the ledger.
type EntryKind string

const (
	EntryBorrow EntryKind = "Borrow"
	EntryReturn EntryKind = "Return"
	EntryRenew  EntryKind = "Renew"
)

// IsValid reports whether k is one of the known kinds.
func (k EntryKind) IsValid() bool {
	switch k {
	case EntryBorrow, EntryReturn, EntryRenew:
		return true
	default:
		return false
	}
}

// LedgerEntry is an immutable circulation event.
//
// A zero DueDate or ReturnDate means "not set". Return and Renew entries reference the
// Borrow they act on with BorrowID. A Renew carries the new due date.
// Sequence is assigned by the Ledger and breaks ties between equal EventDates.
type LedgerEntry struct {
	ID         EntryIDString
	Sequence   uint64
	MemberID   MemberIDString
	BookID     BookIDString
	StaffID    StaffIDString
	Kind       EntryKind
	EventDate  time.Time
	DueDate    time.Time
	ReturnDate time.Time
	BorrowID   EntryIDString
}

// DateRange is an inclusive time range, a zero bound is unbounded.
type DateRange struct {
	From  time.Time
	Until time.Time
}

// Contains reports whether t lies inside the range.
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}

	if !r.Until.IsZero() && t.After(r.Until) {
		return false
	}

	return true
}

type memberBookKey struct {
	memberID MemberIDString
	bookID   BookIDString
}

// Ledger is the append-only store of circulation events. Append is the only mutation.
// It is safe for concurrent use.
//
// The Engine calls Prepare to assign an id and sequence, persists the entry and then
// applies it. Append does both steps at once for callers without a Store.
type Ledger struct {
	mu       sync.RWMutex
	entries  []LedgerEntry
	byID     map[EntryIDString]int
	byMember map[MemberIDString][]int
	byBook   map[BookIDString][]int
	open     map[memberBookKey]int
	renewals map[EntryIDString][]int
	closedBy map[EntryIDString]int
	lastSeq  uint64
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		byID:     make(map[EntryIDString]int),
		byMember: make(map[MemberIDString][]int),
		byBook:   make(map[BookIDString][]int),
		open:     make(map[memberBookKey]int),
		renewals: make(map[EntryIDString][]int),
		closedBy: make(map[EntryIDString]int),
	}
}

// Append validates and stores the entry and returns its ID.
// An empty ID is replaced by a new UUIDv7, the sequence number is always assigned by the ledger.
//
// It fails with ErrConstraintViolation when the entry would open a second Borrow for the
// same member and book, when DueDate or ReturnDate precede EventDate, or when a Return or
// Renew does not act on the currently open Borrow of its pair.
func (l *Ledger) Append(entry LedgerEntry) (EntryIDString, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prepared, err := l.prepareLocked(entry)
	if err != nil {
		return "", err
	}

	l.insertLocked(prepared)

	return prepared.ID, nil
}

// Prepare validates the entry against the current ledger state and returns it with ID and
// sequence number assigned, without storing it. Used by the engine to persist an entry
// before it becomes visible.
func (l *Ledger) Prepare(entry LedgerEntry) (LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.prepareLocked(entry)
}

// insert stores an entry which was prepared (or loaded from a store) before.
func (l *Ledger) insert(entry LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byID[entry.ID]; exists {
		return constraintViolation("ledger entry id already exists")
	}

	if err := l.checkLocked(entry); err != nil {
		return err
	}

	l.insertLocked(entry)

	return nil
}

func (l *Ledger) prepareLocked(entry LedgerEntry) (LedgerEntry, error) {
	entry.EventDate = ToEventTime(entry.EventDate)
	entry.DueDate = ToEventTime(entry.DueDate)
	entry.ReturnDate = ToEventTime(entry.ReturnDate)

	if entry.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return LedgerEntry{}, err
		}

		entry.ID = id.String()
	}

	if _, exists := l.byID[entry.ID]; exists {
		return LedgerEntry{}, constraintViolation("ledger entry id already exists")
	}

	if err := l.checkLocked(entry); err != nil {
		return LedgerEntry{}, err
	}

	l.lastSeq++
	entry.Sequence = l.lastSeq

	return entry, nil
}

func (l *Ledger) checkLocked(entry LedgerEntry) error {
	if !entry.Kind.IsValid() {
		return constraintViolation("unknown entry kind")
	}

	if entry.MemberID == "" || entry.BookID == "" || entry.EventDate.IsZero() {
		return constraintViolation("member, book and event date are required")
	}

	if !entry.DueDate.IsZero() && entry.DueDate.Before(entry.EventDate) {
		return constraintViolation("due date precedes event date")
	}

	if !entry.ReturnDate.IsZero() && entry.ReturnDate.Before(entry.EventDate) {
		return constraintViolation("return date precedes event date")
	}

	openIdx, isOpen := l.open[memberBookKey{entry.MemberID, entry.BookID}]

	switch entry.Kind {
	case EntryBorrow:
		if isOpen {
			return constraintViolation("member already has an open borrow for this book")
		}

		if entry.DueDate.IsZero() {
			return constraintViolation("borrow requires a due date")
		}

	case EntryReturn, EntryRenew:
		if !isOpen {
			return constraintViolation("no open borrow for this member and book")
		}

		borrow := l.entries[openIdx]
		if entry.BorrowID != borrow.ID {
			return constraintViolation("entry does not reference the open borrow")
		}

		if entry.EventDate.Before(borrow.EventDate) {
			return constraintViolation("entry precedes its borrow")
		}

		if entry.Kind == EntryReturn && entry.ReturnDate.IsZero() {
			return constraintViolation("return requires a return date")
		}

		if entry.Kind == EntryRenew && entry.DueDate.IsZero() {
			return constraintViolation("renew requires a due date")
		}
	}

	return nil
}

func (l *Ledger) insertLocked(entry LedgerEntry) {
	idx := len(l.entries)
	l.entries = append(l.entries, entry)
	l.byID[entry.ID] = idx
	l.byMember[entry.MemberID] = append(l.byMember[entry.MemberID], idx)
	l.byBook[entry.BookID] = append(l.byBook[entry.BookID], idx)

	if entry.Sequence > l.lastSeq {
		l.lastSeq = entry.Sequence
	}

	key := memberBookKey{entry.MemberID, entry.BookID}

	switch entry.Kind {
	case EntryBorrow:
		l.open[key] = idx

	case EntryRenew:
		l.renewals[entry.BorrowID] = append(l.renewals[entry.BorrowID], idx)

	case EntryReturn:
		l.closedBy[entry.BorrowID] = idx
		delete(l.open, key)
	}
}

// Entry returns the entry with the given ID.
func (l *Ledger) Entry(id EntryIDString) (LedgerEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx, ok := l.byID[id]
	if !ok {
		return LedgerEntry{}, false
	}

	return l.entries[idx], true
}

// EntriesForMember returns the member's entries inside the range,
// ordered by event date with ties broken by insertion order.
func (l *Ledger) EntriesForMember(memberID MemberIDString, dateRange DateRange) []LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.collectLocked(l.byMember[memberID], dateRange)
}

// EntriesForBook returns the book's entries inside the range,
// ordered by event date with ties broken by insertion order.
func (l *Ledger) EntriesForBook(bookID BookIDString, dateRange DateRange) []LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.collectLocked(l.byBook[bookID], dateRange)
}

// Entries returns all entries ordered by event date and insertion order.
func (l *Ledger) Entries() []LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := slices.Clone(l.entries)
	sortEntries(entries)

	return entries
}

func (l *Ledger) collectLocked(indexes []int, dateRange DateRange) []LedgerEntry {
	entries := make([]LedgerEntry, 0, len(indexes))

	for _, idx := range indexes {
		if dateRange.Contains(l.entries[idx].EventDate) {
			entries = append(entries, l.entries[idx])
		}
	}

	sortEntries(entries)

	return entries
}

func sortEntries(entries []LedgerEntry) {
	slices.SortStableFunc(entries, func(a, b LedgerEntry) int {
		if c := a.EventDate.Compare(b.EventDate); c != 0 {
			return c
		}

		switch {
		case a.Sequence < b.Sequence:
			return -1
		case a.Sequence > b.Sequence:
			return 1
		default:
			return 0
		}
	})
}

func sortBySequence(entries []LedgerEntry) {
	slices.SortFunc(entries, func(a, b LedgerEntry) int {
		switch {
		case a.Sequence < b.Sequence:
			return -1
		case a.Sequence > b.Sequence:
			return 1
		default:
			return 0
		}
	})
}

// OpenBorrow returns the open Borrow entry of the pair, if any.
func (l *Ledger) OpenBorrow(memberID MemberIDString, bookID BookIDString) (LedgerEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx, ok := l.open[memberBookKey{memberID, bookID}]
	if !ok {
		return LedgerEntry{}, false
	}

	return l.entries[idx], true
}

// OpenBorrowCount returns the number of open Borrows of the member.
func (l *Ledger) OpenBorrowCount(memberID MemberIDString) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	count := 0

	for key := range l.open {
		if key.memberID == memberID {
			count++
		}
	}

	return count
}

// lastSequenceOf returns the sequence number of the member's latest entry, zero if there is none.
func (l *Ledger) lastSequenceOf(memberID MemberIDString) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var last uint64
	for _, idx := range l.byMember[memberID] {
		last = max(last, l.entries[idx].Sequence)
	}

	return last
}

/***** Loan *****/

// Loan is the derived view of one Borrow: its effective due date after renewals and,
// once closed, the return date. Extensions keeps every renewal in ledger order so that
// fines can be computed for any point in time.
type Loan struct {
	Borrow       LedgerEntry
	DueDate      time.Time
	Renewals     int
	Extensions   []DueDateExtension
	ReturnedAt   time.Time
	ReturnedByID EntryIDString
}

// DueDateExtension is one Renew of a loan: when it was recorded and the due date it set.
type DueDateExtension struct {
	RenewedAt time.Time
	DueDate   time.Time
}

// DueDateAt returns the due date in force at t. Renewals recorded after t do not count.
func (l Loan) DueDateAt(t time.Time) time.Time {
	due := l.DueDate
	if len(l.Extensions) > 0 {
		due = l.Borrow.DueDate
	}

	for _, extension := range l.Extensions {
		if extension.RenewedAt.After(t) {
			break
		}

		due = extension.DueDate
	}

	return due
}

// IsOpen reports whether the loan has not been closed by a Return.
func (l Loan) IsOpen() bool {
	return l.ReturnedAt.IsZero()
}

// IsOpenAt reports whether the loan was open at the given time.
func (l Loan) IsOpenAt(t time.Time) bool {
	return l.IsOpen() || t.Before(l.ReturnedAt)
}

// Loan derives the loan of the given Borrow entry.
func (l *Ledger) Loan(borrowID EntryIDString) (Loan, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx, ok := l.byID[borrowID]
	if !ok || l.entries[idx].Kind != EntryBorrow {
		return Loan{}, false
	}

	return l.loanLocked(l.entries[idx]), true
}

// LoansForMember derives all loans of the member, oldest first.
func (l *Ledger) LoansForMember(memberID MemberIDString) []Loan {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.loansLocked(l.byMember[memberID], false)
}

// LoansForBook derives all loans of the book, oldest first.
func (l *Ledger) LoansForBook(bookID BookIDString) []Loan {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.loansLocked(l.byBook[bookID], false)
}

// OpenLoans derives all currently open loans, oldest first.
func (l *Ledger) OpenLoans() []Loan {
	l.mu.RLock()
	defer l.mu.RUnlock()

	indexes := make([]int, 0, len(l.open))
	for _, idx := range l.open {
		indexes = append(indexes, idx)
	}

	return l.loansLocked(indexes, true)
}

func (l *Ledger) loansLocked(indexes []int, onlyOpen bool) []Loan {
	borrows := make([]LedgerEntry, 0, len(indexes))

	for _, idx := range indexes {
		if l.entries[idx].Kind == EntryBorrow {
			borrows = append(borrows, l.entries[idx])
		}
	}

	sortEntries(borrows)

	loans := make([]Loan, 0, len(borrows))
	for _, borrow := range borrows {
		loan := l.loanLocked(borrow)
		if onlyOpen && !loan.IsOpen() {
			continue
		}

		loans = append(loans, loan)
	}

	return loans
}

func (l *Ledger) loanLocked(borrow LedgerEntry) Loan {
	loan := Loan{
		Borrow:  borrow,
		DueDate: borrow.DueDate,
	}

	for _, idx := range l.renewals[borrow.ID] {
		renew := l.entries[idx]
		loan.DueDate = renew.DueDate
		loan.Renewals++
		loan.Extensions = append(loan.Extensions, DueDateExtension{RenewedAt: renew.EventDate, DueDate: renew.DueDate})
	}

	if idx, closed := l.closedBy[borrow.ID]; closed {
		loan.ReturnedAt = l.entries[idx].ReturnDate
		loan.ReturnedByID = l.entries[idx].ID
	}

	return loan
}
