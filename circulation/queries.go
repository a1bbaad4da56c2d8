package circulation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// BorrowedFilter narrows CurrentlyBorrowed to one book or one member. The zero value matches everything.
type BorrowedFilter struct {
	BookID   BookIDString
	MemberID MemberIDString
}

func (f BorrowedFilter) matches(entry LedgerEntry) bool {
	return (f.BookID == "" || f.BookID == entry.BookID) &&
		(f.MemberID == "" || f.MemberID == entry.MemberID)
}

// BorrowedItem is an open Borrow with its effective due date and whole days overdue as of now.
type BorrowedItem struct {
	Entry       LedgerEntry
	DueDate     time.Time
	DaysOverdue int64
}

// CatalogItem is the catalog view of a book: its copy counts plus external metadata.
type CatalogItem struct {
	BookID          BookIDString
	TotalCopies     int
	AvailableCopies int
	BookMetadata
}

// FineDue is the fine accrued so far on one open Borrow.
type FineDue struct {
	MemberID MemberIDString
	BookID   BookIDString
	Amount   Money
}

// CurrentlyBorrowed lists the open Borrows matching the filter, oldest first.
func (e *Engine) CurrentlyBorrowed(ctx context.Context, filter BorrowedFilter) ([]BorrowedItem, error) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := e.currentTime()
	items := make([]BorrowedItem, 0)

	for _, loan := range e.ledger.OpenLoans() {
		if !filter.matches(loan.Borrow) {
			continue
		}

		items = append(items, BorrowedItem{
			Entry:       loan.Borrow,
			DueDate:     loan.DueDate,
			DaysOverdue: DaysOverdue(loan.DueDate, now),
		})
	}

	return items, nil
}

// CatalogEntry composes the copy counts of a book with the metadata of the MetadataProvider.
func (e *Engine) CatalogEntry(ctx context.Context, bookID BookIDString) (CatalogItem, error) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	book, err := e.inventory.Book(bookID)
	if err != nil {
		return CatalogItem{}, err
	}

	item := CatalogItem{
		BookID:          book.ID,
		TotalCopies:     book.TotalCopies,
		AvailableCopies: book.AvailableCopies,
	}

	if e.metadata != nil {
		if item.BookMetadata, err = e.metadata.Metadata(ctx, bookID); err != nil {
			return CatalogItem{}, err
		}
	}

	return item, nil
}

// FinesDue lists the positive fines on open Borrows as of now, for one member or,
// with an empty memberID, for all members.
func (e *Engine) FinesDue(ctx context.Context, memberID MemberIDString) ([]FineDue, error) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := e.currentTime()
	fines := make([]FineDue, 0)

	for _, loan := range e.ledger.OpenLoans() {
		if memberID != "" && loan.Borrow.MemberID != memberID {
			continue
		}

		_, policy, err := e.registry.memberWithPolicy(loan.Borrow.MemberID)
		if err != nil {
			return nil, err
		}

		if fine := FineFor(loan, now, policy); fine.IsPositive() {
			fines = append(fines, FineDue{MemberID: loan.Borrow.MemberID, BookID: loan.Borrow.BookID, Amount: fine})
		}
	}

	return fines, nil
}

// TotalFines sums the fines over all loans of the member, returned ones included.
// It is always derived from the ledger, nothing is cached.
func (e *Engine) TotalFines(ctx context.Context, memberID MemberIDString) (Money, error) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	_, policy, err := e.registry.memberWithPolicy(memberID)
	if err != nil {
		return decimal.Zero, err
	}

	now := e.currentTime()
	total := decimal.Zero

	for _, loan := range e.ledger.LoansForMember(memberID) {
		total = total.Add(FineFor(loan, now, policy))
	}

	return total, nil
}

// Book returns the copy counts of a book.
func (e *Engine) Book(bookID BookIDString) (Book, error) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	return e.inventory.Book(bookID)
}

// Books returns all books ordered by ID.
func (e *Engine) Books() []Book {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	return e.inventory.Books()
}

// Member returns a registered member.
func (e *Engine) Member(memberID MemberIDString) (Member, error) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	return e.registry.member(memberID)
}

// Members returns all registered members ordered by ID.
func (e *Engine) Members() []Member {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	return e.registry.allMembers()
}

// Policy returns a member type policy.
func (e *Engine) Policy(policyID PolicyIDString) (MemberTypePolicy, error) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	return e.registry.policy(policyID)
}

// Policies returns all member type policies ordered by ID.
func (e *Engine) Policies() []MemberTypePolicy {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	return e.registry.allPolicies()
}

// Reservations returns all reservations of a book in rank order, terminal ones included.
func (e *Engine) Reservations(bookID BookIDString) []Reservation {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	return e.reservations.ForBook(bookID)
}

// EntriesForMember returns the ledger entries of a member inside the range.
func (e *Engine) EntriesForMember(memberID MemberIDString, dateRange DateRange) []LedgerEntry {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	return e.ledger.EntriesForMember(memberID, dateRange)
}

// EntriesForBook returns the ledger entries of a book inside the range.
func (e *Engine) EntriesForBook(bookID BookIDString, dateRange DateRange) []LedgerEntry {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	return e.ledger.EntriesForBook(bookID, dateRange)
}

// LoansForMember derives all loans of a member, oldest first.
func (e *Engine) LoansForMember(memberID MemberIDString) []Loan {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	return e.ledger.LoansForMember(memberID)
}
