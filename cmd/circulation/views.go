package main

import (
	"time"

	"github.com/AntonStoeckl/library-circulation-go/circulation"
)

// The JSON contract of the CLI is kept apart from the domain types.

type entryView struct {
	ID         string     `json:"id"`
	Sequence   uint64     `json:"sequence"`
	Kind       string     `json:"kind"`
	MemberID   string     `json:"member_id"`
	BookID     string     `json:"book_id"`
	StaffID    string     `json:"staff_id,omitempty"`
	EventDate  time.Time  `json:"event_date"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	ReturnDate *time.Time `json:"return_date,omitempty"`
	BorrowID   string     `json:"borrow_id,omitempty"`
}

type loanView struct {
	BorrowID   string     `json:"borrow_id"`
	MemberID   string     `json:"member_id"`
	BookID     string     `json:"book_id"`
	BorrowedAt time.Time  `json:"borrowed_at"`
	DueDate    time.Time  `json:"due_date"`
	Renewals   int        `json:"renewals"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
}

type reservationView struct {
	ID           string    `json:"id"`
	MemberID     string    `json:"member_id"`
	BookID       string    `json:"book_id"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiryAt     time.Time `json:"expiry_at"`
	PriorityRank uint64    `json:"priority_rank"`
	Status       string    `json:"status"`
}

type bookView struct {
	ID              string `json:"id"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
}

type memberView struct {
	ID       string `json:"id"`
	PolicyID string `json:"policy_id"`
	Status   string `json:"status"`
}

type policyView struct {
	ID              string            `json:"id"`
	MaxBooksAllowed int               `json:"max_books_allowed"`
	LoanPeriodDays  int               `json:"loan_period_days"`
	FinePerDay      circulation.Money `json:"fine_per_day"`
}

type returnView struct {
	Entry     entryView         `json:"entry"`
	Loan      loanView          `json:"loan"`
	Fine      circulation.Money `json:"fine"`
	Candidate *reservationView  `json:"candidate,omitempty"`
}

type catalogView struct {
	bookView
	circulation.BookMetadata
}

type borrowedView struct {
	Entry       entryView `json:"entry"`
	DueDate     time.Time `json:"due_date"`
	DaysOverdue int64     `json:"days_overdue"`
}

type fineView struct {
	MemberID string            `json:"member_id"`
	BookID   string            `json:"book_id"`
	Amount   circulation.Money `json:"amount"`
}

type totalFinesView struct {
	MemberID string            `json:"member_id"`
	Total    circulation.Money `json:"total"`
}

type countView struct {
	Expired int `json:"expired"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}

	return &t
}

func toEntryView(entry circulation.LedgerEntry) entryView {
	return entryView{
		ID:         entry.ID,
		Sequence:   entry.Sequence,
		Kind:       string(entry.Kind),
		MemberID:   entry.MemberID,
		BookID:     entry.BookID,
		StaffID:    entry.StaffID,
		EventDate:  entry.EventDate,
		DueDate:    optionalTime(entry.DueDate),
		ReturnDate: optionalTime(entry.ReturnDate),
		BorrowID:   entry.BorrowID,
	}
}

func toEntryViews(entries []circulation.LedgerEntry) []entryView {
	views := make([]entryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, toEntryView(entry))
	}

	return views
}

func toLoanView(loan circulation.Loan) loanView {
	return loanView{
		BorrowID:   loan.Borrow.ID,
		MemberID:   loan.Borrow.MemberID,
		BookID:     loan.Borrow.BookID,
		BorrowedAt: loan.Borrow.EventDate,
		DueDate:    loan.DueDate,
		Renewals:   loan.Renewals,
		ReturnedAt: optionalTime(loan.ReturnedAt),
	}
}

func toReservationView(reservation circulation.Reservation) reservationView {
	return reservationView{
		ID:           reservation.ID,
		MemberID:     reservation.MemberID,
		BookID:       reservation.BookID,
		CreatedAt:    reservation.CreatedAt,
		ExpiryAt:     reservation.ExpiryAt,
		PriorityRank: reservation.PriorityRank,
		Status:       string(reservation.Status),
	}
}

func toReservationViews(reservations []circulation.Reservation) []reservationView {
	views := make([]reservationView, 0, len(reservations))
	for _, reservation := range reservations {
		views = append(views, toReservationView(reservation))
	}

	return views
}

func toBookView(book circulation.Book) bookView {
	return bookView{ID: book.ID, TotalCopies: book.TotalCopies, AvailableCopies: book.AvailableCopies}
}

func toMemberView(member circulation.Member) memberView {
	return memberView{ID: member.ID, PolicyID: member.PolicyID, Status: string(member.Status)}
}

func toPolicyView(policy circulation.MemberTypePolicy) policyView {
	return policyView{
		ID:              policy.ID,
		MaxBooksAllowed: policy.MaxBooksAllowed,
		LoanPeriodDays:  policy.LoanPeriodDays,
		FinePerDay:      policy.FinePerDay,
	}
}

func toReturnView(result circulation.ReturnResult) returnView {
	view := returnView{
		Entry: toEntryView(result.Entry),
		Loan:  toLoanView(result.Loan),
		Fine:  result.Fine,
	}

	if result.Candidate != nil {
		candidate := toReservationView(*result.Candidate)
		view.Candidate = &candidate
	}

	return view
}
