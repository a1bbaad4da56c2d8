// Package circulation implements the circulation engine of a public library:
// lending book copies to members, taking them back, renewing loans, keeping a
// priority-ordered reservation queue per book and deriving overdue fines.
//
// The ledger of circulation events (Borrow, Return, Renew) is the single source of
// truth. Copy counts and fines are derived from it and are never trusted on their own.
//
// Components, leaf-first:
//   - Ledger: append-only log of circulation events, enforces at most one open
//     Borrow per (member, book) pair
//   - Inventory: total/available copy counts per book
//   - ReservationQueue: per-book FIFO waitlist with expiry
//   - FineFor: pure fine calculation from a Loan, a date and a MemberTypePolicy
//   - Engine: the facade which sequences the above as atomic operations
//
// Common usage pattern:
//
//	engine, err := circulation.NewEngine(
//		circulation.WithStore(store),
//		circulation.WithLogger(slog.Default()),
//	)
//	if err != nil {
//		// handle error
//	}
//
//	if err = engine.Restore(ctx); err != nil {
//		// handle error
//	}
//
//	result, err := engine.Borrow(ctx, circulation.BorrowCommand{
//		MemberID: "M1",
//		BookID:   "B1",
//		StaffID:  "S1",
//	})
//	if errors.Is(err, circulation.ErrNoCopiesAvailable) {
//		_, err = engine.Reserve(ctx, circulation.ReserveCommand{MemberID: "M1", BookID: "B1"})
//	}
//
// All write operations are serialized per book (and per member where the member's
// state is involved) and are retried on ErrContention with exponential backoff.
package circulation
