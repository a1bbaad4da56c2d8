package sqlstore

import (
	"context"
	"errors"
	"fmt"
)

const (
	tablePolicies     = "policies"
	tableMembers      = "members"
	tableBooks        = "books"
	tableReservations = "reservations"
	tableLedger       = "ledger"

	colID              = "id"
	colMaxBooksAllowed = "max_books_allowed"
	colLoanPeriodDays  = "loan_period_days"
	colFinePerDay      = "fine_per_day"
	colPolicyID        = "policy_id"
	colStatus          = "status"
	colTotalCopies     = "total_copies"
	colAvailableCopies = "available_copies"
	colVersion         = "version"
	colMemberID        = "member_id"
	colBookID          = "book_id"
	colCreatedAt       = "created_at"
	colExpiryAt        = "expiry_at"
	colPriorityRank    = "priority_rank"
	colSequence        = "sequence"
	colStaffID         = "staff_id"
	colKind            = "kind"
	colEventDate       = "event_date"
	colDueDate         = "due_date"
	colReturnDate      = "return_date"
	colBorrowID        = "borrow_id"
)

type tableNames struct {
	prefix       string
	policies     string
	members      string
	books        string
	reservations string
	ledger       string
}

func newTableNames(prefix string) tableNames {
	return tableNames{
		prefix:       prefix,
		policies:     prefix + tablePolicies,
		members:      prefix + tableMembers,
		books:        prefix + tableBooks,
		reservations: prefix + tableReservations,
		ledger:       prefix + tableLedger,
	}
}

// Times are stored as unix microseconds, which both dialects handle identically.
// Money is stored as its decimal string.
func (t tableNames) ddl() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id                TEXT PRIMARY KEY,
	max_books_allowed INTEGER NOT NULL CHECK (max_books_allowed >= 1),
	loan_period_days  INTEGER NOT NULL CHECK (loan_period_days >= 1),
	fine_per_day      TEXT NOT NULL
)`, t.policies),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id        TEXT PRIMARY KEY,
	policy_id TEXT NOT NULL REFERENCES %s (id),
	status    TEXT NOT NULL
)`, t.members, t.policies),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id               TEXT PRIMARY KEY,
	total_copies     INTEGER NOT NULL,
	available_copies INTEGER NOT NULL,
	version          BIGINT NOT NULL,
	CHECK (total_copies >= 1 AND available_copies >= 0 AND available_copies <= total_copies)
)`, t.books),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id            TEXT PRIMARY KEY,
	member_id     TEXT NOT NULL,
	book_id       TEXT NOT NULL,
	created_at    BIGINT NOT NULL,
	expiry_at     BIGINT NOT NULL,
	priority_rank BIGINT NOT NULL,
	status        TEXT NOT NULL
)`, t.reservations),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_book_rank ON %s (book_id, priority_rank)`,
			t.reservations, t.reservations),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id          TEXT PRIMARY KEY,
	sequence    BIGINT NOT NULL UNIQUE,
	member_id   TEXT NOT NULL,
	book_id     TEXT NOT NULL,
	staff_id    TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL,
	event_date  BIGINT NOT NULL,
	due_date    BIGINT,
	return_date BIGINT,
	borrow_id   TEXT NOT NULL DEFAULT ''
)`, t.ledger),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_member ON %s (member_id, book_id)`, t.ledger, t.ledger),
	}
}

// Migrate creates the tables and indexes if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, statement := range s.tables.ddl() {
		if _, err := s.exec(ctx, s.db, statement, logActionMigrate); err != nil {
			return errors.Join(ErrMigrationFailed, err)
		}
	}

	s.logOperation(logActionMigrate, logAttrTablePrefix, s.tables.prefix)

	return nil
}
