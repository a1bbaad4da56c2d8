package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/AntonStoeckl/library-circulation-go/circulation"
	"github.com/AntonStoeckl/library-circulation-go/circulation/sqlstore/internal/adapters"
)

// Store is a circulation.Store backed by a SQL database.
type Store struct {
	db      adapters.DBAdapter
	dialect Dialect
	tables  tableNames
	logger  circulation.Logger
	metrics circulation.MetricsCollector
	closer  io.Closer
}

// NewFromPGXPool creates a Postgres Store using a pgx Pool.
func NewFromPGXPool(db *pgxpool.Pool, options ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewPGXAdapter(db), options)
}

// NewFromSQLDB creates a Store using a sql.DB, Postgres unless WithDialect says otherwise.
func NewFromSQLDB(db *sql.DB, options ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewSQLAdapter(db), options)
}

// NewFromSQLX creates a Store using a sqlx.DB, Postgres unless WithDialect says otherwise.
func NewFromSQLX(db *sqlx.DB, options ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewSQLXAdapter(db), options)
}

func newStore(db adapters.DBAdapter, options []Option) (*Store, error) {
	s := &Store{
		db:      db,
		dialect: DialectPostgres,
		tables:  newTableNames(defaultTablePrefix),
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Close releases the database connection if the Store opened it itself (see OpenSQLite).
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}

	return s.closer.Close()
}

func (s *Store) builder() goqu.DialectWrapper {
	return goqu.Dialect(string(s.dialect))
}

// Commit writes the commit in one transaction after checking that the committing engine has seen
// the latest persisted state, see circulation.Commit. A failed check returns circulation.ErrContention.
//
// Commits are serialized: on Postgres by a lock on the ledger table held until the transaction
// ends, on SQLite by the immediate write transactions of OpenSQLite.
func (s *Store) Commit(ctx context.Context, commit circulation.Commit) error {
	start := time.Now()

	err := s.db.WithTx(ctx, func(tx adapters.DBExecutor) error {
		return s.writeCommit(ctx, tx, commit)
	})

	duration := time.Since(start)

	switch {
	case err == nil:
		s.recordDuration(ctx, logActionCommit, statusSuccess, duration)
		s.logOperation(logActionCommit,
			logAttrOperation, commit.Operation,
			logAttrDurationMS, toMilliseconds(duration))

		return nil

	case errors.Is(err, circulation.ErrContention):
		s.recordDuration(ctx, logActionCommit, statusConflict, duration)
		s.incrementCounter(ctx, metricVersionConflicts, map[string]string{labelOperation: commit.Operation})
		s.logOperation(logActionCommit+": "+logMsgConcurrencyConflict, logAttrOperation, commit.Operation)

		return circulation.ErrContention

	default:
		s.recordDuration(ctx, logActionCommit, statusError, duration)
		s.incrementCounter(ctx, metricStoreErrors, map[string]string{labelOperation: logActionCommit})
		s.logError(logMsgCommitFailed, err, logAttrOperation, commit.Operation)

		return errors.Join(circulation.ErrCommitFailed, err)
	}
}

func (s *Store) writeCommit(ctx context.Context, tx adapters.DBExecutor, commit circulation.Commit) error {
	if err := s.lockForCommit(ctx, tx); err != nil {
		return err
	}

	if err := s.checkNotStale(ctx, tx, commit); err != nil {
		return err
	}

	for _, policy := range commit.Policies {
		if err := s.upsert(ctx, tx, s.tables.policies, policyRecord(policy)); err != nil {
			return err
		}
	}

	for _, member := range commit.Members {
		if err := s.upsert(ctx, tx, s.tables.members, memberRecord(member)); err != nil {
			return err
		}
	}

	for _, book := range commit.Books {
		if err := s.writeBook(ctx, tx, book); err != nil {
			return err
		}
	}

	for _, reservation := range commit.Reservations {
		if err := s.upsert(ctx, tx, s.tables.reservations, reservationRecord(reservation)); err != nil {
			return err
		}
	}

	if commit.Entry != nil {
		sqlQuery, _, err := s.builder().Insert(s.tables.ledger).Rows(entryRecord(*commit.Entry)).ToSQL()
		if err != nil {
			return s.buildFailed(err)
		}

		if _, err = s.exec(ctx, tx, sqlQuery, logActionCommit); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) lockForCommit(ctx context.Context, tx adapters.DBExecutor) error {
	if s.dialect != DialectPostgres {
		return nil
	}

	// SHARE ROW EXCLUSIVE conflicts with itself but not with the ACCESS SHARE locks of Load.
	sqlQuery := "LOCK TABLE " + s.tables.ledger + " IN SHARE ROW EXCLUSIVE MODE"

	start := time.Now()
	_, err := tx.Exec(ctx, sqlQuery)
	s.logQueryWithDuration(sqlQuery, logActionCommit, time.Since(start))

	if err != nil {
		s.logError(logMsgDBExecFailed, err, logAttrQuery, sqlQuery)
		return errors.Join(ErrQueryingFailed, err)
	}

	return nil
}

// checkNotStale rejects a commit built on state that another writer has changed since.
// The book versions are checked by writeBook.
func (s *Store) checkNotStale(ctx context.Context, tx adapters.DBExecutor, commit circulation.Commit) error {
	for _, reservation := range commit.Reservations {
		stale, err := s.reservationIsStale(ctx, tx, reservation)
		if err != nil {
			return err
		}

		if stale {
			return circulation.ErrContention
		}
	}

	if commit.Entry == nil {
		return nil
	}

	var head int64

	err := s.queryRows(ctx, tx,
		s.builder().From(s.tables.ledger).
			Select(goqu.COALESCE(goqu.MAX(colSequence), 0)).
			Where(goqu.C(colMemberID).Eq(commit.Entry.MemberID)),
		func(rows adapters.DBRows) error {
			return rows.Scan(&head)
		})
	if err != nil {
		return err
	}

	if uint64(head) > commit.MemberHead {
		return circulation.ErrContention
	}

	var takenBy []string

	err = s.queryRows(ctx, tx,
		s.builder().From(s.tables.ledger).
			Select(colID).
			Where(goqu.C(colSequence).Eq(int64(commit.Entry.Sequence))),
		func(rows adapters.DBRows) error {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}

			takenBy = append(takenBy, id)

			return nil
		})
	if err != nil {
		return err
	}

	if len(takenBy) > 0 && takenBy[0] != commit.Entry.ID {
		return circulation.ErrContention
	}

	return nil
}

// reservationIsStale reports a transition of a reservation that is already terminal with
// another status, or a new reservation whose rank another writer has taken.
func (s *Store) reservationIsStale(ctx context.Context, tx adapters.DBExecutor, reservation circulation.Reservation) (bool, error) {
	type storedReservation struct {
		id     string
		status circulation.ReservationStatus
	}

	var found []storedReservation

	err := s.queryRows(ctx, tx,
		s.builder().From(s.tables.reservations).
			Select(colID, colStatus).
			Where(goqu.Or(
				goqu.C(colID).Eq(reservation.ID),
				goqu.And(
					goqu.C(colBookID).Eq(reservation.BookID),
					goqu.C(colPriorityRank).Eq(int64(reservation.PriorityRank)),
				),
			)),
		func(rows adapters.DBRows) error {
			var row storedReservation
			var status string

			if err := rows.Scan(&row.id, &status); err != nil {
				return err
			}

			row.status = circulation.ReservationStatus(status)
			found = append(found, row)

			return nil
		})
	if err != nil {
		return false, err
	}

	for _, row := range found {
		if row.id != reservation.ID {
			return true, nil
		}

		if row.status.IsTerminal() && row.status != reservation.Status {
			return true, nil
		}
	}

	return false, nil
}

// writeBook inserts a new book (version 1) or updates it guarded by its previous version.
func (s *Store) writeBook(ctx context.Context, tx adapters.DBExecutor, book circulation.Book) error {
	var sqlQuery string
	var err error

	switch book.Version {
	case 0:
		return circulation.ErrContention

	case 1:
		sqlQuery, _, err = s.builder().Insert(s.tables.books).
			Rows(bookRecord(book)).
			OnConflict(goqu.DoNothing()).
			ToSQL()

	default:
		sqlQuery, _, err = s.builder().Update(s.tables.books).
			Set(goqu.Record{
				colTotalCopies:     book.TotalCopies,
				colAvailableCopies: book.AvailableCopies,
				colVersion:         book.Version,
			}).
			Where(
				goqu.C(colID).Eq(book.ID),
				goqu.C(colVersion).Eq(book.Version-1),
			).
			ToSQL()
	}

	if err != nil {
		return s.buildFailed(err)
	}

	rowsAffected, err := s.exec(ctx, tx, sqlQuery, logActionCommit)
	if err != nil {
		return err
	}

	if rowsAffected != 1 {
		return circulation.ErrContention
	}

	return nil
}

func (s *Store) upsert(ctx context.Context, tx adapters.DBExecutor, table string, record goqu.Record) error {
	update := goqu.Record{}
	for col := range record {
		if col != colID {
			update[col] = goqu.I("excluded." + col)
		}
	}

	sqlQuery, _, err := s.builder().Insert(table).
		Rows(record).
		OnConflict(goqu.DoUpdate(colID, update)).
		ToSQL()
	if err != nil {
		return s.buildFailed(err)
	}

	_, err = s.exec(ctx, tx, sqlQuery, logActionCommit)

	return err
}

// Load reads the complete persisted state inside one transaction. Entries are in sequence order.
func (s *Store) Load(ctx context.Context) (circulation.Snapshot, error) {
	start := time.Now()

	var snapshot circulation.Snapshot

	err := s.db.WithTx(ctx, func(tx adapters.DBExecutor) error {
		var loadErr error
		snapshot, loadErr = s.readSnapshot(ctx, tx)

		return loadErr
	})

	duration := time.Since(start)

	if err != nil {
		s.recordDuration(ctx, logActionLoad, statusError, duration)
		s.incrementCounter(ctx, metricStoreErrors, map[string]string{labelOperation: logActionLoad})
		s.logError(logMsgLoadFailed, err)

		return circulation.Snapshot{}, errors.Join(circulation.ErrLoadFailed, err)
	}

	s.recordDuration(ctx, logActionLoad, statusSuccess, duration)
	s.logOperation(logActionLoad,
		logAttrEntryCount, len(snapshot.Entries),
		logAttrDurationMS, toMilliseconds(duration))

	return snapshot, nil
}

func (s *Store) readSnapshot(ctx context.Context, tx adapters.DBExecutor) (circulation.Snapshot, error) {
	var snapshot circulation.Snapshot
	b := s.builder()

	err := s.queryRows(ctx, tx,
		b.From(s.tables.policies).
			Select(colID, colMaxBooksAllowed, colLoanPeriodDays, colFinePerDay).
			Order(goqu.C(colID).Asc()),
		func(rows adapters.DBRows) error {
			var policy circulation.MemberTypePolicy
			var fine string

			if err := rows.Scan(&policy.ID, &policy.MaxBooksAllowed, &policy.LoanPeriodDays, &fine); err != nil {
				return err
			}

			amount, err := decimal.NewFromString(fine)
			if err != nil {
				return err
			}

			policy.FinePerDay = amount
			snapshot.Policies = append(snapshot.Policies, policy)

			return nil
		})
	if err != nil {
		return snapshot, err
	}

	err = s.queryRows(ctx, tx,
		b.From(s.tables.members).
			Select(colID, colPolicyID, colStatus).
			Order(goqu.C(colID).Asc()),
		func(rows adapters.DBRows) error {
			var member circulation.Member
			var status string

			if err := rows.Scan(&member.ID, &member.PolicyID, &status); err != nil {
				return err
			}

			member.Status = circulation.MemberStatus(status)
			snapshot.Members = append(snapshot.Members, member)

			return nil
		})
	if err != nil {
		return snapshot, err
	}

	err = s.queryRows(ctx, tx,
		b.From(s.tables.books).
			Select(colID, colTotalCopies, colAvailableCopies, colVersion).
			Order(goqu.C(colID).Asc()),
		func(rows adapters.DBRows) error {
			var book circulation.Book
			var version int64

			if err := rows.Scan(&book.ID, &book.TotalCopies, &book.AvailableCopies, &version); err != nil {
				return err
			}

			book.Version = uint64(version)
			snapshot.Books = append(snapshot.Books, book)

			return nil
		})
	if err != nil {
		return snapshot, err
	}

	err = s.queryRows(ctx, tx,
		b.From(s.tables.reservations).
			Select(colID, colMemberID, colBookID, colCreatedAt, colExpiryAt, colPriorityRank, colStatus).
			Order(goqu.C(colBookID).Asc(), goqu.C(colPriorityRank).Asc()),
		func(rows adapters.DBRows) error {
			var reservation circulation.Reservation
			var createdAt, expiryAt, rank int64
			var status string

			err := rows.Scan(
				&reservation.ID,
				&reservation.MemberID,
				&reservation.BookID,
				&createdAt,
				&expiryAt,
				&rank,
				&status,
			)
			if err != nil {
				return err
			}

			reservation.CreatedAt = fromMicros(createdAt)
			reservation.ExpiryAt = fromMicros(expiryAt)
			reservation.PriorityRank = uint64(rank)
			reservation.Status = circulation.ReservationStatus(status)
			snapshot.Reservations = append(snapshot.Reservations, reservation)

			return nil
		})
	if err != nil {
		return snapshot, err
	}

	err = s.queryRows(ctx, tx,
		b.From(s.tables.ledger).
			Select(colID, colSequence, colMemberID, colBookID, colStaffID, colKind,
				colEventDate, colDueDate, colReturnDate, colBorrowID).
			Order(goqu.C(colSequence).Asc()),
		func(rows adapters.DBRows) error {
			var entry circulation.LedgerEntry
			var sequence, eventDate int64
			var dueDate, returnDate sql.NullInt64
			var kind string

			err := rows.Scan(
				&entry.ID,
				&sequence,
				&entry.MemberID,
				&entry.BookID,
				&entry.StaffID,
				&kind,
				&eventDate,
				&dueDate,
				&returnDate,
				&entry.BorrowID,
			)
			if err != nil {
				return err
			}

			entry.Sequence = uint64(sequence)
			entry.Kind = circulation.EntryKind(kind)
			entry.EventDate = fromMicros(eventDate)
			entry.DueDate = fromNullMicros(dueDate)
			entry.ReturnDate = fromNullMicros(returnDate)
			snapshot.Entries = append(snapshot.Entries, entry)

			return nil
		})

	return snapshot, err
}

func (s *Store) queryRows(
	ctx context.Context,
	tx adapters.DBExecutor,
	ds *goqu.SelectDataset,
	scanRow func(rows adapters.DBRows) error,
) error {

	sqlQuery, _, err := ds.ToSQL()
	if err != nil {
		return s.buildFailed(err)
	}

	start := time.Now()
	rows, err := tx.Query(ctx, sqlQuery)
	s.logQueryWithDuration(sqlQuery, logActionLoad, time.Since(start))

	if err != nil {
		s.logError(logMsgDBQueryFailed, err, logAttrQuery, sqlQuery)
		return errors.Join(ErrQueryingFailed, err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil && s.logger != nil {
			s.logger.Warn(logMsgCloseRowsFailed, logAttrError, closeErr.Error())
		}
	}()

	for rows.Next() {
		if err = scanRow(rows); err != nil {
			s.logError(logMsgScanRowFailed, err, logAttrQuery, sqlQuery)
			return errors.Join(ErrScanningDBRowFailed, err)
		}
	}

	if err = rows.Err(); err != nil {
		return errors.Join(ErrQueryingFailed, err)
	}

	return nil
}

func (s *Store) exec(ctx context.Context, db adapters.DBExecutor, sqlQuery string, action string) (int64, error) {
	start := time.Now()
	result, err := db.Exec(ctx, sqlQuery)
	s.logQueryWithDuration(sqlQuery, action, time.Since(start))

	if err != nil {
		s.logError(logMsgDBExecFailed, err, logAttrQuery, sqlQuery)
		return 0, errors.Join(ErrQueryingFailed, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Join(ErrQueryingFailed, err)
	}

	return rowsAffected, nil
}

func (s *Store) buildFailed(err error) error {
	s.logError(logMsgBuildQueryFailed, err)
	return errors.Join(ErrBuildingQueryFailed, err)
}

/***** row mapping *****/

func policyRecord(policy circulation.MemberTypePolicy) goqu.Record {
	return goqu.Record{
		colID:              policy.ID,
		colMaxBooksAllowed: policy.MaxBooksAllowed,
		colLoanPeriodDays:  policy.LoanPeriodDays,
		colFinePerDay:      policy.FinePerDay.String(),
	}
}

func memberRecord(member circulation.Member) goqu.Record {
	return goqu.Record{
		colID:       member.ID,
		colPolicyID: member.PolicyID,
		colStatus:   string(member.Status),
	}
}

func bookRecord(book circulation.Book) goqu.Record {
	return goqu.Record{
		colID:              book.ID,
		colTotalCopies:     book.TotalCopies,
		colAvailableCopies: book.AvailableCopies,
		colVersion:         book.Version,
	}
}

func reservationRecord(reservation circulation.Reservation) goqu.Record {
	return goqu.Record{
		colID:           reservation.ID,
		colMemberID:     reservation.MemberID,
		colBookID:       reservation.BookID,
		colCreatedAt:    toMicros(reservation.CreatedAt),
		colExpiryAt:     toMicros(reservation.ExpiryAt),
		colPriorityRank: reservation.PriorityRank,
		colStatus:       string(reservation.Status),
	}
}

func entryRecord(entry circulation.LedgerEntry) goqu.Record {
	return goqu.Record{
		colID:         entry.ID,
		colSequence:   entry.Sequence,
		colMemberID:   entry.MemberID,
		colBookID:     entry.BookID,
		colStaffID:    entry.StaffID,
		colKind:       string(entry.Kind),
		colEventDate:  toMicros(entry.EventDate),
		colDueDate:    toNullMicros(entry.DueDate),
		colReturnDate: toNullMicros(entry.ReturnDate),
		colBorrowID:   entry.BorrowID,
	}
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func toNullMicros(t time.Time) any {
	if t.IsZero() {
		return nil
	}

	return toMicros(t)
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func fromNullMicros(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}

	return fromMicros(v.Int64)
}
