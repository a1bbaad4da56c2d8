package circulation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func borrowEntry(memberID MemberIDString, bookID BookIDString, at time.Time) LedgerEntry {
	return LedgerEntry{
		MemberID:  memberID,
		BookID:    bookID,
		StaffID:   "S1",
		Kind:      EntryBorrow,
		EventDate: at,
		DueDate:   at.AddDate(0, 0, 14),
	}
}

func Test_Ledger_Append_AssignsIDAndSequence(t *testing.T) {
	// arrange
	ledger := NewLedger()

	// act
	firstID, err := ledger.Append(borrowEntry("M1", "B1", testStart))
	require.NoError(t, err)
	secondID, err := ledger.Append(borrowEntry("M2", "B1", testStart))
	require.NoError(t, err)

	// assert
	assert.NotEmpty(t, firstID)
	assert.NotEqual(t, firstID, secondID)

	first, found := ledger.Entry(firstID)
	require.True(t, found)
	second, found := ledger.Entry(secondID)
	require.True(t, found)
	assert.Less(t, first.Sequence, second.Sequence)
}

func Test_Ledger_Append_RejectsSecondOpenBorrowForPair(t *testing.T) {
	// arrange
	ledger := NewLedger()
	_, err := ledger.Append(borrowEntry("M1", "B1", testStart))
	require.NoError(t, err)

	// act
	_, err = ledger.Append(borrowEntry("M1", "B1", testStart.Add(time.Hour)))

	// assert
	assert.ErrorIs(t, err, ErrConstraintViolation)
	assert.Len(t, ledger.Entries(), 1)
}

func Test_Ledger_Append_RejectsDatesBeforeEventDate(t *testing.T) {
	ledger := NewLedger()

	entry := borrowEntry("M1", "B1", testStart)
	entry.DueDate = testStart.Add(-time.Hour)

	_, err := ledger.Append(entry)
	assert.ErrorIs(t, err, ErrConstraintViolation)

	id, err := ledger.Append(borrowEntry("M1", "B1", testStart))
	require.NoError(t, err)

	_, err = ledger.Append(LedgerEntry{
		MemberID:   "M1",
		BookID:     "B1",
		Kind:       EntryReturn,
		EventDate:  testStart.Add(time.Hour),
		ReturnDate: testStart,
		BorrowID:   id,
	})
	assert.ErrorIs(t, err, ErrConstraintViolation)
}

func Test_Ledger_Append_ReturnMustReferenceOpenBorrow(t *testing.T) {
	// arrange
	ledger := NewLedger()
	borrowID, err := ledger.Append(borrowEntry("M1", "B1", testStart))
	require.NoError(t, err)

	returnEntry := LedgerEntry{
		MemberID:   "M1",
		BookID:     "B1",
		Kind:       EntryReturn,
		EventDate:  testStart.Add(time.Hour),
		ReturnDate: testStart.Add(time.Hour),
	}

	// act & assert
	returnEntry.BorrowID = "unknown"
	_, err = ledger.Append(returnEntry)
	assert.ErrorIs(t, err, ErrConstraintViolation)

	returnEntry.BorrowID = borrowID
	_, err = ledger.Append(returnEntry)
	require.NoError(t, err)

	_, open := ledger.OpenBorrow("M1", "B1")
	assert.False(t, open)

	_, err = ledger.Append(returnEntry)
	assert.ErrorIs(t, err, ErrConstraintViolation, "a closed borrow can not be returned twice")
}

func Test_Ledger_Append_AllowsNewBorrowAfterReturn(t *testing.T) {
	ledger := NewLedger()
	borrowID, err := ledger.Append(borrowEntry("M1", "B1", testStart))
	require.NoError(t, err)

	_, err = ledger.Append(LedgerEntry{
		MemberID:   "M1",
		BookID:     "B1",
		Kind:       EntryReturn,
		EventDate:  testStart.Add(time.Hour),
		ReturnDate: testStart.Add(time.Hour),
		BorrowID:   borrowID,
	})
	require.NoError(t, err)

	_, err = ledger.Append(borrowEntry("M1", "B1", testStart.Add(2*time.Hour)))

	assert.NoError(t, err)
	assert.Equal(t, 1, ledger.OpenBorrowCount("M1"))
}

func Test_Ledger_Entries_OrderedByEventDateThenInsertion(t *testing.T) {
	// arrange
	ledger := NewLedger()
	later, err := ledger.Append(borrowEntry("M1", "B2", testStart.Add(time.Hour)))
	require.NoError(t, err)
	firstAtStart, err := ledger.Append(borrowEntry("M1", "B1", testStart))
	require.NoError(t, err)
	secondAtStart, err := ledger.Append(borrowEntry("M1", "B3", testStart))
	require.NoError(t, err)

	// act
	entries := ledger.EntriesForMember("M1", DateRange{})

	// assert
	require.Len(t, entries, 3)
	assert.Equal(t, firstAtStart, entries[0].ID)
	assert.Equal(t, secondAtStart, entries[1].ID)
	assert.Equal(t, later, entries[2].ID)
}

func Test_Ledger_EntriesForBook_FiltersInclusiveDateRange(t *testing.T) {
	ledger := NewLedger()
	for i, memberID := range []MemberIDString{"M1", "M2", "M3"} {
		_, err := ledger.Append(borrowEntry(memberID, "B1", testStart.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}

	entries := ledger.EntriesForBook("B1", DateRange{From: testStart.Add(time.Hour), Until: testStart.Add(2 * time.Hour)})

	require.Len(t, entries, 2)
	assert.Equal(t, "M2", entries[0].MemberID)
	assert.Equal(t, "M3", entries[1].MemberID)
	assert.Empty(t, ledger.EntriesForBook("B2", DateRange{}))
}

func Test_Ledger_Loan_DerivesDueDateFromRenewalsAndReturn(t *testing.T) {
	// arrange
	ledger := NewLedger()
	borrowID, err := ledger.Append(borrowEntry("M1", "B1", testStart))
	require.NoError(t, err)

	renewedDue := testStart.AddDate(0, 0, 28)
	_, err = ledger.Append(LedgerEntry{
		MemberID:  "M1",
		BookID:    "B1",
		Kind:      EntryRenew,
		EventDate: testStart.AddDate(0, 0, 10),
		DueDate:   renewedDue,
		BorrowID:  borrowID,
	})
	require.NoError(t, err)

	returnedAt := testStart.AddDate(0, 0, 20)
	_, err = ledger.Append(LedgerEntry{
		MemberID:   "M1",
		BookID:     "B1",
		Kind:       EntryReturn,
		EventDate:  returnedAt,
		ReturnDate: returnedAt,
		BorrowID:   borrowID,
	})
	require.NoError(t, err)

	// act
	loan, found := ledger.Loan(borrowID)

	// assert
	require.True(t, found)
	assert.Equal(t, renewedDue, loan.DueDate)
	assert.Equal(t, 1, loan.Renewals)
	assert.Equal(t, []DueDateExtension{{RenewedAt: testStart.AddDate(0, 0, 10), DueDate: renewedDue}}, loan.Extensions)
	assert.Equal(t, loan.Borrow.DueDate, loan.DueDateAt(testStart.AddDate(0, 0, 9)))
	assert.Equal(t, renewedDue, loan.DueDateAt(testStart.AddDate(0, 0, 10)))
	assert.Equal(t, returnedAt, loan.ReturnedAt)
	assert.False(t, loan.IsOpen())
	assert.True(t, loan.IsOpenAt(returnedAt.Add(-time.Second)))
	assert.Empty(t, ledger.OpenLoans())
	assert.Len(t, ledger.LoansForMember("M1"), 1)
	assert.Len(t, ledger.LoansForBook("B1"), 1)
}

func Test_Ledger_Append_NormalizesTimesToUTCMicroseconds(t *testing.T) {
	ledger := NewLedger()
	local := time.Date(2025, 3, 3, 10, 30, 0, 123456789, time.FixedZone("CET", 3600))

	id, err := ledger.Append(borrowEntry("M1", "B1", local))
	require.NoError(t, err)

	entry, _ := ledger.Entry(id)
	assert.Equal(t, time.UTC, entry.EventDate.Location())
	assert.Equal(t, 123456000, entry.EventDate.Nanosecond())
}
