package circulation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2025, 3, 3, 9, 30, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testStart}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func standardPolicy() MemberTypePolicy {
	return MemberTypePolicy{
		ID:              "standard",
		MaxBooksAllowed: 3,
		LoanPeriodDays:  14,
		FinePerDay:      decimal.RequireFromString("0.50"),
	}
}

// newTestEngine creates an engine with the standard policy and the given members registered.
func newTestEngine(t *testing.T, clock *fakeClock, memberIDs []MemberIDString, options ...Option) *Engine {
	t.Helper()

	options = append([]Option{
		WithClock(clock.Now),
		WithRetryOptions(WithBaseDelay(time.Millisecond)),
	}, options...)

	engine, err := NewEngine(options...)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, engine.DefinePolicy(ctx, standardPolicy()))

	for _, memberID := range memberIDs {
		_, err = engine.RegisterMember(ctx, Member{ID: memberID, PolicyID: "standard"})
		require.NoError(t, err)
	}

	return engine
}

func addBook(t *testing.T, engine *Engine, bookID BookIDString, copies int) {
	t.Helper()

	_, err := engine.AddBook(context.Background(), bookID, copies)
	require.NoError(t, err)
}

func borrow(t *testing.T, engine *Engine, memberID MemberIDString, bookID BookIDString) LedgerEntry {
	t.Helper()

	entry, err := engine.Borrow(context.Background(), BorrowCommand{MemberID: memberID, BookID: bookID, StaffID: "S1"})
	require.NoError(t, err)

	return entry
}

func availableCopies(t *testing.T, engine *Engine, bookID BookIDString) int {
	t.Helper()

	book, err := engine.Book(bookID)
	require.NoError(t, err)

	return book.AvailableCopies
}

var errStoreDown = errors.New("store is down")

// switchableStore delegates to a MemoryStore until it is told to fail.
type switchableStore struct {
	*MemoryStore
	mu      sync.Mutex
	failErr error
	commits int
}

func newSwitchableStore() *switchableStore {
	return &switchableStore{MemoryStore: NewMemoryStore()}
}

func (s *switchableStore) failWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failErr = err
}

func (s *switchableStore) commitCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.commits
}

func (s *switchableStore) Commit(ctx context.Context, commit Commit) error {
	s.mu.Lock()
	s.commits++
	failErr := s.failErr
	s.mu.Unlock()

	if failErr != nil {
		return failErr
	}

	return s.MemoryStore.Commit(ctx, commit)
}
