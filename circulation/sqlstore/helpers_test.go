package sqlstore_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/library-circulation-go/circulation"
	"github.com/AntonStoeckl/library-circulation-go/circulation/sqlstore"
)

const postgresDSNEnv = "CIRCULATION_TEST_POSTGRES_DSN"

var testStart = time.Date(2025, 3, 3, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time {
	return testStart
}

func standardPolicy() circulation.MemberTypePolicy {
	return circulation.MemberTypePolicy{
		ID:              "standard",
		MaxBooksAllowed: 3,
		LoanPeriodDays:  14,
		FinePerDay:      decimal.RequireFromString("0.50"),
	}
}

// openSQLiteStore opens a migrated store on a fresh file below t.TempDir().
func openSQLiteStore(t *testing.T) (*sqlstore.Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "circulation.db")

	return reopenSQLiteStore(t, path), path
}

func reopenSQLiteStore(t *testing.T, path string) *sqlstore.Store {
	t.Helper()

	store, err := sqlstore.OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(context.Background()))

	return store
}

// postgresPool connects to the database named by CIRCULATION_TEST_POSTGRES_DSN or skips the test.
func postgresPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv(postgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", postgresDSNEnv)
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

// uniqueTablePrefix returns a prefix so that parallel test runs do not share tables.
// The tables are dropped when the test ends.
func uniqueTablePrefix(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	prefix := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12] + "_"

	t.Cleanup(func() {
		for _, table := range []string{"ledger", "reservations", "books", "members", "policies"} {
			_, _ = pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+prefix+table)
		}
	})

	return prefix
}

func newEngine(t *testing.T, store circulation.Store) *circulation.Engine {
	t.Helper()

	engine, err := circulation.NewEngine(
		circulation.WithStore(store),
		circulation.WithClock(fixedClock),
		circulation.WithRetryOptions(circulation.WithBaseDelay(time.Millisecond)),
	)
	require.NoError(t, err)

	return engine
}

// seed defines the standard policy, registers the members and adds the book.
func seed(t *testing.T, engine *circulation.Engine, bookID string, copies int, memberIDs ...string) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, engine.DefinePolicy(ctx, standardPolicy()))

	for _, memberID := range memberIDs {
		_, err := engine.RegisterMember(ctx, circulation.Member{ID: memberID, PolicyID: "standard"})
		require.NoError(t, err)
	}

	_, err := engine.AddBook(ctx, bookID, copies)
	require.NoError(t, err)
}
