package simulation_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/library-circulation-go/circulation"
	"github.com/AntonStoeckl/library-circulation-go/internal/simulation"
)

func smallConfig() simulation.Config {
	return simulation.Config{
		Rate:          500,
		Workers:       8,
		Duration:      300 * time.Millisecond,
		Members:       20,
		Books:         5,
		CopiesPerBook: 2,
		Seed:          42,
	}
}

func newEngine(t *testing.T) *circulation.Engine {
	t.Helper()

	engine, err := circulation.NewEngine(circulation.WithRetryOptions(circulation.WithBaseDelay(time.Millisecond)))
	require.NoError(t, err)

	return engine
}

func Test_Simulation_Run_KeepsCopyCountsConsistent(t *testing.T) {
	// arrange
	ctx := context.Background()
	engine := newEngine(t)
	sim, err := simulation.New(engine, smallConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, sim.Setup(ctx))

	// act
	report, err := sim.Run(ctx)

	// assert
	require.NoError(t, err)
	assert.Positive(t, report.Requests)
	assert.Zero(t, report.Count(simulation.OutcomeFailed))
	assert.Equal(t, report.Requests,
		report.Count(simulation.OutcomeSuccess)+
			report.Count(simulation.OutcomeRejected)+
			report.Count(simulation.OutcomeContention)+
			report.Count(simulation.OutcomeConflict))

	borrowed, err := engine.CurrentlyBorrowed(ctx, circulation.BorrowedFilter{})
	require.NoError(t, err)
	assert.Equal(t, len(borrowed), report.OpenLoans)

	openPerBook := make(map[string]int)
	for _, item := range borrowed {
		openPerBook[item.Entry.BookID]++
	}

	for _, book := range engine.Books() {
		assert.Equal(t, openPerBook[book.ID], book.LentCopies(), "book %s", book.ID)
		assert.GreaterOrEqual(t, book.AvailableCopies, 0)
		assert.LessOrEqual(t, book.AvailableCopies, book.TotalCopies)
	}
}

func Test_Simulation_Run_StopsOnCancellation(t *testing.T) {
	// arrange
	cfg := smallConfig()
	cfg.Duration = 0
	engine := newEngine(t)
	sim, err := simulation.New(engine, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, sim.Setup(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	// act
	report, err := sim.Run(ctx)

	// assert
	require.NoError(t, err)
	assert.Positive(t, report.Requests)
}

func Test_Simulation_Setup_IsRepeatable(t *testing.T) {
	// arrange
	ctx := context.Background()
	engine := newEngine(t)
	sim, err := simulation.New(engine, smallConfig(), nil)
	require.NoError(t, err)

	// act
	require.NoError(t, sim.Setup(ctx))
	err = sim.Setup(ctx)

	// assert
	require.NoError(t, err)
	assert.Len(t, engine.Members(), 20)
	assert.Len(t, engine.Books(), 5)
}

func Test_Simulation_New_RejectsInvalidConfig(t *testing.T) {
	engine := newEngine(t)

	mutations := map[string]func(*simulation.Config){
		"zero rate":        func(c *simulation.Config) { c.Rate = 0 },
		"zero workers":     func(c *simulation.Config) { c.Workers = 0 },
		"zero members":     func(c *simulation.Config) { c.Members = 0 },
		"negative copies":  func(c *simulation.Config) { c.CopiesPerBook = -1 },
		"negative runtime": func(c *simulation.Config) { c.Duration = -time.Second },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := smallConfig()
			mutate(&cfg)

			_, err := simulation.New(engine, cfg, nil)

			assert.ErrorIs(t, err, simulation.ErrInvalidConfig)
		})
	}

	_, err := simulation.New(nil, smallConfig(), nil)
	assert.ErrorIs(t, err, simulation.ErrInvalidConfig)
}

func Test_Classify(t *testing.T) {
	cases := []struct {
		err  error
		want simulation.Outcome
	}{
		{nil, simulation.OutcomeSuccess},
		{circulation.ErrNoCopiesAvailable, simulation.OutcomeRejected},
		{fmt.Errorf("wrapped: %w", circulation.ErrReservationPending), simulation.OutcomeRejected},
		{circulation.ErrContention, simulation.OutcomeContention},
		{fmt.Errorf("%w: already open", circulation.ErrConstraintViolation), simulation.OutcomeConflict},
		{errors.Join(circulation.ErrCommitFailed, errors.New("disk full")), simulation.OutcomeFailed},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, simulation.Classify(tc.err), "%v", tc.err)
	}
}

func Test_ScenarioSelector_OnlyTargetsOpenLoans(t *testing.T) {
	// arrange
	ctx := context.Background()
	cfg := smallConfig()
	engine := newEngine(t)
	sim, err := simulation.New(engine, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, sim.Setup(ctx))

	_, err = engine.Borrow(ctx, circulation.BorrowCommand{MemberID: "sim-member-00003", BookID: "sim-book-00001", StaffID: "S1"})
	require.NoError(t, err)

	selector := simulation.NewScenarioSelector(engine, cfg)

	// act
	seen := make(map[simulation.ScenarioType]int)
	for i := 0; i < 500; i++ {
		scenario := selector.SelectScenario(ctx)
		seen[scenario.Type]++

		// assert
		switch scenario.Type {
		case simulation.ScenarioReturn, simulation.ScenarioRenew:
			assert.Equal(t, "sim-member-00003", scenario.MemberID)
			assert.Equal(t, "sim-book-00001", scenario.BookID)
		case simulation.ScenarioCancelReservation:
			t.Fatalf("no reservation exists, got %+v", scenario)
		}
	}

	assert.Positive(t, seen[simulation.ScenarioBorrow])
	assert.Positive(t, seen[simulation.ScenarioReturn])
}
