package simulation

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/AntonStoeckl/library-circulation-go/circulation"
)

// ScenarioType is the kind of operation a scenario runs.
type ScenarioType string

const (
	ScenarioBorrow             ScenarioType = "borrow"
	ScenarioReturn             ScenarioType = "return"
	ScenarioRenew              ScenarioType = "renew"
	ScenarioReserve            ScenarioType = "reserve"
	ScenarioCancelReservation  ScenarioType = "cancel_reservation"
	ScenarioExpireReservations ScenarioType = "expire_reservations"
	ScenarioQueryFines         ScenarioType = "query_fines"
)

const snapshotMaxAge = 100 * time.Millisecond

// Scenario is one operation to run against the engine.
type Scenario struct {
	Type          ScenarioType
	MemberID      string
	BookID        string
	ReservationID string
}

func memberID(i int) string {
	return fmt.Sprintf("sim-member-%05d", i)
}

func bookID(i int) string {
	return fmt.Sprintf("sim-book-%05d", i)
}

type loanKey struct {
	memberID string
	bookID   string
}

// stateSnapshot caches what the selector needs from the engine.
type stateSnapshot struct {
	openLoans    []loanKey
	open         map[loanKey]struct{}
	reservations []string
	takenAt      time.Time
}

// ScenarioSelector picks realistic scenarios: returns and renewals only for open loans,
// cancellations only for active reservations, borrows preferably for pairs without an open loan.
type ScenarioSelector struct {
	engine *circulation.Engine
	cfg    Config

	mu       sync.Mutex
	rng      *rand.Rand
	snapshot stateSnapshot
}

// NewScenarioSelector creates a selector with a deterministic random source.
func NewScenarioSelector(engine *circulation.Engine, cfg Config) *ScenarioSelector {
	return &ScenarioSelector{
		engine: engine,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)), //nolint:gosec // not used for security
	}
}

// SelectScenario returns the next scenario.
func (s *ScenarioSelector) SelectScenario(ctx context.Context) Scenario {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.snapshot.takenAt) > snapshotMaxAge {
		s.refreshSnapshot(ctx)
	}

	if len(s.snapshot.openLoans) == 0 {
		return s.borrowScenario()
	}

	switch roll := s.rng.Intn(100); {
	case roll < 40:
		return s.borrowScenario()
	case roll < 65:
		loan := s.randomLoan()
		return Scenario{Type: ScenarioReturn, MemberID: loan.memberID, BookID: loan.bookID}
	case roll < 75:
		loan := s.randomLoan()
		return Scenario{Type: ScenarioRenew, MemberID: loan.memberID, BookID: loan.bookID}
	case roll < 88:
		return Scenario{Type: ScenarioReserve, MemberID: s.randomMember(), BookID: s.randomBook()}
	case roll < 93:
		if len(s.snapshot.reservations) == 0 {
			return s.borrowScenario()
		}

		id := s.snapshot.reservations[s.rng.Intn(len(s.snapshot.reservations))]

		return Scenario{Type: ScenarioCancelReservation, ReservationID: id}
	case roll < 96:
		return Scenario{Type: ScenarioExpireReservations}
	default:
		return Scenario{Type: ScenarioQueryFines, MemberID: s.randomMember()}
	}
}

func (s *ScenarioSelector) borrowScenario() Scenario {
	const attempts = 5

	var key loanKey
	for i := 0; i < attempts; i++ {
		key = loanKey{memberID: s.randomMember(), bookID: s.randomBook()}
		if _, open := s.snapshot.open[key]; !open {
			break
		}
	}

	return Scenario{Type: ScenarioBorrow, MemberID: key.memberID, BookID: key.bookID}
}

func (s *ScenarioSelector) randomMember() string {
	return memberID(s.rng.Intn(s.cfg.Members))
}

func (s *ScenarioSelector) randomBook() string {
	return bookID(s.rng.Intn(s.cfg.Books))
}

func (s *ScenarioSelector) randomLoan() loanKey {
	return s.snapshot.openLoans[s.rng.Intn(len(s.snapshot.openLoans))]
}

func (s *ScenarioSelector) refreshSnapshot(ctx context.Context) {
	snapshot := stateSnapshot{open: make(map[loanKey]struct{}), takenAt: time.Now()}

	borrowed, err := s.engine.CurrentlyBorrowed(ctx, circulation.BorrowedFilter{})
	if err == nil {
		for _, item := range borrowed {
			key := loanKey{memberID: item.Entry.MemberID, bookID: item.Entry.BookID}
			snapshot.openLoans = append(snapshot.openLoans, key)
			snapshot.open[key] = struct{}{}
		}
	}

	for i := 0; i < s.cfg.Books; i++ {
		for _, reservation := range s.engine.Reservations(bookID(i)) {
			if reservation.Status == circulation.ReservationActive {
				snapshot.reservations = append(snapshot.reservations, reservation.ID)
			}
		}
	}

	s.snapshot = snapshot
}
