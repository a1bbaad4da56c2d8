package simulation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AntonStoeckl/library-circulation-go/circulation"
)

const (
	policyID         = "simulation"
	operationTimeout = time.Second
	statsInterval    = 10 * time.Second
	queueFactor      = 4
)

// Outcome classifies the result of a scenario.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeRejected   Outcome = "rejected"
	OutcomeContention Outcome = "contention"
	OutcomeConflict   Outcome = "conflict"
	OutcomeFailed     Outcome = "failed"
)

// Classify maps an engine error to an Outcome. A constraint violation happens when two workers
// borrow the same pair from a stale snapshot, the engine rejects the second one.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case circulation.IsPreconditionViolation(err):
		return OutcomeRejected
	case circulation.IsRetryable(err):
		return OutcomeContention
	case errors.Is(err, circulation.ErrConstraintViolation):
		return OutcomeConflict
	default:
		return OutcomeFailed
	}
}

// Report summarizes a finished run.
type Report struct {
	Requests           int64                              `json:"requests"`
	Backpressure       int64                              `json:"backpressure"`
	Outcomes           map[ScenarioType]map[Outcome]int64 `json:"outcomes"`
	OpenLoans          int                                `json:"open_loans"`
	ActiveReservations int                                `json:"active_reservations"`
	Elapsed            time.Duration                      `json:"elapsed_ns"`
}

// Count returns the number of scenarios with the given outcome over all types.
func (r Report) Count(outcome Outcome) int64 {
	var total int64
	for _, outcomes := range r.Outcomes {
		total += outcomes[outcome]
	}

	return total
}

// Simulation generates scenarios at a fixed rate and executes them on a worker pool.
type Simulation struct {
	engine   *circulation.Engine
	cfg      Config
	logger   circulation.Logger
	selector *ScenarioSelector

	mu           sync.Mutex
	requests     int64
	backpressure int64
	outcomes     map[ScenarioType]map[Outcome]int64
}

// New creates a Simulation. logger may be nil.
func New(engine *circulation.Engine, cfg Config, logger circulation.Logger) (*Simulation, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: engine must not be nil", ErrInvalidConfig)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Simulation{
		engine:   engine,
		cfg:      cfg,
		logger:   logger,
		selector: NewScenarioSelector(engine, cfg),
		outcomes: make(map[ScenarioType]map[Outcome]int64),
	}, nil
}

// Setup defines the simulation policy and onboards members and books. Existing ones are kept,
// so repeated runs against a durable store continue where the last one stopped.
func (s *Simulation) Setup(ctx context.Context) error {
	if _, err := s.engine.Policy(policyID); errors.Is(err, circulation.ErrPolicyNotFound) {
		policy := circulation.MemberTypePolicy{
			ID:              policyID,
			MaxBooksAllowed: 5,
			LoanPeriodDays:  14,
			FinePerDay:      decimal.RequireFromString("0.25"),
		}
		if err = s.engine.DefinePolicy(ctx, policy); err != nil {
			return fmt.Errorf("defining simulation policy: %w", err)
		}
	}

	for i := 0; i < s.cfg.Members; i++ {
		member := circulation.Member{ID: memberID(i), PolicyID: policyID}
		if _, err := s.engine.RegisterMember(ctx, member); err != nil && !errors.Is(err, circulation.ErrMemberAlreadyExists) {
			return fmt.Errorf("registering %s: %w", member.ID, err)
		}
	}

	for i := 0; i < s.cfg.Books; i++ {
		if _, err := s.engine.AddBook(ctx, bookID(i), s.cfg.CopiesPerBook); err != nil && !errors.Is(err, circulation.ErrBookAlreadyExists) {
			return fmt.Errorf("adding %s: %w", bookID(i), err)
		}
	}

	s.logInfo(logMsgSetupDone, logAttrMembers, s.cfg.Members, logAttrBooks, s.cfg.Books)

	return nil
}

// Run generates scenarios until the configured Duration elapses or ctx is done.
// Cancellation is a normal way to stop, Run returns the report without an error then.
func (s *Simulation) Run(ctx context.Context) (Report, error) {
	if s.cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Duration)
		defer cancel()
	}

	batchSize, interval := s.cfg.batching()
	queue := make(chan Scenario, s.cfg.Workers*queueFactor)
	started := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, queue)
		}()
	}

	s.logInfo(logMsgRunStarted,
		logAttrRate, s.cfg.Rate, logAttrBatch, batchSize, logAttrInterval, interval.String(), logAttrWorkers, s.cfg.Workers)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	stats := time.NewTicker(statsInterval)
	defer stats.Stop()

	for running := true; running; {
		select {
		case <-ctx.Done():
			running = false

		case <-stats.C:
			s.logStats(time.Since(started))

		case <-ticker.C:
			for i := 0; i < batchSize; i++ {
				scenario := s.selector.SelectScenario(ctx)

				select {
				case queue <- scenario:
					s.countRequest()
				default:
					s.countBackpressure()
				}
			}
		}
	}

	close(queue)
	wg.Wait()

	report := s.report(context.WithoutCancel(ctx), time.Since(started))
	s.logStats(report.Elapsed)

	return report, nil
}

func (s *Simulation) worker(ctx context.Context, queue <-chan Scenario) {
	for scenario := range queue {
		// queued scenarios finish after cancellation so the state stays consistent
		opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), operationTimeout)
		err := s.execute(opCtx, scenario)
		cancel()

		outcome := Classify(err)
		if outcome == OutcomeFailed {
			s.logError(logMsgScenarioFailed, logAttrScenario, string(scenario.Type), logAttrError, err.Error())
		}

		s.countOutcome(scenario.Type, outcome)
	}
}

func (s *Simulation) execute(ctx context.Context, scenario Scenario) error {
	var err error

	switch scenario.Type {
	case ScenarioBorrow:
		_, err = s.engine.Borrow(ctx, circulation.BorrowCommand{MemberID: scenario.MemberID, BookID: scenario.BookID, StaffID: "sim-desk"})
	case ScenarioReturn:
		_, err = s.engine.ReturnBook(ctx, circulation.ReturnCommand{MemberID: scenario.MemberID, BookID: scenario.BookID, StaffID: "sim-desk"})
	case ScenarioRenew:
		_, err = s.engine.Renew(ctx, circulation.RenewCommand{MemberID: scenario.MemberID, BookID: scenario.BookID, StaffID: "sim-desk"})
	case ScenarioReserve:
		_, err = s.engine.Reserve(ctx, circulation.ReserveCommand{MemberID: scenario.MemberID, BookID: scenario.BookID})
	case ScenarioCancelReservation:
		_, err = s.engine.CancelReservation(ctx, scenario.ReservationID)
	case ScenarioExpireReservations:
		_, err = s.engine.ExpireReservations(ctx)
	case ScenarioQueryFines:
		_, err = s.engine.FinesDue(ctx, scenario.MemberID)
	default:
		err = fmt.Errorf("unknown scenario type: %s", scenario.Type)
	}

	return err
}

func (s *Simulation) countRequest() {
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()
}

func (s *Simulation) countBackpressure() {
	s.mu.Lock()
	s.backpressure++
	s.mu.Unlock()
}

func (s *Simulation) countOutcome(scenarioType ScenarioType, outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.outcomes[scenarioType] == nil {
		s.outcomes[scenarioType] = make(map[Outcome]int64)
	}

	s.outcomes[scenarioType][outcome]++
}

func (s *Simulation) report(ctx context.Context, elapsed time.Duration) Report {
	s.mu.Lock()
	report := Report{
		Requests:     s.requests,
		Backpressure: s.backpressure,
		Outcomes:     make(map[ScenarioType]map[Outcome]int64, len(s.outcomes)),
		Elapsed:      elapsed,
	}
	for scenarioType, outcomes := range s.outcomes {
		copied := make(map[Outcome]int64, len(outcomes))
		for outcome, n := range outcomes {
			copied[outcome] = n
		}
		report.Outcomes[scenarioType] = copied
	}
	s.mu.Unlock()

	if borrowed, err := s.engine.CurrentlyBorrowed(ctx, circulation.BorrowedFilter{}); err == nil {
		report.OpenLoans = len(borrowed)
	}

	for i := 0; i < s.cfg.Books; i++ {
		for _, reservation := range s.engine.Reservations(bookID(i)) {
			if reservation.Status == circulation.ReservationActive {
				report.ActiveReservations++
			}
		}
	}

	return report
}

func (s *Simulation) logStats(elapsed time.Duration) {
	s.mu.Lock()
	requests, backpressure := s.requests, s.backpressure
	s.mu.Unlock()

	rate := 0.0
	if seconds := elapsed.Seconds(); seconds > 0 {
		rate = float64(requests) / seconds
	}

	s.logInfo(logMsgStats,
		logAttrRequests, requests,
		logAttrBackpressure, backpressure,
		logAttrActualRate, fmt.Sprintf("%.1f", rate),
		logAttrElapsed, elapsed.Round(time.Millisecond).String())
}

func (s *Simulation) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Simulation) logError(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}
