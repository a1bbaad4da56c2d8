package circulation

import (
	"errors"
	"fmt"
	"time"
)

const (
	defaultLockTimeout    = 250 * time.Millisecond
	defaultReservationTTL = 7 * 24 * time.Hour
)

var (
	// ErrNonPositiveLockTimeout is returned when WithLockTimeout is given a duration <= 0.
	ErrNonPositiveLockTimeout = errors.New("lock timeout must be positive")

	// ErrNonPositiveReservationTTL is returned when WithReservationTTL is given a duration <= 0.
	ErrNonPositiveReservationTTL = errors.New("reservation ttl must be positive")

	// ErrUnknownRenewalPolicy is returned for a RenewalPolicy other than the known ones.
	ErrUnknownRenewalPolicy = errors.New("unknown renewal policy")

	// ErrNilClock is returned when WithClock is given a nil func.
	ErrNilClock = errors.New("clock must not be nil")
)

// RenewalPolicy decides whether a loan may be renewed while other members wait for the book.
type RenewalPolicy string

const (
	// BlockWhenReserved rejects a renewal with ErrReservationPending while another member
	// holds an eligible reservation on the book.
	BlockWhenReserved RenewalPolicy = "block_when_reserved"

	// AllowWhenReserved renews regardless of the queue, reservations stay queued.
	AllowWhenReserved RenewalPolicy = "allow_when_reserved"
)

// ParseRenewalPolicy converts a configuration value into a RenewalPolicy.
func ParseRenewalPolicy(value string) (RenewalPolicy, error) {
	switch policy := RenewalPolicy(value); policy {
	case BlockWhenReserved, AllowWhenReserved:
		return policy, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRenewalPolicy, value)
	}
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine) error

// WithStore sets the Store commits are persisted to. The default is a fresh MemoryStore.
func WithStore(store Store) Option {
	return func(e *Engine) error {
		if store == nil {
			return ErrNilStore
		}

		e.store = store

		return nil
	}
}

// WithLogger sets the logger for the Engine.
//
// Info level: completed and rejected operations with their duration
// Warn level: failed notifications and sweeps
// Error level: store failures and consistency violations.
func WithLogger(logger Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Engine.
func WithMetrics(collector MetricsCollector) Option {
	return func(e *Engine) error {
		e.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the Engine.
func WithTracing(collector TracingCollector) Option {
	return func(e *Engine) error {
		e.tracingCollector = collector
		return nil
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) error {
		if now == nil {
			return ErrNilClock
		}

		e.now = now

		return nil
	}
}

// WithLockTimeout bounds how long an operation waits for a per-book or per-member critical section.
// Waiting longer fails the attempt with ErrContention.
func WithLockTimeout(timeout time.Duration) Option {
	return func(e *Engine) error {
		if timeout <= 0 {
			return ErrNonPositiveLockTimeout
		}

		e.lockTimeout = timeout

		return nil
	}
}

// WithRetryOptions configures how ErrContention is retried.
func WithRetryOptions(options ...RetryOption) Option {
	return func(e *Engine) error {
		for _, option := range options {
			if err := option(&e.retry); err != nil {
				return err
			}
		}

		return nil
	}
}

// WithReservationTTL sets the lifetime of reservations created without an explicit TTL.
func WithReservationTTL(ttl time.Duration) Option {
	return func(e *Engine) error {
		if ttl <= 0 {
			return ErrNonPositiveReservationTTL
		}

		e.reservationTTL = ttl

		return nil
	}
}

// WithRenewalPolicy sets the RenewalPolicy, BlockWhenReserved by default.
func WithRenewalPolicy(policy RenewalPolicy) Option {
	return func(e *Engine) error {
		if _, err := ParseRenewalPolicy(string(policy)); err != nil {
			return err
		}

		e.renewalPolicy = policy

		return nil
	}
}

// WithReservationHolds switches holding available copies for queued members on or off (default on).
// With holds on, a Borrow fails with ErrReservationPending when all available copies are needed
// for earlier-ranked reservations, and Reserve counts copies net of active reservations.
func WithReservationHolds(enabled bool) Option {
	return func(e *Engine) error {
		e.holdForReservations = enabled
		return nil
	}
}

// WithNotifier sets the Notifier which is told when a returned copy can be offered to a waiting member.
func WithNotifier(notifier Notifier) Option {
	return func(e *Engine) error {
		e.notifier = notifier
		return nil
	}
}

// WithMetadataProvider sets the source of catalog metadata used by CatalogEntry.
func WithMetadataProvider(provider MetadataProvider) Option {
	return func(e *Engine) error {
		e.metadata = provider
		return nil
	}
}
