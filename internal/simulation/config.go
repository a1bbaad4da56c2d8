package simulation

import (
	"errors"
	"fmt"
	"time"
)

const (
	defaultRate          = 50
	defaultWorkers       = 8
	defaultMembers       = 200
	defaultBooks         = 100
	defaultCopiesPerBook = 2
)

// ErrInvalidConfig is returned for a Config with non-positive sizes.
var ErrInvalidConfig = errors.New("invalid simulation config")

// Config holds the simulation parameters.
type Config struct {
	Rate          int           // scenarios per second
	Workers       int           // concurrent workers
	Duration      time.Duration // 0 runs until the context is done
	Members       int
	Books         int
	CopiesPerBook int
	Seed          int64
}

// DefaultConfig returns a small configuration suitable for a laptop.
func DefaultConfig() Config {
	return Config{
		Rate:          defaultRate,
		Workers:       defaultWorkers,
		Members:       defaultMembers,
		Books:         defaultBooks,
		CopiesPerBook: defaultCopiesPerBook,
		Seed:          time.Now().UnixNano(),
	}
}

func (c Config) validate() error {
	switch {
	case c.Rate < 1:
		return fmt.Errorf("%w: rate must be positive", ErrInvalidConfig)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case c.Members < 1 || c.Books < 1 || c.CopiesPerBook < 1:
		return fmt.Errorf("%w: members, books and copies must be positive", ErrInvalidConfig)
	case c.Duration < 0:
		return fmt.Errorf("%w: duration must not be negative", ErrInvalidConfig)
	}

	return nil
}

// batching spreads high rates over 10 batches per second, timers are too coarse for one tick per scenario.
func (c Config) batching() (batchSize int, interval time.Duration) {
	if c.Rate < 50 {
		return 1, time.Second / time.Duration(c.Rate)
	}

	return c.Rate / 10, 100 * time.Millisecond
}
