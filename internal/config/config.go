package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/AntonStoeckl/library-circulation-go/circulation"
)

const (
	EnvDBDriver       = "CIRCULATION_DB_DRIVER"
	EnvDSN            = "CIRCULATION_DSN"
	EnvSQLitePath     = "CIRCULATION_SQLITE_PATH"
	EnvLockTimeout    = "CIRCULATION_LOCK_TIMEOUT"
	EnvReservationTTL = "CIRCULATION_RESERVATION_TTL"
	EnvRenewalPolicy  = "CIRCULATION_RENEWAL_POLICY"
	EnvLogLevel       = "LOG_LEVEL"
	EnvLogFormat      = "LOG_FORMAT"
)

// Driver selects how the durable store connects to its database.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPGX      Driver = "pgx"      // pgxpool.Pool
	DriverPostgres Driver = "postgres" // database/sql with lib/pq
	DriverSQLX     Driver = "sqlx"     // sqlx with lib/pq
)

const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

const (
	defaultSQLitePath     = "circulation.db"
	defaultLockTimeout    = 250 * time.Millisecond
	defaultReservationTTL = 7 * 24 * time.Hour
)

var (
	// ErrUnknownDriver is returned for an unsupported CIRCULATION_DB_DRIVER.
	ErrUnknownDriver = errors.New("unknown database driver")

	// ErrMissingDSN is returned when a Postgres driver is selected without CIRCULATION_DSN.
	ErrMissingDSN = errors.New("database dsn is required for postgres drivers")

	// ErrInvalidDuration is returned for a duration that does not parse or is not positive.
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrUnknownLogLevel is returned for an unsupported LOG_LEVEL.
	ErrUnknownLogLevel = errors.New("unknown log level")

	// ErrUnknownLogFormat is returned for an unsupported LOG_FORMAT.
	ErrUnknownLogFormat = errors.New("unknown log format")
)

// Config is the runtime configuration.
type Config struct {
	Driver         Driver
	DSN            string
	SQLitePath     string
	LockTimeout    time.Duration
	ReservationTTL time.Duration
	RenewalPolicy  circulation.RenewalPolicy
	LogLevel       slog.Level
	LogFormat      string
}

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Load reads the given .env files (missing files are skipped) and then the process environment.
// Variables from the environment win over those from files, earlier files win over later ones.
func Load(envFiles ...string) (Config, error) {
	fileValues := make(map[string]string)

	for i := len(envFiles) - 1; i >= 0; i-- {
		values, err := godotenv.Read(envFiles[i])
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return Config{}, fmt.Errorf("reading %s: %w", envFiles[i], err)
		}

		for key, value := range values {
			fileValues[key] = value
		}
	}

	return FromLookup(func(key string) (string, bool) {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}

		value, ok := fileValues[key]

		return value, ok
	})
}

// FromLookup builds a Config from the values lookup returns, applying defaults for unset keys.
func FromLookup(lookup LookupFunc) (Config, error) {
	get := func(key, fallback string) string {
		if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}

		return fallback
	}

	cfg := Config{
		Driver:     Driver(strings.ToLower(get(EnvDBDriver, string(DriverSQLite)))),
		DSN:        get(EnvDSN, ""),
		SQLitePath: get(EnvSQLitePath, defaultSQLitePath),
		LogFormat:  strings.ToLower(get(EnvLogFormat, LogFormatText)),
	}

	switch cfg.Driver {
	case DriverSQLite:
	case DriverPGX, DriverPostgres, DriverSQLX:
		if cfg.DSN == "" {
			return Config{}, ErrMissingDSN
		}
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}

	var err error

	if cfg.LockTimeout, err = parseDuration(EnvLockTimeout, get(EnvLockTimeout, ""), defaultLockTimeout); err != nil {
		return Config{}, err
	}

	if cfg.ReservationTTL, err = parseDuration(EnvReservationTTL, get(EnvReservationTTL, ""), defaultReservationTTL); err != nil {
		return Config{}, err
	}

	if cfg.RenewalPolicy, err = circulation.ParseRenewalPolicy(get(EnvRenewalPolicy, string(circulation.BlockWhenReserved))); err != nil {
		return Config{}, err
	}

	if err = cfg.LogLevel.UnmarshalText([]byte(get(EnvLogLevel, "info"))); err != nil {
		return Config{}, errors.Join(ErrUnknownLogLevel, err)
	}

	switch cfg.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownLogFormat, cfg.LogFormat)
	}

	return cfg, nil
}

// parseDuration accepts Go durations ("90s", "36h") and whole days ("7d").
func parseDuration(key, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}

	var d time.Duration
	var err error

	if days, found := strings.CutSuffix(value, "d"); found {
		d, err = time.ParseDuration(days + "h")
		d *= 24
	} else {
		d, err = time.ParseDuration(value)
	}

	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidDuration, key, value)
	}

	return d, nil
}

// EngineOptions returns the engine options this configuration implies.
func (c Config) EngineOptions() []circulation.Option {
	return []circulation.Option{
		circulation.WithLockTimeout(c.LockTimeout),
		circulation.WithReservationTTL(c.ReservationTTL),
		circulation.WithRenewalPolicy(c.RenewalPolicy),
	}
}
