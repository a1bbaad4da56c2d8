package main

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	_ "github.com/lib/pq" // postgres driver for the sql and sqlx drivers

	"github.com/AntonStoeckl/library-circulation-go/circulation"
	"github.com/AntonStoeckl/library-circulation-go/circulation/sqlstore"
	"github.com/AntonStoeckl/library-circulation-go/internal/config"
)

const (
	logMsgCopyAvailable = "copy available for reservation"
	logAttrReservation  = "reservation_id"
	logAttrMember       = "member_id"
	logAttrBook         = "book_id"
)

// app holds what one CLI invocation needs.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	store  *sqlstore.Store
	engine *circulation.Engine
	out    io.Writer
	close  func() error
}

// openApp loads the configuration, opens and migrates the store and restores the engine from it.
func openApp(ctx context.Context, envFile, catalogFile string, out, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	logger := cfg.NewLogger(logOut)

	store, closeDB, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, store: store, out: out, close: closeDB}

	if err = store.Migrate(ctx); err != nil {
		return nil, errors.Join(err, a.close())
	}

	metadata, err := loadCatalog(catalogFile)
	if err != nil {
		return nil, errors.Join(err, a.close())
	}

	options := append(cfg.EngineOptions(),
		circulation.WithStore(store),
		circulation.WithLogger(logger),
		circulation.WithMetadataProvider(metadata),
		circulation.WithNotifier(circulation.NotifierFunc(a.copyAvailable)),
	)

	if a.engine, err = circulation.NewEngine(options...); err != nil {
		return nil, errors.Join(err, a.close())
	}

	if err = a.engine.Restore(ctx); err != nil {
		return nil, errors.Join(err, a.close())
	}

	return a, nil
}

// copyAvailable is the notifier of the CLI, delivery is left to whoever reads the log.
func (a *app) copyAvailable(_ context.Context, reservation circulation.Reservation) error {
	a.logger.Info(logMsgCopyAvailable,
		logAttrReservation, reservation.ID,
		logAttrMember, reservation.MemberID,
		logAttrBook, reservation.BookID)

	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*sqlstore.Store, func() error, error) {
	storeOptions := []sqlstore.Option{sqlstore.WithLogger(logger)}

	switch cfg.Driver {
	case config.DriverPGX:
		poolConfig, err := cfg.PGXPoolConfig()
		if err != nil {
			return nil, nil, err
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, nil, err
		}

		store, err := sqlstore.NewFromPGXPool(pool, storeOptions...)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}

		return store, func() error { pool.Close(); return nil }, nil

	case config.DriverPostgres:
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, nil, err
		}

		store, err := sqlstore.NewFromSQLDB(db, storeOptions...)
		if err != nil {
			return nil, nil, errors.Join(err, db.Close())
		}

		return store, db.Close, nil

	case config.DriverSQLX:
		db, err := sqlx.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, nil, err
		}

		store, err := sqlstore.NewFromSQLX(db, storeOptions...)
		if err != nil {
			return nil, nil, errors.Join(err, db.Close())
		}

		return store, db.Close, nil

	default:
		store, err := sqlstore.OpenSQLite(cfg.SQLitePath, storeOptions...)
		if err != nil {
			return nil, nil, err
		}

		return store, store.Close, nil
	}
}

// loadCatalog reads a JSON object of book id to metadata. An empty path yields an empty catalog.
func loadCatalog(path string) (circulation.StaticMetadata, error) {
	metadata := circulation.StaticMetadata{}
	if path == "" {
		return metadata, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err = jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &metadata); err != nil {
		return nil, err
	}

	return metadata, nil
}

func (a *app) print(v any) error {
	encoder := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(a.out)
	encoder.SetIndent("", "  ")

	return encoder.Encode(v)
}
