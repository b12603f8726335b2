package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"gaia/internal/access"
	"gaia/internal/audit"
	"gaia/internal/booking"
	"gaia/internal/config"
	"gaia/internal/database"
	"gaia/internal/memstore"
	"gaia/internal/model"
	"gaia/internal/monitoring"
	"gaia/internal/pgstore"

	"github.com/rs/zerolog"
)

// appStore is what every backend provides.
type appStore interface {
	booking.Store
	access.StaffRepository
	SyncHalls(ctx context.Context, halls []model.Hall) error
}

// backend is the opened store plus the optional capabilities of its driver.
type backend struct {
	store    appStore
	sqlite   *database.DB
	exporter audit.TableExporter
	cleaner  audit.Cleaner
	ping     monitoring.Check
	close    func()
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.Log.Format == "json" {
		return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	}
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

func loadConfig(path string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	return cfg, newLogger(cfg), nil
}

func openBackend(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*backend, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		db, err := database.NewDB(cfg.Database.Path, logger)
		if err != nil {
			return nil, err
		}
		return &backend{
			store:    db,
			sqlite:   db,
			exporter: db,
			cleaner:  db,
			ping:     db.PingContext,
			close:    func() { _ = db.Close() },
		}, nil
	case "postgres":
		pg, err := pgstore.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return &backend{
			store:    pg,
			exporter: pg,
			cleaner:  pg,
			ping:     pg.Ping,
			close:    pg.Close,
		}, nil
	case "memory":
		logger.Warn().Msg("memory store: reservations are lost on restart")
		return &backend{store: memstore.New(), close: func() {}}, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
}

// syncHalls loads halls.yaml once into the store.
func syncHalls(ctx context.Context, cfg *config.Config, store appStore) error {
	halls, err := config.LoadHallsConfig(cfg.HallsFile)
	if err != nil {
		return err
	}
	return store.SyncHalls(ctx, halls.ModelHalls())
}

func newManager(cfg *config.Config, store appStore, notifier booking.Notifier, logger *zerolog.Logger) (*booking.Manager, error) {
	policy, err := cfg.Facility.Policy()
	if err != nil {
		return nil, fmt.Errorf("facility: %w", err)
	}
	return booking.NewManager(store, policy, notifier, booking.Options{
		StoreTimeout: cfg.Database.StoreTimeout,
		Logger:       logger,
	}), nil
}
