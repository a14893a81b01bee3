package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/amineprimesmr/myfidpass/internal/config"
	"github.com/amineprimesmr/myfidpass/internal/infra"
	"github.com/amineprimesmr/myfidpass/internal/routes"
)

// openServices connects to the configured store and wires the services. The
// memory driver is rejected because its state would vanish with the command.
func openServices(ctx context.Context, cfg config.Config, logger *slog.Logger) (*routes.Services, func(), error) {
	deps := routes.Deps{Cfg: cfg, Logger: logger}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, pool.Close)
		if err := infra.MigratePostgres(ctx, pool); err != nil {
			cleanup()
			return nil, func() {}, err
		}
		deps.DB = pool
	case config.DriverSQLite:
		db, err := infra.NewSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, func() { db.Close() })
		deps.SQL = db
	default:
		return nil, cleanup, fmt.Errorf("STORE_DRIVER=%s has no persistent state to operate on", cfg.StoreDriver)
	}

	if cfg.RedisURL != "" {
		cache, err := infra.NewRedisClient(ctx, cfg.RedisURL, "passctl")
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		closers = append(closers, func() { cache.Close() })
		deps.Cache = cache
	}

	svcs, err := routes.NewServices(deps)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return svcs, cleanup, nil
}
