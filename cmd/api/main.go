package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/amineprimesmr/myfidpass/internal/config"
	"github.com/amineprimesmr/myfidpass/internal/infra"
	"github.com/amineprimesmr/myfidpass/internal/logging"
	"github.com/amineprimesmr/myfidpass/internal/routes"
	"github.com/amineprimesmr/myfidpass/internal/seed"
	"github.com/amineprimesmr/myfidpass/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.AppName)

	ctx := context.Background()

	var (
		db     *pgxpool.Pool
		sqlite *sql.DB
		cache  *redis.Client
	)
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := infra.MigratePostgres(ctx, db); err != nil {
			logger.Error("migrate postgres", "error", err)
			os.Exit(1)
		}
	case config.DriverSQLite:
		sqlite, err = infra.NewSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Error("open sqlite", "error", err)
			os.Exit(1)
		}
		defer sqlite.Close()
	default:
		logger.Warn("using in-memory store; data is lost on restart")
	}

	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL, "myfidpass-api")
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	}

	srv, err := server.New(routes.Deps{Cfg: cfg, DB: db, SQL: sqlite, Cache: cache, Logger: logger})
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	if cfg.SeedFile != "" {
		fx, err := seed.Load(cfg.SeedFile)
		if err != nil {
			logger.Error("load seed file", "error", err)
			os.Exit(1)
		}
		svcs := srv.Services()
		res, err := seed.Apply(ctx, svcs.Tenants, svcs.Loyalty, fx, logger)
		if err != nil {
			logger.Error("apply seed", "error", err)
			os.Exit(1)
		}
		for tenantID, key := range res.APIKeys {
			logger.Info("seeded tenant api key", "tenant_id", tenantID, "api_key", key)
		}
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
