// Package main initializes and runs the Norns experiment assignment service.
//
// It is the composition root: it loads configuration, opens the record store,
// optionally connects Redis, wires the assignment engine into the HTTP API and
// runs the API and observability servers until a shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rafaeljc/norns/internal/cache"
	"github.com/rafaeljc/norns/internal/config"
	"github.com/rafaeljc/norns/internal/database"
	"github.com/rafaeljc/norns/internal/experiment"
	"github.com/rafaeljc/norns/internal/identity"
	"github.com/rafaeljc/norns/internal/logger"
	"github.com/rafaeljc/norns/internal/observability"
	"github.com/rafaeljc/norns/internal/store"
	"github.com/rafaeljc/norns/internal/webapi"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

// run executes the service lifecycle.
func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	appLog := logger.New(&cfg.App)
	slog.SetDefault(appLog)
	cfg.LogConfig(appLog)

	// Cancelled on shutdown; stops the background monitors.
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), appLog))
	defer cancel()

	// -------------------------------------------------------------------------
	// 2. Infrastructure Setup
	// -------------------------------------------------------------------------
	var (
		records  store.Repository
		checkers []observability.Checker
	)

	switch cfg.Database.Driver {
	case config.DriverSQLite:
		sqlite, err := store.NewSQLiteStore(ctx, cfg.Database.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open sqlite store: %w", err)
		}
		defer sqlite.Close()

		records = sqlite
		checkers = append(checkers, observability.NewCheckerFunc("sqlite", sqlite.Ping))
	default:
		pool, err := database.NewPostgresPool(ctx, &cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		defer pool.Close()

		pg := store.NewPostgresStore(pool)
		records = pg
		checkers = append(checkers, observability.NewCheckerFunc("postgres", pg.Ping))
		go database.RunPoolMonitor(ctx, pool, cfg.Observability.MonitorInterval)
	}

	// Redis is optional: without it sticky tags, principal bindings and admin routes are off.
	var tags *cache.RedisStore
	if cfg.Redis.IsConfigured() {
		client, err := cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		tags = cache.NewRedisStore(client, cfg.Redis.KeyPrefix)
		defer tags.Close()

		checkers = append(checkers, observability.NewCheckerFunc("redis", tags.Ping))
		go cache.RunPoolMonitor(ctx, client, cfg.Observability.MonitorInterval)
	} else {
		appLog.Warn("redis not configured, sticky tags and principal bindings are disabled")
	}

	experiments, err := cache.NewExperimentCache(records, cfg.Experiment.CacheCapacity, cfg.Experiment.CacheTTL)
	if err != nil {
		return err
	}
	defer experiments.Close()
	go experiments.RunMetricsCollector(ctx, cfg.Observability.MonitorInterval)

	// -------------------------------------------------------------------------
	// 3. Wiring (Dependency Injection)
	// -------------------------------------------------------------------------
	resolver := identity.NewResolver(experiments, tags, appLog)
	engine := experiment.NewEngine(experiments, resolver, tags, experiment.Options{
		SkewThreshold: cfg.Experiment.SkewThreshold,
	}, appLog)

	skipAuth := cfg.HTTP.APIKeyHash == ""
	if skipAuth {
		appLog.Warn("admin API key hash not set, admin routes are unauthenticated")
	}
	api := webapi.NewAPIWithConfig(engine, experiments, tags, &cfg.Experiment, cfg.HTTP.APIKeyHash, skipAuth, appLog)

	// -------------------------------------------------------------------------
	// 4. Servers
	// -------------------------------------------------------------------------
	obs := observability.NewServer(appLog, &cfg.App, &cfg.Observability, checkers...)
	if err := obs.Start(); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:           api.Router,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		MaxHeaderBytes:    cfg.HTTP.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		appLog.Info("starting http server", slog.String("addr", srv.Addr), slog.Bool("tls", cfg.HTTP.TLSEnabled))

		var err error
		if cfg.HTTP.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.HTTP.TLSCert, cfg.HTTP.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server failed: %w", err)
		}
	}()

	// -------------------------------------------------------------------------
	// 5. Graceful Shutdown
	// -------------------------------------------------------------------------
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		appLog.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	// In-flight requests flush their cycles before the stores close.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("http server shutdown failed", slog.String("error", err.Error()))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		appLog.Error("observability server shutdown failed", slog.String("error", err.Error()))
	}
	cancel()

	appLog.Info("service exited successfully")
	return nil
}
