package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/pricesync/internal/config"
	"github.com/JonMunkholm/pricesync/internal/core"
	"github.com/JonMunkholm/pricesync/internal/database"
	"github.com/JonMunkholm/pricesync/internal/filestore"
	"github.com/JonMunkholm/pricesync/internal/logging"
	"github.com/JonMunkholm/pricesync/internal/metrics"
	"github.com/JonMunkholm/pricesync/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"ingest_max_concurrent", cfg.Ingest.MaxConcurrent,
		"storage_backend", cfg.Storage.Backend,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database.URL, cfg.PoolOptions())
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(pool); err != nil {
			slog.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
		version, dirty, _ := database.MigrationVersion(pool)
		slog.Info("schema up to date", "version", version, "dirty", dirty)
	}

	files, err := filestore.New(ctx, cfg.FileStore())
	if err != nil {
		slog.Error("failed to set up file storage", "error", err)
		os.Exit(1)
	}

	var (
		m        *metrics.Metrics
		observer core.Observer
		opts     []web.Option
	)
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.MetricsLabels())
		observer = m
		opts = append(opts, web.WithMetrics(m))
	}
	opts = append(opts, web.WithReadiness(pool.Ping))

	service := core.NewService(database.NewCatalog(pool), files, cfg.CoreOptions(), observer)

	// Jobs run on their own context so an HTTP shutdown does not cut them off.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	service.Start(jobCtx)

	server := web.NewServer(service, cfg, opts...)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop taking requests first, then drain the queue.
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		health := service.QueueHealth()
		slog.Info("draining ingestion queue", "queued", health.QueueDepth, "active", health.ActiveWorkers)
		if err := service.Shutdown(shutdownCtx); err != nil {
			slog.Warn("jobs did not finish in time", "error", err)
		} else {
			slog.Info("all jobs finished")
		}
		cancelJobs()
	}()

	if err := server.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-done
}
