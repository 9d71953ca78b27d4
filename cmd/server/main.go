package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/JonMunkholm/importer/internal/config"
	"github.com/JonMunkholm/importer/internal/core"
	"github.com/JonMunkholm/importer/internal/core/modules"
	"github.com/JonMunkholm/importer/internal/logging"
	"github.com/JonMunkholm/importer/internal/notify"
	"github.com/JonMunkholm/importer/internal/web"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg)

	encoding, err := core.ParseEncoding(cfg.Import.LegacyEncoding)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := openPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	modules.Register(pool)
	slog.Info("modules registered", "count", core.ModuleCount())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var metrics *core.Metrics
	if cfg.Metrics.Enabled {
		metrics = core.NewMetrics(reg)
		core.RegisterPoolMetrics(reg, core.PgxPoolStats(pool))
	}

	var notifier core.Notifier
	if cfg.Notify.NATSURL != "" {
		nc, err := notify.Connect(cfg.Notify.NATSURL)
		if err != nil {
			return err
		}
		defer nc.Drain()
		notifier = notify.New(nc, cfg.Notify.SubjectPrefix)
		slog.Info("publishing import events to nats", "subject_prefix", cfg.Notify.SubjectPrefix)
	}

	service := core.NewService(core.ServiceOptions{
		MaxFileSize:  cfg.Import.MaxFileSize,
		JobRetention: cfg.Import.JobRetention,
		Limiter:      core.NewLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime),
		Parse:        core.ParseOptions{Encoding: encoding},
		Metrics:      metrics,
		Notifier:     notifier,
	})
	if cfg.Metrics.Enabled {
		service.RegisterGauges(reg)
	}

	if err := service.StartSweeper(ctx, cfg.Import.SweepSchedule); err != nil {
		return err
	}
	defer service.StopSweeper()

	opts := web.Options{DB: pool}
	if cfg.Metrics.Enabled {
		opts.Gatherer = reg
		opts.Registerer = reg
	}
	server := web.NewServer(service, cfg, opts)

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case sig := <-sigCh:
		slog.Info("shutting down...", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	stats := service.Stats()
	slog.Info("waiting for running imports", "jobs", stats.Jobs)
	if err := service.Wait(shutdownCtx); err != nil {
		slog.Warn("imports did not finish in time", "error", err)
	} else {
		slog.Info("all imports finished")
	}
	return nil
}

// openPool connects to PostgreSQL with the configured pool limits.
func openPool(ctx context.Context, dc config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dc.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(dc.MaxConns)
	poolConfig.MinConns = int32(dc.MinConns)
	poolConfig.MaxConnLifetime = dc.MaxConnLifetime
	poolConfig.MaxConnIdleTime = dc.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(dc.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return pool, nil
}
