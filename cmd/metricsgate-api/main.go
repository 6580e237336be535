package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/metricsgate/metricsgate/internal/api"
	"github.com/metricsgate/metricsgate/internal/config"
	"github.com/metricsgate/metricsgate/internal/gateway"
	"github.com/metricsgate/metricsgate/internal/migrations"
	"github.com/metricsgate/metricsgate/internal/nlq"
	"github.com/metricsgate/metricsgate/internal/observability"
	"github.com/metricsgate/metricsgate/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("metricsgate-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	db, err := store.Open(context.Background(), store.DBConfig{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if cfg.Data.AutoMigrate {
		applied, err := migrations.NewRunner().Up(context.Background(), db, 0)
		if err != nil {
			logger.Error("schema migration failed", slog.Any("error", err))
			os.Exit(1)
		}
		if applied > 0 {
			logger.Info("applied schema migrations", slog.Int("count", applied))
		}
	}

	if cfg.Data.ImportFile != "" {
		imported, err := store.ImportFile(context.Background(), db, cfg.Data.ImportFile)
		if err != nil {
			logger.Error("data import failed", slog.String("file", cfg.Data.ImportFile), slog.Any("error", err))
			os.Exit(1)
		}
		if imported {
			logger.Info("imported seed data", slog.String("file", cfg.Data.ImportFile))
		}
	}

	planner, err := nlq.NewClient(nlq.Config{
		Mode:           nlq.Mode(cfg.AI.Mode),
		BaseURL:        cfg.AI.BaseURL,
		APIKey:         cfg.AI.APIKey,
		Model:          cfg.AI.Model,
		Temperature:    cfg.AI.Temperature,
		Timeout:        cfg.AI.Timeout,
		MaxAttempts:    cfg.AI.MaxAttempts,
		RetryBaseDelay: cfg.AI.RetryBaseDelay,
		RetryMaxDelay:  cfg.AI.RetryMaxDelay,
		SiteURL:        cfg.AI.SiteURL,
		SiteName:       cfg.AI.SiteName,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize model client", slog.Any("error", err))
		os.Exit(1)
	}

	executor := store.NewExecutor(db)
	gw := gateway.New(planner, executor, cfg.Gateway.RequestTimeout, logger)

	handler := api.NewHandler(cfg, api.Dependencies{
		Logger:            logger,
		Gateway:           gw,
		Readiness:         api.CombineReadinessChecks(api.CheckDatabase(executor.HealthCheck)),
		DependencyTimeout: time.Second,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
