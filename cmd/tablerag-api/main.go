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

	"github.com/tablerag/tablerag/internal/api"
	"github.com/tablerag/tablerag/internal/app"
	"github.com/tablerag/tablerag/internal/auth"
	"github.com/tablerag/tablerag/internal/config"
	"github.com/tablerag/tablerag/internal/observability"
)

func main() {
	cfg, err := config.LoadFromEnv("tablerag-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	application, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = application.Close() }()

	if _, err := application.LoadIndex(context.Background()); err != nil {
		logger.Error("failed to load knowledge base", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:            logger,
		Readiness:         api.CombineReadinessChecks(application.HealthCheck),
		DependencyTimeout: time.Second,
		Sessions:          application.Sessions,
		Schema:            application.Data,
		Entities:          application.Catalog,
		KB:                application,
	}
	if orchestrator, err := application.Orchestrator(); err != nil {
		logger.Warn("conversation endpoints disabled", slog.Any("error", err))
	} else {
		deps.Conversation = orchestrator
	}
	if builder, err := application.Builder(); err != nil {
		logger.Warn("knowledge base rebuild disabled", slog.Any("error", err))
	} else {
		deps.Rebuilder = builder
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
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
