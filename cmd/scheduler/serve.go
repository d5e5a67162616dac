package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rezkam/mono/internal/app"
	"github.com/rezkam/mono/internal/config"
	"github.com/rezkam/mono/internal/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler's dispatch loop and periodic sweeps",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lp, logger, err := observability.InitLogger(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lp.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown logger provider", "error", err)
		}
	}()
	slog.SetDefault(logger)

	tp, err := observability.InitTracerProvider(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("init tracer provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown tracer provider", "error", err)
		}
	}()

	mp, err := observability.InitMeterProvider(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("init meter provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mp.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown meter provider", "error", err)
		}
	}()

	slog.InfoContext(ctx, "starting scheduler",
		"env", cfg.Server.Env, "instance", cfg.Server.InstanceID,
		"store", cfg.Store.Backend, "cache", cfg.Cache.Backend)

	svc, err := app.Build(ctx, cfg, time.Now, uuid.NewString, logger)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}

	health := startHealthServer(ctx, cfg.Server.HealthPort)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := health.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown health server", "error", err)
		}
	}()

	svc.Run(ctx)
	slog.InfoContext(context.Background(), "scheduler stopped")
	return nil
}
