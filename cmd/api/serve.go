package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/contract-intel/backend/internal/answer"
	"github.com/contract-intel/backend/internal/api"
	"github.com/contract-intel/backend/internal/api/handlers"
	"github.com/contract-intel/backend/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting contract intelligence API",
		zap.String("env", cfg.Server.Env),
		zap.String("index_backend", cfg.Index.Backend),
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to start services: %w", err)
	}
	defer svc.Close()

	app := api.NewApp(api.Config{
		Env:               cfg.Server.Env,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:         cfg.Server.BodyLimit,
		MaxQuestionLength: answer.MaxQuestionLength,
		RequestsPerMinute: rateLimit(cfg.RateLimit.Enabled, cfg.RateLimit.RequestsPerMinute),
		AccessLog:         true,
	}, api.Deps{
		Ingester: svc.ingestion,
		Answers:  svc.orchestrator,
		History:  historyOf(svc),
		Notifier: svc.dispatcher,
		Counters: svc.counters,
		Gatherer: svc.registry,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("address", addr))
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Server shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
	if err := svc.dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Pending notifications were dropped", zap.Error(err))
	}

	logger.Info("Server stopped")
	return nil
}

func rateLimit(enabled bool, perMinute int) int {
	if !enabled {
		return 0
	}
	return perMinute
}

// historyOf avoids handing the router a typed nil when the journal is off.
func historyOf(svc *services) handlers.History {
	if svc.journal == nil {
		return nil
	}
	return svc.journal
}
