package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"conti/internal/cli"
	apphttp "conti/internal/http"
	applog "conti/internal/log"
	"conti/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	res, err := cli.OpenBackend(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	// Without a broker no worker drains the repair outbox, so the server does.
	var processor *services.RepairProcessor
	if res.AMQP == nil {
		processor = services.NewRepairProcessor(res.Store, res.Ledger, services.RepairProcessorConfig{
			PollInterval: cfg.RepairPollInterval,
			BatchSize:    cfg.RepairBatchSize,
			MaxRetries:   cfg.RepairMaxRetries,
		}, logger)
	}

	srv := apphttp.NewServer(apphttp.ServerConfig{
		Addr:              ":" + cfg.Port,
		RequestsPerMinute: 60,
		CacheSize:         cfg.CacheSize,
		CacheTTL:          cfg.CacheTTL,
	}, res.Transactions, res.Catalog, res.Stats, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		if processor != nil {
			if err := processor.Stop(shutdownCtx); err != nil {
				logger.Warn("Repair processor did not stop cleanly", applog.FieldError, err)
			}
		}
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", applog.FieldError, err)
		}
	})

	if processor != nil {
		if err := processor.Start(ctx); err != nil {
			logger.Error("Failed to start repair processor", applog.FieldError, err)
			os.Exit(1)
		}
	}

	logger.Info("Starting conti server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
