package main

import (
	"context"
	"errors"
	"os"
	"time"

	"conti/internal/cli"
	applog "conti/internal/log"
	"conti/internal/services"
	"conti/internal/sheets"
	gsheet "conti/internal/sheets/google"
	"conti/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	logger.Info("Starting conti-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.AMQPURL == "" {
		logger.Error("conti-worker needs AMQP_URL")
		os.Exit(1)
	}

	res, err := cli.OpenBackend(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	if res.AMQP == nil {
		logger.Error("Broker unreachable, nothing to consume", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		_ = res.Cleanup()
		os.Exit(1)
	}

	var journal sheets.JournalWriter
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gsheet.New(context.Background(), gsheet.Config{
			SpreadsheetID: cfg.GoogleSpreadsheetID,
			SheetName:     cfg.GoogleSheetName,
		}, logger)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", applog.FieldError, err)
			_ = res.Cleanup()
			os.Exit(1)
		}
		journal = client
		logger.Info("Google Sheets journal enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	processor := services.NewRepairProcessor(res.Store, res.Ledger, services.RepairProcessorConfig{
		PollInterval: cfg.RepairPollInterval,
		BatchSize:    cfg.RepairBatchSize,
		MaxRetries:   cfg.RepairMaxRetries,
	}, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := processor.Stop(shutdownCtx); err != nil {
			logger.Warn("Repair processor did not stop cleanly", applog.FieldError, err)
		}
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", applog.FieldError, err)
		}
	})

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start repair processor", applog.FieldError, err)
		os.Exit(1)
	}

	w := worker.New(journal, res.Reconciler, logger).WithRepairOutbox(res.Store, cfg.RepairMaxRetries)
	go func() {
		if err := res.AMQP.Consume(ctx, w.Handle); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", applog.FieldError, err)
		}
	}()

	cli.WaitForShutdown(ctx, done)
}
