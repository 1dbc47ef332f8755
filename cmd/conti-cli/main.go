package main

import (
	"context"
	"os"

	"conti/internal/backend"
	"conti/internal/cli"
	"conti/internal/config"
)

func main() {
	cli.LoadEnvFile()
	cfg := config.Load()
	// Keep stdout for command output unless asked for more.
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.LogLevel = "warn"
	}
	logger := cli.SetupLogger(cfg.LogLevel)

	open := func(ctx context.Context) (*backend.BackendResult, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cli.OpenBackend(ctx, cfg, logger)
	}

	if err := cli.NewRootCommand(open, logger).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
