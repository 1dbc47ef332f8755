package backend

import (
	"context"
	"errors"
	"fmt"

	"conti/internal/amqp"
	"conti/internal/ledger"
	applog "conti/internal/log"
	"conti/internal/services"
	"conti/internal/storage"
	"conti/internal/storage/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *applog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *applog.Logger) Factory {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &DefaultFactory{
		logger: logger.WithComponent(applog.ComponentBackend),
	}
}

// CreateBackend opens the store, connects AMQP when configured and wires the services.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var store Store
	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		store = repo
		f.logger.InfoContext(ctx, "Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	case MemoryBackend:
		store = memory.New()
		f.logger.InfoContext(ctx, "Initialized memory backend")
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}

	// AMQP is optional: without it events are only logged and repairs go to
	// the store's outbox.
	var client *amqp.Client
	var publisher services.Publisher
	if config.AMQPURL != "" {
		c, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)
		if err != nil {
			f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without messaging", applog.FieldError, err)
		} else {
			client, publisher = c, c
			f.logger.InfoContext(ctx, "Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	l := ledger.New(store, config.Ledger, f.logger)
	txs := services.NewTransactionService(store, l, publisher, f.logger).WithRepairOutbox(store)

	return &BackendResult{
		Store:        store,
		Ledger:       l,
		Transactions: txs,
		Catalog:      services.NewCatalogService(store, f.logger),
		Stats:        services.NewStatsService(store),
		Reconciler:   services.NewReconciler(l, publisher, store, f.logger),
		AMQP:         client,
		Cleanup: func() error {
			var errs []error
			if client != nil {
				errs = append(errs, client.Close())
			}
			errs = append(errs, store.Close())
			return errors.Join(errs...)
		},
	}, nil
}
