package backend

import (
	"context"

	"conti/internal/amqp"
	"conti/internal/ledger"
	"conti/internal/services"
)

// Store is everything the services need from one data backend.
type Store interface {
	ledger.BalanceStore
	services.TransactionStore
	services.CatalogStore
	services.RepairStore
	Close() error
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult holds the wired services of one backend.
type BackendResult struct {
	Store        Store
	Ledger       *ledger.Ledger
	Transactions *services.TransactionService
	Catalog      *services.CatalogService
	Stats        *services.StatsService
	Reconciler   *services.Reconciler
	// AMQP is nil when messaging is disabled or unreachable.
	AMQP    *amqp.Client
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	SQLiteDBPath string

	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	Ledger ledger.Config
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
