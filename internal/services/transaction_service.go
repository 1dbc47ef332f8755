package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"conti/internal/amqp"
	"conti/internal/core"
	"conti/internal/ledger"
	applog "conti/internal/log"
)

// ErrLedgerOutOfSync means the transaction was saved but its balance effect
// was not (fully) applied.
var ErrLedgerOutOfSync = errors.New("transaction saved but balances not updated")

// followUpTimeout bounds the ledger and repair steps that run after a delete
// has been committed.
const followUpTimeout = 30 * time.Second

// TransactionStore persists transactions scoped by owner.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx core.Transaction) error
	UpdateTransaction(ctx context.Context, tx core.Transaction) error
	DeleteTransaction(ctx context.Context, ownerUID, id string) error
	GetTransaction(ctx context.Context, ownerUID, id string) (core.Transaction, error)
	// ListTransactions returns all types when txType is empty, newest first.
	ListTransactions(ctx context.Context, ownerUID string, txType core.TransactionType) ([]core.Transaction, error)
	ListTransactionsBetween(ctx context.Context, ownerUID string, from, to core.Date) ([]core.Transaction, error)
}

// BalanceApplier is the ledger as seen by the mutator.
type BalanceApplier interface {
	ApplyAdjustments(ctx context.Context, ownerUID string, adjustments []core.Adjustment) error
}

// Publisher sends messages to the worker queue.
type Publisher interface {
	Publish(ctx context.Context, env *amqp.Envelope) error
}

// Entry holds the fields shared by every transaction type.
type Entry struct {
	Date    core.Date
	Comment string
}

// TransactionService creates, edits and deletes transactions and keeps
// balances in step with them.
type TransactionService struct {
	store     TransactionStore
	ledger    BalanceApplier
	publisher Publisher
	repairs   *Reconciler
	logger    *applog.Logger

	now   func() time.Time
	newID func() string
}

// NewTransactionService wires the mutator. publisher may be nil, in which case
// events are only logged and repairs need an outbox.
func NewTransactionService(store TransactionStore, balances BalanceApplier, publisher Publisher, logger *applog.Logger) *TransactionService {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &TransactionService{
		store:     store,
		ledger:    balances,
		publisher: publisher,
		repairs:   NewReconciler(balances, publisher, nil, logger),
		logger:    logger.WithComponent(applog.ComponentTransaction),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// WithRepairOutbox stores ledger repairs locally when they cannot be published.
func (s *TransactionService) WithRepairOutbox(outbox RepairStore) *TransactionService {
	s.repairs.outbox = outbox
	return s
}

func (s *TransactionService) CreateExpense(ctx context.Context, ownerUID string, in core.ExpenseInput, entry Entry) (*core.Transaction, error) {
	return s.create(ctx, ownerUID, in, entry)
}

func (s *TransactionService) CreateIncome(ctx context.Context, ownerUID string, in core.IncomeInput, entry Entry) (*core.Transaction, error) {
	return s.create(ctx, ownerUID, in, entry)
}

func (s *TransactionService) CreateTransfer(ctx context.Context, ownerUID string, in core.TransferInput, entry Entry) (*core.Transaction, error) {
	return s.create(ctx, ownerUID, in, entry)
}

func (s *TransactionService) CreateExchange(ctx context.Context, ownerUID string, in core.ExchangeInput, entry Entry) (*core.Transaction, error) {
	return s.create(ctx, ownerUID, in, entry)
}

func (s *TransactionService) create(ctx context.Context, ownerUID string, in core.Input, entry Entry) (*core.Transaction, error) {
	details, err := in.Build()
	if err != nil {
		return nil, err
	}
	tx := core.Transaction{
		ID:        s.newID(),
		OwnerUID:  strings.TrimSpace(ownerUID),
		Date:      entry.Date,
		Comment:   strings.TrimSpace(entry.Comment),
		CreatedAt: s.now().UTC(),
		Details:   details,
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		s.logger.LogError(ctx, "Failed to save transaction", err, applog.OpCreate,
			applog.NewFields().WithTransaction(tx.OwnerUID, tx.ID, string(tx.Type())))
		return nil, fmt.Errorf("save transaction: %w", err)
	}

	// The record exists from here on, so export sees it even if balances lag.
	defer s.publish(ctx, amqp.NewTransactionEvent(amqp.ActionCreate, tx))

	if err := s.applyLedger(ctx, tx, applog.OpCreate, tx.Adjustments()); err != nil {
		return &tx, err
	}

	s.logger.InfoContext(ctx, "Transaction created",
		applog.FieldOwnerUID, tx.OwnerUID,
		applog.FieldTransactionID, tx.ID,
		applog.FieldTransactionType, tx.Type())
	return &tx, nil
}

// UpdateTransaction replaces existing with the edited fields. The old effect
// is reversed and the new one applied in a single ledger call, so unchanged
// legs net to nothing.
func (s *TransactionService) UpdateTransaction(ctx context.Context, existing core.Transaction, in core.Input, entry Entry) (*core.Transaction, error) {
	details, err := in.Build()
	if err != nil {
		return nil, err
	}
	updated := existing
	updated.Details = details
	updated.Date = entry.Date
	updated.Comment = strings.TrimSpace(entry.Comment)
	if err := updated.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.UpdateTransaction(ctx, updated); err != nil {
		s.logger.LogError(ctx, "Failed to update transaction", err, applog.OpUpdate,
			applog.NewFields().WithTransaction(updated.OwnerUID, updated.ID, string(updated.Type())))
		return nil, fmt.Errorf("update transaction: %w", err)
	}

	defer s.publish(ctx, amqp.NewTransactionEvent(amqp.ActionUpdate, updated))

	adjustments := append(existing.ReverseAdjustments(), updated.Adjustments()...)
	if err := s.applyLedger(ctx, updated, applog.OpUpdate, adjustments); err != nil {
		return &updated, err
	}

	s.logger.InfoContext(ctx, "Transaction updated",
		applog.FieldOwnerUID, updated.OwnerUID,
		applog.FieldTransactionID, updated.ID,
		applog.FieldTransactionType, updated.Type())
	return &updated, nil
}

// DeleteTransaction removes existing and reverses its effect. If the reversal
// fails after the record is gone, the unapplied adjustments are queued as a
// ledger repair and the delete still succeeds.
func (s *TransactionService) DeleteTransaction(ctx context.Context, existing core.Transaction) error {
	reverse := existing.ReverseAdjustments()

	if err := s.store.DeleteTransaction(ctx, existing.OwnerUID, existing.ID); err != nil {
		s.logger.LogError(ctx, "Failed to delete transaction", err, applog.OpDelete,
			applog.NewFields().WithTransaction(existing.OwnerUID, existing.ID, string(existing.Type())))
		return fmt.Errorf("delete transaction: %w", err)
	}

	// The record is gone: the reversal or its repair must land even if the
	// caller stops waiting.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), followUpTimeout)
	defer cancel()

	if err := s.ledger.ApplyAdjustments(ctx, existing.OwnerUID, reverse); err != nil {
		pending := ledger.Aggregate(reverse)
		var agg *ledger.AggregateError
		if errors.As(err, &agg) {
			pending = agg.FailedAdjustments()
		}
		s.logger.LogError(ctx, "Balance reversal failed after delete, queueing repair", err, applog.OpReconcile,
			applog.NewFields().
				WithTransaction(existing.OwnerUID, existing.ID, string(existing.Type())).
				With(applog.FieldAdjustments, len(pending)))
		repair := core.Repair{
			OwnerUID:      existing.OwnerUID,
			TransactionID: existing.ID,
			Adjustments:   pending,
			Reason:        err.Error(),
		}
		if qErr := s.repairs.Enqueue(ctx, repair); qErr != nil {
			s.logger.LogError(ctx, "Ledger repair could not be queued, balances need manual reconcile", qErr, applog.OpReconcile,
				applog.NewFields().WithTransaction(existing.OwnerUID, existing.ID, string(existing.Type())))
		}
	}

	s.publish(ctx, amqp.NewTransactionEvent(amqp.ActionDelete, existing))

	s.logger.InfoContext(ctx, "Transaction deleted",
		applog.FieldOwnerUID, existing.OwnerUID,
		applog.FieldTransactionID, existing.ID,
		applog.FieldTransactionType, existing.Type())
	return nil
}

func (s *TransactionService) GetTransaction(ctx context.Context, ownerUID, id string) (core.Transaction, error) {
	return s.store.GetTransaction(ctx, ownerUID, id)
}

func (s *TransactionService) ListTransactions(ctx context.Context, ownerUID string, txType core.TransactionType) ([]core.Transaction, error) {
	if txType != "" && !txType.IsValid() {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidType, txType)
	}
	return s.store.ListTransactions(ctx, ownerUID, txType)
}

func (s *TransactionService) applyLedger(ctx context.Context, tx core.Transaction, op string, adjustments []core.Adjustment) error {
	if err := s.ledger.ApplyAdjustments(ctx, tx.OwnerUID, adjustments); err != nil {
		s.logger.LogError(ctx, "Transaction saved but balances not updated", err, op,
			applog.NewFields().WithTransaction(tx.OwnerUID, tx.ID, string(tx.Type())))
		return fmt.Errorf("%w: %w", ErrLedgerOutOfSync, err)
	}
	return nil
}

func (s *TransactionService) publish(ctx context.Context, env *amqp.Envelope) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "AMQP publisher not available, skipping message", "kind", env.Kind)
		return
	}
	if err := s.publisher.Publish(ctx, env); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish message",
			"kind", env.Kind,
			applog.FieldError, err)
	}
}
