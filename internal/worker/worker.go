// Package worker consumes queue messages: it exports transaction events to
// the journal and re-applies ledger repairs.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"conti/internal/amqp"
	"conti/internal/core"
	applog "conti/internal/log"
	"conti/internal/sheets"
)

// RepairApplier re-applies queued balance adjustments.
type RepairApplier interface {
	Apply(ctx context.Context, repair core.Repair) error
}

// RepairOutbox keeps repairs the worker could not apply.
type RepairOutbox interface {
	SaveRepair(ctx context.Context, r core.Repair) error
}

type Worker struct {
	journal    sheets.JournalWriter
	repairs    RepairApplier
	outbox     RepairOutbox
	maxRetries int
	logger     *applog.Logger
	now        func() time.Time
}

// New builds a worker. journal may be nil, in which case events are acknowledged
// without export.
func New(journal sheets.JournalWriter, repairs RepairApplier, logger *applog.Logger) *Worker {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &Worker{
		journal: journal,
		repairs: repairs,
		logger:  logger.WithComponent(applog.ComponentWorker),
		now:     time.Now,
	}
}

// WithRepairOutbox moves failed repairs to outbox instead of requeueing them.
// A repair is marked failed once it has been tried maxRetries times.
func (w *Worker) WithRepairOutbox(outbox RepairOutbox, maxRetries int) *Worker {
	if maxRetries < 1 {
		maxRetries = 1
	}
	w.outbox = outbox
	w.maxRetries = maxRetries
	return w
}

// Handle is the amqp.Handler. A returned error requeues the message.
func (w *Worker) Handle(ctx context.Context, env *amqp.Envelope) error {
	switch env.Kind {
	case amqp.KindTransactionEvent:
		return w.handleEvent(ctx, env)
	case amqp.KindLedgerRepair:
		return w.handleRepair(ctx, env.Repair)
	default:
		// Nothing will ever handle it; requeueing would loop.
		w.logger.WarnContext(ctx, "Dropping message of unknown kind", "kind", env.Kind)
		return nil
	}
}

func (w *Worker) handleEvent(ctx context.Context, env *amqp.Envelope) error {
	ev := env.Event
	if w.journal == nil {
		w.logger.DebugContext(ctx, "No journal configured, skipping export",
			applog.FieldTransactionID, ev.Transaction.ID)
		return nil
	}

	ref, err := w.journal.Append(ctx, sheets.JournalEntry{
		Action: string(ev.Action),
		At:     env.Timestamp,
		Record: ev.Transaction,
	})
	if err != nil {
		w.logger.LogError(ctx, "Failed to export transaction", err, applog.OpExport,
			applog.NewFields().WithTransaction(ev.OwnerUID, ev.Transaction.ID, string(ev.Transaction.Type)))
		return fmt.Errorf("export transaction: %w", err)
	}

	w.logger.InfoContext(ctx, "Transaction exported",
		applog.FieldOwnerUID, ev.OwnerUID,
		applog.FieldTransactionID, ev.Transaction.ID,
		"action", ev.Action,
		applog.FieldSheetsRef, ref)
	return nil
}

func (w *Worker) handleRepair(ctx context.Context, repair *core.Repair) error {
	if w.repairs == nil {
		return fmt.Errorf("no ledger available for repair %s", repair.ID)
	}
	err := w.repairs.Apply(ctx, *repair)
	if err == nil {
		return nil
	}
	if w.outbox == nil {
		w.logger.LogError(ctx, "Ledger repair failed, requeueing", err, applog.OpReconcile,
			applog.NewFields().
				WithTransaction(repair.OwnerUID, repair.TransactionID, "").
				With(applog.FieldAdjustments, len(repair.Adjustments)))
		return fmt.Errorf("apply repair %s: %w", repair.ID, err)
	}
	return w.park(ctx, *repair, err)
}

// park records a failed attempt in the outbox. The message is acknowledged
// once the outbox holds it.
func (w *Worker) park(ctx context.Context, repair core.Repair, applyErr error) error {
	now := w.now().UTC()
	if repair.ID == "" {
		repair.ID = uuid.NewString()
	}
	if repair.CreatedAt.IsZero() {
		repair.CreatedAt = now
	}
	repair.UpdatedAt = now
	repair.Attempts++
	repair.Reason = applyErr.Error()
	repair.Status = core.RepairPending
	if repair.Attempts >= w.maxRetries {
		repair.Status = core.RepairFailed
	}

	if err := w.outbox.SaveRepair(ctx, repair); err != nil {
		w.logger.LogError(ctx, "Failed to park ledger repair, requeueing", err, applog.OpReconcile,
			applog.NewFields().WithTransaction(repair.OwnerUID, repair.TransactionID, ""))
		return fmt.Errorf("apply repair %s: %w", repair.ID, applyErr)
	}

	w.logger.WarnContext(ctx, "Ledger repair failed, moved to outbox",
		"repair_id", repair.ID,
		applog.FieldOwnerUID, repair.OwnerUID,
		applog.FieldTransactionID, repair.TransactionID,
		"attempt", repair.Attempts,
		"status", repair.Status,
		applog.FieldError, applyErr)
	return nil
}
