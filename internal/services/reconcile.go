package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"conti/internal/amqp"
	"conti/internal/core"
	"conti/internal/ledger"
	applog "conti/internal/log"
)

// ErrNoRepairQueue means a repair could neither be published nor stored.
var ErrNoRepairQueue = errors.New("no ledger repair queue available")

// RepairStore is the local outbox for ledger repairs, used when the broker
// cannot take them.
type RepairStore interface {
	// SaveRepair inserts or replaces the repair with the same ID.
	SaveRepair(ctx context.Context, r core.Repair) error
	// PendingRepairs returns pending repairs, oldest first.
	PendingRepairs(ctx context.Context, limit int) ([]core.Repair, error)
	DeleteRepair(ctx context.Context, id string) error
	// RetryFailedRepairs moves failed repairs back to pending.
	RetryFailedRepairs(ctx context.Context) (int, error)
}

// Reconciler queues and applies ledger repairs.
type Reconciler struct {
	ledger    BalanceApplier
	publisher Publisher
	outbox    RepairStore
	logger    *applog.Logger
	now       func() time.Time
}

// NewReconciler needs at least one of publisher and outbox to queue repairs.
func NewReconciler(balances BalanceApplier, publisher Publisher, outbox RepairStore, logger *applog.Logger) *Reconciler {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &Reconciler{
		ledger:    balances,
		publisher: publisher,
		outbox:    outbox,
		logger:    logger.WithComponent(applog.ComponentLedger),
		now:       time.Now,
	}
}

// Enqueue hands the repair to the broker, falling back to the outbox.
func (r *Reconciler) Enqueue(ctx context.Context, repair core.Repair) error {
	if repair.ID == "" {
		repair.ID = uuid.NewString()
	}
	if repair.CreatedAt.IsZero() {
		repair.CreatedAt = r.now().UTC()
	}
	repair.UpdatedAt = r.now().UTC()
	if repair.Status == "" {
		repair.Status = core.RepairPending
	}

	if r.publisher != nil {
		err := r.publisher.Publish(ctx, amqp.NewLedgerRepair(repair))
		if err == nil {
			return nil
		}
		r.logger.WarnContext(ctx, "Failed to publish ledger repair, using outbox",
			applog.FieldOwnerUID, repair.OwnerUID,
			applog.FieldTransactionID, repair.TransactionID,
			applog.FieldError, err)
	}
	if r.outbox == nil {
		return ErrNoRepairQueue
	}
	if err := r.outbox.SaveRepair(ctx, repair); err != nil {
		return fmt.Errorf("save ledger repair: %w", err)
	}
	return nil
}

// Apply re-applies a repair. When only some groups land, the rest is queued
// again as a new repair and Apply succeeds, so the caller must not retry the
// original. When nothing landed the error is returned and retrying is safe.
func (r *Reconciler) Apply(ctx context.Context, repair core.Repair) error {
	remaining, err := applyRepair(ctx, r.ledger, repair)
	if err == nil {
		r.logger.InfoContext(ctx, "Ledger repair applied",
			applog.FieldOwnerUID, repair.OwnerUID,
			applog.FieldTransactionID, repair.TransactionID,
			applog.FieldAdjustments, len(repair.Adjustments))
		return nil
	}
	if len(remaining) == len(ledger.Aggregate(repair.Adjustments)) {
		return err
	}

	next := core.Repair{
		OwnerUID:      repair.OwnerUID,
		TransactionID: repair.TransactionID,
		Adjustments:   remaining,
		Reason:        err.Error(),
		Attempts:      repair.Attempts + 1,
	}
	if qErr := r.Enqueue(ctx, next); qErr != nil {
		r.logger.LogError(ctx, "Partially applied repair could not be requeued, balances need manual reconcile", qErr, applog.OpReconcile,
			applog.NewFields().
				WithTransaction(repair.OwnerUID, repair.TransactionID, "").
				With(applog.FieldAdjustments, len(remaining)))
	}
	return nil
}

// applyRepair returns the net adjustments that did not reach the balances.
func applyRepair(ctx context.Context, balances BalanceApplier, repair core.Repair) ([]core.Adjustment, error) {
	err := balances.ApplyAdjustments(ctx, repair.OwnerUID, repair.Adjustments)
	if err == nil {
		return nil, nil
	}
	var agg *ledger.AggregateError
	if errors.As(err, &agg) {
		return agg.FailedAdjustments(), err
	}
	return ledger.Aggregate(repair.Adjustments), err
}

// RepairProcessorConfig holds configuration for the repair processor
type RepairProcessorConfig struct {
	// PollInterval is how often to check the outbox (default: 30s)
	PollInterval time.Duration

	// BatchSize is the max number of repairs per poll cycle (default: 10)
	BatchSize int

	// MaxRetries is the number of attempts before a repair is marked failed (default: 5)
	MaxRetries int
}

// DefaultRepairProcessorConfig returns sensible defaults
func DefaultRepairProcessorConfig() RepairProcessorConfig {
	return RepairProcessorConfig{
		PollInterval: 30 * time.Second,
		BatchSize:    10,
		MaxRetries:   5,
	}
}

// RepairProcessor drains the local repair outbox into the ledger.
type RepairProcessor struct {
	outbox RepairStore
	ledger BalanceApplier
	config RepairProcessorConfig
	logger *applog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewRepairProcessor(outbox RepairStore, balances BalanceApplier, config RepairProcessorConfig, logger *applog.Logger) *RepairProcessor {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &RepairProcessor{
		outbox: outbox,
		ledger: balances,
		config: config,
		logger: logger.WithComponent(applog.ComponentWorker),
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *RepairProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("repair processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Repair processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)
	return nil
}

// Stop signals the loop and waits for the current batch to finish.
func (p *RepairProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		p.logger.InfoContext(ctx, "Repair processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Repair processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

func (p *RepairProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *RepairProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	// Drain immediately on startup
	p.ProcessBatch(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch applies up to BatchSize pending repairs and returns how many
// were fully applied.
func (p *RepairProcessor) ProcessBatch(ctx context.Context) int {
	repairs, err := p.outbox.PendingRepairs(ctx, p.config.BatchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to read repair outbox", applog.FieldError, err)
		return 0
	}
	if len(repairs) == 0 {
		return 0
	}

	p.logger.DebugContext(ctx, "Processing repair batch", "count", len(repairs))

	applied := 0
	for _, repair := range repairs {
		if ctx.Err() != nil {
			return applied
		}

		remaining, err := applyRepair(ctx, p.ledger, repair)
		if err != nil {
			p.handleFailure(ctx, repair, remaining, err)
			continue
		}
		if err := p.outbox.DeleteRepair(ctx, repair.ID); err != nil {
			// Left in place it would be applied twice.
			p.logger.ErrorContext(ctx, "Applied repair could not be removed from outbox",
				"repair_id", repair.ID,
				applog.FieldError, err)
			continue
		}
		applied++
	}
	return applied
}

func (p *RepairProcessor) handleFailure(ctx context.Context, repair core.Repair, remaining []core.Adjustment, applyErr error) {
	repair.Adjustments = remaining
	repair.Attempts++
	repair.Reason = applyErr.Error()
	repair.UpdatedAt = time.Now().UTC()

	if repair.Attempts >= p.config.MaxRetries {
		repair.Status = core.RepairFailed
		p.logger.ErrorContext(ctx, "Ledger repair failed permanently after max retries",
			"repair_id", repair.ID,
			applog.FieldOwnerUID, repair.OwnerUID,
			applog.FieldTransactionID, repair.TransactionID,
			"attempts", repair.Attempts)
	} else {
		p.logger.WarnContext(ctx, "Ledger repair failed, will retry",
			"repair_id", repair.ID,
			"attempt", repair.Attempts,
			applog.FieldError, applyErr)
	}

	if err := p.outbox.SaveRepair(ctx, repair); err != nil {
		p.logger.ErrorContext(ctx, "Failed to update repair in outbox",
			"repair_id", repair.ID,
			applog.FieldError, err)
	}
}

// RetryFailed resets all failed repairs for retry
func (p *RepairProcessor) RetryFailed(ctx context.Context) (int, error) {
	return p.outbox.RetryFailedRepairs(ctx)
}
