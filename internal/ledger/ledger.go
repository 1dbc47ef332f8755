// Package ledger applies signed balance adjustments to persisted balances.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"conti/internal/core"
	applog "conti/internal/log"
)

// AnyVersion disables the version check on UpdateBalance.
const AnyVersion int64 = -1

var (
	// ErrVersionConflict is returned by a store when the balance changed since it was read.
	ErrVersionConflict = errors.New("balance version conflict")
	// ErrBalanceExists is returned by a store when creating a balance that is already there.
	ErrBalanceExists = errors.New("balance already exists")
	// ErrAggregateOperation marks a partially applied ApplyAdjustments call.
	ErrAggregateOperation = errors.New("aggregate ledger operation failed")
)

// BalanceStore persists balances. Implementations must keep at most one record
// per (ownerUID, accountID, currencyID).
type BalanceStore interface {
	// FindBalance returns nil, nil when no balance exists.
	FindBalance(ctx context.Context, ownerUID, accountID, currencyID string) (*core.Balance, error)
	// CreateBalance inserts b under key b.ID (the currency id) within its account.
	CreateBalance(ctx context.Context, b core.Balance) error
	// UpdateBalance sets the amount of an existing record. Unless expectedVersion
	// is AnyVersion, the write only happens if the stored version matches.
	UpdateBalance(ctx context.Context, b core.Balance, amount decimal.Decimal, expectedVersion int64) error
}

// Config tunes the apply step.
type Config struct {
	// Optimistic makes every update conditional on the version read and
	// retries conflicting groups. When false the read-then-write is
	// last-writer-wins.
	Optimistic bool

	// MaxConflictRetries bounds re-reads per group after a conflict.
	MaxConflictRetries int

	// MaxConcurrency caps in-flight group applies; 0 means unlimited.
	MaxConcurrency int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Optimistic:         true,
		MaxConflictRetries: 3,
	}
}

// Ledger aggregates adjustments and applies them to a BalanceStore.
type Ledger struct {
	store  BalanceStore
	config Config
	logger *applog.Logger
}

func New(store BalanceStore, config Config, logger *applog.Logger) *Ledger {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &Ledger{
		store:  store,
		config: config,
		logger: logger.WithComponent(applog.ComponentLedger),
	}
}

// GroupError is the failure of one (account, currency) group.
type GroupError struct {
	Adjustment core.Adjustment
	Err        error
}

// AggregateError reports every group that failed in one ApplyAdjustments call.
// Groups not listed were applied and are not rolled back.
type AggregateError struct {
	Failed []GroupError
}

func (e *AggregateError) Error() string {
	parts := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		parts[i] = fmt.Sprintf("%s/%s (%s): %v", f.Adjustment.AccountID, f.Adjustment.CurrencyID, f.Adjustment.Delta, f.Err)
	}
	return fmt.Sprintf("%s: %d group(s): %s", ErrAggregateOperation, len(e.Failed), strings.Join(parts, "; "))
}

func (e *AggregateError) Is(target error) bool {
	return target == ErrAggregateOperation
}

// Unwrap exposes the per-group errors to errors.Is/As.
func (e *AggregateError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f.Err
	}
	return errs
}

// FailedAdjustments returns the net adjustments that were not applied.
func (e *AggregateError) FailedAdjustments() []core.Adjustment {
	out := make([]core.Adjustment, len(e.Failed))
	for i, f := range e.Failed {
		out[i] = f.Adjustment
	}
	return out
}

// Aggregate sums deltas per (account, currency) in first-seen order, floors each
// sum to the cent and drops groups that net to zero.
func Aggregate(adjustments []core.Adjustment) []core.Adjustment {
	type key struct{ account, currency string }
	index := make(map[key]int, len(adjustments))
	groups := make([]core.Adjustment, 0, len(adjustments))
	for _, a := range adjustments {
		k := key{a.AccountID, a.CurrencyID}
		if i, ok := index[k]; ok {
			groups[i].Delta = groups[i].Delta.Add(a.Delta)
			continue
		}
		index[k] = len(groups)
		groups = append(groups, a)
	}

	out := groups[:0]
	for _, g := range groups {
		g.Delta = core.RoundAmount(g.Delta)
		if g.Delta.IsZero() {
			continue
		}
		out = append(out, g)
	}
	return out
}

// ApplyAdjustments nets the adjustments per (account, currency) and writes each
// non-zero group to its balance. Groups are applied concurrently; every group
// runs even if another fails. On failure the returned error is an
// *AggregateError listing the groups that were not applied.
func (l *Ledger) ApplyAdjustments(ctx context.Context, ownerUID string, adjustments []core.Adjustment) error {
	if strings.TrimSpace(ownerUID) == "" || len(adjustments) == 0 {
		return nil
	}
	groups := Aggregate(adjustments)
	if len(groups) == 0 {
		l.logger.DebugContext(ctx, "Adjustments net to zero, nothing to write",
			applog.FieldOwnerUID, ownerUID,
			"adjustments", len(adjustments))
		return nil
	}

	errs := make([]error, len(groups))
	var g errgroup.Group
	if l.config.MaxConcurrency > 0 {
		g.SetLimit(l.config.MaxConcurrency)
	}
	for i, adj := range groups {
		g.Go(func() error {
			errs[i] = l.applyGroup(ctx, ownerUID, adj)
			return nil
		})
	}
	_ = g.Wait()

	var agg AggregateError
	for i, err := range errs {
		if err != nil {
			agg.Failed = append(agg.Failed, GroupError{Adjustment: groups[i], Err: err})
		}
	}
	if len(agg.Failed) > 0 {
		l.logger.ErrorContext(ctx, "Ledger apply partially failed",
			applog.FieldOwnerUID, ownerUID,
			"groups", len(groups),
			"failed", len(agg.Failed),
			applog.FieldError, agg.Error())
		return &agg
	}

	l.logger.DebugContext(ctx, "Ledger apply completed",
		applog.FieldOwnerUID, ownerUID,
		"groups", len(groups))
	return nil
}

func (l *Ledger) applyGroup(ctx context.Context, ownerUID string, adj core.Adjustment) error {
	// Without version checks the only conflict is two creates racing on the
	// same key; one re-read turns the loser into an update.
	retries := 1
	if l.config.Optimistic {
		retries = max(l.config.MaxConflictRetries, 0)
	}
	attempts := 1 + retries

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = l.applyOnce(ctx, ownerUID, adj)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) && !errors.Is(err, ErrBalanceExists) {
			return err
		}
		l.logger.WarnContext(ctx, "Balance write conflict, re-reading",
			applog.FieldOwnerUID, ownerUID,
			applog.FieldAccountID, adj.AccountID,
			applog.FieldCurrencyID, adj.CurrencyID,
			"attempt", attempt+1)
	}
	return err
}

func (l *Ledger) applyOnce(ctx context.Context, ownerUID string, adj core.Adjustment) error {
	existing, err := l.store.FindBalance(ctx, ownerUID, adj.AccountID, adj.CurrencyID)
	if err != nil {
		return fmt.Errorf("find balance: %w", err)
	}

	if existing == nil {
		b := core.Balance{
			ID:         adj.CurrencyID,
			OwnerUID:   ownerUID,
			AccountID:  adj.AccountID,
			CurrencyID: adj.CurrencyID,
			Amount:     core.RoundAmount(adj.Delta),
		}
		if err := l.store.CreateBalance(ctx, b); err != nil {
			return fmt.Errorf("create balance: %w", err)
		}
		return nil
	}

	expected := AnyVersion
	if l.config.Optimistic {
		expected = existing.Version
	}
	amount := core.RoundAmount(existing.Amount.Add(adj.Delta))
	if err := l.store.UpdateBalance(ctx, *existing, amount, expected); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}
