package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conti/internal/core"
	"conti/internal/ledger"
	applog "conti/internal/log"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestBalanceVersioning(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.CreateBalance(ctx, core.Balance{ID: "EUR", OwnerUID: "ws", AccountID: "A", CurrencyID: "EUR", Amount: dec("1.009")}))
	assert.ErrorIs(t, s.CreateBalance(ctx, core.Balance{ID: "EUR", OwnerUID: "ws", AccountID: "A", CurrencyID: "EUR"}), ledger.ErrBalanceExists)

	b, err := s.FindBalance(ctx, "ws", "A", "EUR")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.True(t, b.Amount.Equal(dec("1")), "stored amounts are floored to the cent")

	require.NoError(t, s.UpdateBalance(ctx, *b, dec("2"), b.Version))
	assert.ErrorIs(t, s.UpdateBalance(ctx, *b, dec("3"), b.Version), ledger.ErrVersionConflict)
	require.NoError(t, s.UpdateBalance(ctx, *b, dec("3"), ledger.AnyVersion))

	missing := core.Balance{ID: "USD", OwnerUID: "ws", AccountID: "A", CurrencyID: "USD"}
	assert.ErrorIs(t, s.UpdateBalance(ctx, missing, dec("1"), ledger.AnyVersion), core.ErrNotFound)
}

func TestLedgerOverMemory(t *testing.T) {
	ctx := context.Background()
	s := New()
	l := ledger.New(s, ledger.DefaultConfig(), applog.Discard())

	tx := core.Transaction{ID: "x", OwnerUID: "ws", Date: core.NewDate(2025, 1, 1),
		Details: core.Exchange{AccountID: "A", FromCurrencyID: "EUR", ToCurrencyID: "USD", AmountFrom: dec("100"), AmountTo: dec("108.40")}}
	require.NoError(t, l.ApplyAdjustments(ctx, "ws", tx.Adjustments()))
	require.NoError(t, l.ApplyAdjustments(ctx, "ws", tx.ReverseAdjustments()))

	balances, err := s.ListBalances(ctx, "ws")
	require.NoError(t, err)
	require.Len(t, balances, 2)
	for _, b := range balances {
		assert.True(t, b.Amount.IsZero(), "%s back to zero", b.CurrencyID)
	}
}

func TestRepairOutbox(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	adjs := []core.Adjustment{{AccountID: "A", CurrencyID: "EUR", Delta: dec("4")}}
	require.NoError(t, s.SaveRepair(ctx, core.Repair{ID: "r2", OwnerUID: "ws", Status: core.RepairPending, Adjustments: adjs, CreatedAt: base.Add(time.Second)}))
	require.NoError(t, s.SaveRepair(ctx, core.Repair{ID: "r1", OwnerUID: "ws", Status: core.RepairPending, Adjustments: adjs, CreatedAt: base}))
	require.NoError(t, s.SaveRepair(ctx, core.Repair{ID: "r3", OwnerUID: "ws", Status: core.RepairFailed, Attempts: 5, Adjustments: adjs, CreatedAt: base}))

	adjs[0].Delta = dec("99")

	pending, err := s.PendingRepairs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "r1", pending[0].ID)
	assert.True(t, pending[0].Adjustments[0].Delta.Equal(dec("4")), "saved repairs do not alias the caller's slice")

	one, err := s.PendingRepairs(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)

	n, err := s.RetryFailedRepairs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	pending, err = s.PendingRepairs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	require.NoError(t, s.DeleteRepair(ctx, "r1"))
	assert.ErrorIs(t, s.DeleteRepair(ctx, "r1"), core.ErrNotFound)
}
