package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conti/internal/core"
	"conti/internal/ledger"
	applog "conti/internal/log"
	"conti/internal/storage/memory"
)

func TestCatalogAccounts(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	catalog := NewCatalogService(store, applog.Discard())

	_, err := catalog.CreateAccount(ctx, core.Account{OwnerUID: "ws", Name: "  "})
	assert.ErrorIs(t, err, core.ErrMissingField)

	acct, err := catalog.CreateAccount(ctx, core.Account{OwnerUID: "ws", Name: " Wallet ", Color: "#ff0000"})
	require.NoError(t, err)
	assert.NotEmpty(t, acct.ID)
	assert.Equal(t, "Wallet", acct.Name)
	assert.False(t, acct.CreatedAt.IsZero())

	l := ledger.New(store, ledger.DefaultConfig(), applog.Discard())
	require.NoError(t, l.ApplyAdjustments(ctx, "ws", []core.Adjustment{{AccountID: acct.ID, CurrencyID: "EUR", Delta: dec("5")}}))

	balances, err := catalog.ListBalances(ctx, "ws")
	require.NoError(t, err)
	require.Len(t, balances, 1)

	require.NoError(t, catalog.DeleteAccount(ctx, "ws", acct.ID))
	balances, err = catalog.ListBalances(ctx, "ws")
	require.NoError(t, err)
	assert.Empty(t, balances)

	assert.ErrorIs(t, catalog.DeleteAccount(ctx, "ws", acct.ID), core.ErrNotFound)
}

func TestCatalogCurrencyInUse(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	catalog := NewCatalogService(store, applog.Discard())

	cur, err := catalog.CreateCurrency(ctx, core.Currency{ID: " EUR ", OwnerUID: "ws", Name: "Euro"})
	require.NoError(t, err)
	assert.Equal(t, "EUR", cur.ID)
	_, err = catalog.CreateAccount(ctx, core.Account{ID: "A", OwnerUID: "ws", Name: "Bank"})
	require.NoError(t, err)

	l := ledger.New(store, ledger.DefaultConfig(), applog.Discard())
	require.NoError(t, l.ApplyAdjustments(ctx, "ws", []core.Adjustment{{AccountID: "A", CurrencyID: "EUR", Delta: dec("5")}}))

	assert.ErrorIs(t, catalog.DeleteCurrency(ctx, "ws", "EUR"), ErrCurrencyInUse)

	require.NoError(t, store.DeleteAccount(ctx, "ws", "A"))
	require.NoError(t, catalog.DeleteCurrency(ctx, "ws", "EUR"))

	currencies, err := catalog.ListCurrencies(ctx, "ws")
	require.NoError(t, err)
	assert.Empty(t, currencies)
}

func TestMonthOverview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	stats := NewStatsService(f.store)

	for _, in := range []struct {
		amount string
		entry  Entry
	}{
		{"10", Entry{Date: core.NewDate(2025, 3, 1)}},
		{"2.5", Entry{Date: core.NewDate(2025, 3, 31)}},
		{"99", Entry{Date: core.NewDate(2025, 4, 1)}},
	} {
		_, err := f.svc.CreateExpense(ctx, "ws", core.ExpenseInput{AccountID: "A", CurrencyID: "EUR", CategoryID: "food", Amount: in.amount}, in.entry)
		require.NoError(t, err)
	}

	ov, err := stats.MonthOverview(ctx, "ws", 2025, 3)
	require.NoError(t, err)
	require.Len(t, ov.Expenses, 1)
	assert.True(t, ov.Expenses[0].Amount.Equal(dec("12.5")))
	require.Len(t, ov.ByCategory, 1)
	assert.Equal(t, "food", ov.ByCategory[0].CategoryID)

	_, err = stats.MonthOverview(ctx, "ws", 2025, 13)
	assert.ErrorIs(t, err, core.ErrValidation)
}
