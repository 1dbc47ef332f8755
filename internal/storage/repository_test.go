package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conti/internal/core"
	"conti/internal/ledger"
	applog "conti/internal/log"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "conti.db"), applog.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")
	v1, err := RunMigrations(path)
	require.NoError(t, err)
	v2, err := RunMigrations(path)
	require.NoError(t, err)
	assert.Equal(t, uint(2), v1)
	assert.Equal(t, v1, v2)
}

func TestBalanceLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	b, err := repo.FindBalance(ctx, "ws", "A", "EUR")
	require.NoError(t, err)
	assert.Nil(t, b)

	require.NoError(t, repo.CreateBalance(ctx, core.Balance{
		ID: "EUR", OwnerUID: "ws", AccountID: "A", CurrencyID: "EUR", Amount: dec("-12.5"),
	}))

	err = repo.CreateBalance(ctx, core.Balance{ID: "EUR", OwnerUID: "ws", AccountID: "A", CurrencyID: "EUR", Amount: dec("1")})
	assert.ErrorIs(t, err, ledger.ErrBalanceExists)

	b, err = repo.FindBalance(ctx, "ws", "A", "EUR")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.True(t, b.Amount.Equal(dec("-12.5")))
	assert.Equal(t, int64(1), b.Version)

	require.NoError(t, repo.UpdateBalance(ctx, *b, dec("7.25"), b.Version))

	err = repo.UpdateBalance(ctx, *b, dec("8"), b.Version)
	assert.ErrorIs(t, err, ledger.ErrVersionConflict, "stale version must be rejected")

	require.NoError(t, repo.UpdateBalance(ctx, *b, dec("9"), ledger.AnyVersion))

	b, err = repo.FindBalance(ctx, "ws", "A", "EUR")
	require.NoError(t, err)
	assert.True(t, b.Amount.Equal(dec("9")))
	assert.Equal(t, int64(3), b.Version)

	other, err := repo.FindBalance(ctx, "other", "A", "EUR")
	require.NoError(t, err)
	assert.Nil(t, other, "balances are scoped by owner")
}

func TestLedgerOverSQLite(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	l := ledger.New(repo, ledger.DefaultConfig(), applog.Discard())

	require.NoError(t, l.ApplyAdjustments(ctx, "ws", []core.Adjustment{
		{AccountID: "A", CurrencyID: "EUR", Delta: dec("-100")},
		{AccountID: "B", CurrencyID: "EUR", Delta: dec("100")},
		{AccountID: "A", CurrencyID: "USD", Delta: dec("90.999")},
	}))
	require.NoError(t, l.ApplyAdjustments(ctx, "ws", []core.Adjustment{
		{AccountID: "A", CurrencyID: "EUR", Delta: dec("20")},
	}))

	balances, err := repo.ListBalances(ctx, "ws")
	require.NoError(t, err)
	require.Len(t, balances, 3)
	assert.Equal(t, "A", balances[0].AccountID)
	assert.Equal(t, "EUR", balances[0].CurrencyID)
	assert.True(t, balances[0].Amount.Equal(dec("-80")))
	assert.True(t, balances[1].Amount.Equal(dec("90.99")))
	assert.True(t, balances[2].Amount.Equal(dec("100")))
}

func TestTransactionRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	txs := []core.Transaction{
		{ID: "e1", OwnerUID: "ws", Date: core.NewDate(2025, 3, 1), Comment: "lunch", CreatedAt: created,
			Details: core.Expense{AccountID: "A", CurrencyID: "EUR", CategoryID: "food", Amount: dec("12.30")}},
		{ID: "x1", OwnerUID: "ws", Date: core.NewDate(2025, 3, 5), CreatedAt: created,
			Details: core.Exchange{AccountID: "A", FromCurrencyID: "EUR", ToCurrencyID: "USD", AmountFrom: dec("100"), AmountTo: dec("108.4")}},
		{ID: "t1", OwnerUID: "ws", Date: core.NewDate(2025, 2, 27), CreatedAt: created,
			Details: core.Transfer{FromAccountID: "A", ToAccountID: "B", CurrencyID: "EUR", Amount: dec("5")}},
	}
	for _, tx := range txs {
		require.NoError(t, repo.CreateTransaction(ctx, tx))
	}

	got, err := repo.GetTransaction(ctx, "ws", "x1")
	require.NoError(t, err)
	x, ok := got.Details.(core.Exchange)
	require.True(t, ok)
	assert.True(t, x.AmountTo.Equal(dec("108.4")))
	assert.Equal(t, "2025-03-05", got.Date.String())
	assert.True(t, got.CreatedAt.Equal(created))

	all, err := repo.ListTransactions(ctx, "ws", "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"x1", "e1", "t1"}, []string{all[0].ID, all[1].ID, all[2].ID})

	expenses, err := repo.ListTransactions(ctx, "ws", core.TypeExpense)
	require.NoError(t, err)
	require.Len(t, expenses, 1)
	assert.Equal(t, "lunch", expenses[0].Comment)

	march, err := repo.ListTransactionsBetween(ctx, "ws", core.NewDate(2025, 3, 1), core.NewDate(2025, 4, 1))
	require.NoError(t, err)
	assert.Len(t, march, 2)

	edited := txs[0]
	edited.Details = core.Income{AccountID: "A", CurrencyID: "EUR", SourceID: "refund", Amount: dec("3")}
	require.NoError(t, repo.UpdateTransaction(ctx, edited))
	got, err = repo.GetTransaction(ctx, "ws", "e1")
	require.NoError(t, err)
	assert.Equal(t, core.TypeIncome, got.Type())
	assert.Equal(t, "lunch", got.Comment)

	require.NoError(t, repo.DeleteTransaction(ctx, "ws", "e1"))
	_, err = repo.GetTransaction(ctx, "ws", "e1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, repo.DeleteTransaction(ctx, "ws", "e1"), core.ErrNotFound)
	assert.ErrorIs(t, repo.UpdateTransaction(ctx, edited), core.ErrNotFound)
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.CreateAccount(ctx, core.Account{ID: "A", OwnerUID: "ws", Name: "Wallet", CreatedAt: time.Now()}))
	require.NoError(t, repo.CreateCurrency(ctx, core.Currency{ID: "EUR", OwnerUID: "ws", Name: "Euro"}))
	require.NoError(t, repo.CreateBalance(ctx, core.Balance{ID: "EUR", OwnerUID: "ws", AccountID: "A", CurrencyID: "EUR", Amount: dec("1")}))

	accounts, err := repo.ListAccounts(ctx, "ws")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "Wallet", accounts[0].Name)

	inUse, err := repo.CurrencyInUse(ctx, "ws", "EUR")
	require.NoError(t, err)
	assert.True(t, inUse)

	require.NoError(t, repo.DeleteAccount(ctx, "ws", "A"))
	balances, err := repo.ListBalances(ctx, "ws")
	require.NoError(t, err)
	assert.Empty(t, balances, "deleting an account drops its balances")
	assert.ErrorIs(t, repo.DeleteAccount(ctx, "ws", "A"), core.ErrNotFound)

	inUse, err = repo.CurrencyInUse(ctx, "ws", "EUR")
	require.NoError(t, err)
	assert.False(t, inUse)

	require.NoError(t, repo.DeleteCurrency(ctx, "ws", "EUR"))
	currencies, err := repo.ListCurrencies(ctx, "ws")
	require.NoError(t, err)
	assert.Empty(t, currencies)
}

func TestRepairOutbox(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	older := core.Repair{
		ID: "r1", OwnerUID: "ws", TransactionID: "t1", Status: core.RepairPending,
		Adjustments: []core.Adjustment{{AccountID: "A", CurrencyID: "EUR", Delta: dec("-12.34")}},
		CreatedAt:   base, UpdatedAt: base,
	}
	newer := core.Repair{
		ID: "r2", OwnerUID: "ws", TransactionID: "t2", Status: core.RepairPending,
		Adjustments: []core.Adjustment{{AccountID: "B", CurrencyID: "USD", Delta: dec("5")}},
		CreatedAt:   base.Add(time.Minute), UpdatedAt: base.Add(time.Minute),
	}
	require.NoError(t, repo.SaveRepair(ctx, newer))
	require.NoError(t, repo.SaveRepair(ctx, older))

	pending, err := repo.PendingRepairs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "r1", pending[0].ID)
	require.Len(t, pending[0].Adjustments, 1)
	assert.True(t, pending[0].Adjustments[0].Delta.Equal(dec("-12.34")))
	assert.True(t, pending[0].CreatedAt.Equal(base))

	limited, err := repo.PendingRepairs(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	older.Status = core.RepairFailed
	older.Attempts = 5
	older.Reason = "write balance: locked"
	require.NoError(t, repo.SaveRepair(ctx, older))

	pending, err = repo.PendingRepairs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "r2", pending[0].ID)

	n, err := repo.RetryFailedRepairs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err = repo.PendingRepairs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, 0, pending[0].Attempts)
	assert.Equal(t, "write balance: locked", pending[0].Reason)

	require.NoError(t, repo.DeleteRepair(ctx, "r1"))
	assert.ErrorIs(t, repo.DeleteRepair(ctx, "r1"), core.ErrNotFound)
}

func TestCreatedAtOrdersWithinOneSecond(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	whole := time.Date(2025, 3, 1, 10, 0, 5, 0, time.UTC)
	half := whole.Add(500 * time.Millisecond)

	require.NoError(t, repo.SaveRepair(ctx, core.Repair{
		ID: "late", OwnerUID: "ws", TransactionID: "t2", Status: core.RepairPending,
		CreatedAt: half, UpdatedAt: half,
	}))
	require.NoError(t, repo.SaveRepair(ctx, core.Repair{
		ID: "early", OwnerUID: "ws", TransactionID: "t1", Status: core.RepairPending,
		CreatedAt: whole, UpdatedAt: whole,
	}))

	pending, err := repo.PendingRepairs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, []string{"early", "late"}, []string{pending[0].ID, pending[1].ID})
	assert.True(t, pending[1].CreatedAt.Equal(half))

	day := core.NewDate(2025, 3, 1)
	for _, tx := range []core.Transaction{
		{ID: "first", OwnerUID: "ws", Date: day, CreatedAt: whole,
			Details: core.Expense{AccountID: "A", CurrencyID: "EUR", CategoryID: "food", Amount: dec("1")}},
		{ID: "second", OwnerUID: "ws", Date: day, CreatedAt: half,
			Details: core.Expense{AccountID: "A", CurrencyID: "EUR", CategoryID: "food", Amount: dec("2")}},
	} {
		require.NoError(t, repo.CreateTransaction(ctx, tx))
	}

	all, err := repo.ListTransactions(ctx, "ws", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, []string{"second", "first"}, []string{all[0].ID, all[1].ID})
}

func TestParseTimeReadsTrimmedFractions(t *testing.T) {
	for _, s := range []string{"2025-03-01T10:00:05Z", "2025-03-01T10:00:05.5Z", "2025-03-01T10:00:05.500000000Z"} {
		_, err := parseTime(s)
		assert.NoError(t, err, s)
	}
}
