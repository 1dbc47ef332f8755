package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conti/internal/backend"
	"conti/internal/core"
	applog "conti/internal/log"
	"conti/internal/services"
	"conti/internal/sheets/google"
	"conti/internal/sheets/memory"
)

type testCLI struct {
	session *session
	backend *backend.BackendResult
	journal *memory.Journal
}

func newTestCLI(t *testing.T) *testCLI {
	t.Helper()
	t.Setenv("CONTI_WORKSPACE", "")

	res, err := backend.NewFactory(applog.Discard()).CreateBackend(context.Background(), backend.Config{Type: backend.MemoryBackend})
	require.NoError(t, err)
	cleanup := res.Cleanup
	t.Cleanup(func() { _ = cleanup() })
	// Commands close the backend after each run; keep the store alive across runs.
	res.Cleanup = func() error { return nil }

	j := memory.New()
	open := func(context.Context) (*backend.BackendResult, error) { return res, nil }
	openJournal := func(context.Context, google.Config, *applog.Logger) (journal, error) { return j, nil }
	return &testCLI{
		session: &session{open: open, openJournal: openJournal, logger: applog.Discard()},
		backend: res,
		journal: j,
	}
}

func (c *testCLI) run(args ...string) (string, error) {
	cmd := newRootCommand(c.session)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *testCLI) balance(t *testing.T, owner, account, currency string) decimal.Decimal {
	t.Helper()
	balances, err := c.backend.Catalog.ListBalances(context.Background(), owner)
	require.NoError(t, err)
	for _, b := range balances {
		if b.AccountID == account && b.CurrencyID == currency {
			return b.Amount
		}
	}
	t.Fatalf("no balance for %s/%s", account, currency)
	return decimal.Zero
}

func TestTransactionCommands(t *testing.T) {
	c := newTestCLI(t)

	out, err := c.run("-w", "ws1", "expense", "--account", "A", "--currency", "EUR",
		"--category", "food", "--amount", "10+2,5", "--date", "2025-03-01")
	require.NoError(t, err)
	assert.Contains(t, out, "expense")
	assert.Contains(t, out, "recorded on 2025-03-01")

	_, err = c.run("-w", "ws1", "income", "--account", "A", "--currency", "EUR",
		"--source", "salary", "--amount", "100", "--date", "2025-03-02")
	require.NoError(t, err)

	_, err = c.run("-w", "ws1", "transfer", "--from", "A", "--to", "B", "--currency", "EUR",
		"--amount", "20", "--date", "2025-03-03")
	require.NoError(t, err)

	_, err = c.run("-w", "ws1", "exchange", "--account", "B", "--from-currency", "EUR",
		"--to-currency", "USD", "--amount-from", "10", "--amount-to", "11", "--date", "2025-03-04")
	require.NoError(t, err)

	assert.True(t, c.balance(t, "ws1", "A", "EUR").Equal(decimal.RequireFromString("67.5")))
	assert.True(t, c.balance(t, "ws1", "B", "EUR").Equal(decimal.RequireFromString("10")))
	assert.True(t, c.balance(t, "ws1", "B", "USD").Equal(decimal.RequireFromString("11")))

	out, err = c.run("-w", "ws1", "balances")
	require.NoError(t, err)
	assert.Contains(t, out, "ACCOUNT")
	assert.Contains(t, out, "67.50")

	out, err = c.run("-w", "ws1", "list", "--type", "expense")
	require.NoError(t, err)
	assert.Contains(t, out, "A -12.50 EUR (food)")
	assert.NotContains(t, out, "salary")
}

func TestDeleteCommandReversesBalance(t *testing.T) {
	c := newTestCLI(t)
	tx, err := c.backend.Transactions.CreateExpense(context.Background(), "ws1",
		core.ExpenseInput{AccountID: "A", CurrencyID: "EUR", CategoryID: "food", Amount: "7"},
		services.Entry{Date: core.NewDate(2025, 3, 1)})
	require.NoError(t, err)

	out, err := c.run("-w", "ws1", "delete", tx.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted expense "+tx.ID)
	assert.True(t, c.balance(t, "ws1", "A", "EUR").IsZero())

	_, err = c.run("-w", "ws1", "delete", tx.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCommandErrors(t *testing.T) {
	c := newTestCLI(t)

	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{"missing workspace", []string{"balances"}, errNoWorkspace},
		{"blank workspace", []string{"-w", "  ", "balances"}, errNoWorkspace},
		{"bad amount", []string{"-w", "ws1", "expense", "--account", "A", "--currency", "EUR", "--category", "x", "--amount", "1+"}, core.ErrValidation},
		{"missing account", []string{"-w", "ws1", "income", "--currency", "EUR", "--source", "x", "--amount", "1"}, core.ErrValidation},
		{"bad date", []string{"-w", "ws1", "expense", "--account", "A", "--currency", "EUR", "--category", "x", "--amount", "1", "--date", "2025-13-01"}, core.ErrInvalidDate},
		{"bad list type", []string{"-w", "ws1", "list", "--type", "gift"}, core.ErrInvalidType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.run(tt.args...)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	balances, err := c.backend.Catalog.ListBalances(context.Background(), "ws1")
	require.NoError(t, err)
	assert.Empty(t, balances, "rejected commands leave no balances behind")
}

func TestCatalogCommands(t *testing.T) {
	c := newTestCLI(t)

	out, err := c.run("-w", "ws1", "currency", "add", "EUR", "Euro")
	require.NoError(t, err)
	assert.Contains(t, out, "currency EUR (Euro) created")

	out, err = c.run("-w", "ws1", "account", "add", "Wallet", "--id", "wallet", "--color", "#00ff00")
	require.NoError(t, err)
	assert.Contains(t, out, "account wallet (Wallet) created")

	out, err = c.run("-w", "ws1", "account", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "wallet\tWallet")

	_, err = c.run("-w", "ws1", "income", "--account", "wallet", "--currency", "EUR", "--source", "gift", "--amount", "5")
	require.NoError(t, err)

	_, err = c.run("-w", "ws1", "currency", "rm", "EUR")
	assert.Error(t, err, "a currency with balances cannot be deleted")

	out, err = c.run("-w", "ws1", "account", "rm", "wallet")
	require.NoError(t, err)
	assert.Contains(t, out, "account wallet deleted")

	out, err = c.run("-w", "ws1", "currency", "rm", "EUR")
	require.NoError(t, err)
	assert.Contains(t, out, "currency EUR deleted")

	out, err = c.run("-w", "ws1", "currency", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "EUR")
}

func TestRepairsCommands(t *testing.T) {
	c := newTestCLI(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, c.backend.Store.SaveRepair(ctx, core.Repair{
		ID:            "r1",
		OwnerUID:      "ws1",
		TransactionID: "tx1",
		Adjustments:   []core.Adjustment{{AccountID: "A", CurrencyID: "EUR", Delta: decimal.RequireFromString("5")}},
		Status:        core.RepairPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))
	require.NoError(t, c.backend.Store.SaveRepair(ctx, core.Repair{
		ID:            "r2",
		OwnerUID:      "ws2",
		TransactionID: "tx2",
		Adjustments:   []core.Adjustment{{AccountID: "B", CurrencyID: "USD", Delta: decimal.RequireFromString("-3")}},
		Status:        core.RepairFailed,
		Attempts:      5,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))

	out, err := c.run("repairs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "A +5.00 EUR")
	assert.NotContains(t, out, "r2", "failed repairs are not pending")

	out, err = c.run("-w", "other", "repairs", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "r1")

	out, err = c.run("repairs", "run")
	require.NoError(t, err)
	assert.Contains(t, out, "applied 1 repairs, 0 pending")
	assert.True(t, c.balance(t, "ws1", "A", "EUR").Equal(decimal.RequireFromString("5")))

	out, err = c.run("repairs", "retry")
	require.NoError(t, err)
	assert.Contains(t, out, "1 failed repairs queued again")

	out, err = c.run("repairs", "run")
	require.NoError(t, err)
	assert.Contains(t, out, "applied 1 repairs, 0 pending")
	assert.True(t, c.balance(t, "ws2", "B", "USD").Equal(decimal.RequireFromString("-3")))
}

func TestSheetsExportIsIdempotent(t *testing.T) {
	c := newTestCLI(t)
	ctx := context.Background()
	for _, d := range []core.Date{core.NewDate(2024, 12, 31), core.NewDate(2025, 1, 2), core.NewDate(2025, 2, 3)} {
		_, err := c.backend.Transactions.CreateExpense(ctx, "ws1",
			core.ExpenseInput{AccountID: "A", CurrencyID: "EUR", CategoryID: "food", Amount: "1"},
			services.Entry{Date: d})
		require.NoError(t, err)
	}

	out, err := c.run("-w", "ws1", "sheets", "export", "--year", "2025")
	require.NoError(t, err)
	assert.Contains(t, out, "exported 2 transactions for 2025")

	entries, err := c.journal.ListEntries(ctx, 2025)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2025-01-02", entries[0].Record.Date.String(), "oldest first")
	assert.Equal(t, "create", entries[0].Action)

	out, err = c.run("-w", "ws1", "sheets", "export", "--year", "2025")
	require.NoError(t, err)
	assert.Contains(t, out, "exported 0 transactions for 2025")
}

func TestSheetsHeaderNeedsSpreadsheetJournal(t *testing.T) {
	c := newTestCLI(t)
	_, err := c.run("sheets", "header", "--year", "2025")
	assert.EqualError(t, err, "journal does not support headers")
}

func TestSheetsAuthNeedsClient(t *testing.T) {
	t.Setenv("GOOGLE_OAUTH_CLIENT_JSON", "")
	t.Setenv("GOOGLE_OAUTH_CLIENT_FILE", "")
	c := newTestCLI(t)

	_, err := c.run("sheets", "auth")
	assert.EqualError(t, err, "set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE")

	t.Setenv("GOOGLE_OAUTH_CLIENT_JSON", "{not json")
	_, err = c.run("sheets", "auth")
	assert.ErrorContains(t, err, "oauth config")
}
