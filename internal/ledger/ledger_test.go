package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conti/internal/core"
	applog "conti/internal/log"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func adj(account, currency, delta string) core.Adjustment {
	return core.Adjustment{AccountID: account, CurrencyID: currency, Delta: dec(delta)}
}

type write struct {
	op      string
	account string
	amount  decimal.Decimal
}

// fakeStore records writes and can fail or simulate a concurrent writer.
type fakeStore struct {
	mu       sync.Mutex
	balances map[[3]string]core.Balance
	writes   []write

	failFind  map[string]error // by account/currency
	failWrite map[string]error
	interfere map[string]int // bumps the stored version before the next N updates
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		balances:  make(map[[3]string]core.Balance),
		failFind:  make(map[string]error),
		failWrite: make(map[string]error),
		interfere: make(map[string]int),
	}
}

func (f *fakeStore) seed(owner, account, currency, amount string) {
	f.balances[[3]string{owner, account, currency}] = core.Balance{
		ID: currency, OwnerUID: owner, AccountID: account, CurrencyID: currency, Amount: dec(amount), Version: 1,
	}
}

func (f *fakeStore) amount(owner, account, currency string) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[[3]string{owner, account, currency}].Amount
}

func (f *fakeStore) FindBalance(_ context.Context, owner, account, currency string) (*core.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFind[account+"/"+currency]; err != nil {
		return nil, err
	}
	b, ok := f.balances[[3]string{owner, account, currency}]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (f *fakeStore) CreateBalance(_ context.Context, b core.Balance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failWrite[b.AccountID+"/"+b.CurrencyID]; err != nil {
		return err
	}
	k := [3]string{b.OwnerUID, b.AccountID, b.CurrencyID}
	if _, ok := f.balances[k]; ok {
		return ErrBalanceExists
	}
	b.Version = 1
	f.balances[k] = b
	f.writes = append(f.writes, write{"create", b.AccountID, b.Amount})
	return nil
}

func (f *fakeStore) UpdateBalance(_ context.Context, b core.Balance, amount decimal.Decimal, expected int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := b.AccountID + "/" + b.CurrencyID
	if err := f.failWrite[key]; err != nil {
		return err
	}
	k := [3]string{b.OwnerUID, b.AccountID, b.CurrencyID}
	cur := f.balances[k]
	if f.interfere[key] > 0 {
		f.interfere[key]--
		cur.Amount = cur.Amount.Add(dec("1"))
		cur.Version++
		f.balances[k] = cur
	}
	if expected != AnyVersion && cur.Version != expected {
		return ErrVersionConflict
	}
	cur.Amount = amount
	cur.Version++
	f.balances[k] = cur
	f.writes = append(f.writes, write{"update", b.AccountID, amount})
	return nil
}

func newTestLedger(store BalanceStore, cfg Config) *Ledger {
	return New(store, cfg, applog.Discard())
}

func TestAggregate(t *testing.T) {
	got := Aggregate([]core.Adjustment{
		adj("A", "C", "5"),
		adj("B", "C", "1.239"),
		adj("A", "C", "-5"),
		adj("A", "C", "2"),
		adj("B", "D", "0.001"),
		adj("B", "D", "-0.001"),
	})

	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].AccountID)
	assert.True(t, got[0].Delta.Equal(dec("2")))
	assert.Equal(t, "B", got[1].AccountID)
	assert.True(t, got[1].Delta.Equal(dec("1.23")), "sums are floored to the cent")
}

func TestApplyAdjustments_SingleNetWrite(t *testing.T) {
	store := newFakeStore()
	l := newTestLedger(store, DefaultConfig())

	err := l.ApplyAdjustments(context.Background(), "ws", []core.Adjustment{
		adj("A", "C", "5"), adj("A", "C", "-5"), adj("A", "C", "2"),
	})
	require.NoError(t, err)

	require.Len(t, store.writes, 1)
	assert.Equal(t, "create", store.writes[0].op)
	assert.True(t, store.writes[0].amount.Equal(dec("2")))
}

func TestApplyAdjustments_NetZeroWritesNothing(t *testing.T) {
	store := newFakeStore()
	store.seed("ws", "A", "C", "10")
	l := newTestLedger(store, DefaultConfig())

	err := l.ApplyAdjustments(context.Background(), "ws", []core.Adjustment{
		adj("A", "C", "5"), adj("A", "C", "-5"),
	})
	require.NoError(t, err)
	assert.Empty(t, store.writes)
	assert.True(t, store.amount("ws", "A", "C").Equal(dec("10")))
}

func TestApplyAdjustments_NoOps(t *testing.T) {
	store := newFakeStore()
	l := newTestLedger(store, DefaultConfig())

	require.NoError(t, l.ApplyAdjustments(context.Background(), "", []core.Adjustment{adj("A", "C", "1")}))
	require.NoError(t, l.ApplyAdjustments(context.Background(), "  ", []core.Adjustment{adj("A", "C", "1")}))
	require.NoError(t, l.ApplyAdjustments(context.Background(), "ws", nil))
	assert.Empty(t, store.writes)
}

func TestApplyAdjustments_UpdatesExisting(t *testing.T) {
	store := newFakeStore()
	store.seed("ws", "A", "C", "10.50")
	l := newTestLedger(store, DefaultConfig())

	require.NoError(t, l.ApplyAdjustments(context.Background(), "ws", []core.Adjustment{adj("A", "C", "-0.519")}))

	require.Len(t, store.writes, 1)
	assert.Equal(t, "update", store.writes[0].op)
	assert.True(t, store.amount("ws", "A", "C").Equal(dec("9.98")), "got %s", store.amount("ws", "A", "C"))
	assert.Len(t, store.balances, 1, "update must not create a second record")
}

func TestApplyAdjustments_ExchangeLegs(t *testing.T) {
	store := newFakeStore()
	l := newTestLedger(store, DefaultConfig())

	require.NoError(t, l.ApplyAdjustments(context.Background(), "ws", []core.Adjustment{
		adj("A", "X", "-100"), adj("A", "Y", "90"),
	}))
	assert.True(t, store.amount("ws", "A", "X").Equal(dec("-100")))
	assert.True(t, store.amount("ws", "A", "Y").Equal(dec("90")))
}

func TestApplyAdjustments_PartialFailure(t *testing.T) {
	store := newFakeStore()
	boom := errors.New("disk full")
	store.failWrite["B/C"] = boom
	l := newTestLedger(store, DefaultConfig())

	err := l.ApplyAdjustments(context.Background(), "ws", []core.Adjustment{
		adj("A", "C", "-10"), adj("B", "C", "10"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAggregateOperation)
	assert.ErrorIs(t, err, boom)

	var agg *AggregateError
	require.ErrorAs(t, err, &agg)
	failed := agg.FailedAdjustments()
	require.Len(t, failed, 1)
	assert.Equal(t, "B", failed[0].AccountID)
	assert.True(t, failed[0].Delta.Equal(dec("10")))

	// The successful group is not rolled back.
	assert.True(t, store.amount("ws", "A", "C").Equal(dec("-10")))
}

func TestApplyAdjustments_ReadFailure(t *testing.T) {
	store := newFakeStore()
	store.failFind["A/C"] = errors.New("timeout")
	l := newTestLedger(store, DefaultConfig())

	err := l.ApplyAdjustments(context.Background(), "ws", []core.Adjustment{adj("A", "C", "1")})
	assert.ErrorIs(t, err, ErrAggregateOperation)
	assert.Empty(t, store.writes)
}

func TestApplyAdjustments_OptimisticRetry(t *testing.T) {
	store := newFakeStore()
	store.seed("ws", "A", "C", "10")
	store.interfere["A/C"] = 2 // another writer adds 1 twice
	l := newTestLedger(store, Config{Optimistic: true, MaxConflictRetries: 3})

	require.NoError(t, l.ApplyAdjustments(context.Background(), "ws", []core.Adjustment{adj("A", "C", "5")}))
	assert.True(t, store.amount("ws", "A", "C").Equal(dec("17")), "no update may be lost, got %s", store.amount("ws", "A", "C"))
}

func TestApplyAdjustments_OptimisticRetriesExhausted(t *testing.T) {
	store := newFakeStore()
	store.seed("ws", "A", "C", "10")
	store.interfere["A/C"] = 10
	l := newTestLedger(store, Config{Optimistic: true, MaxConflictRetries: 2})

	err := l.ApplyAdjustments(context.Background(), "ws", []core.Adjustment{adj("A", "C", "5")})
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.ErrorIs(t, err, ErrAggregateOperation)
}

func TestApplyAdjustments_LastWriterWinsWithoutVersioning(t *testing.T) {
	store := newFakeStore()
	store.seed("ws", "A", "C", "10")
	store.interfere["A/C"] = 1
	l := newTestLedger(store, Config{Optimistic: false})

	require.NoError(t, l.ApplyAdjustments(context.Background(), "ws", []core.Adjustment{adj("A", "C", "5")}))
	assert.True(t, store.amount("ws", "A", "C").Equal(dec("15")), "concurrent +1 is overwritten")
}

type racingCreateStore struct {
	*fakeStore
	once sync.Once
}

// FindBalance hides the record on the first read so the ledger tries to create it.
func (r *racingCreateStore) FindBalance(ctx context.Context, owner, account, currency string) (*core.Balance, error) {
	hide := false
	r.once.Do(func() { hide = true })
	if hide {
		return nil, nil
	}
	return r.fakeStore.FindBalance(ctx, owner, account, currency)
}

func TestApplyAdjustments_CreateCollisionBecomesUpdate(t *testing.T) {
	for _, optimistic := range []bool{true, false} {
		store := &racingCreateStore{fakeStore: newFakeStore()}
		store.seed("ws", "A", "C", "3")
		l := newTestLedger(store, Config{Optimistic: optimistic, MaxConflictRetries: 1})

		require.NoError(t, l.ApplyAdjustments(context.Background(), "ws", []core.Adjustment{adj("A", "C", "2")}))
		assert.True(t, store.amount("ws", "A", "C").Equal(dec("5")))
		assert.Len(t, store.balances, 1)
	}
}

func TestApplyAdjustments_ManyGroupsConcurrently(t *testing.T) {
	store := newFakeStore()
	l := newTestLedger(store, Config{Optimistic: true, MaxConflictRetries: 1, MaxConcurrency: 2})

	var adjs []core.Adjustment
	for _, acct := range []string{"A", "B", "C", "D", "E"} {
		adjs = append(adjs, adj(acct, "EUR", "1.5"), adj(acct, "EUR", "1.5"))
	}
	require.NoError(t, l.ApplyAdjustments(context.Background(), "ws", adjs))
	assert.Len(t, store.writes, 5)
	for _, acct := range []string{"A", "B", "C", "D", "E"} {
		assert.True(t, store.amount("ws", acct, "EUR").Equal(dec("3")))
	}
}

func TestApplyAdjustments_CancelledContext(t *testing.T) {
	store := newFakeStore()
	l := newTestLedger(store, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.ApplyAdjustments(ctx, "ws", []core.Adjustment{adj("A", "C", "1")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.writes)
}
