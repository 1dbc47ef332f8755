// Package memory keeps balances, transactions and the account/currency catalog
// in process memory. It backs the "memory" data backend and the tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"conti/internal/core"
	"conti/internal/ledger"
)

type balanceKey struct {
	owner, account, currency string
}

type Store struct {
	mu           sync.Mutex
	balances     map[balanceKey]core.Balance
	transactions map[string]core.Transaction // by owner + "/" + id
	accounts     map[string]core.Account
	currencies   map[string]core.Currency
	repairs      map[string]core.Repair
}

func New() *Store {
	return &Store{
		balances:     make(map[balanceKey]core.Balance),
		transactions: make(map[string]core.Transaction),
		accounts:     make(map[string]core.Account),
		currencies:   make(map[string]core.Currency),
		repairs:      make(map[string]core.Repair),
	}
}

func scoped(owner, id string) string {
	return owner + "/" + id
}

// FindBalance implements ledger.BalanceStore
func (s *Store) FindBalance(_ context.Context, ownerUID, accountID, currencyID string) (*core.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[balanceKey{ownerUID, accountID, currencyID}]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

// CreateBalance implements ledger.BalanceStore
func (s *Store) CreateBalance(_ context.Context, b core.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := balanceKey{b.OwnerUID, b.AccountID, b.CurrencyID}
	if _, ok := s.balances[k]; ok {
		return fmt.Errorf("%s/%s: %w", b.AccountID, b.ID, ledger.ErrBalanceExists)
	}
	b.Amount = core.RoundAmount(b.Amount)
	b.Version = 1
	s.balances[k] = b
	return nil
}

// UpdateBalance implements ledger.BalanceStore
func (s *Store) UpdateBalance(_ context.Context, b core.Balance, amount decimal.Decimal, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := balanceKey{b.OwnerUID, b.AccountID, b.CurrencyID}
	cur, ok := s.balances[k]
	if !ok {
		return fmt.Errorf("balance %s/%s: %w", b.AccountID, b.ID, core.ErrNotFound)
	}
	if expectedVersion != ledger.AnyVersion && cur.Version != expectedVersion {
		return fmt.Errorf("balance %s/%s at version %d, expected %d: %w",
			b.AccountID, b.ID, cur.Version, expectedVersion, ledger.ErrVersionConflict)
	}
	cur.Amount = core.RoundAmount(amount)
	cur.Version++
	s.balances[k] = cur
	return nil
}

// ListBalances returns the workspace balances ordered by account then currency.
func (s *Store) ListBalances(_ context.Context, ownerUID string) ([]core.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Balance
	for k, b := range s.balances {
		if k.owner == ownerUID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountID != out[j].AccountID {
			return out[i].AccountID < out[j].AccountID
		}
		return out[i].CurrencyID < out[j].CurrencyID
	})
	return out, nil
}

func (s *Store) CreateTransaction(_ context.Context, tx core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := scoped(tx.OwnerUID, tx.ID)
	if _, ok := s.transactions[k]; ok {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	s.transactions[k] = tx
	return nil
}

func (s *Store) UpdateTransaction(_ context.Context, tx core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := scoped(tx.OwnerUID, tx.ID)
	if _, ok := s.transactions[k]; !ok {
		return fmt.Errorf("transaction %s: %w", tx.ID, core.ErrNotFound)
	}
	s.transactions[k] = tx
	return nil
}

func (s *Store) DeleteTransaction(_ context.Context, ownerUID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := scoped(ownerUID, id)
	if _, ok := s.transactions[k]; !ok {
		return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	delete(s.transactions, k)
	return nil
}

func (s *Store) GetTransaction(_ context.Context, ownerUID, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[scoped(ownerUID, id)]
	if !ok {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	return tx, nil
}

// ListTransactions returns the owner's transactions of txType (all types when
// empty), newest date first.
func (s *Store) ListTransactions(_ context.Context, ownerUID string, txType core.TransactionType) ([]core.Transaction, error) {
	return s.filter(func(tx core.Transaction) bool {
		return tx.OwnerUID == ownerUID && (txType == "" || tx.Type() == txType)
	}), nil
}

// ListTransactionsBetween returns transactions dated in [from, to).
func (s *Store) ListTransactionsBetween(_ context.Context, ownerUID string, from, to core.Date) ([]core.Transaction, error) {
	return s.filter(func(tx core.Transaction) bool {
		return tx.OwnerUID == ownerUID && !tx.Date.Before(from.Time) && tx.Date.Before(to.Time)
	}), nil
}

func (s *Store) filter(keep func(core.Transaction) bool) []core.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, tx := range s.transactions {
		if keep(tx) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.After(out[j].Date.Time)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Store) CreateAccount(_ context.Context, a core.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := scoped(a.OwnerUID, a.ID)
	if _, ok := s.accounts[k]; ok {
		return fmt.Errorf("account %s already exists", a.ID)
	}
	s.accounts[k] = a
	return nil
}

func (s *Store) ListAccounts(_ context.Context, ownerUID string) ([]core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Account
	for _, a := range s.accounts {
		if a.OwnerUID == ownerUID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteAccount removes the account and every balance it holds.
func (s *Store) DeleteAccount(_ context.Context, ownerUID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := scoped(ownerUID, id)
	if _, ok := s.accounts[k]; !ok {
		return fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	delete(s.accounts, k)
	for bk := range s.balances {
		if bk.owner == ownerUID && bk.account == id {
			delete(s.balances, bk)
		}
	}
	return nil
}

func (s *Store) CreateCurrency(_ context.Context, c core.Currency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := scoped(c.OwnerUID, c.ID)
	if _, ok := s.currencies[k]; ok {
		return fmt.Errorf("currency %s already exists", c.ID)
	}
	s.currencies[k] = c
	return nil
}

func (s *Store) ListCurrencies(_ context.Context, ownerUID string) ([]core.Currency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Currency
	for _, c := range s.currencies {
		if c.OwnerUID == ownerUID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteCurrency(_ context.Context, ownerUID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := scoped(ownerUID, id)
	if _, ok := s.currencies[k]; !ok {
		return fmt.Errorf("currency %s: %w", id, core.ErrNotFound)
	}
	delete(s.currencies, k)
	return nil
}

// CurrencyInUse reports whether any balance references the currency.
func (s *Store) CurrencyInUse(_ context.Context, ownerUID, currencyID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.balances {
		if k.owner == ownerUID && k.currency == currencyID {
			return true, nil
		}
	}
	return false, nil
}

// SaveRepair inserts or replaces a ledger repair.
func (s *Store) SaveRepair(_ context.Context, r core.Repair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Adjustments = append([]core.Adjustment(nil), r.Adjustments...)
	s.repairs[r.ID] = r
	return nil
}

// PendingRepairs returns up to limit pending repairs, oldest first.
func (s *Store) PendingRepairs(_ context.Context, limit int) ([]core.Repair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Repair
	for _, r := range s.repairs {
		if r.Status == core.RepairPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) DeleteRepair(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.repairs[id]; !ok {
		return fmt.Errorf("repair %s: %w", id, core.ErrNotFound)
	}
	delete(s.repairs, id)
	return nil
}

func (s *Store) RetryFailedRepairs(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.repairs {
		if r.Status == core.RepairFailed {
			r.Status = core.RepairPending
			r.Attempts = 0
			s.repairs[id] = r
			n++
		}
	}
	return n, nil
}

func (s *Store) Close() error {
	return nil
}
