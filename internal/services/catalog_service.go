package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"conti/internal/core"
	applog "conti/internal/log"
)

// ErrCurrencyInUse is returned when deleting a currency some balance still holds.
var ErrCurrencyInUse = errors.New("currency is still held by an account")

// CatalogStore persists accounts and currencies and lists balances.
type CatalogStore interface {
	CreateAccount(ctx context.Context, a core.Account) error
	ListAccounts(ctx context.Context, ownerUID string) ([]core.Account, error)
	// DeleteAccount also removes the balances held by the account.
	DeleteAccount(ctx context.Context, ownerUID, id string) error
	CreateCurrency(ctx context.Context, c core.Currency) error
	ListCurrencies(ctx context.Context, ownerUID string) ([]core.Currency, error)
	DeleteCurrency(ctx context.Context, ownerUID, id string) error
	CurrencyInUse(ctx context.Context, ownerUID, currencyID string) (bool, error)
	ListBalances(ctx context.Context, ownerUID string) ([]core.Balance, error)
}

type CatalogService struct {
	store  CatalogStore
	logger *applog.Logger
	now    func() time.Time
}

func NewCatalogService(store CatalogStore, logger *applog.Logger) *CatalogService {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &CatalogService{
		store:  store,
		logger: logger.WithComponent(applog.ComponentCatalog),
		now:    time.Now,
	}
}

// CreateAccount assigns an id when a.ID is empty.
func (s *CatalogService) CreateAccount(ctx context.Context, a core.Account) (*core.Account, error) {
	a.Name = strings.TrimSpace(a.Name)
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateAccount(ctx, a); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	s.logger.InfoContext(ctx, "Account created",
		applog.FieldOwnerUID, a.OwnerUID,
		applog.FieldAccountID, a.ID)
	return &a, nil
}

func (s *CatalogService) ListAccounts(ctx context.Context, ownerUID string) ([]core.Account, error) {
	return s.store.ListAccounts(ctx, ownerUID)
}

func (s *CatalogService) DeleteAccount(ctx context.Context, ownerUID, id string) error {
	if err := s.store.DeleteAccount(ctx, ownerUID, id); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	s.logger.InfoContext(ctx, "Account deleted",
		applog.FieldOwnerUID, ownerUID,
		applog.FieldAccountID, id)
	return nil
}

// CreateCurrency keeps the caller's id (e.g. "EUR") and generates one otherwise.
func (s *CatalogService) CreateCurrency(ctx context.Context, c core.Currency) (*core.Currency, error) {
	c.ID = strings.TrimSpace(c.ID)
	c.Name = strings.TrimSpace(c.Name)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateCurrency(ctx, c); err != nil {
		return nil, fmt.Errorf("create currency: %w", err)
	}
	return &c, nil
}

func (s *CatalogService) ListCurrencies(ctx context.Context, ownerUID string) ([]core.Currency, error) {
	return s.store.ListCurrencies(ctx, ownerUID)
}

func (s *CatalogService) DeleteCurrency(ctx context.Context, ownerUID, id string) error {
	inUse, err := s.store.CurrencyInUse(ctx, ownerUID, id)
	if err != nil {
		return fmt.Errorf("check currency usage: %w", err)
	}
	if inUse {
		return fmt.Errorf("%w: %s", ErrCurrencyInUse, id)
	}
	if err := s.store.DeleteCurrency(ctx, ownerUID, id); err != nil {
		return fmt.Errorf("delete currency: %w", err)
	}
	return nil
}

func (s *CatalogService) ListBalances(ctx context.Context, ownerUID string) ([]core.Balance, error) {
	return s.store.ListBalances(ctx, ownerUID)
}

// StatsService computes read-only summaries over stored transactions.
type StatsService struct {
	store TransactionStore
}

func NewStatsService(store TransactionStore) *StatsService {
	return &StatsService{store: store}
}

// MonthOverview totals the month's expenses by category and currency and its
// income by currency.
func (s *StatsService) MonthOverview(ctx context.Context, ownerUID string, year, month int) (core.MonthOverview, error) {
	if month < 1 || month > 12 {
		return core.MonthOverview{}, fmt.Errorf("%w: month %d", core.ErrInvalidDate, month)
	}
	from := core.NewDate(year, month, 1)
	to := core.Date{Time: from.AddDate(0, 1, 0)}

	txs, err := s.store.ListTransactionsBetween(ctx, ownerUID, from, to)
	if err != nil {
		return core.MonthOverview{}, fmt.Errorf("list transactions: %w", err)
	}
	return core.SummarizeMonth(txs, year, month), nil
}
