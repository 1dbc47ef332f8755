package http

import (
	"fmt"
	"net/http"
	"strconv"

	"conti/internal/cache"
	"conti/internal/core"
	applog "conti/internal/log"
)

func (s *Server) handleListBalances(w http.ResponseWriter, r *http.Request, ownerUID string) {
	key := cache.Key(ownerUID, "balances")
	if balances, ok := s.balanceCache.Get(key); ok {
		s.metrics.cacheHits.Add(1)
		NewJSONResponse().Data(balances).Write(w)
		return
	}
	s.metrics.cacheMisses.Add(1)

	balances, err := s.catalog.ListBalances(r.Context(), ownerUID)
	if err != nil {
		s.fail(w, r, err, applog.OpList)
		return
	}
	if balances == nil {
		balances = []core.Balance{}
	}
	s.balanceCache.Set(key, balances)
	NewJSONResponse().Data(balances).Write(w)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request, ownerUID string) {
	params, err := ParseMonthParams(r.URL.Query(), s.now())
	if err != nil {
		s.fail(w, r, err, applog.OpRead)
		return
	}

	key := cache.Key(ownerUID, "overview", strconv.Itoa(params.Year), strconv.Itoa(params.Month))
	if ov, ok := s.overviewCache.Get(key); ok {
		s.metrics.cacheHits.Add(1)
		NewJSONResponse().Data(ov).Write(w)
		return
	}
	s.metrics.cacheMisses.Add(1)

	ov, err := s.stats.MonthOverview(r.Context(), ownerUID, params.Year, params.Month)
	if err != nil {
		s.fail(w, r, fmt.Errorf("month overview (year=%d, month=%d): %w", params.Year, params.Month, err), applog.OpRead)
		return
	}
	s.overviewCache.Set(key, ov)
	NewJSONResponse().Data(ov).Write(w)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request, ownerUID string) {
	accounts, err := s.catalog.ListAccounts(r.Context(), ownerUID)
	if err != nil {
		s.fail(w, r, err, applog.OpList)
		return
	}
	if accounts == nil {
		accounts = []core.Account{}
	}
	NewJSONResponse().Data(accounts).Write(w)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request, ownerUID string) {
	var a core.Account
	if err := NewRequestBodyParser(w, r).Decode(&a); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	a.OwnerUID = ownerUID
	a.ID = sanitizeInput(a.ID)
	a.Name = sanitizeInput(a.Name)

	created, err := s.catalog.CreateAccount(r.Context(), a)
	if err != nil {
		s.fail(w, r, err, applog.OpCreate)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Data(created).Write(w)
}

// handleDeleteAccount removes the account and its balances.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request, ownerUID string) {
	unlock := s.locks.lock(ownerUID)
	defer unlock()

	if err := s.catalog.DeleteAccount(r.Context(), ownerUID, r.PathValue("id")); err != nil {
		s.fail(w, r, err, applog.OpDelete)
		return
	}
	s.invalidate(r.Context(), ownerUID)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleListCurrencies(w http.ResponseWriter, r *http.Request, ownerUID string) {
	currencies, err := s.catalog.ListCurrencies(r.Context(), ownerUID)
	if err != nil {
		s.fail(w, r, err, applog.OpList)
		return
	}
	if currencies == nil {
		currencies = []core.Currency{}
	}
	NewJSONResponse().Data(currencies).Write(w)
}

func (s *Server) handleCreateCurrency(w http.ResponseWriter, r *http.Request, ownerUID string) {
	var c core.Currency
	if err := NewRequestBodyParser(w, r).Decode(&c); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	c.OwnerUID = ownerUID
	c.ID = sanitizeInput(c.ID)
	c.Name = sanitizeInput(c.Name)

	created, err := s.catalog.CreateCurrency(r.Context(), c)
	if err != nil {
		s.fail(w, r, err, applog.OpCreate)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Data(created).Write(w)
}

// handleDeleteCurrency answers 409 while any account still holds the currency.
func (s *Server) handleDeleteCurrency(w http.ResponseWriter, r *http.Request, ownerUID string) {
	unlock := s.locks.lock(ownerUID)
	defer unlock()

	if err := s.catalog.DeleteCurrency(r.Context(), ownerUID, r.PathValue("id")); err != nil {
		s.fail(w, r, err, applog.OpDelete)
		return
	}
	s.invalidate(r.Context(), ownerUID)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
