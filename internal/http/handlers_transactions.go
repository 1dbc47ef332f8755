package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"conti/internal/core"
	applog "conti/internal/log"
	"conti/internal/services"
)

// ledgerOutOfSyncBody is returned when the record was stored but its balance
// effect was not, so clients do not retry and duplicate the transaction.
type ledgerOutOfSyncBody struct {
	Error       string            `json:"error"`
	Transaction *core.Transaction `json:"transaction"`
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request, ownerUID string) {
	txType := core.TransactionType(r.PathValue("type"))
	if !txType.IsValid() {
		NotFoundError(fmt.Sprintf("unknown transaction type %q", txType)).Write(w)
		return
	}

	parser := NewRequestBodyParser(w, r)
	var req entryRequest
	if err := parser.Decode(&req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	in, err := inputFor(parser, txType)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	date, comment, err := req.entry(s.now())
	if err != nil {
		s.fail(w, r, err, applog.OpCreate)
		return
	}
	entry := services.Entry{Date: date, Comment: comment}

	unlock := s.locks.lock(ownerUID)
	defer unlock()

	tx, err := s.create(r.Context(), ownerUID, in, entry)
	if tx != nil {
		s.invalidate(r.Context(), ownerUID)
		s.metrics.mutations.Add(1)
	}
	if err != nil {
		s.failMutation(w, r, err, tx, applog.OpCreate)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Header("Location", "/api/transactions/"+tx.ID).Data(tx).Write(w)
}

func (s *Server) create(ctx context.Context, ownerUID string, in core.Input, entry services.Entry) (*core.Transaction, error) {
	switch v := in.(type) {
	case core.ExpenseInput:
		return s.transactions.CreateExpense(ctx, ownerUID, v, entry)
	case core.IncomeInput:
		return s.transactions.CreateIncome(ctx, ownerUID, v, entry)
	case core.TransferInput:
		return s.transactions.CreateTransfer(ctx, ownerUID, v, entry)
	case core.ExchangeInput:
		return s.transactions.CreateExchange(ctx, ownerUID, v, entry)
	default:
		return nil, fmt.Errorf("%w: %T", core.ErrInvalidType, in)
	}
}

// handleUpdateTransaction replaces a transaction. The body has the same shape
// as a create; "type" may change it and defaults to the stored type.
func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request, ownerUID string) {
	parser := NewRequestBodyParser(w, r)
	var req entryRequest
	if err := parser.Decode(&req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	unlock := s.locks.lock(ownerUID)
	defer unlock()

	existing, err := s.transactions.GetTransaction(r.Context(), ownerUID, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err, applog.OpUpdate)
		return
	}
	if req.Type == "" {
		req.Type = existing.Type()
	}
	in, err := inputFor(parser, req.Type)
	if err != nil {
		s.fail(w, r, err, applog.OpUpdate)
		return
	}
	date, comment, err := req.entry(s.now())
	if err != nil {
		s.fail(w, r, err, applog.OpUpdate)
		return
	}

	tx, err := s.transactions.UpdateTransaction(r.Context(), existing, in, services.Entry{Date: date, Comment: comment})
	if tx != nil {
		s.invalidate(r.Context(), ownerUID)
		s.metrics.mutations.Add(1)
	}
	if err != nil {
		s.failMutation(w, r, err, tx, applog.OpUpdate)
		return
	}
	NewJSONResponse().Data(tx).Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request, ownerUID string) {
	unlock := s.locks.lock(ownerUID)
	defer unlock()

	existing, err := s.transactions.GetTransaction(r.Context(), ownerUID, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err, applog.OpDelete)
		return
	}
	if err := s.transactions.DeleteTransaction(r.Context(), existing); err != nil {
		s.fail(w, r, err, applog.OpDelete)
		return
	}
	s.invalidate(r.Context(), ownerUID)
	s.metrics.mutations.Add(1)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request, ownerUID string) {
	txType := core.TransactionType(sanitizeInput(r.URL.Query().Get("type")))
	txs, err := s.transactions.ListTransactions(r.Context(), ownerUID, txType)
	if err != nil {
		s.fail(w, r, err, applog.OpList)
		return
	}
	if txs == nil {
		txs = []core.Transaction{}
	}
	NewJSONResponse().Data(txs).Write(w)
}

// failMutation reports a stored transaction whose balances lag separately
// from ordinary failures.
func (s *Server) failMutation(w http.ResponseWriter, r *http.Request, err error, tx *core.Transaction, op string) {
	if tx == nil || !errors.Is(err, services.ErrLedgerOutOfSync) {
		s.fail(w, r, err, op)
		return
	}
	applog.FromContext(r.Context()).LogError(r.Context(), "Transaction stored with stale balances", err, op,
		applog.NewFields().WithTransaction(tx.OwnerUID, tx.ID, string(tx.Type())))
	NewJSONResponse().
		Status(http.StatusInternalServerError).
		Data(ledgerOutOfSyncBody{Error: services.ErrLedgerOutOfSync.Error(), Transaction: tx}).
		Write(w)
}
