package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Details is the type-specific part of a transaction.
// Implemented only by Expense, Income, Transfer and Exchange.
type Details interface {
	Type() TransactionType
	// Adjustments returns the forward balance effect of the transaction.
	Adjustments() []Adjustment
	Validate() error
	sealed()
}

type (
	Expense struct {
		AccountID  string
		CurrencyID string
		CategoryID string
		Amount     decimal.Decimal
	}

	Income struct {
		AccountID  string
		CurrencyID string
		SourceID   string
		Amount     decimal.Decimal
	}

	Transfer struct {
		FromAccountID string
		ToAccountID   string
		CurrencyID    string
		Amount        decimal.Decimal
	}

	Exchange struct {
		AccountID      string
		FromCurrencyID string
		ToCurrencyID   string
		AmountFrom     decimal.Decimal // sold
		AmountTo       decimal.Decimal // bought
	}
)

// Transaction is a persisted financial fact owned by one workspace.
type Transaction struct {
	ID        string
	OwnerUID  string
	Date      Date
	Comment   string
	CreatedAt time.Time
	Details   Details
}

func (Expense) sealed()  {}
func (Income) sealed()   {}
func (Transfer) sealed() {}
func (Exchange) sealed() {}

func (Expense) Type() TransactionType  { return TypeExpense }
func (Income) Type() TransactionType   { return TypeIncome }
func (Transfer) Type() TransactionType { return TypeTransfer }
func (Exchange) Type() TransactionType { return TypeExchange }

func (e Expense) Adjustments() []Adjustment {
	return []Adjustment{{AccountID: e.AccountID, CurrencyID: e.CurrencyID, Delta: e.Amount.Neg()}}
}

func (i Income) Adjustments() []Adjustment {
	return []Adjustment{{AccountID: i.AccountID, CurrencyID: i.CurrencyID, Delta: i.Amount}}
}

func (t Transfer) Adjustments() []Adjustment {
	return []Adjustment{
		{AccountID: t.FromAccountID, CurrencyID: t.CurrencyID, Delta: t.Amount.Neg()},
		{AccountID: t.ToAccountID, CurrencyID: t.CurrencyID, Delta: t.Amount},
	}
}

func (x Exchange) Adjustments() []Adjustment {
	return []Adjustment{
		{AccountID: x.AccountID, CurrencyID: x.FromCurrencyID, Delta: x.AmountFrom.Neg()},
		{AccountID: x.AccountID, CurrencyID: x.ToCurrencyID, Delta: x.AmountTo},
	}
}

func (e Expense) Validate() error {
	return requireFields("accountId", e.AccountID, "currencyId", e.CurrencyID, "categoryId", e.CategoryID)
}

func (i Income) Validate() error {
	return requireFields("accountId", i.AccountID, "currencyId", i.CurrencyID, "sourceId", i.SourceID)
}

// Validate accepts FromAccountID == ToAccountID; the two legs cancel in the ledger.
func (t Transfer) Validate() error {
	return requireFields("fromAccountId", t.FromAccountID, "toAccountId", t.ToAccountID, "currencyId", t.CurrencyID)
}

func (x Exchange) Validate() error {
	return requireFields("accountId", x.AccountID, "fromCurrencyId", x.FromCurrencyID, "toCurrencyId", x.ToCurrencyID)
}

// Type returns the variant tag, or "" when Details is unset.
func (t Transaction) Type() TransactionType {
	if t.Details == nil {
		return ""
	}
	return t.Details.Type()
}

// Adjustments is the forward balance effect.
func (t Transaction) Adjustments() []Adjustment {
	if t.Details == nil {
		return nil
	}
	return t.Details.Adjustments()
}

// ReverseAdjustments undoes the effect of Adjustments.
func (t Transaction) ReverseAdjustments() []Adjustment {
	return Negate(t.Adjustments())
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.OwnerUID) == "" {
		return missingField("ownerUid")
	}
	if t.Details == nil {
		return ErrInvalidType
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if utf8.RuneCountInString(t.Comment) > maxCommentLength {
		return ErrCommentTooLong
	}
	return t.Details.Validate()
}

// Record is the flat persisted/wire shape of a transaction. Field names are
// shared with every stored document and must not change.
type Record struct {
	ID        string          `json:"id"`
	Type      TransactionType `json:"type"`
	Date      Date            `json:"date"`
	Comment   string          `json:"comment,omitempty"`
	OwnerUID  string          `json:"ownerUid"`
	CreatedAt time.Time       `json:"createdAt"`

	AccountID      string           `json:"accountId,omitempty"`
	CurrencyID     string           `json:"currencyId,omitempty"`
	CategoryID     string           `json:"categoryId,omitempty"`
	SourceID       string           `json:"sourceId,omitempty"`
	FromAccountID  string           `json:"fromAccountId,omitempty"`
	ToAccountID    string           `json:"toAccountId,omitempty"`
	FromCurrencyID string           `json:"fromCurrencyId,omitempty"`
	ToCurrencyID   string           `json:"toCurrencyId,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	AmountFrom     *decimal.Decimal `json:"amountFrom,omitempty"`
	AmountTo       *decimal.Decimal `json:"amountTo,omitempty"`
}

// Record flattens the transaction.
func (t Transaction) Record() Record {
	r := Record{
		ID:        t.ID,
		Type:      t.Type(),
		Date:      t.Date,
		Comment:   t.Comment,
		OwnerUID:  t.OwnerUID,
		CreatedAt: t.CreatedAt,
	}
	switch d := t.Details.(type) {
	case Expense:
		r.AccountID, r.CurrencyID, r.CategoryID = d.AccountID, d.CurrencyID, d.CategoryID
		r.Amount = ptr(d.Amount)
	case Income:
		r.AccountID, r.CurrencyID, r.SourceID = d.AccountID, d.CurrencyID, d.SourceID
		r.Amount = ptr(d.Amount)
	case Transfer:
		r.FromAccountID, r.ToAccountID, r.CurrencyID = d.FromAccountID, d.ToAccountID, d.CurrencyID
		r.Amount = ptr(d.Amount)
	case Exchange:
		r.AccountID, r.FromCurrencyID, r.ToCurrencyID = d.AccountID, d.FromCurrencyID, d.ToCurrencyID
		r.AmountFrom, r.AmountTo = ptr(d.AmountFrom), ptr(d.AmountTo)
	}
	return r
}

// Transaction rebuilds the typed transaction from its flat shape.
func (r Record) Transaction() (Transaction, error) {
	t := Transaction{
		ID:        r.ID,
		OwnerUID:  r.OwnerUID,
		Date:      r.Date,
		Comment:   r.Comment,
		CreatedAt: r.CreatedAt,
	}
	switch r.Type {
	case TypeExpense:
		t.Details = Expense{AccountID: r.AccountID, CurrencyID: r.CurrencyID, CategoryID: r.CategoryID, Amount: deref(r.Amount)}
	case TypeIncome:
		t.Details = Income{AccountID: r.AccountID, CurrencyID: r.CurrencyID, SourceID: r.SourceID, Amount: deref(r.Amount)}
	case TypeTransfer:
		t.Details = Transfer{FromAccountID: r.FromAccountID, ToAccountID: r.ToAccountID, CurrencyID: r.CurrencyID, Amount: deref(r.Amount)}
	case TypeExchange:
		t.Details = Exchange{
			AccountID:      r.AccountID,
			FromCurrencyID: r.FromCurrencyID,
			ToCurrencyID:   r.ToCurrencyID,
			AmountFrom:     deref(r.AmountFrom),
			AmountTo:       deref(r.AmountTo),
		}
	default:
		return Transaction{}, fmt.Errorf("%w: %q", ErrInvalidType, r.Type)
	}
	return t, nil
}

func (t Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Record())
}

func (t *Transaction) UnmarshalJSON(data []byte) error {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	parsed, err := r.Transaction()
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

func deref(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
