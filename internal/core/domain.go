package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TypeExpense  TransactionType = "expense"
	TypeIncome   TransactionType = "income"
	TypeTransfer TransactionType = "transfer"
	TypeExchange TransactionType = "exchange"
)

const dateLayout = "2006-01-02"

type (
	TransactionType string

	Date struct {
		time.Time
	}

	Account struct {
		ID        string    `json:"id"`
		OwnerUID  string    `json:"ownerUid"`
		Name      string    `json:"name"`
		Color     string    `json:"color,omitempty"`
		IconURL   string    `json:"iconUrl,omitempty"`
		CreatedBy string    `json:"createdBy,omitempty"`
		CreatedAt time.Time `json:"createdAt"`
	}

	Currency struct {
		ID       string `json:"id"`
		OwnerUID string `json:"ownerUid"`
		Name     string `json:"name"`
	}

	// Balance is the stored amount of one currency inside one account.
	// ID equals CurrencyID; the record lives under its account.
	Balance struct {
		ID         string          `json:"id"`
		OwnerUID   string          `json:"ownerUid"`
		AccountID  string          `json:"accountId"`
		CurrencyID string          `json:"currencyId"`
		Amount     decimal.Decimal `json:"amount"`
		Version    int64           `json:"version"`
	}

	// Adjustment is a signed delta for one (account, currency) balance.
	Adjustment struct {
		AccountID  string          `json:"accountId"`
		CurrencyID string          `json:"currencyId"`
		Delta      decimal.Decimal `json:"delta"`
	}
)

var (
	ErrValidation     = errors.New("validation error")
	ErrMissingField   = fmt.Errorf("%w: missing field", ErrValidation)
	ErrInvalidAmount  = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrInvalidType    = fmt.Errorf("%w: invalid transaction type", ErrValidation)
	ErrInvalidDate    = fmt.Errorf("%w: invalid date", ErrValidation)
	ErrCommentTooLong = fmt.Errorf("%w: comment too long (max 200 characters)", ErrValidation)
	ErrNotFound       = errors.New("not found")
)

const maxCommentLength = 200

func missingField(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, name)
}

// requireFields returns a MissingField error for the first blank value.
// Pairs are name, value.
func requireFields(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return missingField(pairs[i])
		}
	}
	return nil
}

func (t TransactionType) IsValid() bool {
	switch t {
	case TypeExpense, TypeIncome, TypeTransfer, TypeExchange:
		return true
	default:
		return false
	}
}

func (t TransactionType) String() string {
	return string(t)
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return missingField("date")
	}
	return nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Negate flips the sign of every delta.
func Negate(adjs []Adjustment) []Adjustment {
	out := make([]Adjustment, len(adjs))
	for i, a := range adjs {
		out[i] = Adjustment{AccountID: a.AccountID, CurrencyID: a.CurrencyID, Delta: a.Delta.Neg()}
	}
	return out
}

func (a Account) Validate() error {
	return requireFields("ownerUid", a.OwnerUID, "name", a.Name)
}

func (c Currency) Validate() error {
	return requireFields("ownerUid", c.OwnerUID, "id", c.ID, "name", c.Name)
}
