package core

// Input is raw form data for one transaction type. Amounts are text so that
// "quick math" expressions can be typed in.
type Input interface {
	// Build validates the fields and normalizes the amounts.
	Build() (Details, error)
}

type (
	ExpenseInput struct {
		AccountID  string `json:"accountId"`
		CurrencyID string `json:"currencyId"`
		CategoryID string `json:"categoryId"`
		Amount     string `json:"amount"`
	}

	IncomeInput struct {
		AccountID  string `json:"accountId"`
		CurrencyID string `json:"currencyId"`
		SourceID   string `json:"sourceId"`
		Amount     string `json:"amount"`
	}

	TransferInput struct {
		FromAccountID string `json:"fromAccountId"`
		ToAccountID   string `json:"toAccountId"`
		CurrencyID    string `json:"currencyId"`
		Amount        string `json:"amount"`
	}

	ExchangeInput struct {
		AccountID      string `json:"accountId"`
		FromCurrencyID string `json:"fromCurrencyId"`
		ToCurrencyID   string `json:"toCurrencyId"`
		AmountFrom     string `json:"amountFrom"`
		AmountTo       string `json:"amountTo"`
	}
)

func (in ExpenseInput) Build() (Details, error) {
	d := Expense{AccountID: in.AccountID, CurrencyID: in.CurrencyID, CategoryID: in.CategoryID}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	amount, err := ParseAmount("amount", in.Amount)
	if err != nil {
		return nil, err
	}
	d.Amount = amount
	return d, nil
}

func (in IncomeInput) Build() (Details, error) {
	d := Income{AccountID: in.AccountID, CurrencyID: in.CurrencyID, SourceID: in.SourceID}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	amount, err := ParseAmount("amount", in.Amount)
	if err != nil {
		return nil, err
	}
	d.Amount = amount
	return d, nil
}

func (in TransferInput) Build() (Details, error) {
	d := Transfer{FromAccountID: in.FromAccountID, ToAccountID: in.ToAccountID, CurrencyID: in.CurrencyID}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	amount, err := ParseAmount("amount", in.Amount)
	if err != nil {
		return nil, err
	}
	d.Amount = amount
	return d, nil
}

func (in ExchangeInput) Build() (Details, error) {
	d := Exchange{AccountID: in.AccountID, FromCurrencyID: in.FromCurrencyID, ToCurrencyID: in.ToCurrencyID}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	from, err := ParseAmount("amountFrom", in.AmountFrom)
	if err != nil {
		return nil, err
	}
	to, err := ParseAmount("amountTo", in.AmountTo)
	if err != nil {
		return nil, err
	}
	d.AmountFrom, d.AmountTo = from, to
	return d, nil
}
