package core

import "github.com/shopspring/decimal"

// CategoryAmount is an expense total for one category in one currency.
type CategoryAmount struct {
	CategoryID string          `json:"categoryId"`
	CurrencyID string          `json:"currencyId"`
	Amount     decimal.Decimal `json:"amount"`
}

// CurrencyAmount is a total in one currency.
type CurrencyAmount struct {
	CurrencyID string          `json:"currencyId"`
	Amount     decimal.Decimal `json:"amount"`
}

// MonthOverview is a compact summary for a specific year+month.
type MonthOverview struct {
	Year       int              `json:"year"`
	Month      int              `json:"month"` // 1-12
	Expenses   []CurrencyAmount `json:"expenses"`
	Income     []CurrencyAmount `json:"income"`
	ByCategory []CategoryAmount `json:"byCategory"`
}

// SummarizeMonth totals expenses by category and currency, and income by
// currency, for transactions dated in the given month. Transfers and exchanges
// move money between balances and are not counted.
func SummarizeMonth(txs []Transaction, year, month int) MonthOverview {
	ov := MonthOverview{Year: year, Month: month}
	expenses := newTotals[string]()
	income := newTotals[string]()
	byCategory := newTotals[[2]string]()

	for _, t := range txs {
		if t.Date.Year() != year || int(t.Date.Month()) != month {
			continue
		}
		switch d := t.Details.(type) {
		case Expense:
			expenses.add(d.CurrencyID, d.Amount)
			byCategory.add([2]string{d.CategoryID, d.CurrencyID}, d.Amount)
		case Income:
			income.add(d.CurrencyID, d.Amount)
		}
	}

	for _, k := range expenses.order {
		ov.Expenses = append(ov.Expenses, CurrencyAmount{CurrencyID: k, Amount: expenses.sums[k]})
	}
	for _, k := range income.order {
		ov.Income = append(ov.Income, CurrencyAmount{CurrencyID: k, Amount: income.sums[k]})
	}
	for _, k := range byCategory.order {
		ov.ByCategory = append(ov.ByCategory, CategoryAmount{CategoryID: k[0], CurrencyID: k[1], Amount: byCategory.sums[k]})
	}
	return ov
}

// totals keeps insertion order so summaries are stable.
type totals[K comparable] struct {
	order []K
	sums  map[K]decimal.Decimal
}

func newTotals[K comparable]() *totals[K] {
	return &totals[K]{sums: make(map[K]decimal.Decimal)}
}

func (t *totals[K]) add(k K, v decimal.Decimal) {
	cur, ok := t.sums[k]
	if !ok {
		t.order = append(t.order, k)
	}
	t.sums[k] = cur.Add(v)
}
