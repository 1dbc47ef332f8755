package core

import (
	"errors"
	"testing"
)

func TestInputBuild(t *testing.T) {
	d, err := ExpenseInput{AccountID: "A", CurrencyID: "C", CategoryID: "food", Amount: "12,345*2"}.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e := d.(Expense); !e.Amount.Equal(dec("24.69")) {
		t.Fatalf("expected floored 24.69, got %s", e.Amount)
	}

	d, err = ExchangeInput{AccountID: "A", FromCurrencyID: "X", ToCurrencyID: "Y", AmountFrom: "100", AmountTo: "90"}.Build()
	if err != nil || d.Type() != TypeExchange {
		t.Fatalf("unexpected exchange build: %v %v", d, err)
	}

	d, err = IncomeInput{AccountID: "A", CurrencyID: "C", SourceID: "s", Amount: "0"}.Build()
	if err != nil || !d.(Income).Amount.IsZero() {
		t.Fatalf("zero amount expression should be accepted: %v %v", d, err)
	}
}

func TestInputBuildErrors(t *testing.T) {
	cases := []struct {
		name string
		in   Input
		want error
	}{
		{"expense missing category", ExpenseInput{AccountID: "A", CurrencyID: "C", Amount: "1"}, ErrMissingField},
		{"expense blank amount", ExpenseInput{AccountID: "A", CurrencyID: "C", CategoryID: "c", Amount: " "}, ErrMissingField},
		{"income bad amount", IncomeInput{AccountID: "A", CurrencyID: "C", SourceID: "s", Amount: "1+"}, ErrInvalidAmount},
		{"transfer missing to", TransferInput{FromAccountID: "A", CurrencyID: "C", Amount: "1"}, ErrMissingField},
		{"exchange bad amountTo", ExchangeInput{AccountID: "A", FromCurrencyID: "X", ToCurrencyID: "Y", AmountFrom: "1", AmountTo: "x"}, ErrInvalidAmount},
		{"exchange missing amountFrom", ExchangeInput{AccountID: "A", FromCurrencyID: "X", ToCurrencyID: "Y", AmountTo: "1"}, ErrMissingField},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.in.Build(); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSummarizeMonth(t *testing.T) {
	txs := []Transaction{
		{Date: NewDate(2025, 3, 1), Details: Expense{AccountID: "A", CurrencyID: "EUR", CategoryID: "food", Amount: dec("10")}},
		{Date: NewDate(2025, 3, 2), Details: Expense{AccountID: "B", CurrencyID: "EUR", CategoryID: "food", Amount: dec("5.5")}},
		{Date: NewDate(2025, 3, 3), Details: Expense{AccountID: "A", CurrencyID: "USD", CategoryID: "travel", Amount: dec("7")}},
		{Date: NewDate(2025, 3, 4), Details: Income{AccountID: "A", CurrencyID: "EUR", SourceID: "salary", Amount: dec("1000")}},
		{Date: NewDate(2025, 3, 5), Details: Transfer{FromAccountID: "A", ToAccountID: "B", CurrencyID: "EUR", Amount: dec("50")}},
		{Date: NewDate(2025, 4, 1), Details: Expense{AccountID: "A", CurrencyID: "EUR", CategoryID: "food", Amount: dec("99")}},
	}
	ov := SummarizeMonth(txs, 2025, 3)
	if len(ov.Expenses) != 2 || !ov.Expenses[0].Amount.Equal(dec("15.5")) {
		t.Fatalf("unexpected expense totals: %+v", ov.Expenses)
	}
	if len(ov.Income) != 1 || !ov.Income[0].Amount.Equal(dec("1000")) {
		t.Fatalf("unexpected income totals: %+v", ov.Income)
	}
	if len(ov.ByCategory) != 2 || ov.ByCategory[0].CategoryID != "food" || !ov.ByCategory[0].Amount.Equal(dec("15.5")) {
		t.Fatalf("unexpected category totals: %+v", ov.ByCategory)
	}
}
