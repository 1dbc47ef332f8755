package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"conti/internal/core"
	"conti/internal/services"
)

// entryFlags are shared by every create command.
type entryFlags struct {
	date    string
	comment string
}

func (f *entryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.date, "date", "", "transaction date YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&f.comment, "comment", "", "free-text comment")
}

func (f *entryFlags) entry() (services.Entry, error) {
	if strings.TrimSpace(f.date) == "" {
		now := time.Now()
		return services.Entry{Date: core.NewDate(now.Year(), int(now.Month()), now.Day()), Comment: f.comment}, nil
	}
	d, err := core.ParseDate(f.date)
	if err != nil {
		return services.Entry{}, err
	}
	return services.Entry{Date: d, Comment: f.comment}, nil
}

// reportCreated prints the new transaction. A stored transaction with stale
// balances is reported and still exits non-zero.
func reportCreated(cmd *cobra.Command, tx *core.Transaction, err error) error {
	if tx != nil {
		printf(cmd, "%s %s recorded on %s\n", tx.Type(), tx.ID, tx.Date)
	}
	if err != nil && tx != nil && errors.Is(err, services.ErrLedgerOutOfSync) {
		printf(cmd, "warning: balances were not updated, run `conti-cli repairs run` or re-save the transaction\n")
	}
	return err
}

func newExpenseCommand(s *session) *cobra.Command {
	var (
		in    core.ExpenseInput
		entry entryFlags
	)
	cmd := &cobra.Command{
		Use:   "expense",
		Short: "Record an expense (amount accepts arithmetic, e.g. 10+2,5)",
		Args:  cobra.NoArgs,
		RunE: s.withBackend(func(cmd *cobra.Command, _ []string) error {
			e, err := entry.entry()
			if err != nil {
				return err
			}
			tx, err := s.backend.Transactions.CreateExpense(cmd.Context(), s.workspace, in, e)
			return reportCreated(cmd, tx, err)
		}),
	}
	cmd.Flags().StringVar(&in.AccountID, "account", "", "account id")
	cmd.Flags().StringVar(&in.CurrencyID, "currency", "", "currency id")
	cmd.Flags().StringVar(&in.CategoryID, "category", "", "category id")
	cmd.Flags().StringVar(&in.Amount, "amount", "", "amount or expression")
	entry.register(cmd)
	return cmd
}

func newIncomeCommand(s *session) *cobra.Command {
	var (
		in    core.IncomeInput
		entry entryFlags
	)
	cmd := &cobra.Command{
		Use:   "income",
		Short: "Record an income",
		Args:  cobra.NoArgs,
		RunE: s.withBackend(func(cmd *cobra.Command, _ []string) error {
			e, err := entry.entry()
			if err != nil {
				return err
			}
			tx, err := s.backend.Transactions.CreateIncome(cmd.Context(), s.workspace, in, e)
			return reportCreated(cmd, tx, err)
		}),
	}
	cmd.Flags().StringVar(&in.AccountID, "account", "", "account id")
	cmd.Flags().StringVar(&in.CurrencyID, "currency", "", "currency id")
	cmd.Flags().StringVar(&in.SourceID, "source", "", "income source id")
	cmd.Flags().StringVar(&in.Amount, "amount", "", "amount or expression")
	entry.register(cmd)
	return cmd
}

func newTransferCommand(s *session) *cobra.Command {
	var (
		in    core.TransferInput
		entry entryFlags
	)
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Move an amount between two accounts in one currency",
		Args:  cobra.NoArgs,
		RunE: s.withBackend(func(cmd *cobra.Command, _ []string) error {
			e, err := entry.entry()
			if err != nil {
				return err
			}
			tx, err := s.backend.Transactions.CreateTransfer(cmd.Context(), s.workspace, in, e)
			return reportCreated(cmd, tx, err)
		}),
	}
	cmd.Flags().StringVar(&in.FromAccountID, "from", "", "source account id")
	cmd.Flags().StringVar(&in.ToAccountID, "to", "", "destination account id")
	cmd.Flags().StringVar(&in.CurrencyID, "currency", "", "currency id")
	cmd.Flags().StringVar(&in.Amount, "amount", "", "amount or expression")
	entry.register(cmd)
	return cmd
}

func newExchangeCommand(s *session) *cobra.Command {
	var (
		in    core.ExchangeInput
		entry entryFlags
	)
	cmd := &cobra.Command{
		Use:   "exchange",
		Short: "Convert between two currencies inside one account",
		Args:  cobra.NoArgs,
		RunE: s.withBackend(func(cmd *cobra.Command, _ []string) error {
			e, err := entry.entry()
			if err != nil {
				return err
			}
			tx, err := s.backend.Transactions.CreateExchange(cmd.Context(), s.workspace, in, e)
			return reportCreated(cmd, tx, err)
		}),
	}
	cmd.Flags().StringVar(&in.AccountID, "account", "", "account id")
	cmd.Flags().StringVar(&in.FromCurrencyID, "from-currency", "", "currency given")
	cmd.Flags().StringVar(&in.ToCurrencyID, "to-currency", "", "currency received")
	cmd.Flags().StringVar(&in.AmountFrom, "amount-from", "", "amount given")
	cmd.Flags().StringVar(&in.AmountTo, "amount-to", "", "amount received")
	entry.register(cmd)
	return cmd
}

func newDeleteCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <transaction-id>",
		Short: "Delete a transaction and reverse its balance effect",
		Args:  cobra.ExactArgs(1),
		RunE: s.withBackend(func(cmd *cobra.Command, args []string) error {
			tx, err := s.backend.Transactions.GetTransaction(cmd.Context(), s.workspace, args[0])
			if err != nil {
				return err
			}
			if err := s.backend.Transactions.DeleteTransaction(cmd.Context(), tx); err != nil {
				return err
			}
			printf(cmd, "deleted %s %s\n", tx.Type(), tx.ID)
			return nil
		}),
	}
}

func newListCommand(s *session) *cobra.Command {
	var txType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions, newest first",
		Args:  cobra.NoArgs,
		RunE: s.withBackend(func(cmd *cobra.Command, _ []string) error {
			txs, err := s.backend.Transactions.ListTransactions(cmd.Context(), s.workspace, core.TransactionType(txType))
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "DATE\tTYPE\tID\tDETAILS\tCOMMENT\n")
			for _, tx := range txs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", tx.Date, tx.Type(), tx.ID, describe(tx), tx.Comment)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().StringVar(&txType, "type", "", "only this type (expense|income|transfer|exchange)")
	return cmd
}

// describe renders the money movement of a transaction on one line.
func describe(tx core.Transaction) string {
	switch d := tx.Details.(type) {
	case core.Expense:
		return d.AccountID + " -" + core.FormatAmount(d.Amount) + " " + d.CurrencyID + " (" + d.CategoryID + ")"
	case core.Income:
		return d.AccountID + " +" + core.FormatAmount(d.Amount) + " " + d.CurrencyID + " (" + d.SourceID + ")"
	case core.Transfer:
		return d.FromAccountID + " -> " + d.ToAccountID + " " + core.FormatAmount(d.Amount) + " " + d.CurrencyID
	case core.Exchange:
		return d.AccountID + " " + core.FormatAmount(d.AmountFrom) + " " + d.FromCurrencyID +
			" -> " + core.FormatAmount(d.AmountTo) + " " + d.ToCurrencyID
	default:
		return ""
	}
}
