package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"conti/internal/core"
)

func newBalancesCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "balances",
		Short: "Show every account balance of the workspace",
		Args:  cobra.NoArgs,
		RunE: s.withBackend(func(cmd *cobra.Command, _ []string) error {
			balances, err := s.backend.Catalog.ListBalances(cmd.Context(), s.workspace)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintf(tw, "ACCOUNT\tCURRENCY\tAMOUNT\t\n")
			for _, b := range balances {
				fmt.Fprintf(tw, "%s\t%s\t%s\t\n", b.AccountID, b.CurrencyID, core.FormatAmount(b.Amount))
			}
			return tw.Flush()
		}),
	}
}

func newAccountCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
	}

	var id, color string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: s.withBackend(func(cmd *cobra.Command, args []string) error {
			a, err := s.backend.Catalog.CreateAccount(cmd.Context(), core.Account{
				ID:       id,
				OwnerUID: s.workspace,
				Name:     args[0],
				Color:    color,
			})
			if err != nil {
				return err
			}
			printf(cmd, "account %s (%s) created\n", a.ID, a.Name)
			return nil
		}),
	}
	add.Flags().StringVar(&id, "id", "", "account id (generated when empty)")
	add.Flags().StringVar(&color, "color", "", "display color")

	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: s.withBackend(func(cmd *cobra.Command, _ []string) error {
			accounts, err := s.backend.Catalog.ListAccounts(cmd.Context(), s.workspace)
			if err != nil {
				return err
			}
			for _, a := range accounts {
				printf(cmd, "%s\t%s\n", a.ID, a.Name)
			}
			return nil
		}),
	}

	rm := &cobra.Command{
		Use:   "rm <account-id>",
		Short: "Delete an account and its balances",
		Args:  cobra.ExactArgs(1),
		RunE: s.withBackend(func(cmd *cobra.Command, args []string) error {
			if err := s.backend.Catalog.DeleteAccount(cmd.Context(), s.workspace, args[0]); err != nil {
				return err
			}
			printf(cmd, "account %s deleted\n", args[0])
			return nil
		}),
	}

	cmd.AddCommand(add, list, rm)
	return cmd
}

func newCurrencyCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "currency",
		Short: "Manage currencies",
	}

	add := &cobra.Command{
		Use:   "add <id> <name>",
		Short: "Create a currency, e.g. add EUR Euro",
		Args:  cobra.ExactArgs(2),
		RunE: s.withBackend(func(cmd *cobra.Command, args []string) error {
			c, err := s.backend.Catalog.CreateCurrency(cmd.Context(), core.Currency{
				ID:       args[0],
				OwnerUID: s.workspace,
				Name:     args[1],
			})
			if err != nil {
				return err
			}
			printf(cmd, "currency %s (%s) created\n", c.ID, c.Name)
			return nil
		}),
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List currencies",
		Args:  cobra.NoArgs,
		RunE: s.withBackend(func(cmd *cobra.Command, _ []string) error {
			currencies, err := s.backend.Catalog.ListCurrencies(cmd.Context(), s.workspace)
			if err != nil {
				return err
			}
			for _, c := range currencies {
				printf(cmd, "%s\t%s\n", c.ID, c.Name)
			}
			return nil
		}),
	}

	rm := &cobra.Command{
		Use:   "rm <currency-id>",
		Short: "Delete a currency no account holds",
		Args:  cobra.ExactArgs(1),
		RunE: s.withBackend(func(cmd *cobra.Command, args []string) error {
			if err := s.backend.Catalog.DeleteCurrency(cmd.Context(), s.workspace, args[0]); err != nil {
				return err
			}
			printf(cmd, "currency %s deleted\n", args[0])
			return nil
		}),
	}

	cmd.AddCommand(add, list, rm)
	return cmd
}
