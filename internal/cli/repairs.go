package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"conti/internal/core"
	"conti/internal/services"
)

func newRepairsCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repairs",
		Short: "Inspect and apply queued ledger repairs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List pending repairs (all workspaces unless --workspace is set)",
		Args:  cobra.NoArgs,
		RunE: s.withStore(func(cmd *cobra.Command, _ []string) error {
			repairs, err := s.backend.Store.PendingRepairs(cmd.Context(), 0)
			if err != nil {
				return err
			}
			workspace := strings.TrimSpace(s.workspace)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "ID\tWORKSPACE\tTRANSACTION\tADJUSTMENTS\tATTEMPTS\tREASON\n")
			for _, r := range repairs {
				if workspace != "" && r.OwnerUID != workspace {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					r.ID, r.OwnerUID, r.TransactionID, describeAdjustments(r.Adjustments), r.Attempts, r.Reason)
			}
			return tw.Flush()
		}),
	}

	var batch int
	run := &cobra.Command{
		Use:   "run",
		Short: "Apply pending repairs to the balances",
		Args:  cobra.NoArgs,
		RunE: s.withStore(func(cmd *cobra.Command, _ []string) error {
			cfg := services.DefaultRepairProcessorConfig()
			if batch > 0 {
				cfg.BatchSize = batch
			}
			processor := services.NewRepairProcessor(s.backend.Store, s.backend.Ledger, cfg, s.logger)
			applied := processor.ProcessBatch(cmd.Context())

			left, err := s.backend.Store.PendingRepairs(cmd.Context(), 0)
			if err != nil {
				return err
			}
			printf(cmd, "applied %d repairs, %d pending\n", applied, len(left))
			return nil
		}),
	}
	run.Flags().IntVar(&batch, "batch", 0, "maximum repairs to apply (0 keeps the processor default)")

	retry := &cobra.Command{
		Use:   "retry",
		Short: "Move repairs that exhausted their retries back to pending",
		Args:  cobra.NoArgs,
		RunE: s.withStore(func(cmd *cobra.Command, _ []string) error {
			n, err := s.backend.Store.RetryFailedRepairs(cmd.Context())
			if err != nil {
				return err
			}
			printf(cmd, "%d failed repairs queued again\n", n)
			return nil
		}),
	}

	cmd.AddCommand(list, run, retry)
	return cmd
}

func describeAdjustments(adjustments []core.Adjustment) string {
	parts := make([]string, 0, len(adjustments))
	for _, a := range adjustments {
		sign := ""
		if a.Delta.IsPositive() {
			sign = "+"
		}
		parts = append(parts, a.AccountID+" "+sign+core.FormatAmount(a.Delta)+" "+a.CurrencyID)
	}
	return strings.Join(parts, ", ")
}
