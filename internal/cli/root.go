package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"conti/internal/backend"
	applog "conti/internal/log"
)

// Opener builds the backend a command runs against.
type Opener func(ctx context.Context) (*backend.BackendResult, error)

var errNoWorkspace = errors.New("workspace required: pass --workspace or set CONTI_WORKSPACE")

// session is the state shared by every subcommand of one invocation.
type session struct {
	open        Opener
	openJournal journalOpener
	logger      *applog.Logger
	workspace   string
	backend     *backend.BackendResult
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand(open Opener, logger *applog.Logger) *cobra.Command {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return newRootCommand(&session{
		open:        open,
		openJournal: openGoogleJournal,
		logger:      logger.WithComponent(applog.ComponentCLI),
	})
}

func newRootCommand(s *session) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "conti-cli",
		Short: "Record transactions and inspect account balances",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&s.workspace, "workspace", "w", os.Getenv("CONTI_WORKSPACE"), "workspace (owner uid) to operate on")

	rootCmd.AddCommand(
		newExpenseCommand(s),
		newIncomeCommand(s),
		newTransferCommand(s),
		newExchangeCommand(s),
		newDeleteCommand(s),
		newListCommand(s),
		newBalancesCommand(s),
		newAccountCommand(s),
		newCurrencyCommand(s),
		newRepairsCommand(s),
		newSheetsCommand(s),
	)
	return rootCmd
}

// withBackend opens the backend, requires a workspace, and closes the
// backend after run returns.
func (s *session) withBackend(run func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	open := s.withStore(run)
	return func(cmd *cobra.Command, args []string) error {
		s.workspace = strings.TrimSpace(s.workspace)
		if s.workspace == "" {
			return errNoWorkspace
		}
		return open(cmd, args)
	}
}

// withStore is withBackend for commands that span every workspace.
func (s *session) withStore(run func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		res, err := s.open(cmd.Context())
		if err != nil {
			return err
		}
		s.backend = res
		defer func() {
			if res.Cleanup == nil {
				return
			}
			if err := res.Cleanup(); err != nil {
				s.logger.Warn("Backend cleanup failed", applog.FieldError, err)
			}
		}()
		return run(cmd, args)
	}
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
