package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"conti/internal/amqp"
	"conti/internal/core"
	applog "conti/internal/log"
	"conti/internal/sheets"
	"conti/internal/sheets/google"
)

// journal is what the sheets commands need from an export target.
type journal interface {
	sheets.JournalWriter
	sheets.JournalReader
}

type journalOpener func(ctx context.Context, cfg google.Config, logger *applog.Logger) (journal, error)

func openGoogleJournal(ctx context.Context, cfg google.Config, logger *applog.Logger) (journal, error) {
	client, err := google.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func newSheetsCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sheets",
		Short: "Google Sheets journal setup and export",
	}

	var cfg google.Config
	cmd.PersistentFlags().StringVar(&cfg.SpreadsheetID, "spreadsheet", os.Getenv("GOOGLE_SPREADSHEET_ID"), "spreadsheet id")
	cmd.PersistentFlags().StringVar(&cfg.SheetName, "sheet", envOr("GOOGLE_SHEET_NAME", "Journal"), "journal sheet base name")

	year := time.Now().Year()

	header := &cobra.Command{
		Use:   "header",
		Short: "Write the column titles of a year's journal sheet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			j, err := s.openJournal(cmd.Context(), cfg, s.logger)
			if err != nil {
				return err
			}
			hw, ok := j.(interface {
				WriteHeader(ctx context.Context, year int) error
			})
			if !ok {
				return errors.New("journal does not support headers")
			}
			if err := hw.WriteHeader(cmd.Context(), year); err != nil {
				return err
			}
			printf(cmd, "header written for %d\n", year)
			return nil
		},
	}
	header.Flags().IntVar(&year, "year", year, "journal year")

	exportYear := time.Now().Year()
	export := &cobra.Command{
		Use:   "export",
		Short: "Append the workspace's transactions of a year that are not yet in the journal",
		Args:  cobra.NoArgs,
		RunE: s.withBackend(func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			j, err := s.openJournal(ctx, cfg, s.logger)
			if err != nil {
				return err
			}
			n, err := exportYearTo(ctx, j, s.backend.Transactions, s.workspace, exportYear)
			printf(cmd, "exported %d transactions for %d\n", n, exportYear)
			return err
		}),
	}
	export.Flags().IntVar(&exportYear, "year", exportYear, "transaction year")

	cmd.AddCommand(newSheetsAuthCommand(), header, export)
	return cmd
}

type transactionLister interface {
	ListTransactions(ctx context.Context, ownerUID string, txType core.TransactionType) ([]core.Transaction, error)
}

// exportYearTo appends every transaction dated in year whose ID the journal
// does not already hold. Rerunning it is safe.
func exportYearTo(ctx context.Context, j journal, txs transactionLister, ownerUID string, year int) (int, error) {
	existing, err := j.ListEntries(ctx, year)
	if err != nil {
		return 0, fmt.Errorf("read journal: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[e.Record.ID] = true
	}

	all, err := txs.ListTransactions(ctx, ownerUID, "")
	if err != nil {
		return 0, err
	}
	// Oldest first, so the sheet reads chronologically.
	exported := 0
	for i := len(all) - 1; i >= 0; i-- {
		tx := all[i]
		if tx.Date.Year() != year || seen[tx.ID] {
			continue
		}
		if _, err := j.Append(ctx, sheets.JournalEntry{
			Action: string(amqp.ActionCreate),
			At:     time.Now().UTC(),
			Record: tx.Record(),
		}); err != nil {
			return exported, fmt.Errorf("export %s: %w", tx.ID, err)
		}
		exported++
	}
	return exported, nil
}

func newSheetsAuthCommand() *cobra.Command {
	var (
		port    string
		out     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize a Google user and store the OAuth token",
		Long: "Reads the OAuth client from GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE,\n" +
			"prints the consent URL and waits for the redirect on http://localhost:<port>/callback.\n" +
			"The redirect URI must be registered on the OAuth client.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			clientJSON, err := envOrFile("GOOGLE_OAUTH_CLIENT_JSON", "GOOGLE_OAUTH_CLIENT_FILE")
			if err != nil {
				return err
			}
			cfg, err := google.OAuthConfig(clientJSON)
			if err != nil {
				return err
			}
			cfg.RedirectURL = "http://localhost:" + port + "/callback"

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			code, err := awaitAuthCode(ctx, cmd, cfg, port)
			if err != nil {
				return err
			}
			tok, err := cfg.Exchange(ctx, code)
			if err != nil {
				return fmt.Errorf("token exchange: %w", err)
			}
			if err := saveToken(out, tok); err != nil {
				return err
			}
			printf(cmd, "Saved token to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&port, "port", envOr("OAUTH_REDIRECT_PORT", "8085"), "local port for the OAuth redirect")
	cmd.Flags().StringVar(&out, "out", envOr("GOOGLE_OAUTH_TOKEN_FILE", "token.json"), "token file to write")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for consent")
	return cmd
}

func awaitAuthCode(ctx context.Context, cmd *cobra.Command, cfg *oauth2.Config, port string) (string, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if msg := r.URL.Query().Get("error"); msg != "" {
			http.Error(w, "OAuth error: "+msg, http.StatusBadRequest)
			select {
			case errCh <- fmt.Errorf("oauth error: %s", msg):
			default:
			}
			return
		}
		fmt.Fprintln(w, "You may close this window and return to the terminal.")
		select {
		case codeCh <- r.URL.Query().Get("code"):
		default:
		}
	})

	ln, err := net.Listen("tcp", "localhost:"+port)
	if err != nil {
		return "", fmt.Errorf("listen for oauth redirect: %w", err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	printf(cmd, "Open this URL to authorize:\n%s\n", cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline))

	select {
	case code := <-codeCh:
		return code, nil
	case err := <-errCh:
		return "", err
	case <-ctx.Done():
		return "", fmt.Errorf("authorization not completed: %w", ctx.Err())
	}
}

func saveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrFile(jsonKey, fileKey string) ([]byte, error) {
	if v := strings.TrimSpace(os.Getenv(jsonKey)); v != "" {
		return []byte(v), nil
	}
	path := strings.TrimSpace(os.Getenv(fileKey))
	if path == "" {
		return nil, fmt.Errorf("set %s or %s", jsonKey, fileKey)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fileKey, err)
	}
	return b, nil
}
