package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	goauth "golang.org/x/oauth2/google"

	"conti/internal/core"
	applog "conti/internal/log"
	ports "conti/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Journal columns, A through M.
var journalHeader = []any{
	"Exported", "Action", "ID", "Type", "Date",
	"Account", "To account", "Currency", "To currency",
	"Amount", "Amount to", "Category", "Comment",
}

const journalColumns = "A:M"

type Config struct {
	SpreadsheetID string
	// SheetName is the base name; the transaction year is prefixed ("2025 Journal").
	SheetName string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	journalBase   string
	logger        *applog.Logger
}

// Ensure interface conformance
var (
	_ ports.JournalWriter = (*Client)(nil)
	_ ports.JournalReader = (*Client)(nil)
)

// New creates a Sheets client from the credentials found in the environment.
// Service account: GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS. OAuth user: GOOGLE_OAUTH_CLIENT_JSON|FILE
// together with GOOGLE_OAUTH_TOKEN_JSON|FILE (see "conti-cli sheets-auth").
func New(ctx context.Context, cfg Config, logger *applog.Logger) (*Client, error) {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentSheets)

	opt, err := credentialsOption(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("sheets credentials: %w", err)
	}
	return NewWithOptions(ctx, cfg, logger, opt, goption.WithScopes(gsheet.SpreadsheetsScope))
}

// NewWithOptions builds the client with explicit API options.
func NewWithOptions(ctx context.Context, cfg Config, logger *applog.Logger, opts ...goption.ClientOption) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	base := strings.TrimSpace(cfg.SheetName)
	if base == "" {
		base = "Journal"
	}
	if logger == nil {
		logger = applog.New(applog.DefaultConfig()).WithComponent(applog.ComponentSheets)
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		journalBase:   base,
		logger:        logger,
	}, nil
}

func credentialsOption(ctx context.Context, logger *applog.Logger) (goption.ClientOption, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case serviceAccountJSON != "":
		logger.InfoContext(ctx, "Using inline service account credentials")
		return goption.WithCredentialsJSON([]byte(serviceAccountJSON)), nil
	case serviceAccountFile != "":
		b, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		logger.InfoContext(ctx, "Using service account credentials file", "path", serviceAccountFile)
		return goption.WithCredentialsJSON(b), nil
	}

	clientJSON, err := readEnvOrFile("GOOGLE_OAUTH_CLIENT_JSON", "GOOGLE_OAUTH_CLIENT_FILE")
	if err != nil {
		return nil, err
	}
	tokenJSON, err := readEnvOrFile("GOOGLE_OAUTH_TOKEN_JSON", "GOOGLE_OAUTH_TOKEN_FILE")
	if err != nil {
		return nil, err
	}
	if clientJSON == nil || tokenJSON == nil {
		return nil, errors.New("missing credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, GOOGLE_APPLICATION_CREDENTIALS or the GOOGLE_OAUTH_* pair)")
	}
	ts, err := OAuthTokenSource(ctx, clientJSON, tokenJSON)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "Using OAuth user credentials")
	ctx = context.WithValue(ctx, oauth2.HTTPClient, newHTTPClientWithPooling())
	return goption.WithHTTPClient(oauth2.NewClient(ctx, ts)), nil
}

// OAuthConfig parses an OAuth client secret for the Sheets scope.
func OAuthConfig(clientJSON []byte) (*oauth2.Config, error) {
	cfg, err := goauth.ConfigFromJSON(clientJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}
	return cfg, nil
}

// OAuthTokenSource refreshes the stored user token as needed.
func OAuthTokenSource(ctx context.Context, clientJSON, tokenJSON []byte) (oauth2.TokenSource, error) {
	cfg, err := OAuthConfig(clientJSON)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(tokenJSON, &tok); err != nil {
		return nil, fmt.Errorf("oauth token: %w", err)
	}
	return cfg.TokenSource(ctx, &tok), nil
}

func readEnvOrFile(jsonKey, fileKey string) ([]byte, error) {
	if v := strings.TrimSpace(os.Getenv(jsonKey)); v != "" {
		return []byte(v), nil
	}
	path := strings.TrimSpace(os.Getenv(fileKey))
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fileKey, err)
	}
	return b, nil
}

// newHTTPClientWithPooling creates an HTTP client for the Sheets API with
// connection pooling and bounded timeouts.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// Append adds one journal row to the sheet of the transaction's year.
func (c *Client) Append(ctx context.Context, e ports.JournalEntry) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if e.Record.ID == "" {
		return "", errors.New("journal entry without transaction id")
	}

	sheet := yearPrefixedName(c.journalBase, e.Record.Date.Year())
	rng := fmt.Sprintf("'%s'!%s", sheet, journalColumns)
	vr := &gsheet.ValueRange{Values: [][]any{journalRow(e)}}

	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", sheet, err)
	}

	ref := rng
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	c.logger.DebugContext(ctx, "Journal row appended",
		applog.FieldTransactionID, e.Record.ID,
		applog.FieldSheetsRef, ref)
	return ref, nil
}

// ListEntries reads every journal row of one year. Rows that do not parse,
// such as the header, are skipped.
func (c *Client) ListEntries(ctx context.Context, year int) ([]ports.JournalEntry, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("'%s'!%s", yearPrefixedName(c.journalBase, year), journalColumns)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	var out []ports.JournalEntry
	for _, row := range resp.Values {
		if e, ok := parseJournalRow(toStrings(row)); ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func journalRow(e ports.JournalEntry) []any {
	r := e.Record
	account, currency, amount, category := r.AccountID, r.CurrencyID, r.Amount, r.CategoryID
	switch r.Type {
	case core.TypeIncome:
		category = r.SourceID
	case core.TypeTransfer:
		account = r.FromAccountID
	case core.TypeExchange:
		currency, amount = r.FromCurrencyID, r.AmountFrom
	}
	return []any{
		e.At.UTC().Format(time.RFC3339),
		e.Action,
		r.ID,
		string(r.Type),
		r.Date.String(),
		account,
		r.ToAccountID,
		currency,
		r.ToCurrencyID,
		formatAmount(amount),
		formatAmount(r.AmountTo),
		category,
		r.Comment,
	}
}

func parseJournalRow(cols []string) (ports.JournalEntry, bool) {
	if len(cols) < 10 {
		return ports.JournalEntry{}, false
	}
	at, err := time.Parse(time.RFC3339, cols[0])
	if err != nil {
		return ports.JournalEntry{}, false
	}
	date, err := core.ParseDate(cols[4])
	if err != nil {
		return ports.JournalEntry{}, false
	}
	r := core.Record{
		ID:      cols[2],
		Type:    core.TransactionType(cols[3]),
		Date:    date,
		Comment: safeGet(cols, 12),
	}
	if !r.Type.IsValid() {
		return ports.JournalEntry{}, false
	}

	account, to, currency, toCurrency := cols[5], cols[6], cols[7], cols[8]
	amount, amountTo, category := parseAmount(cols[9]), parseAmount(safeGet(cols, 10)), safeGet(cols, 11)
	switch r.Type {
	case core.TypeExpense:
		r.AccountID, r.CurrencyID, r.Amount, r.CategoryID = account, currency, amount, category
	case core.TypeIncome:
		r.AccountID, r.CurrencyID, r.Amount, r.SourceID = account, currency, amount, category
	case core.TypeTransfer:
		r.FromAccountID, r.ToAccountID, r.CurrencyID, r.Amount = account, to, currency, amount
	case core.TypeExchange:
		r.AccountID, r.FromCurrencyID, r.ToCurrencyID = account, currency, toCurrency
		r.AmountFrom, r.AmountTo = amount, amountTo
	}
	return ports.JournalEntry{Action: cols[1], At: at, Record: r}, true
}

func formatAmount(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return core.FormatAmount(*d)
}

func parseAmount(s string) *decimal.Decimal {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

// WriteHeader puts the column titles in row 1 of the year's journal sheet.
func (c *Client) WriteHeader(ctx context.Context, year int) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("'%s'!A1:M1", yearPrefixedName(c.journalBase, year))
	vr := &gsheet.ValueRange{Values: [][]any{journalHeader}}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write header %s: %w", rng, err)
	}
	return nil
}
