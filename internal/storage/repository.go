package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"conti/internal/core"
	"conti/internal/ledger"
	applog "conti/internal/log"
)

var (
	// ErrRead wraps failures reading from the database.
	ErrRead = errors.New("storage read failed")
	// ErrWrite wraps failures writing to the database.
	ErrWrite = errors.New("storage write failed")
)

// timeLayout is fixed width so stored timestamps sort as text in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// parseTime also reads rows written with a trimmed fraction.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

type SQLiteRepository struct {
	db     *sql.DB
	logger *applog.Logger
}

func NewSQLiteRepository(dbPath string, logger *applog.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentStorage)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer; ledger groups queue on the pool instead of
	// failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("SQLite storage ready", "path", dbPath, "schema_version", version)
	return &SQLiteRepository{db: db, logger: logger}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func readErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRead, op, err)
}

func writeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrWrite, op, err)
}

func isConstraint(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

// FindBalance implements ledger.BalanceStore
func (r *SQLiteRepository) FindBalance(ctx context.Context, ownerUID, accountID, currencyID string) (*core.Balance, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, amount, version FROM balances
		WHERE owner_uid = ? AND account_id = ? AND currency_id = ?`,
		ownerUID, accountID, currencyID)

	b := core.Balance{OwnerUID: ownerUID, AccountID: accountID, CurrencyID: currencyID}
	var amount string
	if err := row.Scan(&b.ID, &amount, &b.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, readErr("find balance", err)
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, readErr("decode balance amount", err)
	}
	b.Amount = parsed
	return &b, nil
}

// CreateBalance implements ledger.BalanceStore
func (r *SQLiteRepository) CreateBalance(ctx context.Context, b core.Balance) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO balances (owner_uid, account_id, id, currency_id, amount, version)
		VALUES (?, ?, ?, ?, ?, 1)`,
		b.OwnerUID, b.AccountID, b.ID, b.CurrencyID, core.FormatAmount(b.Amount))
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("balance %s/%s: %w", b.AccountID, b.ID, ledger.ErrBalanceExists)
		}
		return writeErr("create balance", err)
	}

	r.logger.DebugContext(ctx, "Balance created",
		applog.FieldOwnerUID, b.OwnerUID,
		applog.FieldAccountID, b.AccountID,
		applog.FieldCurrencyID, b.CurrencyID,
		"amount", core.FormatAmount(b.Amount))
	return nil
}

// UpdateBalance implements ledger.BalanceStore
func (r *SQLiteRepository) UpdateBalance(ctx context.Context, b core.Balance, amount decimal.Decimal, expectedVersion int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE balances SET amount = ?, version = version + 1
		WHERE owner_uid = ? AND account_id = ? AND id = ? AND (? = -1 OR version = ?)`,
		core.FormatAmount(amount), b.OwnerUID, b.AccountID, b.ID, expectedVersion, expectedVersion)
	if err != nil {
		return writeErr("update balance", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return writeErr("update balance", err)
	}
	if n == 0 {
		if expectedVersion == ledger.AnyVersion {
			return fmt.Errorf("balance %s/%s: %w", b.AccountID, b.ID, core.ErrNotFound)
		}
		return fmt.Errorf("balance %s/%s expected version %d: %w", b.AccountID, b.ID, expectedVersion, ledger.ErrVersionConflict)
	}
	return nil
}

// ListBalances returns the workspace balances ordered by account then currency.
func (r *SQLiteRepository) ListBalances(ctx context.Context, ownerUID string) ([]core.Balance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT account_id, id, currency_id, amount, version FROM balances
		WHERE owner_uid = ?
		ORDER BY account_id, currency_id`, ownerUID)
	if err != nil {
		return nil, readErr("list balances", err)
	}
	defer rows.Close()

	var out []core.Balance
	for rows.Next() {
		b := core.Balance{OwnerUID: ownerUID}
		var amount string
		if err := rows.Scan(&b.AccountID, &b.ID, &b.CurrencyID, &amount, &b.Version); err != nil {
			return nil, readErr("scan balance", err)
		}
		if b.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, readErr("decode balance amount", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, readErr("list balances", err)
	}
	return out, nil
}

// CurrencyInUse reports whether any balance references the currency.
func (r *SQLiteRepository) CurrencyInUse(ctx context.Context, ownerUID, currencyID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM balances WHERE owner_uid = ? AND currency_id = ?`,
		ownerUID, currencyID).Scan(&n)
	if err != nil {
		return false, readErr("count currency balances", err)
	}
	return n > 0, nil
}

const transactionColumns = `owner_uid, id, type, date, comment, created_at,
	account_id, currency_id, category_id, source_id,
	from_account_id, to_account_id, from_currency_id, to_currency_id,
	amount, amount_from, amount_to`

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullAmount(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func transactionArgs(tx core.Transaction) []any {
	rec := tx.Record()
	return []any{
		rec.OwnerUID, rec.ID, string(rec.Type), rec.Date.String(), rec.Comment, rec.CreatedAt.UTC().Format(timeLayout),
		nullString(rec.AccountID), nullString(rec.CurrencyID), nullString(rec.CategoryID), nullString(rec.SourceID),
		nullString(rec.FromAccountID), nullString(rec.ToAccountID), nullString(rec.FromCurrencyID), nullString(rec.ToCurrencyID),
		nullAmount(rec.Amount), nullAmount(rec.AmountFrom), nullAmount(rec.AmountTo),
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (core.Transaction, error) {
	var (
		rec                                 core.Record
		txType, date, createdAt             string
		account, currency, category, source sql.NullString
		fromAcct, toAcct, fromCurr, toCurr  sql.NullString
		amount, amountFrom, amountTo        sql.NullString
	)
	if err := s.Scan(&rec.OwnerUID, &rec.ID, &txType, &date, &rec.Comment, &createdAt,
		&account, &currency, &category, &source,
		&fromAcct, &toAcct, &fromCurr, &toCurr,
		&amount, &amountFrom, &amountTo); err != nil {
		return core.Transaction{}, err
	}

	var err error
	rec.Type = core.TransactionType(txType)
	if rec.Date, err = core.ParseDate(date); err != nil {
		return core.Transaction{}, err
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Transaction{}, fmt.Errorf("parse created_at: %w", err)
	}
	rec.AccountID, rec.CurrencyID = account.String, currency.String
	rec.CategoryID, rec.SourceID = category.String, source.String
	rec.FromAccountID, rec.ToAccountID = fromAcct.String, toAcct.String
	rec.FromCurrencyID, rec.ToCurrencyID = fromCurr.String, toCurr.String
	for _, f := range []struct {
		src sql.NullString
		dst **decimal.Decimal
	}{{amount, &rec.Amount}, {amountFrom, &rec.AmountFrom}, {amountTo, &rec.AmountTo}} {
		if !f.src.Valid {
			continue
		}
		d, err := decimal.NewFromString(f.src.String)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("decode amount: %w", err)
		}
		*f.dst = &d
	}
	return rec.Transaction()
}

func (r *SQLiteRepository) CreateTransaction(ctx context.Context, tx core.Transaction) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		transactionArgs(tx)...)
	if err != nil {
		return writeErr("create transaction", err)
	}
	r.logger.InfoContext(ctx, "Transaction saved to SQLite",
		applog.FieldOwnerUID, tx.OwnerUID,
		applog.FieldTransactionID, tx.ID,
		applog.FieldTransactionType, tx.Type())
	return nil
}

func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, tx core.Transaction) error {
	args := transactionArgs(tx)
	// Columns after the (owner_uid, id) key, then the key for the WHERE clause.
	args = append(args[2:len(args):len(args)], args[0], args[1])
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions SET
			type = ?, date = ?, comment = ?, created_at = ?,
			account_id = ?, currency_id = ?, category_id = ?, source_id = ?,
			from_account_id = ?, to_account_id = ?, from_currency_id = ?, to_currency_id = ?,
			amount = ?, amount_from = ?, amount_to = ?
		WHERE owner_uid = ? AND id = ?`,
		args...)
	if err != nil {
		return writeErr("update transaction", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return writeErr("update transaction", err)
	} else if n == 0 {
		return fmt.Errorf("transaction %s: %w", tx.ID, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, ownerUID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE owner_uid = ? AND id = ?`, ownerUID, id)
	if err != nil {
		return writeErr("delete transaction", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return writeErr("delete transaction", err)
	} else if n == 0 {
		return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, ownerUID, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE owner_uid = ? AND id = ?`, ownerUID, id)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
		}
		return core.Transaction{}, readErr("get transaction", err)
	}
	return tx, nil
}

// ListTransactions returns the owner's transactions of txType (all types when
// empty), newest date first.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, ownerUID string, txType core.TransactionType) ([]core.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE owner_uid = ?`
	args := []any{ownerUID}
	if txType != "" {
		query += ` AND type = ?`
		args = append(args, string(txType))
	}
	return r.queryTransactions(ctx, query+` ORDER BY date DESC, created_at DESC`, args...)
}

// ListTransactionsBetween returns transactions dated in [from, to).
func (r *SQLiteRepository) ListTransactionsBetween(ctx context.Context, ownerUID string, from, to core.Date) ([]core.Transaction, error) {
	return r.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE owner_uid = ? AND date >= ? AND date < ?
		ORDER BY date DESC, created_at DESC`,
		ownerUID, from.String(), to.String())
}

func (r *SQLiteRepository) queryTransactions(ctx context.Context, query string, args ...any) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, readErr("list transactions", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, readErr("scan transaction", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, readErr("list transactions", err)
	}
	return out, nil
}

func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.Account) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (owner_uid, id, name, color, icon_url, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.OwnerUID, a.ID, a.Name, a.Color, a.IconURL, a.CreatedBy, a.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return writeErr("create account", err)
	}
	return nil
}

func (r *SQLiteRepository) ListAccounts(ctx context.Context, ownerUID string) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, color, icon_url, created_by, created_at FROM accounts
		WHERE owner_uid = ? ORDER BY name`, ownerUID)
	if err != nil {
		return nil, readErr("list accounts", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a := core.Account{OwnerUID: ownerUID}
		var createdAt string
		if err := rows.Scan(&a.ID, &a.Name, &a.Color, &a.IconURL, &a.CreatedBy, &createdAt); err != nil {
			return nil, readErr("scan account", err)
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, readErr("parse account created_at", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, readErr("list accounts", err)
	}
	return out, nil
}

// DeleteAccount removes the account and every balance it holds.
func (r *SQLiteRepository) DeleteAccount(ctx context.Context, ownerUID, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return writeErr("begin delete account", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE owner_uid = ? AND id = ?`, ownerUID, id)
	if err != nil {
		return writeErr("delete account", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return writeErr("delete account", err)
	} else if n == 0 {
		return fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}

	res, err = tx.ExecContext(ctx, `DELETE FROM balances WHERE owner_uid = ? AND account_id = ?`, ownerUID, id)
	if err != nil {
		return writeErr("delete account balances", err)
	}
	if err := tx.Commit(); err != nil {
		return writeErr("commit delete account", err)
	}

	removed, _ := res.RowsAffected()
	r.logger.InfoContext(ctx, "Account deleted",
		applog.FieldOwnerUID, ownerUID,
		applog.FieldAccountID, id,
		"balances_removed", removed)
	return nil
}

func (r *SQLiteRepository) CreateCurrency(ctx context.Context, c core.Currency) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO currencies (owner_uid, id, name) VALUES (?, ?, ?)`,
		c.OwnerUID, c.ID, c.Name)
	if err != nil {
		return writeErr("create currency", err)
	}
	return nil
}

func (r *SQLiteRepository) ListCurrencies(ctx context.Context, ownerUID string) ([]core.Currency, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name FROM currencies WHERE owner_uid = ? ORDER BY id`, ownerUID)
	if err != nil {
		return nil, readErr("list currencies", err)
	}
	defer rows.Close()

	var out []core.Currency
	for rows.Next() {
		c := core.Currency{OwnerUID: ownerUID}
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, readErr("scan currency", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, readErr("list currencies", err)
	}
	return out, nil
}

func (r *SQLiteRepository) DeleteCurrency(ctx context.Context, ownerUID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM currencies WHERE owner_uid = ? AND id = ?`, ownerUID, id)
	if err != nil {
		return writeErr("delete currency", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return writeErr("delete currency", err)
	} else if n == 0 {
		return fmt.Errorf("currency %s: %w", id, core.ErrNotFound)
	}
	return nil
}
