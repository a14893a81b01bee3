package loyalty

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SQLiteRepository implements Repository on a database/sql SQLite handle.
// Timestamps are stored as Unix microseconds.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository builds a SQLite-backed account repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) Create(ctx context.Context, a Account) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO loyalty_accounts (`+accountColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Serial, a.TenantID, a.Name, a.Email, a.Balance, a.LastActivityAt.UnixMicro(), a.CreatedAt.UnixMicro())
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) &&
		(liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || liteErr.ExtendedCode == sqlite3.ErrConstraintUnique) {
		return ErrAlreadyExists
	}
	return err
}

func (r *SQLiteRepository) Get(ctx context.Context, serial string) (Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM loyalty_accounts WHERE serial = ?`, serial)
	return scanSQLiteAccount(row)
}

func (r *SQLiteRepository) ListByTenant(ctx context.Context, tenantID string) ([]Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM loyalty_accounts
        WHERE tenant_id = ? ORDER BY created_at, serial`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanSQLiteAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *SQLiteRepository) ListUpdatedSince(ctx context.Context, serials []string, since time.Time) ([]string, error) {
	var out []string
	for _, chunk := range chunks(serials, maxInParams) {
		args := make([]any, 0, len(chunk)+1)
		for _, s := range chunk {
			args = append(args, s)
		}
		args = append(args, since.UnixMicro())

		rows, err := r.db.QueryContext(ctx, `SELECT serial FROM loyalty_accounts
            WHERE serial IN (`+placeholders(len(chunk))+`) AND last_activity_at > ?`, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var serial string
			if err := rows.Scan(&serial); err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, serial)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *SQLiteRepository) Credit(ctx context.Context, p Posting) (Account, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Account{}, err
	}
	defer tx.Rollback() // nolint:errcheck

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM loyalty_postings WHERE serial = ? AND client_tx_id = ?`,
		p.Serial, p.ClientTxID).Scan(&exists)
	switch {
	case err == nil:
		current, err := scanSQLiteAccount(tx.QueryRowContext(ctx,
			`SELECT `+accountColumns+` FROM loyalty_accounts WHERE serial = ?`, p.Serial))
		if err != nil {
			return Account{}, err
		}
		return current, ErrDuplicatePosting
	case !errors.Is(err, sql.ErrNoRows):
		return Account{}, err
	}

	row := tx.QueryRowContext(ctx, `UPDATE loyalty_accounts
        SET balance = balance + ?, last_activity_at = MAX(last_activity_at, ?)
        WHERE serial = ?
        RETURNING `+accountColumns, p.Amount, p.At.UnixMicro(), p.Serial)
	account, err := scanSQLiteAccount(row)
	if err != nil {
		return Account{}, err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO loyalty_postings (serial, client_tx_id, amount, balance_after, created_at)
        VALUES (?, ?, ?, ?, ?)`, p.Serial, p.ClientTxID, p.Amount, account.Balance, p.At.UnixMicro()); err != nil {
		return Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return Account{}, err
	}
	return account, nil
}

func (r *SQLiteRepository) Touch(ctx context.Context, serials []string, at time.Time) error {
	for _, chunk := range chunks(serials, maxInParams) {
		args := make([]any, 0, len(chunk)+1)
		args = append(args, at.UnixMicro())
		for _, s := range chunk {
			args = append(args, s)
		}
		if _, err := r.db.ExecContext(ctx, `UPDATE loyalty_accounts
            SET last_activity_at = MAX(last_activity_at, ?)
            WHERE serial IN (`+placeholders(len(chunk))+`)`, args...); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRepository) DeleteByTenant(ctx context.Context, tenantID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM loyalty_accounts WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanSQLiteAccount(row rowScanner) (Account, error) {
	var (
		a              Account
		lastActivityAt int64
		createdAt      int64
	)
	if err := row.Scan(&a.Serial, &a.TenantID, &a.Name, &a.Email, &a.Balance, &lastActivityAt, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	a.LastActivityAt = time.UnixMicro(lastActivityAt).UTC()
	a.CreatedAt = time.UnixMicro(createdAt).UTC()
	return a, nil
}

// maxInParams keeps IN lists below SQLITE_MAX_VARIABLE_NUMBER, which is 999
// on builds older than 3.32.
var maxInParams = 500

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func chunks(values []string, size int) [][]string {
	var out [][]string
	for len(values) > size {
		out = append(out, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}
