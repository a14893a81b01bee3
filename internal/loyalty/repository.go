package loyalty

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no account matches the serial.
	ErrNotFound = errors.New("account not found")

	// ErrDuplicatePosting indicates the client transaction id was already applied
	// and the credit should be treated as idempotent.
	ErrDuplicatePosting = errors.New("duplicate posting")

	// ErrInvalidInput marks rejected enrollment or credit requests.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyExists is returned when enrolling a serial that is taken.
	ErrAlreadyExists = errors.New("account already exists")
)

const pgUniqueViolation = "23505"

// Repository persists loyalty accounts and their postings.
type Repository interface {
	Create(ctx context.Context, account Account) error
	Get(ctx context.Context, serial string) (Account, error)
	ListByTenant(ctx context.Context, tenantID string) ([]Account, error)
	// ListUpdatedSince returns the subset of serials whose last activity is strictly after since.
	ListUpdatedSince(ctx context.Context, serials []string, since time.Time) ([]string, error)
	// Credit applies a posting and bumps last activity. A replayed client tx id
	// returns the current account together with ErrDuplicatePosting.
	Credit(ctx context.Context, posting Posting) (Account, error)
	// Touch moves last activity forward to at; it never moves it backward.
	Touch(ctx context.Context, serials []string, at time.Time) error
	DeleteByTenant(ctx context.Context, tenantID string) (int64, error)
}

// PostgresRepository stores accounts in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `serial, tenant_id, name, email, balance, last_activity_at, created_at`

// Create inserts an account record. A taken serial yields ErrAlreadyExists.
func (r *PostgresRepository) Create(ctx context.Context, a Account) error {
	_, err := r.db.Exec(ctx, `INSERT INTO loyalty_accounts (`+accountColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.Serial, a.TenantID, a.Name, a.Email, a.Balance, a.LastActivityAt.UTC(), a.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrAlreadyExists
	}
	return err
}

// Get fetches an account by serial.
func (r *PostgresRepository) Get(ctx context.Context, serial string) (Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM loyalty_accounts WHERE serial = $1`, serial)
	return scanAccount(row)
}

// ListByTenant returns every account owned by the tenant.
func (r *PostgresRepository) ListByTenant(ctx context.Context, tenantID string) ([]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM loyalty_accounts
        WHERE tenant_id = $1 ORDER BY created_at, serial`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// ListUpdatedSince filters serials by last activity.
func (r *PostgresRepository) ListUpdatedSince(ctx context.Context, serials []string, since time.Time) ([]string, error) {
	if len(serials) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT serial FROM loyalty_accounts
        WHERE serial = ANY($1) AND last_activity_at > $2 ORDER BY serial`, serials, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var serial string
		if err := rows.Scan(&serial); err != nil {
			return nil, err
		}
		out = append(out, serial)
	}
	return out, rows.Err()
}

// Credit locks the account row, applies the amount and records the posting in one transaction.
func (r *PostgresRepository) Credit(ctx context.Context, p Posting) (Account, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Account{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	row := tx.QueryRow(ctx, `UPDATE loyalty_accounts
        SET balance = balance + $2, last_activity_at = GREATEST(last_activity_at, $3)
        WHERE serial = $1
        RETURNING `+accountColumns, p.Serial, p.Amount, p.At.UTC())
	account, err := scanAccount(row)
	if err != nil {
		return Account{}, err
	}

	cmd, err := tx.Exec(ctx, `INSERT INTO loyalty_postings (serial, client_tx_id, amount, balance_after, created_at)
        VALUES ($1, $2, $3, $4, $5) ON CONFLICT (serial, client_tx_id) DO NOTHING`,
		p.Serial, p.ClientTxID, p.Amount, account.Balance, p.At.UTC())
	if err != nil {
		return Account{}, err
	}
	if cmd.RowsAffected() == 0 {
		// Roll back our balance change and report the committed state.
		if err := tx.Rollback(ctx); err != nil {
			return Account{}, err
		}
		current, err := r.Get(ctx, p.Serial)
		if err != nil {
			return Account{}, err
		}
		return current, ErrDuplicatePosting
	}

	if err := tx.Commit(ctx); err != nil {
		return Account{}, err
	}
	return account, nil
}

// Touch bumps last activity for the given serials.
func (r *PostgresRepository) Touch(ctx context.Context, serials []string, at time.Time) error {
	if len(serials) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `UPDATE loyalty_accounts
        SET last_activity_at = GREATEST(last_activity_at, $2)
        WHERE serial = ANY($1)`, serials, at.UTC())
	return err
}

// DeleteByTenant removes every account of a tenant; registrations cascade.
func (r *PostgresRepository) DeleteByTenant(ctx context.Context, tenantID string) (int64, error) {
	cmd, err := r.db.Exec(ctx, `DELETE FROM loyalty_accounts WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		a              Account
		lastActivityAt time.Time
		createdAt      time.Time
	)
	if err := row.Scan(&a.Serial, &a.TenantID, &a.Name, &a.Email, &a.Balance, &lastActivityAt, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	a.LastActivityAt = lastActivityAt.UTC()
	a.CreatedAt = createdAt.UTC()
	return a, nil
}
