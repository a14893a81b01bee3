package tenant

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no tenant matches the identifier.
var ErrNotFound = errors.New("tenant not found")

// Repository persists tenants.
type Repository interface {
	Create(ctx context.Context, tenant Tenant) error
	Get(ctx context.Context, id string) (Tenant, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed tenant repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new tenant.
func (r *PostgresRepository) Create(ctx context.Context, t Tenant) error {
	_, err := r.db.Exec(ctx, `INSERT INTO tenants (id, name, program, stamp_goal, style_preset, background_color,
        foreground_color, label_color, back_text, locale, api_key_hash, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.Name, t.Program, t.StampGoal, t.Style.Preset, t.Style.BackgroundColor,
		t.Style.ForegroundColor, t.Style.LabelColor, t.Style.BackText, t.Style.Locale, t.APIKeyHash, t.CreatedAt.UTC())
	return err
}

// Get fetches a tenant by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Tenant, error) {
	row := r.db.QueryRow(ctx, `SELECT id, name, program, stamp_goal, style_preset, background_color,
        foreground_color, label_color, back_text, locale, api_key_hash, created_at
        FROM tenants WHERE id = $1`, id)
	var (
		t         Tenant
		createdAt time.Time
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Program, &t.StampGoal, &t.Style.Preset, &t.Style.BackgroundColor,
		&t.Style.ForegroundColor, &t.Style.LabelColor, &t.Style.BackText, &t.Style.Locale, &t.APIKeyHash, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, err
	}
	t.CreatedAt = createdAt.UTC()
	return t, nil
}
