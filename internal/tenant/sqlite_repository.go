package tenant

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLiteRepository implements Repository on a database/sql SQLite handle.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository builds a SQLite-backed tenant repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Create(ctx context.Context, t Tenant) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO tenants (id, name, program, stamp_goal, style_preset, background_color,
        foreground_color, label_color, back_text, locale, api_key_hash, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Program, t.StampGoal, t.Style.Preset, t.Style.BackgroundColor,
		t.Style.ForegroundColor, t.Style.LabelColor, t.Style.BackText, t.Style.Locale, t.APIKeyHash, t.CreatedAt.UnixMicro())
	return err
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (Tenant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, program, stamp_goal, style_preset, background_color,
        foreground_color, label_color, back_text, locale, api_key_hash, created_at
        FROM tenants WHERE id = ?`, id)
	var (
		t         Tenant
		createdAt int64
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Program, &t.StampGoal, &t.Style.Preset, &t.Style.BackgroundColor,
		&t.Style.ForegroundColor, &t.Style.LabelColor, &t.Style.BackText, &t.Style.Locale, &t.APIKeyHash, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, err
	}
	t.CreatedAt = time.UnixMicro(createdAt).UTC()
	return t, nil
}
