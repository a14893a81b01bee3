package registration

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores device registrations. Upsert must be atomic per key.
type Repository interface {
	// Upsert inserts the registration or overwrites the push token and transport
	// of the existing row. The returned bool reports whether a row was created.
	Upsert(ctx context.Context, reg Registration) (bool, error)
	// Delete removes the registration; a missing row is not an error.
	Delete(ctx context.Context, key Key) error
	// ListForDevice returns the serials registered to the device for a pass type.
	ListForDevice(ctx context.Context, deviceID, passTypeID string) ([]string, error)
	// ListForSerials returns registrations across all pass types for the serials.
	ListForSerials(ctx context.Context, serials []string) ([]Registration, error)
	DeleteForSerials(ctx context.Context, serials []string) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository constructs a Postgres-backed registration store.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert relies on the primary key for atomicity. xmax is zero only for
// freshly inserted rows.
func (r *PostgresRepository) Upsert(ctx context.Context, reg Registration) (bool, error) {
	var created bool
	err := r.db.QueryRow(ctx, `INSERT INTO device_registrations
        (device_id, pass_type_id, serial, push_token, transport, registered_at, updated_at)
        VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $6)
        ON CONFLICT (device_id, pass_type_id, serial) DO UPDATE
        SET push_token = EXCLUDED.push_token, transport = EXCLUDED.transport, updated_at = EXCLUDED.updated_at
        RETURNING (xmax = 0)`,
		reg.DeviceID, reg.PassTypeID, reg.Serial, reg.PushToken, transportOrDefault(reg.Transport), reg.UpdatedAt.UTC(),
	).Scan(&created)
	return created, err
}

// Delete removes one registration.
func (r *PostgresRepository) Delete(ctx context.Context, key Key) error {
	_, err := r.db.Exec(ctx, `DELETE FROM device_registrations
        WHERE device_id = $1 AND pass_type_id = $2 AND serial = $3`, key.DeviceID, key.PassTypeID, key.Serial)
	return err
}

// ListForDevice returns serials for the device and pass type.
func (r *PostgresRepository) ListForDevice(ctx context.Context, deviceID, passTypeID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT serial FROM device_registrations
        WHERE device_id = $1 AND pass_type_id = $2 ORDER BY serial`, deviceID, passTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var serials []string
	for rows.Next() {
		var serial string
		if err := rows.Scan(&serial); err != nil {
			return nil, err
		}
		serials = append(serials, serial)
	}
	return serials, rows.Err()
}

// ListForSerials returns every registration for the serials.
func (r *PostgresRepository) ListForSerials(ctx context.Context, serials []string) ([]Registration, error) {
	if len(serials) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT device_id, pass_type_id, serial, COALESCE(push_token, ''), transport, registered_at, updated_at
        FROM device_registrations WHERE serial = ANY($1)
        ORDER BY serial, device_id, pass_type_id`, serials)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

// DeleteForSerials removes every registration for the serials.
func (r *PostgresRepository) DeleteForSerials(ctx context.Context, serials []string) error {
	if len(serials) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `DELETE FROM device_registrations WHERE serial = ANY($1)`, serials)
	return err
}

func scanRegistration(row pgx.Row) (Registration, error) {
	var (
		reg          Registration
		registeredAt time.Time
		updatedAt    time.Time
	)
	if err := row.Scan(&reg.DeviceID, &reg.PassTypeID, &reg.Serial, &reg.PushToken, &reg.Transport, &registeredAt, &updatedAt); err != nil {
		return Registration{}, err
	}
	reg.RegisteredAt = registeredAt.UTC()
	reg.UpdatedAt = updatedAt.UTC()
	return reg, nil
}

func transportOrDefault(transport string) string {
	if transport == "" {
		return TransportAPNs
	}
	return transport
}
