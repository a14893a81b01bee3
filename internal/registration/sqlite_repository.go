package registration

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// SQLiteRepository implements Repository on SQLite. Timestamps are Unix microseconds.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository builds a SQLite-backed registration store.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Upsert inserts inside a transaction and only updates when the insert was
// ignored, so created reflects whether this call added the row.
func (r *SQLiteRepository) Upsert(ctx context.Context, reg Registration) (bool, error) {
	at := reg.UpdatedAt.UnixMicro()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO device_registrations
        (device_id, pass_type_id, serial, push_token, transport, registered_at, updated_at)
        VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?)
        ON CONFLICT (device_id, pass_type_id, serial) DO NOTHING`,
		reg.DeviceID, reg.PassTypeID, reg.Serial, reg.PushToken, transportOrDefault(reg.Transport), at, at,
	)
	if err != nil {
		return false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if inserted == 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE device_registrations
            SET push_token = NULLIF(?, ''), transport = ?, updated_at = ?
            WHERE device_id = ? AND pass_type_id = ? AND serial = ?`,
			reg.PushToken, transportOrDefault(reg.Transport), at, reg.DeviceID, reg.PassTypeID, reg.Serial,
		); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return inserted == 1, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, key Key) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM device_registrations
        WHERE device_id = ? AND pass_type_id = ? AND serial = ?`, key.DeviceID, key.PassTypeID, key.Serial)
	return err
}

func (r *SQLiteRepository) ListForDevice(ctx context.Context, deviceID, passTypeID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT serial FROM device_registrations
        WHERE device_id = ? AND pass_type_id = ? ORDER BY serial`, deviceID, passTypeID)
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

func (r *SQLiteRepository) ListForSerials(ctx context.Context, serials []string) ([]Registration, error) {
	var regs []Registration
	for _, chunk := range chunks(serials, maxInParams) {
		rows, err := r.db.QueryContext(ctx, `SELECT device_id, pass_type_id, serial, COALESCE(push_token, ''), transport, registered_at, updated_at
            FROM device_registrations WHERE serial IN (`+placeholders(len(chunk))+`)`, stringArgs(chunk)...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var (
				reg                     Registration
				registeredAt, updatedAt int64
			)
			if err := rows.Scan(&reg.DeviceID, &reg.PassTypeID, &reg.Serial, &reg.PushToken, &reg.Transport, &registeredAt, &updatedAt); err != nil {
				rows.Close()
				return nil, err
			}
			reg.RegisteredAt = time.UnixMicro(registeredAt).UTC()
			reg.UpdatedAt = time.UnixMicro(updatedAt).UTC()
			regs = append(regs, reg)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	sortRegistrations(regs)
	return regs, nil
}

func (r *SQLiteRepository) DeleteForSerials(ctx context.Context, serials []string) error {
	for _, chunk := range chunks(serials, maxInParams) {
		_, err := r.db.ExecContext(ctx, `DELETE FROM device_registrations WHERE serial IN (`+placeholders(len(chunk))+`)`,
			stringArgs(chunk)...)
		if err != nil {
			return err
		}
	}
	return nil
}

// maxInParams keeps IN lists below SQLITE_MAX_VARIABLE_NUMBER, which is 999
// on builds older than 3.32.
var maxInParams = 500

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

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
