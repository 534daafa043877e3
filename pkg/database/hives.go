package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CreateHive inserts a hive. A taken identifier or ip yields ErrDuplicate.
func (db *DB) CreateHive(ctx context.Context, hive *Hive) error {
	now := time.Now().UTC()
	if hive.CreatedAt.IsZero() {
		hive.CreatedAt = now
	}
	hive.UpdatedAt = hive.CreatedAt

	query := `
		INSERT INTO hives (id, identifier, ip, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := db.ExecContext(ctx, query,
		hive.ID, hive.Identifier, hive.IP, hive.PasswordHash, hive.CreatedAt, hive.UpdatedAt)
	return classify("create hive", err)
}

// GetHive returns the hive with the given identifier
func (db *DB) GetHive(ctx context.Context, identifier string) (*Hive, error) {
	var hive Hive
	query := `SELECT ` + hiveColumns + ` FROM hives WHERE identifier = $1`
	if err := db.GetContext(ctx, &hive, query, identifier); err != nil {
		return nil, classify("get hive", err)
	}
	return &hive, nil
}

// ListHives returns every hive, oldest first
func (db *DB) ListHives(ctx context.Context) ([]*Hive, error) {
	hives := []*Hive{}
	query := `SELECT ` + hiveColumns + ` FROM hives ORDER BY created_at ASC, identifier ASC`
	if err := db.SelectContext(ctx, &hives, query); err != nil {
		return nil, classify("list hives", err)
	}
	return hives, nil
}

// UpdateHive applies upd to the hive with the given identifier and returns
// the updated row
func (db *DB) UpdateHive(ctx context.Context, identifier string, upd HiveUpdate) (*Hive, error) {
	sets := []string{}
	args := []interface{}{}
	next := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Identifier != nil {
		next("identifier", *upd.Identifier)
	}
	if upd.IP != nil {
		next("ip", sql.NullString{String: *upd.IP, Valid: *upd.IP != ""})
	}
	if upd.PasswordHash != nil {
		next("password_hash", *upd.PasswordHash)
	}
	next("updated_at", time.Now().UTC())

	args = append(args, identifier)
	query := fmt.Sprintf(`UPDATE hives SET %s WHERE identifier = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), hiveColumns)

	var hive Hive
	if err := db.QueryRowxContext(ctx, query, args...).StructScan(&hive); err != nil {
		return nil, classify("update hive", err)
	}
	return &hive, nil
}

// DeleteHive removes a hive and returns it. Its metrics and reads go with it
// through ON DELETE CASCADE, inside the same statement.
func (db *DB) DeleteHive(ctx context.Context, identifier string) (*Hive, error) {
	var hive Hive
	query := `DELETE FROM hives WHERE identifier = $1 RETURNING ` + hiveColumns
	if err := db.QueryRowxContext(ctx, query, identifier).StructScan(&hive); err != nil {
		return nil, classify("delete hive", err)
	}

	db.logger.Info("hive deleted",
		zap.String("hive", hive.Identifier),
		zap.String("hive_id", hive.ID))
	return &hive, nil
}

// TouchHive records when a hive last authenticated
func (db *DB) TouchHive(ctx context.Context, id string, at time.Time) error {
	res, err := db.ExecContext(ctx, `UPDATE hives SET last_seen = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return classify("touch hive", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("touch hive: %w", ErrNotFound)
	}
	return nil
}

// CountHives returns the number of registered hives
func (db *DB) CountHives(ctx context.Context) (int, error) {
	var n int
	if err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM hives`); err != nil {
		return 0, classify("count hives", err)
	}
	return n, nil
}
