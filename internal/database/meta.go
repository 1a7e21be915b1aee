// ABOUTME: Metadata key/value table inside the blob, including the schema version
// ABOUTME: The version is written only through an open migration transaction

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// schemaVersionKey is the metadata key holding the integer schema version.
const schemaVersionKey = "schema_version"

// ensureMetadata creates the metadata table on first open.
func (d *DB) ensureMetadata(ctx context.Context) error {
	_, err := d.sqldb.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating metadata table: %w", err)
	}
	return nil
}

// GetMeta returns the value stored under key, or ErrNotFound.
func (d *DB) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := d.sqldb.QueryRowContext(ctx,
		`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying metadata %q: %w", key, err)
	}
	return value, nil
}

// SetMeta stores a metadata key/value pair outside any transaction.
func (d *DB) SetMeta(ctx context.Context, key, value string) error {
	_, err := d.sqldb.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("setting metadata %q: %w", key, err)
	}
	return nil
}

// SchemaVersion returns the stored schema version, or 0 when none has
// been recorded yet (fresh database).
func (d *DB) SchemaVersion(ctx context.Context) (int, error) {
	raw, err := d.GetMeta(ctx, schemaVersionKey)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing schema version %q: %w", raw, err)
	}
	return v, nil
}

// SetSchemaVersionTx writes the schema version through an open migration
// transaction so a failed pass never advances it.
func SetSchemaVersionTx(ctx context.Context, ex Execer, version int) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, schemaVersionKey, strconv.Itoa(version))
	if err != nil {
		return fmt.Errorf("writing schema version %d: %w", version, err)
	}
	return nil
}
