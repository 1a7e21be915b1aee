package database

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates a fresh database in a temp dir.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(t.TempDir(), "test")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDB_ExportImportRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.Exec(ctx, `CREATE TABLE accounts (id TEXT PRIMARY KEY, tenant_id TEXT NOT NULL, name TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `INSERT INTO accounts (id, tenant_id, name) VALUES ('a1', 't1', 'Alpha')`)
	require.NoError(t, err)

	blob, err := db.Export(ctx)
	require.NoError(t, err)
	require.NoError(t, ValidateBlob(blob))

	// Re-open the blob in a different working dir and read the row back.
	reopened, err := OpenBlob(t.TempDir(), "reopened", blob)
	require.NoError(t, err)
	defer reopened.Close()

	var name string
	err = reopened.QueryRow(ctx, `SELECT name FROM accounts WHERE id = 'a1'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", name)
}

// blobWithRow builds a blob holding one items row with the given value.
func blobWithRow(t *testing.T, value string) []byte {
	t.Helper()
	ctx := context.Background()
	db, err := New(t.TempDir(), "source")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(ctx, `CREATE TABLE items (id TEXT PRIMARY KEY, v TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `INSERT INTO items (id, v) VALUES ('k', ?)`, value)
	require.NoError(t, err)

	blob, err := db.Export(ctx)
	require.NoError(t, err)
	return blob
}

func TestOpenBlob_DiscardsStaleWAL(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// First incarnation: commit a row so the WAL carries its frames,
	// then snapshot the WAL before close checkpoints and deletes it.
	db, err := New(dir, "crash")
	require.NoError(t, err)
	_, err = db.Exec(ctx, `CREATE TABLE items (id TEXT PRIMARY KEY, v TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `INSERT INTO items (id, v) VALUES ('k', 'old')`)
	require.NoError(t, err)

	walPath := db.Path() + "-wal"
	wal, err := os.ReadFile(walPath)
	require.NoError(t, err)
	require.NotEmpty(t, wal)
	require.NoError(t, db.Close())

	// A crash leaves the WAL behind next to the working file.
	require.NoError(t, os.WriteFile(walPath, wal, 0o644))

	// Restoring a different blob must not let the leftover WAL replay
	// the first incarnation's rows over it.
	restored, err := OpenBlob(dir, "crash", blobWithRow(t, "new"))
	require.NoError(t, err)
	defer restored.Close()

	var v string
	require.NoError(t, restored.QueryRow(ctx, `SELECT v FROM items WHERE id = 'k'`).Scan(&v))
	assert.Equal(t, "new", v)
}

func TestNew_DiscardsStaleWAL(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := New(dir, "crash")
	require.NoError(t, err)
	_, err = db.Exec(ctx, `CREATE TABLE items (id TEXT PRIMARY KEY, v TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `INSERT INTO items (id, v) VALUES ('k', 'old')`)
	require.NoError(t, err)

	walPath := db.Path() + "-wal"
	wal, err := os.ReadFile(walPath)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, os.WriteFile(walPath, wal, 0o644))

	// A fresh database must start empty, not with replayed leftovers.
	fresh, err := New(dir, "crash")
	require.NoError(t, err)
	defer fresh.Close()

	var n int
	require.NoError(t, fresh.QueryRow(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'items'`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestValidateBlob(t *testing.T) {
	assert.ErrorIs(t, ValidateBlob(nil), ErrCorrupt)
	assert.ErrorIs(t, ValidateBlob([]byte{}), ErrCorrupt)
	assert.ErrorIs(t, ValidateBlob([]byte("not a database")), ErrCorrupt)

	valid := append([]byte(sqliteHeader), make([]byte, 100)...)
	assert.NoError(t, ValidateBlob(valid))
}

func TestOpenBlob_RejectsGarbage(t *testing.T) {
	_, err := OpenBlob(t.TempDir(), "bad", []byte("garbage bytes"))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestReparse(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.Exec(ctx, `CREATE TABLE t (x INTEGER)`)
	require.NoError(t, err)

	blob, err := db.Export(ctx)
	require.NoError(t, err)
	assert.NoError(t, Reparse(blob))

	// Header present but body truncated: re-parse must catch it.
	truncated := append([]byte(sqliteHeader), []byte("short")...)
	assert.ErrorIs(t, Reparse(truncated), ErrCorrupt)
}

func TestDB_Metadata(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.GetMeta(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.SetMeta(ctx, "device_name", "front-desk"))
	v, err := db.GetMeta(ctx, "device_name")
	require.NoError(t, err)
	assert.Equal(t, "front-desk", v)

	// Overwrite
	require.NoError(t, db.SetMeta(ctx, "device_name", "back-office"))
	v, err = db.GetMeta(ctx, "device_name")
	require.NoError(t, err)
	assert.Equal(t, "back-office", v)
}

func TestDB_SchemaVersion(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	v, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, v, "fresh database reports version 0")

	err = db.WithTxn(ctx, func(ex Execer) error {
		return SetSchemaVersionTx(ctx, ex, 5)
	})
	require.NoError(t, err)

	v, err = db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}
