// ABOUTME: Embedded SQLite handle with blob import/export using modernc.org/sqlite
// ABOUTME: The whole database round-trips as one binary blob through the storage backends

package database

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// sqliteHeader is the 16-byte magic every valid SQLite file starts with.
const sqliteHeader = "SQLite format 3\x00"

// ErrCorrupt is returned when blob bytes fail header or re-parse validation.
var ErrCorrupt = errors.New("database blob failed validation")

// ErrNotFound is returned when a requested row or metadata key does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps the embedded SQLite database backing one local instance.
// Statements execute synchronously; concurrency is managed by the
// orchestration layer, not in here.
type DB struct {
	sqldb  *sql.DB
	path   string
	logger *slog.Logger

	txn txnState
}

// New creates a fresh, empty database in dataDir. Any previous working
// file with the same name is discarded.
func New(dataDir, name string) (*DB, error) {
	path, err := workingPath(dataDir, name)
	if err != nil {
		return nil, err
	}
	_ = os.Remove(path)
	removeSidecars(path)
	return open(path)
}

// OpenBlob materializes a stored blob into a working file and opens it.
// The blob is validated before any bytes reach the working directory;
// invalid bytes yield ErrCorrupt.
func OpenBlob(dataDir, name string, blob []byte) (*DB, error) {
	if err := ValidateBlob(blob); err != nil {
		return nil, err
	}
	path, err := workingPath(dataDir, name)
	if err != nil {
		return nil, err
	}
	removeSidecars(path)
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return nil, fmt.Errorf("writing working database file: %w", err)
	}
	db, err := open(path)
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return db, nil
}

func workingPath(dataDir, name string) (string, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}
	return filepath.Join(dataDir, name+".db"), nil
}

// removeSidecars deletes leftover WAL and shared-memory files from a
// previous incarnation of the working file. A stale WAL left behind by a
// crash would otherwise be replayed over a freshly written blob on open,
// resurrecting rows the blob no longer contains.
func removeSidecars(path string) {
	_ = os.Remove(path + "-wal")
	_ = os.Remove(path + "-shm")
}

func open(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// The engine assumes a single logical writer; a second connection
	// would defeat the transaction open/closed bookkeeping.
	sqldb.SetMaxOpenConns(1)

	if _, err := sqldb.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := sqldb.Exec("PRAGMA foreign_keys=ON"); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Parse smoke test: an unreadable schema means the file is garbage.
	var n int
	if err := sqldb.QueryRow("SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("reading schema: %w", err)
	}

	d := &DB{
		sqldb:  sqldb,
		path:   path,
		logger: slog.Default().With("component", "database"),
	}
	if err := d.ensureMetadata(context.Background()); err != nil {
		sqldb.Close()
		return nil, err
	}
	return d, nil
}

// ValidateBlob checks that blob is non-empty and carries the SQLite
// file header. It is cheap enough to run on every load and export.
func ValidateBlob(blob []byte) error {
	if len(blob) == 0 {
		return fmt.Errorf("%w: empty blob", ErrCorrupt)
	}
	if len(blob) < len(sqliteHeader) || !bytes.HasPrefix(blob, []byte(sqliteHeader)) {
		return fmt.Errorf("%w: missing SQLite header", ErrCorrupt)
	}
	return nil
}

// Reparse opens the blob into a throwaway handle as a corruption smoke
// test. Nothing of the throwaway copy survives the call.
func Reparse(blob []byte) error {
	if err := ValidateBlob(blob); err != nil {
		return err
	}
	dir, err := os.MkdirTemp("", "localsync-reparse-")
	if err != nil {
		return fmt.Errorf("creating reparse scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "reparse.db")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return fmt.Errorf("writing reparse copy: %w", err)
	}
	probe, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	defer probe.Close()

	var n int
	if err := probe.QueryRow("SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return nil
}

// Export serializes the entire database to a binary blob via VACUUM INTO,
// after forcing a WAL checkpoint so no committed write is left behind in
// the log. Callers must ensure no transaction is open (see WaitIdle).
func (d *DB) Export(ctx context.Context) ([]byte, error) {
	if d.txn.open() {
		return nil, ErrTransactionOpen
	}

	if _, err := d.sqldb.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return nil, fmt.Errorf("checkpointing WAL: %w", err)
	}

	tmp := d.path + ".export"
	_ = os.Remove(tmp)
	quoted := strings.ReplaceAll(tmp, "'", "''")
	if _, err := d.sqldb.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		return nil, fmt.Errorf("exporting database: %w", err)
	}
	defer os.Remove(tmp)

	blob, err := os.ReadFile(tmp)
	if err != nil {
		return nil, fmt.Errorf("reading exported database: %w", err)
	}
	return blob, nil
}

// Query runs a read statement.
func (d *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.sqldb.QueryContext(ctx, query, args...)
}

// QueryRow runs a single-row read statement.
func (d *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.sqldb.QueryRowContext(ctx, query, args...)
}

// Exec runs a write statement outside any grouped transaction.
func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.sqldb.ExecContext(ctx, query, args...)
}

// Path returns the working file path. Exposed for the native bridge.
func (d *DB) Path() string { return d.path }

// Close closes the database connection. The working file stays on disk;
// the authoritative copy lives in the storage backends.
func (d *DB) Close() error {
	d.logger.Debug("closing database", "path", d.path)
	return d.sqldb.Close()
}
