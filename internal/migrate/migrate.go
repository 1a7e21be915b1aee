// ABOUTME: Ordered, idempotent schema migrations gated by the stored schema version
// ABOUTME: The whole pass runs in one transaction; the version is written only on success

package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/rentfold/localsync/internal/database"
)

// Step is a named, idempotent unit of schema change. Applying a step
// twice must neither fail nor corrupt data: tables and columns are
// created with "if missing" semantics and backfills are bounded updates.
type Step struct {
	// Version is the schema version the database is at once this step
	// (and all steps before it) has been applied.
	Version int

	// Name identifies the step in logs.
	Name string

	// Apply performs the change through the open migration transaction.
	Apply func(ctx context.Context, ex database.Execer) error
}

// Migrator drives the database from its stored schema version to the
// highest step version.
type Migrator struct {
	db     *database.DB
	steps  []Step
	target int
	logger *slog.Logger
}

// New creates a migrator over the given steps. Steps are ordered by
// version; the highest version is the target.
func New(db *database.DB, steps []Step) *Migrator {
	sorted := append([]Step(nil), steps...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	target := 0
	if len(sorted) > 0 {
		target = sorted[len(sorted)-1].Version
	}
	return &Migrator{
		db:     db,
		steps:  sorted,
		target: target,
		logger: slog.Default().With("component", "migrate"),
	}
}

// Target returns the schema version a fully migrated database has.
func (m *Migrator) Target() int { return m.target }

// Run applies all pending steps inside a single transaction and returns
// whether anything was migrated. On any step failure the whole pass
// rolls back and the stored version stays untouched, so the next startup
// retries the same range.
func (m *Migrator) Run(ctx context.Context) (bool, error) {
	current, err := m.db.SchemaVersion(ctx)
	if err != nil {
		return false, err
	}
	if current >= m.target {
		m.logger.Debug("schema current", "version", current)
		return false, nil
	}

	m.logger.Info("migrating schema", "from", current, "to", m.target)

	err = m.db.WithTxn(ctx, func(ex database.Execer) error {
		for _, step := range m.steps {
			if step.Version <= current {
				continue
			}
			if err := step.Apply(ctx, ex); err != nil {
				return fmt.Errorf("migration %q (v%d): %w", step.Name, step.Version, err)
			}
			m.logger.Info("applied migration", "step", step.Name, "version", step.Version)
		}
		return database.SetSchemaVersionTx(ctx, ex, m.target)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// ApplyRemote applies server-supplied migration statements, advancing the
// version from `from` to `to`. The pass is refused when the stored
// version does not match `from`; the server catalog and the local blob
// would otherwise diverge silently.
func (m *Migrator) ApplyRemote(ctx context.Context, from, to int, stmts []string) error {
	current, err := m.db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current != from {
		return fmt.Errorf("remote migration expects version %d, database is at %d", from, current)
	}
	if to <= from {
		return fmt.Errorf("remote migration range %d..%d is not an upgrade", from, to)
	}

	return m.db.WithTxn(ctx, func(ex database.Execer) error {
		for i, stmt := range stmts {
			if _, err := ex.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("remote migration statement %d of %d: %w", i+1, len(stmts), err)
			}
		}
		return database.SetSchemaVersionTx(ctx, ex, to)
	})
}

// TableExists reports whether a table is present in the schema.
func TableExists(ctx context.Context, ex database.Execer, table string) (bool, error) {
	var n int
	err := ex.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking table %q: %w", table, err)
	}
	return n > 0, nil
}

// ColumnExists reports whether a column is present on a table.
func ColumnExists(ctx context.Context, ex database.Execer, table, column string) (bool, error) {
	var one int
	err := ex.QueryRowContext(ctx,
		`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	return true, nil
}

// AddColumnIfMissing adds a column unless it already exists. SQLite has
// no ADD COLUMN IF NOT EXISTS, so the check runs first.
func AddColumnIfMissing(ctx context.Context, ex database.Execer, table, column, decl string) error {
	exists, err := ColumnExists(ctx, ex, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)
	if _, err := ex.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("adding column %s.%s: %w", table, column, err)
	}
	return nil
}

// RenameColumnIfPresent renames a column when the old name still exists
// and the new one does not; otherwise it is a no-op, which makes the
// rename safe to re-attempt.
func RenameColumnIfPresent(ctx context.Context, ex database.Execer, table, oldName, newName string) error {
	oldExists, err := ColumnExists(ctx, ex, table, oldName)
	if err != nil {
		return err
	}
	newExists, err := ColumnExists(ctx, ex, table, newName)
	if err != nil {
		return err
	}
	if !oldExists || newExists {
		return nil
	}
	stmt := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", table, oldName, newName)
	if _, err := ex.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("renaming column %s.%s: %w", table, oldName, err)
	}
	return nil
}
