package migrate

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentfold/localsync/internal/database"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(t.TempDir(), "migrate-test")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// schemaShape captures table names and their column sets for comparison.
func schemaShape(t *testing.T, db *database.DB) map[string][]string {
	t.Helper()
	ctx := context.Background()

	rows, err := db.Query(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	require.NoError(t, err)
	defer rows.Close()

	shape := make(map[string][]string)
	var tables []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		tables = append(tables, name)
	}
	require.NoError(t, rows.Err())

	for _, table := range tables {
		cols, err := db.Query(ctx, `SELECT name FROM pragma_table_info(?)`, table)
		require.NoError(t, err)
		var names []string
		for cols.Next() {
			var c string
			require.NoError(t, cols.Scan(&c))
			names = append(names, c)
		}
		require.NoError(t, cols.Err())
		cols.Close()
		sort.Strings(names)
		shape[table] = names
	}
	return shape
}

func TestMigrator_FreshDatabaseReachesTarget(t *testing.T) {
	db := setupTestDB(t)
	m := New(db, DefaultSteps())

	migrated, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, migrated)

	v, err := db.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, m.Target(), v)

	shape := schemaShape(t, db)
	assert.Contains(t, shape, "accounts")
	assert.Contains(t, shape, "invoices")
	assert.Contains(t, shape, "rent_schedules")
	assert.Contains(t, shape, "payments")

	// v4 renamed title to display_name.
	assert.Contains(t, shape["accounts"], "display_name")
	assert.NotContains(t, shape["accounts"], "title")
	// v2 added due_at.
	assert.Contains(t, shape["invoices"], "due_at")
}

func TestMigrator_SecondRunIsNoOp(t *testing.T) {
	db := setupTestDB(t)
	m := New(db, DefaultSteps())

	migrated, err := m.Run(context.Background())
	require.NoError(t, err)
	require.True(t, migrated)
	before := schemaShape(t, db)

	migrated, err = m.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, migrated, "at-most-one migration pass per version range")
	assert.Equal(t, before, schemaShape(t, db))
}

func TestMigrator_StepsAreIndividuallyIdempotent(t *testing.T) {
	db := setupTestDB(t)
	m := New(db, DefaultSteps())

	_, err := m.Run(context.Background())
	require.NoError(t, err)
	before := schemaShape(t, db)

	// Force every step to re-apply against the already-migrated schema,
	// as happens when a crash loses the version write but not the DDL.
	require.NoError(t, db.SetMeta(context.Background(), "schema_version", "0"))
	migrated, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, migrated)
	assert.Equal(t, before, schemaShape(t, db), "double-applied steps must leave an identical schema shape")
}

func TestMigrator_FailedPassKeepsVersionAndRetries(t *testing.T) {
	db := setupTestDB(t)

	boom := errors.New("backfill exploded")
	failing := DefaultSteps()
	failing = append(failing, Step{
		Version: 6,
		Name:    "doomed step",
		Apply: func(ctx context.Context, ex database.Execer) error {
			return boom
		},
	})

	m := New(db, failing)
	_, err := m.Run(context.Background())
	require.ErrorIs(t, err, boom)

	// Whole pass rolled back: version untouched, no tables created.
	v, err := db.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, v)
	shape := schemaShape(t, db)
	assert.NotContains(t, shape, "accounts")

	// Next startup retries the same range; with the bad step gone the
	// pass converges to the same end state as an uninterrupted run.
	m = New(db, DefaultSteps())
	migrated, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, migrated)

	v, err = db.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, m.Target(), v)
}

func TestMigrator_PartialUpgrade(t *testing.T) {
	db := setupTestDB(t)

	// Bring the database to version 3 only.
	early := DefaultSteps()[:3]
	m := New(db, early)
	_, err := m.Run(context.Background())
	require.NoError(t, err)

	v, err := db.SchemaVersion(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, v)
	shape := schemaShape(t, db)
	assert.Contains(t, shape["accounts"], "title", "rename has not run yet")
	assert.NotContains(t, shape, "payments")

	// Upgrade to the full chain: only v4 and v5 run.
	m = New(db, DefaultSteps())
	migrated, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, migrated)

	shape = schemaShape(t, db)
	assert.Contains(t, shape["accounts"], "display_name")
	assert.Contains(t, shape, "payments")
}

func TestMigrator_BackfillSetsOpenStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// Migrate to v4, insert a status-less invoice, then run v5.
	m := New(db, DefaultSteps()[:4])
	_, err := m.Run(ctx)
	require.NoError(t, err)

	_, err = db.Exec(ctx, `
		INSERT INTO invoices (id, tenant_id, number, amount, created_at, updated_at)
		VALUES ('i1', 't1', 'INV-001', 100, '2024-01-01', '2024-01-01')
	`)
	require.NoError(t, err)

	m = New(db, DefaultSteps())
	_, err = m.Run(ctx)
	require.NoError(t, err)

	var status string
	require.NoError(t, db.QueryRow(ctx, `SELECT status FROM invoices WHERE id = 'i1'`).Scan(&status))
	assert.Equal(t, "open", status)
}

func TestMigrator_ApplyRemote(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	m := New(db, DefaultSteps())
	_, err := m.Run(ctx)
	require.NoError(t, err)

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reminders (
			id        TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			body      TEXT NOT NULL
		)`,
	}
	require.NoError(t, m.ApplyRemote(ctx, m.Target(), m.Target()+1, stmts))

	v, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, m.Target()+1, v)
	assert.Contains(t, schemaShape(t, db), "reminders")
}

func TestMigrator_ApplyRemote_VersionMismatch(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	m := New(db, DefaultSteps())
	_, err := m.Run(ctx)
	require.NoError(t, err)

	err = m.ApplyRemote(ctx, m.Target()+3, m.Target()+4, []string{`SELECT 1`})
	assert.Error(t, err)

	err = m.ApplyRemote(ctx, m.Target(), m.Target(), []string{`SELECT 1`})
	assert.Error(t, err, "non-upgrading range is rejected")
}

func TestMigrator_ApplyRemote_FailureRollsBack(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	m := New(db, DefaultSteps())
	_, err := m.Run(ctx)
	require.NoError(t, err)
	before := m.Target()

	stmts := []string{
		`CREATE TABLE remote_extra (id TEXT PRIMARY KEY)`,
		`THIS IS NOT SQL`,
	}
	err = m.ApplyRemote(ctx, before, before+1, stmts)
	require.Error(t, err)

	v, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, v)
	assert.NotContains(t, schemaShape(t, db), "remote_extra")
}

func TestColumnHelpers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.Exec(ctx, `CREATE TABLE widgets (id TEXT PRIMARY KEY)`)
	require.NoError(t, err)

	err = db.WithTxn(ctx, func(ex database.Execer) error {
		exists, err := TableExists(ctx, ex, "widgets")
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = TableExists(ctx, ex, "gadgets")
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, AddColumnIfMissing(ctx, ex, "widgets", "color", "TEXT"))
		// Second add is a no-op.
		require.NoError(t, AddColumnIfMissing(ctx, ex, "widgets", "color", "TEXT"))

		require.NoError(t, RenameColumnIfPresent(ctx, ex, "widgets", "color", "hue"))
		// Re-attempt after the rename already happened: no-op.
		require.NoError(t, RenameColumnIfPresent(ctx, ex, "widgets", "color", "hue"))

		has, err := ColumnExists(ctx, ex, "widgets", "hue")
		require.NoError(t, err)
		assert.True(t, has)
		return nil
	})
	require.NoError(t, err)
}
