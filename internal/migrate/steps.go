// ABOUTME: Built-in migration steps for the business entity schema
// ABOUTME: Every table is tenant-scoped; steps use create/add-if-missing semantics

package migrate

import (
	"context"

	"github.com/rentfold/localsync/internal/database"
)

// DefaultSteps returns the built-in migration chain. Version 1 is the
// base schema; later versions are the changes shipped by application
// upgrades since.
func DefaultSteps() []Step {
	return []Step{
		{
			Version: 1,
			Name:    "base schema",
			Apply:   createBaseSchema,
		},
		{
			Version: 2,
			Name:    "invoices due date",
			Apply: func(ctx context.Context, ex database.Execer) error {
				return AddColumnIfMissing(ctx, ex, "invoices", "due_at", "TEXT")
			},
		},
		{
			Version: 3,
			Name:    "rent schedules table",
			Apply:   createRentSchedules,
		},
		{
			Version: 4,
			Name:    "account display name",
			Apply: func(ctx context.Context, ex database.Execer) error {
				return RenameColumnIfPresent(ctx, ex, "accounts", "title", "display_name")
			},
		},
		{
			Version: 5,
			Name:    "payments table and invoice status backfill",
			Apply:   createPaymentsAndBackfill,
		},
	}
}

func createBaseSchema(ctx context.Context, ex database.Execer) error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			id         TEXT PRIMARY KEY,
			tenant_id  TEXT NOT NULL,
			title      TEXT NOT NULL,
			email      TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_accounts_tenant ON accounts(tenant_id);

		CREATE TABLE IF NOT EXISTS contracts (
			id         TEXT PRIMARY KEY,
			tenant_id  TEXT NOT NULL,
			account_id TEXT NOT NULL,
			label      TEXT NOT NULL,
			starts_at  TEXT,
			ends_at    TEXT,
			terms_json TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_contracts_tenant ON contracts(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_contracts_account ON contracts(account_id);

		CREATE TABLE IF NOT EXISTS invoices (
			id          TEXT PRIMARY KEY,
			tenant_id   TEXT NOT NULL,
			contract_id TEXT,
			number      TEXT NOT NULL,
			amount      REAL NOT NULL DEFAULT 0,
			status      TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_invoices_tenant ON invoices(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_invoices_contract ON invoices(contract_id);
	`
	_, err := ex.ExecContext(ctx, schema)
	return err
}

func createRentSchedules(ctx context.Context, ex database.Execer) error {
	schema := `
		CREATE TABLE IF NOT EXISTS rent_schedules (
			id          TEXT PRIMARY KEY,
			tenant_id   TEXT NOT NULL,
			contract_id TEXT NOT NULL,
			amount      REAL NOT NULL DEFAULT 0,
			interval    TEXT NOT NULL DEFAULT 'monthly',
			starts_at   TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_rent_schedules_tenant ON rent_schedules(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_rent_schedules_contract ON rent_schedules(contract_id);
	`
	_, err := ex.ExecContext(ctx, schema)
	return err
}

func createPaymentsAndBackfill(ctx context.Context, ex database.Execer) error {
	schema := `
		CREATE TABLE IF NOT EXISTS payments (
			id         TEXT PRIMARY KEY,
			tenant_id  TEXT NOT NULL,
			invoice_id TEXT NOT NULL,
			amount     REAL NOT NULL DEFAULT 0,
			paid_at    TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_payments_tenant ON payments(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_payments_invoice ON payments(invoice_id);
	`
	if _, err := ex.ExecContext(ctx, schema); err != nil {
		return err
	}

	// Bounded backfill: rows written before statuses existed become 'open'.
	_, err := ex.ExecContext(ctx, `UPDATE invoices SET status = 'open' WHERE status IS NULL`)
	return err
}
