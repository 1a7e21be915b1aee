// ABOUTME: Tenant-scoping guard for read/write statements in multi-tenant mode
// ABOUTME: A textual assertion, not a SQL parser; violations are programming errors

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// TenantColumn is the column every tenant-scoped statement must reference.
const TenantColumn = "tenant_id"

// ErrTenantMissing is returned when a scoped statement is issued with an
// empty tenant id. Programming error, never user-facing.
var ErrTenantMissing = errors.New("tenant id required for scoped statement")

// ErrTenantUnscoped is returned when a scoped statement does not
// reference the tenant column. Programming error: this guard exists to
// make cross-tenant leak bugs fail in tests, not in production traffic.
var ErrTenantUnscoped = errors.New("statement does not reference " + TenantColumn)

// CheckTenantScope validates a statement against the scoping rules
// before any I/O happens. It is deliberately conservative: a plain
// substring match on the tenant column, no SQL parsing.
func CheckTenantScope(query, tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: %q", ErrTenantMissing, query)
	}
	if !strings.Contains(strings.ToLower(query), TenantColumn) {
		return fmt.Errorf("%w: %q", ErrTenantUnscoped, query)
	}
	return nil
}

// QueryScoped runs a read statement after asserting it is tenant-scoped.
func (d *DB) QueryScoped(ctx context.Context, query string, args []any, tenantID string) (*sql.Rows, error) {
	if err := CheckTenantScope(query, tenantID); err != nil {
		return nil, err
	}
	return d.sqldb.QueryContext(ctx, query, args...)
}

// ExecScoped runs a write statement after asserting it is tenant-scoped.
func (d *DB) ExecScoped(ctx context.Context, query string, args []any, tenantID string) (sql.Result, error) {
	if err := CheckTenantScope(query, tenantID); err != nil {
		return nil, err
	}
	return d.sqldb.ExecContext(ctx, query, args...)
}
