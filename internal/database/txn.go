// ABOUTME: Grouped transactions with explicit BEGIN/COMMIT and auto-rollback detection
// ABOUTME: Export is gated while a transaction is open; waiters poll with a bounded budget

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrAutoRolledBack is returned when the storage engine rolled the
// transaction back on its own (e.g. a conflict-resolution clause fired)
// and a commit would have been a no-op lie.
var ErrAutoRolledBack = errors.New("transaction was rolled back by the storage engine before commit")

// ErrTransactionOpen is returned when an export is attempted while a
// grouped transaction is still open.
var ErrTransactionOpen = errors.New("transaction open: refusing to export database blob")

// Op is one parameterized write inside a grouped transaction.
type Op struct {
	SQL  string
	Args []any
}

// Execer is the statement surface handed to transactional callbacks.
// *sql.Conn satisfies it; all statements run inside the open transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// txnState tracks whether a grouped transaction is open so exporters can
// refuse to serialize a half-written database.
type txnState struct {
	mu     sync.Mutex
	isOpen bool
}

func (t *txnState) open() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isOpen
}

func (t *txnState) set(open bool) {
	t.mu.Lock()
	t.isOpen = open
	t.mu.Unlock()
}

// TxnOpen reports whether a grouped transaction is currently open.
func (d *DB) TxnOpen() bool { return d.txn.open() }

// WaitIdle blocks until no transaction is open, polling until the budget
// is spent. It fails loudly rather than letting the caller export a
// potentially inconsistent blob.
func (d *DB) WaitIdle(ctx context.Context, budget time.Duration) error {
	deadline := time.Now().Add(budget)
	for d.txn.open() {
		if time.Now().After(deadline) {
			return ErrTransactionOpen
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil
}

// WithTxn runs fn inside an explicit transaction on a dedicated
// connection. BEGIN IMMEDIATE takes the write lock up front so the group
// never deadlocks against itself mid-way.
//
// Before COMMIT the runner detects an engine-side auto-rollback: if the
// commit reports no active transaction, the group is surfaced as
// ErrAutoRolledBack instead of a generic failure.
func (d *DB) WithTxn(ctx context.Context, fn func(ex Execer) error) error {
	conn, err := d.sqldb.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	d.txn.set(true)
	defer d.txn.set(false)

	if err := fn(conn); err != nil {
		if _, rbErr := conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil && !isNoActiveTxn(rbErr) {
			d.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		if isNoActiveTxn(err) {
			return ErrAutoRolledBack
		}
		if _, rbErr := conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil && !isNoActiveTxn(rbErr) {
			d.logger.Error("rollback after failed commit failed", "error", rbErr)
		}
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// RunGrouped executes the operations in order inside one transaction,
// stopping at the first failure. The stop-at-first-failure policy is an
// explicit loop condition: each operation's result is inspected, nothing
// relies on error propagation through the driver.
func (d *DB) RunGrouped(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	return d.WithTxn(ctx, func(ex Execer) error {
		for i, op := range ops {
			if _, err := ex.ExecContext(ctx, op.SQL, op.Args...); err != nil {
				return fmt.Errorf("operation %d of %d: %w", i+1, len(ops), err)
			}
		}
		return nil
	})
}

// isNoActiveTxn matches the SQLite errors that signal the transaction is
// already closed underneath us.
func isNoActiveTxn(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no transaction is active") ||
		strings.Contains(msg, "cannot commit - no transaction") ||
		strings.Contains(msg, "cannot rollback - no transaction")
}

// IsConstraintViolation checks for a SQLite constraint failure.
func IsConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed")
}
