// ABOUTME: Tenant-scoped repositories over the local database
// ABOUTME: Every statement goes through the tenant guard; writes use grouped transactions

package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rentfold/localsync/internal/database"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert collides with an existing row.
var ErrDuplicate = errors.New("already exists")

// Account is a customer account row.
type Account struct {
	ID          string
	TenantID    string
	DisplayName string
	Email       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Invoice is an invoice row.
type Invoice struct {
	ID         string
	TenantID   string
	ContractID string
	Number     string
	Amount     float64
	Status     string
	DueAt      *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Repo bundles the tenant-scoped data access for one tenant.
type Repo struct {
	db       *database.DB
	tenantID string
}

// New creates a repository bound to one tenant.
func New(db *database.DB, tenantID string) *Repo {
	return &Repo{db: db, tenantID: tenantID}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// CreateAccount inserts a new account, generating an id when none is set.
func (r *Repo) CreateAccount(ctx context.Context, a *Account) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	ts := now()
	_, err := r.db.ExecScoped(ctx,
		`INSERT INTO accounts (id, tenant_id, display_name, email, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		[]any{a.ID, r.tenantID, a.DisplayName, a.Email, ts, ts},
		r.tenantID,
	)
	if err != nil {
		if database.IsConstraintViolation(err) {
			return fmt.Errorf("account %s: %w", a.ID, ErrDuplicate)
		}
		return fmt.Errorf("creating account: %w", err)
	}
	a.TenantID = r.tenantID
	return nil
}

// GetAccount fetches one account by id.
func (r *Repo) GetAccount(ctx context.Context, id string) (*Account, error) {
	rows, err := r.db.QueryScoped(ctx,
		`SELECT id, tenant_id, display_name, email, created_at, updated_at
		 FROM accounts WHERE id = ? AND tenant_id = ?`,
		[]any{id, r.tenantID},
		r.tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}

	var a Account
	var email sql.NullString
	var createdAt, updatedAt string
	if err := rows.Scan(&a.ID, &a.TenantID, &a.DisplayName, &email, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scanning account: %w", err)
	}
	a.Email = email.String
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &a, nil
}

// ListAccounts returns every account for the tenant, newest first.
func (r *Repo) ListAccounts(ctx context.Context) ([]*Account, error) {
	rows, err := r.db.QueryScoped(ctx,
		`SELECT id, tenant_id, display_name, email, created_at, updated_at
		 FROM accounts WHERE tenant_id = ? ORDER BY created_at DESC`,
		[]any{r.tenantID},
		r.tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		var a Account
		var email sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&a.ID, &a.TenantID, &a.DisplayName, &email, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		a.Email = email.String
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		accounts = append(accounts, &a)
	}
	return accounts, rows.Err()
}

// CreateInvoice inserts a new invoice, generating an id when none is set.
func (r *Repo) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.Status == "" {
		inv.Status = "open"
	}
	var dueAt any
	if inv.DueAt != nil {
		dueAt = inv.DueAt.UTC().Format(time.RFC3339)
	}
	ts := now()
	_, err := r.db.ExecScoped(ctx,
		`INSERT INTO invoices (id, tenant_id, contract_id, number, amount, status, due_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		[]any{inv.ID, r.tenantID, inv.ContractID, inv.Number, inv.Amount, inv.Status, dueAt, ts, ts},
		r.tenantID,
	)
	if err != nil {
		if database.IsConstraintViolation(err) {
			return fmt.Errorf("invoice %s: %w", inv.ID, ErrDuplicate)
		}
		return fmt.Errorf("creating invoice: %w", err)
	}
	inv.TenantID = r.tenantID
	return nil
}

// GetInvoice fetches one invoice by id.
func (r *Repo) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	rows, err := r.db.QueryScoped(ctx,
		`SELECT id, tenant_id, contract_id, number, amount, status, due_at, created_at, updated_at
		 FROM invoices WHERE id = ? AND tenant_id = ?`,
		[]any{id, r.tenantID},
		r.tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying invoice: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("invoice %s: %w", id, ErrNotFound)
	}
	inv, err := scanInvoice(rows)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ListInvoicesByStatus returns the tenant's invoices with the given status.
func (r *Repo) ListInvoicesByStatus(ctx context.Context, status string) ([]*Invoice, error) {
	rows, err := r.db.QueryScoped(ctx,
		`SELECT id, tenant_id, contract_id, number, amount, status, due_at, created_at, updated_at
		 FROM invoices WHERE tenant_id = ? AND status = ? ORDER BY created_at DESC`,
		[]any{r.tenantID, status},
		r.tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func scanInvoice(rows *sql.Rows) (*Invoice, error) {
	var inv Invoice
	var contractID, status, dueAt sql.NullString
	var createdAt, updatedAt string
	if err := rows.Scan(&inv.ID, &inv.TenantID, &contractID, &inv.Number, &inv.Amount, &status, &dueAt, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scanning invoice: %w", err)
	}
	inv.ContractID = contractID.String
	inv.Status = status.String
	if dueAt.Valid {
		if t, err := time.Parse(time.RFC3339, dueAt.String); err == nil {
			inv.DueAt = &t
		}
	}
	inv.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	inv.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &inv, nil
}

// SettleInvoice marks an invoice paid and records the payment in one
// grouped transaction: both rows land or neither does.
func (r *Repo) SettleInvoice(ctx context.Context, invoiceID string, amount float64, paidAt time.Time) error {
	for _, stmt := range []string{
		`UPDATE invoices SET status = 'paid', updated_at = ? WHERE id = ? AND tenant_id = ?`,
		`INSERT INTO payments (id, tenant_id, invoice_id, amount, paid_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	} {
		if err := database.CheckTenantScope(stmt, r.tenantID); err != nil {
			return err
		}
	}

	ts := now()
	ops := []database.Op{
		{
			SQL:  `UPDATE invoices SET status = 'paid', updated_at = ? WHERE id = ? AND tenant_id = ?`,
			Args: []any{ts, invoiceID, r.tenantID},
		},
		{
			SQL: `INSERT INTO payments (id, tenant_id, invoice_id, amount, paid_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			Args: []any{uuid.New().String(), r.tenantID, invoiceID, amount, paidAt.UTC().Format(time.RFC3339), ts, ts},
		},
	}
	if err := r.db.RunGrouped(ctx, ops); err != nil {
		return fmt.Errorf("settling invoice %s: %w", invoiceID, err)
	}
	return nil
}
