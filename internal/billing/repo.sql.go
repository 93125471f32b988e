package billing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// TxStore is the billing persistence surface bound to one transaction.
type TxStore interface {
	Insert(ctx context.Context, inv Invoice, items []InvoiceItem) (Invoice, error)
	GetForUpdate(ctx context.Context, id int64) (Invoice, error)
	Items(ctx context.Context, invoiceID int64) ([]InvoiceItem, error)
	MarkCancelled(ctx context.Context, id int64, reason string) error
	SetReceivable(ctx context.Context, id, receivableID int64) error
}

// Repository persists invoices in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// NewTxStore binds a TxStore to an open transaction.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

// Get loads one invoice without locking.
func (r *Repository) Get(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT id, number, customer_id, sales_order_id, total_value, status, cancel_reason, issued_at, cancelled_at
FROM invoices WHERE id=$1`, id))
	if errors.Is(err, shared.ErrNotFound) {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, err
}

// Items returns the invoice's lines.
func (r *Repository) Items(ctx context.Context, invoiceID int64) ([]InvoiceItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, invoice_id, material_code, description, quantity, unit_price, stock_tracked
FROM invoice_items WHERE invoice_id=$1 ORDER BY id ASC`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

// List returns invoices newest first, optionally filtered by status.
func (r *Repository) List(ctx context.Context, status InvoiceStatus) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, number, customer_id, sales_order_id, total_value, status, cancel_reason, issued_at, cancelled_at
FROM invoices WHERE ($1 = '' OR status = $1) ORDER BY id DESC LIMIT 200`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		var inv Invoice
		var st string
		if err := rows.Scan(&inv.ID, &inv.Number, &inv.CustomerID, &inv.SalesOrderID, &inv.TotalValue, &st, &inv.CancelReason, &inv.IssuedAt, &inv.CancelledAt); err != nil {
			return nil, err
		}
		inv.Status = InvoiceStatus(st)
		out = append(out, inv)
	}
	return out, rows.Err()
}

type txStore struct {
	tx pgx.Tx
}

func (s *txStore) Insert(ctx context.Context, inv Invoice, items []InvoiceItem) (Invoice, error) {
	err := s.tx.QueryRow(ctx, `INSERT INTO invoices (customer_id, sales_order_id, total_value, status, issued_at)
VALUES ($1,$2,$3,'issued',now()) RETURNING id, number, issued_at`,
		inv.CustomerID, inv.SalesOrderID, inv.TotalValue).Scan(&inv.ID, &inv.Number, &inv.IssuedAt)
	if err != nil {
		return Invoice{}, err
	}
	inv.Status = InvoiceStatusIssued
	for _, item := range items {
		if _, err := s.tx.Exec(ctx, `INSERT INTO invoice_items (invoice_id, material_code, description, quantity, unit_price, stock_tracked)
VALUES ($1,$2,$3,$4,$5,$6)`, inv.ID, item.MaterialCode, item.Description, item.Quantity, item.UnitPrice, item.StockTracked); err != nil {
			return Invoice{}, err
		}
	}
	return inv, nil
}

func (s *txStore) GetForUpdate(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(s.tx.QueryRow(ctx, `SELECT id, number, customer_id, sales_order_id, total_value, status, cancel_reason, issued_at, cancelled_at
FROM invoices WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, shared.ErrNotFound) {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, err
}

func (s *txStore) Items(ctx context.Context, invoiceID int64) ([]InvoiceItem, error) {
	rows, err := s.tx.Query(ctx, `SELECT id, invoice_id, material_code, description, quantity, unit_price, stock_tracked
FROM invoice_items WHERE invoice_id=$1 ORDER BY id ASC`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

func (s *txStore) MarkCancelled(ctx context.Context, id int64, reason string) error {
	tag, err := s.tx.Exec(ctx, `UPDATE invoices SET status='cancelled', cancel_reason=$2, cancelled_at=now()
WHERE id=$1 AND status='issued'`, id, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyCancelled
	}
	return nil
}

func (s *txStore) SetReceivable(ctx context.Context, id, receivableID int64) error {
	_, err := s.tx.Exec(ctx, `UPDATE invoices SET receivable_id=$2 WHERE id=$1`, id, receivableID)
	return err
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var status string
	err := row.Scan(&inv.ID, &inv.Number, &inv.CustomerID, &inv.SalesOrderID, &inv.TotalValue, &status, &inv.CancelReason, &inv.IssuedAt, &inv.CancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, shared.ErrNotFound
		}
		return Invoice{}, err
	}
	inv.Status = InvoiceStatus(status)
	return inv, nil
}

func scanItems(rows pgx.Rows) ([]InvoiceItem, error) {
	var out []InvoiceItem
	for rows.Next() {
		var item InvoiceItem
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.MaterialCode, &item.Description, &item.Quantity, &item.UnitPrice, &item.StockTracked); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
