package purchasing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// TxStore is the purchasing persistence surface bound to one transaction.
type TxStore interface {
	GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	MarkReceived(ctx context.Context, id int64, invoiceNumber string, total decimal.Decimal, payableID int64) error
}

// Repository persists suppliers and purchase orders in PostgreSQL.
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

// CreateSupplier inserts a supplier.
func (r *Repository) CreateSupplier(ctx context.Context, s Supplier) (Supplier, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO suppliers (name, document, email, created_at)
VALUES ($1,$2,$3,now()) RETURNING id, created_at`, s.Name, s.Document, s.Email).Scan(&s.ID, &s.CreatedAt)
	return s, err
}

// GetSupplier loads one supplier.
func (r *Repository) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	var s Supplier
	err := r.pool.QueryRow(ctx, `SELECT id, name, document, email, created_at FROM suppliers WHERE id=$1`, id).
		Scan(&s.ID, &s.Name, &s.Document, &s.Email, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, shared.ErrNotFound
	}
	return s, err
}

// ListSuppliers returns suppliers ordered by name.
func (r *Repository) ListSuppliers(ctx context.Context) ([]Supplier, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, document, email, created_at FROM suppliers ORDER BY name ASC LIMIT 500`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Supplier
	for rows.Next() {
		var s Supplier
		if err := rows.Scan(&s.ID, &s.Name, &s.Document, &s.Email, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CreateOrder inserts a draft purchase order.
func (r *Repository) CreateOrder(ctx context.Context, supplierID int64, total decimal.Decimal) (PurchaseOrder, error) {
	var o PurchaseOrder
	err := r.pool.QueryRow(ctx, `INSERT INTO purchase_orders (supplier_id, status, total_value, created_at)
VALUES ($1,'draft',$2,now()) RETURNING id, number, created_at`, supplierID, total).Scan(&o.ID, &o.Number, &o.CreatedAt)
	if err != nil {
		return PurchaseOrder{}, err
	}
	o.SupplierID = supplierID
	o.Status = OrderStatusDraft
	o.TotalValue = total
	return o, nil
}

// GetOrder loads one order without locking.
func (r *Repository) GetOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return scanOrder(r.pool.QueryRow(ctx, `SELECT id, number, supplier_id, status, total_value, invoice_number, payable_id, created_at, received_at
FROM purchase_orders WHERE id=$1`, id))
}

// ListOrders returns orders newest first, optionally filtered by status.
func (r *Repository) ListOrders(ctx context.Context, status OrderStatus) ([]PurchaseOrder, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, number, supplier_id, status, total_value, invoice_number, payable_id, created_at, received_at
FROM purchase_orders WHERE ($1 = '' OR status = $1) ORDER BY id DESC LIMIT 200`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PurchaseOrder
	for rows.Next() {
		var o PurchaseOrder
		var st string
		if err := rows.Scan(&o.ID, &o.Number, &o.SupplierID, &st, &o.TotalValue, &o.InvoiceNumber, &o.PayableID, &o.CreatedAt, &o.ReceivedAt); err != nil {
			return nil, err
		}
		o.Status = OrderStatus(st)
		out = append(out, o)
	}
	return out, rows.Err()
}

type txStore struct {
	tx pgx.Tx
}

func (s *txStore) GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	order, err := scanOrder(s.tx.QueryRow(ctx, `SELECT id, number, supplier_id, status, total_value, invoice_number, payable_id, created_at, received_at
FROM purchase_orders WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, shared.ErrNotFound) {
		return PurchaseOrder{}, ErrOrderNotFound
	}
	return order, err
}

func (s *txStore) MarkReceived(ctx context.Context, id int64, invoiceNumber string, total decimal.Decimal, payableID int64) error {
	tag, err := s.tx.Exec(ctx, `UPDATE purchase_orders
SET status='received', invoice_number=$2, total_value=$3, payable_id=$4, received_at=now()
WHERE id=$1 AND status <> 'received'`, id, invoiceNumber, total, payableID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyReceived
	}
	return nil
}

func scanOrder(row pgx.Row) (PurchaseOrder, error) {
	var o PurchaseOrder
	var status string
	err := row.Scan(&o.ID, &o.Number, &o.SupplierID, &status, &o.TotalValue, &o.InvoiceNumber, &o.PayableID, &o.CreatedAt, &o.ReceivedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, shared.ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	o.Status = OrderStatus(status)
	return o, nil
}
