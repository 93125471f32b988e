package sales

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// TxStore is the sales persistence surface bound to one transaction. The
// settlement coordinator drives the status machine through it.
type TxStore interface {
	GetOrderForUpdate(ctx context.Context, id int64) (SalesOrder, error)
	ItemsByOrder(ctx context.Context, orderID int64) ([]SalesOrderItem, error)
	GetCustomer(ctx context.Context, id int64) (Customer, error)
	SetApproved(ctx context.Context, id int64, receivableID int64, productionOrderID *int64, total decimal.Decimal) error
	SetInvoiced(ctx context.Context, id, invoiceID int64) error
	RestoreApproved(ctx context.Context, id int64) error
}

// Repository persists customers and sales orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// NewTxStore binds a TxStore to an open transaction.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{q: tx}
}

// CreateCustomer inserts a customer.
func (r *Repository) CreateCustomer(ctx context.Context, c Customer) (Customer, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO customers (name, document, email, created_at)
VALUES ($1,$2,$3,now()) RETURNING id, created_at`, c.Name, c.Document, c.Email).Scan(&c.ID, &c.CreatedAt)
	return c, err
}

// GetCustomer loads one customer.
func (r *Repository) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	return scanCustomer(r.pool.QueryRow(ctx, `SELECT id, name, document, email, created_at FROM customers WHERE id=$1`, id))
}

// ListCustomers returns customers ordered by name.
func (r *Repository) ListCustomers(ctx context.Context) ([]Customer, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, document, email, created_at FROM customers ORDER BY name ASC LIMIT 500`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Document, &c.Email, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateOrder inserts a draft order with its items atomically.
func (r *Repository) CreateOrder(ctx context.Context, customerID int64, items []SalesOrderItem) (SalesOrder, error) {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Value())
	}
	var order SalesOrder
	err := shared.MapConflict(db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO sales_orders (customer_id, status, total_value, created_at, updated_at)
VALUES ($1,'draft',$2,now(),now()) RETURNING id, number, status, created_at, updated_at`,
			customerID, total).Scan(&order.ID, &order.Number, &order.Status, &order.CreatedAt, &order.UpdatedAt)
		if err != nil {
			return err
		}
		for _, item := range items {
			if _, err := tx.Exec(ctx, `INSERT INTO sales_order_items (order_id, material_code, quantity, unit_price)
VALUES ($1,$2,$3,$4)`, order.ID, item.MaterialCode, item.Quantity, item.UnitPrice); err != nil {
				return err
			}
		}
		return nil
	}))
	if err != nil {
		return SalesOrder{}, err
	}
	order.CustomerID = customerID
	order.TotalValue = total
	return order, nil
}

// GetOrder loads one order without locking.
func (r *Repository) GetOrder(ctx context.Context, id int64) (SalesOrder, error) {
	return scanOrder(r.pool.QueryRow(ctx, `SELECT id, number, customer_id, status, total_value, receivable_id, production_order_id, invoice_id, created_at, updated_at
FROM sales_orders WHERE id=$1`, id))
}

// ItemsByOrder returns the order's lines.
func (r *Repository) ItemsByOrder(ctx context.Context, orderID int64) ([]SalesOrderItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, material_code, quantity, unit_price
FROM sales_order_items WHERE order_id=$1 ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

// ListOrders returns orders newest first, optionally filtered by status.
func (r *Repository) ListOrders(ctx context.Context, status OrderStatus) ([]SalesOrder, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, number, customer_id, status, total_value, receivable_id, production_order_id, invoice_id, created_at, updated_at
FROM sales_orders WHERE ($1 = '' OR status = $1) ORDER BY id DESC LIMIT 200`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SalesOrder
	for rows.Next() {
		order, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, rows.Err()
}

type txStore struct {
	q pgx.Tx
}

func (s *txStore) GetOrderForUpdate(ctx context.Context, id int64) (SalesOrder, error) {
	order, err := scanOrder(s.q.QueryRow(ctx, `SELECT id, number, customer_id, status, total_value, receivable_id, production_order_id, invoice_id, created_at, updated_at
FROM sales_orders WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, shared.ErrNotFound) {
		return SalesOrder{}, ErrOrderNotFound
	}
	return order, err
}

func (s *txStore) ItemsByOrder(ctx context.Context, orderID int64) ([]SalesOrderItem, error) {
	rows, err := s.q.Query(ctx, `SELECT id, order_id, material_code, quantity, unit_price
FROM sales_order_items WHERE order_id=$1 ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

func (s *txStore) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	c, err := scanCustomer(s.q.QueryRow(ctx, `SELECT id, name, document, email, created_at FROM customers WHERE id=$1`, id))
	if errors.Is(err, shared.ErrNotFound) {
		return Customer{}, ErrCustomerNotFound
	}
	return c, err
}

func (s *txStore) SetApproved(ctx context.Context, id int64, receivableID int64, productionOrderID *int64, total decimal.Decimal) error {
	tag, err := s.q.Exec(ctx, `UPDATE sales_orders
SET status='approved', receivable_id=$2, production_order_id=$3, total_value=$4, updated_at=now()
WHERE id=$1 AND status='draft'`, id, receivableID, productionOrderID, total)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidStatus
	}
	return nil
}

func (s *txStore) SetInvoiced(ctx context.Context, id, invoiceID int64) error {
	tag, err := s.q.Exec(ctx, `UPDATE sales_orders
SET status='invoiced', invoice_id=$2, updated_at=now()
WHERE id=$1 AND status='approved'`, id, invoiceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidStatus
	}
	return nil
}

func (s *txStore) RestoreApproved(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `UPDATE sales_orders
SET status='approved', invoice_id=NULL, updated_at=now()
WHERE id=$1 AND status='invoiced'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidStatus
	}
	return nil
}

func scanCustomer(row pgx.Row) (Customer, error) {
	var c Customer
	if err := row.Scan(&c.ID, &c.Name, &c.Document, &c.Email, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, shared.ErrNotFound
		}
		return Customer{}, err
	}
	return c, nil
}

func scanOrder(row pgx.Row) (SalesOrder, error) {
	var o SalesOrder
	var status string
	err := row.Scan(&o.ID, &o.Number, &o.CustomerID, &status, &o.TotalValue, &o.ReceivableID, &o.ProductionOrderID, &o.InvoiceID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SalesOrder{}, shared.ErrNotFound
		}
		return SalesOrder{}, err
	}
	o.Status = OrderStatus(status)
	return o, nil
}

func scanOrderRow(rows pgx.Rows) (SalesOrder, error) {
	var o SalesOrder
	var status string
	err := rows.Scan(&o.ID, &o.Number, &o.CustomerID, &status, &o.TotalValue, &o.ReceivableID, &o.ProductionOrderID, &o.InvoiceID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return SalesOrder{}, err
	}
	o.Status = OrderStatus(status)
	return o, nil
}

func scanItems(rows pgx.Rows) ([]SalesOrderItem, error) {
	var out []SalesOrderItem
	for rows.Next() {
		var item SalesOrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.MaterialCode, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
