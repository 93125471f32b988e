package production

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// TxStore is the production persistence surface bound to one transaction.
type TxStore interface {
	Create(ctx context.Context, salesOrderID *int64, productCode string, quantity decimal.Decimal) (ProductionOrder, error)
	GetForUpdate(ctx context.Context, id int64) (ProductionOrder, error)
	MarkInProgress(ctx context.Context, id int64) error
	MarkFinished(ctx context.Context, id int64) error
}

// Repository persists production orders in PostgreSQL.
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

// Get loads one production order.
func (r *Repository) Get(ctx context.Context, id int64) (ProductionOrder, error) {
	return scanOrder(r.pool.QueryRow(ctx, `SELECT id, number, sales_order_id, product_code, quantity, status, created_at, finished_at
FROM production_orders WHERE id=$1`, id))
}

// List returns production orders newest first, optionally filtered by status.
func (r *Repository) List(ctx context.Context, status OrderStatus) ([]ProductionOrder, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, number, sales_order_id, product_code, quantity, status, created_at, finished_at
FROM production_orders WHERE ($1 = '' OR status = $1) ORDER BY id DESC LIMIT 200`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ProductionOrder
	for rows.Next() {
		var o ProductionOrder
		var st string
		if err := rows.Scan(&o.ID, &o.Number, &o.SalesOrderID, &o.ProductCode, &o.Quantity, &st, &o.CreatedAt, &o.FinishedAt); err != nil {
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

func (s *txStore) Create(ctx context.Context, salesOrderID *int64, productCode string, quantity decimal.Decimal) (ProductionOrder, error) {
	var o ProductionOrder
	err := s.tx.QueryRow(ctx, `INSERT INTO production_orders (sales_order_id, product_code, quantity, status, created_at)
VALUES ($1,$2,$3,'planned',now()) RETURNING id, number, created_at`, salesOrderID, productCode, quantity).
		Scan(&o.ID, &o.Number, &o.CreatedAt)
	if err != nil {
		return ProductionOrder{}, err
	}
	o.SalesOrderID = salesOrderID
	o.ProductCode = productCode
	o.Quantity = quantity
	o.Status = OrderStatusPlanned
	return o, nil
}

func (s *txStore) GetForUpdate(ctx context.Context, id int64) (ProductionOrder, error) {
	order, err := scanOrder(s.tx.QueryRow(ctx, `SELECT id, number, sales_order_id, product_code, quantity, status, created_at, finished_at
FROM production_orders WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, shared.ErrNotFound) {
		return ProductionOrder{}, ErrOrderNotFound
	}
	return order, err
}

func (s *txStore) MarkInProgress(ctx context.Context, id int64) error {
	tag, err := s.tx.Exec(ctx, `UPDATE production_orders SET status='in_progress' WHERE id=$1 AND status='planned'`, id)
	if err != nil {
		return err
	}
	// Consuming more materials for an in_progress order is allowed; only a
	// finished order rejects further activity.
	if tag.RowsAffected() == 0 {
		var status string
		if err := s.tx.QueryRow(ctx, `SELECT status FROM production_orders WHERE id=$1`, id).Scan(&status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return err
		}
		if OrderStatus(status) == OrderStatusFinished {
			return ErrAlreadyFinished
		}
	}
	return nil
}

func (s *txStore) MarkFinished(ctx context.Context, id int64) error {
	tag, err := s.tx.Exec(ctx, `UPDATE production_orders SET status='finished', finished_at=now()
WHERE id=$1 AND status <> 'finished'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyFinished
	}
	return nil
}

func scanOrder(row pgx.Row) (ProductionOrder, error) {
	var o ProductionOrder
	var status string
	err := row.Scan(&o.ID, &o.Number, &o.SalesOrderID, &o.ProductCode, &o.Quantity, &status, &o.CreatedAt, &o.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductionOrder{}, shared.ErrNotFound
		}
		return ProductionOrder{}, err
	}
	o.Status = OrderStatus(status)
	return o, nil
}
