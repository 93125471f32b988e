package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// TxStore is the reservation persistence surface bound to one transaction.
type TxStore interface {
	Insert(ctx context.Context, r Reservation) (int64, error)
	ListActiveByOrder(ctx context.Context, orderID int64) ([]Reservation, error)
	ListActiveExpiredBefore(ctx context.Context, cutoff time.Time) ([]Reservation, error)
	MarkStatus(ctx context.Context, id int64, status Status) error
}

// Tx bundles the reservation store with a ledger store on the same
// transaction, so status transitions and reserved-counter updates commit or
// roll back together.
type Tx struct {
	Store  TxStore
	Ledger inventory.TxStore
}

// Repository persists reservations in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	if r == nil {
		return errors.New("reservation repository not initialised")
	}
	return shared.MapConflict(db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, Tx{Store: &txStore{tx: tx}, Ledger: inventory.NewTxStore(tx)})
	}))
}

// ListByOrder returns all reservations for an order regardless of status.
func (r *Repository) ListByOrder(ctx context.Context, orderID int64) ([]Reservation, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, material_code, quantity, holder_id, status, created_at, expires_at
FROM stock_reservations WHERE order_id=$1 ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReservations(rows)
}

type txStore struct {
	tx pgx.Tx
}

func (s *txStore) Insert(ctx context.Context, r Reservation) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO stock_reservations (order_id, material_code, quantity, holder_id, status, created_at, expires_at)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		r.OrderID, r.MaterialCode, r.Quantity, r.HolderID, string(r.Status), r.CreatedAt, r.ExpiresAt).Scan(&id)
	return id, err
}

func (s *txStore) ListActiveByOrder(ctx context.Context, orderID int64) ([]Reservation, error) {
	rows, err := s.tx.Query(ctx, `SELECT id, order_id, material_code, quantity, holder_id, status, created_at, expires_at
FROM stock_reservations WHERE order_id=$1 AND status='active' ORDER BY id ASC FOR UPDATE`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReservations(rows)
}

func (s *txStore) ListActiveExpiredBefore(ctx context.Context, cutoff time.Time) ([]Reservation, error) {
	rows, err := s.tx.Query(ctx, `SELECT id, order_id, material_code, quantity, holder_id, status, created_at, expires_at
FROM stock_reservations WHERE status='active' AND expires_at < $1 ORDER BY id ASC FOR UPDATE SKIP LOCKED`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReservations(rows)
}

func (s *txStore) MarkStatus(ctx context.Context, id int64, status Status) error {
	tag, err := s.tx.Exec(ctx, `UPDATE stock_reservations SET status=$2 WHERE id=$1 AND status='active'`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanReservations(rows pgx.Rows) ([]Reservation, error) {
	var out []Reservation
	for rows.Next() {
		var r Reservation
		var status string
		if err := rows.Scan(&r.ID, &r.OrderID, &r.MaterialCode, &r.Quantity, &r.HolderID, &status, &r.CreatedAt, &r.ExpiresAt); err != nil {
			return nil, err
		}
		r.Status = Status(status)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
