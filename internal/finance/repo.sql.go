package finance

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxStore is the finance persistence surface bound to one transaction.
// Settlement workflows create and cancel titles through it.
type TxStore interface {
	CreateReceivable(ctx context.Context, rec Receivable) (int64, error)
	CreatePayable(ctx context.Context, pay Payable) (int64, error)
	CancelReceivableByOrigin(ctx context.Context, kind OriginKind, originID int64) error
}

// Repository persists receivables and payables in PostgreSQL.
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

// TitleFilter narrows list queries.
type TitleFilter struct {
	Status  DocumentStatus
	DueFrom time.Time
	DueTo   time.Time
}

// ListReceivables returns receivables, oldest due first.
func (r *Repository) ListReceivables(ctx context.Context, filter TitleFilter) ([]Receivable, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, origin_kind, origin_id, customer_id, value, due_date, status, created_at, paid_at
FROM receivables
WHERE ($1 = '' OR status = $1)
  AND due_date >= COALESCE(NULLIF($2, '0001-01-01T00:00:00Z'::timestamptz), '-infinity')
  AND due_date <= COALESCE(NULLIF($3, '0001-01-01T00:00:00Z'::timestamptz), 'infinity')
ORDER BY due_date ASC, id ASC LIMIT 500`, string(filter.Status), filter.DueFrom, filter.DueTo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Receivable
	for rows.Next() {
		var rec Receivable
		var kind, status string
		if err := rows.Scan(&rec.ID, &kind, &rec.OriginID, &rec.CustomerID, &rec.Value, &rec.DueDate, &status, &rec.CreatedAt, &rec.PaidAt); err != nil {
			return nil, err
		}
		rec.OriginKind = OriginKind(kind)
		rec.Status = DocumentStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListPayables returns payables, oldest due first.
func (r *Repository) ListPayables(ctx context.Context, filter TitleFilter) ([]Payable, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, origin_kind, origin_id, supplier_id, value, due_date, status, created_at, paid_at
FROM payables
WHERE ($1 = '' OR status = $1)
  AND due_date >= COALESCE(NULLIF($2, '0001-01-01T00:00:00Z'::timestamptz), '-infinity')
  AND due_date <= COALESCE(NULLIF($3, '0001-01-01T00:00:00Z'::timestamptz), 'infinity')
ORDER BY due_date ASC, id ASC LIMIT 500`, string(filter.Status), filter.DueFrom, filter.DueTo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payable
	for rows.Next() {
		var pay Payable
		var kind, status string
		if err := rows.Scan(&pay.ID, &kind, &pay.OriginID, &pay.SupplierID, &pay.Value, &pay.DueDate, &status, &pay.CreatedAt, &pay.PaidAt); err != nil {
			return nil, err
		}
		pay.OriginKind = OriginKind(kind)
		pay.Status = DocumentStatus(status)
		out = append(out, pay)
	}
	return out, rows.Err()
}

// MarkReceivablePaid settles a pending receivable.
func (r *Repository) MarkReceivablePaid(ctx context.Context, id int64) error {
	return markPaid(ctx, r.pool, "receivables", id)
}

// MarkPayablePaid settles a pending payable.
func (r *Repository) MarkPayablePaid(ctx context.Context, id int64) error {
	return markPaid(ctx, r.pool, "payables", id)
}

type txStore struct {
	tx pgx.Tx
}

func (s *txStore) CreateReceivable(ctx context.Context, rec Receivable) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO receivables (origin_kind, origin_id, customer_id, value, due_date, status, created_at)
VALUES ($1,$2,$3,$4,$5,'pending',now()) RETURNING id`,
		string(rec.OriginKind), rec.OriginID, rec.CustomerID, rec.Value, rec.DueDate).Scan(&id)
	return id, err
}

func (s *txStore) CreatePayable(ctx context.Context, pay Payable) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO payables (origin_kind, origin_id, supplier_id, value, due_date, status, created_at)
VALUES ($1,$2,$3,$4,$5,'pending',now()) RETURNING id`,
		string(pay.OriginKind), pay.OriginID, pay.SupplierID, pay.Value, pay.DueDate).Scan(&id)
	return id, err
}

func (s *txStore) CancelReceivableByOrigin(ctx context.Context, kind OriginKind, originID int64) error {
	tag, err := s.tx.Exec(ctx, `UPDATE receivables SET status='cancelled'
WHERE origin_kind=$1 AND origin_id=$2 AND status='pending'`, string(kind), originID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTitleNotFound
	}
	return nil
}

func markPaid(ctx context.Context, pool *pgxpool.Pool, table string, id int64) error {
	var query string
	switch table {
	case "receivables":
		query = `UPDATE receivables SET status='paid', paid_at=now() WHERE id=$1 AND status='pending'`
	case "payables":
		query = `UPDATE payables SET status='paid', paid_at=now() WHERE id=$1 AND status='pending'`
	default:
		return errors.New("finance: unknown table")
	}
	tag, err := pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if table == "receivables" {
			err = pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM receivables WHERE id=$1)`, id).Scan(&exists)
		} else {
			err = pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payables WHERE id=$1)`, id).Scan(&exists)
		}
		if err != nil {
			return err
		}
		if !exists {
			return ErrTitleNotFound
		}
		return ErrNotPending
	}
	return nil
}
