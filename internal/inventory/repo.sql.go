package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists the stock ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction with a
// TxStore bound to it.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return shared.MapConflict(db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	}))
}

// GetBalance loads a balance without locking.
func (r *Repository) GetBalance(ctx context.Context, materialCode string) (MaterialBalance, error) {
	row := r.pool.QueryRow(ctx, `SELECT material_code, quantity_physical, quantity_reserved, weighted_avg_cost, last_entry_at, last_exit_at, updated_at
FROM stock_balances WHERE material_code=$1`, materialCode)
	return scanBalance(row)
}

// ListMovements returns the movement log for a material, oldest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	// Limit < 0 means the full trail (ledger replay); 0 falls back to a page.
	var limit any = filter.Limit
	if filter.Limit == 0 {
		limit = 200
	} else if filter.Limit < 0 {
		limit = nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, material_code, direction, quantity, quantity_before, quantity_after, origin_kind, origin_document_id, origin_document_number, unit_cost, actor_id, occurred_at
FROM stock_movements
WHERE ($1 = '' OR material_code = $1)
  AND ($2 = '' OR origin_kind = $2)
  AND occurred_at >= COALESCE(NULLIF($3, '0001-01-01T00:00:00Z'::timestamptz), '-infinity')
  AND occurred_at <= COALESCE(NULLIF($4, '0001-01-01T00:00:00Z'::timestamptz), 'infinity')
ORDER BY id ASC
LIMIT $5`, filter.MaterialCode, string(filter.OriginKind), filter.From, filter.To, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMovements(rows)
}

// NewTxStore binds a TxStore to an open transaction. The settlement
// coordinator uses this to share its transaction with the ledger.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

type txStore struct {
	tx pgx.Tx
}

func (s *txStore) GetBalanceForUpdate(ctx context.Context, materialCode string) (MaterialBalance, error) {
	row := s.tx.QueryRow(ctx, `SELECT material_code, quantity_physical, quantity_reserved, weighted_avg_cost, last_entry_at, last_exit_at, updated_at
FROM stock_balances WHERE material_code=$1 FOR UPDATE`, materialCode)
	balance, err := scanBalance(row)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return MaterialBalance{}, ErrBalanceNotFound
		}
		return MaterialBalance{}, err
	}
	return balance, nil
}

func (s *txStore) UpsertBalance(ctx context.Context, balance MaterialBalance) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO stock_balances (material_code, quantity_physical, quantity_reserved, weighted_avg_cost, last_entry_at, last_exit_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (material_code) DO UPDATE SET
  quantity_physical = EXCLUDED.quantity_physical,
  weighted_avg_cost = EXCLUDED.weighted_avg_cost,
  last_entry_at = COALESCE(EXCLUDED.last_entry_at, stock_balances.last_entry_at),
  last_exit_at = COALESCE(EXCLUDED.last_exit_at, stock_balances.last_exit_at),
  updated_at = EXCLUDED.updated_at`,
		balance.MaterialCode, balance.QuantityPhysical, balance.QuantityReserved,
		balance.WeightedAvgCost, balance.LastEntryAt, balance.LastExitAt, balance.UpdatedAt)
	return err
}

func (s *txStore) AdjustReserved(ctx context.Context, materialCode string, delta decimal.Decimal) error {
	tag, err := s.tx.Exec(ctx, `UPDATE stock_balances
SET quantity_reserved = quantity_reserved + $2, updated_at = NOW()
WHERE material_code = $1`, materialCode, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBalanceNotFound
	}
	return nil
}

func (s *txStore) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO stock_movements (material_code, direction, quantity, quantity_before, quantity_after, origin_kind, origin_document_id, origin_document_number, unit_cost, actor_id, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id`,
		m.MaterialCode, string(m.Direction), m.Quantity, m.QuantityBefore, m.QuantityAfter,
		string(m.OriginKind), m.OriginDocumentID, m.OriginDocumentNumber, m.UnitCost,
		m.ActorID, m.OccurredAt).Scan(&id)
	return id, err
}

func (s *txStore) ListMovementsByOrigin(ctx context.Context, kind OriginKind, documentID int64) ([]Movement, error) {
	rows, err := s.tx.Query(ctx, `SELECT id, material_code, direction, quantity, quantity_before, quantity_after, origin_kind, origin_document_id, origin_document_number, unit_cost, actor_id, occurred_at
FROM stock_movements
WHERE origin_kind = $1 AND origin_document_id = $2
ORDER BY id ASC`, string(kind), documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMovements(rows)
}

func scanBalance(row pgx.Row) (MaterialBalance, error) {
	var b MaterialBalance
	var lastEntry, lastExit *time.Time
	err := row.Scan(&b.MaterialCode, &b.QuantityPhysical, &b.QuantityReserved,
		&b.WeightedAvgCost, &lastEntry, &lastExit, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MaterialBalance{}, shared.ErrNotFound
		}
		return MaterialBalance{}, err
	}
	b.LastEntryAt = lastEntry
	b.LastExitAt = lastExit
	return b, nil
}

func scanMovements(rows pgx.Rows) ([]Movement, error) {
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		var direction, origin string
		if err := rows.Scan(&m.ID, &m.MaterialCode, &direction, &m.Quantity, &m.QuantityBefore,
			&m.QuantityAfter, &origin, &m.OriginDocumentID, &m.OriginDocumentNumber,
			&m.UnitCost, &m.ActorID, &m.OccurredAt); err != nil {
			return nil, err
		}
		m.Direction = Direction(direction)
		m.OriginKind = OriginKind(origin)
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}
