package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/billing"
	"github.com/meridian-erp/meridian-erp/internal/finance"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/production"
	"github.com/meridian-erp/meridian-erp/internal/purchasing"
	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository implements TxRunner on PostgreSQL and reads the settlement
// record trail.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Run opens one repeatable-read transaction, binds every module store to it
// and commits only if the callback succeeds.
func (r *Repository) Run(ctx context.Context, fn func(context.Context, *Session) error) error {
	if r == nil {
		return errors.New("settlement repository not initialised")
	}
	return shared.MapConflict(db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		session := &Session{
			Ledger:     inventory.NewLedger(inventory.NewTxStore(tx)),
			Sales:      sales.NewTxStore(tx),
			Purchasing: purchasing.NewTxStore(tx),
			Production: production.NewTxStore(tx),
			Finance:    finance.NewTxStore(tx),
			Billing:    billing.NewTxStore(tx),
			Records:    &recordStore{tx: tx},
			Keys:       &keyGuard{tx: tx},
			Reference:  uuid.New(),
			Now:        time.Now().UTC(),
		}
		return fn(ctx, session)
	}))
}

// ListRecords returns the settlement trail newest first, optionally filtered
// by origin kind.
func (r *Repository) ListRecords(ctx context.Context, originKind string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, reference, origin_kind, origin_id, destination_kind, destination_id, value, actor_id, status, notes, created_at
FROM settlement_records WHERE ($1 = '' OR origin_kind = $1) ORDER BY id DESC LIMIT $2`, originKind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Reference, &rec.OriginKind, &rec.OriginID, &rec.DestinationKind, &rec.DestinationID, &rec.Value, &rec.ActorID, &rec.Status, &rec.Notes, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type keyGuard struct {
	tx pgx.Tx
}

func (g *keyGuard) Claim(ctx context.Context, key string) error {
	return shared.ClaimKey(ctx, g.tx, key, "settlement")
}

type recordStore struct {
	tx pgx.Tx
}

func (s *recordStore) Insert(ctx context.Context, rec Record) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO settlement_records (reference, origin_kind, origin_id, destination_kind, destination_id, value, actor_id, status, notes, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		rec.Reference, rec.OriginKind, rec.OriginID, rec.DestinationKind, rec.DestinationID,
		rec.Value, rec.ActorID, rec.Status, rec.Notes, rec.CreatedAt).Scan(&id)
	return id, err
}
