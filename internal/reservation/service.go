package reservation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// DefaultTTLDays applies when a reserve call omits the TTL.
const DefaultTTLDays = 7

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	ListByOrder(ctx context.Context, orderID int64) ([]Reservation, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates the reservation lifecycle.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics *observability.Metrics
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, metrics *observability.Metrics) *Service {
	return &Service{repo: repo, audit: audit, metrics: metrics, now: time.Now}
}

// Create reserves stock for an order line by line. Lines fail independently
// against the available quantity; siblings are unaffected. The whole call
// fails, and nothing commits, only when every line failed.
func (s *Service) Create(ctx context.Context, input CreateInput) (CreateResult, error) {
	if input.OrderID <= 0 || len(input.Items) == 0 {
		return CreateResult{}, fmt.Errorf("%w: order and items required", ErrInvalidInput)
	}
	ttl := input.TTLDays
	if ttl <= 0 {
		ttl = DefaultTTLDays
	}
	now := s.now().UTC()
	expires := now.AddDate(0, 0, ttl)

	var result CreateResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		ledger := inventory.NewLedger(tx.Ledger)
		for _, item := range input.Items {
			if item.Quantity.Sign() <= 0 {
				result.Failed = append(result.Failed, ItemFailure{MaterialCode: item.MaterialCode, Reason: inventory.ErrInvalidQuantity.Error()})
				continue
			}
			if _, err := ledger.Reserve(ctx, item.MaterialCode, item.Quantity); err != nil {
				if errors.Is(err, inventory.ErrInsufficientStock) || errors.Is(err, inventory.ErrUnknownMaterial) {
					result.Failed = append(result.Failed, ItemFailure{MaterialCode: item.MaterialCode, Reason: err.Error()})
					continue
				}
				return err
			}
			r := Reservation{
				OrderID:      input.OrderID,
				MaterialCode: item.MaterialCode,
				Quantity:     item.Quantity,
				HolderID:     input.ActorID,
				Status:       StatusActive,
				CreatedAt:    now,
				ExpiresAt:    expires,
			}
			id, err := tx.Store.Insert(ctx, r)
			if err != nil {
				return err
			}
			r.ID = id
			result.Created = append(result.Created, r)
		}
		if len(result.Created) == 0 {
			return ErrNoItemsReserved
		}
		return nil
	})
	if err != nil {
		return CreateResult{Failed: result.Failed}, err
	}
	s.recordAudit(ctx, input.ActorID, "reservation.create", input.OrderID, map[string]any{
		"created": len(result.Created),
		"failed":  len(result.Failed),
	})
	return result, nil
}

// Consume debits physical stock for every active reservation of the order and
// marks them consumed, all in one transaction. The reserved counter is
// released before the exit so the availability guard sees the freed quantity.
func (s *Service) Consume(ctx context.Context, orderID, actorID int64) ([]inventory.Movement, error) {
	if orderID <= 0 {
		return nil, fmt.Errorf("%w: order required", ErrInvalidInput)
	}
	var movements []inventory.Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		active, err := tx.Store.ListActiveByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if len(active) == 0 {
			return ErrNoActiveReservation
		}
		ledger := inventory.NewLedger(tx.Ledger)
		for _, r := range active {
			if err := ledger.Release(ctx, r.MaterialCode, r.Quantity); err != nil {
				return err
			}
			m, err := ledger.Apply(ctx, inventory.MovementInput{
				MaterialCode: r.MaterialCode,
				Direction:    inventory.DirectionExit,
				Quantity:     r.Quantity,
				Origin: inventory.Origin{
					Kind:           inventory.OriginSale,
					DocumentID:     orderID,
					DocumentNumber: "SO-" + strconv.FormatInt(orderID, 10),
				},
				ActorID: actorID,
			})
			if err != nil {
				return err
			}
			if err := tx.Store.MarkStatus(ctx, r.ID, StatusConsumed); err != nil {
				return err
			}
			movements = append(movements, m)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, inventory.ErrInsufficientStock) {
			s.metrics.ObserveStockRejection()
		}
		return nil, err
	}
	for range movements {
		s.metrics.ObserveMovement(string(inventory.DirectionExit), string(inventory.OriginSale))
	}
	s.recordAudit(ctx, actorID, "reservation.consume", orderID, map[string]any{"movements": len(movements)})
	return movements, nil
}

// Cancel releases every active reservation of the order and marks it
// cancelled. Returns the number of cancelled reservations; zero is not an
// error.
func (s *Service) Cancel(ctx context.Context, orderID, actorID int64) (int64, error) {
	if orderID <= 0 {
		return 0, fmt.Errorf("%w: order required", ErrInvalidInput)
	}
	var count int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		active, err := tx.Store.ListActiveByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		ledger := inventory.NewLedger(tx.Ledger)
		for _, r := range active {
			if err := ledger.Release(ctx, r.MaterialCode, r.Quantity); err != nil {
				return err
			}
			if err := tx.Store.MarkStatus(ctx, r.ID, StatusCancelled); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.recordAudit(ctx, actorID, "reservation.cancel", orderID, map[string]any{"cancelled": count})
	}
	return count, nil
}

// ExpireDue transitions every active reservation past its deadline to
// expired, releasing the reserved quantity exactly the way Cancel does. Run
// periodically by the sweep job.
func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		due, err := tx.Store.ListActiveExpiredBefore(ctx, now.UTC())
		if err != nil {
			return err
		}
		ledger := inventory.NewLedger(tx.Ledger)
		for _, r := range due {
			if err := ledger.Release(ctx, r.MaterialCode, r.Quantity); err != nil {
				return err
			}
			if err := tx.Store.MarkStatus(ctx, r.ID, StatusExpired); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.metrics.ObserveReservationsExpired(int(count))
	}
	return count, nil
}

// ListByOrder returns all reservations for the order, any status.
func (s *Service) ListByOrder(ctx context.Context, orderID int64) ([]Reservation, error) {
	return s.repo.ListByOrder(ctx, orderID)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, orderID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "sales_order",
		EntityID: strconv.FormatInt(orderID, 10),
		Meta:     meta,
		At:       s.now().UTC(),
	})
}
