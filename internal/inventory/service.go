package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetBalance(ctx context.Context, materialCode string) (MaterialBalance, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes the standalone ledger operations: balance reads, movement
// listing and manual adjustments. Workflow-driven movements go through the
// settlement coordinator instead.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics *observability.Metrics

	replayGroup singleflight.Group
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, metrics *observability.Metrics) *Service {
	return &Service{repo: repo, audit: audit, metrics: metrics}
}

// GetBalance returns the current balance for a material.
func (s *Service) GetBalance(ctx context.Context, materialCode string) (MaterialBalance, error) {
	if materialCode == "" {
		return MaterialBalance{}, fmt.Errorf("inventory: material code required")
	}
	balance, err := s.repo.GetBalance(ctx, materialCode)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return MaterialBalance{}, fmt.Errorf("%w: %s", ErrUnknownMaterial, materialCode)
		}
		return MaterialBalance{}, err
	}
	return balance, nil
}

// ListMovements lists the movement log.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	return s.repo.ListMovements(ctx, filter)
}

// AdjustmentInput describes a manual stock correction.
type AdjustmentInput struct {
	MaterialCode string
	Direction    Direction
	Quantity     decimal.Decimal
	UnitCost     decimal.Decimal
	Note         string
	ActorID      int64
}

// PostAdjustment posts a manual entry or exit with origin adjustment.
func (s *Service) PostAdjustment(ctx context.Context, input AdjustmentInput) (Movement, error) {
	var movement Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, store TxStore) error {
		var err error
		movement, err = NewLedger(store).Apply(ctx, MovementInput{
			MaterialCode: input.MaterialCode,
			Direction:    input.Direction,
			Quantity:     input.Quantity,
			UnitCost:     input.UnitCost,
			Origin:       Origin{Kind: OriginAdjustment, DocumentNumber: input.Note},
			ActorID:      input.ActorID,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			s.metrics.ObserveStockRejection()
		}
		return Movement{}, err
	}
	s.metrics.ObserveMovement(string(movement.Direction), string(movement.OriginKind))
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   fmt.Sprintf("stock:adjustment:%s", input.Direction),
			Entity:   "stock_movement",
			EntityID: fmt.Sprintf("%d", movement.ID),
			Meta: map[string]any{
				"material_code": input.MaterialCode,
				"quantity":      input.Quantity.String(),
				"note":          input.Note,
			},
		})
	}
	return movement, nil
}

type replayResult struct {
	clean    bool
	replayed decimal.Decimal
}

// VerifyReplay recomputes a material's physical quantity from its full
// movement trail and reports whether it matches the stored balance. The
// replay scans the whole trail, so concurrent requests for the same
// material are coalesced into one scan.
func (s *Service) VerifyReplay(ctx context.Context, materialCode string) (bool, decimal.Decimal, error) {
	v, err, _ := s.replayGroup.Do(materialCode, func() (any, error) {
		balance, err := s.GetBalance(ctx, materialCode)
		if err != nil {
			return nil, err
		}
		movements, err := s.repo.ListMovements(ctx, MovementFilter{MaterialCode: materialCode, Limit: -1})
		if err != nil {
			return nil, err
		}
		replayed := Replay(movements)
		return replayResult{clean: replayed.Equal(balance.QuantityPhysical), replayed: replayed}, nil
	})
	if err != nil {
		return false, decimal.Zero, err
	}
	result := v.(replayResult)
	return result.clean, result.replayed, nil
}
