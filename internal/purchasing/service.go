package purchasing

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	CreateSupplier(ctx context.Context, s Supplier) (Supplier, error)
	GetSupplier(ctx context.Context, id int64) (Supplier, error)
	ListSuppliers(ctx context.Context) ([]Supplier, error)
	CreateOrder(ctx context.Context, supplierID int64, total decimal.Decimal) (PurchaseOrder, error)
	GetOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	ListOrders(ctx context.Context, status OrderStatus) ([]PurchaseOrder, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles supplier and purchase order CRUD. Receipt goes through the
// settlement coordinator.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// CreateSupplier registers a supplier.
func (s *Service) CreateSupplier(ctx context.Context, sup Supplier) (Supplier, error) {
	if sup.Name == "" {
		return Supplier{}, fmt.Errorf("purchasing: supplier name required")
	}
	created, err := s.repo.CreateSupplier(ctx, sup)
	if err != nil {
		return Supplier{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID: shared.ActorFromContext(ctx), Action: "supplier.create",
			Entity: "supplier", EntityID: strconv.FormatInt(created.ID, 10),
		})
	}
	return created, nil
}

// GetSupplier loads one supplier.
func (s *Service) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	sup, err := s.repo.GetSupplier(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return Supplier{}, ErrSupplierNotFound
	}
	return sup, err
}

// ListSuppliers returns all suppliers.
func (s *Service) ListSuppliers(ctx context.Context) ([]Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

// CreateOrder opens a draft purchase order.
func (s *Service) CreateOrder(ctx context.Context, supplierID int64, total decimal.Decimal) (PurchaseOrder, error) {
	if supplierID <= 0 {
		return PurchaseOrder{}, fmt.Errorf("purchasing: supplier required")
	}
	if total.Sign() < 0 {
		return PurchaseOrder{}, fmt.Errorf("purchasing: total must be >= 0")
	}
	if _, err := s.GetSupplier(ctx, supplierID); err != nil {
		return PurchaseOrder{}, err
	}
	order, err := s.repo.CreateOrder(ctx, supplierID, total)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID: shared.ActorFromContext(ctx), Action: "purchase_order.create",
			Entity: "purchase_order", EntityID: strconv.FormatInt(order.ID, 10),
		})
	}
	return order, nil
}

// GetOrder loads one purchase order.
func (s *Service) GetOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return PurchaseOrder{}, ErrOrderNotFound
	}
	return order, err
}

// ListOrders returns purchase orders filtered by status.
func (s *Service) ListOrders(ctx context.Context, status OrderStatus) ([]PurchaseOrder, error) {
	return s.repo.ListOrders(ctx, status)
}
