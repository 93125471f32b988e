package sales

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	CreateCustomer(ctx context.Context, c Customer) (Customer, error)
	GetCustomer(ctx context.Context, id int64) (Customer, error)
	ListCustomers(ctx context.Context) ([]Customer, error)
	CreateOrder(ctx context.Context, customerID int64, items []SalesOrderItem) (SalesOrder, error)
	GetOrder(ctx context.Context, id int64) (SalesOrder, error)
	ItemsByOrder(ctx context.Context, orderID int64) ([]SalesOrderItem, error)
	ListOrders(ctx context.Context, status OrderStatus) ([]SalesOrder, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles customer and order CRUD. Approval and invoicing go through
// the settlement coordinator, not here.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// CreateCustomer registers a customer.
func (s *Service) CreateCustomer(ctx context.Context, c Customer) (Customer, error) {
	if c.Name == "" {
		return Customer{}, fmt.Errorf("sales: customer name required")
	}
	created, err := s.repo.CreateCustomer(ctx, c)
	if err != nil {
		return Customer{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID: shared.ActorFromContext(ctx), Action: "customer.create",
			Entity: "customer", EntityID: strconv.FormatInt(created.ID, 10),
		})
	}
	return created, nil
}

// GetCustomer loads one customer.
func (s *Service) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	c, err := s.repo.GetCustomer(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return Customer{}, ErrCustomerNotFound
	}
	return c, err
}

// ListCustomers returns all customers.
func (s *Service) ListCustomers(ctx context.Context) ([]Customer, error) {
	return s.repo.ListCustomers(ctx)
}

// CreateOrder opens a draft order for a customer.
func (s *Service) CreateOrder(ctx context.Context, customerID int64, items []SalesOrderItem) (SalesOrder, error) {
	if customerID <= 0 || len(items) == 0 {
		return SalesOrder{}, fmt.Errorf("sales: customer and items required")
	}
	for _, item := range items {
		if item.MaterialCode == "" || item.Quantity.Sign() <= 0 || item.UnitPrice.Sign() < 0 {
			return SalesOrder{}, fmt.Errorf("sales: invalid item %q", item.MaterialCode)
		}
	}
	if _, err := s.GetCustomer(ctx, customerID); err != nil {
		return SalesOrder{}, err
	}
	order, err := s.repo.CreateOrder(ctx, customerID, items)
	if err != nil {
		return SalesOrder{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID: shared.ActorFromContext(ctx), Action: "sales_order.create",
			Entity: "sales_order", EntityID: strconv.FormatInt(order.ID, 10),
			Meta: map[string]any{"total_value": order.TotalValue.String()},
		})
	}
	return order, nil
}

// GetOrder loads an order with its items.
func (s *Service) GetOrder(ctx context.Context, id int64) (SalesOrder, []SalesOrderItem, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return SalesOrder{}, nil, ErrOrderNotFound
		}
		return SalesOrder{}, nil, err
	}
	items, err := s.repo.ItemsByOrder(ctx, id)
	if err != nil {
		return SalesOrder{}, nil, err
	}
	return order, items, nil
}

// ListOrders returns orders filtered by status.
func (s *Service) ListOrders(ctx context.Context, status OrderStatus) ([]SalesOrder, error) {
	return s.repo.ListOrders(ctx, status)
}
