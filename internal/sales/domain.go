package sales

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the sales order state machine. Invoicing moves approved to
// invoiced; cancelling the invoice moves it back to approved.
type OrderStatus string

const (
	OrderStatusDraft    OrderStatus = "draft"
	OrderStatusApproved OrderStatus = "approved"
	OrderStatusInvoiced OrderStatus = "invoiced"
)

// Customer is a bill-to party.
type Customer struct {
	ID        int64
	Name      string
	Document  string
	Email     string
	CreatedAt time.Time
}

// SalesOrder heads a set of material lines sold to a customer.
type SalesOrder struct {
	ID                int64
	Number            string
	CustomerID        int64
	Status            OrderStatus
	TotalValue        decimal.Decimal
	ReceivableID      *int64
	ProductionOrderID *int64
	InvoiceID         *int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SalesOrderItem is one material line of an order.
type SalesOrderItem struct {
	ID           int64
	OrderID      int64
	MaterialCode string
	Quantity     decimal.Decimal
	UnitPrice    decimal.Decimal
}

// Value returns quantity times unit price.
func (i SalesOrderItem) Value() decimal.Decimal {
	return i.Quantity.Mul(i.UnitPrice)
}

var (
	// ErrOrderNotFound indicates an unknown sales order.
	ErrOrderNotFound = errors.New("sales: order not found")
	// ErrCustomerNotFound indicates an unknown customer.
	ErrCustomerNotFound = errors.New("sales: customer not found")
	// ErrInvalidStatus indicates a transition the state machine forbids.
	ErrInvalidStatus = errors.New("sales: invalid order status for operation")
)
