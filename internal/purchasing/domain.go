package purchasing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the purchase order state machine.
type OrderStatus string

const (
	OrderStatusDraft    OrderStatus = "draft"
	OrderStatusSent     OrderStatus = "sent"
	OrderStatusReceived OrderStatus = "received"
)

// Supplier is a pay-to party.
type Supplier struct {
	ID        int64
	Name      string
	Document  string
	Email     string
	CreatedAt time.Time
}

// PurchaseOrder heads materials ordered from a supplier. Receipt fills in
// the supplier invoice number and links the payable.
type PurchaseOrder struct {
	ID            int64
	Number        string
	SupplierID    int64
	Status        OrderStatus
	TotalValue    decimal.Decimal
	InvoiceNumber string
	PayableID     *int64
	CreatedAt     time.Time
	ReceivedAt    *time.Time
}

var (
	// ErrOrderNotFound indicates an unknown purchase order.
	ErrOrderNotFound = errors.New("purchasing: order not found")
	// ErrSupplierNotFound indicates an unknown supplier.
	ErrSupplierNotFound = errors.New("purchasing: supplier not found")
	// ErrAlreadyReceived indicates a second receipt for the same order.
	ErrAlreadyReceived = errors.New("purchasing: order already received")
)
