package finance

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// DocumentStatus is shared by receivables and payables.
type DocumentStatus string

const (
	StatusPending   DocumentStatus = "pending"
	StatusPaid      DocumentStatus = "paid"
	StatusCancelled DocumentStatus = "cancelled"
)

// OriginKind names the document a financial title traces back to.
type OriginKind string

const (
	OriginSaleOrder     OriginKind = "sale_order"
	OriginPurchaseOrder OriginKind = "purchase_order"
	OriginInvoice       OriginKind = "invoice"
)

// Receivable is money owed by a customer.
type Receivable struct {
	ID         int64
	OriginKind OriginKind
	OriginID   int64
	CustomerID int64
	Value      decimal.Decimal
	DueDate    time.Time
	Status     DocumentStatus
	CreatedAt  time.Time
	PaidAt     *time.Time
}

// Payable is money owed to a supplier.
type Payable struct {
	ID         int64
	OriginKind OriginKind
	OriginID   int64
	SupplierID int64
	Value      decimal.Decimal
	DueDate    time.Time
	Status     DocumentStatus
	CreatedAt  time.Time
	PaidAt     *time.Time
}

var (
	// ErrTitleNotFound indicates an unknown receivable or payable.
	ErrTitleNotFound = errors.New("finance: title not found")
	// ErrNotPending indicates a pay or cancel against a settled title.
	ErrNotPending = errors.New("finance: title is not pending")
)
