package billing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the invoice state machine. Cancellation is terminal and
// triggers the compensating ledger reversal.
type InvoiceStatus string

const (
	InvoiceStatusIssued    InvoiceStatus = "issued"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// Invoice is a billed document, optionally linked to the sales order it
// settles.
type Invoice struct {
	ID           int64
	Number       string
	CustomerID   int64
	SalesOrderID *int64
	TotalValue   decimal.Decimal
	Status       InvoiceStatus
	CancelReason string
	IssuedAt     time.Time
	CancelledAt  *time.Time
}

// InvoiceItem is one billed line. Only stock-tracked lines touch the ledger.
type InvoiceItem struct {
	ID           int64
	InvoiceID    int64
	MaterialCode string
	Description  string
	Quantity     decimal.Decimal
	UnitPrice    decimal.Decimal
	StockTracked bool
}

// Value returns quantity times unit price.
func (i InvoiceItem) Value() decimal.Decimal {
	return i.Quantity.Mul(i.UnitPrice)
}

var (
	// ErrInvoiceNotFound indicates an unknown invoice.
	ErrInvoiceNotFound = errors.New("billing: invoice not found")
	// ErrAlreadyCancelled indicates a second cancellation.
	ErrAlreadyCancelled = errors.New("billing: invoice already cancelled")
)
