package settlement

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/billing"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/production"
	"github.com/meridian-erp/meridian-erp/internal/purchasing"
	"github.com/meridian-erp/meridian-erp/internal/sales"
)

// Record is the append-only trace of one completed workflow. One row per
// settlement, written inside the workflow's transaction.
type Record struct {
	ID              int64
	Reference       uuid.UUID
	OriginKind      string
	OriginID        int64
	DestinationKind string
	DestinationID   int64
	Value           decimal.Decimal
	ActorID         int64
	Status          string
	Notes           string
	CreatedAt       time.Time
}

// ApproveSaleInput triggers the sale approval workflow.
type ApproveSaleInput struct {
	OrderID               int64
	CreateProductionOrder bool
	DebitStock            bool
	ActorID               int64
}

// ApproveSaleResult reports what the approval created.
type ApproveSaleResult struct {
	Order             sales.SalesOrder
	ReceivableID      int64
	ProductionOrderID *int64
	Movements         []inventory.Movement
}

// ReceiptItem is one material line of a purchase receipt.
type ReceiptItem struct {
	MaterialCode string
	Quantity     decimal.Decimal
	UnitCost     decimal.Decimal
}

// ReceivePurchaseInput triggers the purchase receipt workflow.
type ReceivePurchaseInput struct {
	PurchaseOrderID int64
	InvoiceNumber   string
	Items           []ReceiptItem
	ActorID         int64
}

// ReceivePurchaseResult reports the created payable and entry movements.
type ReceivePurchaseResult struct {
	Order      purchasing.PurchaseOrder
	PayableID  int64
	TotalValue decimal.Decimal
	Movements  []inventory.Movement
}

// MaterialRequirement is one consumed line of a production step.
type MaterialRequirement struct {
	MaterialCode string
	Quantity     decimal.Decimal
}

// ConsumeMaterialsInput triggers the production consumption workflow.
type ConsumeMaterialsInput struct {
	ProductionOrderID int64
	Materials         []MaterialRequirement
	ActorID           int64
}

// CompleteProductionInput triggers the production completion workflow.
type CompleteProductionInput struct {
	ProductionOrderID int64
	ProductCode       string
	Quantity          decimal.Decimal
	UnitCost          decimal.Decimal
	ActorID           int64
}

// CompleteProductionResult reports the finished order and its entry movement.
type CompleteProductionResult struct {
	Order    production.ProductionOrder
	Movement inventory.Movement
}

// InvoiceLine is one billed line of an invoice emission.
type InvoiceLine struct {
	MaterialCode string
	Description  string
	Quantity     decimal.Decimal
	UnitPrice    decimal.Decimal
	StockTracked bool
}

// EmitInvoiceInput triggers the invoice emission workflow.
type EmitInvoiceInput struct {
	CustomerID   int64
	SalesOrderID *int64
	Items        []InvoiceLine
	DueDays      int
	ActorID      int64
}

// EmitInvoiceResult reports the created invoice, receivable and exits.
type EmitInvoiceResult struct {
	Invoice      billing.Invoice
	ReceivableID int64
	Movements    []inventory.Movement
}

// CancelInvoiceInput triggers the compensation workflow.
type CancelInvoiceInput struct {
	InvoiceID int64
	Reason    string
	ActorID   int64
}

// CancelInvoiceResult reports the cancelled invoice and the reversal entries.
type CancelInvoiceResult struct {
	Invoice  billing.Invoice
	Reversed []inventory.Movement
}

const (
	// MinCancelReasonLen guards against empty-excuse cancellations.
	MinCancelReasonLen = 15
	// MaxCancelReasonLen bounds the stored reason.
	MaxCancelReasonLen = 1000
)

var (
	// ErrAlreadySettled indicates the document was already processed by
	// this workflow.
	ErrAlreadySettled = errors.New("settlement: document already settled")
	// ErrInvalidReason indicates a cancellation reason outside the allowed
	// length.
	ErrInvalidReason = errors.New("settlement: cancellation reason must have 15 to 1000 characters")
	// ErrNoItems indicates a workflow invoked without lines.
	ErrNoItems = errors.New("settlement: at least one item required")
)
