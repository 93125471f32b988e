package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Direction enumerates ledger movement directions.
type Direction string

const (
	// DirectionEntry represents stock arriving.
	DirectionEntry Direction = "entry"
	// DirectionExit represents stock leaving.
	DirectionExit Direction = "exit"
)

// OriginKind identifies the business document behind a movement.
type OriginKind string

const (
	OriginSale                OriginKind = "sale"
	OriginPurchase            OriginKind = "purchase"
	OriginProduction          OriginKind = "production"
	OriginInvoice             OriginKind = "invoice"
	OriginAdjustment          OriginKind = "adjustment"
	OriginInvoiceCancellation OriginKind = "invoice_cancellation"
)

// MaterialBalance holds the current stock state for one material. Mutated
// exclusively under a row lock; never deleted.
type MaterialBalance struct {
	MaterialCode     string
	QuantityPhysical decimal.Decimal
	QuantityReserved decimal.Decimal
	WeightedAvgCost  decimal.Decimal
	LastEntryAt      *time.Time
	LastExitAt       *time.Time
	UpdatedAt        time.Time
}

// Available returns the quantity not held by reservations.
func (b MaterialBalance) Available() decimal.Decimal {
	return b.QuantityPhysical.Sub(b.QuantityReserved)
}

// Origin describes the document a movement traces back to.
type Origin struct {
	Kind           OriginKind
	DocumentID     int64
	DocumentNumber string
}

// Movement is the immutable record of one quantity change. The before/after
// snapshots make the log replayable and every movement reversible.
type Movement struct {
	ID                   int64
	MaterialCode         string
	Direction            Direction
	Quantity             decimal.Decimal
	QuantityBefore       decimal.Decimal
	QuantityAfter        decimal.Decimal
	OriginKind           OriginKind
	OriginDocumentID     int64
	OriginDocumentNumber string
	UnitCost             decimal.Decimal
	ActorID              int64
	OccurredAt           time.Time
}

// MovementInput describes a requested balance mutation.
type MovementInput struct {
	MaterialCode string
	Direction    Direction
	Quantity     decimal.Decimal
	UnitCost     decimal.Decimal
	Origin       Origin
	ActorID      int64
}

// MovementFilter selects movements for listing and replay.
type MovementFilter struct {
	MaterialCode string
	OriginKind   OriginKind
	From         time.Time
	To           time.Time
	Limit        int
}

var (
	// ErrInsufficientStock indicates an exit would drive the physical or
	// available quantity below zero.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrUnknownMaterial indicates a movement against a material with no
	// balance row where none may be created implicitly.
	ErrUnknownMaterial = errors.New("inventory: unknown material")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrInvalidUnitCost indicates a negative unit cost on an entry.
	ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")
	// ErrBalanceNotFound indicates a missing balance row.
	ErrBalanceNotFound = errors.New("inventory: balance not found")
)
