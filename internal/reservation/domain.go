package reservation

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates the reservation lifecycle. Active is the only
// non-terminal state.
type Status string

const (
	StatusActive    Status = "active"
	StatusConsumed  Status = "consumed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Reservation holds one material line of a sales order against stock. The
// reserved quantity lives on the balance row as an explicit counter, so every
// transition out of active must release it in the same transaction.
type Reservation struct {
	ID           int64
	OrderID      int64
	MaterialCode string
	Quantity     decimal.Decimal
	HolderID     int64
	Status       Status
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// CreateItem is one requested line in a reserve call.
type CreateItem struct {
	MaterialCode string
	Quantity     decimal.Decimal
}

// CreateInput describes a reserve request for one order.
type CreateInput struct {
	OrderID int64
	Items   []CreateItem
	TTLDays int
	ActorID int64
}

// ItemFailure reports one line that could not be reserved.
type ItemFailure struct {
	MaterialCode string `json:"material_code"`
	Reason       string `json:"reason"`
}

// CreateResult carries the per-item outcome of a reserve call. Items fail
// independently; the call as a whole fails only when nothing was reserved.
type CreateResult struct {
	Created []Reservation
	Failed  []ItemFailure
}

var (
	// ErrNoActiveReservation indicates a consume against an order with no
	// active reservations.
	ErrNoActiveReservation = errors.New("reservation: no active reservation for order")
	// ErrNoItemsReserved indicates a create call where every line failed.
	ErrNoItemsReserved = errors.New("reservation: no items could be reserved")
	// ErrInvalidInput indicates a malformed create request.
	ErrInvalidInput = errors.New("reservation: invalid input")
)
