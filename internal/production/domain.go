package production

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the production order state machine. Material consumption
// moves planned to in_progress; completion moves to finished.
type OrderStatus string

const (
	OrderStatusPlanned    OrderStatus = "planned"
	OrderStatusInProgress OrderStatus = "in_progress"
	OrderStatusFinished   OrderStatus = "finished"
)

// ProductionOrder tracks the manufacture of one product, optionally linked
// to the sales order that triggered it.
type ProductionOrder struct {
	ID           int64
	Number       string
	SalesOrderID *int64
	ProductCode  string
	Quantity     decimal.Decimal
	Status       OrderStatus
	CreatedAt    time.Time
	FinishedAt   *time.Time
}

var (
	// ErrOrderNotFound indicates an unknown production order.
	ErrOrderNotFound = errors.New("production: order not found")
	// ErrAlreadyFinished indicates an operation against a finished order.
	ErrAlreadyFinished = errors.New("production: order already finished")
)
