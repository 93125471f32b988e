package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/billing"
	"github.com/meridian-erp/meridian-erp/internal/finance"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/production"
	"github.com/meridian-erp/meridian-erp/internal/purchasing"
	"github.com/meridian-erp/meridian-erp/internal/sales"
)

// Session bundles every store bound to the workflow's single transaction.
// A step either completes against the session or aborts the whole run.
type Session struct {
	Ledger     *inventory.Ledger
	Sales      sales.TxStore
	Purchasing purchasing.TxStore
	Production production.TxStore
	Finance    finance.TxStore
	Billing    billing.TxStore
	Records    RecordStore
	Keys       KeyGuard
	Reference  uuid.UUID
	Now        time.Time
}

// RecordStore persists settlement records inside the session transaction.
type RecordStore interface {
	Insert(ctx context.Context, rec Record) (int64, error)
}

// KeyGuard claims idempotency keys inside the session transaction: a
// rolled-back workflow releases its key together with every other effect,
// and a committed one keeps it, blocking retries of the same document.
type KeyGuard interface {
	Claim(ctx context.Context, key string) error
}

// State is the blackboard steps read from and write to while a workflow
// runs. Which fields are populated depends on the step list.
type State struct {
	Order           sales.SalesOrder
	OrderItems      []sales.SalesOrderItem
	Customer        sales.Customer
	PurchaseOrder   purchasing.PurchaseOrder
	ProductionOrder production.ProductionOrder
	Invoice         billing.Invoice
	InvoiceItems    []billing.InvoiceItem
	Movements       []inventory.Movement
	Reversed        []inventory.Movement
	TotalValue      decimal.Decimal
	ReceivableID    int64
	PayableID       int64
	ProductionID    *int64
	RecordID        int64
}

// Step is one named unit of a settlement workflow.
type Step interface {
	Name() string
	Apply(ctx context.Context, s *Session, st *State) error
}

// TxRunner opens one transaction, hands the bound session to the callback
// and commits only if it returns nil.
type TxRunner interface {
	Run(ctx context.Context, fn func(context.Context, *Session) error) error
}

// runSteps applies the steps in order against one session. The first error
// aborts the transaction; the step name is attached for diagnostics.
func runSteps(ctx context.Context, runner TxRunner, steps []Step) (*State, error) {
	st := &State{TotalValue: decimal.Zero}
	err := runner.Run(ctx, func(ctx context.Context, s *Session) error {
		for _, step := range steps {
			if err := step.Apply(ctx, s, st); err != nil {
				return fmt.Errorf("%s: %w", step.Name(), err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}
