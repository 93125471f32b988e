package settlement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Config groups settlement tunables.
type Config struct {
	ReceivableDueDays int
	PayableDueDays    int
}

func (c Config) withDefaults() Config {
	if c.ReceivableDueDays <= 0 {
		c.ReceivableDueDays = 30
	}
	if c.PayableDueDays <= 0 {
		c.PayableDueDays = 30
	}
	return c
}

// Service composes the settlement workflows. Every workflow is an ordered
// step list executed inside one transaction by the runner; a failed step
// leaves no ledger or financial effect.
type Service struct {
	runner  TxRunner
	audit   AuditPort
	metrics *observability.Metrics
	cfg     Config
}

// NewService builds Service.
func NewService(runner TxRunner, audit AuditPort, metrics *observability.Metrics, cfg Config) *Service {
	return &Service{runner: runner, audit: audit, metrics: metrics, cfg: cfg.withDefaults()}
}

// ApproveSale settles a draft order: optional stock debit per line, one
// receivable, optional linked production order, status approved.
func (s *Service) ApproveSale(ctx context.Context, input ApproveSaleInput) (ApproveSaleResult, error) {
	if input.OrderID <= 0 {
		return ApproveSaleResult{}, fmt.Errorf("settlement: order id required")
	}
	steps := []Step{loadSaleOrderStep{orderID: input.OrderID}}
	if input.DebitStock {
		steps = append(steps, debitSaleItemsStep{actorID: input.ActorID})
	}
	steps = append(steps, createReceivableStep{dueDays: s.cfg.ReceivableDueDays})
	if input.CreateProductionOrder {
		steps = append(steps, createProductionOrderStep{})
	}
	steps = append(steps,
		approveOrderStep{},
		recordStep{build: func(sess *Session, st *State) Record {
			return Record{
				OriginKind: "sale_order", OriginID: st.Order.ID,
				DestinationKind: "receivable", DestinationID: st.ReceivableID,
				Value: st.TotalValue, ActorID: input.ActorID, Status: "completed",
				Notes: fmt.Sprintf("order %s approved", st.Order.Number),
			}
		}},
	)
	st, err := runSteps(ctx, s.runner, steps)
	if err != nil {
		s.observeFailure(err)
		return ApproveSaleResult{}, err
	}
	s.observeMovements(st.Movements)
	s.recordAudit(ctx, input.ActorID, "settlement.approve_sale", "sales_order", st.Order.ID, map[string]any{
		"receivable_id": st.ReceivableID,
		"total_value":   st.TotalValue.String(),
	})
	st.Order.Status = "approved"
	return ApproveSaleResult{
		Order:             st.Order,
		ReceivableID:      st.ReceivableID,
		ProductionOrderID: st.ProductionID,
		Movements:         st.Movements,
	}, nil
}

// ReceivePurchase enters every received line, creates exactly one payable
// for the accumulated total and closes the purchase order. Guarded by an
// idempotency key on order plus supplier invoice number so a retried receipt
// does not double stock.
func (s *Service) ReceivePurchase(ctx context.Context, input ReceivePurchaseInput) (ReceivePurchaseResult, error) {
	if input.PurchaseOrderID <= 0 || input.InvoiceNumber == "" {
		return ReceivePurchaseResult{}, fmt.Errorf("settlement: purchase order and invoice number required")
	}
	if len(input.Items) == 0 {
		return ReceivePurchaseResult{}, ErrNoItems
	}
	key := fmt.Sprintf("purchase_receipt:%d:%s", input.PurchaseOrderID, input.InvoiceNumber)
	steps := []Step{
		claimKeyStep{key: key},
		loadPurchaseOrderStep{orderID: input.PurchaseOrderID},
		receiveItemsStep{items: input.Items, actorID: input.ActorID},
		createPayableStep{dueDays: s.cfg.PayableDueDays},
		markPurchaseReceivedStep{invoiceNumber: input.InvoiceNumber},
		recordStep{build: func(sess *Session, st *State) Record {
			return Record{
				OriginKind: "purchase_order", OriginID: st.PurchaseOrder.ID,
				DestinationKind: "payable", DestinationID: st.PayableID,
				Value: st.TotalValue, ActorID: input.ActorID, Status: "completed",
				Notes: fmt.Sprintf("receipt of %s, supplier invoice %s", st.PurchaseOrder.Number, input.InvoiceNumber),
			}
		}},
	}
	st, err := runSteps(ctx, s.runner, steps)
	if err != nil {
		s.observeFailure(err)
		return ReceivePurchaseResult{}, err
	}
	s.observeMovements(st.Movements)
	s.recordAudit(ctx, input.ActorID, "settlement.receive_purchase", "purchase_order", st.PurchaseOrder.ID, map[string]any{
		"payable_id":     st.PayableID,
		"invoice_number": input.InvoiceNumber,
		"total_value":    st.TotalValue.String(),
	})
	return ReceivePurchaseResult{
		Order:      st.PurchaseOrder,
		PayableID:  st.PayableID,
		TotalValue: st.TotalValue,
		Movements:  st.Movements,
	}, nil
}

// ConsumeProductionMaterials exits every required material for the order,
// strictly all-or-nothing, and moves the order to in_progress.
func (s *Service) ConsumeProductionMaterials(ctx context.Context, input ConsumeMaterialsInput) ([]inventory.Movement, error) {
	if input.ProductionOrderID <= 0 {
		return nil, fmt.Errorf("settlement: production order id required")
	}
	if len(input.Materials) == 0 {
		return nil, ErrNoItems
	}
	steps := []Step{
		loadProductionOrderStep{orderID: input.ProductionOrderID},
		consumeMaterialsStep{materials: input.Materials, actorID: input.ActorID},
		markInProgressStep{},
		recordStep{build: func(sess *Session, st *State) Record {
			return Record{
				OriginKind: "production_order", OriginID: st.ProductionOrder.ID,
				DestinationKind: "stock_movement", DestinationID: lastMovementID(st.Movements),
				Value: st.TotalValue, ActorID: input.ActorID, Status: "completed",
				Notes: fmt.Sprintf("materials consumed for %s", st.ProductionOrder.Number),
			}
		}},
	}
	st, err := runSteps(ctx, s.runner, steps)
	if err != nil {
		s.observeFailure(err)
		return nil, err
	}
	s.observeMovements(st.Movements)
	s.recordAudit(ctx, input.ActorID, "settlement.consume_materials", "production_order", input.ProductionOrderID, map[string]any{
		"movements": len(st.Movements),
	})
	return st.Movements, nil
}

// CompleteProduction enters the finished good and closes the production
// order. Guarded by an idempotency key so a retried completion does not
// double the produced quantity.
func (s *Service) CompleteProduction(ctx context.Context, input CompleteProductionInput) (CompleteProductionResult, error) {
	if input.ProductionOrderID <= 0 || input.ProductCode == "" {
		return CompleteProductionResult{}, fmt.Errorf("settlement: production order and product code required")
	}
	key := fmt.Sprintf("production_completion:%d", input.ProductionOrderID)
	steps := []Step{
		claimKeyStep{key: key},
		loadProductionOrderStep{orderID: input.ProductionOrderID},
		productionEntryStep{input: input},
		finishProductionStep{},
		recordStep{build: func(sess *Session, st *State) Record {
			return Record{
				OriginKind: "production_order", OriginID: st.ProductionOrder.ID,
				DestinationKind: "stock_movement", DestinationID: lastMovementID(st.Movements),
				Value: st.TotalValue, ActorID: input.ActorID, Status: "completed",
				Notes: fmt.Sprintf("%s produced %s x %s", st.ProductionOrder.Number, input.ProductCode, input.Quantity),
			}
		}},
	}
	st, err := runSteps(ctx, s.runner, steps)
	if err != nil {
		s.observeFailure(err)
		return CompleteProductionResult{}, err
	}
	s.observeMovements(st.Movements)
	s.recordAudit(ctx, input.ActorID, "settlement.complete_production", "production_order", input.ProductionOrderID, map[string]any{
		"product_code": input.ProductCode,
		"quantity":     input.Quantity.String(),
	})
	result := CompleteProductionResult{Order: st.ProductionOrder}
	if len(st.Movements) > 0 {
		result.Movement = st.Movements[0]
	}
	result.Order.Status = "finished"
	return result, nil
}

// EmitInvoice creates the invoice with its receivable, debits stock for
// every stock-tracked line and marks the linked sale order invoiced. Any
// shortfall aborts the emission entirely.
func (s *Service) EmitInvoice(ctx context.Context, input EmitInvoiceInput) (EmitInvoiceResult, error) {
	if input.CustomerID <= 0 {
		return EmitInvoiceResult{}, fmt.Errorf("settlement: customer id required")
	}
	if len(input.Items) == 0 {
		return EmitInvoiceResult{}, ErrNoItems
	}
	dueDays := input.DueDays
	if dueDays <= 0 {
		dueDays = s.cfg.ReceivableDueDays
	}
	steps := []Step{
		loadCustomerStep{customerID: input.CustomerID},
		createInvoiceStep{input: input},
		debitInvoiceItemsStep{actorID: input.ActorID},
		invoiceReceivableStep{dueDays: dueDays},
		markOrderInvoicedStep{},
		recordStep{build: func(sess *Session, st *State) Record {
			return Record{
				OriginKind: "invoice", OriginID: st.Invoice.ID,
				DestinationKind: "receivable", DestinationID: st.ReceivableID,
				Value: st.TotalValue, ActorID: input.ActorID, Status: "completed",
				Notes: fmt.Sprintf("invoice %s emitted", st.Invoice.Number),
			}
		}},
	}
	st, err := runSteps(ctx, s.runner, steps)
	if err != nil {
		s.observeFailure(err)
		return EmitInvoiceResult{}, err
	}
	s.observeMovements(st.Movements)
	s.recordAudit(ctx, input.ActorID, "settlement.emit_invoice", "invoice", st.Invoice.ID, map[string]any{
		"receivable_id": st.ReceivableID,
		"total_value":   st.TotalValue.String(),
	})
	return EmitInvoiceResult{
		Invoice:      st.Invoice,
		ReceivableID: st.ReceivableID,
		Movements:    st.Movements,
	}, nil
}

// CancelInvoice compensates an emission: the invoice is marked cancelled
// with its reason, the receivable is voided, every exit of the invoice is
// replayed as an inverse entry and the linked sale order returns to
// approved.
func (s *Service) CancelInvoice(ctx context.Context, input CancelInvoiceInput) (CancelInvoiceResult, error) {
	if input.InvoiceID <= 0 {
		return CancelInvoiceResult{}, fmt.Errorf("settlement: invoice id required")
	}
	reason := strings.TrimSpace(input.Reason)
	if n := utf8.RuneCountInString(reason); n < MinCancelReasonLen || n > MaxCancelReasonLen {
		return CancelInvoiceResult{}, ErrInvalidReason
	}
	steps := []Step{
		loadInvoiceStep{invoiceID: input.InvoiceID},
		cancelInvoiceMarkStep{reason: reason},
		cancelReceivableStep{},
		reverseMovementsStep{actorID: input.ActorID},
		restoreOrderStep{},
		recordStep{build: func(sess *Session, st *State) Record {
			return Record{
				OriginKind: "invoice", OriginID: st.Invoice.ID,
				DestinationKind: "reversal", DestinationID: lastMovementID(st.Reversed),
				Value: st.TotalValue, ActorID: input.ActorID, Status: "completed",
				Notes: reason,
			}
		}},
	}
	st, err := runSteps(ctx, s.runner, steps)
	if err != nil {
		s.observeFailure(err)
		return CancelInvoiceResult{}, err
	}
	for range st.Reversed {
		s.metrics.ObserveMovement(string(inventory.DirectionEntry), string(inventory.OriginInvoiceCancellation))
	}
	s.recordAudit(ctx, input.ActorID, "settlement.cancel_invoice", "invoice", input.InvoiceID, map[string]any{
		"reversed": len(st.Reversed),
		"reason":   reason,
	})
	return CancelInvoiceResult{Invoice: st.Invoice, Reversed: st.Reversed}, nil
}

func (s *Service) observeMovements(movements []inventory.Movement) {
	for _, m := range movements {
		s.metrics.ObserveMovement(string(m.Direction), string(m.OriginKind))
	}
}

func (s *Service) observeFailure(err error) {
	if errors.Is(err, inventory.ErrInsufficientStock) {
		s.metrics.ObserveStockRejection()
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	})
}

func lastMovementID(movements []inventory.Movement) int64 {
	if len(movements) == 0 {
		return 0
	}
	return movements[len(movements)-1].ID
}
