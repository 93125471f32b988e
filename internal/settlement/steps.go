package settlement

import (
	"context"
	"fmt"

	"github.com/meridian-erp/meridian-erp/internal/billing"
	"github.com/meridian-erp/meridian-erp/internal/finance"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/production"
	"github.com/meridian-erp/meridian-erp/internal/purchasing"
	"github.com/meridian-erp/meridian-erp/internal/sales"
)

// claimKeyStep claims the workflow's idempotency key as the first step of
// the transaction, so the key commits with the effects it guards and a
// rolled-back run leaves no stale claim behind.
type claimKeyStep struct {
	key string
}

func (s claimKeyStep) Name() string { return "claim_idempotency_key" }

func (s claimKeyStep) Apply(ctx context.Context, sess *Session, _ *State) error {
	if sess.Keys == nil {
		return nil
	}
	return sess.Keys.Claim(ctx, s.key)
}

// loadSaleOrderStep locks the order row, rejects anything past draft and
// sums line values into the state total.
type loadSaleOrderStep struct {
	orderID int64
}

func (s loadSaleOrderStep) Name() string { return "load_sale_order" }

func (s loadSaleOrderStep) Apply(ctx context.Context, sess *Session, st *State) error {
	order, err := sess.Sales.GetOrderForUpdate(ctx, s.orderID)
	if err != nil {
		return err
	}
	if order.Status != sales.OrderStatusDraft {
		return fmt.Errorf("%w: order %s is %s", ErrAlreadySettled, order.Number, order.Status)
	}
	items, err := sess.Sales.ItemsByOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return ErrNoItems
	}
	st.Order = order
	st.OrderItems = items
	for _, item := range items {
		st.TotalValue = st.TotalValue.Add(item.Value())
	}
	return nil
}

// debitSaleItemsStep exits stock for every order line. Insufficient stock on
// any line aborts the workflow.
type debitSaleItemsStep struct {
	actorID int64
}

func (s debitSaleItemsStep) Name() string { return "debit_sale_items" }

func (s debitSaleItemsStep) Apply(ctx context.Context, sess *Session, st *State) error {
	for _, item := range st.OrderItems {
		m, err := sess.Ledger.Apply(ctx, inventory.MovementInput{
			MaterialCode: item.MaterialCode,
			Direction:    inventory.DirectionExit,
			Quantity:     item.Quantity,
			Origin: inventory.Origin{
				Kind:           inventory.OriginSale,
				DocumentID:     st.Order.ID,
				DocumentNumber: st.Order.Number,
			},
			ActorID: s.actorID,
		})
		if err != nil {
			return err
		}
		st.Movements = append(st.Movements, m)
	}
	return nil
}

// createReceivableStep opens a pending receivable for the order total.
type createReceivableStep struct {
	dueDays int
}

func (s createReceivableStep) Name() string { return "create_receivable" }

func (s createReceivableStep) Apply(ctx context.Context, sess *Session, st *State) error {
	id, err := sess.Finance.CreateReceivable(ctx, finance.Receivable{
		OriginKind: finance.OriginSaleOrder,
		OriginID:   st.Order.ID,
		CustomerID: st.Order.CustomerID,
		Value:      st.TotalValue,
		DueDate:    sess.Now.AddDate(0, 0, s.dueDays),
	})
	if err != nil {
		return err
	}
	st.ReceivableID = id
	return nil
}

// createProductionOrderStep plans manufacture of the order's first line.
type createProductionOrderStep struct{}

func (s createProductionOrderStep) Name() string { return "create_production_order" }

func (s createProductionOrderStep) Apply(ctx context.Context, sess *Session, st *State) error {
	first := st.OrderItems[0]
	order, err := sess.Production.Create(ctx, &st.Order.ID, first.MaterialCode, first.Quantity)
	if err != nil {
		return err
	}
	st.ProductionOrder = order
	st.ProductionID = &order.ID
	return nil
}

// approveOrderStep transitions the order to approved with its references.
type approveOrderStep struct{}

func (s approveOrderStep) Name() string { return "approve_order" }

func (s approveOrderStep) Apply(ctx context.Context, sess *Session, st *State) error {
	return sess.Sales.SetApproved(ctx, st.Order.ID, st.ReceivableID, st.ProductionID, st.TotalValue)
}

// loadPurchaseOrderStep locks the purchase order and rejects re-receipt.
type loadPurchaseOrderStep struct {
	orderID int64
}

func (s loadPurchaseOrderStep) Name() string { return "load_purchase_order" }

func (s loadPurchaseOrderStep) Apply(ctx context.Context, sess *Session, st *State) error {
	order, err := sess.Purchasing.GetOrderForUpdate(ctx, s.orderID)
	if err != nil {
		return err
	}
	if order.Status == purchasing.OrderStatusReceived {
		return fmt.Errorf("%w: purchase order %s", ErrAlreadySettled, order.Number)
	}
	st.PurchaseOrder = order
	return nil
}

// receiveItemsStep enters every received line, creating balances for new
// materials and recomputing weighted averages.
type receiveItemsStep struct {
	items   []ReceiptItem
	actorID int64
}

func (s receiveItemsStep) Name() string { return "receive_items" }

func (s receiveItemsStep) Apply(ctx context.Context, sess *Session, st *State) error {
	for _, item := range s.items {
		m, err := sess.Ledger.Apply(ctx, inventory.MovementInput{
			MaterialCode: item.MaterialCode,
			Direction:    inventory.DirectionEntry,
			Quantity:     item.Quantity,
			UnitCost:     item.UnitCost,
			Origin: inventory.Origin{
				Kind:           inventory.OriginPurchase,
				DocumentID:     st.PurchaseOrder.ID,
				DocumentNumber: st.PurchaseOrder.Number,
			},
			ActorID: s.actorID,
		})
		if err != nil {
			return err
		}
		st.Movements = append(st.Movements, m)
		st.TotalValue = st.TotalValue.Add(item.Quantity.Mul(item.UnitCost))
	}
	return nil
}

// createPayableStep opens exactly one payable for the receipt total.
type createPayableStep struct {
	dueDays int
}

func (s createPayableStep) Name() string { return "create_payable" }

func (s createPayableStep) Apply(ctx context.Context, sess *Session, st *State) error {
	id, err := sess.Finance.CreatePayable(ctx, finance.Payable{
		OriginKind: finance.OriginPurchaseOrder,
		OriginID:   st.PurchaseOrder.ID,
		SupplierID: st.PurchaseOrder.SupplierID,
		Value:      st.TotalValue,
		DueDate:    sess.Now.AddDate(0, 0, s.dueDays),
	})
	if err != nil {
		return err
	}
	st.PayableID = id
	return nil
}

// markPurchaseReceivedStep closes the purchase order with the supplier
// invoice number.
type markPurchaseReceivedStep struct {
	invoiceNumber string
}

func (s markPurchaseReceivedStep) Name() string { return "mark_purchase_received" }

func (s markPurchaseReceivedStep) Apply(ctx context.Context, sess *Session, st *State) error {
	return sess.Purchasing.MarkReceived(ctx, st.PurchaseOrder.ID, s.invoiceNumber, st.TotalValue, st.PayableID)
}

// loadProductionOrderStep locks the production order; finished orders
// reject further activity.
type loadProductionOrderStep struct {
	orderID int64
}

func (s loadProductionOrderStep) Name() string { return "load_production_order" }

func (s loadProductionOrderStep) Apply(ctx context.Context, sess *Session, st *State) error {
	order, err := sess.Production.GetForUpdate(ctx, s.orderID)
	if err != nil {
		return err
	}
	if order.Status == production.OrderStatusFinished {
		return production.ErrAlreadyFinished
	}
	st.ProductionOrder = order
	return nil
}

// consumeMaterialsStep exits every required material. Any shortfall aborts
// the whole consumption.
type consumeMaterialsStep struct {
	materials []MaterialRequirement
	actorID   int64
}

func (s consumeMaterialsStep) Name() string { return "consume_materials" }

func (s consumeMaterialsStep) Apply(ctx context.Context, sess *Session, st *State) error {
	for _, mat := range s.materials {
		m, err := sess.Ledger.Apply(ctx, inventory.MovementInput{
			MaterialCode: mat.MaterialCode,
			Direction:    inventory.DirectionExit,
			Quantity:     mat.Quantity,
			Origin: inventory.Origin{
				Kind:           inventory.OriginProduction,
				DocumentID:     st.ProductionOrder.ID,
				DocumentNumber: st.ProductionOrder.Number,
			},
			ActorID: s.actorID,
		})
		if err != nil {
			return err
		}
		st.Movements = append(st.Movements, m)
	}
	return nil
}

// markInProgressStep moves a planned order to in_progress.
type markInProgressStep struct{}

func (s markInProgressStep) Name() string { return "mark_in_progress" }

func (s markInProgressStep) Apply(ctx context.Context, sess *Session, st *State) error {
	return sess.Production.MarkInProgress(ctx, st.ProductionOrder.ID)
}

// productionEntryStep enters the finished good, creating its balance if the
// product was never stocked before.
type productionEntryStep struct {
	input CompleteProductionInput
}

func (s productionEntryStep) Name() string { return "production_entry" }

func (s productionEntryStep) Apply(ctx context.Context, sess *Session, st *State) error {
	m, err := sess.Ledger.Apply(ctx, inventory.MovementInput{
		MaterialCode: s.input.ProductCode,
		Direction:    inventory.DirectionEntry,
		Quantity:     s.input.Quantity,
		UnitCost:     s.input.UnitCost,
		Origin: inventory.Origin{
			Kind:           inventory.OriginProduction,
			DocumentID:     st.ProductionOrder.ID,
			DocumentNumber: st.ProductionOrder.Number,
		},
		ActorID: s.input.ActorID,
	})
	if err != nil {
		return err
	}
	st.Movements = append(st.Movements, m)
	st.TotalValue = st.TotalValue.Add(s.input.Quantity.Mul(s.input.UnitCost))
	return nil
}

// finishProductionStep closes the production order.
type finishProductionStep struct{}

func (s finishProductionStep) Name() string { return "finish_production" }

func (s finishProductionStep) Apply(ctx context.Context, sess *Session, st *State) error {
	return sess.Production.MarkFinished(ctx, st.ProductionOrder.ID)
}

// loadCustomerStep verifies the bill-to party exists.
type loadCustomerStep struct {
	customerID int64
}

func (s loadCustomerStep) Name() string { return "load_customer" }

func (s loadCustomerStep) Apply(ctx context.Context, sess *Session, st *State) error {
	customer, err := sess.Sales.GetCustomer(ctx, s.customerID)
	if err != nil {
		return err
	}
	st.Customer = customer
	return nil
}

// createInvoiceStep writes the invoice head and lines.
type createInvoiceStep struct {
	input EmitInvoiceInput
}

func (s createInvoiceStep) Name() string { return "create_invoice" }

func (s createInvoiceStep) Apply(ctx context.Context, sess *Session, st *State) error {
	items := make([]billing.InvoiceItem, 0, len(s.input.Items))
	for _, line := range s.input.Items {
		item := billing.InvoiceItem{
			MaterialCode: line.MaterialCode,
			Description:  line.Description,
			Quantity:     line.Quantity,
			UnitPrice:    line.UnitPrice,
			StockTracked: line.StockTracked,
		}
		items = append(items, item)
		st.TotalValue = st.TotalValue.Add(item.Value())
	}
	invoice, err := sess.Billing.Insert(ctx, billing.Invoice{
		CustomerID:   st.Customer.ID,
		SalesOrderID: s.input.SalesOrderID,
		TotalValue:   st.TotalValue,
	}, items)
	if err != nil {
		return err
	}
	st.Invoice = invoice
	st.InvoiceItems = items
	return nil
}

// debitInvoiceItemsStep exits stock for every stock-tracked billed line. A
// shortfall on any line aborts the emission.
type debitInvoiceItemsStep struct {
	actorID int64
}

func (s debitInvoiceItemsStep) Name() string { return "debit_invoice_items" }

func (s debitInvoiceItemsStep) Apply(ctx context.Context, sess *Session, st *State) error {
	for _, item := range st.InvoiceItems {
		if !item.StockTracked {
			continue
		}
		m, err := sess.Ledger.Apply(ctx, inventory.MovementInput{
			MaterialCode: item.MaterialCode,
			Direction:    inventory.DirectionExit,
			Quantity:     item.Quantity,
			Origin: inventory.Origin{
				Kind:           inventory.OriginInvoice,
				DocumentID:     st.Invoice.ID,
				DocumentNumber: st.Invoice.Number,
			},
			ActorID: s.actorID,
		})
		if err != nil {
			return err
		}
		st.Movements = append(st.Movements, m)
	}
	return nil
}

// invoiceReceivableStep opens the receivable and links it on the invoice.
type invoiceReceivableStep struct {
	dueDays int
}

func (s invoiceReceivableStep) Name() string { return "invoice_receivable" }

func (s invoiceReceivableStep) Apply(ctx context.Context, sess *Session, st *State) error {
	id, err := sess.Finance.CreateReceivable(ctx, finance.Receivable{
		OriginKind: finance.OriginInvoice,
		OriginID:   st.Invoice.ID,
		CustomerID: st.Customer.ID,
		Value:      st.TotalValue,
		DueDate:    sess.Now.AddDate(0, 0, s.dueDays),
	})
	if err != nil {
		return err
	}
	st.ReceivableID = id
	return sess.Billing.SetReceivable(ctx, st.Invoice.ID, id)
}

// markOrderInvoicedStep moves the linked sale order to invoiced, when there
// is one.
type markOrderInvoicedStep struct{}

func (s markOrderInvoicedStep) Name() string { return "mark_order_invoiced" }

func (s markOrderInvoicedStep) Apply(ctx context.Context, sess *Session, st *State) error {
	if st.Invoice.SalesOrderID == nil {
		return nil
	}
	if _, err := sess.Sales.GetOrderForUpdate(ctx, *st.Invoice.SalesOrderID); err != nil {
		return err
	}
	return sess.Sales.SetInvoiced(ctx, *st.Invoice.SalesOrderID, st.Invoice.ID)
}

// loadInvoiceStep locks the invoice and rejects double cancellation.
type loadInvoiceStep struct {
	invoiceID int64
}

func (s loadInvoiceStep) Name() string { return "load_invoice" }

func (s loadInvoiceStep) Apply(ctx context.Context, sess *Session, st *State) error {
	invoice, err := sess.Billing.GetForUpdate(ctx, s.invoiceID)
	if err != nil {
		return err
	}
	if invoice.Status == billing.InvoiceStatusCancelled {
		return billing.ErrAlreadyCancelled
	}
	st.Invoice = invoice
	st.TotalValue = invoice.TotalValue
	return nil
}

// cancelInvoiceMarkStep stamps the invoice cancelled with its reason.
type cancelInvoiceMarkStep struct {
	reason string
}

func (s cancelInvoiceMarkStep) Name() string { return "cancel_invoice" }

func (s cancelInvoiceMarkStep) Apply(ctx context.Context, sess *Session, st *State) error {
	if err := sess.Billing.MarkCancelled(ctx, st.Invoice.ID, s.reason); err != nil {
		return err
	}
	st.Invoice.Status = billing.InvoiceStatusCancelled
	st.Invoice.CancelReason = s.reason
	return nil
}

// cancelReceivableStep voids the invoice's pending receivable.
type cancelReceivableStep struct{}

func (s cancelReceivableStep) Name() string { return "cancel_receivable" }

func (s cancelReceivableStep) Apply(ctx context.Context, sess *Session, st *State) error {
	return sess.Finance.CancelReceivableByOrigin(ctx, finance.OriginInvoice, st.Invoice.ID)
}

// reverseMovementsStep replays each exit of the invoice as an inverse entry
// at the cost the exit recorded. The movement log's before/after snapshots
// make this mechanical.
type reverseMovementsStep struct {
	actorID int64
}

func (s reverseMovementsStep) Name() string { return "reverse_movements" }

func (s reverseMovementsStep) Apply(ctx context.Context, sess *Session, st *State) error {
	movements, err := sess.Ledger.MovementsByOrigin(ctx, inventory.OriginInvoice, st.Invoice.ID)
	if err != nil {
		return err
	}
	for _, m := range movements {
		if m.Direction != inventory.DirectionExit {
			continue
		}
		rev, err := sess.Ledger.Apply(ctx, inventory.MovementInput{
			MaterialCode: m.MaterialCode,
			Direction:    inventory.DirectionEntry,
			Quantity:     m.Quantity,
			UnitCost:     m.UnitCost,
			Origin: inventory.Origin{
				Kind:           inventory.OriginInvoiceCancellation,
				DocumentID:     st.Invoice.ID,
				DocumentNumber: st.Invoice.Number,
			},
			ActorID: s.actorID,
		})
		if err != nil {
			return err
		}
		st.Reversed = append(st.Reversed, rev)
	}
	return nil
}

// restoreOrderStep returns the linked sale order to approved.
type restoreOrderStep struct{}

func (s restoreOrderStep) Name() string { return "restore_order" }

func (s restoreOrderStep) Apply(ctx context.Context, sess *Session, st *State) error {
	if st.Invoice.SalesOrderID == nil {
		return nil
	}
	return sess.Sales.RestoreApproved(ctx, *st.Invoice.SalesOrderID)
}

// recordStep writes the append-only settlement trace as the workflow's last
// action.
type recordStep struct {
	build func(*Session, *State) Record
}

func (s recordStep) Name() string { return "record_settlement" }

func (s recordStep) Apply(ctx context.Context, sess *Session, st *State) error {
	rec := s.build(sess, st)
	rec.Reference = sess.Reference
	rec.CreatedAt = sess.Now
	id, err := sess.Records.Insert(ctx, rec)
	if err != nil {
		return err
	}
	st.RecordID = id
	return nil
}
