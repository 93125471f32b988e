package settlement

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/billing"
	"github.com/meridian-erp/meridian-erp/internal/finance"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/production"
	"github.com/meridian-erp/meridian-erp/internal/purchasing"
	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// env is the complete in-memory backend one fake runner serves. Run deep
// copies it before each workflow and restores the copy on error, mimicking
// transaction rollback.
type env struct {
	balances    map[string]inventory.MaterialBalance
	movements   []inventory.Movement
	movementID  int64
	customers   map[int64]sales.Customer
	orders      map[int64]sales.SalesOrder
	orderItems  map[int64][]sales.SalesOrderItem
	purchases   map[int64]purchasing.PurchaseOrder
	prodOrders  map[int64]production.ProductionOrder
	prodID      int64
	receivables map[int64]finance.Receivable
	recvID      int64
	payables    map[int64]finance.Payable
	payID       int64
	invoices    map[int64]billing.Invoice
	invItems    map[int64][]billing.InvoiceItem
	invID       int64
	records     []Record
	recordID    int64
	keys        map[string]bool
}

func newEnv() *env {
	return &env{
		balances:    make(map[string]inventory.MaterialBalance),
		customers:   make(map[int64]sales.Customer),
		orders:      make(map[int64]sales.SalesOrder),
		orderItems:  make(map[int64][]sales.SalesOrderItem),
		purchases:   make(map[int64]purchasing.PurchaseOrder),
		prodOrders:  make(map[int64]production.ProductionOrder),
		receivables: make(map[int64]finance.Receivable),
		payables:    make(map[int64]finance.Payable),
		invoices:    make(map[int64]billing.Invoice),
		invItems:    make(map[int64][]billing.InvoiceItem),
		keys:        make(map[string]bool),
	}
}

func (e *env) clone() *env {
	c := newEnv()
	for k, v := range e.balances {
		c.balances[k] = v
	}
	c.movements = append(c.movements, e.movements...)
	c.movementID = e.movementID
	for k, v := range e.customers {
		c.customers[k] = v
	}
	for k, v := range e.orders {
		c.orders[k] = v
	}
	for k, v := range e.orderItems {
		c.orderItems[k] = append([]sales.SalesOrderItem(nil), v...)
	}
	for k, v := range e.purchases {
		c.purchases[k] = v
	}
	for k, v := range e.prodOrders {
		c.prodOrders[k] = v
	}
	c.prodID = e.prodID
	for k, v := range e.receivables {
		c.receivables[k] = v
	}
	c.recvID = e.recvID
	for k, v := range e.payables {
		c.payables[k] = v
	}
	c.payID = e.payID
	for k, v := range e.invoices {
		c.invoices[k] = v
	}
	for k, v := range e.invItems {
		c.invItems[k] = append([]billing.InvoiceItem(nil), v...)
	}
	c.invID = e.invID
	c.records = append(c.records, e.records...)
	c.recordID = e.recordID
	for k := range e.keys {
		c.keys[k] = true
	}
	return c
}

func (e *env) restore(from *env) { *e = *from }

func (e *env) seedBalance(code, physical, reserved, avg string) {
	e.balances[code] = inventory.MaterialBalance{
		MaterialCode:     code,
		QuantityPhysical: dec(physical),
		QuantityReserved: dec(reserved),
		WeightedAvgCost:  dec(avg),
	}
}

func (e *env) seedDraftOrder(id, customerID int64, items ...sales.SalesOrderItem) {
	e.customers[customerID] = sales.Customer{ID: customerID, Name: fmt.Sprintf("customer %d", customerID)}
	e.orders[id] = sales.SalesOrder{
		ID: id, Number: fmt.Sprintf("SO-%06d", id), CustomerID: customerID,
		Status: sales.OrderStatusDraft, TotalValue: decimal.Zero,
	}
	for i := range items {
		items[i].OrderID = id
	}
	e.orderItems[id] = items
}

// ledger store view

type envLedger struct{ e *env }

func (s envLedger) GetBalanceForUpdate(ctx context.Context, code string) (inventory.MaterialBalance, error) {
	if bal, ok := s.e.balances[code]; ok {
		return bal, nil
	}
	return inventory.MaterialBalance{}, inventory.ErrBalanceNotFound
}

func (s envLedger) UpsertBalance(ctx context.Context, balance inventory.MaterialBalance) error {
	if existing, ok := s.e.balances[balance.MaterialCode]; ok {
		balance.QuantityReserved = existing.QuantityReserved
	}
	s.e.balances[balance.MaterialCode] = balance
	return nil
}

func (s envLedger) AdjustReserved(ctx context.Context, code string, delta decimal.Decimal) error {
	bal, ok := s.e.balances[code]
	if !ok {
		return inventory.ErrBalanceNotFound
	}
	bal.QuantityReserved = bal.QuantityReserved.Add(delta)
	s.e.balances[code] = bal
	return nil
}

func (s envLedger) InsertMovement(ctx context.Context, m inventory.Movement) (int64, error) {
	s.e.movementID++
	m.ID = s.e.movementID
	s.e.movements = append(s.e.movements, m)
	return m.ID, nil
}

func (s envLedger) ListMovementsByOrigin(ctx context.Context, kind inventory.OriginKind, documentID int64) ([]inventory.Movement, error) {
	var out []inventory.Movement
	for _, m := range s.e.movements {
		if m.OriginKind == kind && m.OriginDocumentID == documentID {
			out = append(out, m)
		}
	}
	return out, nil
}

// sales store view

type envSales struct{ e *env }

func (s envSales) GetOrderForUpdate(ctx context.Context, id int64) (sales.SalesOrder, error) {
	order, ok := s.e.orders[id]
	if !ok {
		return sales.SalesOrder{}, sales.ErrOrderNotFound
	}
	return order, nil
}

func (s envSales) ItemsByOrder(ctx context.Context, orderID int64) ([]sales.SalesOrderItem, error) {
	return s.e.orderItems[orderID], nil
}

func (s envSales) GetCustomer(ctx context.Context, id int64) (sales.Customer, error) {
	customer, ok := s.e.customers[id]
	if !ok {
		return sales.Customer{}, sales.ErrCustomerNotFound
	}
	return customer, nil
}

func (s envSales) SetApproved(ctx context.Context, id int64, receivableID int64, productionOrderID *int64, total decimal.Decimal) error {
	order, ok := s.e.orders[id]
	if !ok || order.Status != sales.OrderStatusDraft {
		return sales.ErrInvalidStatus
	}
	order.Status = sales.OrderStatusApproved
	order.ReceivableID = &receivableID
	order.ProductionOrderID = productionOrderID
	order.TotalValue = total
	s.e.orders[id] = order
	return nil
}

func (s envSales) SetInvoiced(ctx context.Context, id, invoiceID int64) error {
	order, ok := s.e.orders[id]
	if !ok || order.Status != sales.OrderStatusApproved {
		return sales.ErrInvalidStatus
	}
	order.Status = sales.OrderStatusInvoiced
	order.InvoiceID = &invoiceID
	s.e.orders[id] = order
	return nil
}

func (s envSales) RestoreApproved(ctx context.Context, id int64) error {
	order, ok := s.e.orders[id]
	if !ok || order.Status != sales.OrderStatusInvoiced {
		return sales.ErrInvalidStatus
	}
	order.Status = sales.OrderStatusApproved
	order.InvoiceID = nil
	s.e.orders[id] = order
	return nil
}

// purchasing store view

type envPurchasing struct{ e *env }

func (s envPurchasing) GetOrderForUpdate(ctx context.Context, id int64) (purchasing.PurchaseOrder, error) {
	order, ok := s.e.purchases[id]
	if !ok {
		return purchasing.PurchaseOrder{}, purchasing.ErrOrderNotFound
	}
	return order, nil
}

func (s envPurchasing) MarkReceived(ctx context.Context, id int64, invoiceNumber string, total decimal.Decimal, payableID int64) error {
	order, ok := s.e.purchases[id]
	if !ok {
		return purchasing.ErrOrderNotFound
	}
	if order.Status == purchasing.OrderStatusReceived {
		return purchasing.ErrAlreadyReceived
	}
	order.Status = purchasing.OrderStatusReceived
	order.InvoiceNumber = invoiceNumber
	order.TotalValue = total
	order.PayableID = &payableID
	s.e.purchases[id] = order
	return nil
}

// production store view

type envProduction struct{ e *env }

func (s envProduction) Create(ctx context.Context, salesOrderID *int64, productCode string, quantity decimal.Decimal) (production.ProductionOrder, error) {
	s.e.prodID++
	order := production.ProductionOrder{
		ID: s.e.prodID, Number: fmt.Sprintf("PR-%06d", s.e.prodID),
		SalesOrderID: salesOrderID, ProductCode: productCode, Quantity: quantity,
		Status: production.OrderStatusPlanned,
	}
	s.e.prodOrders[order.ID] = order
	return order, nil
}

func (s envProduction) GetForUpdate(ctx context.Context, id int64) (production.ProductionOrder, error) {
	order, ok := s.e.prodOrders[id]
	if !ok {
		return production.ProductionOrder{}, production.ErrOrderNotFound
	}
	return order, nil
}

func (s envProduction) MarkInProgress(ctx context.Context, id int64) error {
	order, ok := s.e.prodOrders[id]
	if !ok {
		return production.ErrOrderNotFound
	}
	if order.Status == production.OrderStatusFinished {
		return production.ErrAlreadyFinished
	}
	order.Status = production.OrderStatusInProgress
	s.e.prodOrders[id] = order
	return nil
}

func (s envProduction) MarkFinished(ctx context.Context, id int64) error {
	order, ok := s.e.prodOrders[id]
	if !ok {
		return production.ErrOrderNotFound
	}
	if order.Status == production.OrderStatusFinished {
		return production.ErrAlreadyFinished
	}
	order.Status = production.OrderStatusFinished
	s.e.prodOrders[id] = order
	return nil
}

// finance store view

type envFinance struct{ e *env }

func (s envFinance) CreateReceivable(ctx context.Context, rec finance.Receivable) (int64, error) {
	s.e.recvID++
	rec.ID = s.e.recvID
	rec.Status = finance.StatusPending
	s.e.receivables[rec.ID] = rec
	return rec.ID, nil
}

func (s envFinance) CreatePayable(ctx context.Context, pay finance.Payable) (int64, error) {
	s.e.payID++
	pay.ID = s.e.payID
	pay.Status = finance.StatusPending
	s.e.payables[pay.ID] = pay
	return pay.ID, nil
}

func (s envFinance) CancelReceivableByOrigin(ctx context.Context, kind finance.OriginKind, originID int64) error {
	for id, rec := range s.e.receivables {
		if rec.OriginKind == kind && rec.OriginID == originID && rec.Status == finance.StatusPending {
			rec.Status = finance.StatusCancelled
			s.e.receivables[id] = rec
			return nil
		}
	}
	return finance.ErrTitleNotFound
}

// billing store view

type envBilling struct{ e *env }

func (s envBilling) Insert(ctx context.Context, inv billing.Invoice, items []billing.InvoiceItem) (billing.Invoice, error) {
	s.e.invID++
	inv.ID = s.e.invID
	inv.Number = fmt.Sprintf("INV-%06d", inv.ID)
	inv.Status = billing.InvoiceStatusIssued
	s.e.invoices[inv.ID] = inv
	for i := range items {
		items[i].InvoiceID = inv.ID
	}
	s.e.invItems[inv.ID] = items
	return inv, nil
}

func (s envBilling) GetForUpdate(ctx context.Context, id int64) (billing.Invoice, error) {
	inv, ok := s.e.invoices[id]
	if !ok {
		return billing.Invoice{}, billing.ErrInvoiceNotFound
	}
	return inv, nil
}

func (s envBilling) Items(ctx context.Context, invoiceID int64) ([]billing.InvoiceItem, error) {
	return s.e.invItems[invoiceID], nil
}

func (s envBilling) MarkCancelled(ctx context.Context, id int64, reason string) error {
	inv, ok := s.e.invoices[id]
	if !ok {
		return billing.ErrInvoiceNotFound
	}
	if inv.Status == billing.InvoiceStatusCancelled {
		return billing.ErrAlreadyCancelled
	}
	inv.Status = billing.InvoiceStatusCancelled
	inv.CancelReason = reason
	s.e.invoices[id] = inv
	return nil
}

func (s envBilling) SetReceivable(ctx context.Context, id, receivableID int64) error {
	return nil
}

// record store view

type envRecords struct{ e *env }

func (s envRecords) Insert(ctx context.Context, rec Record) (int64, error) {
	s.e.recordID++
	rec.ID = s.e.recordID
	s.e.records = append(s.e.records, rec)
	return rec.ID, nil
}

// key guard view

type envKeys struct{ e *env }

func (s envKeys) Claim(ctx context.Context, key string) error {
	if s.e.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	s.e.keys[key] = true
	return nil
}

type fakeRunner struct {
	e *env
}

func (r *fakeRunner) Run(ctx context.Context, fn func(context.Context, *Session) error) error {
	saved := r.e.clone()
	session := &Session{
		Ledger:     inventory.NewLedger(envLedger{r.e}),
		Sales:      envSales{r.e},
		Purchasing: envPurchasing{r.e},
		Production: envProduction{r.e},
		Finance:    envFinance{r.e},
		Billing:    envBilling{r.e},
		Records:    envRecords{r.e},
		Keys:       envKeys{r.e},
		Reference:  uuid.New(),
		Now:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := fn(ctx, session); err != nil {
		r.e.restore(saved)
		return err
	}
	return nil
}

func newTestService(e *env) *Service {
	return NewService(&fakeRunner{e: e}, nil, nil, Config{ReceivableDueDays: 30, PayableDueDays: 45})
}

func TestApproveSaleDebitsStockAndCreatesReceivable(t *testing.T) {
	e := newEnv()
	e.seedBalance("M1", "100", "0", "10.00")
	e.seedBalance("M2", "30", "0", "5.00")
	e.seedDraftOrder(1, 7,
		sales.SalesOrderItem{MaterialCode: "M1", Quantity: dec("10"), UnitPrice: dec("25.00")},
		sales.SalesOrderItem{MaterialCode: "M2", Quantity: dec("4"), UnitPrice: dec("12.50")},
	)
	svc := newTestService(e)

	result, err := svc.ApproveSale(context.Background(), ApproveSaleInput{
		OrderID: 1, DebitStock: true, CreateProductionOrder: true, ActorID: 9,
	})
	require.NoError(t, err)
	require.Len(t, result.Movements, 2)
	require.True(t, result.Order.TotalValue.Equal(dec("300.00")), "got %s", result.Order.TotalValue)
	require.NotZero(t, result.ReceivableID)
	require.NotNil(t, result.ProductionOrderID)

	require.Equal(t, sales.OrderStatusApproved, e.orders[1].Status)
	require.True(t, e.balances["M1"].QuantityPhysical.Equal(dec("90")))
	require.True(t, e.balances["M2"].QuantityPhysical.Equal(dec("26")))

	rec := e.receivables[result.ReceivableID]
	require.True(t, rec.Value.Equal(dec("300.00")))
	require.Equal(t, finance.OriginSaleOrder, rec.OriginKind)

	require.Len(t, e.records, 1)
	require.Equal(t, "sale_order", e.records[0].OriginKind)
}

func TestApproveSaleInsufficientStockAbortsEverything(t *testing.T) {
	e := newEnv()
	e.seedBalance("M1", "100", "0", "10.00")
	e.seedBalance("M2", "3", "0", "5.00")
	e.seedDraftOrder(1, 7,
		sales.SalesOrderItem{MaterialCode: "M1", Quantity: dec("10"), UnitPrice: dec("25.00")},
		sales.SalesOrderItem{MaterialCode: "M2", Quantity: dec("4"), UnitPrice: dec("12.50")},
	)
	svc := newTestService(e)

	_, err := svc.ApproveSale(context.Background(), ApproveSaleInput{OrderID: 1, DebitStock: true, ActorID: 9})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	require.Equal(t, sales.OrderStatusDraft, e.orders[1].Status)
	require.True(t, e.balances["M1"].QuantityPhysical.Equal(dec("100")), "first item debit must roll back")
	require.Empty(t, e.receivables)
	require.Empty(t, e.movements)
	require.Empty(t, e.records)
}

func TestApproveSaleRejectsSettledOrder(t *testing.T) {
	e := newEnv()
	e.seedDraftOrder(1, 7, sales.SalesOrderItem{MaterialCode: "M1", Quantity: dec("1"), UnitPrice: dec("1")})
	order := e.orders[1]
	order.Status = sales.OrderStatusApproved
	e.orders[1] = order
	svc := newTestService(e)

	_, err := svc.ApproveSale(context.Background(), ApproveSaleInput{OrderID: 1, ActorID: 9})
	require.ErrorIs(t, err, ErrAlreadySettled)
}

func TestReceivePurchaseRecomputesWeightedAverage(t *testing.T) {
	e := newEnv()
	e.seedBalance("M1", "100", "0", "10.00")
	e.purchases[5] = purchasing.PurchaseOrder{ID: 5, Number: "PO-000005", SupplierID: 3, Status: purchasing.OrderStatusSent}
	svc := newTestService(e)

	result, err := svc.ReceivePurchase(context.Background(), ReceivePurchaseInput{
		PurchaseOrderID: 5,
		InvoiceNumber:   "NF-4711",
		Items:           []ReceiptItem{{MaterialCode: "M1", Quantity: dec("50"), UnitCost: dec("13.00")}},
		ActorID:         9,
	})
	require.NoError(t, err)
	require.True(t, result.TotalValue.Equal(dec("650.00")))

	bal := e.balances["M1"]
	require.True(t, bal.QuantityPhysical.Equal(dec("150")))
	require.True(t, bal.WeightedAvgCost.Equal(dec("11.00")), "got %s", bal.WeightedAvgCost)

	require.Equal(t, purchasing.OrderStatusReceived, e.purchases[5].Status)
	pay := e.payables[result.PayableID]
	require.True(t, pay.Value.Equal(dec("650.00")))
	require.Equal(t, int64(3), pay.SupplierID)
	require.Len(t, e.payables, 1, "exactly one payable per receipt")
}

func TestReceivePurchaseCreatesUnknownMaterial(t *testing.T) {
	e := newEnv()
	e.purchases[5] = purchasing.PurchaseOrder{ID: 5, Number: "PO-000005", SupplierID: 3, Status: purchasing.OrderStatusDraft}
	svc := newTestService(e)

	_, err := svc.ReceivePurchase(context.Background(), ReceivePurchaseInput{
		PurchaseOrderID: 5,
		InvoiceNumber:   "NF-1",
		Items:           []ReceiptItem{{MaterialCode: "NEW", Quantity: dec("5"), UnitCost: dec("2.00")}},
		ActorID:         9,
	})
	require.NoError(t, err)
	require.True(t, e.balances["NEW"].QuantityPhysical.Equal(dec("5")))
	require.True(t, e.balances["NEW"].WeightedAvgCost.Equal(dec("2.00")))
}

func TestReceivePurchaseDuplicateInvoiceRejected(t *testing.T) {
	e := newEnv()
	e.purchases[5] = purchasing.PurchaseOrder{ID: 5, Number: "PO-000005", SupplierID: 3, Status: purchasing.OrderStatusSent}
	svc := newTestService(e)
	ctx := context.Background()

	input := ReceivePurchaseInput{
		PurchaseOrderID: 5,
		InvoiceNumber:   "NF-77",
		Items:           []ReceiptItem{{MaterialCode: "M1", Quantity: dec("10"), UnitCost: dec("4.00")}},
		ActorID:         9,
	}
	_, err := svc.ReceivePurchase(ctx, input)
	require.NoError(t, err)

	_, err = svc.ReceivePurchase(ctx, input)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.True(t, e.balances["M1"].QuantityPhysical.Equal(dec("10")), "no double stock")
	require.Len(t, e.payables, 1)
}

func TestReceivePurchaseFailureReleasesKey(t *testing.T) {
	e := newEnv()
	e.purchases[5] = purchasing.PurchaseOrder{ID: 5, Number: "PO-000005", SupplierID: 3, Status: purchasing.OrderStatusSent}
	svc := newTestService(e)
	ctx := context.Background()

	// A zero-quantity line aborts the receipt after the key was claimed.
	_, err := svc.ReceivePurchase(ctx, ReceivePurchaseInput{
		PurchaseOrderID: 5,
		InvoiceNumber:   "NF-78",
		Items:           []ReceiptItem{{MaterialCode: "M1", Quantity: dec("0"), UnitCost: dec("4.00")}},
		ActorID:         9,
	})
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)
	require.Empty(t, e.keys, "the rollback releases the claimed key")

	// The corrected retry for the same invoice goes through.
	result, err := svc.ReceivePurchase(ctx, ReceivePurchaseInput{
		PurchaseOrderID: 5,
		InvoiceNumber:   "NF-78",
		Items:           []ReceiptItem{{MaterialCode: "M1", Quantity: dec("10"), UnitCost: dec("4.00")}},
		ActorID:         9,
	})
	require.NoError(t, err)
	require.True(t, result.TotalValue.Equal(dec("40.00")))
}

func TestConsumeMaterialsAllOrNothing(t *testing.T) {
	e := newEnv()
	e.seedBalance("M1", "10", "0", "1.00")
	e.seedBalance("M2", "2", "0", "1.00")
	e.prodOrders[4] = production.ProductionOrder{ID: 4, Number: "PR-000004", Status: production.OrderStatusPlanned}
	e.prodID = 4
	svc := newTestService(e)

	_, err := svc.ConsumeProductionMaterials(context.Background(), ConsumeMaterialsInput{
		ProductionOrderID: 4,
		Materials: []MaterialRequirement{
			{MaterialCode: "M1", Quantity: dec("5")},
			{MaterialCode: "M2", Quantity: dec("3")},
		},
		ActorID: 9,
	})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.True(t, e.balances["M1"].QuantityPhysical.Equal(dec("10")))
	require.Equal(t, production.OrderStatusPlanned, e.prodOrders[4].Status)

	movements, err := svc.ConsumeProductionMaterials(context.Background(), ConsumeMaterialsInput{
		ProductionOrderID: 4,
		Materials: []MaterialRequirement{
			{MaterialCode: "M1", Quantity: dec("5")},
			{MaterialCode: "M2", Quantity: dec("2")},
		},
		ActorID: 9,
	})
	require.NoError(t, err)
	require.Len(t, movements, 2)
	require.Equal(t, production.OrderStatusInProgress, e.prodOrders[4].Status)
}

func TestCompleteProductionEntersFinishedGood(t *testing.T) {
	e := newEnv()
	e.prodOrders[4] = production.ProductionOrder{ID: 4, Number: "PR-000004", Status: production.OrderStatusInProgress}
	e.prodID = 4
	svc := newTestService(e)

	result, err := svc.CompleteProduction(context.Background(), CompleteProductionInput{
		ProductionOrderID: 4,
		ProductCode:       "FG-1",
		Quantity:          dec("8"),
		UnitCost:          dec("7.50"),
		ActorID:           9,
	})
	require.NoError(t, err)
	require.Equal(t, production.OrderStatusFinished, e.prodOrders[4].Status)
	require.True(t, e.balances["FG-1"].QuantityPhysical.Equal(dec("8")))
	require.True(t, result.Movement.QuantityAfter.Equal(dec("8")))

	// The retry trips the idempotency key claimed by the first run.
	_, err = svc.CompleteProduction(context.Background(), CompleteProductionInput{
		ProductionOrderID: 4, ProductCode: "FG-1", Quantity: dec("8"), ActorID: 9,
	})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.True(t, e.balances["FG-1"].QuantityPhysical.Equal(dec("8")), "no double entry")
}

func TestEmitAndCancelInvoiceRoundTrip(t *testing.T) {
	e := newEnv()
	e.seedBalance("M1", "40", "0", "6.00")
	e.seedDraftOrder(2, 7, sales.SalesOrderItem{MaterialCode: "M1", Quantity: dec("12"), UnitPrice: dec("20.00")})
	order := e.orders[2]
	order.Status = sales.OrderStatusApproved
	e.orders[2] = order
	svc := newTestService(e)
	ctx := context.Background()

	orderID := int64(2)
	emitted, err := svc.EmitInvoice(ctx, EmitInvoiceInput{
		CustomerID:   7,
		SalesOrderID: &orderID,
		Items: []InvoiceLine{
			{MaterialCode: "M1", Quantity: dec("12"), UnitPrice: dec("20.00"), StockTracked: true},
			{Description: "freight", Quantity: dec("1"), UnitPrice: dec("35.00")},
		},
		ActorID: 9,
	})
	require.NoError(t, err)
	require.True(t, emitted.Invoice.TotalValue.Equal(dec("275.00")))
	require.Len(t, emitted.Movements, 1, "only the stock-tracked line exits")
	require.True(t, e.balances["M1"].QuantityPhysical.Equal(dec("28")))
	require.Equal(t, sales.OrderStatusInvoiced, e.orders[2].Status)

	cancelled, err := svc.CancelInvoice(ctx, CancelInvoiceInput{
		InvoiceID: emitted.Invoice.ID,
		Reason:    "customer returned the full shipment",
		ActorID:   9,
	})
	require.NoError(t, err)
	require.Len(t, cancelled.Reversed, 1)
	require.Equal(t, billing.InvoiceStatusCancelled, e.invoices[emitted.Invoice.ID].Status)

	// Physical stock is restored exactly; the reversal entry reuses the
	// exit's recorded cost so the average survives the round trip.
	bal := e.balances["M1"]
	require.True(t, bal.QuantityPhysical.Equal(dec("40")), "got %s", bal.QuantityPhysical)
	require.True(t, bal.WeightedAvgCost.Equal(dec("6.00")), "got %s", bal.WeightedAvgCost)

	require.Equal(t, sales.OrderStatusApproved, e.orders[2].Status)
	var recStatus finance.DocumentStatus
	for _, rec := range e.receivables {
		if rec.OriginKind == finance.OriginInvoice && rec.OriginID == emitted.Invoice.ID {
			recStatus = rec.Status
		}
	}
	require.Equal(t, finance.StatusCancelled, recStatus)
}

func TestEmitInvoiceShortfallAbortsEmission(t *testing.T) {
	e := newEnv()
	e.seedBalance("M1", "5", "0", "6.00")
	e.customers[7] = sales.Customer{ID: 7, Name: "acme"}
	svc := newTestService(e)

	_, err := svc.EmitInvoice(context.Background(), EmitInvoiceInput{
		CustomerID: 7,
		Items:      []InvoiceLine{{MaterialCode: "M1", Quantity: dec("12"), UnitPrice: dec("20.00"), StockTracked: true}},
		ActorID:    9,
	})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.Empty(t, e.invoices, "no partial invoice")
	require.Empty(t, e.receivables)
	require.True(t, e.balances["M1"].QuantityPhysical.Equal(dec("5")))
}

func TestCancelInvoiceValidatesReason(t *testing.T) {
	e := newEnv()
	svc := newTestService(e)

	_, err := svc.CancelInvoice(context.Background(), CancelInvoiceInput{InvoiceID: 1, Reason: "too short", ActorID: 9})
	require.ErrorIs(t, err, ErrInvalidReason)

	// The bound counts characters, not bytes: ten accented characters span
	// twenty bytes and must still fall under the minimum.
	_, err = svc.CancelInvoice(context.Background(), CancelInvoiceInput{InvoiceID: 1, Reason: "ãéíõúâêôçà", ActorID: 9})
	require.ErrorIs(t, err, ErrInvalidReason)

	// Fifteen characters of multibyte text clear validation and reach the
	// invoice lookup.
	_, err = svc.CancelInvoice(context.Background(), CancelInvoiceInput{InvoiceID: 1, Reason: "cancelamento nfé", ActorID: 9})
	require.NotErrorIs(t, err, ErrInvalidReason)
}

func TestCancelInvoiceTwiceRejected(t *testing.T) {
	e := newEnv()
	e.seedBalance("M1", "40", "0", "6.00")
	e.customers[7] = sales.Customer{ID: 7, Name: "acme"}
	svc := newTestService(e)
	ctx := context.Background()

	emitted, err := svc.EmitInvoice(ctx, EmitInvoiceInput{
		CustomerID: 7,
		Items:      []InvoiceLine{{MaterialCode: "M1", Quantity: dec("2"), UnitPrice: dec("10.00"), StockTracked: true}},
		ActorID:    9,
	})
	require.NoError(t, err)

	_, err = svc.CancelInvoice(ctx, CancelInvoiceInput{InvoiceID: emitted.Invoice.ID, Reason: "duplicate emission, voiding document", ActorID: 9})
	require.NoError(t, err)

	_, err = svc.CancelInvoice(ctx, CancelInvoiceInput{InvoiceID: emitted.Invoice.ID, Reason: "duplicate emission, voiding document", ActorID: 9})
	require.ErrorIs(t, err, billing.ErrAlreadyCancelled)
	require.True(t, e.balances["M1"].QuantityPhysical.Equal(dec("40")), "second cancel must not restock again")
}
