package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
)

type fakeLedgerStore struct {
	balances  map[string]inventory.MaterialBalance
	movements []inventory.Movement
	nextID    int64
}

func newFakeLedgerStore() *fakeLedgerStore {
	return &fakeLedgerStore{balances: make(map[string]inventory.MaterialBalance)}
}

func (s *fakeLedgerStore) seed(code string, physical, reserved, avg string) {
	s.balances[code] = inventory.MaterialBalance{
		MaterialCode:     code,
		QuantityPhysical: decimal.RequireFromString(physical),
		QuantityReserved: decimal.RequireFromString(reserved),
		WeightedAvgCost:  decimal.RequireFromString(avg),
	}
}

func (s *fakeLedgerStore) GetBalanceForUpdate(ctx context.Context, code string) (inventory.MaterialBalance, error) {
	if bal, ok := s.balances[code]; ok {
		return bal, nil
	}
	return inventory.MaterialBalance{}, inventory.ErrBalanceNotFound
}

func (s *fakeLedgerStore) UpsertBalance(ctx context.Context, balance inventory.MaterialBalance) error {
	if existing, ok := s.balances[balance.MaterialCode]; ok {
		balance.QuantityReserved = existing.QuantityReserved
	}
	s.balances[balance.MaterialCode] = balance
	return nil
}

func (s *fakeLedgerStore) AdjustReserved(ctx context.Context, code string, delta decimal.Decimal) error {
	bal, ok := s.balances[code]
	if !ok {
		return inventory.ErrBalanceNotFound
	}
	bal.QuantityReserved = bal.QuantityReserved.Add(delta)
	s.balances[code] = bal
	return nil
}

func (s *fakeLedgerStore) InsertMovement(ctx context.Context, m inventory.Movement) (int64, error) {
	s.nextID++
	m.ID = s.nextID
	s.movements = append(s.movements, m)
	return m.ID, nil
}

func (s *fakeLedgerStore) ListMovementsByOrigin(ctx context.Context, kind inventory.OriginKind, documentID int64) ([]inventory.Movement, error) {
	var out []inventory.Movement
	for _, m := range s.movements {
		if m.OriginKind == kind && m.OriginDocumentID == documentID {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeReservationStore struct {
	rows   map[int64]Reservation
	nextID int64
}

func newFakeReservationStore() *fakeReservationStore {
	return &fakeReservationStore{rows: make(map[int64]Reservation)}
}

func (s *fakeReservationStore) Insert(ctx context.Context, r Reservation) (int64, error) {
	s.nextID++
	r.ID = s.nextID
	s.rows[r.ID] = r
	return r.ID, nil
}

func (s *fakeReservationStore) ListActiveByOrder(ctx context.Context, orderID int64) ([]Reservation, error) {
	var out []Reservation
	for id := int64(1); id <= s.nextID; id++ {
		if r, ok := s.rows[id]; ok && r.OrderID == orderID && r.Status == StatusActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeReservationStore) ListActiveExpiredBefore(ctx context.Context, cutoff time.Time) ([]Reservation, error) {
	var out []Reservation
	for id := int64(1); id <= s.nextID; id++ {
		if r, ok := s.rows[id]; ok && r.Status == StatusActive && r.ExpiresAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeReservationStore) MarkStatus(ctx context.Context, id int64, status Status) error {
	r, ok := s.rows[id]
	if !ok || r.Status != StatusActive {
		return ErrNoActiveReservation
	}
	r.Status = status
	s.rows[id] = r
	return nil
}

// fakeRepo snapshots state before the callback and restores it on error,
// mimicking transaction rollback.
type fakeRepo struct {
	store  *fakeReservationStore
	ledger *fakeLedgerStore
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	savedRows := make(map[int64]Reservation, len(f.store.rows))
	for k, v := range f.store.rows {
		savedRows[k] = v
	}
	savedBalances := make(map[string]inventory.MaterialBalance, len(f.ledger.balances))
	for k, v := range f.ledger.balances {
		savedBalances[k] = v
	}
	savedMovements := append([]inventory.Movement(nil), f.ledger.movements...)
	savedNextID := f.store.nextID
	savedLedgerID := f.ledger.nextID

	err := fn(ctx, Tx{Store: f.store, Ledger: f.ledger})
	if err != nil {
		f.store.rows = savedRows
		f.store.nextID = savedNextID
		f.ledger.balances = savedBalances
		f.ledger.movements = savedMovements
		f.ledger.nextID = savedLedgerID
	}
	return err
}

func (f *fakeRepo) ListByOrder(ctx context.Context, orderID int64) ([]Reservation, error) {
	var out []Reservation
	for id := int64(1); id <= f.store.nextID; id++ {
		if r, ok := f.store.rows[id]; ok && r.OrderID == orderID {
			out = append(out, r)
		}
	}
	return out, nil
}

func newTestService() (*Service, *fakeRepo) {
	repo := &fakeRepo{store: newFakeReservationStore(), ledger: newFakeLedgerStore()}
	svc := NewService(repo, nil, nil)
	return svc, repo
}

func TestCreateReserveAndConsume(t *testing.T) {
	svc, repo := newTestService()
	repo.ledger.seed("M1", "50", "0", "4.00")
	ctx := context.Background()

	result, err := svc.Create(ctx, CreateInput{
		OrderID: 11,
		Items:   []CreateItem{{MaterialCode: "M1", Quantity: decimal.RequireFromString("20")}},
		TTLDays: 7,
		ActorID: 3,
	})
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	require.Empty(t, result.Failed)

	bal := repo.ledger.balances["M1"]
	require.True(t, bal.QuantityPhysical.Equal(decimal.RequireFromString("50")))
	require.True(t, bal.QuantityReserved.Equal(decimal.RequireFromString("20")))

	movements, err := svc.Consume(ctx, 11, 3)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.True(t, movements[0].QuantityBefore.Equal(decimal.RequireFromString("50")))
	require.True(t, movements[0].QuantityAfter.Equal(decimal.RequireFromString("30")))

	bal = repo.ledger.balances["M1"]
	require.True(t, bal.QuantityPhysical.Equal(decimal.RequireFromString("30")))
	require.True(t, bal.QuantityReserved.IsZero())
	require.Equal(t, StatusConsumed, repo.store.rows[1].Status)
}

func TestCreatePartialSuccess(t *testing.T) {
	svc, repo := newTestService()
	repo.ledger.seed("M1", "50", "0", "1.00")
	repo.ledger.seed("M2", "5", "0", "1.00")

	result, err := svc.Create(context.Background(), CreateInput{
		OrderID: 12,
		Items: []CreateItem{
			{MaterialCode: "M1", Quantity: decimal.RequireFromString("10")},
			{MaterialCode: "M2", Quantity: decimal.RequireFromString("6")},
			{MaterialCode: "M3", Quantity: decimal.RequireFromString("1")},
		},
		ActorID: 3,
	})
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	require.Len(t, result.Failed, 2)
	require.Equal(t, "M2", result.Failed[0].MaterialCode)
	require.Equal(t, "M3", result.Failed[1].MaterialCode)
	require.True(t, repo.ledger.balances["M1"].QuantityReserved.Equal(decimal.RequireFromString("10")))
	require.True(t, repo.ledger.balances["M2"].QuantityReserved.IsZero())
}

func TestCreateAllItemsFail(t *testing.T) {
	svc, repo := newTestService()
	repo.ledger.seed("M1", "1", "0", "1.00")

	result, err := svc.Create(context.Background(), CreateInput{
		OrderID: 13,
		Items:   []CreateItem{{MaterialCode: "M1", Quantity: decimal.RequireFromString("2")}},
		ActorID: 3,
	})
	require.ErrorIs(t, err, ErrNoItemsReserved)
	require.Len(t, result.Failed, 1)
	require.Empty(t, repo.store.rows)
	require.True(t, repo.ledger.balances["M1"].QuantityReserved.IsZero())
}

func TestConsumeNoActiveReservation(t *testing.T) {
	svc, repo := newTestService()
	_, err := svc.Consume(context.Background(), 99, 3)
	require.ErrorIs(t, err, ErrNoActiveReservation)
	require.Empty(t, repo.ledger.movements)
}

func TestConsumeIsAllOrNothing(t *testing.T) {
	svc, repo := newTestService()
	repo.ledger.seed("M1", "10", "0", "1.00")
	repo.ledger.seed("M2", "10", "0", "1.00")
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{
		OrderID: 14,
		Items: []CreateItem{
			{MaterialCode: "M1", Quantity: decimal.RequireFromString("5")},
			{MaterialCode: "M2", Quantity: decimal.RequireFromString("5")},
		},
		ActorID: 3,
	})
	require.NoError(t, err)

	// Shrink M2 out from under the reservation so its exit must fail.
	repo.ledger.seed("M2", "4", "5", "1.00")

	_, err = svc.Consume(ctx, 14, 3)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	// Rollback left both reservations active and both counters intact.
	require.Equal(t, StatusActive, repo.store.rows[1].Status)
	require.Equal(t, StatusActive, repo.store.rows[2].Status)
	require.True(t, repo.ledger.balances["M1"].QuantityPhysical.Equal(decimal.RequireFromString("10")))
	require.True(t, repo.ledger.balances["M1"].QuantityReserved.Equal(decimal.RequireFromString("5")))
}

func TestCancelReleasesReserved(t *testing.T) {
	svc, repo := newTestService()
	repo.ledger.seed("M1", "50", "0", "1.00")
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{
		OrderID: 15,
		Items:   []CreateItem{{MaterialCode: "M1", Quantity: decimal.RequireFromString("20")}},
		ActorID: 3,
	})
	require.NoError(t, err)

	count, err := svc.Cancel(ctx, 15, 3)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	require.True(t, repo.ledger.balances["M1"].QuantityReserved.IsZero())
	require.Equal(t, StatusCancelled, repo.store.rows[1].Status)

	// Cancelling again finds nothing and is not an error.
	count, err = svc.Cancel(ctx, 15, 3)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestExpireDue(t *testing.T) {
	svc, repo := newTestService()
	repo.ledger.seed("M1", "50", "0", "1.00")
	ctx := context.Background()

	svc.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	_, err := svc.Create(ctx, CreateInput{
		OrderID: 16,
		Items:   []CreateItem{{MaterialCode: "M1", Quantity: decimal.RequireFromString("10")}},
		TTLDays: 2,
		ActorID: 3,
	})
	require.NoError(t, err)

	count, err := svc.ExpireDue(ctx, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Zero(t, count)

	count, err = svc.ExpireDue(ctx, time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	require.True(t, repo.ledger.balances["M1"].QuantityReserved.IsZero())
	require.Equal(t, StatusExpired, repo.store.rows[1].Status)
}
