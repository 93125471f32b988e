package inventory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	balances  map[string]MaterialBalance
	movements []Movement
	nextID    int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{balances: make(map[string]MaterialBalance)}
}

func (s *memoryStore) GetBalanceForUpdate(ctx context.Context, code string) (MaterialBalance, error) {
	if bal, ok := s.balances[code]; ok {
		return bal, nil
	}
	return MaterialBalance{}, ErrBalanceNotFound
}

func (s *memoryStore) UpsertBalance(ctx context.Context, balance MaterialBalance) error {
	if existing, ok := s.balances[balance.MaterialCode]; ok {
		balance.QuantityReserved = existing.QuantityReserved
	}
	s.balances[balance.MaterialCode] = balance
	return nil
}

func (s *memoryStore) AdjustReserved(ctx context.Context, code string, delta decimal.Decimal) error {
	bal, ok := s.balances[code]
	if !ok {
		return ErrBalanceNotFound
	}
	bal.QuantityReserved = bal.QuantityReserved.Add(delta)
	s.balances[code] = bal
	return nil
}

func (s *memoryStore) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	s.nextID++
	m.ID = s.nextID
	s.movements = append(s.movements, m)
	return m.ID, nil
}

func (s *memoryStore) ListMovementsByOrigin(ctx context.Context, kind OriginKind, documentID int64) ([]Movement, error) {
	var out []Movement
	for _, m := range s.movements {
		if m.OriginKind == kind && m.OriginDocumentID == documentID {
			out = append(out, m)
		}
	}
	return out, nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func entry(code, qty, cost string, origin OriginKind) MovementInput {
	return MovementInput{
		MaterialCode: code,
		Direction:    DirectionEntry,
		Quantity:     dec(qty),
		UnitCost:     dec(cost),
		Origin:       Origin{Kind: origin, DocumentID: 1},
		ActorID:      7,
	}
}

func exit(code, qty string, origin OriginKind) MovementInput {
	return MovementInput{
		MaterialCode: code,
		Direction:    DirectionExit,
		Quantity:     dec(qty),
		Origin:       Origin{Kind: origin, DocumentID: 1},
		ActorID:      7,
	}
}

func TestWeightedAverageCost(t *testing.T) {
	store := newMemoryStore()
	ledger := NewLedger(store)
	ctx := context.Background()

	m, err := ledger.Apply(ctx, entry("MAT-1", "100", "10.00", OriginPurchase))
	require.NoError(t, err)
	require.True(t, m.QuantityBefore.IsZero())
	require.True(t, m.QuantityAfter.Equal(dec("100")))

	_, err = ledger.Apply(ctx, entry("MAT-1", "50", "13.00", OriginPurchase))
	require.NoError(t, err)

	bal := store.balances["MAT-1"]
	require.True(t, bal.QuantityPhysical.Equal(dec("150")), "got %s", bal.QuantityPhysical)
	require.True(t, bal.WeightedAvgCost.Equal(dec("11.00")), "got %s", bal.WeightedAvgCost)
}

func TestExitKeepsAverageAndValuation(t *testing.T) {
	store := newMemoryStore()
	ledger := NewLedger(store)
	ctx := context.Background()

	_, err := ledger.Apply(ctx, entry("MAT-1", "10", "5.00", OriginPurchase))
	require.NoError(t, err)

	m, err := ledger.Apply(ctx, exit("MAT-1", "4", OriginProduction))
	require.NoError(t, err)
	require.True(t, m.UnitCost.Equal(dec("5.00")))

	bal := store.balances["MAT-1"]
	require.True(t, bal.QuantityPhysical.Equal(dec("6")))
	require.True(t, bal.WeightedAvgCost.Equal(dec("5.00")))

	// Draining the balance resets the average.
	_, err = ledger.Apply(ctx, exit("MAT-1", "6", OriginProduction))
	require.NoError(t, err)
	require.True(t, store.balances["MAT-1"].WeightedAvgCost.IsZero())
}

func TestExitInsufficientPhysical(t *testing.T) {
	store := newMemoryStore()
	ledger := NewLedger(store)
	ctx := context.Background()

	_, err := ledger.Apply(ctx, entry("MAT-1", "5", "1.00", OriginPurchase))
	require.NoError(t, err)

	_, err = ledger.Apply(ctx, exit("MAT-1", "6", OriginProduction))
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Len(t, store.movements, 1)
}

func TestSaleExitRespectsReservations(t *testing.T) {
	store := newMemoryStore()
	ledger := NewLedger(store)
	ctx := context.Background()

	_, err := ledger.Apply(ctx, entry("MAT-1", "50", "2.00", OriginPurchase))
	require.NoError(t, err)
	_, err = ledger.Reserve(ctx, "MAT-1", dec("45"))
	require.NoError(t, err)

	// 50 physical but only 5 available: a sale exit of 10 must fail even
	// though quantity_after would stay positive.
	_, err = ledger.Apply(ctx, exit("MAT-1", "10", OriginSale))
	require.ErrorIs(t, err, ErrInsufficientStock)

	// Within the available quantity the exit goes through.
	_, err = ledger.Apply(ctx, exit("MAT-1", "5", OriginSale))
	require.NoError(t, err)
}

func TestExitNeverUndercutsReserved(t *testing.T) {
	store := newMemoryStore()
	ledger := NewLedger(store)
	ctx := context.Background()

	_, err := ledger.Apply(ctx, entry("MAT-1", "10", "1.00", OriginPurchase))
	require.NoError(t, err)
	_, err = ledger.Reserve(ctx, "MAT-1", dec("5"))
	require.NoError(t, err)

	// Non-sale exits are bound by the reserved quantity too: letting a
	// production exit of 8 through would leave physical=2 under reserved=5.
	for _, origin := range []OriginKind{OriginProduction, OriginAdjustment} {
		_, err = ledger.Apply(ctx, exit("MAT-1", "8", origin))
		require.ErrorIs(t, err, ErrInsufficientStock)
	}

	bal := store.balances["MAT-1"]
	require.True(t, bal.QuantityPhysical.Equal(dec("10")))
	require.True(t, bal.QuantityReserved.Equal(dec("5")))

	_, err = ledger.Apply(ctx, exit("MAT-1", "5", OriginProduction))
	require.NoError(t, err)
	bal = store.balances["MAT-1"]
	require.False(t, bal.QuantityReserved.GreaterThan(bal.QuantityPhysical))
}

func TestExitUnknownMaterial(t *testing.T) {
	ledger := NewLedger(newMemoryStore())
	_, err := ledger.Apply(context.Background(), exit("NOPE", "1", OriginSale))
	require.ErrorIs(t, err, ErrUnknownMaterial)
}

func TestEntryValidation(t *testing.T) {
	ledger := NewLedger(newMemoryStore())
	ctx := context.Background()

	_, err := ledger.Apply(ctx, MovementInput{MaterialCode: "M", Direction: DirectionEntry, Quantity: decimal.Zero, Origin: Origin{Kind: OriginPurchase}})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	in := entry("M", "1", "1.00", OriginPurchase)
	in.UnitCost = dec("-1")
	_, err = ledger.Apply(ctx, in)
	require.ErrorIs(t, err, ErrInvalidUnitCost)
}

func TestReserveAndRelease(t *testing.T) {
	store := newMemoryStore()
	ledger := NewLedger(store)
	ctx := context.Background()

	_, err := ledger.Apply(ctx, entry("MAT-1", "50", "1.00", OriginPurchase))
	require.NoError(t, err)

	bal, err := ledger.Reserve(ctx, "MAT-1", dec("20"))
	require.NoError(t, err)
	require.True(t, bal.QuantityReserved.Equal(dec("20")))

	_, err = ledger.Reserve(ctx, "MAT-1", dec("31"))
	require.ErrorIs(t, err, ErrInsufficientStock)

	require.Error(t, ledger.Release(ctx, "MAT-1", dec("21")))
	require.NoError(t, ledger.Release(ctx, "MAT-1", dec("20")))
	require.True(t, store.balances["MAT-1"].QuantityReserved.IsZero())
}

func TestReplayReproducesBalance(t *testing.T) {
	store := newMemoryStore()
	ledger := NewLedger(store)
	ctx := context.Background()

	_, err := ledger.Apply(ctx, entry("MAT-1", "100", "10.00", OriginPurchase))
	require.NoError(t, err)
	_, err = ledger.Apply(ctx, exit("MAT-1", "30", OriginSale))
	require.NoError(t, err)
	_, err = ledger.Apply(ctx, entry("MAT-1", "5", "12.00", OriginProduction))
	require.NoError(t, err)
	_, err = ledger.Apply(ctx, exit("MAT-1", "25", OriginInvoice))
	require.NoError(t, err)

	replayed := Replay(store.movements)
	require.True(t, replayed.Equal(store.balances["MAT-1"].QuantityPhysical),
		"replayed %s, stored %s", replayed, store.balances["MAT-1"].QuantityPhysical)
}
