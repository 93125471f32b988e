package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TxStore exposes the transactional operations the ledger needs. A TxStore is
// always bound to one open database transaction; the settlement coordinator
// and the reservation manager bind their own instances to the same
// transaction so every cross-module workflow commits as a unit.
type TxStore interface {
	// GetBalanceForUpdate loads the balance row under an exclusive row lock.
	// Returns ErrBalanceNotFound when no row exists.
	GetBalanceForUpdate(ctx context.Context, materialCode string) (MaterialBalance, error)
	UpsertBalance(ctx context.Context, balance MaterialBalance) error
	// AdjustReserved shifts quantity_reserved by delta for a locked row.
	AdjustReserved(ctx context.Context, materialCode string, delta decimal.Decimal) error
	InsertMovement(ctx context.Context, movement Movement) (int64, error)
	ListMovementsByOrigin(ctx context.Context, kind OriginKind, documentID int64) ([]Movement, error)
}

// Ledger applies movements to material balances. All methods must run inside
// the transaction the TxStore is bound to.
type Ledger struct {
	store TxStore
}

// NewLedger binds ledger logic to a transactional store.
func NewLedger(store TxStore) *Ledger {
	return &Ledger{store: store}
}

// Apply validates and posts one movement: it locks the balance row, computes
// the after-quantity and (for entries) the new weighted-average cost, then
// writes the balance update and the movement row as one unit. The lock stays
// held until the enclosing transaction finishes, so two concurrent entries
// can never clobber each other's recomputed average.
func (l *Ledger) Apply(ctx context.Context, in MovementInput) (Movement, error) {
	if in.MaterialCode == "" {
		return Movement{}, fmt.Errorf("inventory: material code required")
	}
	if in.Direction != DirectionEntry && in.Direction != DirectionExit {
		return Movement{}, fmt.Errorf("inventory: invalid direction %q", in.Direction)
	}
	if !in.Quantity.IsPositive() {
		return Movement{}, ErrInvalidQuantity
	}
	if in.Direction == DirectionEntry && in.UnitCost.IsNegative() {
		return Movement{}, ErrInvalidUnitCost
	}

	balance, err := l.store.GetBalanceForUpdate(ctx, in.MaterialCode)
	if err != nil {
		if !errors.Is(err, ErrBalanceNotFound) {
			return Movement{}, err
		}
		// Entries may create the balance implicitly (first purchase receipt,
		// finished production, cancellation restore). Exits never do.
		if in.Direction == DirectionExit {
			return Movement{}, fmt.Errorf("%w: %s", ErrUnknownMaterial, in.MaterialCode)
		}
		balance = MaterialBalance{MaterialCode: in.MaterialCode}
	}

	now := time.Now().UTC()
	before := balance.QuantityPhysical

	switch in.Direction {
	case DirectionEntry:
		after := before.Add(in.Quantity)
		total := before.Mul(balance.WeightedAvgCost).Add(in.Quantity.Mul(in.UnitCost))
		balance.WeightedAvgCost = total.Div(after)
		balance.QuantityPhysical = after
		balance.LastEntryAt = &now
	case DirectionExit:
		after := before.Sub(in.Quantity)
		if after.IsNegative() {
			return Movement{}, fmt.Errorf("%w: %s has %s, requested %s",
				ErrInsufficientStock, in.MaterialCode, before, in.Quantity)
		}
		// No exit may leave physical below the outstanding reserved quantity.
		if after.LessThan(balance.QuantityReserved) {
			return Movement{}, fmt.Errorf("%w: %s has %s available, requested %s",
				ErrInsufficientStock, in.MaterialCode, balance.Available(), in.Quantity)
		}
		// Exits carry the current average as their valuation.
		in.UnitCost = balance.WeightedAvgCost
		if after.IsZero() {
			balance.WeightedAvgCost = decimal.Zero
		}
		balance.QuantityPhysical = after
		balance.LastExitAt = &now
	}
	balance.UpdatedAt = now

	if err := l.store.UpsertBalance(ctx, balance); err != nil {
		return Movement{}, err
	}

	movement := Movement{
		MaterialCode:         in.MaterialCode,
		Direction:            in.Direction,
		Quantity:             in.Quantity,
		QuantityBefore:       before,
		QuantityAfter:        balance.QuantityPhysical,
		OriginKind:           in.Origin.Kind,
		OriginDocumentID:     in.Origin.DocumentID,
		OriginDocumentNumber: in.Origin.DocumentNumber,
		UnitCost:             in.UnitCost,
		ActorID:              in.ActorID,
		OccurredAt:           now,
	}
	id, err := l.store.InsertMovement(ctx, movement)
	if err != nil {
		return Movement{}, err
	}
	movement.ID = id
	return movement, nil
}

// Reserve locks the balance and moves quantity from available into reserved.
func (l *Ledger) Reserve(ctx context.Context, materialCode string, quantity decimal.Decimal) (MaterialBalance, error) {
	if !quantity.IsPositive() {
		return MaterialBalance{}, ErrInvalidQuantity
	}
	balance, err := l.store.GetBalanceForUpdate(ctx, materialCode)
	if err != nil {
		if errors.Is(err, ErrBalanceNotFound) {
			return MaterialBalance{}, fmt.Errorf("%w: %s", ErrUnknownMaterial, materialCode)
		}
		return MaterialBalance{}, err
	}
	if quantity.GreaterThan(balance.Available()) {
		return balance, fmt.Errorf("%w: %s has %s available, requested %s",
			ErrInsufficientStock, materialCode, balance.Available(), quantity)
	}
	if err := l.store.AdjustReserved(ctx, materialCode, quantity); err != nil {
		return MaterialBalance{}, err
	}
	balance.QuantityReserved = balance.QuantityReserved.Add(quantity)
	return balance, nil
}

// Release locks the balance and returns quantity from reserved to available.
// Used by reservation consume, cancel and expiry; the invariant is identical
// in all three paths.
func (l *Ledger) Release(ctx context.Context, materialCode string, quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	balance, err := l.store.GetBalanceForUpdate(ctx, materialCode)
	if err != nil {
		if errors.Is(err, ErrBalanceNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownMaterial, materialCode)
		}
		return err
	}
	if quantity.GreaterThan(balance.QuantityReserved) {
		return fmt.Errorf("inventory: release %s exceeds reserved %s for %s",
			quantity, balance.QuantityReserved, materialCode)
	}
	return l.store.AdjustReserved(ctx, materialCode, quantity.Neg())
}

// MovementsByOrigin lists the movements a document produced, oldest first.
func (l *Ledger) MovementsByOrigin(ctx context.Context, kind OriginKind, documentID int64) ([]Movement, error) {
	return l.store.ListMovementsByOrigin(ctx, kind, documentID)
}

// Replay folds a material's movement trail from its first entry and returns
// the resulting physical quantity. For an untampered log this reproduces the
// stored balance exactly.
func Replay(movements []Movement) decimal.Decimal {
	qty := decimal.Zero
	for _, m := range movements {
		switch m.Direction {
		case DirectionEntry:
			qty = qty.Add(m.Quantity)
		case DirectionExit:
			qty = qty.Sub(m.Quantity)
		}
	}
	return qty
}
