package listings

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceState is the price bookkeeping of a stored listing.
type PriceState struct {
	Current   decimal.Decimal
	Previous  decimal.NullDecimal
	Reduced   bool
	ReducedAt *time.Time
}

// PriceChange is the bookkeeping that results from applying a new price.
type PriceChange struct {
	Price             decimal.Decimal
	Previous          decimal.NullDecimal
	Reduced           bool
	ReducedAt         *time.Time
	ReductionOccurred bool
	OldPrice          decimal.Decimal
}

// Savings returns how much cheaper the listing became. Zero when no reduction occurred.
func (c PriceChange) Savings() decimal.Decimal {
	if !c.ReductionOccurred {
		return decimal.Zero
	}
	return c.OldPrice.Sub(c.Price)
}

// DetectPriceChange compares newPrice with the stored state.
//
// A reduction fires only when newPrice is strictly below the current price. Then the
// current price becomes the previous price and the reduction timestamp moves to now.
// Any other update clears the reduced badge and keeps previous price and timestamp.
func DetectPriceChange(state PriceState, newPrice decimal.Decimal, now time.Time) PriceChange {
	if newPrice.LessThan(state.Current) {
		reducedAt := now.UTC()
		return PriceChange{
			Price:             newPrice,
			Previous:          decimal.NewNullDecimal(state.Current),
			Reduced:           true,
			ReducedAt:         &reducedAt,
			ReductionOccurred: true,
			OldPrice:          state.Current,
		}
	}

	return PriceChange{
		Price:     newPrice,
		Previous:  state.Previous,
		Reduced:   false,
		ReducedAt: state.ReducedAt,
		OldPrice:  state.Current,
	}
}

// PriceState captures the listing's current price bookkeeping.
func (p Property) PriceState() PriceState {
	return PriceState{
		Current:   p.Price,
		Previous:  p.PreviousPrice,
		Reduced:   p.PriceReduced,
		ReducedAt: p.PriceReducedAt,
	}
}

// ApplyPriceChange writes detector output onto the listing.
func (p *Property) ApplyPriceChange(change PriceChange) {
	p.Price = change.Price
	p.PreviousPrice = change.Previous
	p.PriceReduced = change.Reduced
	p.PriceReducedAt = change.ReducedAt
}
