package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ApplyFunc persists one fill. It runs under the book lock, before the book
// state advances: when it returns an error the fill is discarded and the book
// stays consistent with whatever the callback managed to commit.
type ApplyFunc func(ctx context.Context, fill Fill) error

// Execute matches an incoming order against the opposite side of the book.
// Candidates are consumed best price first, oldest first within a level.
// Each fill is handed to apply before it takes effect; the first apply error
// aborts the walk and the remainder of the incoming order rests on the book.
// When the order is not fully filled it is added to the book before return.
func (b *Book) Execute(ctx context.Context, taker *Order, apply ApplyFunc) ([]Fill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if taker == nil {
		return nil, fmt.Errorf("order required")
	}
	if !taker.Side.Valid() {
		return nil, fmt.Errorf("invalid side %q", taker.Side)
	}
	if !taker.Quantity.IsPositive() {
		return nil, fmt.Errorf("quantity must be positive")
	}
	if !taker.Price.IsPositive() {
		return nil, fmt.Errorf("price must be positive")
	}

	opposite := b.asks
	if taker.Side == SideSell {
		opposite = b.bids
	}

	var fills []Fill
	for taker.Remaining.IsPositive() {
		level := opposite.best()
		if level == nil || !crosses(taker, level.price) {
			break
		}

		makerElem := level.orders.Front()
		if makerElem == nil {
			break
		}
		maker := makerElem.Value.(*Order)
		if !maker.Remaining.IsPositive() {
			b.removeLocked(maker.ID)
			continue
		}

		qty := decimal.Min(taker.Remaining, maker.Remaining)
		fill := Fill{
			Instrument:     b.instrument,
			TakerOrderID:   taker.ID,
			TakerSide:      taker.Side,
			MakerOrderID:   maker.ID,
			MakerSide:      maker.Side,
			MakerQuantity:  maker.Quantity,
			Price:          executionPrice(taker, maker),
			Quantity:       qty,
			TakerRemaining: taker.Remaining.Sub(qty),
			MakerRemaining: maker.Remaining.Sub(qty),
			ExecutedAt:     time.Now().UTC(),
		}

		if apply != nil {
			if err := apply(ctx, fill); err != nil {
				if taker.Remaining.IsPositive() {
					_ = b.addLocked(taker)
				}
				return fills, err
			}
		}

		taker.Remaining = fill.TakerRemaining
		maker.Remaining = fill.MakerRemaining
		if !maker.Remaining.IsPositive() {
			b.removeLocked(maker.ID)
		}
		fills = append(fills, fill)
	}

	if taker.Remaining.IsPositive() {
		if err := b.addLocked(taker); err != nil {
			return fills, err
		}
	}

	return fills, nil
}

// crosses reports whether the taker's limit is compatible with a resting
// price: a buy crosses any ask at or below its limit, a sell any bid at or
// above it.
func crosses(taker *Order, restingPrice decimal.Decimal) bool {
	if taker.Side == SideBuy {
		return restingPrice.Cmp(taker.Price) <= 0
	}
	return restingPrice.Cmp(taker.Price) >= 0
}

// executionPrice is the price of whichever order was created earlier: the
// incumbent's priority sets the trade price. In practice the maker always
// rested first, the comparison guards against reloaded books with skewed
// timestamps.
func executionPrice(taker, maker *Order) decimal.Decimal {
	if maker.CreatedAt.After(taker.CreatedAt) {
		return taker.Price
	}
	return maker.Price
}
