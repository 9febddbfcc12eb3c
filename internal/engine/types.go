package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Order is the book-resident view of an order: just enough to match against.
// Remaining is mutated by the book only, under the book lock.
type Order struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Instrument string
	Side       Side
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Remaining  decimal.Decimal
	CreatedAt  time.Time
}

// Fill describes one execution between an incoming (taker) order and a
// resting (maker) order. Remaining values are post-fill.
type Fill struct {
	Instrument     string
	TakerOrderID   uuid.UUID
	TakerSide      Side
	MakerOrderID   uuid.UUID
	MakerSide      Side
	MakerQuantity  decimal.Decimal
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	TakerRemaining decimal.Decimal
	MakerRemaining decimal.Decimal
	ExecutedAt     time.Time
}

// BuyOrderID returns the fill's buy-side order ID.
func (f Fill) BuyOrderID() uuid.UUID {
	if f.TakerSide == SideBuy {
		return f.TakerOrderID
	}
	return f.MakerOrderID
}

// SellOrderID returns the fill's sell-side order ID.
func (f Fill) SellOrderID() uuid.UUID {
	if f.TakerSide == SideSell {
		return f.TakerOrderID
	}
	return f.MakerOrderID
}
