package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	OrderStatusOpen      = "open"
	OrderStatusPartial   = "partial"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
)

// orderTransitions is the full status state machine. Filled and cancelled are
// terminal.
var orderTransitions = map[string]map[string]bool{
	OrderStatusOpen: {
		OrderStatusPartial:   true,
		OrderStatusFilled:    true,
		OrderStatusCancelled: true,
	},
	OrderStatusPartial: {
		OrderStatusFilled:    true,
		OrderStatusCancelled: true,
	},
	OrderStatusFilled:    {},
	OrderStatusCancelled: {},
}

func CanTransition(from, to string) bool {
	return orderTransitions[from][to]
}

func IsTerminal(status string) bool {
	return len(orderTransitions[status]) == 0 && (status == OrderStatusFilled || status == OrderStatusCancelled)
}

// StatusForRemaining derives the non-cancelled status implied by how much of
// the order is left: full remaining is open, zero is filled, anything in
// between is partial.
func StatusForRemaining(quantity, remaining decimal.Decimal) string {
	switch {
	case remaining.IsZero():
		return OrderStatusFilled
	case remaining.Equal(quantity):
		return OrderStatusOpen
	default:
		return OrderStatusPartial
	}
}

type Order struct {
	ID                uuid.UUID
	Instrument        string
	Side              string
	Price             decimal.Decimal
	Quantity          decimal.Decimal
	RemainingQuantity decimal.Decimal
	Status            string
	UserID            uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Trade struct {
	ID             uuid.UUID
	BuyingOrderID  uuid.UUID
	SellingOrderID uuid.UUID
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	ExecutedAt     time.Time
}

type OrderStatusHistory struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	Status    string
	Timestamp time.Time
}

// OrderFilter selects and orders a listing page. SortBy names a whitelisted
// column (see sortColumns); an empty SortBy keeps the default created_at
// ordering, which is the only ordering cursor pages can resume from.
type OrderFilter struct {
	IDs        []uuid.UUID
	Instrument string
	Side       string
	Status     string
	UserID     uuid.UUID
	From       *time.Time
	To         *time.Time
	SortBy     string
	SortDesc   bool
	Cursor     string
	Limit      int
}

// ExecutionUpdate is one order's share of a trade: its post-trade remaining
// quantity and status. HistoryEntry is true when the status changed and an
// audit row must be appended in the same transaction.
type ExecutionUpdate struct {
	OrderID           uuid.UUID
	RemainingQuantity decimal.Decimal
	Status            string
	HistoryEntry      bool
}
