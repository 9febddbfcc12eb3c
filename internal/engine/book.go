package engine

import (
	"container/heap"
	"container/list"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Book holds the resting orders for one instrument: two price-ordered sides
// with FIFO queues per price level. All access is serialized by mu, which
// makes the book the single writer for every order resting in it.
type Book struct {
	instrument string
	mu         sync.Mutex
	bids       *bookSide
	asks       *bookSide
	orders     map[uuid.UUID]*orderRef
}

func NewBook(instrument string) *Book {
	return &Book{
		instrument: instrument,
		bids:       newBookSide(true),
		asks:       newBookSide(false),
		orders:     make(map[uuid.UUID]*orderRef),
	}
}

func (b *Book) Instrument() string {
	return b.instrument
}

func (b *Book) Depth(side Side) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	for _, ref := range b.orders {
		if ref.order.Side == side {
			count++
		}
	}
	return count
}

// BestBid returns the highest resting buy price.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if level := b.bids.best(); level != nil {
		return level.price, true
	}
	return decimal.Zero, false
}

// BestAsk returns the lowest resting sell price.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if level := b.asks.best(); level != nil {
		return level.price, true
	}
	return decimal.Zero, false
}

func (b *Book) Add(order *Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.addLocked(order)
}

func (b *Book) addLocked(order *Order) error {
	if order == nil {
		return fmt.Errorf("order required")
	}
	if order.ID == uuid.Nil {
		return fmt.Errorf("order id required")
	}
	if _, exists := b.orders[order.ID]; exists {
		return nil
	}
	if !order.Remaining.IsPositive() {
		return nil
	}

	switch order.Side {
	case SideBuy:
		b.orders[order.ID] = b.bids.add(order)
	case SideSell:
		b.orders[order.ID] = b.asks.add(order)
	default:
		return fmt.Errorf("invalid side %q", order.Side)
	}
	return nil
}

// Remove takes an order off the book. Returns false when the order is not
// resting (already filled, cancelled, or never added). Blocks while a match
// against this book is in flight, so a removed order can no longer fill.
func (b *Book) Remove(orderID uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.removeLocked(orderID)
}

func (b *Book) removeLocked(orderID uuid.UUID) bool {
	ref, ok := b.orders[orderID]
	if !ok {
		return false
	}
	ref.sideBook.remove(ref)
	delete(b.orders, orderID)
	return true
}

type orderRef struct {
	order    *Order
	element  *list.Element
	level    *priceLevel
	sideBook *bookSide
}

type priceLevel struct {
	price  decimal.Decimal
	key    string
	orders *list.List
	index  int
}

type bookSide struct {
	levels map[string]*priceLevel
	heap   priceHeap
}

func newBookSide(isBid bool) *bookSide {
	side := &bookSide{
		levels: make(map[string]*priceLevel),
		heap:   priceHeap{isMax: isBid},
	}
	heap.Init(&side.heap)
	return side
}

func (s *bookSide) add(order *Order) *orderRef {
	key := order.Price.String()
	level := s.levels[key]
	if level == nil {
		level = &priceLevel{price: order.Price, key: key, orders: list.New()}
		heap.Push(&s.heap, level)
		s.levels[key] = level
	}
	element := level.orders.PushBack(order)
	return &orderRef{order: order, element: element, level: level, sideBook: s}
}

func (s *bookSide) remove(ref *orderRef) {
	if ref == nil || ref.level == nil || ref.element == nil {
		return
	}
	ref.level.orders.Remove(ref.element)
	if ref.level.orders.Len() == 0 {
		heap.Remove(&s.heap, ref.level.index)
		delete(s.levels, ref.level.key)
	}
}

func (s *bookSide) best() *priceLevel {
	if s.heap.Len() == 0 {
		return nil
	}
	return s.heap.levels[0]
}

type priceHeap struct {
	levels []*priceLevel
	isMax  bool
}

func (h priceHeap) Len() int { return len(h.levels) }

func (h priceHeap) Less(i, j int) bool {
	cmp := h.levels[i].price.Cmp(h.levels[j].price)
	if h.isMax {
		return cmp > 0
	}
	return cmp < 0
}

func (h priceHeap) Swap(i, j int) {
	h.levels[i], h.levels[j] = h.levels[j], h.levels[i]
	h.levels[i].index = i
	h.levels[j].index = j
}

func (h *priceHeap) Push(x interface{}) {
	level := x.(*priceLevel)
	level.index = len(h.levels)
	h.levels = append(h.levels, level)
}

func (h *priceHeap) Pop() interface{} {
	old := h.levels
	n := len(old)
	item := old[n-1]
	item.index = -1
	h.levels = old[:n-1]
	return item
}
