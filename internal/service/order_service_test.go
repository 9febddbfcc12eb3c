package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/felipeneri/base-trade/internal/engine"
	"github.com/felipeneri/base-trade/internal/storage"
)

type memStore struct {
	orders   map[uuid.UUID]*storage.Order
	history  map[uuid.UUID][]storage.OrderStatusHistory
	trades    []storage.Trade
	applyErr  error
	cancelErr error
}

func newMemStore() *memStore {
	return &memStore{
		orders:  make(map[uuid.UUID]*storage.Order),
		history: make(map[uuid.UUID][]storage.OrderStatusHistory),
	}
}

func (m *memStore) CreateOrder(_ context.Context, order storage.Order) (*storage.Order, error) {
	order.ID = uuid.New()
	order.UpdatedAt = order.CreatedAt
	m.orders[order.ID] = &order
	copied := order
	return &copied, nil
}

func (m *memStore) GetOrder(_ context.Context, orderID uuid.UUID) (*storage.Order, error) {
	order, ok := m.orders[orderID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *order
	return &copied, nil
}

func (m *memStore) ListOrders(_ context.Context, _ storage.OrderFilter) ([]storage.Order, string, error) {
	out := make([]storage.Order, 0, len(m.orders))
	for _, order := range m.orders {
		out = append(out, *order)
	}
	return out, "", nil
}

func (m *memStore) ListOpenOrders(_ context.Context, instrument string) ([]storage.Order, error) {
	var out []storage.Order
	for _, order := range m.orders {
		if instrument != "" && order.Instrument != instrument {
			continue
		}
		if order.Status == storage.OrderStatusOpen || order.Status == storage.OrderStatusPartial {
			out = append(out, *order)
		}
	}
	return out, nil
}

func (m *memStore) CancelOrder(_ context.Context, orderID uuid.UUID, now time.Time) (*storage.Order, error) {
	if m.cancelErr != nil {
		return nil, m.cancelErr
	}
	order, ok := m.orders[orderID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if order.Status != storage.OrderStatusOpen && order.Status != storage.OrderStatusPartial {
		return nil, fmt.Errorf("order is %s: %w", order.Status, storage.ErrInvalidStatus)
	}
	order.Status = storage.OrderStatusCancelled
	order.UpdatedAt = now
	copied := *order
	return &copied, nil
}

func (m *memStore) ApplyTrade(_ context.Context, trade storage.Trade, updates []storage.ExecutionUpdate, executedAt time.Time) (*storage.Trade, error) {
	if m.applyErr != nil {
		return nil, m.applyErr
	}
	trade.ID = uuid.New()
	trade.ExecutedAt = executedAt
	for _, update := range updates {
		order, ok := m.orders[update.OrderID]
		if !ok {
			return nil, storage.ErrNotFound
		}
		order.RemainingQuantity = update.RemainingQuantity
		order.Status = update.Status
		order.UpdatedAt = executedAt
		if update.HistoryEntry {
			m.history[update.OrderID] = append(m.history[update.OrderID], storage.OrderStatusHistory{
				ID:        uuid.New(),
				OrderID:   update.OrderID,
				Status:    update.Status,
				Timestamp: executedAt,
			})
		}
	}
	m.trades = append(m.trades, trade)
	copied := trade
	return &copied, nil
}

func (m *memStore) InsertHistory(_ context.Context, orderID uuid.UUID, status string, occurredAt time.Time) (*storage.OrderStatusHistory, error) {
	entry := storage.OrderStatusHistory{
		ID:        uuid.New(),
		OrderID:   orderID,
		Status:    status,
		Timestamp: occurredAt,
	}
	m.history[orderID] = append(m.history[orderID], entry)
	return &entry, nil
}

func (m *memStore) ListHistory(_ context.Context, orderID uuid.UUID) ([]storage.OrderStatusHistory, error) {
	return m.history[orderID], nil
}

func (m *memStore) ListTradesForOrder(_ context.Context, orderID uuid.UUID) ([]storage.Trade, error) {
	var out []storage.Trade
	for _, trade := range m.trades {
		if trade.BuyingOrderID == orderID || trade.SellingOrderID == orderID {
			out = append(out, trade)
		}
	}
	return out, nil
}

func (m *memStore) ListTrades(_ context.Context, _ int) ([]storage.Trade, error) {
	return m.trades, nil
}

type captureFeed struct {
	trades []storage.Trade
}

func (f *captureFeed) BroadcastTrade(trade storage.Trade) {
	f.trades = append(f.trades, trade)
}

type capturePublisher struct {
	topics []string
}

func (p *capturePublisher) PublishJSON(_ context.Context, topic, _ string, _ any) (int32, int64, error) {
	p.topics = append(p.topics, topic)
	return 0, 0, nil
}

func (p *capturePublisher) Close() error { return nil }

func newTestService(store Store, feed TradeFeed, publisher *capturePublisher) *OrderService {
	svc := NewOrderService(store, engine.New(nil, nil, nil), nil, feed, nil, nil, Topics{
		OrdersAccepted:  "orders.accepted",
		OrdersCancelled: "orders.cancelled",
		TradesExecuted:  "trades.executed",
	})
	if publisher != nil {
		svc.producer = publisher
	}
	return svc
}

func submit(t *testing.T, svc *OrderService, side string, price, qty int64) (*storage.Order, []storage.Trade) {
	t.Helper()
	order, trades, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		Instrument: "PETR4",
		Side:       side,
		Price:      decimal.NewFromInt(price),
		Quantity:   decimal.NewFromInt(qty),
	})
	if err != nil {
		t.Fatalf("create %s %d@%d: %v", side, qty, price, err)
	}
	return order, trades
}

func TestCreateOrderNoMatchStaysOpen(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil, nil)

	order, trades := submit(t, svc, "buy", 100, 10)

	if order.Status != storage.OrderStatusOpen {
		t.Fatalf("expected open, got %s", order.Status)
	}
	if !order.RemainingQuantity.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected remaining 10, got %s", order.RemainingQuantity)
	}
	if len(trades) != 0 {
		t.Fatalf("expected no trades, got %d", len(trades))
	}

	history := store.history[order.ID]
	if len(history) != 1 || history[0].Status != storage.OrderStatusOpen {
		t.Fatalf("expected single open history entry, got %+v", history)
	}
}

func TestCreateOrderFullMatch(t *testing.T) {
	store := newMemStore()
	feed := &captureFeed{}
	publisher := &capturePublisher{}
	svc := newTestService(store, feed, publisher)

	sell, _ := submit(t, svc, "sell", 100, 50)
	buy, trades := submit(t, svc, "buy", 100, 50)

	if buy.Status != storage.OrderStatusFilled {
		t.Fatalf("expected buy filled, got %s", buy.Status)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	trade := trades[0]
	if trade.BuyingOrderID != buy.ID || trade.SellingOrderID != sell.ID {
		t.Fatalf("trade references wrong orders")
	}
	if !trade.Quantity.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected trade quantity 50, got %s", trade.Quantity)
	}

	stored, err := svc.GetOrder(context.Background(), sell.ID)
	if err != nil {
		t.Fatalf("get sell: %v", err)
	}
	if stored.Status != storage.OrderStatusFilled || !stored.RemainingQuantity.IsZero() {
		t.Fatalf("expected sell filled with zero remaining, got %s %s", stored.Status, stored.RemainingQuantity)
	}

	// open then filled for both sides
	for _, id := range []uuid.UUID{buy.ID, sell.ID} {
		history := store.history[id]
		if len(history) != 2 || history[0].Status != storage.OrderStatusOpen || history[1].Status != storage.OrderStatusFilled {
			t.Fatalf("unexpected history for %s: %+v", id, history)
		}
	}

	if len(feed.trades) != 1 {
		t.Fatalf("expected 1 feed broadcast, got %d", len(feed.trades))
	}
	counts := map[string]int{}
	for _, topic := range publisher.topics {
		counts[topic]++
	}
	if counts["orders.accepted"] != 2 || counts["trades.executed"] != 1 {
		t.Fatalf("unexpected publishes: %+v", counts)
	}
}

func TestCreateOrderPartialMatch(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil, nil)

	sell, _ := submit(t, svc, "sell", 100, 60)
	buy, trades := submit(t, svc, "buy", 100, 100)

	if buy.Status != storage.OrderStatusPartial {
		t.Fatalf("expected buy partial, got %s", buy.Status)
	}
	if !buy.RemainingQuantity.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected remaining 40, got %s", buy.RemainingQuantity)
	}
	if len(trades) != 1 || !trades[0].Quantity.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected single trade of 60, got %+v", trades)
	}

	stored, _ := svc.GetOrder(context.Background(), sell.ID)
	if stored.Status != storage.OrderStatusFilled {
		t.Fatalf("expected sell filled, got %s", stored.Status)
	}

	history := store.history[buy.ID]
	if len(history) != 2 || history[1].Status != storage.OrderStatusPartial {
		t.Fatalf("expected open then partial history, got %+v", history)
	}
}

func TestCreateOrderMatchesAcrossLevels(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil, nil)

	first, _ := submit(t, svc, "sell", 100, 100)
	second, _ := submit(t, svc, "sell", 100, 100)

	buy, trades := submit(t, svc, "buy", 100, 150)

	if buy.Status != storage.OrderStatusFilled {
		t.Fatalf("expected buy filled, got %s", buy.Status)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].SellingOrderID != first.ID || trades[1].SellingOrderID != second.ID {
		t.Fatalf("expected oldest sell consumed first")
	}

	stored, _ := svc.GetOrder(context.Background(), second.ID)
	if stored.Status != storage.OrderStatusPartial || !stored.RemainingQuantity.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected second sell partial at 50, got %s %s", stored.Status, stored.RemainingQuantity)
	}
}

func TestTradePriceFollowsRestingOrder(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil, nil)

	submit(t, svc, "sell", 98, 10)
	_, trades := submit(t, svc, "buy", 100, 10)

	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if !trades[0].Price.Equal(decimal.NewFromInt(98)) {
		t.Fatalf("expected trade at resting price 98, got %s", trades[0].Price)
	}
}

func TestCancelOpenOrder(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil, nil)

	order, _ := submit(t, svc, "buy", 100, 10)

	cancelled, err := svc.CancelOrder(context.Background(), order.ID, "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != storage.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	history := store.history[order.ID]
	if len(history) != 2 || history[1].Status != storage.OrderStatusCancelled {
		t.Fatalf("expected open then cancelled history, got %+v", history)
	}

	// book no longer offers the cancelled order
	_, trades := submit(t, svc, "sell", 100, 10)
	if len(trades) != 0 {
		t.Fatalf("expected no match against cancelled order, got %d trades", len(trades))
	}
}

func TestCancelStoreFailureRestoresBook(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil, nil)
	svc.engine = engine.New(BookSource{Store: store}, nil, nil)

	order, _ := submit(t, svc, "buy", 100, 10)

	store.cancelErr = errors.New("connection reset by peer")
	if _, err := svc.CancelOrder(context.Background(), order.ID, ""); err == nil {
		t.Fatal("expected cancel to fail")
	}
	store.cancelErr = nil

	// the store still holds the order open, so a crossing order must fill it
	_, trades := submit(t, svc, "sell", 100, 10)
	if len(trades) != 1 {
		t.Fatalf("expected the surviving order to match, got %d trades", len(trades))
	}
}

func TestCancelFilledOrderFails(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil, nil)

	submit(t, svc, "sell", 100, 10)
	buy, _ := submit(t, svc, "buy", 100, 10)

	if _, err := svc.CancelOrder(context.Background(), buy.ID, ""); !errors.Is(err, storage.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestCancelMissingOrder(t *testing.T) {
	svc := newTestService(newMemStore(), nil, nil)

	if _, err := svc.CancelOrder(context.Background(), uuid.New(), ""); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelPartialOrder(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil, nil)

	submit(t, svc, "sell", 100, 40)
	buy, _ := submit(t, svc, "buy", 100, 100)

	cancelled, err := svc.CancelOrder(context.Background(), buy.ID, "")
	if err != nil {
		t.Fatalf("cancel partial: %v", err)
	}
	if cancelled.Status != storage.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	// remaining quantity stays as it was at cancellation
	if !cancelled.RemainingQuantity.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected remaining 60, got %s", cancelled.RemainingQuantity)
	}

	history := store.history[buy.ID]
	want := []string{storage.OrderStatusOpen, storage.OrderStatusPartial, storage.OrderStatusCancelled}
	if len(history) != len(want) {
		t.Fatalf("expected %d history entries, got %+v", len(want), history)
	}
	for i, status := range want {
		if history[i].Status != status {
			t.Fatalf("expected history[%d]=%s, got %s", i, status, history[i].Status)
		}
	}
}

func TestOrderHistoryUnknownOrder(t *testing.T) {
	svc := newTestService(newMemStore(), nil, nil)

	if _, err := svc.OrderHistory(context.Background(), uuid.New()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.OrderTrades(context.Background(), uuid.New()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOrderTradesForBothSides(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil, nil)

	sell, _ := submit(t, svc, "sell", 100, 10)
	buy, _ := submit(t, svc, "buy", 100, 10)

	for _, id := range []uuid.UUID{sell.ID, buy.ID} {
		trades, err := svc.OrderTrades(context.Background(), id)
		if err != nil {
			t.Fatalf("order trades: %v", err)
		}
		if len(trades) != 1 {
			t.Fatalf("expected 1 trade for %s, got %d", id, len(trades))
		}
	}
}

func TestCreateOrderApplyFailure(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil, nil)

	submit(t, svc, "sell", 100, 10)

	store.applyErr = errors.New("db down")
	_, _, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		Instrument: "PETR4",
		Side:       "buy",
		Price:      decimal.NewFromInt(100),
		Quantity:   decimal.NewFromInt(10),
	})
	if err == nil {
		t.Fatalf("expected error when trade persistence fails")
	}
	if len(store.trades) != 0 {
		t.Fatalf("expected no trades recorded, got %d", len(store.trades))
	}
}
