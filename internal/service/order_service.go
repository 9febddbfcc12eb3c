package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felipeneri/base-trade/internal/engine"
	"github.com/felipeneri/base-trade/internal/storage"
	"github.com/felipeneri/base-trade/libs/kafka"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"log/slog"
)

// Store is the persistence surface the lifecycle controller depends on.
type Store interface {
	CreateOrder(ctx context.Context, order storage.Order) (*storage.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*storage.Order, error)
	ListOrders(ctx context.Context, filter storage.OrderFilter) ([]storage.Order, string, error)
	ListOpenOrders(ctx context.Context, instrument string) ([]storage.Order, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID, now time.Time) (*storage.Order, error)
	ApplyTrade(ctx context.Context, trade storage.Trade, updates []storage.ExecutionUpdate, executedAt time.Time) (*storage.Trade, error)
	InsertHistory(ctx context.Context, orderID uuid.UUID, status string, occurredAt time.Time) (*storage.OrderStatusHistory, error)
	ListHistory(ctx context.Context, orderID uuid.UUID) ([]storage.OrderStatusHistory, error)
	ListTradesForOrder(ctx context.Context, orderID uuid.UUID) ([]storage.Trade, error)
	ListTrades(ctx context.Context, limit int) ([]storage.Trade, error)
}

// MatchingEngine is the slice of the engine the controller uses.
type MatchingEngine interface {
	Execute(ctx context.Context, order *engine.Order, apply engine.ApplyFunc) ([]engine.Fill, error)
	Cancel(instrument string, orderID uuid.UUID) bool
	LoadSnapshot(ctx context.Context, instrument string) (int, error)
}

// TradeFeed pushes executed trades to live subscribers.
type TradeFeed interface {
	BroadcastTrade(trade storage.Trade)
}

type OrderService struct {
	store    Store
	engine   MatchingEngine
	producer kafka.Publisher
	feed     TradeFeed
	logger   *slog.Logger
	metrics  *Metrics
	topics   Topics
}

func NewOrderService(store Store, eng MatchingEngine, producer kafka.Publisher, feed TradeFeed, logger *slog.Logger, metrics *Metrics, topics Topics) *OrderService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderService{
		store:    store,
		engine:   eng,
		producer: producer,
		feed:     feed,
		logger:   logger,
		metrics:  metrics,
		topics:   topics,
	}
}

// CreateOrderInput is a validated draft; validation happens upstream.
type CreateOrderInput struct {
	Instrument    string
	Side          string
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	UserID        uuid.UUID
	CorrelationID string
}

// CreateOrder persists the order as open, records the opening history entry,
// then matches it synchronously. The returned order reflects the post-matching
// store state; the returned trades are the executions the order produced.
func (s *OrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*storage.Order, []storage.Trade, error) {
	start := time.Now()
	now := start.UTC()

	stored, err := s.store.CreateOrder(ctx, storage.Order{
		Instrument:        input.Instrument,
		Side:              input.Side,
		Price:             input.Price,
		Quantity:          input.Quantity,
		RemainingQuantity: input.Quantity,
		Status:            storage.OrderStatusOpen,
		UserID:            input.UserID,
		CreatedAt:         now,
	})
	if err != nil {
		s.metrics.CountSubmission("error")
		return nil, nil, fmt.Errorf("create order: %w", err)
	}

	if _, err := s.store.InsertHistory(ctx, stored.ID, storage.OrderStatusOpen, stored.CreatedAt); err != nil {
		s.metrics.CountSubmission("error")
		return nil, nil, fmt.Errorf("record open status: %w", err)
	}

	trades, err := s.match(ctx, input.CorrelationID, stored)
	if err != nil {
		s.metrics.CountSubmission("error")
		return nil, trades, err
	}

	final, err := s.store.GetOrder(ctx, stored.ID)
	if err != nil {
		s.metrics.CountSubmission("error")
		return nil, trades, fmt.Errorf("reload order after matching: %w", err)
	}

	s.publishOrderAccepted(ctx, input.CorrelationID, final)
	s.metrics.CountSubmission("accepted")
	s.metrics.ObserveSubmission("accepted", time.Since(start))
	return final, trades, nil
}

// match walks the book for the new order. Each fill is committed before the
// book advances; the first store failure aborts the loop and already
// committed trades stand.
func (s *OrderService) match(ctx context.Context, correlationID string, order *storage.Order) ([]storage.Trade, error) {
	taker := toEngineOrder(*order)
	takerStatus := order.Status
	trades := make([]storage.Trade, 0)

	apply := func(ctx context.Context, fill engine.Fill) error {
		newTakerStatus := storage.StatusForRemaining(taker.Quantity, fill.TakerRemaining)
		makerBefore := storage.StatusForRemaining(fill.MakerQuantity, fill.MakerRemaining.Add(fill.Quantity))
		makerStatus := storage.StatusForRemaining(fill.MakerQuantity, fill.MakerRemaining)

		stored, err := s.store.ApplyTrade(ctx, storage.Trade{
			BuyingOrderID:  fill.BuyOrderID(),
			SellingOrderID: fill.SellOrderID(),
			Quantity:       fill.Quantity,
			Price:          fill.Price,
		}, []storage.ExecutionUpdate{
			{
				OrderID:           fill.TakerOrderID,
				RemainingQuantity: fill.TakerRemaining,
				Status:            newTakerStatus,
				HistoryEntry:      newTakerStatus != takerStatus,
			},
			{
				OrderID:           fill.MakerOrderID,
				RemainingQuantity: fill.MakerRemaining,
				Status:            makerStatus,
				HistoryEntry:      makerStatus != makerBefore,
			},
		}, fill.ExecutedAt)
		if err != nil {
			return err
		}

		takerStatus = newTakerStatus
		trades = append(trades, *stored)
		s.publishTradeExecuted(ctx, correlationID, fill.Instrument, stored)
		if s.feed != nil {
			s.feed.BroadcastTrade(*stored)
		}
		return nil
	}

	if _, err := s.engine.Execute(ctx, taker, apply); err != nil {
		return trades, fmt.Errorf("match order %s: %w", order.ID, err)
	}
	return trades, nil
}

// CancelOrder takes the order off the book, then flips it to cancelled in the
// store. The book removal waits out any in-flight match, so when a match
// fills the order first the conditional update reports the terminal status.
func (s *OrderService) CancelOrder(ctx context.Context, orderID uuid.UUID, correlationID string) (*storage.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		s.metrics.CountCancellation(cancelOutcome(err))
		return nil, err
	}

	removed := s.engine.Cancel(order.Instrument, orderID)

	now := time.Now().UTC()
	updated, err := s.store.CancelOrder(ctx, orderID, now)
	if err != nil {
		outcome := cancelOutcome(err)
		if removed && outcome == "error" {
			// The store still holds the order open, so it must come back on
			// the book or it sits unmatchable until the next restart.
			if _, reloadErr := s.engine.LoadSnapshot(ctx, order.Instrument); reloadErr != nil {
				s.logger.Error("reload book after failed cancel", "instrument", order.Instrument, "order_id", orderID, "error", reloadErr)
			}
		}
		s.metrics.CountCancellation(outcome)
		return nil, err
	}

	if _, err := s.store.InsertHistory(ctx, orderID, storage.OrderStatusCancelled, now); err != nil {
		s.metrics.CountCancellation("error")
		return nil, fmt.Errorf("record cancelled status: %w", err)
	}

	s.publishOrderCancelled(ctx, correlationID, updated)
	s.metrics.CountCancellation("success")
	return updated, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*storage.Order, error) {
	return s.store.GetOrder(ctx, orderID)
}

func (s *OrderService) ListOrders(ctx context.Context, filter storage.OrderFilter) ([]storage.Order, string, error) {
	return s.store.ListOrders(ctx, filter)
}

func (s *OrderService) OrderHistory(ctx context.Context, orderID uuid.UUID) ([]storage.OrderStatusHistory, error) {
	if _, err := s.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.ListHistory(ctx, orderID)
}

func (s *OrderService) OrderTrades(ctx context.Context, orderID uuid.UUID) ([]storage.Trade, error) {
	if _, err := s.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.ListTradesForOrder(ctx, orderID)
}

func (s *OrderService) RecentTrades(ctx context.Context, limit int) ([]storage.Trade, error) {
	return s.store.ListTrades(ctx, limit)
}

func cancelOutcome(err error) string {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, storage.ErrInvalidStatus):
		return "invalid_status"
	default:
		return "error"
	}
}

func toEngineOrder(order storage.Order) *engine.Order {
	return &engine.Order{
		ID:         order.ID,
		UserID:     order.UserID,
		Instrument: order.Instrument,
		Side:       engine.Side(order.Side),
		Price:      order.Price,
		Quantity:   order.Quantity,
		Remaining:  order.RemainingQuantity,
		CreatedAt:  order.CreatedAt,
	}
}

// BookSource adapts the store to the engine's snapshot interface.
type BookSource struct {
	Store Store
}

func (b BookSource) LoadOpenOrders(ctx context.Context, instrument string) ([]*engine.Order, error) {
	orders, err := b.Store.ListOpenOrders(ctx, instrument)
	if err != nil {
		return nil, err
	}
	out := make([]*engine.Order, 0, len(orders))
	for _, order := range orders {
		out = append(out, toEngineOrder(order))
	}
	return out, nil
}
