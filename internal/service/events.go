package service

import (
	"context"
	"time"

	"github.com/felipeneri/base-trade/internal/storage"
	"github.com/felipeneri/base-trade/libs/kafka"
)

type Topics struct {
	OrdersAccepted  string
	OrdersCancelled string
	TradesExecuted  string
}

type OrderAcceptedEvent struct {
	kafka.Envelope
	OrderID           string `json:"order_id"`
	Instrument        string `json:"instrument"`
	Side              string `json:"side"`
	Price             string `json:"price"`
	Quantity          string `json:"quantity"`
	RemainingQuantity string `json:"remaining_quantity"`
	Status            string `json:"status"`
	UserID            string `json:"user_id"`
	CreatedAt         string `json:"created_at"`
}

type OrderCancelledEvent struct {
	kafka.Envelope
	OrderID     string `json:"order_id"`
	Instrument  string `json:"instrument"`
	Status      string `json:"status"`
	UserID      string `json:"user_id"`
	CancelledAt string `json:"cancelled_at"`
}

type TradeExecutedEvent struct {
	kafka.Envelope
	TradeID        string `json:"trade_id"`
	Instrument     string `json:"instrument"`
	BuyingOrderID  string `json:"buying_order_id"`
	SellingOrderID string `json:"selling_order_id"`
	Price          string `json:"price"`
	Quantity       string `json:"quantity"`
	ExecutedAt     string `json:"executed_at"`
}

// Event publication is best-effort: a committed order or trade outlives a
// broker hiccup, so failures are logged, not surfaced.
func (s *OrderService) publishOrderAccepted(ctx context.Context, correlationID string, order *storage.Order) {
	if s.producer == nil || order == nil {
		return
	}
	eventID := kafka.DeterministicEventID("orders.accepted", order.ID.String())
	env, err := kafka.NewEnvelopeWithID(eventID, "orders.accepted", 1, correlationID)
	if err != nil {
		s.logger.Error("build order accepted envelope failed", "error", err)
		return
	}
	payload := OrderAcceptedEvent{
		Envelope:          env,
		OrderID:           order.ID.String(),
		Instrument:        order.Instrument,
		Side:              order.Side,
		Price:             order.Price.String(),
		Quantity:          order.Quantity.String(),
		RemainingQuantity: order.RemainingQuantity.String(),
		Status:            order.Status,
		UserID:            order.UserID.String(),
		CreatedAt:         order.CreatedAt.UTC().Format(time.RFC3339),
	}
	if _, _, err := s.producer.PublishJSON(ctx, s.topics.OrdersAccepted, order.Instrument, payload); err != nil {
		s.logger.Error("publish order accepted failed", "error", err)
	}
}

func (s *OrderService) publishOrderCancelled(ctx context.Context, correlationID string, order *storage.Order) {
	if s.producer == nil || order == nil {
		return
	}
	eventID := kafka.DeterministicEventID("orders.cancelled", order.ID.String())
	env, err := kafka.NewEnvelopeWithID(eventID, "orders.cancelled", 1, correlationID)
	if err != nil {
		s.logger.Error("build order cancelled envelope failed", "error", err)
		return
	}
	payload := OrderCancelledEvent{
		Envelope:    env,
		OrderID:     order.ID.String(),
		Instrument:  order.Instrument,
		Status:      order.Status,
		UserID:      order.UserID.String(),
		CancelledAt: order.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if _, _, err := s.producer.PublishJSON(ctx, s.topics.OrdersCancelled, order.Instrument, payload); err != nil {
		s.logger.Error("publish order cancelled failed", "error", err)
	}
}

func (s *OrderService) publishTradeExecuted(ctx context.Context, correlationID, instrument string, trade *storage.Trade) {
	if s.producer == nil || trade == nil {
		return
	}
	eventID := kafka.DeterministicEventID("trades.executed", trade.ID.String())
	env, err := kafka.NewEnvelopeWithID(eventID, "trades.executed", 1, correlationID)
	if err != nil {
		s.logger.Error("build trade executed envelope failed", "error", err)
		return
	}
	payload := TradeExecutedEvent{
		Envelope:       env,
		TradeID:        trade.ID.String(),
		Instrument:     instrument,
		BuyingOrderID:  trade.BuyingOrderID.String(),
		SellingOrderID: trade.SellingOrderID.String(),
		Price:          trade.Price.String(),
		Quantity:       trade.Quantity.String(),
		ExecutedAt:     trade.ExecutedAt.UTC().Format(time.RFC3339),
	}
	if _, _, err := s.producer.PublishJSON(ctx, s.topics.TradesExecuted, instrument, payload); err != nil {
		s.logger.Error("publish trade executed failed", "error", err)
	}
}
