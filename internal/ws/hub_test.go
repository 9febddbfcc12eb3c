package ws

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/felipeneri/base-trade/internal/storage"
)

func TestHubBroadcast(t *testing.T) {
	hub := NewHub[int]()

	first := hub.Subscribe(4)
	second := hub.Subscribe(4)

	hub.Broadcast(42)

	for _, sub := range []*Subscription[int]{first, second} {
		select {
		case got := <-sub.C():
			if got != 42 {
				t.Fatalf("expected 42, got %d", got)
			}
		case <-time.After(time.Second):
			t.Fatalf("broadcast not delivered")
		}
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub[int]()
	sub := hub.Subscribe(1)

	hub.Unsubscribe(sub)
	if hub.Subscribers() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", hub.Subscribers())
	}

	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected closed channel")
	}

	// double unsubscribe must not panic
	hub.Unsubscribe(sub)
}

func TestHubDropsWhenSubscriberFull(t *testing.T) {
	hub := NewHub[int]()
	sub := hub.Subscribe(1)

	hub.Broadcast(1)
	hub.Broadcast(2)

	got := <-sub.C()
	if got != 1 {
		t.Fatalf("expected first message kept, got %d", got)
	}
	select {
	case extra := <-sub.C():
		t.Fatalf("expected overflow dropped, got %d", extra)
	default:
	}
}

func TestFeedBroadcastTrade(t *testing.T) {
	feed := NewFeed(nil)
	sub := feed.hub.Subscribe(1)

	trade := storage.Trade{
		ID:             uuid.New(),
		BuyingOrderID:  uuid.New(),
		SellingOrderID: uuid.New(),
		Quantity:       decimal.NewFromInt(50),
		Price:          decimal.RequireFromString("28.5"),
		ExecutedAt:     time.Now().UTC(),
	}
	feed.BroadcastTrade(trade)

	select {
	case msg := <-sub.C():
		if msg.TradeID != trade.ID.String() {
			t.Fatalf("unexpected trade id %s", msg.TradeID)
		}
		if msg.Price != "28.50" || msg.Quantity != "50" {
			t.Fatalf("unexpected amounts: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("trade not delivered")
	}
}
