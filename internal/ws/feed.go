package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/felipeneri/base-trade/internal/storage"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	subscribeDepth = 64
)

// TradeMessage is the wire shape pushed to trade feed subscribers.
type TradeMessage struct {
	TradeID        string    `json:"trade_id"`
	BuyingOrderID  string    `json:"buying_order_id"`
	SellingOrderID string    `json:"selling_order_id"`
	Quantity       string    `json:"quantity"`
	Price          string    `json:"price"`
	ExecutedAt     time.Time `json:"executed_at"`
}

// Feed streams executed trades over websocket connections.
type Feed struct {
	hub      *Hub[TradeMessage]
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewFeed(logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		hub: NewHub[TradeMessage](),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// BroadcastTrade publishes a committed trade to all connected clients.
func (f *Feed) BroadcastTrade(t storage.Trade) {
	f.hub.Broadcast(TradeMessage{
		TradeID:        t.ID.String(),
		BuyingOrderID:  t.BuyingOrderID.String(),
		SellingOrderID: t.SellingOrderID.String(),
		Quantity:       t.Quantity.String(),
		Price:          t.Price.StringFixed(2),
		ExecutedAt:     t.ExecutedAt,
	})
}

func (f *Feed) Subscribers() int {
	return f.hub.Subscribers()
}

// Handler upgrades the request and streams trades until the client goes away.
func (f *Feed) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := f.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			f.logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		sub := f.hub.Subscribe(subscribeDepth)
		go f.writePump(conn, sub)
		f.readPump(conn, sub)
	}
}

func (f *Feed) readPump(conn *websocket.Conn, sub *Subscription[TradeMessage]) {
	defer func() {
		f.hub.Unsubscribe(sub)
		conn.Close()
	}()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				f.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
	}
}

func (f *Feed) writePump(conn *websocket.Conn, sub *Subscription[TradeMessage]) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case msg, ok := <-sub.C():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
