package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/felipeneri/base-trade/internal/service"
	"github.com/felipeneri/base-trade/internal/storage"
	"github.com/felipeneri/base-trade/internal/validation"
	"github.com/felipeneri/base-trade/libs/httpmiddleware"
)

type OrderService interface {
	CreateOrder(ctx context.Context, input service.CreateOrderInput) (*storage.Order, []storage.Trade, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID, correlationID string) (*storage.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*storage.Order, error)
	ListOrders(ctx context.Context, filter storage.OrderFilter) ([]storage.Order, string, error)
	OrderHistory(ctx context.Context, orderID uuid.UUID) ([]storage.OrderStatusHistory, error)
	OrderTrades(ctx context.Context, orderID uuid.UUID) ([]storage.Trade, error)
	RecentTrades(ctx context.Context, limit int) ([]storage.Trade, error)
}

type Handler struct {
	Service OrderService
	Logger  *slog.Logger
}

type createOrderRequest struct {
	Instrument string `json:"instrument"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
	UserID     string `json:"user_id"`
}

type orderItem struct {
	OrderID           string `json:"order_id"`
	Instrument        string `json:"instrument"`
	Side              string `json:"side"`
	Price             string `json:"price"`
	Quantity          string `json:"quantity"`
	RemainingQuantity string `json:"remaining_quantity"`
	Status            string `json:"status"`
	UserID            string `json:"user_id,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

type tradeItem struct {
	TradeID        string `json:"trade_id"`
	BuyingOrderID  string `json:"buying_order_id"`
	SellingOrderID string `json:"selling_order_id"`
	Quantity       string `json:"quantity"`
	Price          string `json:"price"`
	ExecutedAt     string `json:"executed_at"`
}

type historyItem struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type createOrderResponse struct {
	Order  orderItem   `json:"order"`
	Trades []tradeItem `json:"trades"`
}

type listOrdersResponse struct {
	Orders     []orderItem `json:"orders"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

type errorResponse struct {
	Code    string                  `json:"code"`
	Message string                  `json:"message"`
	Fields  []validation.FieldError `json:"fields,omitempty"`
}

func New(service OrderService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: service, Logger: logger}
}

// Register wires the order routes. submitLimiter guards order submission
// only; reads stay unthrottled.
func (h *Handler) Register(r *gin.Engine, submitLimiter gin.HandlerFunc) {
	if submitLimiter != nil {
		r.POST("/orders", submitLimiter, h.CreateOrder)
	} else {
		r.POST("/orders", h.CreateOrder)
	}
	r.GET("/orders", h.ListOrders)
	r.GET("/orders/:id", h.GetOrder)
	r.DELETE("/orders/:id", h.CancelOrder)
	r.GET("/orders/:id/history", h.OrderHistory)
	r.GET("/orders/:id/trades", h.OrderTrades)
	r.GET("/trades", h.ListTrades)
}

func (h *Handler) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}

	errs := validation.ValidateOrderDraft(req.Instrument, req.Side, req.Price, req.Quantity)
	if len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", errs)
		return
	}

	price, _ := validation.ParsePrice(req.Price)
	qty, _ := validation.ParseQuantity(req.Quantity)

	var userID uuid.UUID
	if raw := strings.TrimSpace(req.UserID); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid user_id", nil)
			return
		}
		userID = parsed
	}

	order, trades, err := h.Service.CreateOrder(c.Request.Context(), service.CreateOrderInput{
		Instrument:    validation.NormalizeInstrument(req.Instrument),
		Side:          validation.NormalizeSide(req.Side),
		Price:         price,
		Quantity:      qty,
		UserID:        userID,
		CorrelationID: requestIDFromContext(c),
	})
	if err != nil {
		h.Logger.Error("create order failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}

	c.JSON(http.StatusCreated, createOrderResponse{
		Order:  orderToItem(*order),
		Trades: lo.Map(trades, func(t storage.Trade, _ int) tradeItem { return tradeToItem(t) }),
	})
}

func (h *Handler) ListOrders(c *gin.Context) {
	filter := storage.OrderFilter{
		Instrument: validation.NormalizeInstrument(c.Query("instrument")),
		Side:       validation.NormalizeSide(c.Query("side")),
		Status:     strings.ToLower(strings.TrimSpace(c.Query("status"))),
		Cursor:     strings.TrimSpace(c.Query("cursor")),
	}

	if raw := strings.TrimSpace(c.Query("user_id")); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid user_id", nil)
			return
		}
		filter.UserID = parsed
	}

	for _, raw := range c.QueryArray("id") {
		parsed, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid id", nil)
			return
		}
		filter.IDs = append(filter.IDs, parsed)
	}

	filter.SortBy = strings.TrimSpace(c.Query("sort"))
	switch strings.ToLower(strings.TrimSpace(c.Query("order"))) {
	case "", "asc":
	case "desc":
		filter.SortDesc = true
	default:
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "order must be asc or desc", nil)
		return
	}

	if limitStr := strings.TrimSpace(c.Query("limit")); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit", nil)
			return
		}
		filter.Limit = n
	}

	if fromStr := strings.TrimSpace(c.Query("from")); fromStr != "" {
		parsed, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid from", nil)
			return
		}
		filter.From = &parsed
	}
	if toStr := strings.TrimSpace(c.Query("to")); toStr != "" {
		parsed, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid to", nil)
			return
		}
		filter.To = &parsed
	}

	orders, nextCursor, err := h.Service.ListOrders(c.Request.Context(), filter)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCursor) {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid cursor", nil)
			return
		}
		if errors.Is(err, storage.ErrInvalidSort) {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}
		h.Logger.Error("list orders failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}

	c.JSON(http.StatusOK, listOrdersResponse{
		Orders:     lo.Map(orders, func(o storage.Order, _ int) orderItem { return orderToItem(o) }),
		NextCursor: nextCursor,
	})
}

func (h *Handler) GetOrder(c *gin.Context) {
	orderID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order_id", nil)
		return
	}

	order, err := h.Service.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
			return
		}
		h.Logger.Error("get order failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}

	c.JSON(http.StatusOK, orderToItem(*order))
}

func (h *Handler) CancelOrder(c *gin.Context) {
	orderID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order_id", nil)
		return
	}

	order, err := h.Service.CancelOrder(c.Request.Context(), orderID, requestIDFromContext(c))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
			return
		}
		if errors.Is(err, storage.ErrInvalidStatus) {
			writeError(c, http.StatusConflict, "INVALID_STATE", err.Error(), nil)
			return
		}
		h.Logger.Error("cancel order failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}

	c.JSON(http.StatusOK, orderToItem(*order))
}

func (h *Handler) OrderHistory(c *gin.Context) {
	orderID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order_id", nil)
		return
	}

	entries, err := h.Service.OrderHistory(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
			return
		}
		h.Logger.Error("order history failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id": orderID.String(),
		"history": lo.Map(entries, func(e storage.OrderStatusHistory, _ int) historyItem {
			return historyItem{Status: e.Status, Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano)}
		}),
	})
}

func (h *Handler) OrderTrades(c *gin.Context) {
	orderID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order_id", nil)
		return
	}

	trades, err := h.Service.OrderTrades(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
			return
		}
		h.Logger.Error("order trades failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id": orderID.String(),
		"trades":   lo.Map(trades, func(t storage.Trade, _ int) tradeItem { return tradeToItem(t) }),
	})
}

func (h *Handler) ListTrades(c *gin.Context) {
	limit := 0
	if limitStr := strings.TrimSpace(c.Query("limit")); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit", nil)
			return
		}
		limit = n
	}

	trades, err := h.Service.RecentTrades(c.Request.Context(), limit)
	if err != nil {
		h.Logger.Error("list trades failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trades": lo.Map(trades, func(t storage.Trade, _ int) tradeItem { return tradeToItem(t) }),
	})
}

func orderToItem(order storage.Order) orderItem {
	item := orderItem{
		OrderID:           order.ID.String(),
		Instrument:        order.Instrument,
		Side:              order.Side,
		Price:             order.Price.StringFixed(2),
		Quantity:          order.Quantity.String(),
		RemainingQuantity: order.RemainingQuantity.String(),
		Status:            order.Status,
		CreatedAt:         order.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:         order.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if order.UserID != uuid.Nil {
		item.UserID = order.UserID.String()
	}
	return item
}

func tradeToItem(trade storage.Trade) tradeItem {
	return tradeItem{
		TradeID:        trade.ID.String(),
		BuyingOrderID:  trade.BuyingOrderID.String(),
		SellingOrderID: trade.SellingOrderID.String(),
		Quantity:       trade.Quantity.String(),
		Price:          trade.Price.StringFixed(2),
		ExecutedAt:     trade.ExecutedAt.UTC().Format(time.RFC3339Nano),
	}
}

func parseUUIDParam(value string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return uuid.Nil, errors.New("missing id")
	}
	return uuid.Parse(trimmed)
}

func writeError(c *gin.Context, status int, code, message string, fields []validation.FieldError) {
	c.JSON(status, errorResponse{Code: code, Message: message, Fields: fields})
}

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(httpmiddleware.RequestIDHeader); ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}
