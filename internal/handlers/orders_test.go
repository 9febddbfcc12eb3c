package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/felipeneri/base-trade/internal/service"
	"github.com/felipeneri/base-trade/internal/storage"
)

type stubService struct {
	createOrder  *storage.Order
	createTrades []storage.Trade
	createErr    error
	order        *storage.Order
	orderErr     error
	cancelErr    error
	orders       []storage.Order
	nextCursor   string
	listErr      error
	history      []storage.OrderStatusHistory
	trades       []storage.Trade

	lastInput  service.CreateOrderInput
	lastFilter storage.OrderFilter
	lastLimit  int
}

func (s *stubService) CreateOrder(_ context.Context, input service.CreateOrderInput) (*storage.Order, []storage.Trade, error) {
	s.lastInput = input
	return s.createOrder, s.createTrades, s.createErr
}

func (s *stubService) CancelOrder(context.Context, uuid.UUID, string) (*storage.Order, error) {
	if s.cancelErr != nil {
		return nil, s.cancelErr
	}
	return s.order, nil
}

func (s *stubService) GetOrder(context.Context, uuid.UUID) (*storage.Order, error) {
	return s.order, s.orderErr
}

func (s *stubService) ListOrders(_ context.Context, filter storage.OrderFilter) ([]storage.Order, string, error) {
	s.lastFilter = filter
	return s.orders, s.nextCursor, s.listErr
}

func (s *stubService) OrderHistory(context.Context, uuid.UUID) ([]storage.OrderStatusHistory, error) {
	if s.orderErr != nil {
		return nil, s.orderErr
	}
	return s.history, nil
}

func (s *stubService) OrderTrades(context.Context, uuid.UUID) ([]storage.Trade, error) {
	if s.orderErr != nil {
		return nil, s.orderErr
	}
	return s.trades, nil
}

func (s *stubService) RecentTrades(_ context.Context, limit int) ([]storage.Trade, error) {
	s.lastLimit = limit
	return s.trades, nil
}

func sampleOrder(status string) *storage.Order {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &storage.Order{
		ID:                uuid.New(),
		Instrument:        "PETR4",
		Side:              "buy",
		Price:             decimal.RequireFromString("28.50"),
		Quantity:          decimal.NewFromInt(100),
		RemainingQuantity: decimal.NewFromInt(100),
		Status:            status,
		UserID:            uuid.New(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func newRouter(svc OrderService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	New(svc, nil).Register(router, nil)
	return router
}

func do(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateOrderHandler(t *testing.T) {
	order := sampleOrder(storage.OrderStatusOpen)
	svc := &stubService{createOrder: order}
	router := newRouter(svc)

	rec := do(router, http.MethodPost, "/orders", gin.H{
		"instrument": "petr4",
		"side":       "BUY",
		"price":      "28.50",
		"quantity":   "100",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	if svc.lastInput.Instrument != "PETR4" || svc.lastInput.Side != "buy" {
		t.Fatalf("expected normalized input, got %+v", svc.lastInput)
	}

	var resp createOrderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Order.OrderID != order.ID.String() || resp.Order.Status != storage.OrderStatusOpen {
		t.Fatalf("unexpected order payload: %+v", resp.Order)
	}
	if resp.Trades == nil || len(resp.Trades) != 0 {
		t.Fatalf("expected empty trades array, got %+v", resp.Trades)
	}
}

func TestCreateOrderHandlerValidation(t *testing.T) {
	router := newRouter(&stubService{})

	rec := do(router, http.MethodPost, "/orders", gin.H{
		"instrument": "",
		"side":       "hold",
		"price":      "-1",
		"quantity":   "2.5",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != "INVALID_REQUEST" || len(resp.Fields) != 4 {
		t.Fatalf("expected 4 field errors, got %+v", resp)
	}
}

func TestCreateOrderHandlerBadJSON(t *testing.T) {
	router := newRouter(&stubService{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader([]byte("{")))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetOrderHandler(t *testing.T) {
	order := sampleOrder(storage.OrderStatusOpen)
	router := newRouter(&stubService{order: order})

	rec := do(router, http.MethodGet, "/orders/"+order.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp orderItem
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Price != "28.50" || resp.Quantity != "100" {
		t.Fatalf("unexpected amounts: %+v", resp)
	}
}

func TestGetOrderHandlerNotFound(t *testing.T) {
	router := newRouter(&stubService{orderErr: storage.ErrNotFound})

	rec := do(router, http.MethodGet, "/orders/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != "ORDER_NOT_FOUND" {
		t.Fatalf("expected ORDER_NOT_FOUND, got %s", resp.Code)
	}
}

func TestGetOrderHandlerBadID(t *testing.T) {
	router := newRouter(&stubService{})

	rec := do(router, http.MethodGet, "/orders/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCancelOrderHandlerConflict(t *testing.T) {
	cancelErr := fmt.Errorf("order is filled: %w", storage.ErrInvalidStatus)
	router := newRouter(&stubService{cancelErr: cancelErr})

	rec := do(router, http.MethodDelete, "/orders/"+uuid.NewString(), nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != "INVALID_STATE" {
		t.Fatalf("expected INVALID_STATE, got %s", resp.Code)
	}
	if !strings.Contains(resp.Message, "filled") {
		t.Fatalf("expected blocking status in message, got %q", resp.Message)
	}
}

func TestCancelOrderHandler(t *testing.T) {
	order := sampleOrder(storage.OrderStatusCancelled)
	router := newRouter(&stubService{order: order})

	rec := do(router, http.MethodDelete, "/orders/"+order.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp orderItem
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != storage.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", resp.Status)
	}
}

func TestListOrdersHandlerFilters(t *testing.T) {
	svc := &stubService{orders: []storage.Order{*sampleOrder(storage.OrderStatusOpen)}, nextCursor: "abc"}
	router := newRouter(svc)

	rec := do(router, http.MethodGet, "/orders?instrument=petr4&side=BUY&status=open&limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.lastFilter.Instrument != "PETR4" || svc.lastFilter.Side != "buy" || svc.lastFilter.Status != "open" || svc.lastFilter.Limit != 10 {
		t.Fatalf("unexpected filter: %+v", svc.lastFilter)
	}

	var resp listOrdersResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Orders) != 1 || resp.NextCursor != "abc" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestListOrdersHandlerSorting(t *testing.T) {
	svc := &stubService{}
	router := newRouter(svc)

	rec := do(router, http.MethodGet, "/orders?sort=price&order=desc", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.lastFilter.SortBy != "price" || !svc.lastFilter.SortDesc {
		t.Fatalf("unexpected filter: %+v", svc.lastFilter)
	}

	id := uuid.New()
	rec = do(router, http.MethodGet, "/orders?id="+id.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(svc.lastFilter.IDs) != 1 || svc.lastFilter.IDs[0] != id {
		t.Fatalf("unexpected id filter: %+v", svc.lastFilter.IDs)
	}
}

func TestListOrdersHandlerRejectsUnknownSort(t *testing.T) {
	router := newRouter(&stubService{listErr: fmt.Errorf("%w: user_id", storage.ErrInvalidSort)})

	rec := do(router, http.MethodGet, "/orders?sort=user_id", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListOrdersHandlerBadParams(t *testing.T) {
	router := newRouter(&stubService{})

	for _, path := range []string{
		"/orders?limit=abc",
		"/orders?from=not-a-date",
		"/orders?to=not-a-date",
		"/orders?user_id=nope",
		"/orders?order=sideways",
		"/orders?id=nope",
	} {
		rec := do(router, http.MethodGet, path, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", path, rec.Code)
		}
	}
}

func TestListOrdersHandlerInvalidCursor(t *testing.T) {
	router := newRouter(&stubService{listErr: storage.ErrInvalidCursor})

	rec := do(router, http.MethodGet, "/orders?cursor=garbage", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestOrderHistoryHandler(t *testing.T) {
	orderID := uuid.New()
	now := time.Now().UTC()
	svc := &stubService{history: []storage.OrderStatusHistory{
		{ID: uuid.New(), OrderID: orderID, Status: storage.OrderStatusOpen, Timestamp: now},
		{ID: uuid.New(), OrderID: orderID, Status: storage.OrderStatusFilled, Timestamp: now.Add(time.Second)},
	}}
	router := newRouter(svc)

	rec := do(router, http.MethodGet, "/orders/"+orderID.String()+"/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		History []historyItem `json:"history"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.History) != 2 || resp.History[0].Status != storage.OrderStatusOpen {
		t.Fatalf("unexpected history: %+v", resp.History)
	}
}

func TestListTradesHandler(t *testing.T) {
	svc := &stubService{trades: []storage.Trade{{
		ID:             uuid.New(),
		BuyingOrderID:  uuid.New(),
		SellingOrderID: uuid.New(),
		Quantity:       decimal.NewFromInt(50),
		Price:          decimal.RequireFromString("28.50"),
		ExecutedAt:     time.Now().UTC(),
	}}}
	router := newRouter(svc)

	rec := do(router, http.MethodGet, "/trades?limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.lastLimit != 5 {
		t.Fatalf("expected limit 5, got %d", svc.lastLimit)
	}

	var resp struct {
		Trades []tradeItem `json:"trades"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Trades) != 1 || resp.Trades[0].Price != "28.50" {
		t.Fatalf("unexpected trades: %+v", resp.Trades)
	}
}
