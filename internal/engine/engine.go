package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"log/slog"
)

// SnapshotStore loads the open and partially filled orders that should rest
// on the book after a restart. An empty instrument loads every instrument.
type SnapshotStore interface {
	LoadOpenOrders(ctx context.Context, instrument string) ([]*Order, error)
}

type Metrics interface {
	ObserveMatch(instrument string, fills int, duration time.Duration)
	SetBookDepth(instrument string, side Side, depth float64)
}

// Engine owns one Book per instrument. Books are created lazily; unrelated
// instruments match fully in parallel.
type Engine struct {
	mu      sync.RWMutex
	books   map[string]*Book
	store   SnapshotStore
	logger  *slog.Logger
	metrics Metrics
}

func New(store SnapshotStore, logger *slog.Logger, metrics Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		books:   make(map[string]*Book),
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// Execute runs the incoming order through its instrument's book.
func (e *Engine) Execute(ctx context.Context, order *Order, apply ApplyFunc) ([]Fill, error) {
	if order == nil {
		return nil, fmt.Errorf("order required")
	}
	start := time.Now()
	book := e.book(order.Instrument)

	fills, err := book.Execute(ctx, order, apply)
	if err != nil {
		return fills, err
	}

	e.observe(book, len(fills), time.Since(start))
	return fills, nil
}

// Cancel removes a resting order from its book. Returns false when the order
// is not resting there; the caller decides what that means against the store.
func (e *Engine) Cancel(instrument string, orderID uuid.UUID) bool {
	return e.book(instrument).Remove(orderID)
}

// LoadSnapshot rebuilds books from the store. With an empty instrument the
// whole engine is rebuilt; otherwise only that instrument's book.
func (e *Engine) LoadSnapshot(ctx context.Context, instrument string) (int, error) {
	if e.store == nil {
		return 0, fmt.Errorf("snapshot store not configured")
	}

	if strings.TrimSpace(instrument) == "" {
		e.mu.Lock()
		e.books = make(map[string]*Book)
		e.mu.Unlock()
	} else {
		e.mu.Lock()
		e.books[instrument] = NewBook(instrument)
		e.mu.Unlock()
	}

	orders, err := e.store.LoadOpenOrders(ctx, instrument)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, order := range orders {
		if order == nil {
			continue
		}
		if err := e.book(order.Instrument).Add(order); err != nil {
			e.logger.Error("snapshot order load failed", "order_id", order.ID, "error", err)
			continue
		}
		loaded++
	}

	return loaded, nil
}

func (e *Engine) ActiveInstruments() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.books)
}

func (e *Engine) RestingOrders() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	count := 0
	for _, book := range e.books {
		count += book.Depth(SideBuy)
		count += book.Depth(SideSell)
	}
	return count
}

func (e *Engine) book(instrument string) *Book {
	name := strings.TrimSpace(instrument)

	e.mu.RLock()
	book := e.books[name]
	e.mu.RUnlock()
	if book != nil {
		return book
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	book = e.books[name]
	if book == nil {
		book = NewBook(name)
		e.books[name] = book
	}
	return book
}

func (e *Engine) observe(book *Book, fills int, duration time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObserveMatch(book.Instrument(), fills, duration)
	e.metrics.SetBookDepth(book.Instrument(), SideBuy, float64(book.Depth(SideBuy)))
	e.metrics.SetBookDepth(book.Instrument(), SideSell, float64(book.Depth(SideSell)))
}
