package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidCursor = errors.New("invalid cursor")
	ErrInvalidStatus = errors.New("invalid status transition")
	ErrInvalidSort   = errors.New("invalid sort")
)

// sortColumns whitelists the columns a listing may order by. Values are the
// literal SQL spliced into ORDER BY, so nothing outside this map may pass.
var sortColumns = map[string]string{
	"created_at":         "created_at",
	"updated_at":         "updated_at",
	"price":              "price",
	"quantity":           "quantity",
	"remaining_quantity": "remaining_quantity",
	"status":             "status",
	"instrument":         "instrument",
	"side":               "side",
}

// sortClause builds the ORDER BY for a listing. id always tiebreaks so the
// ordering is total and pages never interleave.
func sortClause(filter OrderFilter) (string, error) {
	column := "created_at"
	if filter.SortBy != "" {
		mapped, ok := sortColumns[filter.SortBy]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrInvalidSort, filter.SortBy)
		}
		column = mapped
	}
	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, id %s", column, direction, direction), nil
}

const defaultQueryTimeout = 5 * time.Second

type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// New wraps a pgx pool. Every store call runs under timeout so no operation
// can block a matching loop indefinitely.
func New(pool *pgxpool.Pool, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &Store{pool: pool, timeout: timeout}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

const orderColumns = `id, instrument, side, price::text, quantity::text, remaining_quantity::text, status, user_id, created_at, updated_at`

func (s *Store) CreateOrder(ctx context.Context, order Order) (*Order, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		INSERT INTO orders (instrument, side, price, quantity, remaining_quantity, status, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING `+orderColumns+`
	`, order.Instrument, order.Side, order.Price.String(), order.Quantity.String(),
		order.RemainingQuantity.String(), order.Status, order.UserID, order.CreatedAt)

	return scanOrderRow(row)
}

func (s *Store) GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, orderID)
	order, err := scanOrderRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return order, nil
}

func (s *Store) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	limit := clampLimit(filter.Limit)

	// Cursor pages are keyed on (created_at, id); resuming one under a
	// different ordering would skip or repeat rows.
	if filter.Cursor != "" && filter.SortBy != "" && filter.SortBy != "created_at" {
		return nil, "", fmt.Errorf("%w: cursor requires created_at ordering", ErrInvalidSort)
	}
	orderBy, err := sortClause(filter)
	if err != nil {
		return nil, "", err
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE 1=1
	`
	args := []any{}
	idx := 1

	if len(filter.IDs) > 0 {
		query += fmt.Sprintf(" AND id = ANY($%d)", idx)
		args = append(args, filter.IDs)
		idx++
	}
	if filter.Instrument != "" {
		query += fmt.Sprintf(" AND instrument = $%d", idx)
		args = append(args, filter.Instrument)
		idx++
	}
	if filter.Side != "" {
		query += fmt.Sprintf(" AND side = $%d", idx)
		args = append(args, filter.Side)
		idx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, filter.Status)
		idx++
	}
	if filter.UserID != uuid.Nil {
		query += fmt.Sprintf(" AND user_id = $%d", idx)
		args = append(args, filter.UserID)
		idx++
	}
	if filter.From != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", idx)
		args = append(args, *filter.From)
		idx++
	}
	if filter.To != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", idx)
		args = append(args, *filter.To)
		idx++
	}
	if filter.Cursor != "" {
		ts, id, err := decodeCursor(filter.Cursor)
		if err != nil {
			return nil, "", ErrInvalidCursor
		}
		cmp := ">"
		if filter.SortDesc {
			cmp = "<"
		}
		query += fmt.Sprintf(" AND (created_at, id) %s ($%d, $%d)", cmp, idx, idx+1)
		args = append(args, ts, id)
		idx += 2
	}

	query += orderBy + fmt.Sprintf(" LIMIT $%d", idx)
	args = append(args, limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	orders := make([]Order, 0, limit)
	for rows.Next() {
		order, err := scanOrderRow(rows)
		if err != nil {
			return nil, "", err
		}
		orders = append(orders, *order)
	}
	if rows.Err() != nil {
		return nil, "", rows.Err()
	}

	var nextCursor string
	if len(orders) > limit {
		orders = orders[:limit]
		if filter.SortBy == "" || filter.SortBy == "created_at" {
			last := orders[limit-1]
			nextCursor = encodeCursor(last.CreatedAt, last.ID)
		}
	}

	return orders, nextCursor, nil
}

// ListOpenOrders returns every order still able to trade, oldest first, for
// rebuilding in-memory books. An empty instrument loads all instruments.
func (s *Store) ListOpenOrders(ctx context.Context, instrument string) ([]Order, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status IN ('open', 'partial')
	`
	args := []any{}
	if strings.TrimSpace(instrument) != "" {
		query += " AND instrument = $1"
		args = append(args, instrument)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		order, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

// CancelOrder flips an open or partial order to cancelled. The status guard
// lives in the WHERE clause so the check and the write are one statement.
func (s *Store) CancelOrder(ctx context.Context, orderID uuid.UUID, now time.Time) (*Order, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		UPDATE orders
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status IN ('open', 'partial')
		RETURNING `+orderColumns+`
	`, OrderStatusCancelled, now, orderID)

	order, err := scanOrderRow(row)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var status string
	check := s.pool.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, orderID)
	if scanErr := check.Scan(&status); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, scanErr
	}
	return nil, fmt.Errorf("order is %s: %w", status, ErrInvalidStatus)
}

// ApplyTrade commits one execution as a single transaction: the trade row,
// both order updates, and a history row for each order whose status changed.
// Either everything lands or nothing does.
func (s *Store) ApplyTrade(ctx context.Context, trade Trade, updates []ExecutionUpdate, executedAt time.Time) (*Trade, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row := tx.QueryRow(ctx, `
		INSERT INTO trades (buying_order_id, selling_order_id, quantity, price, executed_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, buying_order_id, selling_order_id, quantity::text, price::text, executed_at
	`, trade.BuyingOrderID, trade.SellingOrderID, trade.Quantity.String(), trade.Price.String(), executedAt)

	stored, err := scanTradeRow(row)
	if err != nil {
		return nil, err
	}

	for _, update := range updates {
		tag, err := tx.Exec(ctx, `
			UPDATE orders
			SET remaining_quantity = $1, status = $2, updated_at = $3
			WHERE id = $4 AND status IN ('open', 'partial')
		`, update.RemainingQuantity.String(), update.Status, executedAt, update.OrderID)
		if err != nil {
			return nil, err
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("order %s: %w", update.OrderID, ErrInvalidStatus)
		}

		if update.HistoryEntry {
			if _, err := tx.Exec(ctx, `
				INSERT INTO order_status_history (order_id, status, occurred_at)
				VALUES ($1, $2, $3)
			`, update.OrderID, update.Status, executedAt); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *Store) InsertHistory(ctx context.Context, orderID uuid.UUID, status string, occurredAt time.Time) (*OrderStatusHistory, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		INSERT INTO order_status_history (order_id, status, occurred_at)
		VALUES ($1, $2, $3)
		RETURNING id, order_id, status, occurred_at
	`, orderID, status, occurredAt)

	var entry OrderStatusHistory
	if err := row.Scan(&entry.ID, &entry.OrderID, &entry.Status, &entry.Timestamp); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) ListHistory(ctx context.Context, orderID uuid.UUID) ([]OrderStatusHistory, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, status, occurred_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY occurred_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []OrderStatusHistory
	for rows.Next() {
		var entry OrderStatusHistory
		if err := rows.Scan(&entry.ID, &entry.OrderID, &entry.Status, &entry.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListTradesForOrder returns trades where the order took either side.
func (s *Store) ListTradesForOrder(ctx context.Context, orderID uuid.UUID) ([]Trade, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, buying_order_id, selling_order_id, quantity::text, price::text, executed_at
		FROM trades
		WHERE buying_order_id = $1 OR selling_order_id = $1
		ORDER BY executed_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTrades(rows)
}

func (s *Store) ListTrades(ctx context.Context, limit int) ([]Trade, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, buying_order_id, selling_order_id, quantity::text, price::text, executed_at
		FROM trades
		ORDER BY executed_at DESC, id DESC
		LIMIT $1
	`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTrades(rows)
}

func collectTrades(rows pgx.Rows) ([]Trade, error) {
	var trades []Trade
	for rows.Next() {
		trade, err := scanTradeRow(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *trade)
	}
	return trades, rows.Err()
}

func scanOrderRow(row pgx.Row) (*Order, error) {
	var order Order
	var priceStr, qtyStr, remainingStr string
	if err := row.Scan(
		&order.ID, &order.Instrument, &order.Side,
		&priceStr, &qtyStr, &remainingStr,
		&order.Status, &order.UserID, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if order.Price, err = decimal.NewFromString(strings.TrimSpace(priceStr)); err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	if order.Quantity, err = decimal.NewFromString(strings.TrimSpace(qtyStr)); err != nil {
		return nil, fmt.Errorf("parse quantity: %w", err)
	}
	if order.RemainingQuantity, err = decimal.NewFromString(strings.TrimSpace(remainingStr)); err != nil {
		return nil, fmt.Errorf("parse remaining quantity: %w", err)
	}
	return &order, nil
}

func scanTradeRow(row pgx.Row) (*Trade, error) {
	var trade Trade
	var qtyStr, priceStr string
	if err := row.Scan(
		&trade.ID, &trade.BuyingOrderID, &trade.SellingOrderID,
		&qtyStr, &priceStr, &trade.ExecutedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if trade.Quantity, err = decimal.NewFromString(strings.TrimSpace(qtyStr)); err != nil {
		return nil, fmt.Errorf("parse trade quantity: %w", err)
	}
	if trade.Price, err = decimal.NewFromString(strings.TrimSpace(priceStr)); err != nil {
		return nil, fmt.Errorf("parse trade price: %w", err)
	}
	return &trade, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}

func encodeCursor(ts time.Time, id uuid.UUID) string {
	raw := fmt.Sprintf("%s|%s", ts.UTC().Format(time.RFC3339Nano), id.String())
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, uuid.UUID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, uuid.Nil, err
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, uuid.Nil, fmt.Errorf("malformed cursor")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, uuid.Nil, err
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return time.Time{}, uuid.Nil, err
	}
	return ts, id, nil
}
