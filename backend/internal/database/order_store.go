package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/user/tradekub/backend/internal/models"
)

const orderSelectBase = `SELECT id, account_id, symbol, side, type, price::text, volume, matched, balance,
			  status, cancelled, validity, submitted_at, updated_at
			  FROM orders`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var side, status, price string
	err := row.Scan(
		&order.ID, &order.AccountID, &order.Symbol, &side, &order.Type, &price,
		&order.Volume, &order.Matched, &order.Balance, &status, &order.Cancelled,
		&order.Validity, &order.SubmittedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if order.Side, err = models.ParseSide(side); err != nil {
		return nil, fmt.Errorf("order %s: %w", order.ID, err)
	}
	if order.Status, err = models.ParseStatus(status); err != nil {
		return nil, fmt.Errorf("order %s: %w", order.ID, err)
	}
	if order.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("order %s: parse price: %w", order.ID, err)
	}
	return order, nil
}

func queryOrders(ctx context.Context, q PgxQuerier, query string, args ...any) ([]*models.Order, error) {
	orders := make([]*models.Order, 0)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning order row: %w", err)
		}
		orders = append(orders, order)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("error iterating order rows: %w", rows.Err())
	}
	return orders, nil
}

func getOrder(ctx context.Context, q PgxQuerier, orderID uuid.UUID, forUpdate bool) (*models.Order, error) {
	query := orderSelectBase + ` WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	order, err := scanOrder(q.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Order not found
		}
		return nil, fmt.Errorf("error getting order by id %s: %w", orderID, err)
	}
	return order, nil
}

// GetOrder retrieves a specific order by its ID.
func (p *Postgres) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	pool, err := p.ensurePool()
	if err != nil {
		return nil, err
	}
	return getOrder(ctx, pool, orderID, false)
}

// ListOrders retrieves every order.
func (p *Postgres) ListOrders(ctx context.Context) ([]*models.Order, error) {
	pool, err := p.ensurePool()
	if err != nil {
		return nil, err
	}
	return queryOrders(ctx, pool, orderSelectBase+` ORDER BY submitted_at DESC`)
}

// ListOrdersByAccount retrieves an account's orders, newest first.
func (p *Postgres) ListOrdersByAccount(ctx context.Context, accountID int64) ([]*models.Order, error) {
	pool, err := p.ensurePool()
	if err != nil {
		return nil, err
	}
	return queryOrders(ctx, pool, orderSelectBase+` WHERE account_id = $1 ORDER BY submitted_at DESC`, accountID)
}

// ListOrdersByStatus retrieves the orders in one status.
func (p *Postgres) ListOrdersByStatus(ctx context.Context, status models.Status) ([]*models.Order, error) {
	pool, err := p.ensurePool()
	if err != nil {
		return nil, err
	}
	return queryOrders(ctx, pool, orderSelectBase+` WHERE status = $1 ORDER BY submitted_at`, string(status))
}

// InsertOrder inserts a new order. Reservation must already have happened in the same transaction.
func (t *pgTx) InsertOrder(ctx context.Context, order *models.Order) error {
	query := `INSERT INTO orders (id, account_id, symbol, side, type, price, volume, matched, balance,
			  status, cancelled, validity, submitted_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, $13, $13)`

	_, err := t.q.Exec(ctx, query,
		order.ID, order.AccountID, order.Symbol, string(order.Side), order.Type, order.Price.String(),
		order.Volume, order.Matched, order.Balance, string(order.Status), order.Cancelled,
		order.Validity, order.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("error creating order for account %d: %w", order.AccountID, err)
	}
	order.UpdatedAt = order.SubmittedAt
	return nil
}

func (t *pgTx) GetOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return getOrder(ctx, t.q, orderID, true)
}

// ListOrdersByStatusForUpdate locks every order in the status, in id order so
// concurrent sweeps acquire locks consistently.
func (t *pgTx) ListOrdersByStatusForUpdate(ctx context.Context, status models.Status) ([]*models.Order, error) {
	return queryOrders(ctx, t.q, orderSelectBase+` WHERE status = $1 ORDER BY id FOR UPDATE`, string(status))
}

// UpdateOrder overwrites every mutable column of the order.
func (t *pgTx) UpdateOrder(ctx context.Context, order *models.Order) error {
	query := `UPDATE orders
			  SET account_id = $2, symbol = $3, side = $4, type = $5, price = $6::numeric, volume = $7,
			      matched = $8, balance = $9, status = $10, cancelled = $11, validity = $12, updated_at = NOW()
			  WHERE id = $1
			  RETURNING updated_at`

	err := t.q.QueryRow(ctx, query,
		order.ID, order.AccountID, order.Symbol, string(order.Side), order.Type, order.Price.String(),
		order.Volume, order.Matched, order.Balance, string(order.Status), order.Cancelled, order.Validity,
	).Scan(&order.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to update order %s (not found)", order.ID)
		}
		return fmt.Errorf("error updating order %s: %w", order.ID, err)
	}
	return nil
}

func (t *pgTx) DeleteOrder(ctx context.Context, orderID uuid.UUID) error {
	cmdTag, err := t.q.Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("error deleting order %s: %w", orderID, err)
	}
	if cmdTag.RowsAffected() != 1 {
		return fmt.Errorf("failed to delete order %s (not found)", orderID)
	}
	return nil
}
