package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/user/tradekub/backend/internal/models"
)

const (
	accountSelectSQL = `SELECT id, user_id, pin_hash, line_available FROM accounts WHERE id = ?`

	holdingsSQL = `SELECT symbol, SUM(CASE WHEN side = 'Buy' THEN matched ELSE -matched END) AS held
		FROM orders
		WHERE account_id = ? AND matched > 0
		GROUP BY symbol
		HAVING held > 0`

	orderSelectBase = `SELECT id, account_id, symbol, side, type, price, volume, matched, balance,
		status, cancelled, validity, submitted_at, updated_at
		FROM orders`
)

// ---------------------------------------------------------------------------
// Accounts and holdings
// ---------------------------------------------------------------------------

func getAccount(ctx context.Context, q querier, accountID int64) (*models.Account, error) {
	account := &models.Account{}
	var lineAvailable string
	err := q.QueryRowContext(ctx, accountSelectSQL, accountID).
		Scan(&account.ID, &account.UserID, &account.PINHash, &lineAvailable)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get account %d: %w", accountID, err)
	}
	if account.LineAvailable, err = decimal.NewFromString(lineAvailable); err != nil {
		return nil, fmt.Errorf("parse line_available for account %d: %w", accountID, err)
	}
	return account, nil
}

func getHoldings(ctx context.Context, q querier, accountID int64) (models.Holdings, error) {
	rows, err := q.QueryContext(ctx, holdingsSQL, accountID)
	if err != nil {
		return nil, fmt.Errorf("query holdings for account %d: %w", accountID, err)
	}
	defer rows.Close()

	holdings := make(models.Holdings)
	for rows.Next() {
		var symbol string
		var held int64
		if err := rows.Scan(&symbol, &held); err != nil {
			return nil, fmt.Errorf("scan holding for account %d: %w", accountID, err)
		}
		holdings[symbol] = held
	}
	return holdings, rows.Err()
}

func (s *Store) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	return getAccount(ctx, s.db, accountID)
}

func (s *Store) Holdings(ctx context.Context, accountID int64) (models.Holdings, error) {
	return getHoldings(ctx, s.db, accountID)
}

// GetAccountForUpdate needs no row lock: the immediate transaction already
// holds the database write lock.
func (t *sqliteTx) GetAccountForUpdate(ctx context.Context, accountID int64) (*models.Account, error) {
	return getAccount(ctx, t.q, accountID)
}

func (t *sqliteTx) Holdings(ctx context.Context, accountID int64) (models.Holdings, error) {
	return getHoldings(ctx, t.q, accountID)
}

func (t *sqliteTx) UpdateLineAvailable(ctx context.Context, accountID int64, lineAvailable decimal.Decimal) error {
	if lineAvailable.IsNegative() {
		return fmt.Errorf("line_available for account %d must not be negative", accountID)
	}
	res, err := t.q.ExecContext(ctx, `UPDATE accounts SET line_available = ? WHERE id = ?`, lineAvailable.String(), accountID)
	if err != nil {
		return fmt.Errorf("update line_available for account %d: %w", accountID, err)
	}
	return expectOneRow(res, fmt.Sprintf("account %d", accountID))
}

func (t *sqliteTx) SymbolExists(ctx context.Context, symbol string) (bool, error) {
	var exists bool
	err := t.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM stocks WHERE symbol = ?)`, symbol).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check symbol %s: %w", symbol, err)
	}
	return exists, nil
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var side, status, price string
	var submittedAt, updatedAt int64
	err := row.Scan(
		&order.ID, &order.AccountID, &order.Symbol, &side, &order.Type, &price,
		&order.Volume, &order.Matched, &order.Balance, &status, &order.Cancelled,
		&order.Validity, &submittedAt, &updatedAt,
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
	order.SubmittedAt = time.UnixMicro(submittedAt).UTC()
	order.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return order, nil
}

func queryOrders(ctx context.Context, q querier, query string, args ...any) ([]*models.Order, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

func getOrder(ctx context.Context, q querier, orderID uuid.UUID) (*models.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, orderSelectBase+` WHERE id = ?`, orderID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return order, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return getOrder(ctx, s.db, orderID)
}

func (s *Store) ListOrders(ctx context.Context) ([]*models.Order, error) {
	return queryOrders(ctx, s.db, orderSelectBase+` ORDER BY submitted_at DESC`)
}

func (s *Store) ListOrdersByAccount(ctx context.Context, accountID int64) ([]*models.Order, error) {
	return queryOrders(ctx, s.db, orderSelectBase+` WHERE account_id = ? ORDER BY submitted_at DESC`, accountID)
}

func (s *Store) ListOrdersByStatus(ctx context.Context, status models.Status) ([]*models.Order, error) {
	return queryOrders(ctx, s.db, orderSelectBase+` WHERE status = ? ORDER BY submitted_at`, string(status))
}

func (t *sqliteTx) InsertOrder(ctx context.Context, order *models.Order) error {
	query := `INSERT INTO orders (id, account_id, symbol, side, type, price, volume, matched, balance,
		status, cancelled, validity, submitted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	submitted := order.SubmittedAt.UnixMicro()
	_, err := t.q.ExecContext(ctx, query,
		order.ID.String(), order.AccountID, order.Symbol, string(order.Side), order.Type, order.Price.String(),
		order.Volume, order.Matched, order.Balance, string(order.Status), order.Cancelled,
		order.Validity, submitted, submitted,
	)
	if err != nil {
		return fmt.Errorf("insert order for account %d: %w", order.AccountID, err)
	}
	order.UpdatedAt = order.SubmittedAt
	return nil
}

func (t *sqliteTx) GetOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return getOrder(ctx, t.q, orderID)
}

func (t *sqliteTx) ListOrdersByStatusForUpdate(ctx context.Context, status models.Status) ([]*models.Order, error) {
	return queryOrders(ctx, t.q, orderSelectBase+` WHERE status = ? ORDER BY id`, string(status))
}

func (t *sqliteTx) UpdateOrder(ctx context.Context, order *models.Order) error {
	query := `UPDATE orders
		SET account_id = ?, symbol = ?, side = ?, type = ?, price = ?, volume = ?, matched = ?,
		    balance = ?, status = ?, cancelled = ?, validity = ?, updated_at = ?
		WHERE id = ?`

	now := time.Now().UTC()
	res, err := t.q.ExecContext(ctx, query,
		order.AccountID, order.Symbol, string(order.Side), order.Type, order.Price.String(), order.Volume,
		order.Matched, order.Balance, string(order.Status), order.Cancelled, order.Validity, now.UnixMicro(),
		order.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update order %s: %w", order.ID, err)
	}
	if err := expectOneRow(res, "order "+order.ID.String()); err != nil {
		return err
	}
	order.UpdatedAt = now
	return nil
}

func (t *sqliteTx) DeleteOrder(ctx context.Context, orderID uuid.UUID) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, orderID.String())
	if err != nil {
		return fmt.Errorf("delete order %s: %w", orderID, err)
	}
	return expectOneRow(res, "order "+orderID.String())
}

func expectOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", what, err)
	}
	if n != 1 {
		return fmt.Errorf("%s not found", what)
	}
	return nil
}
