package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/user/tradekub/backend/internal/models"
)

const (
	accountSelectSQL = `SELECT id, user_id, pin_hash, line_available::text
			  FROM accounts WHERE id = $1`

	holdingsSQL = `SELECT symbol, SUM(CASE WHEN side = 'Buy' THEN matched ELSE -matched END)::bigint AS held
			  FROM orders
			  WHERE account_id = $1 AND matched > 0
			  GROUP BY symbol
			  HAVING SUM(CASE WHEN side = 'Buy' THEN matched ELSE -matched END) > 0`
)

func getAccount(ctx context.Context, q PgxQuerier, accountID int64, forUpdate bool) (*models.Account, error) {
	query := accountSelectSQL
	if forUpdate {
		query += " FOR UPDATE" // Lock row within transaction
	}

	account := &models.Account{}
	var lineAvailable string
	err := q.QueryRow(ctx, query, accountID).
		Scan(&account.ID, &account.UserID, &account.PINHash, &lineAvailable)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Account not found
		}
		return nil, fmt.Errorf("error getting account %d: %w", accountID, err)
	}

	account.LineAvailable, err = decimal.NewFromString(lineAvailable)
	if err != nil {
		return nil, fmt.Errorf("error parsing line_available for account %d: %w", accountID, err)
	}
	return account, nil
}

func getHoldings(ctx context.Context, q PgxQuerier, accountID int64) (models.Holdings, error) {
	rows, err := q.Query(ctx, holdingsSQL, accountID)
	if err != nil {
		return nil, fmt.Errorf("error querying holdings for account %d: %w", accountID, err)
	}
	defer rows.Close()

	holdings := make(models.Holdings)
	for rows.Next() {
		var symbol string
		var held int64
		if err := rows.Scan(&symbol, &held); err != nil {
			return nil, fmt.Errorf("error scanning holding row for account %d: %w", accountID, err)
		}
		holdings[symbol] = held
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("error iterating holding rows for account %d: %w", accountID, rows.Err())
	}
	return holdings, nil
}

// GetAccount retrieves an account without locking it.
func (p *Postgres) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	pool, err := p.ensurePool()
	if err != nil {
		return nil, err
	}
	return getAccount(ctx, pool, accountID, false)
}

// Holdings aggregates the account's settled positions.
func (p *Postgres) Holdings(ctx context.Context, accountID int64) (models.Holdings, error) {
	pool, err := p.ensurePool()
	if err != nil {
		return nil, err
	}
	return getHoldings(ctx, pool, accountID)
}

func (t *pgTx) GetAccountForUpdate(ctx context.Context, accountID int64) (*models.Account, error) {
	return getAccount(ctx, t.q, accountID, true)
}

func (t *pgTx) Holdings(ctx context.Context, accountID int64) (models.Holdings, error) {
	return getHoldings(ctx, t.q, accountID)
}

// UpdateLineAvailable writes the account's new line available. The CHECK
// constraint on the column rejects negative values.
func (t *pgTx) UpdateLineAvailable(ctx context.Context, accountID int64, lineAvailable decimal.Decimal) error {
	query := `UPDATE accounts SET line_available = $1::numeric WHERE id = $2`

	cmdTag, err := t.q.Exec(ctx, query, lineAvailable.String(), accountID)
	if err != nil {
		return fmt.Errorf("error updating line_available for account %d: %w", accountID, err)
	}
	if cmdTag.RowsAffected() != 1 {
		return fmt.Errorf("failed to update line_available for account %d (account not found)", accountID)
	}
	return nil
}

func (t *pgTx) SymbolExists(ctx context.Context, symbol string) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stocks WHERE symbol = $1)`, symbol).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("error checking symbol %s: %w", symbol, err)
	}
	return exists, nil
}
