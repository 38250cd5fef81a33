package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/user/tradekub/backend/internal/models"
)

// ErrConflict marks a transaction that lost to a concurrent writer and may be retried as a whole.
var ErrConflict = errors.New("transaction conflict")

// Tx exposes the reads and writes a lifecycle operation performs inside one transaction.
// Lookups return nil, nil when the row does not exist.
type Tx interface {
	// GetAccountForUpdate reads the account and holds its row lock until the transaction ends.
	GetAccountForUpdate(ctx context.Context, accountID int64) (*models.Account, error)
	UpdateLineAvailable(ctx context.Context, accountID int64, lineAvailable decimal.Decimal) error
	SymbolExists(ctx context.Context, symbol string) (bool, error)
	Holdings(ctx context.Context, accountID int64) (models.Holdings, error)

	InsertOrder(ctx context.Context, order *models.Order) error
	GetOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListOrdersByStatusForUpdate(ctx context.Context, status models.Status) ([]*models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) error
	DeleteOrder(ctx context.Context, orderID uuid.UUID) error
}

// Store is the persistence contract consumed by the order lifecycle.
type Store interface {
	// WithTx runs fn in a transaction, committing when fn returns nil.
	// Errors caused by concurrent writers are reported as ErrConflict.
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error

	GetAccount(ctx context.Context, accountID int64) (*models.Account, error)
	Holdings(ctx context.Context, accountID int64) (models.Holdings, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context) ([]*models.Order, error)
	// ListOrdersByAccount returns the account's orders, newest submission first.
	ListOrdersByAccount(ctx context.Context, accountID int64) ([]*models.Order, error)
	ListOrdersByStatus(ctx context.Context, status models.Status) ([]*models.Order, error)

	Close()
}
