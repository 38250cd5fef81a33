package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"github.com/user/tradekub/backend/internal/models"
)

func TestPostgresNilPool(t *testing.T) {
	store := NewPostgres(nil)
	ctx := context.Background()

	_, err := store.GetAccount(ctx, 1)
	require.Error(t, err)
	_, err = store.GetOrder(ctx, uuid.New())
	require.Error(t, err)
	_, err = store.ListOrders(ctx)
	require.Error(t, err)
	_, err = store.ListOrdersByAccount(ctx, 1)
	require.Error(t, err)
	_, err = store.ListOrdersByStatus(ctx, models.StatusOpen)
	require.Error(t, err)
	_, err = store.Holdings(ctx, 1)
	require.Error(t, err)
	require.Error(t, store.WithTx(ctx, func(context.Context, Tx) error { return nil }))
	require.Error(t, store.WithTx(ctx, nil))
}

func TestClassifyPgErrorMarksRetryableStates(t *testing.T) {
	for _, code := range []string{"40001", "40P01", "55P03"} {
		err := classifyPgError(fmt.Errorf("update account: %w", &pgconn.PgError{Code: code}))
		require.ErrorIs(t, err, ErrConflict, "sqlstate %s", code)
	}

	unique := classifyPgError(&pgconn.PgError{Code: "23505"})
	require.False(t, errors.Is(unique, ErrConflict))

	plain := errors.New("boom")
	require.Equal(t, plain, classifyPgError(plain))
}
