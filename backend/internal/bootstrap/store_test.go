package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/user/tradekub/backend/internal/config"
)

func TestOpenStoreSQLite(t *testing.T) {
	store, err := OpenStore(context.Background(), config.Storage{
		Driver:     config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "orders.db"),
	})
	require.NoError(t, err)
	defer store.Close()

	account, err := store.GetAccount(context.Background(), 1)
	require.NoError(t, err)
	require.Nil(t, account)
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), config.Storage{Driver: "mysql"})
	require.Error(t, err)
}
