// Package bootstrap builds the runtime collaborators shared by the binaries.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yanun0323/logs"

	"github.com/user/tradekub/backend/internal/config"
	"github.com/user/tradekub/backend/internal/database"
	"github.com/user/tradekub/backend/internal/database/sqlite"
)

// OpenStore opens the configured order store, migrating it first when asked.
// SQLite always migrates on open.
func OpenStore(ctx context.Context, cfg config.Storage) (database.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		if cfg.RunMigrations {
			if err := database.MigratePostgres(cfg.DatabaseURL); err != nil {
				return nil, err
			}
		}
		store, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logs.Infof("Using sqlite order store at %s", cfg.SQLitePath)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}
