// Command eod runs the end-of-day sweep once as the system scheduler and exits.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/yanun0323/logs"

	"github.com/user/tradekub/backend/internal/bootstrap"
	"github.com/user/tradekub/backend/internal/config"
	"github.com/user/tradekub/backend/internal/models"
	"github.com/user/tradekub/backend/internal/orders"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logs.Errorf("end-of-day sweep failed: %v", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := bootstrap.OpenStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	// Runs without a match feed: subscribers connect to the server process.
	svc := orders.NewService(store, nil, orders.WithRetry(cfg.Orders.RetryMaxTries, cfg.Orders.RetryMaxElapsed))

	summary, err := svc.EndOfDaySweep(ctx, models.SystemActor())
	if err != nil {
		return err
	}
	logs.Infof("End-of-day sweep complete: cancelled=%d accounts=%d released=%s at=%s",
		summary.Cancelled, summary.Accounts, summary.Released, summary.SweptAt.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}
