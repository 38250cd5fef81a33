package orders

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"github.com/user/tradekub/backend/internal/database"
	"github.com/user/tradekub/backend/internal/errs"
	"github.com/user/tradekub/backend/internal/ledger"
	"github.com/user/tradekub/backend/internal/models"
)

// SweepSummary describes one end-of-day run.
type SweepSummary struct {
	Cancelled int             `json:"cancelled"`
	Released  decimal.Decimal `json:"released"`
	Accounts  int             `json:"accounts"`
	SweptAt   time.Time       `json:"swept_at"`
}

// EndOfDaySweep cancels every open order and releases its buy hold in a
// single transaction. Running it again with nothing open is a no-op.
func (s *Service) EndOfDaySweep(ctx context.Context, actor models.Actor) (SweepSummary, error) {
	if !actor.CanSweep() {
		return SweepSummary{}, s.fail(ctx, "sweep", errs.Unauthorized("Only administrators or the scheduler may run the end-of-day sweep"))
	}

	var summary SweepSummary
	var swept []*models.Order
	err := s.inTx(ctx, "sweep", func(ctx context.Context, tx database.Tx) error {
		summary = SweepSummary{Released: decimal.Zero}
		swept = nil

		open, err := tx.ListOrdersByStatusForUpdate(ctx, models.StatusOpen)
		if err != nil {
			return err
		}
		if len(open) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(open))
		for _, order := range open {
			ids = append(ids, order.AccountID)
		}
		accounts, err := lockAccounts(ctx, tx, ids...)
		if err != nil {
			return err
		}

		engine := ledger.New(tx)
		for _, order := range open {
			released, err := cancelOpen(ctx, tx, engine, accounts[order.AccountID], order)
			if err != nil {
				return err
			}
			summary.Released = summary.Released.Add(released)
		}
		summary.Cancelled = len(open)
		summary.Accounts = len(accounts)
		swept = open
		return nil
	})
	if err != nil {
		return SweepSummary{}, s.fail(ctx, "sweep", err)
	}
	summary.SweptAt = s.now().UTC()

	if summary.Cancelled == 0 {
		logs.Infof("End-of-day sweep by %s: no open orders", actor.Username)
		return summary, nil
	}

	logs.Infof("End-of-day sweep by %s: cancelled %d orders across %d accounts, released %s", actor.Username, summary.Cancelled, summary.Accounts, summary.Released)
	s.metrics.swept.Add(ctx, int64(summary.Cancelled))
	if err := s.notifier.OrdersCancelled(ctx, swept); err != nil {
		logs.Errorf("Failed to notify match engine of %d swept orders: %v", len(swept), err)
	}
	return summary, nil
}
