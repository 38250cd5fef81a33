// Package ledger applies the credit-line effect of order state changes to an
// account's line available. An Engine is bound to one transaction; the caller
// owns the transaction boundary.
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/user/tradekub/backend/internal/errs"
	"github.com/user/tradekub/backend/internal/models"
)

// Accounts is the account ledger view the engine writes through.
type Accounts interface {
	UpdateLineAvailable(ctx context.Context, accountID int64, lineAvailable decimal.Decimal) error
}

// Engine computes and applies line-available deltas.
type Engine struct {
	accounts Accounts
}

// New binds an engine to the transaction-scoped account ledger.
func New(accounts Accounts) *Engine {
	return &Engine{accounts: accounts}
}

// Hold is the credit an order currently keeps reserved: the unfilled notional of an open buy.
func Hold(order *models.Order) decimal.Decimal {
	if order == nil || order.Side != models.SideBuy || order.Status != models.StatusOpen {
		return decimal.Zero
	}
	return order.Notional()
}

// ReserveForCreate gates a new order. A buy consumes price x volume of the
// line available; a sell must be covered by settled holdings and consumes no credit.
// account is updated in place on success.
func (e *Engine) ReserveForCreate(ctx context.Context, account *models.Account, order *models.Order, holdings models.Holdings) error {
	switch order.Side {
	case models.SideBuy:
		required := order.Price.Mul(decimal.NewFromInt(order.Volume))
		if account.LineAvailable.LessThan(required) {
			return errs.New(errs.CodeInsufficientFunds,
				errs.WithMessage("Insufficient balance"),
				errs.WithCause(fmt.Errorf("account %d: available %s, required %s", account.ID, account.LineAvailable, required)),
			)
		}
		return e.set(ctx, account, account.LineAvailable.Sub(required))

	case models.SideSell:
		if len(holdings) == 0 {
			return errs.New(errs.CodeNoHoldingsToSell, errs.WithMessage("No stocks to sell"))
		}
		if held := holdings[order.Symbol]; held < order.Volume {
			return errs.New(errs.CodeInsufficientHoldings,
				errs.WithMessage("You don't have enough stocks to sell"),
				errs.WithCause(fmt.Errorf("account %d: holds %d %s, selling %d", account.ID, held, order.Symbol, order.Volume)),
			)
		}
		return nil

	default:
		return errs.Validation(fmt.Sprintf("invalid side %q", order.Side))
	}
}

// ReleaseOnCancel restores the unfilled notional of an open buy, so a partially
// filled order releases only what is still reserved. It returns the amount released.
func (e *Engine) ReleaseOnCancel(ctx context.Context, account *models.Account, order *models.Order) (decimal.Decimal, error) {
	released := Hold(order)
	if released.IsZero() {
		return decimal.Zero, nil
	}
	if err := e.set(ctx, account, account.LineAvailable.Add(released)); err != nil {
		return decimal.Zero, err
	}
	return released, nil
}

// ReconcileOnUpdate moves the hold of an open order from its old terms to its
// new terms: the old hold is released on oldAccount in full, then the new hold
// is applied on newAccount based solely on next. The accounts may be the same
// pointer. Orders that were not open carry no hold and are left alone.
func (e *Engine) ReconcileOnUpdate(ctx context.Context, oldAccount, newAccount *models.Account, old, next *models.Order) error {
	if old.Status != models.StatusOpen {
		return nil
	}

	released := Hold(old)
	applied := Hold(next)
	if released.IsZero() && applied.IsZero() {
		return nil
	}

	if oldAccount.ID == newAccount.ID {
		result := oldAccount.LineAvailable.Add(released).Sub(applied)
		if result.IsNegative() {
			return insufficientForUpdate(newAccount, applied, oldAccount.LineAvailable.Add(released))
		}
		return e.set(ctx, oldAccount, result)
	}

	if newAccount.LineAvailable.LessThan(applied) {
		return insufficientForUpdate(newAccount, applied, newAccount.LineAvailable)
	}
	if !released.IsZero() {
		if err := e.set(ctx, oldAccount, oldAccount.LineAvailable.Add(released)); err != nil {
			return err
		}
	}
	if !applied.IsZero() {
		return e.set(ctx, newAccount, newAccount.LineAvailable.Sub(applied))
	}
	return nil
}

func insufficientForUpdate(account *models.Account, required, available decimal.Decimal) error {
	return errs.New(errs.CodeInsufficientFunds,
		errs.WithMessage("Insufficient balance for updated order"),
		errs.WithCause(fmt.Errorf("account %d: available %s, required %s", account.ID, available, required)),
	)
}

func (e *Engine) set(ctx context.Context, account *models.Account, lineAvailable decimal.Decimal) error {
	if err := e.accounts.UpdateLineAvailable(ctx, account.ID, lineAvailable); err != nil {
		return fmt.Errorf("update line available: %w", err)
	}
	account.LineAvailable = lineAvailable
	return nil
}
