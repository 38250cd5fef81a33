package orders

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/user/tradekub/backend/internal/auth"
	"github.com/user/tradekub/backend/internal/database"
	"github.com/user/tradekub/backend/internal/errs"
	"github.com/user/tradekub/backend/internal/ledger"
	"github.com/user/tradekub/backend/internal/models"
)

// CreateRequest is the order-entry payload. PIN authorizes the request and is
// never stored on or returned with the order.
type CreateRequest struct {
	AccountID int64           `json:"account_id"`
	Symbol    string          `json:"symbol"`
	Side      models.Side     `json:"side"`
	Type      string          `json:"type,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Volume    int64           `json:"volume"`
	Validity  string          `json:"validity,omitempty"`
	PIN       string          `json:"pin"`
}

func (r *CreateRequest) normalize() error {
	r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	if r.AccountID <= 0 {
		return errs.Validation("account_id is required")
	}
	if r.Symbol == "" {
		return errs.Validation("symbol is required")
	}
	side, err := models.ParseSide(string(r.Side))
	if err != nil {
		return errs.Validation(err.Error())
	}
	r.Side = side
	if !r.Price.IsPositive() {
		return errs.Validation("price must be positive")
	}
	if err := models.CheckPriceScale(r.Price); err != nil {
		return errs.Validation(err.Error())
	}
	if r.Volume <= 0 {
		return errs.Validation("volume must be positive")
	}
	if strings.TrimSpace(r.Type) == "" {
		r.Type = models.DefaultOrderType
	}
	if strings.TrimSpace(r.Validity) == "" {
		r.Validity = models.DefaultValidity
	}
	return nil
}

// Create validates and persists a new open order, reserving credit for buys.
// The match notifier is called after commit.
func (s *Service) Create(ctx context.Context, actor models.Actor, req CreateRequest) (*models.Order, error) {
	if err := req.normalize(); err != nil {
		return nil, s.fail(ctx, "create", err)
	}

	var order *models.Order
	err := s.inTx(ctx, "create", func(ctx context.Context, tx database.Tx) error {
		account, err := tx.GetAccountForUpdate(ctx, req.AccountID)
		if err != nil {
			return err
		}
		if account == nil {
			return errs.NotFound("Account not found")
		}
		exists, err := tx.SymbolExists(ctx, req.Symbol)
		if err != nil {
			return err
		}
		if !exists {
			return errs.NotFound(fmt.Sprintf("Stock %s not found", req.Symbol))
		}
		if !actor.Owns(account) && !actor.IsAdmin() {
			return errs.Unauthorized("You do not have permission to trade on this account")
		}
		if !auth.CheckPIN(req.PIN, account.PINHash) {
			return errs.Unauthorized("Invalid PIN")
		}

		order = &models.Order{
			ID:          uuid.New(),
			AccountID:   account.ID,
			Symbol:      req.Symbol,
			Side:        req.Side,
			Type:        req.Type,
			Price:       req.Price,
			Volume:      req.Volume,
			Matched:     0,
			Balance:     req.Volume,
			Status:      models.StatusOpen,
			Cancelled:   false,
			Validity:    req.Validity,
			SubmittedAt: s.now().UTC(),
		}

		var holdings models.Holdings
		if order.Side == models.SideSell {
			if holdings, err = tx.Holdings(ctx, account.ID); err != nil {
				return err
			}
		}
		if err := ledger.New(tx).ReserveForCreate(ctx, account, order, holdings); err != nil {
			return err
		}
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		return nil, s.fail(ctx, "create", err)
	}

	logs.Infof("Order %s created for account %d: %s %d %s @ %s", order.ID, order.AccountID, order.Side, order.Volume, order.Symbol, order.Price)
	s.metrics.created.Add(ctx, 1, metric.WithAttributes(attribute.String("side", string(order.Side))))

	if err := s.notifier.OrderCreated(ctx, order); err != nil {
		logs.Errorf("CRITICAL: Failed to submit committed order %s to match engine: %v", order.ID, err)
	}
	return order, nil
}

// AuthMode selects the checks a cancellation must pass.
type AuthMode int

const (
	// AuthOwnership requires the actor to own the order's account.
	AuthOwnership AuthMode = iota
	// AuthOwnershipPIN additionally requires the account PIN.
	AuthOwnershipPIN
)

func (m AuthMode) String() string {
	switch m {
	case AuthOwnership:
		return "ownership"
	case AuthOwnershipPIN:
		return "ownership_pin"
	default:
		return fmt.Sprintf("AuthMode(%d)", int(m))
	}
}

// CancelRequest identifies the order to cancel and how the caller is authorized.
type CancelRequest struct {
	OrderID uuid.UUID `json:"id"`
	PIN     string    `json:"pin"`
	Mode    AuthMode  `json:"-"`
}

// CancelResult reports the cancelled order and the credit returned to its account.
type CancelResult struct {
	Order    *models.Order   `json:"order"`
	Released decimal.Decimal `json:"released"`
}

// CancelByID cancels an order the actor owns.
func (s *Service) CancelByID(ctx context.Context, actor models.Actor, orderID uuid.UUID) (*CancelResult, error) {
	return s.Cancel(ctx, actor, CancelRequest{OrderID: orderID, Mode: AuthOwnership})
}

// CancelWithPIN cancels an order the actor owns, checking the account PIN as well.
func (s *Service) CancelWithPIN(ctx context.Context, actor models.Actor, orderID uuid.UUID, pin string) (*CancelResult, error) {
	return s.Cancel(ctx, actor, CancelRequest{OrderID: orderID, PIN: pin, Mode: AuthOwnershipPIN})
}

// Cancel moves an open order to cancelled and releases its remaining hold.
// Administrators pass the ownership check; the PIN is required in AuthOwnershipPIN mode regardless.
func (s *Service) Cancel(ctx context.Context, actor models.Actor, req CancelRequest) (*CancelResult, error) {
	if req.Mode != AuthOwnership && req.Mode != AuthOwnershipPIN {
		return nil, s.fail(ctx, "cancel", errs.Validation(fmt.Sprintf("unsupported auth mode %s", req.Mode)))
	}

	var result *CancelResult
	err := s.inTx(ctx, "cancel", func(ctx context.Context, tx database.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return errs.NotFound("Order not found")
		}
		account, err := tx.GetAccountForUpdate(ctx, order.AccountID)
		if err != nil {
			return err
		}
		if account == nil {
			return errs.NotFound("Account not found")
		}
		if !actor.Owns(account) && !actor.IsAdmin() {
			return errs.Unauthorized("You do not have permission to cancel this order")
		}
		if req.Mode == AuthOwnershipPIN && !auth.CheckPIN(req.PIN, account.PINHash) {
			return errs.Unauthorized("Invalid PIN")
		}

		released, err := cancelOpen(ctx, tx, ledger.New(tx), account, order)
		if err != nil {
			return err
		}
		result = &CancelResult{Order: order, Released: released}
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, "cancel", err)
	}

	logs.Infof("Order %s cancelled by %s (%s), released %s to account %d", result.Order.ID, actor.Username, req.Mode, result.Released, result.Order.AccountID)
	s.metrics.cancelled.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", req.Mode.String())))

	if err := s.notifier.OrdersCancelled(ctx, []*models.Order{result.Order}); err != nil {
		logs.Errorf("Failed to notify match engine of cancelled order %s: %v", result.Order.ID, err)
	}
	return result, nil
}

// cancelOpen is the cancellation primitive shared with the sweep. account must
// already be locked in tx.
func cancelOpen(ctx context.Context, tx database.Tx, engine *ledger.Engine, account *models.Account, order *models.Order) (decimal.Decimal, error) {
	if !order.IsOpen() {
		return decimal.Zero, errs.New(errs.CodeAlreadyCancelled,
			errs.WithMessage("Order is already cancelled or closed"),
			errs.WithCause(fmt.Errorf("order %s has status %s", order.ID, order.Status)),
		)
	}
	released, err := engine.ReleaseOnCancel(ctx, account, order)
	if err != nil {
		return decimal.Zero, err
	}
	order.Status = models.StatusCancelled
	order.Cancelled = true
	if err := tx.UpdateOrder(ctx, order); err != nil {
		return decimal.Zero, err
	}
	return released, nil
}

// UpdateRequest is a full replacement of an order's mutable fields. Side and
// Status are validated here so malformed values surface as validation errors.
type UpdateRequest struct {
	OrderID   uuid.UUID       `json:"id"`
	AccountID int64           `json:"account_id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Type      string          `json:"type"`
	Price     decimal.Decimal `json:"price"`
	Volume    int64           `json:"volume"`
	Matched   int64           `json:"matched"`
	Balance   int64           `json:"balance"`
	Status    string          `json:"status"`
	Cancelled bool            `json:"cancelled"`
	Validity  string          `json:"validity"`
}

func (r UpdateRequest) toOrder() (*models.Order, error) {
	if r.AccountID <= 0 {
		return nil, errs.Validation("account_id is required")
	}
	side, err := models.ParseSide(r.Side)
	if err != nil {
		return nil, errs.Validation(err.Error())
	}
	status, err := models.ParseStatus(r.Status)
	if err != nil {
		return nil, errs.Validation(err.Error())
	}
	next := &models.Order{
		ID:        r.OrderID,
		AccountID: r.AccountID,
		Symbol:    strings.ToUpper(strings.TrimSpace(r.Symbol)),
		Side:      side,
		Type:      strings.TrimSpace(r.Type),
		Price:     r.Price,
		Volume:    r.Volume,
		Matched:   r.Matched,
		Balance:   r.Balance,
		Status:    status,
		Cancelled: r.Cancelled,
		Validity:  strings.TrimSpace(r.Validity),
	}
	if next.Type == "" {
		next.Type = models.DefaultOrderType
	}
	if next.Validity == "" {
		next.Validity = models.DefaultValidity
	}
	if err := next.Validate(); err != nil {
		return nil, errs.Validation(err.Error())
	}
	return next, nil
}

// Update replaces every mutable field of an order and moves its credit hold
// to the new terms. Only administrators and broker managers may call it.
func (s *Service) Update(ctx context.Context, actor models.Actor, req UpdateRequest) (*models.Order, error) {
	if !actor.CanUpdateOrders() {
		return nil, s.fail(ctx, "update", errs.Unauthorized("Insufficient privileges to update orders"))
	}
	if _, err := req.toOrder(); err != nil {
		return nil, s.fail(ctx, "update", err)
	}

	var previous, updated *models.Order
	err := s.inTx(ctx, "update", func(ctx context.Context, tx database.Tx) error {
		next, err := req.toOrder()
		if err != nil {
			return err
		}
		old, err := tx.GetOrderForUpdate(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if old == nil {
			return errs.NotFound("Order not found")
		}
		if !old.IsOpen() && next.IsOpen() {
			return errs.Validation("Closed orders cannot be reopened")
		}
		accounts, err := lockAccounts(ctx, tx, old.AccountID, next.AccountID)
		if err != nil {
			return err
		}
		if next.Symbol != old.Symbol {
			exists, err := tx.SymbolExists(ctx, next.Symbol)
			if err != nil {
				return err
			}
			if !exists {
				return errs.NotFound(fmt.Sprintf("Stock %s not found", next.Symbol))
			}
		}

		engine := ledger.New(tx)
		if err := engine.ReconcileOnUpdate(ctx, accounts[old.AccountID], accounts[next.AccountID], old, next); err != nil {
			return err
		}
		next.SubmittedAt = old.SubmittedAt
		if err := tx.UpdateOrder(ctx, next); err != nil {
			return err
		}
		previous, updated = old, next
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, "update", err)
	}

	logs.Infof("Order %s updated by %s: %s %d/%d %s @ %s status %s", updated.ID, actor.Username, updated.Side, updated.Balance, updated.Volume, updated.Symbol, updated.Price, updated.Status)
	if previous.IsOpen() && updated.Status == models.StatusCancelled {
		if err := s.notifier.OrdersCancelled(ctx, []*models.Order{updated}); err != nil {
			logs.Errorf("Failed to notify match engine of cancelled order %s: %v", updated.ID, err)
		}
	}
	return updated, nil
}

// Delete removes an order row. Any credit still held by an open buy is
// released first so the account stays balanced.
func (s *Service) Delete(ctx context.Context, actor models.Actor, orderID uuid.UUID) error {
	if !actor.IsAdmin() {
		return s.fail(ctx, "delete", errs.Unauthorized("Admin privileges required"))
	}

	var released decimal.Decimal
	var deleted *models.Order
	err := s.inTx(ctx, "delete", func(ctx context.Context, tx database.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return errs.NotFound("Order not found")
		}
		released = decimal.Zero
		if !ledger.Hold(order).IsZero() {
			accounts, err := lockAccounts(ctx, tx, order.AccountID)
			if err != nil {
				return err
			}
			if released, err = ledger.New(tx).ReleaseOnCancel(ctx, accounts[order.AccountID], order); err != nil {
				return err
			}
		}
		deleted = order
		return tx.DeleteOrder(ctx, orderID)
	})
	if err != nil {
		return s.fail(ctx, "delete", err)
	}

	logs.Infof("Order %s deleted by %s, released %s to account %d", orderID, actor.Username, released, deleted.AccountID)
	if deleted.IsOpen() {
		if err := s.notifier.OrdersCancelled(ctx, []*models.Order{deleted}); err != nil {
			logs.Errorf("Failed to notify match engine of deleted order %s: %v", orderID, err)
		}
	}
	return nil
}
