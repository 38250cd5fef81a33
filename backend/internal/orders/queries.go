package orders

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/user/tradekub/backend/internal/errs"
	"github.com/user/tradekub/backend/internal/models"
)

// Get returns one order. Callers other than its owner need update privileges.
func (s *Service) Get(ctx context.Context, actor models.Actor, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, s.fail(ctx, "get", fmt.Errorf("get order %s: %w", orderID, err))
	}
	if order == nil {
		return nil, s.fail(ctx, "get", errs.NotFound("Order not found"))
	}
	if err := s.authorizeAccountRead(ctx, actor, order.AccountID); err != nil {
		return nil, s.fail(ctx, "get", err)
	}
	return order, nil
}

// ListAll returns every order, newest first. It is a back-office view.
func (s *Service) ListAll(ctx context.Context, actor models.Actor) ([]*models.Order, error) {
	if !actor.CanUpdateOrders() {
		return nil, s.fail(ctx, "list_all", errs.Unauthorized("Insufficient privileges to list all orders"))
	}
	orders, err := s.store.ListOrders(ctx)
	if err != nil {
		return nil, s.fail(ctx, "list_all", fmt.Errorf("list orders: %w", err))
	}
	if len(orders) == 0 {
		return nil, s.fail(ctx, "list_all", errs.NotFound("No orders found"))
	}
	return orders, nil
}

// ListByAccount returns the account's orders, newest submission first.
func (s *Service) ListByAccount(ctx context.Context, actor models.Actor, accountID int64) ([]*models.Order, error) {
	if err := s.authorizeAccountRead(ctx, actor, accountID); err != nil {
		return nil, s.fail(ctx, "list_by_account", err)
	}
	orders, err := s.store.ListOrdersByAccount(ctx, accountID)
	if err != nil {
		return nil, s.fail(ctx, "list_by_account", fmt.Errorf("list orders for account %d: %w", accountID, err))
	}
	if len(orders) == 0 {
		return nil, s.fail(ctx, "list_by_account", errs.NotFound("No orders found for this account"))
	}
	return orders, nil
}

// Portfolio returns the account's settled positions.
func (s *Service) Portfolio(ctx context.Context, actor models.Actor, accountID int64) (models.Holdings, error) {
	if err := s.authorizeAccountRead(ctx, actor, accountID); err != nil {
		return nil, s.fail(ctx, "portfolio", err)
	}
	holdings, err := s.store.Holdings(ctx, accountID)
	if err != nil {
		return nil, s.fail(ctx, "portfolio", fmt.Errorf("holdings for account %d: %w", accountID, err))
	}
	return holdings, nil
}

func (s *Service) authorizeAccountRead(ctx context.Context, actor models.Actor, accountID int64) error {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("get account %d: %w", accountID, err)
	}
	if account == nil {
		return errs.NotFound("Account not found")
	}
	if !actor.Owns(account) && !actor.CanUpdateOrders() {
		return errs.Unauthorized("You do not have permission to view this account")
	}
	return nil
}
