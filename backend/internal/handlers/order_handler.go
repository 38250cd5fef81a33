package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"github.com/user/tradekub/backend/internal/errs"
	"github.com/user/tradekub/backend/internal/middleware"
	"github.com/user/tradekub/backend/internal/models"
	"github.com/user/tradekub/backend/internal/orders"
)

// OrderHandler exposes the order lifecycle over HTTP.
type OrderHandler struct {
	svc *orders.Service
}

// NewOrderHandler wraps the lifecycle service.
func NewOrderHandler(svc *orders.Service) *OrderHandler {
	return &OrderHandler{svc: svc}
}

// cancelBody is the payload of POST /api/orders/cancel.
type cancelBody struct {
	ID  uuid.UUID `json:"id"`
	PIN string    `json:"pin"`
}

func respondError(c *fiber.Ctx, err error) error {
	code := errs.CodeOf(err)
	if code == errs.CodeInternal {
		logs.Errorf("%s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(errs.HTTPStatus(code)).JSON(fiber.Map{"code": code, "error": errs.MessageOf(err)})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return respondError(c, errs.Validation(msg))
}

func actorOf(c *fiber.Ctx) (models.Actor, error) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return models.Actor{}, errs.Unauthorized("Invalid user in token")
	}
	return actor, nil
}

func orderIDParam(c *fiber.Ctx) (uuid.UUID, error) {
	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, errs.Validation("Invalid order ID format")
	}
	return orderID, nil
}

func accountIDParam(c *fiber.Ctx) (int64, error) {
	accountID, err := strconv.ParseInt(c.Params("account_id"), 10, 64)
	if err != nil || accountID <= 0 {
		return 0, errs.Validation("Invalid account ID")
	}
	return accountID, nil
}

// CreateOrder handles POST /api/orders.
func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	actor, err := actorOf(c)
	if err != nil {
		return respondError(c, err)
	}
	req := new(orders.CreateRequest)
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "Cannot parse request body")
	}

	order, err := h.svc.Create(c.UserContext(), actor, *req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(order)
}

// ListAllOrders handles GET /api/orders/all.
func (h *OrderHandler) ListAllOrders(c *fiber.Ctx) error {
	actor, err := actorOf(c)
	if err != nil {
		return respondError(c, err)
	}
	list, err := h.svc.ListAll(c.UserContext(), actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(list)
}

// ListOrdersByAccount handles GET /api/orders/account/:account_id.
func (h *OrderHandler) ListOrdersByAccount(c *fiber.Ctx) error {
	actor, err := actorOf(c)
	if err != nil {
		return respondError(c, err)
	}
	accountID, err := accountIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	list, err := h.svc.ListByAccount(c.UserContext(), actor, accountID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(list)
}

// GetOrder handles GET /api/orders/:id.
func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	actor, err := actorOf(c)
	if err != nil {
		return respondError(c, err)
	}
	orderID, err := orderIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	order, err := h.svc.Get(c.UserContext(), actor, orderID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(order)
}

// CancelOrderByBody handles POST /api/orders/cancel with {id, pin}.
func (h *OrderHandler) CancelOrderByBody(c *fiber.Ctx) error {
	actor, err := actorOf(c)
	if err != nil {
		return respondError(c, err)
	}
	body := new(cancelBody)
	if err := c.BodyParser(body); err != nil || body.ID == uuid.Nil {
		return badRequest(c, "Cannot parse request body")
	}
	result, err := h.svc.CancelWithPIN(c.UserContext(), actor, body.ID, body.PIN)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"result": result})
}

// CancelOrderByID handles DELETE /api/orders/:id.
func (h *OrderHandler) CancelOrderByID(c *fiber.Ctx) error {
	actor, err := actorOf(c)
	if err != nil {
		return respondError(c, err)
	}
	orderID, err := orderIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	result, err := h.svc.CancelByID(c.UserContext(), actor, orderID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"result": result})
}

// UpdateOrder handles PUT /api/orders/:id with a full replacement payload.
func (h *OrderHandler) UpdateOrder(c *fiber.Ctx) error {
	actor, err := actorOf(c)
	if err != nil {
		return respondError(c, err)
	}
	orderID, err := orderIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	req := new(orders.UpdateRequest)
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "Cannot parse request body")
	}
	req.OrderID = orderID

	order, err := h.svc.Update(c.UserContext(), actor, *req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"result": order})
}

// EndOfDaySweep handles POST /api/admin/orders/endofday.
func (h *OrderHandler) EndOfDaySweep(c *fiber.Ctx) error {
	actor, err := actorOf(c)
	if err != nil {
		return respondError(c, err)
	}
	summary, err := h.svc.EndOfDaySweep(c.UserContext(), actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(summary)
}

// DeleteOrder handles DELETE /api/admin/orders/:id.
func (h *OrderHandler) DeleteOrder(c *fiber.Ctx) error {
	actor, err := actorOf(c)
	if err != nil {
		return respondError(c, err)
	}
	orderID, err := orderIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := h.svc.Delete(c.UserContext(), actor, orderID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"result": "deleted", "id": orderID})
}
