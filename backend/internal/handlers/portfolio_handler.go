package handlers

import (
	"github.com/gofiber/fiber/v2"
)

// GetPortfolio handles GET /api/portfolio/:account_id, the settled holdings of one account.
func (h *OrderHandler) GetPortfolio(c *fiber.Ctx) error {
	actor, err := actorOf(c)
	if err != nil {
		return respondError(c, err)
	}
	accountID, err := accountIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	holdings, err := h.svc.Portfolio(c.UserContext(), actor, accountID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"account_id": accountID, "holdings": holdings})
}
