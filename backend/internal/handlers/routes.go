package handlers

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/user/tradekub/backend/internal/middleware"
	ws "github.com/user/tradekub/backend/internal/websocket"
)

// Routes carries the collaborators mounted by RegisterRoutes.
type Routes struct {
	Orders     *OrderHandler
	Hub        *ws.Hub
	FeedBuffer int
	// Throttle guards order entry and cancellation. Nil disables it.
	Throttle fiber.Handler
}

// RegisterRoutes mounts the HTTP and websocket surface on app.
func RegisterRoutes(app *fiber.App, r Routes) {
	throttle := r.Throttle
	if throttle == nil {
		throttle = func(c *fiber.Ctx) error { return c.Next() }
	}

	// --- Match feed ---
	// Subscribers are the match engine, so they authenticate as operators.
	if r.Hub != nil {
		wsGroup := app.Group("/ws", middleware.Protected(), middleware.RequireOperator())
		wsGroup.Use("/", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				c.Locals("allowed", true)
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		wsGroup.Get("/orders", websocket.New(MatchFeedEndpoint(r.Hub, r.FeedBuffer)))
	}

	api := app.Group("/api")
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api.Use(middleware.Protected())

	ordersGroup := api.Group("/orders")
	ordersGroup.Post("/", throttle, r.Orders.CreateOrder)
	ordersGroup.Get("/all", r.Orders.ListAllOrders)
	ordersGroup.Get("/account/:account_id", r.Orders.ListOrdersByAccount)
	ordersGroup.Post("/cancel", throttle, r.Orders.CancelOrderByBody)
	ordersGroup.Get("/:id", r.Orders.GetOrder)
	ordersGroup.Put("/:id", r.Orders.UpdateOrder)
	ordersGroup.Delete("/:id", throttle, r.Orders.CancelOrderByID)

	admin := api.Group("/admin", middleware.RequireOperator())
	admin.Post("/orders/endofday", r.Orders.EndOfDaySweep)
	admin.Delete("/orders/:id", r.Orders.DeleteOrder)

	api.Get("/portfolio/:account_id", r.Orders.GetPortfolio)
}
