package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/user/tradekub/backend/internal/auth"
	"github.com/user/tradekub/backend/internal/errs"
	"github.com/user/tradekub/backend/internal/models"
)

// ActorKey is the fiber local holding the authenticated models.Actor.
const ActorKey = "actor"

// reject writes the same {code, error} envelope the handlers use.
func reject(c *fiber.Ctx, err *errs.E) error {
	return c.Status(errs.HTTPStatus(err.Code)).JSON(fiber.Map{"code": err.Code, "error": err.Message})
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return reject(c, errs.Unauthorized(msg))
}

// Protected verifies the bearer token and stores the caller as an Actor.
func Protected() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return unauthorized(c, "Missing authorization header")
		}

		// Expecting "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return unauthorized(c, "Invalid authorization header format")
		}

		claims, err := auth.ValidateJWT(parts[1])
		if err != nil {
			return unauthorized(c, "Invalid or expired token")
		}

		c.Locals(ActorKey, claims.Actor())
		return c.Next()
	}
}

// ActorFrom returns the actor stored by Protected.
func ActorFrom(c *fiber.Ctx) (models.Actor, bool) {
	actor, ok := c.Locals(ActorKey).(models.Actor)
	return actor, ok
}

// RequireOperator admits administrators and the system scheduler only.
func RequireOperator() fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := ActorFrom(c)
		if !ok {
			return unauthorized(c, "Invalid user in token")
		}
		if !actor.CanSweep() {
			return unauthorized(c, "Admin privileges required")
		}
		return c.Next()
	}
}
