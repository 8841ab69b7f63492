package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/kiraya-in/kiraya-api/internal/utils"
)

// RequireRole ensures that the authenticated user possesses one of the
// allowed roles. Used to gate the operational endpoints (cleanup sweeps,
// listing expiry) behind the admin role.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		normalized := strings.ToLower(strings.TrimSpace(role))
		if normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		role := roleFromLocals(c)
		if _, ok := allowed[role]; !ok {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}

// roleFromLocals normalizes whatever the JWT middleware stored under
// user_role. Token claims arrive as strings, but test stubs may store other
// types.
func roleFromLocals(c *fiber.Ctx) string {
	value := c.Locals("user_role")
	if value == nil {
		return ""
	}

	var role string
	switch v := value.(type) {
	case string:
		role = v
	case fmt.Stringer:
		role = v.String()
	default:
		role = fmt.Sprintf("%v", value)
	}
	return strings.ToLower(strings.TrimSpace(role))
}
