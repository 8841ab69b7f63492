package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kiraya-in/kiraya-api/internal/config"
	"github.com/kiraya-in/kiraya-api/internal/handler"
	"github.com/kiraya-in/kiraya-api/internal/middleware"
	"github.com/kiraya-in/kiraya-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ChatHandler         *handler.ChatHandler
	RoomHandler         *handler.RoomHandler
	NotificationHandler *handler.NotificationHandler
	JWTMiddleware       fiber.Handler
	RoomCreateLimit     fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.ChatHandler != nil {
		chat := app.Group("/api/v2/chat", jwtMiddleware)
		deps.ChatHandler.Register(chat)

		if deps.RoomHandler != nil {
			rooms := chat.Group("/rooms")
			deps.RoomHandler.Register(rooms, deps.RoomCreateLimit)

			admin := chat.Group("/admin", middleware.RequireRole("admin"))
			deps.RoomHandler.RegisterAdmin(admin)
		}
	}

	if deps.NotificationHandler != nil {
		notifications := app.Group("/api/v2/notifications", jwtMiddleware)
		deps.NotificationHandler.Register(notifications)
	}
}
