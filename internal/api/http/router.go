package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/idempotency"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health           *handlers.HealthHandler
	Users            *handlers.UsersHandler
	Tickets          *handlers.TicketsHandler
	Comments         *handlers.CommentsHandler
	AuthMiddleware   *auth.Middleware
	IdempotencyCache *idempotency.Cache
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	api := app.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.Post("/register", cfg.Users.Register)
	authGroup.Post("/login", cfg.Users.Login)

	tickets := api.Group("/tickets", cfg.AuthMiddleware.Handle)
	tickets.Post("/", idempotency.Middleware(cfg.IdempotencyCache), cfg.Tickets.Create)
	tickets.Get("/", cfg.Tickets.List)
	// Registered before /:id so "breached" is not captured as a ticket id.
	tickets.Get("/breached", cfg.Tickets.ListBreached)
	tickets.Get("/:id", cfg.Tickets.Get)
	tickets.Patch("/:id", cfg.Tickets.Patch)
	tickets.Post("/:id/comments", cfg.Comments.Create)
}
