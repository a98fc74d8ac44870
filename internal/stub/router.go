package stub

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-sync/internal/auth"
	"github.com/spec-kit/ticket-sync/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *HealthHandler
	Auth           *AuthHandler
	Tickets        *TicketsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes. Everything under /api/v1/tickets
// requires a bearer token; status changes additionally require staff.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	api := app.Group("/api/v1")
	api.Post("/auth/login", cfg.Auth.Login)

	tickets := api.Group("/tickets", cfg.AuthMiddleware.Handle)
	tickets.Post("", cfg.Tickets.CreateTicket)
	tickets.Get("/:code", cfg.Tickets.GetTicket)
	tickets.Post("/:code/replies", cfg.Tickets.AddReply)
	tickets.Patch("/:code/status", auth.RequireRole(domain.AuthorStaff), cfg.Tickets.UpdateStatus)
}
