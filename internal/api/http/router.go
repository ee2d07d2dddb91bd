package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/intake-service/internal/api/http/handlers"
	"github.com/spec-kit/intake-service/internal/auth"
	"github.com/spec-kit/intake-service/internal/domain"
	"github.com/spec-kit/intake-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Webhook        *handlers.WebhookHandler
	Auth           *handlers.AuthHandler
	Verification   *handlers.VerificationHandler
	DeadLetters    *handlers.DeadLetterHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	webhooks := app.Group("/webhooks")
	webhooks.Get("/whatsapp", cfg.Webhook.Verify)
	webhooks.Post("/whatsapp", cfg.Webhook.Receive)

	app.Post("/auth/login", cfg.Auth.Login)

	verification := app.Group("/verification", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	verification.Post("/redeem", cfg.Verification.Redeem)

	admin := app.Group("/admin", cfg.AuthMiddleware.Handle, auth.RequireRole(domain.AccountRoleAdmin))
	admin.Get("/dead-letters", cfg.DeadLetters.List)
	admin.Post("/dead-letters/:id/replay", cfg.DeadLetters.Replay)
}
