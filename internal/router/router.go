package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/labguard/labguard-api/internal/config"
	"github.com/labguard/labguard-api/internal/handler"
	"github.com/labguard/labguard-api/internal/middleware"
	"github.com/labguard/labguard-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ValidationHandler *handler.ValidationHandler
	PlagiarismHandler *handler.PlagiarismHandler
	ProctoringHandler *handler.ProctoringHandler
	StreamHandler     *handler.StreamHandler
	JWTMiddleware     fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}
	instructorOnly := middleware.RequireRole("instructor", "admin")

	// Validation pipeline (instructor tooling)
	if deps.ValidationHandler != nil {
		validations := api.Group("/validations", jwtMiddleware, instructorOnly)
		deps.ValidationHandler.Register(validations)
	}

	// Plagiarism comparison and reports (instructor tooling)
	if deps.PlagiarismHandler != nil {
		plagiarism := api.Group("/plagiarism", jwtMiddleware, instructorOnly)
		deps.PlagiarismHandler.Register(plagiarism)
	}

	// Proctoring telemetry: students post events, instructors read sessions
	if deps.ProctoringHandler != nil {
		proctoring := api.Group("/proctoring", jwtMiddleware)
		events := proctoring.Group("", middleware.RateLimit("proctoring-events", 30, time.Second))
		deps.ProctoringHandler.Register(events)
		deps.ProctoringHandler.RegisterInstructor(proctoring.Group("", instructorOnly))
	}

	// Live event stream for instructor dashboards
	if deps.StreamHandler != nil {
		stream := api.Group("/stream", jwtMiddleware, instructorOnly)
		deps.StreamHandler.Register(stream)
	}
}
