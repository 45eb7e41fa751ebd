// Package server is the HTTP surface of the bridge: the webhook endpoints the
// bot platform calls into, plus probes and metrics.
package server

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/handoff-bridge/internal/health"
	"github.com/p-blackswan/handoff-bridge/internal/metrics"
	"github.com/p-blackswan/handoff-bridge/internal/requestid"
)

// Config holds the webhook server settings.
type Config struct {
	ListenAddr string
	// APIKey protects the webhook endpoints; empty disables auth.
	APIKey string
}

// ProblemDetail is the error body for every non-2xx response.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// Server is the webhook Fiber application.
type Server struct {
	app      *fiber.App
	handlers *Handlers
	logger   zerolog.Logger
	config   Config
}

// NewServer creates and configures the webhook server.
func NewServer(cfg Config, h *Handlers, checker *health.Checker, mets *metrics.Metrics, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	s := &Server{
		app:      app,
		handlers: h,
		logger:   logger.With().Str("component", "server").Logger(),
		config:   cfg,
	}

	s.setupMiddleware(cfg, logger)
	s.setupRoutes(h, checker, mets)
	return s
}

func (s *Server) setupMiddleware(cfg Config, logger zerolog.Logger) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID middleware
	s.app.Use(func(c *fiber.Ctx) error {
		_, reqID := requestid.New(c.Context())
		c.Set("X-Request-ID", reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	// Bearer auth for webhook endpoints. Probes and metrics stay open.
	s.app.Use(func(c *fiber.Ctx) error {
		if cfg.APIKey == "" {
			return c.Next()
		}
		path := c.Path()
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
			return c.Next()
		}

		auth := c.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			return problemResponse(c, fiber.StatusUnauthorized,
				"missing_auth", "Unauthorized",
				"Authorization header must use Bearer scheme")
		}
		if strings.TrimPrefix(auth, "Bearer ") != cfg.APIKey {
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_token", "Unauthorized",
				"Invalid API key")
		}
		return c.Next()
	})

	// Request logging, skipping the probe noise.
	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
			return c.Next()
		}
		logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Msg("webhook request")
		return c.Next()
	})
}

func (s *Server) setupRoutes(h *Handlers, checker *health.Checker, mets *metrics.Metrics) {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Get("/readyz", func(c *fiber.Ctx) error {
		results := checker.RunAll(c.Context())
		ready := true
		for _, st := range results {
			if st == health.StatusDown {
				ready = false
				break
			}
		}
		status := fiber.StatusOK
		body := fiber.Map{"status": "ready", "checks": results}
		if !ready {
			status = fiber.StatusServiceUnavailable
			body["status"] = "not_ready"
		}
		return c.Status(status).JSON(body)
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(mets.Handler()))

	hooks := s.app.Group("/hooks")
	hooks.Post("/agent-transfer", h.AgentTransfer)
	hooks.Post("/message", h.VisitorMessage)
	hooks.Post("/bot-message", h.BotMessage)
	hooks.Post("/event", h.Event)

	components := hooks.Group("/components")
	components.Post("/contact", h.ContactSync)
	components.Post("/case", h.CaseCreate)
	components.Get("/case-number/:caseId", h.CaseNumber)
	components.Post("/feedback", h.Feedback)
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Info().Str("addr", addr).Msg("webhook server starting")
	return s.app.Listen(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("webhook server shutting down")
	return s.app.Shutdown()
}

// App exposes the Fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func errorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")

		detail := err.Error()
		if code == fiber.StatusInternalServerError {
			detail = "An internal error occurred"
		}

		return c.Status(code).JSON(ProblemDetail{
			Type:     "internal_error",
			Title:    "Internal Server Error",
			Status:   code,
			Detail:   detail,
			Instance: c.Path(),
		})
	}
}

func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}
