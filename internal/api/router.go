package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/contract-intel/backend/internal/api/handlers"
	"github.com/contract-intel/backend/internal/metrics"
	"github.com/contract-intel/backend/internal/middleware/ratelimit"
	"github.com/contract-intel/backend/internal/middleware/security"
	"github.com/contract-intel/backend/internal/middleware/validation"
)

type Config struct {
	Env               string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	BodyLimit         int
	MaxQuestionLength int
	// RequestsPerMinute enables rate limiting when positive.
	RequestsPerMinute int
	AccessLog         bool
}

// Deps are the collaborators built at start-up. History may be nil when the
// journal is disabled.
type Deps struct {
	Ingester handlers.Ingester
	Answers  interface {
		handlers.Answerer
		handlers.Analyzer
	}
	History  handlers.History
	Notifier handlers.Notifier
	Counters *metrics.Counters
	Gatherer prometheus.Gatherer
}

func NewApp(cfg Config, deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "contract-api",
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		BodyLimit:             cfg.BodyLimit,
		ErrorHandler:          errorHandler(deps.Counters),
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if cfg.AccessLog {
		app.Use(fiberlogger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-API-Key",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{IsDevelopment: cfg.Env == "development"}))

	if cfg.RequestsPerMinute > 0 {
		limiter := ratelimit.New(ratelimit.Config{
			RequestsPerMinute: cfg.RequestsPerMinute,
			OnReject:          deps.Counters.IncErrors,
		})
		app.Use(limiter.Middleware())
		app.Hooks().OnShutdown(func() error {
			limiter.Stop()
			return nil
		})
	}

	app.Use(validation.Middleware(validation.Config{
		MaxQuestionLength: cfg.MaxQuestionLength,
		OnReject:          deps.Counters.IncErrors,
		QuestionRoutes: map[string]string{
			"/ask":        "body",
			"/ask/stream": "query",
		},
	}))

	documentHandler := handlers.NewDocumentHandler(deps.Ingester)
	queryHandler := handlers.NewQueryHandler(deps.Answers, deps.History, deps.Counters)
	contractHandler := handlers.NewContractHandler(deps.Answers)
	webhookHandler := handlers.NewWebhookHandler(deps.Notifier, deps.Counters)
	wsHandler := handlers.NewWebSocketHandler(deps.Answers)

	app.Post("/ingest", documentHandler.Ingest)
	app.Post("/extract", contractHandler.Extract)
	app.Post("/audit", contractHandler.Audit)

	app.Post("/ask", queryHandler.Ask)
	app.Get("/ask/stream", queryHandler.Stream)
	app.Get("/ask/history", queryHandler.History)
	app.Use("/ask/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ask/ws", websocket.New(wsHandler.HandleConnection))

	app.Post("/webhook/events", webhookHandler.Events)

	app.Get("/metrics", func(c *fiber.Ctx) error {
		return c.JSON(deps.Counters.Snapshot())
	})
	if deps.Gatherer != nil {
		app.Get("/metrics/prometheus", metrics.MetricsHandler(deps.Gatherer))
	}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"env":    cfg.Env,
		})
	})

	return app
}

// errorHandler answers failures raised outside the handlers (unknown routes,
// oversized bodies, recovered panics) and counts each one.
func errorHandler(counters *metrics.Counters) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		counters.IncErrors()

		code := fiber.StatusInternalServerError
		kind := "internal"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			switch {
			case code == fiber.StatusNotFound:
				kind = "not_found"
			case code < fiber.StatusInternalServerError:
				kind = "invalid_input"
			}
		}

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
			"kind":  kind,
		})
	}
}
