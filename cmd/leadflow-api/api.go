package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/leadflow/pkg/eventbus"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/dukex/leadflow/pkg/refdata"
	"github.com/dukex/leadflow/pkg/registry"
	"github.com/dukex/leadflow/pkg/services"
	"github.com/dukex/leadflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	publisher   eventbus.EventPublisher
	refdata     *refdata.Store
	tracer      trace.Tracer
	validate    *validator.Validate
	metrics     *web.Metrics
}

// NewAPI wires the HTTP API. publisher, refdata and tracer may be nil.
func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	publisher eventbus.EventPublisher,
	refdata *refdata.Store,
	tracer trace.Tracer,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		publisher:   publisher,
		refdata:     refdata,
		tracer:      tracer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		metrics:     web.NewMetrics(),
	}
}

func (a *API) App() *fiber.App {
	flowService := services.NewFlow(a.persistence, a.publisher, a.tracer, a.logger)
	handlers := web.NewAPIHandlers(flowService, services.NewLeads(a.publisher, a.logger), a.refdata, a.registry, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))
	app.Use(a.metrics.Middleware())

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Leadflow API")
	})

	app.Get("/health", handlers.HealthCheck)
	app.Get("/metrics", a.metrics.Handler())

	handlers.Register(app.Group("/api/v1"))

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
