// Package web provides the HTTP handlers of the flow API.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/leadflow/pkg/graph"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/refdata"
	"github.com/dukex/leadflow/pkg/registry"
	"github.com/dukex/leadflow/pkg/services"
	"github.com/dukex/leadflow/pkg/wire"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	flowService *services.Flow
	leads       *services.Leads
	refdata     *refdata.Store
	registry    *registry.Registry
	codec       *wire.Codec
	validator   *validator.Validate
}

// NewAPIHandlers creates the handlers. refdata may be nil, in which case the
// reference data endpoints answer 503.
func NewAPIHandlers(
	flowService *services.Flow,
	leads *services.Leads,
	refdata *refdata.Store,
	registry *registry.Registry,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		flowService: flowService,
		leads:       leads,
		refdata:     refdata,
		registry:    registry,
		codec:       wire.NewCodec(registry),
		validator:   validator,
	}
}

// Register mounts every endpoint on router, normally the /api/v1 group.
func (h *APIHandlers) Register(router fiber.Router) {
	f := router.Group("/flows")
	f.Get("/", h.ListFlows)
	f.Post("/", h.CreateFlow)
	f.Post("/validate", h.ValidateFlow)
	f.Get("/:id", h.GetFlow)
	f.Put("/:id", h.UpdateFlow)
	f.Delete("/:id", h.DeleteFlow)
	f.Post("/:id/duplicate", h.DuplicateFlow)
	f.Post("/:id/activate", h.ActivateFlow)
	f.Post("/:id/deactivate", h.DeactivateFlow)

	crm := router.Group("/amocrm")
	crm.Get("/fields", h.GetFields)
	crm.Get("/pipelines", h.GetPipelines)

	dialer := router.Group("/dialer")
	dialer.Get("/schedulers", h.GetSchedulers)
	dialer.Get("/campaigns", h.GetCampaigns)
	dialer.Get("/buckets", h.GetBuckets)
	dialer.Post("/sync", h.SyncReferenceData)

	router.Post("/leads/events", h.LeadUpdated)
	router.Get("/schemas", h.GetSchemas)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.flowService.HealthCheck(c.Context())

	refdataCheck := "Reference data not configured"
	if h.refdata != nil {
		refdataCheck = "Reference data not loaded yet"

		if loadedAt := h.refdata.LoadedAt(); !loadedAt.IsZero() {
			refdataCheck = "Reference data loaded at " + loadedAt.Format(time.RFC3339)
		}
	}

	status := "unhealthy"
	message := "Leadflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Leadflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
			"refdata":    refdataCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) ListFlows(c fiber.Ctx) error {
	req := services.ListRequest{
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}

	if activeStr := c.Query("active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			return badRequest(c, "Invalid query parameters: active must be a boolean")
		}

		req.ActiveOnly = active
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	summaries, err := h.flowService.List(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(summaries)
}

// bindFlow reads a FlowRequest body into a flow. A non-empty detail means
// the body was rejected.
func (h *APIHandlers) bindFlow(c fiber.Ctx) (models.Flow, string) {
	var req FlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return models.Flow{}, "Invalid JSON format"
	}

	if err := h.validator.Struct(req); err != nil {
		return models.Flow{}, err.Error()
	}

	g, err := h.codec.DecodeGraph(*req.FlowData)
	if err != nil {
		return models.Flow{}, err.Error()
	}

	return models.Flow{Name: req.Name, Graph: g, IsActive: req.IsActive}, ""
}

// respondFlow writes flow as a wire document.
func (h *APIHandlers) respondFlow(c fiber.Ctx, status int, flow models.Flow) error {
	doc, err := h.codec.EncodeFlow(flow)
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(status).JSON(doc)
}

func (h *APIHandlers) CreateFlow(c fiber.Ctx) error {
	flow, detail := h.bindFlow(c)
	if detail != "" {
		return badRequest(c, detail)
	}

	created, err := h.flowService.Create(c.Context(), flow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return h.respondFlow(c, fiber.StatusCreated, created)
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	flow, err := h.flowService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return h.respondFlow(c, fiber.StatusOK, flow)
}

// UpdateFlow fully replaces a stored flow.
func (h *APIHandlers) UpdateFlow(c fiber.Ctx) error {
	flow, detail := h.bindFlow(c)
	if detail != "" {
		return badRequest(c, detail)
	}

	updated, err := h.flowService.Update(c.Context(), c.Params("id"), flow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return h.respondFlow(c, fiber.StatusOK, updated)
}

func (h *APIHandlers) DeleteFlow(c fiber.Ctx) error {
	err := h.flowService.Delete(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) DuplicateFlow(c fiber.Ctx) error {
	duplicate, err := h.flowService.Duplicate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return h.respondFlow(c, fiber.StatusCreated, duplicate)
}

func (h *APIHandlers) ActivateFlow(c fiber.Ctx) error {
	flow, err := h.flowService.Activate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return h.respondFlow(c, fiber.StatusOK, flow)
}

func (h *APIHandlers) DeactivateFlow(c fiber.Ctx) error {
	flow, err := h.flowService.Deactivate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return h.respondFlow(c, fiber.StatusOK, flow)
}

// ValidateFlow checks a graph without storing it.
func (h *APIHandlers) ValidateFlow(c fiber.Ctx) error {
	var req ValidateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	g, err := h.codec.DecodeGraph(*req.FlowData)
	if err != nil {
		return badRequest(c, err.Error())
	}

	violations := h.flowService.Validate(c.Context(), g)
	if violations == nil {
		violations = []graph.Violation{}
	}

	return c.JSON(ValidateResponse{Valid: len(violations) == 0, Violations: violations})
}

// GetSchemas lists the config schema of every node kind and subtype.
func (h *APIHandlers) GetSchemas(c fiber.Ctx) error {
	return c.JSON(h.registry.Schemas())
}

// LeadUpdated accepts a CRM lead change and queues it for the engine.
func (h *APIHandlers) LeadUpdated(c fiber.Ctx) error {
	var req LeadEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.leads.Updated(c.Context(), req.LeadID, req.Attributes)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}
