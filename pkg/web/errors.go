package web

import (
	"errors"

	"github.com/dukex/leadflow/pkg/graph"
	"github.com/dukex/leadflow/pkg/refdata"
	"github.com/dukex/leadflow/pkg/services"
	"github.com/dukex/leadflow/pkg/wire"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// violationsProblem is a 422 problem extended with the structural violations
// that blocked activation.
type violationsProblem struct {
	*problems.Problem

	Violations []graph.Violation `json:"violations"`
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func unavailable(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(503).
		WithInstance(c.Path()).
		WithType("unavailable").
		WithDetail(detail)

	return c.Status(fiber.StatusServiceUnavailable).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

func activationRejected(c fiber.Ctx, violations []graph.Violation) error {
	problem := violationsProblem{
		Problem: problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("activation_rejected").
			WithDetail("flow has structural violations and cannot be activated"),
		Violations: violations,
	}

	return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)
}

// handleServiceError maps service layer errors to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	var structural *graph.StructuralError

	switch {
	case services.IsActivationRejected(err) && errors.As(err, &structural):
		return activationRejected(c, structural.Violations)

	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	case errors.Is(err, services.ErrFlowNotFound):
		return notFound(c, "flow not found")

	case errors.Is(err, wire.ErrMalformed):
		return badRequest(c, err.Error())

	case errors.Is(err, refdata.ErrNoSource):
		return unavailable(c, "reference data is not configured")

	default:
		return internalError(c, err)
	}
}
