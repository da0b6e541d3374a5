package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/georef/internal/adapters/shapefile"
	"github.com/samirrijal/georef/internal/core/domain"
	"github.com/samirrijal/georef/internal/pkg/geospatial"
)

// APIError is a structured error response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`    // Error code: bad_request, not_found, internal_error, etc.
	Message   string `json:"message"` // Human-readable message
	RequestID string `json:"request_id,omitempty"`
}

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	reqID, _ := c.Locals("requestid").(string)
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: reqID,
	})
}

// errBadRequest returns a 400 error.
func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, 400, "bad_request", msg)
}

// errNotFound returns a 404 error.
func errNotFound(c *fiber.Ctx, msg string) error {
	return newError(c, 404, "not_found", msg)
}

// errInternal returns a 500 error.
func errInternal(c *fiber.Ctx, msg string) error {
	return newError(c, 500, "internal_error", msg)
}

// errFromDomain maps service errors onto status codes.
func errFromDomain(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, geospatial.ErrInsufficientPoints):
		return newError(c, 400, "insufficient_points", err.Error())
	case errors.Is(err, geospatial.ErrNonFiniteCoordinate):
		return newError(c, 400, "invalid_coordinates", err.Error())
	case errors.Is(err, geospatial.ErrDegenerateSourceSpread):
		return newError(c, 422, "degenerate_source_spread", err.Error())
	case errors.Is(err, geospatial.ErrDegenerateTargetSpread):
		return newError(c, 422, "degenerate_target_spread", err.Error())
	case errors.Is(err, geospatial.ErrFitFailed):
		return newError(c, 422, "fit_failed", err.Error())
	case errors.Is(err, domain.ErrSessionNotFound):
		return newError(c, 404, "session_not_found", err.Error())
	case errors.Is(err, domain.ErrDatasetNotFound):
		return newError(c, 404, "dataset_not_found", err.Error())
	case errors.Is(err, domain.ErrFeatureNotFound):
		return newError(c, 404, "feature_not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidSlot):
		return errBadRequest(c, err.Error())
	case errors.Is(err, shapefile.ErrInvalidArchive), errors.Is(err, shapefile.ErrNoShapefile):
		return newError(c, 400, "invalid_archive", err.Error())
	case errors.Is(err, shapefile.ErrMixedGeometry):
		return newError(c, 422, "mixed_geometry", err.Error())
	case errors.Is(err, shapefile.ErrUnsupportedGeometry):
		return newError(c, 422, "unsupported_geometry", err.Error())
	default:
		LoggerFromCtx(c.UserContext()).Error("request failed", "path", c.Path(), "error", err)
		return errInternal(c, err.Error())
	}
}
