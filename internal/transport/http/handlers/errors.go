package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/smite/panel/internal/core/services"
)

// statusFor maps the sentinel error kinds of §7 onto an HTTP status code.
// Handlers call this instead of hand-matching each error individually so a
// new sentinel only needs one entry here to get the right status everywhere.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInputValidation),
		errors.Is(err, services.ErrNodeInvalidInput),
		errors.Is(err, services.ErrTunnelInvalidInput),
		errors.Is(err, services.ErrTunnelSameNode),
		errors.Is(err, services.ErrTunnelBadCore),
		errors.Is(err, services.ErrMeshInvalidInput),
		errors.Is(err, services.ErrMeshTooFewNodes),
		errors.Is(err, services.ErrInvalidCIDR),
		errors.Is(err, services.ErrInvalidPreferredIP),
		errors.Is(err, services.ErrUnknownCore):
		return fiber.StatusBadRequest

	case errors.Is(err, services.ErrNodeNotFound),
		errors.Is(err, services.ErrTunnelNotFound),
		errors.Is(err, services.ErrMeshNotFound),
		errors.Is(err, services.ErrNoPool):
		return fiber.StatusNotFound

	case errors.Is(err, services.ErrResourceConflict),
		errors.Is(err, services.ErrNodeRoleImmutable),
		errors.Is(err, services.ErrNodeFingerprintDup),
		errors.Is(err, services.ErrPreferredIPTaken),
		errors.Is(err, services.ErrNodeHasActiveTunnel):
		return fiber.StatusConflict

	case errors.Is(err, services.ErrNodeUnreachable),
		errors.Is(err, services.ErrPartialApply),
		errors.Is(err, services.ErrChildProcessFailed):
		return fiber.StatusBadGateway

	case errors.Is(err, services.ErrPoolExhausted),
		errors.Is(err, services.ErrPoolRangeExhausted):
		return fiber.StatusConflict

	case errors.Is(err, services.ErrPersistenceCorruption):
		return fiber.StatusInternalServerError

	default:
		return fiber.StatusInternalServerError
	}
}
