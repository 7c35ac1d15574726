package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/smite/panel/internal/core/ports"
	"github.com/smite/panel/internal/infrastructure/logger"
	"github.com/smite/panel/internal/transport/http/dto"
)

// OverlayHandler exposes the IPAM pool and per-node assignment endpoints
// (§4.5's single-pool model).
type OverlayHandler struct {
	service ports.IPAMService
	logger  *logger.Logger
}

func NewOverlayHandler(service ports.IPAMService, logger *logger.Logger) *OverlayHandler {
	return &OverlayHandler{service: service, logger: logger}
}

func (h *OverlayHandler) SetPool(c *fiber.Ctx) error {
	var req dto.SetPoolRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if errs := req.Validate(); len(errs) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "validation failed", Details: errs})
	}

	h.logger.Infow("overlay_pool_set_request", "cidr", req.CIDR)
	pool, err := h.service.SetPool(c.Context(), req.CIDR, req.Description)
	if err != nil {
		h.logger.Errorw("overlay_pool_set_failed", "error", err)
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.Status(fiber.StatusOK).JSON(pool)
}

func (h *OverlayHandler) GetPool(c *fiber.Ctx) error {
	pool, err := h.service.GetPool(c.Context())
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(pool)
}

func (h *OverlayHandler) DeletePool(c *fiber.Ctx) error {
	if err := h.service.DeletePool(c.Context()); err != nil {
		h.logger.Warnw("overlay_pool_delete_failed", "error", err)
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{Message: "overlay pool deleted successfully"})
}

// AssignNode backs POST /api/overlay/assign/{node}: allocates the next free
// IP, or the caller's preferred_ip if it validates against the pool.
func (h *OverlayHandler) AssignNode(c *fiber.Ctx) error {
	nodeID, err := strconv.ParseUint(c.Params("node"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid node id"})
	}
	var req dto.AssignOverlayRequest
	_ = c.BodyParser(&req)

	assignment, err := h.service.Allocate(c.Context(), uint(nodeID), req.PreferredIP)
	if err != nil {
		h.logger.Warnw("overlay_assign_failed", "node_id", nodeID, "error", err)
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.Status(fiber.StatusOK).JSON(assignment)
}

// OverrideNode backs PUT /api/overlay/assign/{node}: forces a node's overlay
// IP to an operator-chosen address.
func (h *OverlayHandler) OverrideNode(c *fiber.Ctx) error {
	nodeID, err := strconv.ParseUint(c.Params("node"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid node id"})
	}
	var req dto.OverrideOverlayRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	assignment, err := h.service.UpdateNodeIP(c.Context(), uint(nodeID), req.IP)
	if err != nil {
		h.logger.Warnw("overlay_override_failed", "node_id", nodeID, "error", err)
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.Status(fiber.StatusOK).JSON(assignment)
}
