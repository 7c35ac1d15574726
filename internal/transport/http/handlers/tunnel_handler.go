package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/smite/panel/internal/core/ports"
	"github.com/smite/panel/internal/infrastructure/logger"
	"github.com/smite/panel/internal/transport/http/dto"
)

type TunnelHandler struct {
	service ports.TunnelService
	logger  *logger.Logger
}

func NewTunnelHandler(service ports.TunnelService, logger *logger.Logger) *TunnelHandler {
	return &TunnelHandler{service: service, logger: logger}
}

func (h *TunnelHandler) CreateTunnel(c *fiber.Ctx) error {
	var req dto.CreateTunnelRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("tunnel_create_body_parse_failed", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if errs := req.Validate(); len(errs) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "validation failed", Details: errs})
	}

	input := req.ToInput(c.Hostname(), c.Get("X-Forwarded-Host"))
	h.logger.Infow("tunnel_create_request", "name", req.Name, "core", req.Core)
	tunnel, err := h.service.CreateTunnel(c.Context(), input)
	if err != nil {
		h.logger.Errorw("tunnel_create_failed", "error", err)
		status := statusFor(err)
		if tunnel != nil {
			return c.Status(status).JSON(fiber.Map{"error": err.Error(), "tunnel": tunnel})
		}
		return c.Status(status).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	h.logger.Infow("tunnel_create_success", "id", tunnel.ID)
	return c.Status(fiber.StatusCreated).JSON(tunnel)
}

func (h *TunnelHandler) GetTunnels(c *fiber.Ctx) error {
	tunnels, err := h.service.GetTunnels(c.Context())
	if err != nil {
		h.logger.Errorw("tunnel_list_failed", "error", err)
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(tunnels)
}

func (h *TunnelHandler) GetTunnel(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid tunnel id"})
	}
	tunnel, err := h.service.GetTunnelByID(c.Context(), uint(id))
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: "tunnel not found"})
	}
	return c.JSON(tunnel)
}

// UpdateTunnel backs PUT /api/tunnels/{id}: replaces the spec and re-applies
// to both endpoints; the revision is bumped only when the spec actually
// changed.
func (h *TunnelHandler) UpdateTunnel(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid tunnel id"})
	}
	var req dto.UpdateTunnelRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	tunnel, err := h.service.UpdateTunnel(c.Context(), uint(id), req.Spec)
	if err != nil {
		h.logger.Errorw("tunnel_update_failed", "id", id, "error", err)
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(tunnel)
}

// ApplyTunnel backs POST /api/tunnels/{id}/apply: re-dispatches the tunnel's
// current spec to its node(s) without requiring a spec change, the same
// re-apply path UpdateTunnel uses internally.
func (h *TunnelHandler) ApplyTunnel(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid tunnel id"})
	}
	tunnel, err := h.service.GetTunnelByID(c.Context(), uint(id))
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: "tunnel not found"})
	}

	h.logger.Infow("tunnel_apply_request", "id", id)
	tunnel, err = h.service.UpdateTunnel(c.Context(), uint(id), tunnel.Spec)
	if err != nil {
		h.logger.Errorw("tunnel_apply_failed", "id", id, "error", err)
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(tunnel)
}

func (h *TunnelHandler) DeleteTunnel(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid tunnel id"})
	}
	if err := h.service.DeleteTunnel(c.Context(), uint(id)); err != nil {
		h.logger.Warnw("tunnel_delete_failed", "id", id, "error", err)
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: "tunnel not found"})
	}
	return c.JSON(dto.SuccessResponse{Message: "tunnel deleted successfully"})
}
