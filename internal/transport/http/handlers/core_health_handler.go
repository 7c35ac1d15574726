package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/smite/panel/internal/core/ports"
	"github.com/smite/panel/internal/infrastructure/logger"
	"github.com/smite/panel/internal/transport/http/dto"
)

// CoreHealthHandler exposes per-core reset-scheduler configuration (§4.10).
type CoreHealthHandler struct {
	service ports.ResetSchedulerService
	logger  *logger.Logger
}

func NewCoreHealthHandler(service ports.ResetSchedulerService, logger *logger.Logger) *CoreHealthHandler {
	return &CoreHealthHandler{service: service, logger: logger}
}

func (h *CoreHealthHandler) GetConfigs(c *fiber.Ctx) error {
	configs, err := h.service.GetAllConfigs(c.Context())
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(configs)
}

// SetResetConfig backs PUT /api/core-health/reset-config/{core}. Either
// field may be omitted, in which case the core's current value is kept.
func (h *CoreHealthHandler) SetResetConfig(c *fiber.Ctx) error {
	core := c.Params("core")
	var req dto.SetResetConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	current, err := h.service.GetConfig(c.Context(), core)
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	enabled := current.Enabled
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	interval := current.IntervalMinutes
	if req.IntervalMinutes != nil {
		interval = *req.IntervalMinutes
	}

	h.logger.Infow("core_health_set_reset_config", "core", core, "enabled", enabled, "interval_minutes", interval)
	cfg, err := h.service.SetConfig(c.Context(), core, enabled, interval)
	if err != nil {
		h.logger.Warnw("core_health_set_reset_config_failed", "core", core, "error", err)
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.Status(fiber.StatusOK).JSON(cfg)
}

// TriggerReset backs an operator-triggered immediate reset, reusing the same
// reset path the scheduler's own ticker calls on interval.
func (h *CoreHealthHandler) TriggerReset(c *fiber.Ctx) error {
	core := c.Params("core")
	if err := h.service.TriggerReset(c.Context(), core); err != nil {
		h.logger.Warnw("core_health_trigger_reset_failed", "core", core, "error", err)
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{Message: "reset triggered"})
}
