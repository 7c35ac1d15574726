package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/smite/panel/internal/core/ports"
	"github.com/smite/panel/internal/infrastructure/logger"
	"github.com/smite/panel/internal/transport/http/dto"
)

type MeshHandler struct {
	service ports.MeshService
	logger  *logger.Logger
}

func NewMeshHandler(service ports.MeshService, logger *logger.Logger) *MeshHandler {
	return &MeshHandler{service: service, logger: logger}
}

func (h *MeshHandler) CreateMesh(c *fiber.Ctx) error {
	var req dto.CreateMeshRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("mesh_create_body_parse_failed", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if errs := req.Validate(); len(errs) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "validation failed", Details: errs})
	}

	h.logger.Infow("mesh_create_request", "name", req.Name, "nodes", len(req.NodeIDs))
	mesh, err := h.service.CreateMesh(c.Context(), req.ToInput())
	if err != nil {
		h.logger.Errorw("mesh_create_failed", "error", err)
		status := statusFor(err)
		if mesh != nil {
			return c.Status(status).JSON(fiber.Map{"error": err.Error(), "mesh": mesh})
		}
		return c.Status(status).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	h.logger.Infow("mesh_create_success", "id", mesh.ID)
	return c.Status(fiber.StatusCreated).JSON(mesh)
}

// ApplyMesh backs POST /api/mesh/{id}/apply: re-dispatches the already
// persisted plan without rotating key material.
func (h *MeshHandler) ApplyMesh(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid mesh id"})
	}
	h.logger.Infow("mesh_apply_request", "id", id)
	mesh, err := h.service.ApplyMesh(c.Context(), uint(id))
	if err != nil {
		h.logger.Errorw("mesh_apply_failed", "id", id, "error", err)
		status := statusFor(err)
		if mesh != nil {
			return c.Status(status).JSON(fiber.Map{"error": err.Error(), "mesh": mesh})
		}
		return c.Status(status).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(mesh)
}

func (h *MeshHandler) GetMeshes(c *fiber.Ctx) error {
	meshes, err := h.service.GetMeshes(c.Context())
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(meshes)
}

func (h *MeshHandler) GetMesh(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid mesh id"})
	}
	mesh, err := h.service.GetMeshByID(c.Context(), uint(id))
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: "mesh not found"})
	}
	return c.JSON(mesh)
}

func (h *MeshHandler) GetMeshStatus(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid mesh id"})
	}
	status, err := h.service.MeshStatus(c.Context(), uint(id))
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: "mesh not found"})
	}
	return c.JSON(status)
}

func (h *MeshHandler) DeleteMesh(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid mesh id"})
	}
	if err := h.service.DeleteMesh(c.Context(), uint(id)); err != nil {
		h.logger.Warnw("mesh_delete_failed", "id", id, "error", err)
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: "mesh not found"})
	}
	return c.JSON(dto.SuccessResponse{Message: "mesh deleted successfully"})
}
