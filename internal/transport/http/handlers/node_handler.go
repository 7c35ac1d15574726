package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/smite/panel/internal/core/ports"
	"github.com/smite/panel/internal/infrastructure/logger"
	"github.com/smite/panel/internal/transport/http/dto"
)

type NodeHandler struct {
	service ports.NodeService
	logger  *logger.Logger
}

func NewNodeHandler(service ports.NodeService, logger *logger.Logger) *NodeHandler {
	return &NodeHandler{service: service, logger: logger}
}

// RegisterNode backs POST /api/nodes: a Node Agent self-announce on boot or
// an operator's manual registration, both routed through the same
// create-on-first-announce/soft-update lifecycle.
func (h *NodeHandler) RegisterNode(c *fiber.Ctx) error {
	var req dto.RegisterNodeRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("node_register_body_parse_failed", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if errs := req.Validate(); len(errs) > 0 {
		h.logger.Warnw("node_register_validation_failed", "details", errs)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "validation failed", Details: errs})
	}

	h.logger.Infow("node_register_request", "name", req.Name, "role", req.Role, "ip", req.IPAddress)
	node, err := h.service.RegisterNode(c.Context(), req.ToInput())
	if err != nil {
		h.logger.Warnw("node_register_failed", "name", req.Name, "error", err)
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	h.logger.Infow("node_register_success", "id", node.ID, "fingerprint", node.Fingerprint)
	return c.Status(fiber.StatusOK).JSON(dto.NodeToResponse(node))
}

func (h *NodeHandler) GetNodes(c *fiber.Ctx) error {
	nodes, err := h.service.GetNodes(c.Context())
	if err != nil {
		h.logger.Errorw("nodes_list_failed", "error", err)
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.NodesWithHealthToResponse(nodes))
}

func (h *NodeHandler) GetNode(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid node id"})
	}
	node, err := h.service.GetNodeByID(c.Context(), uint(id))
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: "node not found"})
	}
	return c.JSON(dto.NodeToResponse(node))
}

func (h *NodeHandler) DeleteNode(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid node id"})
	}
	if err := h.service.DeleteNode(c.Context(), uint(id)); err != nil {
		h.logger.Warnw("node_delete_failed", "id", id, "error", err)
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: "node not found"})
	}
	h.logger.Infow("node_delete_success", "id", id)
	return c.JSON(dto.SuccessResponse{Message: "node deleted successfully"})
}
