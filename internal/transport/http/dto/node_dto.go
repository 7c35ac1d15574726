package dto

import (
	"net"
	"time"

	"github.com/smite/panel/internal/core/ports"
	"github.com/smite/panel/internal/domain"
)

// RegisterNodeRequest is the body for POST /api/nodes, submitted either by a
// Node Agent self-announcing on boot or by an operator registering one
// manually. The fingerprint itself is never accepted from the caller: it is
// always derived server-side from ip_address:api_port.
type RegisterNodeRequest struct {
	Name        string       `json:"name" validate:"required"`
	Role        string       `json:"role" validate:"required,oneof=iran foreign"`
	IPAddress   string       `json:"ip_address" validate:"required"`
	APIPort     int          `json:"api_port"`
	OverlayIP   string       `json:"overlay_ip,omitempty"`
	Stats       domain.JSONB `json:"stats,omitempty"`
}

func (r *RegisterNodeRequest) Validate() []string {
	var errs []string
	if r.Name == "" {
		errs = append(errs, "name is required")
	}
	if r.IPAddress == "" {
		errs = append(errs, "ip_address is required")
	} else if net.ParseIP(r.IPAddress) == nil {
		errs = append(errs, "ip_address is not a valid IP address")
	}
	if r.Role != string(domain.NodeRoleIran) && r.Role != string(domain.NodeRoleForeign) {
		errs = append(errs, "role must be one of: iran, foreign")
	}
	return errs
}

func (r *RegisterNodeRequest) ToInput() ports.RegisterNodeInput {
	return ports.RegisterNodeInput{
		Name:      r.Name,
		Role:      domain.NodeRole(r.Role),
		IPAddress: r.IPAddress,
		APIPort:   r.APIPort,
		OverlayIP: r.OverlayIP,
		Stats:     r.Stats,
	}
}

type NodeResponse struct {
	ID               uint         `json:"id"`
	Name             string       `json:"name"`
	Fingerprint      string       `json:"fingerprint"`
	Role             domain.NodeRole `json:"role"`
	Status           domain.NodeStatus `json:"status"`
	ConnectionStatus string       `json:"connection_status,omitempty"`
	RegisteredAt     time.Time    `json:"registered_at"`
	LastSeen         time.Time    `json:"last_seen"`
	Metadata         domain.JSONB `json:"metadata,omitempty"`
}

func NodeToResponse(node *domain.Node) NodeResponse {
	return NodeResponse{
		ID:           node.ID,
		Name:         node.Name,
		Fingerprint:  node.Fingerprint,
		Role:         node.Role(),
		Status:       node.Status,
		RegisteredAt: node.RegisteredAt,
		LastSeen:     node.LastSeen,
		Metadata:     node.Metadata,
	}
}

func NodeWithHealthToResponse(n *ports.NodeWithHealth) NodeResponse {
	resp := NodeToResponse(&n.Node)
	resp.ConnectionStatus = n.ConnectionStatus
	return resp
}

func NodesWithHealthToResponse(nodes []ports.NodeWithHealth) []NodeResponse {
	responses := make([]NodeResponse, len(nodes))
	for i := range nodes {
		responses[i] = NodeWithHealthToResponse(&nodes[i])
	}
	return responses
}

type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}
