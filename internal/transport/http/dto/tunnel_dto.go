package dto

import (
	"github.com/smite/panel/internal/core/ports"
	"github.com/smite/panel/internal/domain"
)

// CreateTunnelRequest accepts any combination of iran_node_id,
// foreign_node_id and a generic node_id; the orchestrator infers whichever
// role is missing.
type CreateTunnelRequest struct {
	Name          string       `json:"name" validate:"required"`
	Core          string       `json:"core" validate:"required"`
	Type          string       `json:"type"`
	IranNodeID    *uint        `json:"iran_node_id,omitempty"`
	ForeignNodeID *uint        `json:"foreign_node_id,omitempty"`
	NodeID        *uint        `json:"node_id,omitempty"`
	SingleNode    bool         `json:"single_node"`
	Spec          domain.JSONB `json:"spec"`
}

func (r *CreateTunnelRequest) Validate() []string {
	var errs []string
	if r.Name == "" {
		errs = append(errs, "name is required")
	}
	if r.Core == "" {
		errs = append(errs, "core is required")
	}
	if !r.SingleNode && r.IranNodeID == nil && r.ForeignNodeID == nil && r.NodeID == nil {
		errs = append(errs, "one of iran_node_id, foreign_node_id, node_id is required")
	}
	return errs
}

func (r *CreateTunnelRequest) ToInput(requestHost, forwardedHost string) ports.CreateTunnelInput {
	typ := r.Type
	if typ == "" {
		typ = "tcp"
	}
	return ports.CreateTunnelInput{
		Name:          r.Name,
		Core:          domain.Core(r.Core),
		Type:          typ,
		IranNodeID:    r.IranNodeID,
		ForeignNodeID: r.ForeignNodeID,
		NodeID:        r.NodeID,
		SingleNode:    r.SingleNode,
		Spec:          r.Spec,
		RequestHost:   requestHost,
		ForwardedHost: forwardedHost,
	}
}

type UpdateTunnelRequest struct {
	Spec domain.JSONB `json:"spec" validate:"required"`
}
