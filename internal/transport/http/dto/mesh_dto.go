package dto

import (
	"strconv"

	"github.com/smite/panel/internal/core/ports"
	"github.com/smite/panel/internal/domain"
)

// CreateMeshRequest mirrors §4.9's composer input. LanSubnets is keyed by
// node id (as a JSON string key, since JSON object keys are always
// strings) and carries the subnet each node should route to its peers.
type CreateMeshRequest struct {
	Name          string            `json:"name" validate:"required"`
	NodeIDs       []uint            `json:"node_ids" validate:"required"`
	LanSubnets    map[string]string `json:"lan_subnets,omitempty"`
	OverlaySubnet string            `json:"overlay_subnet,omitempty"`
	Topology      string            `json:"topology"`
	MTU           int               `json:"mtu"`
	Transport     string            `json:"transport"`
	WireGuardPort int               `json:"wireguard_port,omitempty"`
}

func (r *CreateMeshRequest) Validate() []string {
	var errs []string
	if r.Name == "" {
		errs = append(errs, "name is required")
	}
	if len(r.NodeIDs) < 2 {
		errs = append(errs, "at least two node_ids are required")
	}
	return errs
}

func (r *CreateMeshRequest) ToInput() ports.CreateMeshInput {
	lanSubnets := make(map[uint]string, len(r.LanSubnets))
	for k, v := range r.LanSubnets {
		if id, err := strconv.ParseUint(k, 10, 64); err == nil {
			lanSubnets[uint(id)] = v
		}
	}
	return ports.CreateMeshInput{
		Name:          r.Name,
		NodeIDs:       r.NodeIDs,
		LanSubnets:    lanSubnets,
		Topology:      domain.MeshTopology(r.Topology),
		Transport:     domain.MeshTransport(r.Transport),
		OverlaySubnet: r.OverlaySubnet,
		MTU:           r.MTU,
		WireGuardPort: r.WireGuardPort,
	}
}
