package services

import (
	"fmt"

	"github.com/smite/panel/internal/domain"
)

// coreConfigFactory builds the JSON dispatch bodies sent to Node Agents for
// each core. FRP gets the one core-specific step spec.md calls out
// explicitly: deriving its bind port by MD5 rather than taking an
// operator-chosen port, so reset/reconciliation never needs a persisted
// port table. Every other core passes the operator-authored Spec through
// almost unchanged, flipping mode/role per side, matching the orchestrator
// dispatch pipeline's core-agnostic design (see DESIGN.md Open Question 2).
type coreConfigFactory struct{}

func NewCoreConfigFactory() *coreConfigFactory {
	return &coreConfigFactory{}
}

func (f *coreConfigFactory) BuildDispatchSpecs(tunnel *domain.Tunnel, iran, foreign *domain.Node) (localSpec, remoteSpec domain.JSONB, err error) {
	switch tunnel.Core {
	case domain.CoreFRP:
		return f.buildFRP(tunnel, iran, foreign)
	default:
		return f.buildPassthrough(tunnel, iran, foreign)
	}
}

func (f *coreConfigFactory) buildFRP(tunnel *domain.Tunnel, iran, foreign *domain.Node) (domain.JSONB, domain.JSONB, error) {
	bindPort := FRPStandaloneBindPort(fmt.Sprintf("%d", tunnel.ID))

	server := domain.JSONB{
		"tunnel_id": fmt.Sprintf("%d", tunnel.ID),
		"core":      "frp",
		"mode":      "server",
		"bind_port": bindPort,
		"type":      tunnel.Type,
	}

	if foreign == nil {
		return server, nil, nil
	}

	panelAddr, err := ResolvePanelAddress(iran.Metadata, tunnel)
	if err != nil {
		return nil, nil, err
	}

	localIP := tunnel.Spec.GetString("local_ip")
	if localIP == "" {
		localIP = iran.Metadata.GetString("ip_address")
	}
	localPort := tunnel.Spec["local_port"]
	if localPort == nil {
		localPort = bindPort
	}

	client := domain.JSONB{
		"tunnel_id":   fmt.Sprintf("%d", tunnel.ID),
		"core":        "frp",
		"mode":        "client",
		"server_addr": panelAddr,
		"server_port": bindPort,
		"local_ip":    localIP,
		"local_port":  localPort,
		"type":        tunnel.Type,
	}
	return server, client, nil
}

func (f *coreConfigFactory) buildPassthrough(tunnel *domain.Tunnel, iran, foreign *domain.Node) (domain.JSONB, domain.JSONB, error) {
	local := domain.JSONB{
		"tunnel_id": fmt.Sprintf("%d", tunnel.ID),
		"core":      string(tunnel.Core),
		"mode":      "server",
		"type":      tunnel.Type,
	}
	for k, v := range tunnel.Spec {
		local[k] = v
	}

	if foreign == nil {
		return local, nil, nil
	}

	remote := domain.JSONB{
		"tunnel_id": fmt.Sprintf("%d", tunnel.ID),
		"core":      string(tunnel.Core),
		"mode":      "client",
		"type":      tunnel.Type,
	}
	for k, v := range tunnel.Spec {
		remote[k] = v
	}
	remote["server_addr"] = iran.Metadata.GetString("ip_address")
	return local, remote, nil
}
