package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/smite/panel/internal/core/ports"
	"github.com/smite/panel/internal/domain"
	"github.com/smite/panel/internal/infrastructure/logger"
	"golang.org/x/crypto/curve25519"
)

// meshComposer implements C11: allocates overlay IPs and WireGuard
// keypairs for every member node, builds the full-mesh/hub-spoke peer
// matrix, and dispatches one /api/agent/mesh/apply call per node. Private
// keys are generated in-process with x/crypto/curve25519 rather than
// shelling out to `wg genkey` as the original Python manager does, since
// the Panel process is not guaranteed to have the wg binary installed and
// spec §3 already states keys are Panel-generated and stored server-side.
type meshComposer struct {
	meshRepo   ports.MeshRepository
	nodeRepo   ports.NodeRepository
	ipam       ports.IPAMService
	nodeClient *NodeClient
	logger     *logger.Logger
	mu         sync.Mutex
}

type MeshComposerConfig struct {
	MeshRepo   ports.MeshRepository
	NodeRepo   ports.NodeRepository
	IPAM       ports.IPAMService
	NodeClient *NodeClient
	Logger     *logger.Logger
}

func NewMeshComposer(cfg MeshComposerConfig) ports.MeshService {
	return &meshComposer{
		meshRepo:   cfg.MeshRepo,
		nodeRepo:   cfg.NodeRepo,
		ipam:       cfg.IPAM,
		nodeClient: cfg.NodeClient,
		logger:     cfg.Logger,
	}
}

type meshPeerConfig struct {
	NodeID     uint   `json:"node_id"`
	PublicKey  string `json:"public_key"`
	OverlayIP  string `json:"overlay_ip"`
	LanSubnet  string `json:"lan_subnet,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
}

func (c *meshComposer) CreateMesh(ctx context.Context, input ports.CreateMeshInput) (*domain.WireGuardMesh, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if input.Name == "" || len(input.NodeIDs) < 2 {
		return nil, ErrMeshTooFewNodes
	}
	topology := input.Topology
	if topology == "" {
		topology = domain.MeshTopologyFullMesh
	}
	transport := input.Transport
	if transport == "" {
		transport = domain.MeshTransportBoth
	}
	mtu := input.MTU
	if mtu == 0 {
		mtu = 1280
	}

	wgPort := input.WireGuardPort
	if wgPort == 0 {
		wgPort = MeshWireGuardPort(input.Name)
	}

	mesh := &domain.WireGuardMesh{
		Name:          input.Name,
		Topology:      topology,
		OverlaySubnet: input.OverlaySubnet,
		MTU:           mtu,
		Transport:     transport,
		WireGuardPort: wgPort,
		Status:        domain.TunnelStatusPending,
	}
	if err := c.meshRepo.Create(ctx, mesh); err != nil {
		return nil, err
	}

	peers := make(map[uint]meshPeerConfig, len(input.NodeIDs))
	nodes := make(map[uint]*domain.Node, len(input.NodeIDs))
	for _, nodeID := range input.NodeIDs {
		node, err := c.nodeRepo.GetByID(ctx, nodeID)
		if err != nil {
			return mesh, fmt.Errorf("%w: node %d not found", ErrNodeUnreachable, nodeID)
		}
		nodes[nodeID] = node

		assignment, err := c.ipam.Allocate(ctx, nodeID, "")
		if err != nil {
			return mesh, err
		}

		priv, pub, err := generateCurve25519Keypair()
		if err != nil {
			return mesh, err
		}
		lanSubnet := input.LanSubnets[nodeID]
		peers[nodeID] = meshPeerConfig{
			NodeID:    nodeID,
			PublicKey: pub,
			OverlayIP: assignment.OverlayIP,
			LanSubnet: lanSubnet,
		}
		// Stash keys and membership in mesh_config so ApplyMesh can later
		// re-dispatch the same plan without regenerating key material.
		if mesh.MeshConfig == nil {
			mesh.MeshConfig = domain.JSONB{}
		}
		mesh.MeshConfig[fmt.Sprintf("node_%d_private_key", nodeID)] = priv
		mesh.MeshConfig[fmt.Sprintf("node_%d_public_key", nodeID)] = pub
		mesh.MeshConfig[fmt.Sprintf("node_%d_lan_subnet", nodeID)] = lanSubnet
	}
	mesh.MeshConfig["node_ids"] = joinNodeIDs(input.NodeIDs)

	if err := c.meshRepo.Update(ctx, mesh); err != nil {
		return mesh, err
	}

	if err := c.dispatch(ctx, mesh, input.NodeIDs, nodes, peers); err != nil {
		return mesh, err
	}
	c.logger.Infow("mesh_create_ok", "mesh_id", mesh.ID, "nodes", len(input.NodeIDs))
	return mesh, nil
}

// ApplyMesh re-dispatches a mesh's already-persisted plan: it re-allocates
// each member's overlay IP (idempotent, returns the existing assignment) and
// reuses the private/public keys stashed in mesh_config at CreateMesh time,
// so a re-apply never rotates key material member nodes already trust.
func (c *meshComposer) ApplyMesh(ctx context.Context, id uint) (*domain.WireGuardMesh, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mesh, err := c.meshRepo.GetByID(ctx, id)
	if err != nil {
		return nil, ErrMeshNotFound
	}
	nodeIDs, err := splitNodeIDs(mesh.MeshConfig.GetString("node_ids"))
	if err != nil || len(nodeIDs) < 2 {
		return nil, fmt.Errorf("%w: mesh %d has no recorded member list", ErrMeshInvalidInput, id)
	}

	peers := make(map[uint]meshPeerConfig, len(nodeIDs))
	nodes := make(map[uint]*domain.Node, len(nodeIDs))
	for _, nodeID := range nodeIDs {
		node, err := c.nodeRepo.GetByID(ctx, nodeID)
		if err != nil {
			return mesh, fmt.Errorf("%w: node %d not found", ErrNodeUnreachable, nodeID)
		}
		nodes[nodeID] = node

		assignment, err := c.ipam.Allocate(ctx, nodeID, "")
		if err != nil {
			return mesh, err
		}
		peers[nodeID] = meshPeerConfig{
			NodeID:    nodeID,
			PublicKey: mesh.MeshConfig.GetString(fmt.Sprintf("node_%d_public_key", nodeID)),
			OverlayIP: assignment.OverlayIP,
			LanSubnet: mesh.MeshConfig.GetString(fmt.Sprintf("node_%d_lan_subnet", nodeID)),
		}
	}

	if err := c.dispatch(ctx, mesh, nodeIDs, nodes, peers); err != nil {
		return mesh, err
	}
	c.logger.Infow("mesh_apply_ok", "mesh_id", mesh.ID, "nodes", len(nodeIDs))
	return mesh, nil
}

// dispatch synthesizes the FRP relay legs that give every foreign peer a
// reachable endpoint, resolves each node's peer->endpoint map, renders the
// literal WireGuard config text per node, and pushes it to
// /api/agent/mesh/apply. Rolls the mesh to error status on the first node
// or relay leg that rejects the push.
//
// The relay legs go straight through nodeClient rather than through
// TunnelService/coreConfigFactory: their bind and remote ports are
// rederived from mesh_id/node_id/transport by FRPMeshBindPort and
// ForeignPeerRemotePort, which only hold if nothing else re-keys them off
// a DB tunnel ID, so a reset never needs a persisted port table.
func (c *meshComposer) dispatch(ctx context.Context, mesh *domain.WireGuardMesh, nodeIDs []uint, nodes map[uint]*domain.Node, peers map[uint]meshPeerConfig) error {
	var iranIDs, foreignIDs []uint
	for _, id := range nodeIDs {
		if nodes[id].Role() == domain.NodeRoleForeign {
			foreignIDs = append(foreignIDs, id)
		} else {
			iranIDs = append(iranIDs, id)
		}
	}
	if len(iranIDs) == 0 {
		return fmt.Errorf("%w: mesh needs at least one iran node", ErrMeshInvalidInput)
	}

	fail := func(format string, args ...interface{}) error {
		mesh.Status = domain.TunnelStatusError
		_ = c.meshRepo.Update(ctx, mesh)
		return fmt.Errorf("%w: "+format, append([]interface{}{ErrPartialApply}, args...)...)
	}

	meshID := fmt.Sprintf("%d", mesh.ID)
	transports := meshTransports(mesh.Transport)
	preferred := transports[0]

	// iranEndpoint[iranID][transport]: the iran's own address, reachable
	// directly once its FRP server leg forwards the shared WireGuard port.
	iranEndpoint := make(map[uint]map[string]string, len(iranIDs))
	for _, iranID := range iranIDs {
		iran := nodes[iranID]
		endpoints := make(map[string]string, len(transports))
		for _, t := range transports {
			bindPort := FRPMeshBindPort(meshID, fmt.Sprintf("%d", iranID), t)
			spec := domain.JSONB{"mode": "server", "bind_port": bindPort, "type": t}
			body := map[string]interface{}{
				"tunnel_id": fmt.Sprintf("mesh-%s-iran-%d-%s", meshID, iranID, t),
				"core":      "frp",
				"spec":      spec,
			}
			result, err := c.nodeClient.Send(ctx, iran, "/api/agent/tunnels/apply", body)
			if err != nil || isErrorResult(result) {
				c.logger.Warnw("mesh_frp_relay_server_failed", "mesh_id", mesh.ID, "node_id", iranID, "transport", t)
				return fail("frp relay server failed on iran node %d", iranID)
			}
			endpoints[t] = fmt.Sprintf("%s:%d", iran.Metadata.GetString("ip_address"), mesh.WireGuardPort)
		}
		iranEndpoint[iranID] = endpoints
	}

	// foreignRemotePort[foreignID][iranID][transport]: the unique port that
	// foreign node exposes on that iran relay for that transport.
	foreignRemotePort := make(map[uint]map[uint]map[string]int, len(foreignIDs))
	for _, foreignID := range foreignIDs {
		foreign := nodes[foreignID]
		perIran := make(map[uint]map[string]int, len(iranIDs))
		for _, iranID := range iranIDs {
			perTransport := make(map[string]int, len(transports))
			for _, t := range transports {
				remotePort := ForeignPeerRemotePort(meshID, fmt.Sprintf("%d", foreignID), fmt.Sprintf("%d", iranID), t)
				spec := domain.JSONB{
					"mode":        "client",
					"server_addr": nodes[iranID].Metadata.GetString("ip_address"),
					"server_port": FRPMeshBindPort(meshID, fmt.Sprintf("%d", iranID), t),
					"local_port":  mesh.WireGuardPort,
					"remote_port": remotePort,
					"type":        t,
				}
				body := map[string]interface{}{
					"tunnel_id": fmt.Sprintf("mesh-%s-foreign-%d-iran-%d-%s", meshID, foreignID, iranID, t),
					"core":      "frp",
					"spec":      spec,
				}
				result, err := c.nodeClient.Send(ctx, foreign, "/api/agent/tunnels/apply", body)
				if err != nil || isErrorResult(result) {
					c.logger.Warnw("mesh_frp_relay_client_failed", "mesh_id", mesh.ID, "node_id", foreignID, "iran_id", iranID, "transport", t)
					return fail("frp relay client failed on foreign node %d", foreignID)
				}
				perTransport[t] = remotePort
			}
			perIran[iranID] = perTransport
		}
		foreignRemotePort[foreignID] = perIran
	}

	// Note: the original manager also opens an iran-to-iran FRP client leg
	// for every other-iran/transport pair. Endpoint resolution below never
	// reads its result, so it's dead code there and isn't reproduced here.

	resolveEndpoint := func(peerID uint) string {
		if endpoints, ok := iranEndpoint[peerID]; ok {
			if ep, ok := endpoints[preferred]; ok {
				return ep
			}
			for _, t := range transports {
				if ep, ok := endpoints[t]; ok {
					return ep
				}
			}
			return ""
		}
		relay := iranIDs[0]
		relayIP := nodes[relay].Metadata.GetString("ip_address")
		ports := foreignRemotePort[peerID][relay]
		if port, ok := ports[preferred]; ok {
			return fmt.Sprintf("%s:%d", relayIP, port)
		}
		for _, t := range transports {
			if port, ok := ports[t]; ok {
				return fmt.Sprintf("%s:%d", relayIP, port)
			}
		}
		return ""
	}

	peerList := peerMatrix(nodeIDs, peers, mesh.Topology)
	for _, nodeID := range nodeIDs {
		node := nodes[nodeID]
		self := peers[nodeID]

		nodePeers := peerList[nodeID]
		resolvedPeers := make([]meshPeerConfig, len(nodePeers))
		for i, p := range nodePeers {
			p.Endpoint = resolveEndpoint(p.NodeID)
			resolvedPeers[i] = p
		}

		privateKey := mesh.MeshConfig.GetString(fmt.Sprintf("node_%d_private_key", nodeID))
		body := map[string]interface{}{
			"mesh_id": meshID,
			"config":  renderWireGuardConfig(privateKey, self.OverlayIP, mesh.MTU, resolvedPeers),
			"routes":  peerRoutes(resolvedPeers),
		}
		result, err := c.nodeClient.Send(ctx, node, "/api/agent/mesh/apply", body)
		if err != nil || isErrorResult(result) {
			c.logger.Warnw("mesh_apply_failed", "mesh_id", mesh.ID, "node_id", nodeID)
			return fail("mesh apply failed on node %d", nodeID)
		}
	}
	mesh.Status = domain.TunnelStatusActive
	return c.meshRepo.Update(ctx, mesh)
}

// meshTransports expands a mesh's configured transport into the ordered
// list of FRP relay transports to synthesize, UDP first so it's tried as
// the preferred WireGuard endpoint whenever both are available.
func meshTransports(t domain.MeshTransport) []string {
	switch t {
	case domain.MeshTransportTCP:
		return []string{"tcp"}
	case domain.MeshTransportUDP:
		return []string{"udp"}
	default:
		return []string{"udp", "tcp"}
	}
}

// renderWireGuardConfig renders the literal wg-quick .conf text for one
// node: an [Interface] block plus one [Peer] block per resolved peer.
// Grounded on wireguard_mesh_manager.py's generate_wireguard_config.
func renderWireGuardConfig(privateKey, overlayIP string, mtu int, peers []meshPeerConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Interface]\nPrivateKey = %s\nAddress = %s/32\nMTU = %d\n", privateKey, overlayIP, mtu)
	for _, p := range peers {
		allowedIPs := p.OverlayIP + "/32"
		if p.LanSubnet != "" {
			allowedIPs += ", " + p.LanSubnet
		}
		fmt.Fprintf(&b, "\n[Peer]\nPublicKey = %s\nAllowedIPs = %s\n", p.PublicKey, allowedIPs)
		if p.Endpoint != "" {
			fmt.Fprintf(&b, "Endpoint = %s\n", p.Endpoint)
		}
		b.WriteString("PersistentKeepalive = 25\n")
	}
	return b.String()
}

// peerRoutes returns the LAN subnets reachable through a node's peers, for
// the Node Agent to add as host routes once wg-quick brings the interface up.
func peerRoutes(peers []meshPeerConfig) []string {
	var routes []string
	for _, p := range peers {
		if p.LanSubnet != "" {
			routes = append(routes, p.LanSubnet)
		}
	}
	return routes
}

func joinNodeIDs(ids []uint) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ",")
}

func splitNodeIDs(s string) ([]uint, error) {
	if s == "" {
		return nil, fmt.Errorf("empty node id list")
	}
	parts := strings.Split(s, ",")
	ids := make([]uint, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, uint(n))
	}
	return ids, nil
}

// peerMatrix returns, per node, the list of peers it should configure.
// full-mesh: everyone peers with everyone else. hub-spoke: nodeIDs[0] is
// the hub and peers with every spoke; spokes peer only with the hub.
func peerMatrix(nodeIDs []uint, peers map[uint]meshPeerConfig, topology domain.MeshTopology) map[uint][]meshPeerConfig {
	result := make(map[uint][]meshPeerConfig, len(nodeIDs))
	if topology == domain.MeshTopologyHubSpoke {
		hub := nodeIDs[0]
		for _, id := range nodeIDs[1:] {
			result[hub] = append(result[hub], peers[id])
			result[id] = []meshPeerConfig{peers[hub]}
		}
		return result
	}
	for _, a := range nodeIDs {
		for _, b := range nodeIDs {
			if a == b {
				continue
			}
			result[a] = append(result[a], peers[b])
		}
	}
	return result
}

func generateCurve25519Keypair() (privateKeyB64, publicKeyB64 string, err error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return "", "", err
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return "", "", err
	}
	return base64.StdEncoding.EncodeToString(priv[:]), base64.StdEncoding.EncodeToString(pub), nil
}

func (c *meshComposer) GetMeshes(ctx context.Context) ([]domain.WireGuardMesh, error) {
	return c.meshRepo.GetAll(ctx)
}

func (c *meshComposer) GetMeshByID(ctx context.Context, id uint) (*domain.WireGuardMesh, error) {
	return c.meshRepo.GetByID(ctx, id)
}

func (c *meshComposer) DeleteMesh(ctx context.Context, id uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	mesh, err := c.meshRepo.GetByID(ctx, id)
	if err != nil {
		return ErrMeshNotFound
	}
	_ = mesh
	return c.meshRepo.Delete(ctx, id)
}

func (c *meshComposer) MeshStatus(ctx context.Context, id uint) (domain.JSONB, error) {
	mesh, err := c.meshRepo.GetByID(ctx, id)
	if err != nil {
		return nil, ErrMeshNotFound
	}
	return domain.JSONB{"status": string(mesh.Status), "wireguard_port": mesh.WireGuardPort}, nil
}
