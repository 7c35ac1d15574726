package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/smite/panel/internal/core/ports"
	"github.com/smite/panel/internal/core/services/panelcore"
	"github.com/smite/panel/internal/domain"
	"github.com/smite/panel/internal/infrastructure/logger"
	"gopkg.in/yaml.v3"
)

// renderYAML marshals a dispatch spec into the YAML config body a
// Panel-local core binary reads from disk.
func renderYAML(spec domain.JSONB) string {
	out, err := yaml.Marshal(spec)
	if err != nil {
		return ""
	}
	return string(out)
}

// tunnelOrchestrator implements C10: resolves the iran/foreign nodes for a
// tunnel, builds per-side dispatch specs via a CoreConfigFactory, applies
// them to the Node Agent(s) in iran-then-foreign order, and rolls the iran
// side back if the foreign apply fails (spec §4.8's dual-dispatch
// invariant). Per-tunnel-id locking mirrors the teacher's lockKeys idiom.
type tunnelOrchestrator struct {
	tunnelRepo   ports.TunnelRepository
	nodeRepo     ports.NodeRepository
	factory      ports.CoreConfigFactory
	nodeClient   *NodeClient
	timeline     ports.TimelineRepository
	panelCore    *panelcore.Manager
	panelAPIPort int
	logger       *logger.Logger
	mu           sync.Mutex
	locks        map[uint]*sync.Mutex
}

type TunnelOrchestratorConfig struct {
	TunnelRepo   ports.TunnelRepository
	NodeRepo     ports.NodeRepository
	Factory      ports.CoreConfigFactory
	NodeClient   *NodeClient
	Timeline     ports.TimelineRepository
	PanelCore    *panelcore.Manager
	PanelAPIPort int
	Logger       *logger.Logger
}

func NewTunnelOrchestrator(cfg TunnelOrchestratorConfig) ports.TunnelService {
	return &tunnelOrchestrator{
		tunnelRepo:   cfg.TunnelRepo,
		nodeRepo:     cfg.NodeRepo,
		factory:      cfg.Factory,
		nodeClient:   cfg.NodeClient,
		timeline:     cfg.Timeline,
		panelCore:    cfg.PanelCore,
		panelAPIPort: cfg.PanelAPIPort,
		logger:       cfg.Logger,
		locks:        make(map[uint]*sync.Mutex),
	}
}

func (s *tunnelOrchestrator) lock(id uint) func() {
	s.mu.Lock()
	m := s.locks[id]
	if m == nil {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (s *tunnelOrchestrator) CreateTunnel(ctx context.Context, input ports.CreateTunnelInput) (*domain.Tunnel, error) {
	if input.Name == "" {
		return nil, ErrTunnelInvalidInput
	}

	iran, foreign, err := s.resolveNodes(ctx, input)
	if err != nil {
		return nil, err
	}
	if !input.SingleNode && foreign != nil && iran.ID == foreign.ID {
		return nil, ErrTunnelSameNode
	}

	var foreignID *uint
	if foreign != nil {
		fid := foreign.ID
		foreignID = &fid
	}

	tunnel := &domain.Tunnel{
		Name:          input.Name,
		Core:          input.Core,
		Type:          input.Type,
		NodeID:        iran.ID,
		ForeignNodeID: foreignID,
		Spec:          input.Spec,
		Status:        domain.TunnelStatusPending,
		SingleNode:    input.SingleNode,
		RequestHost:   input.RequestHost,
		ForwardedHost: input.ForwardedHost,
	}
	if err := s.tunnelRepo.Create(ctx, tunnel); err != nil {
		return nil, err
	}

	if err := s.apply(ctx, tunnel); err != nil {
		return tunnel, err
	}
	return tunnel, nil
}

// resolveNodes accepts any combination of IranNodeID, ForeignNodeID, and a
// generic NodeID, inferring whichever role is missing by scanning
// registered nodes. It fails if no role-matching candidate exists or a
// supplied node has the wrong role.
func (s *tunnelOrchestrator) resolveNodes(ctx context.Context, input ports.CreateTunnelInput) (iran, foreign *domain.Node, err error) {
	fetch := func(id uint) (*domain.Node, error) {
		n, err := s.nodeRepo.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: node %d not found", ErrNodeUnreachable, id)
		}
		return n, nil
	}

	switch {
	case input.IranNodeID != nil:
		iran, err = fetch(*input.IranNodeID)
	case input.NodeID != nil:
		n, ferr := fetch(*input.NodeID)
		if ferr != nil {
			return nil, nil, ferr
		}
		if n.Role() == domain.NodeRoleForeign {
			foreign = n
		} else {
			iran = n
		}
	}
	if err != nil {
		return nil, nil, err
	}

	if input.ForeignNodeID != nil {
		foreign, err = fetch(*input.ForeignNodeID)
		if err != nil {
			return nil, nil, err
		}
	}

	if iran != nil && iran.Role() != domain.NodeRoleIran {
		return nil, nil, fmt.Errorf("%w: node %d is not an iran node", ErrTunnelInvalidInput, iran.ID)
	}
	if foreign != nil && foreign.Role() != domain.NodeRoleForeign {
		return nil, nil, fmt.Errorf("%w: node %d is not a foreign node", ErrTunnelInvalidInput, foreign.ID)
	}

	if input.SingleNode {
		if iran == nil && foreign == nil {
			return nil, nil, ErrTunnelInvalidInput
		}
		if iran == nil {
			iran = foreign
			foreign = nil
		}
		return iran, nil, nil
	}

	if iran == nil {
		iran, err = s.inferByRole(ctx, domain.NodeRoleIran)
		if err != nil {
			return nil, nil, err
		}
	}
	if foreign == nil {
		foreign, err = s.inferByRole(ctx, domain.NodeRoleForeign)
		if err != nil {
			return nil, nil, err
		}
	}
	return iran, foreign, nil
}

func (s *tunnelOrchestrator) inferByRole(ctx context.Context, role domain.NodeRole) (*domain.Node, error) {
	nodes, err := s.nodeRepo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range nodes {
		if nodes[i].Role() == role {
			return &nodes[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no registered node with role %s", ErrNodeUnreachable, role)
}

func (s *tunnelOrchestrator) UpdateTunnel(ctx context.Context, id uint, spec domain.JSONB) (*domain.Tunnel, error) {
	unlock := s.lock(id)
	defer unlock()

	tunnel, err := s.tunnelRepo.GetByID(ctx, id)
	if err != nil {
		return nil, ErrTunnelNotFound
	}

	if !specEqual(tunnel.Spec, spec) {
		tunnel.Spec = spec
		tunnel.Revision++
		if err := s.tunnelRepo.Update(ctx, tunnel); err != nil {
			return nil, err
		}
	}

	// Re-apply always runs even when the spec is unchanged (a reset or
	// reconcile call relies on this), but only a genuine spec_changed bumps
	// the revision above. A partial-apply failure here leaves the tunnel in
	// status=error without reverting the just-persisted spec, so the
	// user's intent survives for the next attempt.
	if err := s.apply(ctx, tunnel); err != nil {
		return tunnel, err
	}
	return tunnel, nil
}

func specEqual(a, b domain.JSONB) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", v) != fmt.Sprintf("%v", bv) {
			return false
		}
	}
	return true
}

// apply dispatches the dual-apply sequence: iran first, then foreign (when
// present). A foreign failure rolls the iran side back and marks the
// tunnel's status error with the failure reason (spec §7 PartialApply).
func (s *tunnelOrchestrator) apply(ctx context.Context, tunnel *domain.Tunnel) error {
	iran, err := s.nodeRepo.GetByID(ctx, tunnel.NodeID)
	if err != nil {
		return fmt.Errorf("%w: iran node not found", ErrNodeUnreachable)
	}

	var foreign *domain.Node
	if tunnel.ForeignNodeID != nil {
		foreign, err = s.nodeRepo.GetByID(ctx, *tunnel.ForeignNodeID)
		if err != nil {
			return fmt.Errorf("%w: foreign node not found", ErrNodeUnreachable)
		}
	}

	localSpec, remoteSpec, err := s.factory.BuildDispatchSpecs(tunnel, iran, foreign)
	if err != nil {
		return err
	}

	if tunnel.SingleNode && needsPanelHelper(tunnel.Core) {
		if err := s.startPanelHelper(tunnel, localSpec); err != nil {
			return s.fail(ctx, tunnel, err)
		}
	}

	result, err := s.nodeClient.Send(ctx, iran, "/api/agent/tunnels/apply", localSpec)
	if err != nil || isErrorResult(result) {
		if tunnel.SingleNode && needsPanelHelper(tunnel.Core) && s.panelCore != nil {
			_ = s.panelCore.Stop(string(tunnel.Core), fmt.Sprintf("%d", tunnel.ID))
		}
		return s.fail(ctx, tunnel, fmt.Errorf("%w: iran apply failed", ErrNodeUnreachable))
	}

	if foreign != nil {
		result, err = s.nodeClient.Send(ctx, foreign, "/api/agent/tunnels/apply", remoteSpec)
		if err != nil || isErrorResult(result) {
			// Roll back the iran side so we never leave a half-applied pair up.
			_, _ = s.nodeClient.Send(ctx, iran, "/api/agent/tunnels/remove", map[string]interface{}{"tunnel_id": fmt.Sprintf("%d", tunnel.ID)})
			return s.fail(ctx, tunnel, fmt.Errorf("%w: foreign apply failed, iran rolled back", ErrPartialApply))
		}
	}

	return s.ReportStatus(ctx, tunnel.ID, domain.TunnelStatusActive, "")
}

// needsPanelHelper reports whether a single-node tunnel on this core needs
// a locally-supervised server process on the Panel host itself (FRP server
// mode and gost both can terminate directly on the Panel).
func needsPanelHelper(core domain.Core) bool {
	return core == domain.CoreFRP || core == domain.CoreGost
}

// startPanelHelper launches (or restarts) the Panel-local core process for
// a single-node tunnel, rejecting the configured bind port if it collides
// with the Panel's own API port, and rolling the helper back if anything
// in the startup sequence fails.
func (s *tunnelOrchestrator) startPanelHelper(tunnel *domain.Tunnel, localSpec domain.JSONB) error {
	if s.panelCore == nil {
		return nil
	}
	bindPort, _ := localSpec["bind_port"].(int)
	if bindPort == 0 {
		return nil
	}
	if panelcore.IsReservedPort(bindPort, s.panelAPIPort) {
		return fmt.Errorf("%w: port %d is reserved by the Panel itself", ErrResourceConflict, bindPort)
	}

	binary, args, configBody := localHelperCommand(tunnel.Core, localSpec)
	tunnelID := fmt.Sprintf("%d", tunnel.ID)
	if err := s.panelCore.Start(string(tunnel.Core), tunnelID, binary, args, configBody, bindPort); err != nil {
		_ = s.panelCore.Stop(string(tunnel.Core), tunnelID)
		return fmt.Errorf("%w: panel-local helper: %v", ErrChildProcessFailed, err)
	}
	return nil
}

// localHelperCommand maps a core to the binary/args/config-file shape its
// Panel-local supervised process expects.
func localHelperCommand(core domain.Core, spec domain.JSONB) (binary string, args []string, configBody string) {
	configPath := fmt.Sprintf("/tmp/smite-%s.conf", core)
	switch core {
	case domain.CoreFRP:
		return "frps", []string{"-c", configPath}, renderYAML(spec)
	case domain.CoreGost:
		return "gost", []string{"-L", fmt.Sprintf("tcp://:%v", spec["bind_port"])}, ""
	default:
		return string(core), nil, renderYAML(spec)
	}
}

func (s *tunnelOrchestrator) fail(ctx context.Context, tunnel *domain.Tunnel, err error) error {
	_ = s.ReportStatus(ctx, tunnel.ID, domain.TunnelStatusError, err.Error())
	return err
}

func (s *tunnelOrchestrator) GetTunnels(ctx context.Context) ([]domain.Tunnel, error) {
	return s.tunnelRepo.GetAll(ctx)
}

func (s *tunnelOrchestrator) GetTunnelByID(ctx context.Context, id uint) (*domain.Tunnel, error) {
	return s.tunnelRepo.GetByID(ctx, id)
}

func (s *tunnelOrchestrator) DeleteTunnel(ctx context.Context, id uint) error {
	unlock := s.lock(id)
	defer unlock()

	tunnel, err := s.tunnelRepo.GetByID(ctx, id)
	if err != nil {
		return ErrTunnelNotFound
	}

	if iran, err := s.nodeRepo.GetByID(ctx, tunnel.NodeID); err == nil {
		_, _ = s.nodeClient.Send(ctx, iran, "/api/agent/tunnels/remove", map[string]interface{}{"tunnel_id": fmt.Sprintf("%d", tunnel.ID)})
	}
	if tunnel.ForeignNodeID != nil {
		if foreign, err := s.nodeRepo.GetByID(ctx, *tunnel.ForeignNodeID); err == nil {
			_, _ = s.nodeClient.Send(ctx, foreign, "/api/agent/tunnels/remove", map[string]interface{}{"tunnel_id": fmt.Sprintf("%d", tunnel.ID)})
		}
	}

	return s.tunnelRepo.Delete(ctx, id)
}

func (s *tunnelOrchestrator) ReportStatus(ctx context.Context, id uint, status domain.TunnelStatus, errMessage string) error {
	tunnel, err := s.tunnelRepo.GetByID(ctx, id)
	if err != nil {
		return ErrTunnelNotFound
	}
	tunnel.Status = status
	tunnel.ErrorMessage = errMessage
	tunnel.Revision++
	if err := s.tunnelRepo.Update(ctx, tunnel); err != nil {
		return err
	}
	if s.timeline != nil {
		_ = s.timeline.Create(ctx, &domain.TimelineEvent{
			Type:         "tunnel.status",
			Status:       string(status),
			Message:      errMessage,
			ResourceID:   &tunnel.ID,
			ResourceType: "tunnel",
		})
	}
	return nil
}

// ReconcileOnBoot re-applies every active tunnel's stored spec on Panel
// restart. Strictly additive: it never skips a tunnel because it looks
// already-active, per the spec's own resolution of this Open Question.
func (s *tunnelOrchestrator) ReconcileOnBoot(ctx context.Context) error {
	tunnels, err := s.tunnelRepo.GetAll(ctx)
	if err != nil {
		return err
	}
	for i := range tunnels {
		t := &tunnels[i]
		if t.Status != domain.TunnelStatusActive {
			continue
		}
		if err := s.apply(ctx, t); err != nil {
			s.logger.Warnw("tunnel_reconcile_failed", "tunnel_id", t.ID, "error", err)
		}
	}
	return nil
}
