package services

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/smite/panel/internal/core/ports"
	"github.com/smite/panel/internal/domain"
	"github.com/smite/panel/internal/infrastructure/logger"
)

// ipamService allocates overlay IPs out of a single configured CIDR pool,
// scanning existing assignments host-by-host (spec's single-pool model,
// generalized from the teacher's per-tunnel /30-subnet scheme to a
// per-node /32 host allocator).
type ipamService struct {
	poolRepo ports.OverlayPoolRepository
	asgnRepo ports.OverlayAssignmentRepository
	nodeRepo ports.NodeRepository
	logger   *logger.Logger
	mu       sync.Mutex
}

type IPAMServiceConfig struct {
	PoolRepo ports.OverlayPoolRepository
	AsgnRepo ports.OverlayAssignmentRepository
	NodeRepo ports.NodeRepository
	Logger   *logger.Logger
}

func NewIPAMService(cfg IPAMServiceConfig) ports.IPAMService {
	return &ipamService{
		poolRepo: cfg.PoolRepo,
		asgnRepo: cfg.AsgnRepo,
		nodeRepo: cfg.NodeRepo,
		logger:   cfg.Logger,
	}
}

// mirrorNodeMetadata keeps the node's overlay_ip metadata tag in sync with
// its OverlayAssignment row so handlers that only read Node don't need a
// second lookup against the assignment table.
func (s *ipamService) mirrorNodeMetadata(ctx context.Context, nodeID uint, overlayIP string) {
	node, err := s.nodeRepo.GetByID(ctx, nodeID)
	if err != nil {
		s.logger.Warnw("ipam_mirror_metadata_failed", "node_id", nodeID, "error", err)
		return
	}
	if node.Metadata == nil {
		node.Metadata = domain.JSONB{}
	}
	node.Metadata["overlay_ip"] = overlayIP
	if err := s.nodeRepo.Update(ctx, node); err != nil {
		s.logger.Warnw("ipam_mirror_metadata_failed", "node_id", nodeID, "error", err)
	}
}

func (s *ipamService) Allocate(ctx context.Context, nodeID uint, preferredIP string) (*domain.OverlayAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool, err := s.poolRepo.Get(ctx)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrNoPool
	}

	_, ipNet, err := net.ParseCIDR(pool.CIDR)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCIDR, err)
	}

	existing, err := s.asgnRepo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	used := make(map[string]bool, len(existing))
	for _, a := range existing {
		if a.NodeID == nodeID {
			s.logger.Infow("ipam_allocate_already_assigned", "node_id", nodeID, "overlay_ip", a.OverlayIP)
			return &a, nil
		}
		used[a.OverlayIP] = true
	}

	base := ipToUint32(ipNet.IP.Mask(ipNet.Mask))
	maskSize, _ := ipNet.Mask.Size()
	hostCount := uint32(1) << (32 - maskSize)

	var candidate net.IP
	if preferredIP != "" {
		p := net.ParseIP(preferredIP).To4()
		if p == nil || !ipNet.Contains(p) {
			return nil, ErrInvalidPreferredIP
		}
		if off := ipToUint32(p) - base; off == 0 || off == hostCount-1 {
			return nil, ErrInvalidPreferredIP
		}
		if used[p.String()] {
			return nil, ErrPreferredIPTaken
		}
		candidate = p
	} else {
		// Skip network address (+0) and broadcast (last host); start at +1.
		for offset := uint32(1); offset < hostCount-1; offset++ {
			ip := uint32ToIP(base + offset)
			if !used[ip.String()] {
				candidate = ip
				break
			}
		}
		if candidate == nil {
			return nil, ErrPoolRangeExhausted
		}
	}

	a := &domain.OverlayAssignment{
		NodeID:        nodeID,
		OverlayIP:     candidate.String(),
		InterfaceName: "wg0",
	}
	if err := s.asgnRepo.Create(ctx, a); err != nil {
		return nil, err
	}
	s.mirrorNodeMetadata(ctx, nodeID, a.OverlayIP)
	s.logger.Infow("ipam_allocate_ok", "node_id", nodeID, "overlay_ip", a.OverlayIP)
	return a, nil
}

// UpdateNodeIP manually reassigns a node's overlay IP to an operator-chosen
// address, validating it against the pool the same way Allocate validates a
// preferred IP, then mirrors the change onto the node's metadata.
func (s *ipamService) UpdateNodeIP(ctx context.Context, nodeID uint, newIP string) (*domain.OverlayAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool, err := s.poolRepo.Get(ctx)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrNoPool
	}
	_, ipNet, err := net.ParseCIDR(pool.CIDR)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCIDR, err)
	}
	p := net.ParseIP(newIP).To4()
	if p == nil || !ipNet.Contains(p) {
		return nil, ErrInvalidPreferredIP
	}
	maskSize, _ := ipNet.Mask.Size()
	if off := ipToUint32(p) - ipToUint32(ipNet.IP.Mask(ipNet.Mask)); off == 0 || off == uint32(1)<<(32-maskSize)-1 {
		return nil, ErrInvalidPreferredIP
	}

	existing, err := s.asgnRepo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	var current *domain.OverlayAssignment
	for i := range existing {
		if existing[i].NodeID == nodeID {
			current = &existing[i]
		} else if existing[i].OverlayIP == p.String() {
			return nil, ErrPreferredIPTaken
		}
	}

	if current == nil {
		a := &domain.OverlayAssignment{NodeID: nodeID, OverlayIP: p.String(), InterfaceName: "wg0"}
		if err := s.asgnRepo.Create(ctx, a); err != nil {
			return nil, err
		}
		current = a
	} else {
		current.OverlayIP = p.String()
		if err := s.asgnRepo.Update(ctx, current); err != nil {
			return nil, err
		}
	}

	s.mirrorNodeMetadata(ctx, nodeID, current.OverlayIP)
	s.logger.Infow("ipam_update_node_ip_ok", "node_id", nodeID, "overlay_ip", current.OverlayIP)
	return current, nil
}

func (s *ipamService) Release(ctx context.Context, nodeID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.asgnRepo.Delete(ctx, nodeID); err != nil {
		return err
	}
	s.logger.Infow("ipam_release_ok", "node_id", nodeID)
	return nil
}

func (s *ipamService) Status(ctx context.Context) (total int, used int, free int, utilizationPct float64, err error) {
	pool, err := s.poolRepo.Get(ctx)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if pool == nil {
		return 0, 0, 0, 0, ErrNoPool
	}
	_, ipNet, err := net.ParseCIDR(pool.CIDR)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("%w: %v", ErrInvalidCIDR, err)
	}
	maskSize, _ := ipNet.Mask.Size()
	hostCount := int(uint32(1)<<(32-maskSize)) - 2

	assignments, err := s.asgnRepo.GetAll(ctx)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	used = len(assignments)
	if hostCount > 0 {
		utilizationPct = float64(used) / float64(hostCount) * 100
	}
	return hostCount, used, hostCount - used, utilizationPct, nil
}

func (s *ipamService) GetPool(ctx context.Context) (*domain.OverlayPool, error) {
	pool, err := s.poolRepo.Get(ctx)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrNoPool
	}
	return pool, nil
}

// SetPool replaces the single configured pool row. Existing assignments are
// left untouched; a shrunk CIDR only takes effect for future Allocate calls,
// mirroring the teacher's config-is-forward-looking-only settings pattern.
func (s *ipamService) SetPool(ctx context.Context, cidr, description string) (*domain.OverlayPool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, _, err := net.ParseCIDR(cidr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCIDR, err)
	}

	pool, err := s.poolRepo.Get(ctx)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		pool = &domain.OverlayPool{}
	}
	pool.CIDR = cidr
	pool.Description = description
	if err := s.poolRepo.Upsert(ctx, pool); err != nil {
		return nil, err
	}
	s.logger.Infow("ipam_set_pool_ok", "cidr", cidr)
	return pool, nil
}

func (s *ipamService) DeletePool(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.poolRepo.Delete(ctx); err != nil {
		return err
	}
	s.logger.Infow("ipam_delete_pool_ok")
	return nil
}

func ipToUint32(ip net.IP) uint32 {
	ip = ip.To4()
	if ip == nil {
		return 0
	}
	return binary.BigEndian.Uint32(ip)
}

func uint32ToIP(n uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, n)
	return ip
}
