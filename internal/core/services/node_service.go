package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/smite/panel/internal/core/ports"
	"github.com/smite/panel/internal/domain"
	"github.com/smite/panel/internal/infrastructure/logger"
	"gorm.io/gorm"
)

type nodeService struct {
	repo       ports.NodeRepository
	nodeClient *NodeClient
	logger     *logger.Logger
	mu         sync.Mutex
	locks      map[string]*sync.Mutex
}

type NodeServiceConfig struct {
	Repository ports.NodeRepository
	NodeClient *NodeClient
	Logger     *logger.Logger
}

func NewNodeService(cfg NodeServiceConfig) ports.NodeService {
	return &nodeService{
		repo:       cfg.Repository,
		nodeClient: cfg.NodeClient,
		logger:     cfg.Logger,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (s *nodeService) lock(key string) func() {
	s.mu.Lock()
	m := s.locks[key]
	if m == nil {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// RegisterNode implements the node's create-on-first-announce,
// soft-update-on-every-reannounce lifecycle: the fingerprint is a
// deterministic function of ip:api_port, so a Node Agent that re-announces
// after a restart lands on the same row instead of accumulating duplicates.
// A re-announce that tries to flip the registered role is rejected rather
// than applied.
func (s *nodeService) RegisterNode(ctx context.Context, input ports.RegisterNodeInput) (*domain.Node, error) {
	if input.Name == "" || input.IPAddress == "" {
		return nil, ErrNodeInvalidInput
	}
	if input.Role != domain.NodeRoleIran && input.Role != domain.NodeRoleForeign {
		return nil, ErrNodeInvalidInput
	}

	apiPort := input.APIPort
	if apiPort == 0 {
		apiPort = 8888
	}
	fingerprint := deriveFingerprint(fmt.Sprintf("%s:%d", input.IPAddress, apiPort))

	unlock := s.lock(fmt.Sprintf("fingerprint:%s", fingerprint))
	defer unlock()

	existing, err := s.repo.GetByFingerprint(ctx, fingerprint)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if existing != nil {
		if existing.Role() != input.Role {
			return nil, fmt.Errorf("%w: node %s registered as %s, cannot re-register as %s",
				ErrNodeRoleImmutable, fingerprint, existing.Role(), input.Role)
		}
		existing.Name = input.Name
		existing.LastSeen = time.Now()
		if existing.Status != domain.NodeStatusActive {
			existing.Status = domain.NodeStatusActive
		}
		if existing.Metadata == nil {
			existing.Metadata = domain.JSONB{}
		}
		existing.Metadata["ip_address"] = input.IPAddress
		existing.Metadata["api_port"] = fmt.Sprintf("%d", apiPort)
		existing.Metadata["api_address"] = fmt.Sprintf("http://%s:%d", input.IPAddress, apiPort)
		if input.OverlayIP != "" {
			existing.Metadata["overlay_ip"] = input.OverlayIP
		}
		if input.Stats != nil {
			existing.Metadata["last_stats"] = input.Stats
		}
		if err := s.repo.Update(ctx, existing); err != nil {
			return nil, err
		}
		s.logger.Infow("node_reannounce_ok", "id", existing.ID, "fingerprint", fingerprint)
		return existing, nil
	}

	metadata := domain.JSONB{
		"role":        string(input.Role),
		"ip_address":  input.IPAddress,
		"api_port":    fmt.Sprintf("%d", apiPort),
		"api_address": fmt.Sprintf("http://%s:%d", input.IPAddress, apiPort),
	}
	if input.OverlayIP != "" {
		metadata["overlay_ip"] = input.OverlayIP
	}
	if input.Stats != nil {
		metadata["last_stats"] = input.Stats
	}
	node := &domain.Node{
		Name:         input.Name,
		Fingerprint:  fingerprint,
		Status:       domain.NodeStatusActive,
		RegisteredAt: time.Now(),
		LastSeen:     time.Now(),
		Metadata:     metadata,
	}

	if err := s.repo.Create(ctx, node); err != nil {
		s.logger.Errorw("node_register_failed", "name", input.Name, "error", err)
		return nil, err
	}
	s.logger.Infow("node_register_ok", "id", node.ID, "fingerprint", fingerprint, "role", input.Role)
	return node, nil
}

func (s *nodeService) GetNodes(ctx context.Context) ([]ports.NodeWithHealth, error) {
	nodes, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]ports.NodeWithHealth, len(nodes))
	for i := range nodes {
		result[i] = ports.NodeWithHealth{
			Node:             nodes[i],
			ConnectionStatus: s.probeConnection(ctx, &nodes[i]),
		}
	}
	return result, nil
}

// probeConnection classifies a node's live reachability, grounded on the
// connected/connecting/reconnecting/failed taxonomy of the original health
// router's exception-type dispatch.
func (s *nodeService) probeConnection(ctx context.Context, node *domain.Node) string {
	if node.Status != domain.NodeStatusActive {
		return "pending"
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, _ := s.nodeClient.Status(probeCtx, node)
	if !isErrorResult(result) {
		return "connected"
	}
	msg, _ := result["message"].(string)
	switch {
	case strings.Contains(msg, "refused") || strings.Contains(msg, "connect"):
		return "connecting"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "reconnecting"
	default:
		return "failed"
	}
}

func (s *nodeService) GetNodeByID(ctx context.Context, id uint) (*domain.Node, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *nodeService) DeleteNode(ctx context.Context, id uint) error {
	unlock := s.lock(fmt.Sprintf("node:%d", id))
	defer unlock()
	return s.repo.Delete(ctx, id)
}

// deriveFingerprint truncates a SHA-256 digest to the 16 hex characters
// spec's Node model calls for, computed over ip:api_port so re-announces
// are idempotent.
func deriveFingerprint(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:16]
}
