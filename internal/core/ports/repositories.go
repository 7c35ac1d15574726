package ports

import (
	"context"

	"github.com/smite/panel/internal/domain"
)

type NodeRepository interface {
	Create(ctx context.Context, node *domain.Node) error
	GetByID(ctx context.Context, id uint) (*domain.Node, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*domain.Node, error)
	GetAll(ctx context.Context) ([]domain.Node, error)
	Update(ctx context.Context, node *domain.Node) error
	UpdateLastSeen(ctx context.Context, id uint) error
	Delete(ctx context.Context, id uint) error
}

type TunnelRepository interface {
	Create(ctx context.Context, tunnel *domain.Tunnel) error
	GetByID(ctx context.Context, id uint) (*domain.Tunnel, error)
	GetByNodeID(ctx context.Context, nodeID uint) ([]domain.Tunnel, error)
	GetByCore(ctx context.Context, core domain.Core) ([]domain.Tunnel, error)
	GetAll(ctx context.Context) ([]domain.Tunnel, error)
	Update(ctx context.Context, tunnel *domain.Tunnel) error
	Delete(ctx context.Context, id uint) error
}

type OverlayPoolRepository interface {
	Get(ctx context.Context) (*domain.OverlayPool, error)
	Upsert(ctx context.Context, pool *domain.OverlayPool) error
	Delete(ctx context.Context) error
}

type OverlayAssignmentRepository interface {
	Create(ctx context.Context, a *domain.OverlayAssignment) error
	Update(ctx context.Context, a *domain.OverlayAssignment) error
	GetByNodeID(ctx context.Context, nodeID uint) (*domain.OverlayAssignment, error)
	GetAll(ctx context.Context) ([]domain.OverlayAssignment, error)
	Delete(ctx context.Context, nodeID uint) error
}

type MeshRepository interface {
	Create(ctx context.Context, mesh *domain.WireGuardMesh) error
	GetByID(ctx context.Context, id uint) (*domain.WireGuardMesh, error)
	GetAll(ctx context.Context) ([]domain.WireGuardMesh, error)
	Update(ctx context.Context, mesh *domain.WireGuardMesh) error
	Delete(ctx context.Context, id uint) error
}

type CoreResetConfigRepository interface {
	GetByCore(ctx context.Context, core string) (*domain.CoreResetConfig, error)
	GetAll(ctx context.Context) ([]domain.CoreResetConfig, error)
	Upsert(ctx context.Context, cfg *domain.CoreResetConfig) error
}

type TimelineRepository interface {
	Create(ctx context.Context, event *domain.TimelineEvent) error
	GetByResource(ctx context.Context, resourceType string, resourceID uint) ([]domain.TimelineEvent, error)
	GetAll(ctx context.Context, limit int) ([]domain.TimelineEvent, error)
}
