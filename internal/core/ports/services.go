package ports

import (
	"context"
	"time"

	"github.com/smite/panel/internal/domain"
)

type NodeService interface {
	// RegisterNode handles both the first self-announce (creates the row)
	// and every re-announce after it (soft-updates name/last_seen/stats in
	// place). A manual operator POST goes through the same path.
	RegisterNode(ctx context.Context, input RegisterNodeInput) (*domain.Node, error)
	GetNodes(ctx context.Context) ([]NodeWithHealth, error)
	GetNodeByID(ctx context.Context, id uint) (*domain.Node, error)
	DeleteNode(ctx context.Context, id uint) error
}

// NodeWithHealth embeds the computed live-probe health result alongside the
// persisted node, mirroring core_health.py's node list response.
type NodeWithHealth struct {
	domain.Node
	ConnectionStatus string `json:"connection_status"`
}

type RegisterNodeInput struct {
	Name      string
	Role      domain.NodeRole
	IPAddress string
	APIPort   int
	OverlayIP string
	Stats     domain.JSONB
}

type TunnelService interface {
	CreateTunnel(ctx context.Context, input CreateTunnelInput) (*domain.Tunnel, error)
	UpdateTunnel(ctx context.Context, id uint, spec domain.JSONB) (*domain.Tunnel, error)
	GetTunnels(ctx context.Context) ([]domain.Tunnel, error)
	GetTunnelByID(ctx context.Context, id uint) (*domain.Tunnel, error)
	DeleteTunnel(ctx context.Context, id uint) error
	ReportStatus(ctx context.Context, id uint, status domain.TunnelStatus, errMessage string) error
	ReconcileOnBoot(ctx context.Context) error
}

// CreateTunnelInput accepts any combination of IranNodeID, ForeignNodeID,
// or a generic NodeID; the orchestrator infers whichever role is missing
// from registered nodes. SingleNode marks a one-sided tunnel (e.g. a
// Panel-local gost listener) that never resolves or dispatches to a
// second node.
type CreateTunnelInput struct {
	Name          string
	Core          domain.Core
	Type          string
	IranNodeID    *uint
	ForeignNodeID *uint
	NodeID        *uint
	SingleNode    bool
	Spec          domain.JSONB
	RequestHost   string
	ForwardedHost string
}

type IPAMService interface {
	Allocate(ctx context.Context, nodeID uint, preferredIP string) (*domain.OverlayAssignment, error)
	// UpdateNodeIP manually overrides a node's overlay IP assignment to an
	// operator-supplied address, bypassing the scan-for-next-free path.
	UpdateNodeIP(ctx context.Context, nodeID uint, newIP string) (*domain.OverlayAssignment, error)
	Release(ctx context.Context, nodeID uint) error
	Status(ctx context.Context) (total int, used int, free int, utilizationPct float64, err error)

	// GetPool, SetPool and DeletePool manage the single configured overlay
	// CIDR pool rows that Allocate/UpdateNodeIP/Status scan against.
	GetPool(ctx context.Context) (*domain.OverlayPool, error)
	SetPool(ctx context.Context, cidr, description string) (*domain.OverlayPool, error)
	DeletePool(ctx context.Context) error
}

type MeshService interface {
	CreateMesh(ctx context.Context, input CreateMeshInput) (*domain.WireGuardMesh, error)
	// ApplyMesh re-dispatches an existing mesh's persisted plan (keys,
	// overlay IPs, peer matrix) to every member node without regenerating
	// key material, per §4.9's re-apply path.
	ApplyMesh(ctx context.Context, id uint) (*domain.WireGuardMesh, error)
	GetMeshes(ctx context.Context) ([]domain.WireGuardMesh, error)
	GetMeshByID(ctx context.Context, id uint) (*domain.WireGuardMesh, error)
	DeleteMesh(ctx context.Context, id uint) error
	MeshStatus(ctx context.Context, id uint) (domain.JSONB, error)
}

type CreateMeshInput struct {
	Name          string
	NodeIDs       []uint
	LanSubnets    map[uint]string
	Topology      domain.MeshTopology
	Transport     domain.MeshTransport
	OverlaySubnet string
	MTU           int
	WireGuardPort int
}

type ResetSchedulerService interface {
	GetConfig(ctx context.Context, core string) (*domain.CoreResetConfig, error)
	GetAllConfigs(ctx context.Context) ([]domain.CoreResetConfig, error)
	SetConfig(ctx context.Context, core string, enabled bool, intervalMinutes int) (*domain.CoreResetConfig, error)
	TriggerReset(ctx context.Context, core string) error
	// Run drives the scheduler's background poll loop until ctx is
	// cancelled, waking every pollInterval to check for due resets.
	Run(ctx context.Context, pollInterval time.Duration)
}

type InstallerService interface {
	InstallAgent(ctx context.Context, node *domain.Node, sshHost, sshUser, sshKey string) error
}
