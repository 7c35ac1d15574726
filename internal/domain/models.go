package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ==================== ENUMS ====================

type NodeRole string

const (
	NodeRoleIran    NodeRole = "iran"
	NodeRoleForeign NodeRole = "foreign"
)

type NodeStatus string

const (
	NodeStatusPending  NodeStatus = "pending"
	NodeStatusActive   NodeStatus = "active"
	NodeStatusInactive NodeStatus = "inactive"
)

type Core string

const (
	CoreRathole   Core = "rathole"
	CoreBackhaul  Core = "backhaul"
	CoreChisel    Core = "chisel"
	CoreFRP       Core = "frp"
	CoreGost      Core = "gost"
	CoreWireGuard Core = "wireguard"
)

type TunnelStatus string

const (
	TunnelStatusPending TunnelStatus = "pending"
	TunnelStatusActive  TunnelStatus = "active"
	TunnelStatusError   TunnelStatus = "error"
)

type MeshTopology string

const (
	MeshTopologyFullMesh MeshTopology = "full-mesh"
	MeshTopologyHubSpoke MeshTopology = "hub-spoke"
)

type MeshTransport string

const (
	MeshTransportTCP  MeshTransport = "tcp"
	MeshTransportUDP  MeshTransport = "udp"
	MeshTransportBoth MeshTransport = "both"
)

// ==================== JSONB ====================

// JSONB stores an arbitrary map in a Postgres jsonb column, following the
// teacher's Valuer/Scanner convention.
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to scan JSONB: invalid type")
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONB) GetString(key string) string {
	if j == nil {
		return ""
	}
	if v, ok := j[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// ==================== ENTITIES ====================

type Node struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Name         string     `gorm:"size:255;not null" json:"name"`
	Fingerprint  string     `gorm:"size:16;uniqueIndex;not null" json:"fingerprint"`
	Status       NodeStatus `gorm:"size:20;not null;default:'pending'" json:"status"`
	RegisteredAt time.Time  `json:"registered_at"`
	LastSeen     time.Time  `json:"last_seen"`
	Metadata     JSONB      `gorm:"type:jsonb" json:"metadata"`

	SourceTunnels     []Tunnel           `gorm:"foreignKey:NodeID" json:"-"`
	ForeignTunnels    []Tunnel           `gorm:"foreignKey:ForeignNodeID" json:"-"`
	OverlayAssignment *OverlayAssignment `gorm:"foreignKey:NodeID;constraint:OnDelete:CASCADE" json:"overlay_assignment,omitempty"`
}

// Role reads the immutable role tag out of Metadata. Mutation is guarded by
// the node service, never written here.
func (n *Node) Role() NodeRole {
	return NodeRole(n.Metadata.GetString("role"))
}

type Tunnel struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Name          string       `gorm:"size:255;not null" json:"name"`
	Core          Core         `gorm:"size:20;not null" json:"core"`
	Type          string       `gorm:"size:20;not null;default:'tcp'" json:"type"`
	NodeID        uint         `gorm:"not null;index" json:"node_id"`
	Node          *Node        `gorm:"constraint:OnDelete:CASCADE" json:"node,omitempty"`
	ForeignNodeID *uint        `gorm:"index" json:"foreign_node_id,omitempty"`
	ForeignNode   *Node        `gorm:"foreignKey:ForeignNodeID" json:"foreign_node,omitempty"`
	Spec          JSONB        `gorm:"type:jsonb" json:"spec"`
	Status        TunnelStatus `gorm:"size:20;not null;default:'pending'" json:"status"`
	ErrorMessage  string       `gorm:"type:text" json:"error_message,omitempty"`
	Revision      uint64       `gorm:"not null;default:0" json:"revision"`
	SingleNode    bool         `gorm:"not null;default:false" json:"single_node"`
	UsedMB        int64        `gorm:"default:0" json:"used_mb"`
	QuotaMB       *int64       `json:"quota_mb,omitempty"`
	ExpiresAt     *time.Time   `json:"expires_at,omitempty"`

	// RequestHost/ForwardedHost carry per-request hints for FRP
	// server-address synthesis; never persisted.
	RequestHost   string `gorm:"-" json:"-"`
	ForwardedHost string `gorm:"-" json:"-"`
}

type OverlayPool struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	CIDR        string `gorm:"size:45;uniqueIndex;not null" json:"cidr"`
	Description string `gorm:"size:255" json:"description,omitempty"`
}

type OverlayAssignment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	NodeID        uint   `gorm:"uniqueIndex;not null" json:"node_id"`
	OverlayIP     string `gorm:"size:45;uniqueIndex;not null" json:"overlay_ip"`
	InterfaceName string `gorm:"size:20;not null;default:'wg0'" json:"interface_name"`
}

type WireGuardMesh struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Name          string        `gorm:"size:255;not null" json:"name"`
	Topology      MeshTopology  `gorm:"size:20;not null;default:'full-mesh'" json:"topology"`
	OverlaySubnet string        `gorm:"size:45;not null" json:"overlay_subnet"`
	MTU           int           `gorm:"default:1280" json:"mtu"`
	Transport     MeshTransport `gorm:"size:10;not null;default:'both'" json:"transport"`
	WireGuardPort int           `json:"wireguard_port,omitempty"`
	Status        TunnelStatus  `gorm:"size:20;not null;default:'pending'" json:"status"`
	MeshConfig    JSONB         `gorm:"type:jsonb" json:"mesh_config"`
}

func (WireGuardMesh) TableName() string {
	return "wireguard_meshes"
}

type CoreResetConfig struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Core            string     `gorm:"size:20;uniqueIndex;not null" json:"core"`
	Enabled         bool       `gorm:"default:false" json:"enabled"`
	IntervalMinutes int        `gorm:"default:10" json:"interval_minutes"`
	LastReset       *time.Time `json:"last_reset,omitempty"`
	NextReset       *time.Time `json:"next_reset,omitempty"`
}

func (CoreResetConfig) TableName() string {
	return "core_reset_configs"
}

// TimelineEvent records a lifecycle transition for the Panel's activity
// feed. Adapted from the teacher's own timeline entity/repository.
type TimelineEvent struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Type         string `gorm:"size:100;not null;index" json:"type"`
	Status       string `gorm:"size:20;not null;default:'success'" json:"status"`
	Message      string `gorm:"type:text" json:"message"`
	Meta         JSONB  `gorm:"type:jsonb" json:"meta"`
	ResourceID   *uint  `gorm:"index" json:"resource_id,omitempty"`
	ResourceType string `gorm:"size:100;index" json:"resource_type"`
}
