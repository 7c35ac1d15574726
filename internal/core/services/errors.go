package services

import "errors"

// Error kinds (spec §7). Handlers translate these into HTTP status via
// statusFor; services wrap a kind with %w so subsystem-specific errors
// remain distinguishable with errors.Is while still carrying a kind.
var (
	ErrInputValidation       = errors.New("input validation failed")
	ErrNodeUnreachable       = errors.New("node unreachable")
	ErrChildProcessFailed    = errors.New("child process failed to start or stay up")
	ErrResourceConflict      = errors.New("resource conflict")
	ErrPartialApply          = errors.New("partial apply: one side of a dual-dispatch operation failed")
	ErrPersistenceCorruption = errors.New("persisted state is corrupt or unreadable")
	ErrPoolExhausted         = errors.New("pool exhausted")
)

// Node errors
var (
	ErrNodeNotFound        = errors.New("node: not found")
	ErrNodeFingerprintDup  = errors.New("node: fingerprint already registered")
	ErrNodeInvalidInput    = errors.New("node: invalid input")
	ErrNodeRoleImmutable   = errors.New("node: role cannot change after registration")
	ErrNodeHasActiveTunnel = errors.New("node: has active tunnels, cannot delete")
)

// Tunnel errors
var (
	ErrTunnelNotFound     = errors.New("tunnel: not found")
	ErrTunnelInvalidInput = errors.New("tunnel: invalid input")
	ErrTunnelSameNode     = errors.New("tunnel: source and destination cannot be the same node")
	ErrTunnelBadCore      = errors.New("tunnel: unsupported core for this operation")
)

// IPAM errors
var (
	ErrNoPool             = errors.New("ipam: no overlay pool configured")
	ErrPoolRangeExhausted = errors.New("ipam: overlay pool exhausted")
	ErrInvalidCIDR        = errors.New("ipam: invalid CIDR format")
	ErrInvalidPreferredIP = errors.New("ipam: preferred IP is outside the pool or reserved")
	ErrPreferredIPTaken   = errors.New("ipam: preferred IP already assigned")
)

// Mesh errors
var (
	ErrMeshNotFound     = errors.New("mesh: not found")
	ErrMeshInvalidInput = errors.New("mesh: invalid input")
	ErrMeshTooFewNodes  = errors.New("mesh: needs at least two member nodes")
)

// Reset-scheduler errors
var (
	ErrUnknownCore = errors.New("reset: unknown core")
)

// Installer errors (adapted from the teacher's SSH bootstrap flow)
var (
	ErrSSHConnectionFailed = errors.New("installer: SSH connection failed")
	ErrSystemCheckFailed   = errors.New("installer: system check failed")
	ErrDependencyInstall   = errors.New("installer: dependency installation failed")
	ErrAgentDeployFailed   = errors.New("installer: agent deployment failed")
	ErrServiceStartFailed  = errors.New("installer: service start failed")
)
