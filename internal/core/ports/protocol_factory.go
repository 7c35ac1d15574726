package ports

import (
	"github.com/smite/panel/internal/domain"
)

// CoreConfigFactory builds the per-side dispatch specs a dual-dispatch
// tunnel apply sends to the iran and foreign Node Agents. Adapted from the
// teacher's ProtocolFactory, generalized from a fixed source/dest pair to
// the Core-keyed dispatch the orchestrator (C10) needs.
type CoreConfigFactory interface {
	// BuildDispatchSpecs returns the JSON body sent to the iran node's
	// /api/agent/tunnels/apply and, when the tunnel has a foreign peer, the
	// body sent to the foreign node. remoteSpec is nil for node-local cores.
	BuildDispatchSpecs(tunnel *domain.Tunnel, iran, foreign *domain.Node) (localSpec, remoteSpec domain.JSONB, err error)
}
