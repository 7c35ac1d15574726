package services

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Deterministic port derivation (spec §9). Every derived port is a pure
// function of stable identifiers so the orchestrator never needs to persist
// a separate port-allocation table for FRP/WireGuard/obfuscator ports: the
// same inputs always rederive the same port, which is what makes reset and
// panel-restart reconciliation idempotent.

func md5Prefix(s string) uint32 {
	sum := md5.Sum([]byte(s))
	hexStr := hex.EncodeToString(sum[:])[:8]
	b, _ := hex.DecodeString(hexStr)
	return binary.BigEndian.Uint32(b)
}

// FRPStandaloneBindPort derives the bind port for a standalone FRP tunnel.
func FRPStandaloneBindPort(tunnelID string) int {
	return 7000 + int(md5Prefix(tunnelID)%1000)
}

// FRPMeshBindPort derives the per-iran-node bind port for a mesh's FRP leg.
func FRPMeshBindPort(meshID, iranID, transport string) int {
	return 7000 + int(md5Prefix(fmt.Sprintf("%s-%s-%s", meshID, iranID, transport))%1000)
}

// MeshWireGuardPort derives the single shared WireGuard listen port for a mesh.
func MeshWireGuardPort(meshID string) int {
	return 17000 + int(md5Prefix(meshID+"-wg-port")%1000)
}

// ForeignPeerRemotePort derives the unique forwarding port a foreign node
// exposes for one iran peer over one transport.
func ForeignPeerRemotePort(meshID, foreignID, iranID, transport string) int {
	return 18000 + int(md5Prefix(fmt.Sprintf("%s-%s-%s-%s", meshID, foreignID, iranID, transport))%1000)
}

// ObfuscatorLocalPort derives the wg-obfuscator client's local listen port.
func ObfuscatorLocalPort(meshID, peerKey, endpoint string) int {
	return 19000 + int(md5Prefix(meshID+peerKey+endpoint)%5000)
}

// ObfuscatorSourcePort derives the wg-obfuscator client's fixed source port.
func ObfuscatorSourcePort(meshID, peerKey string) int {
	return 24000 + int(md5Prefix(meshID+peerKey+"source")%1000)
}
