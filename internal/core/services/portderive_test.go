package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPortDerivationRanges(t *testing.T) {
	p := FRPStandaloneBindPort("tunnel-1")
	assert.GreaterOrEqual(t, p, 7000)
	assert.Less(t, p, 8000)

	p = FRPMeshBindPort("mesh-1", "iran-1", "tcp")
	assert.GreaterOrEqual(t, p, 7000)
	assert.Less(t, p, 8000)

	p = MeshWireGuardPort("mesh-1")
	assert.GreaterOrEqual(t, p, 17000)
	assert.Less(t, p, 18000)

	p = ForeignPeerRemotePort("mesh-1", "foreign-1", "iran-1", "tcp")
	assert.GreaterOrEqual(t, p, 18000)
	assert.Less(t, p, 19000)

	p = ObfuscatorLocalPort("mesh-1", "peerkey", "endpoint")
	assert.GreaterOrEqual(t, p, 19000)
	assert.Less(t, p, 24000)

	p = ObfuscatorSourcePort("mesh-1", "peerkey")
	assert.GreaterOrEqual(t, p, 24000)
	assert.Less(t, p, 25000)
}

func TestPortDerivationDeterministic(t *testing.T) {
	a := FRPMeshBindPort("mesh-x", "iran-y", "udp")
	b := FRPMeshBindPort("mesh-x", "iran-y", "udp")
	assert.Equal(t, a, b)

	c := FRPMeshBindPort("mesh-x", "iran-y", "tcp")
	assert.NotEqual(t, a, c, "different transport should usually derive a different port")
}
