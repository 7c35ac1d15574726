package services

import (
	"testing"

	"github.com/smite/panel/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestPeerMatrixFullMesh(t *testing.T) {
	ids := []uint{1, 2, 3}
	peers := map[uint]meshPeerConfig{
		1: {NodeID: 1}, 2: {NodeID: 2}, 3: {NodeID: 3},
	}
	m := peerMatrix(ids, peers, domain.MeshTopologyFullMesh)
	for _, id := range ids {
		assert.Len(t, m[id], 2, "every node peers with every other node in full-mesh")
	}
}

func TestPeerMatrixHubSpoke(t *testing.T) {
	ids := []uint{1, 2, 3, 4}
	peers := map[uint]meshPeerConfig{
		1: {NodeID: 1}, 2: {NodeID: 2}, 3: {NodeID: 3}, 4: {NodeID: 4},
	}
	m := peerMatrix(ids, peers, domain.MeshTopologyHubSpoke)
	assert.Len(t, m[1], 3, "hub peers with every spoke")
	assert.Len(t, m[2], 1, "spoke peers only with the hub")
	assert.Len(t, m[3], 1)
	assert.Len(t, m[4], 1)
}

func TestGenerateCurve25519KeypairDeterministicLength(t *testing.T) {
	priv, pub, err := generateCurve25519Keypair()
	assert.NoError(t, err)
	assert.NotEmpty(t, priv)
	assert.NotEmpty(t, pub)
	assert.Len(t, priv, 44, "base64 of a 32-byte key")
	assert.Len(t, pub, 44, "base64 of a 32-byte key")
	assert.NotEqual(t, priv, pub)
}
