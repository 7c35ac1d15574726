package wgadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleConfig = `[Interface]
PrivateKey = abc
Address = 10.25.0.1/32

[Peer]
PublicKey = peer1key
AllowedIPs = 10.25.0.2/32, 192.168.1.0/24
Endpoint = 203.0.113.5:51820
`

func TestExtractOverlayIP(t *testing.T) {
	assert.Equal(t, "10.25.0.1", extractOverlayIP(sampleConfig))
}

func TestExtractAllowedIPs(t *testing.T) {
	assert.Equal(t, []string{"10.25.0.2/32", "192.168.1.0/24"}, extractAllowedIPs(sampleConfig))
}

func TestInterfaceName(t *testing.T) {
	assert.Equal(t, "wg-abcdefgh", interfaceName("abcdefghijklmnop"))
	assert.Equal(t, "wg-short", interfaceName("short"))
}

func TestDerivePortInRange(t *testing.T) {
	p := derivePort("mesh-peer-endpoint", obfuscatorPortRange)
	assert.GreaterOrEqual(t, p, 0)
	assert.Less(t, p, obfuscatorPortRange)
}

func TestDerivePortDeterministic(t *testing.T) {
	a := derivePort("mesh-peer-endpoint", obfuscatorPortRange)
	b := derivePort("mesh-peer-endpoint", obfuscatorPortRange)
	assert.Equal(t, a, b)
}

func TestParseWGShow(t *testing.T) {
	out := `peer: peer1key
  endpoint: 203.0.113.5:51820
  allowed ips: 10.25.0.2/32
  latest handshake: 5 seconds ago

peer: peer2key
  allowed ips: 10.25.0.3/32
  latest handshake: (none)
`
	peers := parseWGShow(out)
	if assert.Len(t, peers, 2) {
		assert.Equal(t, "peer1key", peers[0].PublicKey)
		assert.True(t, peers[0].Connected)
		assert.False(t, peers[1].Connected)
	}
}
