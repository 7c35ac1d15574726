package services

import (
	"testing"

	"github.com/smite/panel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePanelAddressPrefersNodeMetadata(t *testing.T) {
	meta := domain.JSONB{"panel_address": "panel.example.com"}
	tunnel := &domain.Tunnel{Spec: domain.JSONB{"panel_host": "spec.example.com"}}
	host, err := ResolvePanelAddress(meta, tunnel)
	require.NoError(t, err)
	assert.Equal(t, "panel.example.com", host)
}

func TestResolvePanelAddressFallsThroughRejectedHosts(t *testing.T) {
	meta := domain.JSONB{"panel_address": "localhost"}
	tunnel := &domain.Tunnel{
		Spec:          domain.JSONB{"panel_host": "0.0.0.0"},
		ForwardedHost: "",
		RequestHost:   "203.0.113.5:8080",
	}
	host, err := ResolvePanelAddress(meta, tunnel)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.5", host)
}

func TestResolvePanelAddressBracketsIPv6(t *testing.T) {
	meta := domain.JSONB{"panel_address": "2001:db8::1"}
	tunnel := &domain.Tunnel{}
	host, err := ResolvePanelAddress(meta, tunnel)
	require.NoError(t, err)
	assert.Equal(t, "[2001:db8::1]", host)
}

func TestResolvePanelAddressFailsWhenAllRejected(t *testing.T) {
	tunnel := &domain.Tunnel{}
	_, err := ResolvePanelAddress(domain.JSONB{}, tunnel)
	assert.Error(t, err)
}
