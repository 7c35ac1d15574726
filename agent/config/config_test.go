package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("panel_url: https://panel.example.com\nnode_token: secret\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://panel.example.com", cfg.PanelURL)
	assert.Equal(t, "foreign", cfg.NodeRole)
	assert.Equal(t, 8888, cfg.APIPort)
	assert.Equal(t, "/etc/smite-node", cfg.ConfigDir)
	assert.Equal(t, "/var/lib/smite-node", cfg.StateDir)
	assert.Equal(t, "/etc/smite-node/backhaul", cfg.BackhaulConfigDir)
}

func TestLoadMissingPanelURLFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node_token: secret\n"), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "panel_url")
}

func TestLoadInvalidRoleFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	body := "panel_url: https://panel.example.com\nnode_token: secret\nnode_role: exit\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "node_role")
}

func TestEnvOverridesPanelAddress(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("panel_url: https://stale.example.com\nnode_token: secret\n"), 0o600))

	t.Setenv("PANEL_ADDRESS", "https://panel.example.com")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://panel.example.com", cfg.PanelURL)
}
