package adapter

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAdapter struct {
	applyErr error
	applied  []string
	removed  []string
}

func (f *fakeAdapter) Apply(tunnelID string, spec Spec) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, tunnelID)
	return nil
}
func (f *fakeAdapter) Remove(tunnelID string) error {
	f.removed = append(f.removed, tunnelID)
	return nil
}
func (f *fakeAdapter) Status(tunnelID string) (Status, error) {
	return Status{Active: true}, nil
}

func TestManagerApplyAndPersist(t *testing.T) {
	dir := t.TempDir()
	fa := &fakeAdapter{}
	m := NewManager(map[string]Adapter{"gost": fa}, dir, zap.NewNop())

	require.NoError(t, m.ApplyTunnel("t1", "gost", Spec{"listen_port": float64(9000)}))
	assert.Equal(t, []string{"t1"}, fa.applied)

	body, err := os.ReadFile(filepath.Join(dir, "tunnels.json"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "t1")
	assert.Contains(t, string(body), "gost")

	st, ok := m.Status("t1")
	assert.True(t, ok)
	assert.True(t, st.Active)

	require.NoError(t, m.RemoveTunnel("t1"))
	assert.Equal(t, []string{"t1"}, fa.removed)
	_, ok = m.Status("t1")
	assert.False(t, ok)
}

func TestFirewallPortPrefersListenPort(t *testing.T) {
	assert.Equal(t, 9000, firewallPort(Spec{"listen_port": float64(9000), "remote_port": float64(1234)}))
	assert.Equal(t, 1234, firewallPort(Spec{"remote_port": float64(1234)}))
	assert.Equal(t, 0, firewallPort(Spec{"token": "x"}))
}

func TestManagerApplyUnknownCore(t *testing.T) {
	m := NewManager(map[string]Adapter{}, t.TempDir(), zap.NewNop())
	err := m.ApplyTunnel("t1", "nope", Spec{})
	assert.ErrorContains(t, err, "unknown tunnel core")
}

func TestManagerRestoreTunnelsDefaultsMode(t *testing.T) {
	dir := t.TempDir()
	fa := &fakeAdapter{}
	m := NewManager(map[string]Adapter{"rathole": fa}, dir, zap.NewNop())

	body := `{"t1":{"core":"rathole","spec":{"token":"x"}}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tunnels.json"), []byte(body), 0o600))

	m.RestoreTunnels()
	assert.Equal(t, []string{"t1"}, fa.applied)
	assert.Equal(t, "client", m.records["t1"].Spec["mode"])

	_, ok := m.Status("t1")
	assert.True(t, ok)
}

func TestManagerRestoreTunnelsSkipsFailures(t *testing.T) {
	dir := t.TempDir()
	fa := &fakeAdapter{applyErr: errors.New("boom")}
	m := NewManager(map[string]Adapter{"rathole": fa}, dir, zap.NewNop())

	body := `{"t1":{"core":"rathole","spec":{"token":"x"}},"t2":{"core":"unknown","spec":{"x":1}}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tunnels.json"), []byte(body), 0o600))

	m.RestoreTunnels()
	_, ok := m.Status("t1")
	assert.False(t, ok)
	_, ok = m.Status("t2")
	assert.False(t, ok)
}
