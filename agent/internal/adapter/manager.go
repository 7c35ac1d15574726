package adapter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/smite/agent/internal/firewall"
)

type tunnelRecord struct {
	Core string `json:"core"`
	Spec Spec   `json:"spec"`
}

// Manager owns every running tunnel on the node: which adapter instance
// currently backs a tunnel_id, and the last-applied {core, spec} persisted
// to tunnels.json so tunnels survive an agent restart. Grounded on the
// node agent's core_adapters.py AdapterManager.
type Manager struct {
	adapters map[string]Adapter
	logger   *zap.Logger

	mu       sync.Mutex
	active   map[string]Adapter
	records  map[string]tunnelRecord
	stateDir string

	tracker *firewall.Tracker
}

// SetFirewallTracker wires C2's byte-counter rules into tunnel apply/remove.
// Optional: a nil tracker (the default) simply skips counter installation.
func (m *Manager) SetFirewallTracker(t *firewall.Tracker) {
	m.tracker = t
}

// firewallPort picks the local port a tunnel's counter rule should key on,
// trying the field names used across the core specs in listen-port order of
// likelihood. Returns 0 if none apply (e.g. a pure client-mode spec with no
// local listener).
func firewallPort(spec Spec) int {
	for _, key := range []string{"listen_port", "bind_port", "control_port", "server_port", "local_port", "remote_port"} {
		if p := spec.int(key, 0); p > 0 {
			return p
		}
	}
	return 0
}

func NewManager(adapters map[string]Adapter, stateDir string, logger *zap.Logger) *Manager {
	return &Manager{
		adapters: adapters,
		logger:   logger,
		active:   make(map[string]Adapter),
		records:  make(map[string]tunnelRecord),
		stateDir: stateDir,
	}
}

func (m *Manager) tunnelsFile() string {
	return filepath.Join(m.stateDir, "tunnels.json")
}

// ApplyTunnel removes any existing instance of tunnelID, dispatches to the
// adapter named by core, and persists the new record on success.
func (m *Manager) ApplyTunnel(tunnelID, core string, spec Spec) error {
	m.mu.Lock()
	if existing, ok := m.active[tunnelID]; ok {
		m.mu.Unlock()
		_ = existing.Remove(tunnelID)
		m.mu.Lock()
		delete(m.active, tunnelID)
	}
	m.mu.Unlock()

	a, ok := m.adapters[core]
	if !ok {
		return fmt.Errorf("unknown tunnel core: %s", core)
	}

	if err := a.Apply(tunnelID, spec); err != nil {
		return err
	}

	m.mu.Lock()
	m.active[tunnelID] = a
	m.records[tunnelID] = tunnelRecord{Core: core, Spec: spec}
	m.mu.Unlock()

	if m.tracker != nil {
		if port := firewallPort(spec); port > 0 {
			m.tracker.AddRule(tunnelID, port, spec.boolVal("use_ipv6", false))
		}
	}

	return m.persist()
}

func (m *Manager) RemoveTunnel(tunnelID string) error {
	m.mu.Lock()
	a, ok := m.active[tunnelID]
	m.mu.Unlock()

	if ok {
		if err := a.Remove(tunnelID); err != nil {
			m.logger.Warn("tunnel remove reported an error", zap.String("tunnel_id", tunnelID), zap.Error(err))
		}
	}

	m.mu.Lock()
	delete(m.active, tunnelID)
	delete(m.records, tunnelID)
	m.mu.Unlock()

	if m.tracker != nil {
		m.tracker.RemoveRule(tunnelID)
	}

	return m.persist()
}

// ActiveTunnelIDs lists every tunnel_id currently backed by a running
// adapter instance.
func (m *Manager) ActiveTunnelIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) Status(tunnelID string) (Status, bool) {
	m.mu.Lock()
	a, ok := m.active[tunnelID]
	m.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	st, err := a.Status(tunnelID)
	if err != nil {
		m.logger.Warn("tunnel status check failed", zap.String("tunnel_id", tunnelID), zap.Error(err))
	}
	return st, true
}

// persist atomically rewrites tunnels.json: write to a sibling .tmp file,
// fsync, then rename over the live file so a crash mid-write never leaves
// a truncated or partially-written state file.
func (m *Manager) persist() error {
	m.mu.Lock()
	snapshot := make(map[string]tunnelRecord, len(m.records))
	for k, v := range m.records {
		snapshot[k] = v
	}
	m.mu.Unlock()

	if err := os.MkdirAll(m.stateDir, 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	body, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tunnel state: %w", err)
	}

	tmpPath := m.tunnelsFile() + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open tunnel state tmp file: %w", err)
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		return fmt.Errorf("failed to write tunnel state: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to fsync tunnel state: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close tunnel state tmp file: %w", err)
	}
	if err := os.Rename(tmpPath, m.tunnelsFile()); err != nil {
		return fmt.Errorf("failed to rename tunnel state into place: %w", err)
	}
	return nil
}

// RestoreTunnels loads tunnels.json and re-applies every persisted tunnel.
// Per-entry failures are logged and skipped; they never abort the batch.
func (m *Manager) RestoreTunnels() {
	body, err := os.ReadFile(m.tunnelsFile())
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("failed to read tunnel state file", zap.Error(err))
		}
		return
	}
	if len(body) == 0 {
		return
	}

	var records map[string]tunnelRecord
	if err := json.Unmarshal(body, &records); err != nil {
		m.logger.Error("failed to parse tunnel state file, starting with no tunnels", zap.Error(err))
		return
	}

	restored, failed := 0, 0
	for tunnelID, rec := range records {
		if rec.Core == "" {
			m.logger.Warn("tunnel missing core, skipping", zap.String("tunnel_id", tunnelID))
			failed++
			continue
		}
		if len(rec.Spec) == 0 {
			m.logger.Warn("tunnel has empty spec, skipping", zap.String("tunnel_id", tunnelID))
			failed++
			continue
		}

		a, ok := m.adapters[rec.Core]
		if !ok {
			m.logger.Warn("tunnel references unknown core, skipping", zap.String("tunnel_id", tunnelID), zap.String("core", rec.Core))
			failed++
			continue
		}

		if _, hasMode := rec.Spec["mode"]; !hasMode {
			switch rec.Core {
			case "rathole", "backhaul", "chisel", "frp":
				rec.Spec["mode"] = "client"
			}
		}

		if err := a.Apply(tunnelID, rec.Spec); err != nil {
			m.logger.Error("failed to restore tunnel", zap.String("tunnel_id", tunnelID), zap.String("core", rec.Core), zap.Error(err))
			failed++
			continue
		}

		m.mu.Lock()
		m.active[tunnelID] = a
		m.records[tunnelID] = rec
		m.mu.Unlock()

		if m.tracker != nil {
			if port := firewallPort(rec.Spec); port > 0 {
				m.tracker.AddRule(tunnelID, port, rec.Spec.boolVal("use_ipv6", false))
			}
		}
		restored++
	}

	m.logger.Info("tunnel restoration complete", zap.Int("restored", restored), zap.Int("failed", failed))
}
