// Package wgadapter implements the node-side WireGuard mesh adapter (C5):
// bringing interfaces up/down, resolving IP conflicts aggressively before
// attaching an overlay address, optional wg-obfuscator endpoint rewriting,
// and route/ip_forward setup. Grounded on the node agent's
// wireguard_adapter.py.
package wgadapter

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	obfuscatorPortBase  = 19000
	obfuscatorPortRange = 5000
	sourcePortBase      = 24000
	sourcePortRange     = 1000
)

var (
	addressLineRe  = regexp.MustCompile(`(?m)^\s*Address\s*=\s*(.+)$`)
	allowedIPsRe   = regexp.MustCompile(`(?m)^\s*AllowedIPs\s*=\s*(.+)$`)
	endpointLineRe = regexp.MustCompile(`^\s*Endpoint\s*=\s*(.+)$`)
	publicKeyRe    = regexp.MustCompile(`^\s*PublicKey\s*=\s*(.+)$`)
	endpointSplit  = regexp.MustCompile(`^\[?([^\]]+)\]?:(\d+)$`)
)

type obfuscatorChild struct {
	cmd        *exec.Cmd
	configPath string
}

// Peer mirrors wg show's per-peer fields for the status surface.
type Peer struct {
	PublicKey     string `json:"public_key"`
	Endpoint      string `json:"endpoint,omitempty"`
	AllowedIPs    string `json:"allowed_ips,omitempty"`
	LastHandshake string `json:"last_handshake,omitempty"`
	Connected     bool   `json:"connected"`
}

// Status is C5's apply-result surface.
type Status struct {
	Active    bool   `json:"active"`
	Interface string `json:"interface,omitempty"`
	OverlayIP string `json:"overlay_ip,omitempty"`
	Peers     []Peer `json:"peers"`
}

type Adapter struct {
	configDir        string
	logger           *zap.Logger
	wgBinary         string
	wgQuickBinary    string
	obfuscatorBinary string

	mu         sync.Mutex
	interfaces map[string]string // mesh_id -> interface name
	obfs       map[string]map[string]*obfuscatorChild
}

func New(configDir string, logger *zap.Logger) (*Adapter, error) {
	a := &Adapter{
		configDir:  configDir,
		logger:     logger,
		interfaces: make(map[string]string),
		obfs:       make(map[string]map[string]*obfuscatorChild),
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create wireguard config dir: %w", err)
	}

	var err error
	if a.wgBinary, err = lookupBinary("wg"); err != nil {
		return nil, fmt.Errorf("wireguard binaries not found: %w", err)
	}
	if a.wgQuickBinary, err = lookupBinary("wg-quick"); err != nil {
		return nil, fmt.Errorf("wireguard binaries not found: %w", err)
	}
	a.obfuscatorBinary, _ = lookupBinary("wg-obfuscator") // optional

	return a, nil
}

func lookupBinary(name string) (string, error) {
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	for _, dir := range []string{"/usr/bin", "/usr/local/bin"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s not found", name)
}

func interfaceName(meshID string) string {
	name := "wg-" + meshID
	if len(meshID) > 8 {
		name = "wg-" + meshID[:8]
	}
	return name
}

func (a *Adapter) configPath(ifaceName string) string {
	return filepath.Join(a.configDir, ifaceName+".conf")
}

// Apply runs the full seven-step sequence: tear down any stale interface,
// remove stale routes, resolve IP conflicts for the overlay address,
// stop prior obfuscator children, rewrite endpoints through wg-obfuscator
// if installed, write the config and bring the interface up, add routes,
// and enable ip_forward best-effort.
func (a *Adapter) Apply(meshID string, wgConfig string, routes []string) error {
	if strings.TrimSpace(wgConfig) == "" {
		return fmt.Errorf("wireguard config is required")
	}

	iface := interfaceName(meshID)
	cfgPath := a.configPath(iface)

	a.bringDownExisting(iface, cfgPath)

	for _, ip := range extractAllowedIPs(wgConfig) {
		a.removeRoute(ip)
	}

	if overlayIP := extractOverlayIP(wgConfig); overlayIP != "" {
		a.resolveIPConflicts(iface, meshID, overlayIP)
	}

	a.stopObfuscators(meshID)

	if a.obfuscatorBinary != "" {
		rewritten, err := a.applyObfuscation(meshID, wgConfig)
		if err != nil {
			a.logger.Warn("wg-obfuscator setup failed, continuing without obfuscation", zap.String("mesh_id", meshID), zap.Error(err))
		} else {
			wgConfig = rewritten
		}
	}

	if err := os.WriteFile(cfgPath, []byte(wgConfig), 0o600); err != nil {
		return fmt.Errorf("failed to write wireguard config: %w", err)
	}

	cmd := exec.Command(a.wgQuickBinary, "up", cfgPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to start wireguard: %s", strings.TrimSpace(string(out)))
	}

	a.mu.Lock()
	a.interfaces[meshID] = iface
	a.mu.Unlock()

	for _, route := range routes {
		a.addRoute(iface, route)
	}
	a.enableIPForwarding()

	a.logger.Info("wireguard_apply_ok", zap.String("mesh_id", meshID), zap.String("interface", iface))
	return nil
}

func (a *Adapter) bringDownExisting(iface, cfgPath string) {
	if _, err := os.Stat(cfgPath); err == nil {
		_ = runWithTimeout(5*time.Second, a.wgQuickBinary, "down", cfgPath)
		time.Sleep(300 * time.Millisecond)
	}

	if !a.interfaceExists(iface) {
		return
	}

	_ = runWithTimeout(5*time.Second, a.wgQuickBinary, "down", iface)
	_ = runWithTimeout(5*time.Second, "ip", "link", "delete", iface)
	time.Sleep(500 * time.Millisecond)

	if a.interfaceExists(iface) {
		a.logger.Warn("interface still present after cleanup, forcing removal", zap.String("interface", iface))
		_ = runWithTimeout(5*time.Second, "ip", "addr", "flush", "dev", iface)
		_ = runWithTimeout(5*time.Second, "ip", "link", "set", iface, "down")
		_ = runWithTimeout(5*time.Second, "ip", "link", "delete", iface)
		time.Sleep(500 * time.Millisecond)
	}
}

func (a *Adapter) interfaceExists(iface string) bool {
	return exec.Command("ip", "link", "show", iface).Run() == nil
}

func (a *Adapter) removeRoute(route string) {
	_ = runWithTimeout(2*time.Second, "ip", "route", "del", route)
}

func (a *Adapter) addRoute(iface, route string) {
	if out, _ := exec.Command("ip", "route", "show", route, "dev", iface).CombinedOutput(); strings.TrimSpace(string(out)) != "" {
		return
	}
	if out, err := exec.Command("ip", "route", "add", route, "dev", iface).CombinedOutput(); err != nil {
		a.logger.Warn("failed to add route", zap.String("route", route), zap.String("interface", iface), zap.String("output", string(out)))
	}
}

func (a *Adapter) enableIPForwarding() {
	if err := os.WriteFile("/proc/sys/net/ipv4/ip_forward", []byte("1"), 0o644); err != nil {
		a.logger.Warn("failed to enable ip_forward", zap.Error(err))
	}
}

// resolveIPConflicts removes overlayIP, in every plausible CIDR form, from
// every interface currently carrying it, then force-flushes the interface
// as a last resort if it's still present.
func (a *Adapter) resolveIPConflicts(targetIface, meshID, overlayIP string) {
	candidates := map[string]bool{targetIface: true}

	out, _ := exec.Command("ip", "-o", "addr", "show").CombinedOutput()
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, overlayIP) && strings.Contains(line, "inet") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				candidates[fields[1]] = true
			}
		}
	}

	linkOut, _ := exec.Command("ip", "link", "show").CombinedOutput()
	for _, line := range strings.Split(string(linkOut), "\n") {
		if strings.Contains(line, ":") && strings.Contains(strings.ToLower(line), "wg") {
			parts := strings.SplitN(line, ":", 3)
			if len(parts) >= 2 {
				name := strings.SplitN(strings.TrimSpace(parts[1]), "@", 2)[0]
				if name != "" {
					candidates[name] = true
				}
			}
		}
	}

	for iface := range candidates {
		for _, cidr := range []string{overlayIP + "/32", overlayIP + "/128", overlayIP} {
			_ = exec.Command("ip", "addr", "del", cidr, "dev", iface).Run()
		}
	}

	time.Sleep(500 * time.Millisecond)

	verify, _ := exec.Command("ip", "-o", "addr", "show").CombinedOutput()
	if !strings.Contains(string(verify), overlayIP) {
		return
	}

	for _, line := range strings.Split(string(verify), "\n") {
		if !strings.Contains(line, overlayIP) || !strings.Contains(line, "inet") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		iface := fields[1]
		a.logger.Warn("ip still present after cleanup, flushing interface", zap.String("ip", overlayIP), zap.String("interface", iface))
		_ = exec.Command("ip", "addr", "flush", "dev", iface).Run()
		for _, cidr := range []string{overlayIP + "/32", overlayIP + "/128", overlayIP} {
			_ = exec.Command("ip", "addr", "del", cidr, "dev", iface).Run()
		}
	}
}

func extractAllowedIPs(cfg string) []string {
	var ips []string
	for _, m := range allowedIPsRe.FindAllStringSubmatch(cfg, -1) {
		for _, ip := range strings.Split(m[1], ",") {
			if ip = strings.TrimSpace(ip); ip != "" {
				ips = append(ips, ip)
			}
		}
	}
	return ips
}

func extractOverlayIP(cfg string) string {
	m := addressLineRe.FindStringSubmatch(cfg)
	if m == nil {
		return ""
	}
	addr := strings.TrimSpace(m[1])
	if idx := strings.Index(addr, "/"); idx >= 0 {
		addr = addr[:idx]
	}
	return addr
}

// applyObfuscation rewrites each [Peer] Endpoint to a local wg-obfuscator
// listener and spawns one obfuscator process per peer to forward to the
// real endpoint.
func (a *Adapter) applyObfuscation(meshID, wgConfig string) (string, error) {
	lines := strings.Split(wgConfig, "\n")
	var out []string
	var peerBuf []string
	var peerKey, peerEndpoint string
	inPeer := false

	flush := func() {
		if peerKey != "" && peerEndpoint != "" {
			out = append(out, a.rewritePeer(meshID, peerKey, peerEndpoint, peerBuf)...)
		} else {
			out = append(out, peerBuf...)
		}
	}

	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "[Peer]" {
			if inPeer {
				flush()
			}
			peerBuf = []string{raw}
			inPeer = true
			peerKey, peerEndpoint = "", ""
			continue
		}
		if inPeer {
			peerBuf = append(peerBuf, raw)
			if m := publicKeyRe.FindStringSubmatch(line); m != nil {
				peerKey = strings.TrimSpace(m[1])
			} else if m := endpointLineRe.FindStringSubmatch(line); m != nil {
				peerEndpoint = strings.TrimSpace(m[1])
			}
			if i == len(lines)-1 {
				flush()
				inPeer = false
			}
			continue
		}
		out = append(out, raw)
	}
	if inPeer {
		flush()
	}

	return strings.Join(out, "\n"), nil
}

func (a *Adapter) rewritePeer(meshID, peerKey, endpoint string, peerLines []string) []string {
	m := endpointSplit.FindStringSubmatch(strings.TrimSpace(endpoint))
	if m == nil {
		a.logger.Warn("could not parse peer endpoint, skipping obfuscation", zap.String("endpoint", endpoint))
		return peerLines
	}
	realHost, realPort := m[1], m[2]

	localPort := obfuscatorPortBase + derivePort(meshID+"-"+peerKey+"-"+endpoint, obfuscatorPortRange)
	sourcePort := sourcePortBase + derivePort(meshID+"-"+peerKey+"-source", sourcePortRange)

	meshPrefix := meshID
	if len(meshPrefix) > 8 {
		meshPrefix = meshPrefix[:8]
	}
	peerPrefix := peerKey
	if len(peerPrefix) > 8 {
		peerPrefix = peerPrefix[:8]
	}
	cfgPath := filepath.Join(a.configDir, fmt.Sprintf("obfuscator-%s-%s.conf", meshPrefix, peerPrefix))
	cfgBody := fmt.Sprintf("[client]\nlisten = 127.0.0.1:%d\nserver-endpoint = %s:%s\nsource-lport = %d\n", localPort, realHost, realPort, sourcePort)

	if err := os.WriteFile(cfgPath, []byte(cfgBody), 0o600); err != nil {
		a.logger.Error("failed to write obfuscator config", zap.Error(err))
		return peerLines
	}

	cmd := exec.Command(a.obfuscatorBinary, "-c", cfgPath)
	if err := cmd.Start(); err != nil {
		a.logger.Error("failed to start wg-obfuscator", zap.Error(err))
		return peerLines
	}

	time.Sleep(200 * time.Millisecond)
	if cmd.ProcessState != nil {
		a.logger.Error("wg-obfuscator exited immediately", zap.String("peer", peerKey))
		return peerLines
	}

	a.mu.Lock()
	if a.obfs[meshID] == nil {
		a.obfs[meshID] = make(map[string]*obfuscatorChild)
	}
	a.obfs[meshID][peerKey] = &obfuscatorChild{cmd: cmd, configPath: cfgPath}
	a.mu.Unlock()

	rewritten := make([]string, 0, len(peerLines))
	for _, line := range peerLines {
		if endpointLineRe.MatchString(strings.TrimSpace(line)) {
			rewritten = append(rewritten, fmt.Sprintf("Endpoint = 127.0.0.1:%d", localPort))
		} else {
			rewritten = append(rewritten, line)
		}
	}
	return rewritten
}

// derivePort maps an MD5 digest of key into [0, span).
func derivePort(key string, span int) int {
	sum := md5.Sum([]byte(key))
	n := binary.BigEndian.Uint32(sum[:4])
	return int(n % uint32(span))
}

func (a *Adapter) stopObfuscators(meshID string) {
	a.mu.Lock()
	children := a.obfs[meshID]
	delete(a.obfs, meshID)
	a.mu.Unlock()

	for peerKey, c := range children {
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
			_, _ = c.cmd.Process.Wait()
		}
		_ = os.Remove(c.configPath)
		a.logger.Info("stopped wg-obfuscator", zap.String("mesh_id", meshID), zap.String("peer", peerKey))
	}
}

func (a *Adapter) Remove(meshID string) error {
	a.stopObfuscators(meshID)

	a.mu.Lock()
	iface, ok := a.interfaces[meshID]
	delete(a.interfaces, meshID)
	a.mu.Unlock()
	if !ok {
		return nil
	}

	cfgPath := a.configPath(iface)
	if _, err := os.Stat(cfgPath); err == nil {
		_ = exec.Command(a.wgQuickBinary, "down", cfgPath).Run()
		_ = os.Remove(cfgPath)
	}

	matches, _ := filepath.Glob(filepath.Join(a.configDir, fmt.Sprintf("obfuscator-%s-*.conf", truncate(meshID, 8))))
	for _, m := range matches {
		_ = os.Remove(m)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func (a *Adapter) Status(meshID string) Status {
	a.mu.Lock()
	iface, ok := a.interfaces[meshID]
	a.mu.Unlock()
	if !ok {
		return Status{Peers: []Peer{}}
	}

	overlayIP := a.getInterfaceIP(iface)

	out, err := exec.Command(a.wgBinary, "show", iface).CombinedOutput()
	if err != nil {
		return Status{Interface: iface, OverlayIP: overlayIP, Peers: []Peer{}}
	}

	return Status{Active: true, Interface: iface, OverlayIP: overlayIP, Peers: parseWGShow(string(out))}
}

func (a *Adapter) getInterfaceIP(iface string) string {
	out, err := exec.Command("ip", "addr", "show", iface).CombinedOutput()
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "inet ") {
			continue
		}
		for _, field := range strings.Fields(line) {
			if strings.Contains(field, "/") && strings.Count(field, ".") == 3 {
				return strings.SplitN(field, "/", 2)[0]
			}
		}
	}
	return ""
}

func parseWGShow(output string) []Peer {
	var peers []Peer
	var cur *Peer
	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "peer:"):
			if cur != nil {
				peers = append(peers, *cur)
			}
			cur = &Peer{PublicKey: strings.TrimSpace(strings.TrimPrefix(line, "peer:"))}
		case strings.HasPrefix(line, "endpoint:") && cur != nil:
			cur.Endpoint = strings.TrimSpace(strings.TrimPrefix(line, "endpoint:"))
		case strings.HasPrefix(line, "allowed ips:") && cur != nil:
			cur.AllowedIPs = strings.TrimSpace(strings.TrimPrefix(line, "allowed ips:"))
		case strings.HasPrefix(line, "latest handshake:") && cur != nil:
			hs := strings.TrimSpace(strings.TrimPrefix(line, "latest handshake:"))
			if hs != "" && hs != "(none)" {
				cur.LastHandshake = hs
				cur.Connected = true
			} else {
				cur.Connected = false
			}
		}
	}
	if cur != nil {
		peers = append(peers, *cur)
	}
	if peers == nil {
		peers = []Peer{}
	}
	return peers
}

func runWithTimeout(timeout time.Duration, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	done := make(chan error, 1)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		return fmt.Errorf("%s timed out after %s", name, timeout)
	}
}
