package adapter

import (
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/smite/agent/internal/netaddr"
	"go.uber.org/zap"
)

var backhaulServerOptionKeys = []string{
	"nodelay", "keepalive_period", "channel_size", "log_level",
	"heartbeat", "mux_con", "accept_udp", "skip_optz",
	"tls_cert", "tls_key", "sniffer", "web_port", "proxy_protocol",
}

var backhaulClientOptionKeys = []string{
	"connection_pool", "retry_interval", "nodelay", "keepalive_period",
	"log_level", "pprof", "mux_session", "mux_version", "mux_framesize",
	"mux_recievebuffer", "mux_streambuffer", "sniffer", "web_port",
	"sniffer_log", "dial_timeout", "aggressive_pool", "edge_ip",
	"skip_optz", "mss", "so_rcvbuf", "so_sndbuf", "accept_udp",
}

var backhaulTransports = map[string]bool{"tcp": true, "udp": true, "ws": true, "wsmux": true, "tcpmux": true}

// BackhaulAdapter supervises backhaul in server or client mode. Grounded on
// the node agent's core_adapters.py BackhaulAdapter: disjoint server/client
// option sets rendered into one TOML file, token optional on either side.
type BackhaulAdapter struct {
	sup *supervisor
}

func NewBackhaulAdapter(baseDir string, logger *zap.Logger) *BackhaulAdapter {
	return &BackhaulAdapter{sup: newSupervisor("backhaul", baseDir, "toml", "BACKHAUL_CLIENT_BINARY", "backhaul", logger)}
}

func (a *BackhaulAdapter) Apply(tunnelID string, spec Spec) error {
	mode := spec.str("mode", "client")
	transport := strings.ToLower(spec.str("transport", spec.str("type", "tcp")))
	if !backhaulTransports[transport] {
		return fmt.Errorf("unsupported backhaul transport %q", transport)
	}

	var section map[string]interface{}

	if mode == "server" {
		bindAddr := spec.str("bind_addr", "")
		if bindAddr == "" {
			controlPort := spec.int("control_port", spec.int("listen_port", 3080))
			bindIP := spec.str("bind_ip", "0.0.0.0")
			bindAddr = fmt.Sprintf("%s:%d", bindIP, controlPort)
		}

		ports := spec.strSlice("ports")
		if len(ports) == 0 {
			listenPort := spec.int("public_port", spec.int("listen_port", 0))
			targetAddr := spec.str("target_addr", "")
			if targetAddr == "" {
				targetHost := spec.str("target_host", "127.0.0.1")
				targetPort := spec.int("target_port", listenPort)
				if targetPort != 0 {
					targetAddr = fmt.Sprintf("%s:%d", targetHost, targetPort)
				}
			}
			if listenPort != 0 && targetAddr != "" {
				ports = []string{fmt.Sprintf("%d=%s", listenPort, targetAddr)}
			} else if listenPort != 0 {
				ports = []string{fmt.Sprintf("%d", listenPort)}
			}
		}

		section = map[string]interface{}{
			"bind_addr": bindAddr,
			"transport": transport,
			"ports":     ports,
		}
		if token := spec.str("token", ""); token != "" {
			section["token"] = token
		}
		for _, key := range backhaulServerOptionKeys {
			if v, ok := spec[key]; ok && v != nil && v != "" {
				section[key] = v
			}
		}
		return a.spawn(tunnelID, map[string]interface{}{"server": section}, "BACKHAUL_SERVER_BINARY")
	}

	remoteAddr := spec.str("remote_addr", spec.str("control_addr", spec.str("bind_addr", "")))
	if remoteAddr == "" {
		return fmt.Errorf("backhaul client requires 'remote_addr' in spec")
	}
	remoteAddr, _ = netaddr.StripScheme(remoteAddr)

	section = map[string]interface{}{
		"remote_addr": remoteAddr,
		"transport":   transport,
	}
	if token := spec.str("token", ""); token != "" {
		section["token"] = token
	}
	for _, key := range backhaulClientOptionKeys {
		if v, ok := spec[key]; ok && v != nil && v != "" {
			section[key] = v
		}
	}
	if _, ok := section["connection_pool"]; !ok {
		section["connection_pool"] = 4
	}
	if _, ok := section["retry_interval"]; !ok {
		section["retry_interval"] = 3
	}
	if _, ok := section["dial_timeout"]; !ok {
		section["dial_timeout"] = 10
	}
	if spec.boolVal("accept_udp", false) && (transport == "tcp" || transport == "tcpmux") {
		section["accept_udp"] = true
	}
	return a.spawn(tunnelID, map[string]interface{}{"client": section}, "BACKHAUL_CLIENT_BINARY")
}

func (a *BackhaulAdapter) spawn(tunnelID string, root map[string]interface{}, binaryEnvVar string) error {
	body, err := toml.Marshal(root)
	if err != nil {
		return fmt.Errorf("failed to render backhaul config: %w", err)
	}
	return a.sup.spawnWithBinaryEnv(tunnelID, string(body), []string{"-c", a.sup.configPath(tunnelID)}, binaryEnvVar)
}

func (a *BackhaulAdapter) Remove(tunnelID string) error { return a.sup.remove(tunnelID) }

func (a *BackhaulAdapter) Status(tunnelID string) (Status, error) {
	st := a.sup.status(tunnelID)
	st.Active = st.ConfigExists && st.ProcessRunning
	return st, nil
}
