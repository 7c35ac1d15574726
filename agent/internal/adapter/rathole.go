package adapter

import (
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/smite/agent/internal/netaddr"
	"go.uber.org/zap"
)

// RatholeAdapter supervises rathole in either server or client mode, one
// process per tunnel. Grounded on the node agent's core_adapters.py
// RatholeAdapter: a single TOML config file templated per mode, -s/-c
// binary invocation, and a services.<tunnel_id> block carrying the
// forwarded address.
type RatholeAdapter struct {
	sup *supervisor
}

func NewRatholeAdapter(baseDir string, logger *zap.Logger) *RatholeAdapter {
	return &RatholeAdapter{sup: newSupervisor("rathole", baseDir, "toml", "RATHOLE_BINARY", "rathole", logger)}
}

func (a *RatholeAdapter) Apply(tunnelID string, spec Spec) error {
	mode := spec.str("mode", "client")
	transport := strings.ToLower(spec.str("transport", spec.str("type", "tcp")))
	useWebsocket := transport == "websocket" || transport == "ws"
	websocketTLS := spec.boolVal("websocket_tls", spec.boolVal("tls", false))

	root := map[string]interface{}{}

	if mode == "server" {
		bindAddr := spec.str("bind_addr", "0.0.0.0:23333")
		token := strings.TrimSpace(spec.str("token", ""))
		proxyPort := spec.int("proxy_port", spec.int("remote_port", spec.int("listen_port", 0)))
		if token == "" {
			return fmt.Errorf("rathole server requires 'token' in spec")
		}
		if proxyPort == 0 {
			return fmt.Errorf("rathole server requires 'proxy_port' or 'remote_port' in spec")
		}

		bindHost, bindPort, _, ok := netaddr.Parse(bindAddr)
		if !ok || bindPort == 0 {
			bindHost, bindPort = "0.0.0.0", 23333
		}

		server := map[string]interface{}{
			"bind_addr":     fmt.Sprintf("%s:%d", bindHost, bindPort),
			"default_token": token,
		}
		if useWebsocket {
			ws := map[string]interface{}{}
			if websocketTLS {
				ws["tls"] = true
			}
			server["transport"] = map[string]interface{}{
				"type":      "websocket",
				"websocket": ws,
			}
		}
		server["services"] = map[string]interface{}{
			tunnelID: map[string]interface{}{
				"bind_addr": fmt.Sprintf("0.0.0.0:%d", proxyPort),
			},
		}
		root["server"] = server
	} else {
		remoteAddr := strings.TrimSpace(spec.str("remote_addr", ""))
		token := strings.TrimSpace(spec.str("token", ""))
		localAddr := spec.str("local_addr", "127.0.0.1:8080")
		if remoteAddr == "" {
			return fmt.Errorf("rathole client requires 'remote_addr' in spec")
		}
		if token == "" {
			return fmt.Errorf("rathole client requires 'token' in spec")
		}

		stripped, tls := netaddr.StripScheme(remoteAddr)
		remoteAddr = stripped
		if tls {
			websocketTLS = true
		}

		client := map[string]interface{}{
			"remote_addr":   remoteAddr,
			"default_token": token,
		}
		if useWebsocket {
			ws := map[string]interface{}{}
			if websocketTLS {
				ws["tls"] = true
			}
			client["transport"] = map[string]interface{}{
				"type":      "websocket",
				"websocket": ws,
			}
		}
		client["services"] = map[string]interface{}{
			tunnelID: map[string]interface{}{
				"local_addr": localAddr,
			},
		}
		root["client"] = client
	}

	body, err := toml.Marshal(root)
	if err != nil {
		return fmt.Errorf("failed to render rathole config: %w", err)
	}

	flag := "-c"
	if mode == "server" {
		flag = "-s"
	}
	return a.sup.spawn(tunnelID, string(body), []string{flag, a.sup.configPath(tunnelID)})
}

func (a *RatholeAdapter) Remove(tunnelID string) error { return a.sup.remove(tunnelID) }

func (a *RatholeAdapter) Status(tunnelID string) (Status, error) {
	st := a.sup.status(tunnelID)
	st.Active = st.ConfigExists && st.ProcessRunning
	return st, nil
}
