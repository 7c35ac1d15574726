package adapter

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type frpAuth struct {
	Method string `yaml:"method"`
	Token  string `yaml:"token"`
}

type frpProxy struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	LocalIP    string `yaml:"localIP"`
	LocalPort  int    `yaml:"localPort"`
	RemotePort int    `yaml:"remotePort"`
}

type frpsConfig struct {
	BindPort int      `yaml:"bindPort"`
	Auth     *frpAuth `yaml:"auth,omitempty"`
}

type frpcConfig struct {
	ServerAddr string     `yaml:"serverAddr"`
	ServerPort int        `yaml:"serverPort"`
	Auth       *frpAuth   `yaml:"auth,omitempty"`
	Proxies    []frpProxy `yaml:"proxies"`
}

var frpInvalidServerAddrs = map[string]bool{"0.0.0.0": true, "localhost": true, "127.0.0.1": true, "::1": true, "": true}

// FrpAdapter supervises frps/frpc, one process per tunnel, YAML config.
// Grounded on the node agent's core_adapters.py FrpAdapter.
type FrpAdapter struct {
	serverSup *supervisor
	clientSup *supervisor
}

func NewFrpAdapter(baseDir string, logger *zap.Logger) *FrpAdapter {
	return &FrpAdapter{
		serverSup: newSupervisorWithPrefix("frp", baseDir, "yaml", "FRPS_BINARY", "frps", "frps_", logger),
		clientSup: newSupervisorWithPrefix("frp", baseDir, "yaml", "FRPC_BINARY", "frpc", "frpc_", logger),
	}
}

func (a *FrpAdapter) Apply(tunnelID string, spec Spec) error {
	mode := spec.str("mode", "client")

	if mode == "server" {
		cfg := frpsConfig{BindPort: spec.int("bind_port", 7000)}
		if token := spec.str("token", ""); token != "" {
			cfg.Auth = &frpAuth{Method: "token", Token: token}
		}
		body, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to render frps config: %w", err)
		}
		return a.serverSup.spawn(tunnelID, string(body), []string{"-c", a.serverSup.configPath(tunnelID)})
	}

	serverAddr := strings.TrimSpace(spec.str("server_addr", ""))
	serverAddr = strings.TrimPrefix(strings.TrimSuffix(serverAddr, "]"), "[")
	if frpInvalidServerAddrs[serverAddr] {
		return fmt.Errorf("invalid FRP server_addr: %q, must be a valid foreign server IP or hostname", serverAddr)
	}

	tunnelType := strings.ToLower(spec.str("type", "tcp"))
	if tunnelType != "tcp" && tunnelType != "udp" {
		return fmt.Errorf("FRP only supports 'tcp' and 'udp' types, got %q", tunnelType)
	}
	localPort := spec.int("local_port", 0)
	remotePort := spec.int("remote_port", spec.int("listen_port", 0))
	if localPort == 0 {
		return fmt.Errorf("FRP client requires 'local_port' in spec")
	}
	if remotePort == 0 {
		return fmt.Errorf("FRP client requires 'remote_port' or 'listen_port' in spec")
	}

	cfg := frpcConfig{
		ServerAddr: serverAddr,
		ServerPort: spec.int("server_port", 7000),
		Proxies: []frpProxy{{
			Name:       tunnelID,
			Type:       tunnelType,
			LocalIP:    spec.str("local_ip", "127.0.0.1"),
			LocalPort:  localPort,
			RemotePort: remotePort,
		}},
	}
	if token := spec.str("token", ""); token != "" {
		cfg.Auth = &frpAuth{Method: "token", Token: token}
	}

	body, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to render frpc config: %w", err)
	}
	return a.clientSup.spawn(tunnelID, string(body), []string{"-c", a.clientSup.configPath(tunnelID)})
}

func (a *FrpAdapter) Remove(tunnelID string) error {
	_ = a.serverSup.remove(tunnelID)
	return a.clientSup.remove(tunnelID)
}

func (a *FrpAdapter) Status(tunnelID string) (Status, error) {
	st := a.serverSup.status(tunnelID)
	if !st.ProcessRunning {
		st = a.clientSup.status(tunnelID)
	}
	st.Active = st.ProcessRunning
	return st, nil
}
