package adapter

import (
	"fmt"

	"github.com/smite/agent/internal/netaddr"
	"go.uber.org/zap"
)

// ChiselAdapter supervises chisel server/client. Grounded on the node
// agent's core_adapters.py ChiselAdapter: no config file, arguments only,
// reverse spec string built from the parsed local_addr.
type ChiselAdapter struct {
	sup *supervisor
}

func NewChiselAdapter(baseDir string, logger *zap.Logger) *ChiselAdapter {
	return &ChiselAdapter{sup: newSupervisor("chisel", baseDir, "log", "CHISEL_BINARY", "chisel", logger)}
}

func (a *ChiselAdapter) Apply(tunnelID string, spec Spec) error {
	mode := spec.str("mode", "client")
	auth := spec.str("auth", "")
	fingerprint := spec.str("fingerprint", "")

	var args []string
	if mode == "server" {
		serverPort := spec.int("server_port", spec.int("control_port", spec.int("listen_port", 0)))
		reversePort := spec.int("reverse_port", spec.int("remote_port", spec.int("listen_port", 0)))
		if serverPort == 0 {
			return fmt.Errorf("chisel server requires 'server_port' or 'control_port' in spec")
		}
		if reversePort == 0 {
			return fmt.Errorf("chisel server requires 'reverse_port' or 'remote_port' in spec")
		}
		args = []string{"server", "--host", "0.0.0.0", "--port", fmt.Sprintf("%d", serverPort), "--reverse"}
	} else {
		serverURL := spec.str("server_url", "")
		reversePort := spec.int("reverse_port", spec.int("remote_port", spec.int("listen_port", spec.int("server_port", 0))))
		if serverURL == "" {
			return fmt.Errorf("chisel client requires 'server_url' in spec")
		}
		if reversePort == 0 {
			return fmt.Errorf("chisel client requires 'reverse_port', 'remote_port', or 'listen_port' in spec")
		}
		localAddr := spec.str("local_addr", fmt.Sprintf("127.0.0.1:%d", reversePort))

		host, port, isIPv6, ok := netaddr.Parse(localAddr)
		if !ok || port == 0 {
			return fmt.Errorf("invalid local_addr format: %s (port required)", localAddr)
		}
		var reverseSpec string
		if isIPv6 {
			reverseSpec = fmt.Sprintf("R:%d:[%s]:%d", reversePort, host, port)
		} else {
			reverseSpec = fmt.Sprintf("R:%d:%s:%d", reversePort, host, port)
		}
		args = []string{"client", serverURL, reverseSpec}
	}

	if auth != "" {
		args = append(args, "--auth", auth)
	}
	if fingerprint != "" {
		args = append(args, "--fingerprint", fingerprint)
	}

	return a.sup.spawn(tunnelID, "", args)
}

func (a *ChiselAdapter) Remove(tunnelID string) error { return a.sup.remove(tunnelID) }

func (a *ChiselAdapter) Status(tunnelID string) (Status, error) {
	st := a.sup.status(tunnelID)
	st.Active = st.ProcessRunning
	return st, nil
}
