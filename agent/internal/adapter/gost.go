package adapter

import (
	"fmt"
	"net"
	"strings"

	"github.com/smite/agent/internal/netaddr"
	"go.uber.org/zap"
)

var gostTypes = map[string]string{"tcp": "tcp", "udp": "udp", "grpc": "grpc", "tcpmux": "tcpmux"}

// GostAdapter runs a single gost forwarder per tunnel (iran -> foreign).
// Grounded on the node agent's core_adapters.py GostAdapter. ws listen
// binds to the host's default outbound address, discovered the same way
// (a connected UDP socket, never sending packets).
type GostAdapter struct {
	sup *supervisor
}

func NewGostAdapter(baseDir string, logger *zap.Logger) *GostAdapter {
	return &GostAdapter{sup: newSupervisor("gost", baseDir, "log", "GOST_BINARY", "gost", logger)}
}

func (a *GostAdapter) Apply(tunnelID string, spec Spec) error {
	listenPort := spec.int("listen_port", spec.int("remote_port", 0))
	if listenPort == 0 {
		return fmt.Errorf("GOST requires 'listen_port' or 'remote_port' in spec")
	}

	forwardTo := spec.str("forward_to", "")
	if forwardTo == "" {
		remoteIP := spec.str("remote_ip", "127.0.0.1")
		remotePort := spec.int("remote_port", 8080)
		forwardTo = fmt.Sprintf("%s:%d", remoteIP, remotePort)
	}

	tunnelType := strings.ToLower(spec.str("type", "tcp"))
	useIPv6 := spec.boolVal("use_ipv6", false)

	forwardHost, forwardPort, forwardIsIPv6, ok := netaddr.Parse(forwardTo)
	if !ok {
		return fmt.Errorf("invalid forward_to address: %s", forwardTo)
	}
	if forwardPort == 0 {
		forwardPort = 8080
	}
	var targetAddr string
	if forwardIsIPv6 {
		targetAddr = fmt.Sprintf("[%s]:%d", forwardHost, forwardPort)
	} else {
		targetAddr = fmt.Sprintf("%s:%d", forwardHost, forwardPort)
	}

	listenAddr := fmt.Sprintf("0.0.0.0:%d", listenPort)
	if useIPv6 {
		listenAddr = fmt.Sprintf("[::]:%d", listenPort)
	}

	var arg string
	switch tunnelType {
	case "ws":
		bindIP := outboundIP(useIPv6)
		arg = fmt.Sprintf("-L=ws://%s:%d/tcp://%s", bindIP, listenPort, targetAddr)
	case "tcp", "udp", "grpc", "tcpmux":
		arg = fmt.Sprintf("-L=%s://%s/%s", gostTypes[tunnelType], listenAddr, targetAddr)
	default:
		return fmt.Errorf("unsupported GOST tunnel type: %s", tunnelType)
	}

	return a.sup.spawn(tunnelID, "", []string{arg})
}

// outboundIP probes the default route's local address by connecting a UDP
// socket to a well-known public address without sending any packets.
func outboundIP(useIPv6 bool) string {
	network, target := "udp4", "8.8.8.8:80"
	fallback := "0.0.0.0"
	if useIPv6 {
		network, target = "udp6", "[2001:4860:4860::8888]:80"
		fallback = "[::]"
	}
	conn, err := net.Dial(network, target)
	if err != nil {
		return fallback
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return fallback
	}
	if useIPv6 {
		return "[" + addr.IP.String() + "]"
	}
	return addr.IP.String()
}

func (a *GostAdapter) Remove(tunnelID string) error { return a.sup.remove(tunnelID) }

func (a *GostAdapter) Status(tunnelID string) (Status, error) {
	st := a.sup.status(tunnelID)
	st.Active = st.ProcessRunning
	return st, nil
}
