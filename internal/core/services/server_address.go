package services

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/smite/panel/internal/domain"
)

// rejected host values that can never be the Panel-visible address an FRP
// client is told to dial, since they only resolve from inside the Panel's
// own network namespace.
var rejectedPanelHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"::1":       true,
	"0.0.0.0":   true,
	"":          true,
}

// ResolvePanelAddress derives the host clients must use to reach the
// Panel's FRP server side, trying sources in strict precedence order:
// node metadata panel_address, spec.panel_host, the request's
// X-Forwarded-Host, the request's own Host header, then the
// PANEL_PUBLIC_IP/PANEL_IP environment variables. Each candidate is
// rejected if it names a loopback/any-address/empty host. IPv6 literals
// are bracketed for use in host:port strings.
func ResolvePanelAddress(nodeMeta domain.JSONB, tunnel *domain.Tunnel) (string, error) {
	tried := make([]string, 0, 5)

	candidates := []struct {
		name  string
		value string
	}{
		{"node.panel_address", nodeMeta.GetString("panel_address")},
		{"spec.panel_host", tunnel.Spec.GetString("panel_host")},
		{"request.X-Forwarded-Host", tunnel.ForwardedHost},
		{"request.Host", tunnel.RequestHost},
		{"env.PANEL_PUBLIC_IP", os.Getenv("PANEL_PUBLIC_IP")},
		{"env.PANEL_IP", os.Getenv("PANEL_IP")},
	}

	for _, c := range candidates {
		tried = append(tried, c.name)
		host := stripPort(c.value)
		if rejectedPanelHosts[strings.ToLower(host)] {
			continue
		}
		if host == "" {
			continue
		}
		return bracketIfIPv6(host), nil
	}

	return "", fmt.Errorf("%w: no usable panel address found, tried: %s", ErrInputValidation, strings.Join(tried, ", "))
}

func stripPort(hostport string) string {
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}

func bracketIfIPv6(host string) string {
	ip := net.ParseIP(host)
	if ip != nil && ip.To4() == nil && !strings.HasPrefix(host, "[") {
		return "[" + host + "]"
	}
	return host
}
