// Package netaddr parses the host:port forms used throughout tunnel specs
// and bind addresses. Duplicated from the Panel's own copy (see its
// package doc) since the agent module cannot import the root module.
package netaddr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var bracketedIPv6 = regexp.MustCompile(`^\[([^\]]+)\]:(\d+)$`)

// Parse splits addr into host, port, and whether host is IPv6. It returns
// ok=false for anything that isn't a recognizable host:port form.
func Parse(addr string) (host string, port int, isIPv6 bool, ok bool) {
	if addr == "" {
		return "", 0, false, false
	}

	if strings.HasPrefix(addr, "[") {
		m := bracketedIPv6.FindStringSubmatch(addr)
		if m == nil {
			return "", 0, false, false
		}
		p, err := strconv.Atoi(m[2])
		if err != nil {
			return "", 0, false, false
		}
		return m[1], p, true, true
	}

	if !strings.Contains(addr, ":") {
		return "", 0, false, false
	}

	idx := strings.LastIndex(addr, ":")
	hostPart, portPart := addr[:idx], addr[idx+1:]
	p, err := strconv.Atoi(portPart)
	if err != nil {
		return "", 0, false, false
	}
	isIPv6 = strings.Contains(hostPart, "::") ||
		(hostPart != "" && strings.Contains(hostPart, ":") && !strings.HasPrefix(hostPart, "["))
	return hostPart, p, isIPv6, true
}

// Format renders host/port back into the canonical bind-address form,
// bracketing bare (non-pre-bracketed) IPv6 hosts.
func Format(host string, port int, isIPv6 bool) string {
	if isIPv6 && !strings.HasPrefix(host, "[") {
		return fmt.Sprintf("[%s]:%d", host, port)
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// StripScheme removes a leading ws:// or wss:// and reports whether TLS
// (wss) was implied, per the Rathole client's remote_addr contract.
func StripScheme(addr string) (stripped string, tls bool) {
	switch {
	case strings.HasPrefix(addr, "wss://"):
		return strings.TrimPrefix(addr, "wss://"), true
	case strings.HasPrefix(addr, "ws://"):
		return strings.TrimPrefix(addr, "ws://"), false
	default:
		return addr, false
	}
}
