package netaddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name       string
		addr       string
		wantHost   string
		wantPort   int
		wantIPv6   bool
		wantOK     bool
	}{
		{"ipv4", "203.0.113.5:7000", "203.0.113.5", 7000, false, true},
		{"bracketed ipv6", "[::1]:8080", "::1", 8080, true, true},
		{"bare ipv6 double colon", "fd00::1:9000", "fd00::1", 9000, true, true},
		{"no port", "203.0.113.5", "", 0, false, false},
		{"empty", "", "", 0, false, false},
		{"non-numeric port", "host:abc", "", 0, false, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			host, port, isIPv6, ok := Parse(c.addr)
			assert.Equal(t, c.wantOK, ok)
			if !c.wantOK {
				return
			}
			assert.Equal(t, c.wantHost, host)
			assert.Equal(t, c.wantPort, port)
			assert.Equal(t, c.wantIPv6, isIPv6)
		})
	}
}

func TestFormatBracketsIPv6(t *testing.T) {
	assert.Equal(t, "[::1]:8080", Format("::1", 8080, true))
	assert.Equal(t, "203.0.113.5:7000", Format("203.0.113.5", 7000, false))
}
