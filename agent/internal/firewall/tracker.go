// Package firewall installs per-tunnel iptables rules that exist purely to
// count bytes; they never drop, reject, or mangle traffic. Grounded on the
// node agent's iptables_tracker.py.
package firewall

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const chainName = "SMITE_TRACK"

var lineNumRe = regexp.MustCompile(`^\s*(\d+)`)

type Tracker struct {
	logger *zap.Logger
}

func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{logger: logger}
}

func commentFor(tunnelID string) string {
	return fmt.Sprintf("smite-%s", tunnelID)
}

func (t *Tracker) run(ipv6 bool, args ...string) (string, error) {
	bin := "iptables"
	if ipv6 {
		bin = "ip6tables"
	}
	cmd := exec.Command(bin, args...)
	cmd.Env = nil
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.logger.Warn("firewall command failed", zap.String("bin", bin), zap.Strings("args", args), zap.Error(err))
	}
	return string(out), err
}

// ensureChain creates SMITE_TRACK (and its INPUT/OUTPUT jump rules) for one
// address family if it doesn't already exist. IPv6 failures are logged, not
// fatal — IPv6 may be unavailable on the host.
func (t *Tracker) ensureChain(ipv6 bool) {
	if _, err := t.run(ipv6, "-L", chainName); err == nil {
		return
	}
	if _, err := t.run(ipv6, "-N", chainName); err != nil {
		if !ipv6 {
			t.logger.Error("failed to create tracking chain", zap.Error(err))
		}
		return
	}
	if out, _ := t.run(ipv6, "-C", "INPUT", "-j", chainName); !strings.Contains(out, chainName) {
		_, _ = t.run(ipv6, "-I", "INPUT", "-j", chainName)
	}
	if out, _ := t.run(ipv6, "-C", "OUTPUT", "-j", chainName); !strings.Contains(out, chainName) {
		_, _ = t.run(ipv6, "-I", "OUTPUT", "-j", chainName)
	}
}

// AddRule installs the four ACCEPT counter rules for tunnelID keyed by a
// local port (ingress-side tunnels: tcp/udp in+out on that port).
func (t *Tracker) AddRule(tunnelID string, port int, ipv6 bool) {
	t.ensureChain(ipv6)
	comment := commentFor(tunnelID)

	if out, _ := t.run(ipv6, "-L", chainName, "-n", "-v", "--line-numbers"); strings.Contains(out, comment) {
		return
	}

	rules := [][]string{
		{"-A", chainName, "-p", "tcp", "--dport", strconv.Itoa(port), "-m", "comment", "--comment", comment + "-tcp-in", "-j", "ACCEPT"},
		{"-A", chainName, "-p", "tcp", "--sport", strconv.Itoa(port), "-m", "comment", "--comment", comment + "-tcp-out", "-j", "ACCEPT"},
		{"-A", chainName, "-p", "udp", "--dport", strconv.Itoa(port), "-m", "comment", "--comment", comment + "-udp-in", "-j", "ACCEPT"},
		{"-A", chainName, "-p", "udp", "--sport", strconv.Itoa(port), "-m", "comment", "--comment", comment + "-udp-out", "-j", "ACCEPT"},
	}
	for _, r := range rules {
		_, _ = t.run(ipv6, r...)
	}
	t.logger.Info("firewall_rule_added", zap.String("tunnel_id", tunnelID), zap.Int("port", port), zap.Bool("ipv6", ipv6))
}

// AddRemoteRule installs counter rules keyed by a remote host:port, for the
// Backhaul-client style variant where there's no local listen port to key on.
func (t *Tracker) AddRemoteRule(tunnelID, remoteHost string, remotePort int, ipv6 bool) {
	t.ensureChain(ipv6)
	comment := commentFor(tunnelID)

	if out, _ := t.run(ipv6, "-L", chainName, "-n", "-v", "--line-numbers"); strings.Contains(out, comment) {
		return
	}

	rp := strconv.Itoa(remotePort)
	rules := [][]string{
		{"-A", chainName, "-p", "tcp", "-d", remoteHost, "--dport", rp, "-m", "comment", "--comment", comment + "-tcp-out", "-j", "ACCEPT"},
		{"-A", chainName, "-p", "tcp", "-s", remoteHost, "--sport", rp, "-m", "comment", "--comment", comment + "-tcp-in", "-j", "ACCEPT"},
		{"-A", chainName, "-p", "udp", "-d", remoteHost, "--dport", rp, "-m", "comment", "--comment", comment + "-udp-out", "-j", "ACCEPT"},
		{"-A", chainName, "-p", "udp", "-s", remoteHost, "--sport", rp, "-m", "comment", "--comment", comment + "-udp-in", "-j", "ACCEPT"},
	}
	for _, r := range rules {
		_, _ = t.run(ipv6, r...)
	}
	t.logger.Info("firewall_remote_rule_added", zap.String("tunnel_id", tunnelID), zap.String("remote", remoteHost), zap.Int("remote_port", remotePort), zap.Bool("ipv6", ipv6))
}

// RemoveRule deletes every rule tagged with tunnelID's comment, both address
// families, removing by line number in descending order so each deletion
// doesn't shift the indices of the ones still to come.
func (t *Tracker) RemoveRule(tunnelID string) {
	comment := commentFor(tunnelID)
	for _, ipv6 := range []bool{false, true} {
		out, err := t.run(ipv6, "-L", chainName, "-n", "-v", "--line-numbers")
		if err != nil {
			continue
		}
		var lineNums []int
		for _, line := range strings.Split(out, "\n") {
			if !strings.Contains(line, comment) {
				continue
			}
			if m := lineNumRe.FindStringSubmatch(line); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					lineNums = append(lineNums, n)
				}
			}
		}
		sortDesc(lineNums)
		for _, n := range lineNums {
			_, _ = t.run(ipv6, "-D", chainName, strconv.Itoa(n))
		}
		if len(lineNums) > 0 {
			t.logger.Info("firewall_rule_removed", zap.String("tunnel_id", tunnelID), zap.Bool("ipv6", ipv6))
		}
	}
}

// Counters reads the byte column from every rule tagged with tunnelID's
// comment in chainName for both address families (iptables and ip6tables)
// and sums it.
func (t *Tracker) Counters(tunnelID string) int64 {
	comment := commentFor(tunnelID)
	var total int64
	for _, ipv6 := range []bool{false, true} {
		out, err := t.run(ipv6, "-L", chainName, "-n", "-v", "-x")
		if err != nil {
			continue
		}
		for _, line := range strings.Split(out, "\n") {
			if !strings.Contains(line, comment) {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			if b, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
				total += b
			}
		}
	}
	return total
}

func sortDesc(nums []int) {
	for i := 1; i < len(nums); i++ {
		for j := i; j > 0 && nums[j-1] < nums[j]; j-- {
			nums[j-1], nums[j] = nums[j], nums[j-1]
		}
	}
}
