package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var defaultConfigPaths = []string{
	"./agent.yaml",
	"/etc/smite-node/agent.yaml",
}

// Config is the Node Agent's full runtime configuration: its identity on
// the Panel, where its per-core config/state trees live, and the announce
// cadence. Env vars named in spec §6 ("Environment variables consumed")
// override the equivalent yaml fields (see applyEnvOverrides). node_token
// has no env override, so it still has to come from a config file.
type Config struct {
	PanelURL          string        `yaml:"panel_url"`
	NodeToken         string        `yaml:"node_token"`
	NodeName          string        `yaml:"node_name"`
	NodeRole          string        `yaml:"node_role"`
	APIHost           string        `yaml:"api_host"`
	APIPort           int           `yaml:"api_port"`
	LogPath           string        `yaml:"log_path"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// ConfigDir is the per-core config/log tree root (spec: /etc/smite-node).
	// Each adapter creates its own <core> subdirectory under it.
	ConfigDir string `yaml:"config_dir"`
	// StateDir holds tunnels.json (spec: /var/lib/smite-node).
	StateDir string `yaml:"state_dir"`
	// BackhaulConfigDir overrides ConfigDir/backhaul specifically, matching
	// the original's SMITE_BACKHAUL_CLIENT_DIR/SMITE_BACKHAUL_CONFIG_DIR.
	BackhaulConfigDir string `yaml:"backhaul_config_dir"`
}

func Load(path string) (*Config, error) {
	var configPath string

	if path != "" {
		configPath = path
	} else {
		for _, p := range defaultConfigPaths {
			if _, err := os.Stat(p); err == nil {
				configPath = p
				break
			}
		}
	}

	var cfg Config
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides honors spec §6's "Environment variables consumed" list
// for the fields this config struct owns (per-core binary paths are
// resolved directly by each adapter, not here).
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PANEL_ADDRESS"); v != "" {
		cfg.PanelURL = v
	}
	if v := os.Getenv("NODE_NAME"); v != "" {
		cfg.NodeName = v
	}
	if v := os.Getenv("NODE_API_PORT"); v != "" {
		if port, err := parsePort(v); err == nil {
			cfg.APIPort = port
		}
	}
	if v := os.Getenv("SMITE_BACKHAUL_CONFIG_DIR"); v != "" {
		cfg.BackhaulConfigDir = v
	} else if v := os.Getenv("SMITE_BACKHAUL_CLIENT_DIR"); v != "" {
		cfg.BackhaulConfigDir = v
	}
}

func parsePort(s string) (int, error) {
	var port int
	_, err := fmt.Sscanf(s, "%d", &port)
	return port, err
}

func applyDefaults(cfg *Config) {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.LogPath == "" {
		cfg.LogPath = "/var/log/smite-node.log"
	}
	if cfg.APIHost == "" {
		cfg.APIHost = "0.0.0.0"
	}
	if cfg.APIPort == 0 {
		cfg.APIPort = 8888
	}
	if cfg.NodeName == "" {
		if hostname, err := os.Hostname(); err == nil {
			cfg.NodeName = hostname
		} else {
			cfg.NodeName = "node-1"
		}
	}
	if cfg.NodeRole == "" {
		cfg.NodeRole = "foreign"
	}
	if cfg.ConfigDir == "" {
		cfg.ConfigDir = "/etc/smite-node"
	}
	if cfg.StateDir == "" {
		cfg.StateDir = "/var/lib/smite-node"
	}
	if cfg.BackhaulConfigDir == "" {
		cfg.BackhaulConfigDir = cfg.ConfigDir + "/backhaul"
	}
}

func (c *Config) Validate() error {
	if c.PanelURL == "" {
		return fmt.Errorf("panel_url (or PANEL_ADDRESS) is required")
	}
	if c.NodeToken == "" {
		return fmt.Errorf("node_token is required")
	}
	if c.NodeRole != "iran" && c.NodeRole != "foreign" {
		return fmt.Errorf("node_role must be iran or foreign, got %q", c.NodeRole)
	}
	return nil
}
