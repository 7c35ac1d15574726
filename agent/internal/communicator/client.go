// Package communicator carries the Node Agent's outbound half of the
// Panel relationship: self-announce on startup and periodic re-announce
// so the Panel's node list reflects liveness and current stats. Tunnel
// and mesh management flow the other way, over the node's own httpserver
// surface — this client never receives or executes commands. Grounded on
// the teacher's communicator.Client, adapted from its heartbeat+command-
// queue shape to a register/announce-only one.
package communicator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/smite/agent/internal/stats"
)

// AnnounceRequest matches the Panel's POST /api/nodes body.
type AnnounceRequest struct {
	Name      string             `json:"name"`
	Role      string             `json:"role"`
	IPAddress string             `json:"ip_address"`
	APIPort   int                `json:"api_port"`
	OverlayIP string             `json:"overlay_ip,omitempty"`
	Stats     *stats.SystemStats `json:"stats,omitempty"`
}

type AnnounceResponse struct {
	Status string `json:"status"`
	NodeID uint   `json:"node_id,omitempty"`
}

type Client struct {
	panelURL   string
	nodeToken  string
	httpClient *http.Client
	version    string
	logger     *zap.Logger
}

type ClientConfig struct {
	PanelURL  string
	NodeToken string
	Timeout   time.Duration
	Version   string
	Logger    *zap.Logger
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		panelURL:   cfg.PanelURL,
		nodeToken:  cfg.NodeToken,
		version:    cfg.Version,
		httpClient: &http.Client{Timeout: timeout},
		logger:     cfg.Logger,
	}
}

// Announce registers or re-announces this node with the Panel. Role is
// immutable after first registration on the Panel side; re-announcing with
// a changed role is the Panel's to reject (409), not this client's to guard.
func (c *Client) Announce(req AnnounceRequest) (*AnnounceResponse, error) {
	start := time.Now()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal announce request: %w", err)
	}

	url := fmt.Sprintf("%s/api/nodes", c.panelURL)
	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.nodeToken))
	httpReq.Header.Set("User-Agent", fmt.Sprintf("smite-agent/%s", c.version))

	if c.logger != nil {
		c.logger.Info("node_announce_request",
			zap.String("url", url),
			zap.String("name", req.Name),
			zap.Int("payload_bytes", len(body)),
		)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("node_announce_network_error", zap.Error(err))
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if c.logger != nil {
		c.logger.Info("node_announce_response",
			zap.Int("status", resp.StatusCode),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("panel returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var announceResp AnnounceResponse
	if err := json.Unmarshal(respBody, &announceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &announceResp, nil
}
