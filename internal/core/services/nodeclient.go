package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smite/panel/internal/domain"
	"github.com/smite/panel/internal/infrastructure/logger"
)

// NodeClient dispatches Panel -> Node Agent HTTP calls. Grounded on
// node_client.py: uniform error-to-dict translation, api_address resolution
// with an http:// prefix default and a localhost:8888 fallback.
type NodeClient struct {
	httpClient *http.Client
	logger     *logger.Logger
	authToken  string
}

func NewNodeClient(log *logger.Logger, authToken string) *NodeClient {
	return &NodeClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log,
		authToken:  authToken,
	}
}

func apiAddress(node *domain.Node) string {
	addr := node.Metadata.GetString("api_address")
	if addr == "" {
		port := node.Metadata.GetString("api_port")
		if port == "" {
			port = "8888"
		}
		addr = fmt.Sprintf("%s:%s", node.Metadata.GetString("ip_address"), port)
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return addr
}

// Send POSTs a JSON body to the node's endpoint and returns the parsed
// response, or a uniform {"status":"error","message":...} map on any
// transport/HTTP failure, never an error a caller has to type-switch on.
func (c *NodeClient) Send(ctx context.Context, node *domain.Node, endpoint string, body interface{}) (map[string]interface{}, error) {
	url := apiAddress(node) + endpoint

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputValidation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errResult(fmt.Sprintf("build request: %v", err)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warnw("node_client_send_failed", "node_id", node.ID, "endpoint", endpoint, "error", err)
		return errResult(err.Error()), nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	duration := time.Since(start)

	if resp.StatusCode >= 400 {
		c.logger.Warnw("node_client_send_non_2xx", "node_id", node.ID, "endpoint", endpoint,
			"status", resp.StatusCode, "duration_ms", duration.Milliseconds())
		return errResult(fmt.Sprintf("node returned status %d", resp.StatusCode)), nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return errResult("invalid JSON response from node"), nil
	}

	c.logger.Infow("node_client_send_ok", "node_id", node.ID, "endpoint", endpoint, "duration_ms", duration.Milliseconds())
	return result, nil
}

func (c *NodeClient) Status(ctx context.Context, node *domain.Node) (map[string]interface{}, error) {
	return c.Send(ctx, node, "/api/agent/status", nil)
}

func errResult(message string) map[string]interface{} {
	return map[string]interface{}{"status": "error", "message": message}
}

func isErrorResult(m map[string]interface{}) bool {
	status, _ := m["status"].(string)
	return status == "error"
}
