package httpserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smite/agent/internal/adapter"
	"github.com/smite/agent/internal/wgadapter"
)

type stubAdapter struct {
	applyErr error
}

func (s *stubAdapter) Apply(tunnelID string, spec adapter.Spec) error { return s.applyErr }
func (s *stubAdapter) Remove(tunnelID string) error                   { return nil }
func (s *stubAdapter) Status(tunnelID string) (adapter.Status, error) {
	return adapter.Status{Active: true, PID: 123}, nil
}

func newTestServer(t *testing.T, token string) (*Server, *adapter.Manager, bool) {
	t.Helper()
	mgr := adapter.NewManager(map[string]adapter.Adapter{"gost": &stubAdapter{}}, t.TempDir(), zap.NewNop())
	wg, err := wgadapter.New(t.TempDir(), zap.NewNop())
	haveWG := err == nil
	srv := New(Config{Manager: mgr, WG: wg, NodeToken: token, Logger: zap.NewNop()})
	return srv, mgr, haveWG
}

func doJSON(t *testing.T, app *Server, method, path string, body interface{}, headers map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestRootHealthCheck(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	resp := doJSON(t, srv, http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTokenAuthRejectsMissingToken(t *testing.T) {
	srv, _, _ := newTestServer(t, "secret-token")
	resp := doJSON(t, srv, http.MethodGet, "/api/agent/status", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTokenAuthAcceptsBearerHeader(t *testing.T) {
	srv, _, _ := newTestServer(t, "secret-token")
	resp := doJSON(t, srv, http.MethodGet, "/api/agent/status", nil, map[string]string{
		"Authorization": "Bearer secret-token",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTokenAuthAcceptsNodeTokenHeader(t *testing.T) {
	srv, _, _ := newTestServer(t, "secret-token")
	resp := doJSON(t, srv, http.MethodGet, "/api/agent/status", nil, map[string]string{
		"X-Node-Token": "secret-token",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApplyAndStatusAndRemoveTunnel(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	applyResp := doJSON(t, srv, http.MethodPost, "/api/agent/tunnels/apply", tunnelApplyRequest{
		TunnelID: "t1",
		Core:     "gost",
		Spec:     adapter.Spec{"listen_port": float64(9000)},
	}, nil)
	assert.Equal(t, http.StatusOK, applyResp.StatusCode)

	statusResp := doJSON(t, srv, http.MethodGet, "/api/agent/tunnels/status?tunnel_id=t1", nil, nil)
	assert.Equal(t, http.StatusOK, statusResp.StatusCode)
	var statusBody map[string]interface{}
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&statusBody))
	data := statusBody["data"].(map[string]interface{})
	assert.Equal(t, true, data["active"])

	nodeResp := doJSON(t, srv, http.MethodGet, "/api/agent/status", nil, nil)
	assert.Equal(t, http.StatusOK, nodeResp.StatusCode)
	var nodeBody map[string]interface{}
	require.NoError(t, json.NewDecoder(nodeResp.Body).Decode(&nodeBody))
	assert.EqualValues(t, 1, nodeBody["active_tunnels"])

	removeResp := doJSON(t, srv, http.MethodPost, "/api/agent/tunnels/remove", tunnelRemoveRequest{TunnelID: "t1"}, nil)
	assert.Equal(t, http.StatusOK, removeResp.StatusCode)

	afterRemove := doJSON(t, srv, http.MethodGet, "/api/agent/tunnels/status?tunnel_id=t1", nil, nil)
	var afterBody map[string]interface{}
	require.NoError(t, json.NewDecoder(afterRemove.Body).Decode(&afterBody))
	afterData := afterBody["data"].(map[string]interface{})
	assert.Equal(t, false, afterData["active"])
}

func TestApplyTunnelUnknownCoreReturnsError(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	resp := doJSON(t, srv, http.MethodPost, "/api/agent/tunnels/apply", tunnelApplyRequest{
		TunnelID: "t2",
		Core:     "nope",
		Spec:     adapter.Spec{},
	}, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestMeshStatusForUnknownMesh(t *testing.T) {
	srv, _, haveWG := newTestServer(t, "")
	if !haveWG {
		t.Skip("wg/wg-quick binaries not available in this environment")
	}
	resp := doJSON(t, srv, http.MethodGet, "/api/agent/mesh/does-not-exist/status", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	data := body["data"].(map[string]interface{})
	assert.Equal(t, false, data["active"])
}
