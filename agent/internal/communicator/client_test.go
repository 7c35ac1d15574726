package communicator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAnnounceSendsExpectedRequestAndParsesResponse(t *testing.T) {
	var received AnnounceRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/nodes", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(AnnounceResponse{Status: "ok", NodeID: 7})
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{
		PanelURL:  srv.URL,
		NodeToken: "tok",
		Version:   "1.0.0",
		Logger:    zap.NewNop(),
	})

	resp, err := client.Announce(AnnounceRequest{Name: "node-1", Role: "foreign", IPAddress: "203.0.113.5", APIPort: 8888})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.EqualValues(t, 7, resp.NodeID)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "node-1", received.Name)
	assert.Equal(t, "foreign", received.Role)
}

func TestAnnounceReturnsErrorOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("role mismatch"))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{PanelURL: srv.URL, NodeToken: "tok", Version: "1.0.0", Logger: zap.NewNop()})
	_, err := client.Announce(AnnounceRequest{Name: "node-1"})
	assert.ErrorContains(t, err, "403")
}
