package panelcore

import (
	"os"
	"testing"

	"github.com/smite/panel/internal/config"
	"github.com/smite/panel/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	dir := t.TempDir()
	log, err := logger.New(config.LoggerConfig{
		Level:            "error",
		Encoding:         "console",
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	})
	require.NoError(t, err)
	return NewManager(dir, log)
}

func TestStartAndStopVerifiesListening(t *testing.T) {
	m := newTestManager(t)

	port := 18421

	err := m.Start("gost", "t1", "/bin/sh", []string{"-c", "sleep 0.05"}, "cfg", port)
	assert.Error(t, err, "process exits without ever listening, Start must fail loudly")

	_, statErr := os.Stat(m.coreDir("gost") + "/t1.conf")
	assert.True(t, os.IsNotExist(statErr), "config must be unlinked after a failed start")

	assert.NoError(t, m.Stop("gost", "t1"), "a failed start leaves no child, so Stop is a no-op")
}

func TestIsReservedPort(t *testing.T) {
	assert.True(t, IsReservedPort(8080, 8080))
	assert.False(t, IsReservedPort(9000, 8080))
}
