package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestOutboundIPFallback(t *testing.T) {
	ip := outboundIP(false)
	assert.NotEmpty(t, ip)
}

func TestGostApplyValidation(t *testing.T) {
	a := NewGostAdapter(t.TempDir(), zap.NewNop())
	err := a.Apply("t1", Spec{})
	assert.ErrorContains(t, err, "listen_port")
	err = a.Apply("t1", Spec{"listen_port": float64(9000), "type": "bogus"})
	assert.ErrorContains(t, err, "unsupported GOST tunnel type")
}
