package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRatholeApplyValidation(t *testing.T) {
	a := NewRatholeAdapter(t.TempDir(), zap.NewNop())

	err := a.Apply("t1", Spec{"mode": "server"})
	assert.ErrorContains(t, err, "token")

	err = a.Apply("t1", Spec{"mode": "server", "token": "secret"})
	assert.ErrorContains(t, err, "proxy_port")

	err = a.Apply("t1", Spec{"mode": "client", "token": "secret"})
	assert.ErrorContains(t, err, "remote_addr")
}
