package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestFrpApplyValidation(t *testing.T) {
	a := NewFrpAdapter(t.TempDir(), zap.NewNop())

	err := a.Apply("t1", Spec{"mode": "client", "server_addr": "127.0.0.1"})
	assert.ErrorContains(t, err, "server_addr")

	err = a.Apply("t1", Spec{"mode": "client", "server_addr": "203.0.113.5", "type": "icmp"})
	assert.ErrorContains(t, err, "only supports")

	err = a.Apply("t1", Spec{"mode": "client", "server_addr": "203.0.113.5"})
	assert.ErrorContains(t, err, "local_port")
}
