package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestChiselApplyValidation(t *testing.T) {
	a := NewChiselAdapter(t.TempDir(), zap.NewNop())

	err := a.Apply("t1", Spec{"mode": "server"})
	assert.ErrorContains(t, err, "server_port")

	err = a.Apply("t1", Spec{"mode": "client"})
	assert.ErrorContains(t, err, "server_url")
}
