package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestBackhaulApplyValidation(t *testing.T) {
	a := NewBackhaulAdapter(t.TempDir(), zap.NewNop())

	err := a.Apply("t1", Spec{"mode": "client", "transport": "bogus"})
	assert.ErrorContains(t, err, "unsupported backhaul transport")

	err = a.Apply("t1", Spec{"mode": "client"})
	assert.ErrorContains(t, err, "remote_addr")
}
