package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpecAccessors(t *testing.T) {
	s := Spec{
		"name":    "t1",
		"port":    float64(9000),
		"enabled": true,
		"tags":    []interface{}{"a", "b"},
	}
	assert.Equal(t, "t1", s.str("name", "x"))
	assert.Equal(t, "x", s.str("missing", "x"))
	assert.Equal(t, 9000, s.int("port", 0))
	assert.Equal(t, 42, s.int("missing", 42))
	assert.True(t, s.boolVal("enabled", false))
	assert.Equal(t, []string{"a", "b"}, s.strSlice("tags"))
	assert.Nil(t, s.strSlice("missing"))
}
