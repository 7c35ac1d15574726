package firewall

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommentFor(t *testing.T) {
	assert.Equal(t, "smite-t1", commentFor("t1"))
}

func TestSortDesc(t *testing.T) {
	nums := []int{3, 1, 4, 1, 5, 9, 2, 6}
	sortDesc(nums)
	assert.Equal(t, []int{9, 6, 5, 4, 3, 2, 1, 1}, nums)
}

func TestLineNumRegex(t *testing.T) {
	m := lineNumRe.FindStringSubmatch("12   1234567 ACCEPT tcp -- smite-t1-tcp-in")
	if assert.NotNil(t, m) {
		assert.Equal(t, "12", m[1])
	}
}
