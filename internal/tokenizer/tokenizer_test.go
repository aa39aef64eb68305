package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApproxCount(t *testing.T) {
	var c Approx
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 1, c.Count("ab"))
	assert.Equal(t, 2, c.Count("abcdefgh"))
	assert.Equal(t, 2, c.Count("가나다라마바사아"))
}
