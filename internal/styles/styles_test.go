package styles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthor_Stable(t *testing.T) {
	a := Author("u-ann").GetForeground()
	assert.Equal(t, a, Author("u-ann").GetForeground())
	assert.True(t, Author("u-ann").GetBold())
}
