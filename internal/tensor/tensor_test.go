package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelsLastLayout(t *testing.T) {
	x := New(2, 3, 2)
	x.Set(1, 2, 1, 7)
	assert.Equal(t, 7.0, x.Data[11])
	assert.Equal(t, 7.0, x.At(1, 2, 1))
	assert.Equal(t, [3]int{2, 3, 2}, x.Shape())
	assert.Equal(t, 12, x.Len())
}
