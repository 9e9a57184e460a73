package deviceapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAlignment(t *testing.T) {
	for _, alignment := range []int64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512} {
		CheckAlignment(alignment)
	}
	for _, alignment := range []int64{0, -1, 3, 48, 1024} {
		require.Panics(t, func() { CheckAlignment(alignment) }, "alignment %d", alignment)
	}
	assert.Equal(t, int64(64), AlignUp(1, 64))
	assert.Equal(t, int64(64), AlignUp(64, 64))
	assert.Equal(t, int64(0), AlignUp(0, 64))
}
