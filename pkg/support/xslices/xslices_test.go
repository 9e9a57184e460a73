package xslices

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIota(t *testing.T) {
	assert.Equal(t, []int{3, 4, 5}, Iota(3, 3))
	assert.Equal(t, []float64{0.5, 1.5}, Iota(0.5, 2))
	assert.Empty(t, Iota(0, 0))
}

func TestSliceWithValue(t *testing.T) {
	assert.Equal(t, []int{1, 1, 1}, SliceWithValue(3, 1))
}

func TestMap(t *testing.T) {
	assert.Equal(t, []string{"1", "2"}, Map([]int{1, 2}, strconv.Itoa))
}

func TestSliceFlag(t *testing.T) {
	f := &sliceFlag[int]{parsed: []int{7}, parserFn: strconv.Atoi}
	assert.Equal(t, "7", f.String())
	require.NoError(t, f.Set("1, 2,3"))
	assert.Equal(t, []int{1, 2, 3}, f.parsed)
	assert.Equal(t, "1,2,3", f.String())
	require.NoError(t, f.Set(""))
	assert.Empty(t, f.parsed)
	require.Error(t, f.Set("1,x"))
}
