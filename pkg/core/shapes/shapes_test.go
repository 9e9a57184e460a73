package shapes

import (
	"testing"

	"github.com/gomlx/shardrt/pkg/core/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	s := Make(dtypes.Float32, 4, 6)
	assert.Equal(t, 2, s.Rank())
	assert.Equal(t, 24, s.Size())
	assert.Equal(t, int64(96), s.Memory())
	assert.Equal(t, 6, s.Dim(-1))
	assert.Equal(t, "(Float32)[4 6]", s.String())
	assert.Equal(t, "(Int64)", Scalar[int64]().String())
	assert.True(t, s.Equal(s.Clone()))
	assert.False(t, s.Equal(s.WithDimensions(6, 4)))
	assert.Equal(t, []int{6, 1}, s.Strides())
	require.Panics(t, func() { _ = Make(dtypes.Float32, -1) })
	require.Panics(t, func() { _ = s.Dim(2) })
	assert.False(t, Shape{}.Ok())
}

func TestIterBox(t *testing.T) {
	s := Make(dtypes.Int32, 4, 6)
	type run struct{ flat, box int }
	var runs []run
	for flat, box := range s.IterBox([]int{1, 2}, []int{3, 5}) {
		runs = append(runs, run{flat, box})
	}
	assert.Equal(t, []run{{8, 0}, {14, 3}}, runs)

	// Full box of a 3D shape is a single run per leading index.
	s3 := Make(dtypes.Int32, 2, 2, 3)
	count := 0
	for flat, box := range s3.IterBox([]int{0, 0, 0}, []int{2, 2, 3}) {
		assert.Equal(t, flat, box)
		count++
	}
	assert.Equal(t, 4, count)

	// Empty box yields nothing.
	for range s.IterBox([]int{1, 1}, []int{1, 5}) {
		t.Fatal("unexpected run")
	}
	require.Panics(t, func() { s.IterBox([]int{0}, []int{1}) })
	require.Panics(t, func() { s.IterBox([]int{0, 0}, []int{5, 1}) })
}
