package sharding

import (
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrid(t *testing.T) {
	_, err := NewGrid(2, 0)
	require.Error(t, err)

	g, err := NewGrid(2, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, g.Rank())
	assert.Equal(t, 24, g.NumCells())
	assert.Equal(t, []int{1, 2, 3}, g.Decompose(23))
	assert.Equal(t, []int{0, 1, 2}, g.Decompose(6))
	assert.Equal(t, 6, g.Compose([]int{0, 1, 2}))
	require.Panics(t, func() { g.Decompose(24) })
	require.Panics(t, func() { g.Compose([]int{0, 3, 0}) })
	require.Panics(t, func() { g.Compose([]int{0, 0}) })
	assert.Equal(t, "Grid[2 3 4]", g.String())
}

func TestGridGroups(t *testing.T) {
	g, err := NewGrid(2, 2)
	require.NoError(t, err)
	testCases := []struct {
		name string
		axes []int
		want [][]int
	}{
		{"first axis", []int{0}, [][]int{{0, 2}, {1, 3}}},
		{"second axis", []int{1}, [][]int{{0, 1}, {2, 3}}},
		{"all axes", []int{0, 1}, [][]int{{0, 1, 2, 3}}},
		{"no axes", nil, [][]int{{0}, {1}, {2}, {3}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			groups, err := g.Groups(tc.axes...)
			require.NoError(t, err)
			assert.Equal(t, tc.want, groups)
		})
	}

	g3, err := NewGrid(2, 3, 2)
	require.NoError(t, err)
	groups, err := g3.Groups(0, 2)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0, 1, 6, 7}, {2, 3, 8, 9}, {4, 5, 10, 11}}, groups)

	_, err = g.Groups(0, 0)
	require.Error(t, err)
	_, err = g.Groups(2)
	require.Error(t, err)
}

func TestGridRoundTrip(t *testing.T) {
	fz := fuzz.NewWithSeed(31415).NilChance(0).NumElements(1, 4)
	for range 100 {
		var sizes []uint8
		fz.Fuzz(&sizes)
		dims := make([]int, len(sizes))
		for i, s := range sizes {
			dims[i] = int(s%4) + 1
		}
		g, err := NewGrid(dims...)
		require.NoError(t, err)
		for flat := range g.NumCells() {
			indices := g.Decompose(flat)
			for axis, idx := range indices {
				require.True(t, idx >= 0 && idx < dims[axis])
			}
			require.Equal(t, flat, g.Compose(indices))
		}
	}
}
