// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sharding

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/shardrt/pkg/support/sets"
	"github.com/pkg/errors"
)

// Grid is an N-dimensional grid of cells numbered in row-major order: the last axis varies fastest.
//
// It converts between a flat cell number and its per-axis indices, and computes the groups of cells
// that differ only along a subset of the axes.
type Grid struct {
	sizes    []int
	numCells int
}

// NewGrid creates a grid with the given size per axis. All sizes must be positive.
func NewGrid(sizes ...int) (*Grid, error) {
	numCells := 1
	for axis, size := range sizes {
		if size <= 0 {
			return nil, errors.Errorf("grid axis #%d has invalid size %d, sizes must be positive", axis, size)
		}
		numCells *= size
	}
	return &Grid{sizes: slices.Clone(sizes), numCells: numCells}, nil
}

// Rank returns the number of axes.
func (g *Grid) Rank() int { return len(g.sizes) }

// Sizes returns a copy of the size of each axis.
func (g *Grid) Sizes() []int { return slices.Clone(g.sizes) }

// NumCells returns the number of cells: the product of the sizes.
func (g *Grid) NumCells() int { return g.numCells }

// String implements fmt.Stringer.
func (g *Grid) String() string {
	return fmt.Sprintf("Grid%v", g.sizes)
}

// Decompose converts a flat cell number to its per-axis indices.
func (g *Grid) Decompose(flat int) []int {
	if flat < 0 || flat >= g.numCells {
		exceptions.Panicf("%s.Decompose(%d): cell out of range [0, %d)", g, flat, g.numCells)
	}
	indices := make([]int, len(g.sizes))
	for axis := len(g.sizes) - 1; axis >= 0; axis-- {
		indices[axis] = flat % g.sizes[axis]
		flat /= g.sizes[axis]
	}
	return indices
}

// Compose converts per-axis indices to the flat cell number. It is the inverse of Decompose.
func (g *Grid) Compose(indices []int) int {
	if len(indices) != len(g.sizes) {
		exceptions.Panicf("%s.Compose(%v): expected %d indices", g, indices, len(g.sizes))
	}
	flat := 0
	for axis, idx := range indices {
		if idx < 0 || idx >= g.sizes[axis] {
			exceptions.Panicf("%s.Compose(%v): index out of range for axis #%d", g, indices, axis)
		}
		flat = flat*g.sizes[axis] + idx
	}
	return flat
}

// Groups returns the cells grouped by their indices on the axes not listed: each group holds the cells that
// differ only along the given axes, ordered row-major over those axes. Groups are ordered row-major over the
// other axes.
//
// Example:
//
//	g, _ := NewGrid(2, 2)
//	g.Groups(0)    // -> [][]int{{0, 2}, {1, 3}}
//	g.Groups(1)    // -> [][]int{{0, 1}, {2, 3}}
//	g.Groups(0, 1) // -> [][]int{{0, 1, 2, 3}}
//	g.Groups()     // -> [][]int{{0}, {1}, {2}, {3}}
func (g *Grid) Groups(axes ...int) ([][]int, error) {
	inGroup := sets.Make[int](len(axes))
	for _, axis := range axes {
		if axis < 0 || axis >= len(g.sizes) {
			return nil, errors.Errorf("%s has no axis #%d", g, axis)
		}
		if inGroup.Has(axis) {
			return nil, errors.Errorf("axis #%d is duplicated: each axis can only appear once", axis)
		}
		inGroup.Insert(axis)
	}
	var groupAxes, otherAxes []int
	for axis := range g.sizes {
		if inGroup.Has(axis) {
			groupAxes = append(groupAxes, axis)
		} else {
			otherAxes = append(otherAxes, axis)
		}
	}

	groupSize := 1
	for _, axis := range groupAxes {
		groupSize *= g.sizes[axis]
	}
	groups := make([][]int, g.numCells/groupSize)
	for i := range groups {
		groups[i] = make([]int, groupSize)
	}
	for flat := range g.numCells {
		indices := g.Decompose(flat)
		groupIdx := 0
		for _, axis := range otherAxes {
			groupIdx = groupIdx*g.sizes[axis] + indices[axis]
		}
		posInGroup := 0
		for _, axis := range groupAxes {
			posInGroup = posInGroup*g.sizes[axis] + indices[axis]
		}
		groups[groupIdx][posInGroup] = flat
	}
	return groups, nil
}
