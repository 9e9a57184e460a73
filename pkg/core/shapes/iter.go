// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"iter"

	"github.com/pkg/errors"
)

// Strides returns the strides (in elements, not bytes) of each axis in row-major layout.
func (s Shape) Strides() (strides []int) {
	rank := s.Rank()
	if rank == 0 {
		return
	}
	strides = make([]int, rank)
	currentStride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		strides[axis] = currentStride
		currentStride *= s.Dimensions[axis]
	}
	return
}

// IterBox iterates over the contiguous runs of the sub-box [begin, end) of the shape.
//
// It yields, for each run, the flat offset (in elements) in the full tensor and the flat offset in the
// densely packed box. Each run has length end[rank-1]-begin[rank-1] elements. Copying a slice of a tensor
// is then one copy per yielded run.
//
// It panics if begin/end don't have the shape's rank or are out of bounds.
func (s Shape) IterBox(begin, end []int) iter.Seq2[int, int] {
	rank := s.Rank()
	if len(begin) != rank || len(end) != rank {
		panic(errors.Errorf("Shape.IterBox given begin=%v, end=%v, want both with rank %d", begin, end, rank))
	}
	for axis := range rank {
		if begin[axis] < 0 || end[axis] > s.Dimensions[axis] || begin[axis] > end[axis] {
			panic(errors.Errorf("Shape.IterBox: invalid range [%d, %d) for axis %d of shape %s",
				begin[axis], end[axis], axis, s))
		}
	}
	return func(yield func(int, int) bool) {
		if rank == 0 {
			yield(0, 0)
			return
		}
		for axis := range rank {
			if begin[axis] == end[axis] {
				return
			}
		}
		strides := s.Strides()
		runLength := end[rank-1] - begin[rank-1]
		indices := make([]int, rank)
		copy(indices, begin)
		flatIdx := 0
		for axis := range rank {
			flatIdx += indices[axis] * strides[axis]
		}
		boxIdx := 0
	yielder:
		for {
			if !yield(flatIdx, boxIdx) {
				return
			}
			boxIdx += runLength

			// Increment all but the last axis, row-major.
			for axis := rank - 2; axis >= 0; axis-- {
				indices[axis]++
				flatIdx += strides[axis]
				if indices[axis] < end[axis] {
					continue yielder
				}
				flatIdx -= (indices[axis] - begin[axis]) * strides[axis]
				indices[axis] = begin[axis]
			}
			break
		}
	}
}
