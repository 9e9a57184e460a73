// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sharding

import (
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/shardrt/pkg/support/sets"
	"github.com/pkg/errors"
)

// Shard partitions a tensor over the grid of ranks PhyShape, with replica subgroups of shape SubgroupShape.
//
// The per-rank coordinates (PhyIndex, LogicShape, LogicIndex, SubgroupIndex) are computed at construction
// for the local rank given to NewShard; they are nil if the local rank is idle (not in Ranks).
type Shard struct {
	base
	localRank     int
	ranks         []int
	phyShape      []int
	subgroupShape []int
	logicShape    []int
	grid          *Grid

	// rankIdx is the position of the local rank in ranks, or -1 if idle.
	rankIdx       int
	phyIndex      []int
	logicIndex    []int
	subgroupIndex []int
}

// NewShard creates a Shard spec as seen by localRank.
//
//   - ranks: the participating ranks, in the row-major order of the physical grid. No duplicates.
//   - phyShape: the size of the physical grid on each axis. Its product must equal len(ranks).
//   - subgroupShape: the size of the replica subgroups on each axis. Each must divide phyShape's.
//
// It returns an error if the description is invalid.
func NewShard(localRank int, immutable bool, ranks, phyShape, subgroupShape []int) (*Shard, error) {
	ndim := len(phyShape)
	if ndim == 0 {
		return nil, errors.New("ShardSpec requires at least one axis")
	}
	if len(subgroupShape) != ndim {
		return nil, errors.Errorf("ShardSpec phyShape %v and subgroupShape %v must have the same length",
			phyShape, subgroupShape)
	}
	numRanks := 1
	for i := range ndim {
		if phyShape[i] <= 0 || subgroupShape[i] <= 0 {
			return nil, errors.Errorf("ShardSpec axis #%d has non-positive sizes (phyShape=%v, subgroupShape=%v)",
				i, phyShape, subgroupShape)
		}
		if phyShape[i]%subgroupShape[i] != 0 {
			return nil, errors.Errorf("ShardSpec axis #%d: phyShape %d is not divisible by subgroupShape %d",
				i, phyShape[i], subgroupShape[i])
		}
		numRanks *= phyShape[i]
	}
	if numRanks != len(ranks) {
		return nil, errors.Errorf("ShardSpec phyShape %v has %d cells, but %d ranks were given (%v)",
			phyShape, numRanks, len(ranks), ranks)
	}
	seen := sets.Make[int](len(ranks))
	for _, rank := range ranks {
		if rank < 0 {
			return nil, errors.Errorf("ShardSpec has invalid rank %d", rank)
		}
		if seen.Has(rank) {
			return nil, errors.Errorf("ShardSpec rank %d is duplicated in %v", rank, ranks)
		}
		seen.Insert(rank)
	}

	s := &Shard{
		base:          base{immutable: immutable},
		localRank:     localRank,
		ranks:         slices.Clone(ranks),
		phyShape:      slices.Clone(phyShape),
		subgroupShape: slices.Clone(subgroupShape),
		logicShape:    make([]int, ndim),
		rankIdx:       slices.Index(ranks, localRank),
	}
	s.grid, _ = NewGrid(phyShape...)
	for i := range ndim {
		s.logicShape[i] = phyShape[i] / subgroupShape[i]
	}
	if s.rankIdx >= 0 {
		s.phyIndex = s.grid.Decompose(s.rankIdx)
		s.logicIndex = make([]int, ndim)
		s.subgroupIndex = make([]int, ndim)
		for i := range ndim {
			s.logicIndex[i] = s.phyIndex[i] / subgroupShape[i]
			s.subgroupIndex[i] = s.phyIndex[i] % subgroupShape[i]
		}
	}
	return s, nil
}

// Kind implements Spec.
func (*Shard) Kind() Kind { return KindShard }

// LocalRank returns the rank for which the coordinates were computed.
func (s *Shard) LocalRank() int { return s.localRank }

// Ranks returns a copy of the participating ranks.
func (s *Shard) Ranks() []int { return slices.Clone(s.ranks) }

// NumRanks returns the number of participating ranks.
func (s *Shard) NumRanks() int { return len(s.ranks) }

// PhyShape returns a copy of the physical grid shape.
func (s *Shard) PhyShape() []int { return slices.Clone(s.phyShape) }

// SubgroupShape returns a copy of the replica subgroup shape.
func (s *Shard) SubgroupShape() []int { return slices.Clone(s.subgroupShape) }

// NDim returns the number of axes of the grid, which matches the rank of the sharded tensor.
func (s *Shard) NDim() int { return len(s.phyShape) }

// IsIdle returns whether the local rank is not among the participating ranks.
func (s *Shard) IsIdle() bool { return s.rankIdx < 0 }

// RankIndex returns the position of the local rank in Ranks, or -1 if idle.
func (s *Shard) RankIndex() int { return s.rankIdx }

// PhyIndex returns the local rank's coordinates in the physical grid, or nil if idle.
func (s *Shard) PhyIndex() []int { return slices.Clone(s.phyIndex) }

// LogicShape returns the number of distinct shards on each axis, or nil if idle.
func (s *Shard) LogicShape() []int {
	if s.IsIdle() {
		return nil
	}
	return slices.Clone(s.logicShape)
}

// LogicIndex returns the index of the local rank's shard on each axis, or nil if idle.
func (s *Shard) LogicIndex() []int { return slices.Clone(s.logicIndex) }

// SubgroupIndex returns the position of the local rank in its replica subgroup on each axis, or nil if idle.
func (s *Shard) SubgroupIndex() []int { return slices.Clone(s.subgroupIndex) }

// NumShards returns the number of distinct shards: the product of the logical shape.
func (s *Shard) NumShards() int {
	n := 1
	for _, l := range s.logicShape {
		n *= l
	}
	return n
}

// NumGroups returns the number of copies of each shard: the product of the subgroup shape.
func (s *Shard) NumGroups() int {
	n := 1
	for _, g := range s.subgroupShape {
		n *= g
	}
	return n
}

func (s *Shard) checkDims(dims []int) {
	if len(dims) != len(s.phyShape) {
		exceptions.Panicf("%s: tensor dimensions %v don't match the %d axes of the spec", s, dims, len(s.phyShape))
	}
	for i, dim := range dims {
		if dim%s.logicShape[i] != 0 {
			exceptions.Panicf("%s: dimension #%d of size %d is not divisible by its %d shards, padding is not supported",
				s, i, dim, s.logicShape[i])
		}
	}
}

// ShardShape returns the dimensions of one shard of a tensor with the given dimensions.
// It panics if some dimension is not divisible by its number of shards.
func (s *Shard) ShardShape(dims []int) []int {
	s.checkDims(dims)
	shape := make([]int, len(dims))
	for i, dim := range dims {
		shape[i] = dim / s.logicShape[i]
	}
	return shape
}

// SliceRange returns the range [begin, end) of the local rank's shard of a tensor with the given dimensions.
// It returns ok=false if the local rank is idle. It panics if some dimension is not divisible by its number
// of shards.
func (s *Shard) SliceRange(dims []int) (begin, end []int, ok bool) {
	return s.SliceRangeOf(s.logicIndex, dims)
}

// SliceRangeOf is like SliceRange, but for the shard at logicIndex. A nil logicIndex returns ok=false.
func (s *Shard) SliceRangeOf(logicIndex, dims []int) (begin, end []int, ok bool) {
	s.checkDims(dims)
	if logicIndex == nil {
		return nil, nil, false
	}
	begin = make([]int, len(dims))
	end = make([]int, len(dims))
	for i, dim := range dims {
		size := dim / s.logicShape[i]
		begin[i] = size * logicIndex[i]
		end[i] = size * (logicIndex[i] + 1)
	}
	return begin, end, true
}

// LogicIndexOf returns the logical index of the shard held by rank, or nil if rank is not participating.
func (s *Shard) LogicIndexOf(rank int) []int {
	idx := slices.Index(s.ranks, rank)
	if idx < 0 {
		return nil
	}
	phyIndex := s.grid.Decompose(idx)
	for i := range phyIndex {
		phyIndex[i] /= s.subgroupShape[i]
	}
	return phyIndex
}

// String implements Spec. E.g.: "ShardSpec(Immut [4, :(x2)])" for 4 shards on the first axis, and the
// second axis not sharded but with subgroups of 2 replicas.
func (s *Shard) String() string {
	var sb strings.Builder
	sb.WriteString("ShardSpec(")
	if s.immutable {
		sb.WriteString("Immut ")
	}
	sb.WriteString("[")
	for i, logic := range s.logicShape {
		if i > 0 {
			sb.WriteString(", ")
		}
		if logic == 1 {
			sb.WriteString(":")
		} else {
			sb.WriteString(strconv.Itoa(logic))
		}
		if sub := s.subgroupShape[i]; sub != 1 {
			sb.WriteString("(x" + strconv.Itoa(sub) + ")")
		}
	}
	sb.WriteString("])")
	return sb.String()
}

// expandedGrid returns the grid [logic_0, subgroup_0, logic_1, subgroup_1, ...], whose row-major cell
// numbers are the positions in ranks.
func (s *Shard) expandedGrid() *Grid {
	sizes := make([]int, 0, 2*len(s.phyShape))
	for i := range s.phyShape {
		sizes = append(sizes, s.logicShape[i], s.subgroupShape[i])
	}
	g, _ := NewGrid(sizes...)
	return g
}

func (s *Shard) rankGroups(parity int) [][]int {
	g := s.expandedGrid()
	axes := make([]int, 0, len(s.phyShape))
	for i := range s.phyShape {
		axes = append(axes, 2*i+parity)
	}
	groups, err := g.Groups(axes...)
	if err != nil {
		panic(err)
	}
	for _, group := range groups {
		for i, pos := range group {
			group[i] = s.ranks[pos]
		}
	}
	return groups
}

// ReplicaGroups returns the groups of ranks holding copies of the same shard: NumShards groups of
// NumGroups ranks, ordered by shard (row-major logic index).
func (s *Shard) ReplicaGroups() [][]int {
	return s.rankGroups(1)
}

// ShardGroups returns the groups of ranks that together hold one full copy of the tensor: NumGroups groups
// of NumShards ranks, each group ordered by shard (row-major logic index).
func (s *Shard) ShardGroups() [][]int {
	return s.rankGroups(0)
}

// LocalShardGroup returns the shard group the local rank belongs to, or nil if idle.
func (s *Shard) LocalShardGroup() []int {
	if s.IsIdle() {
		return nil
	}
	for _, group := range s.ShardGroups() {
		if slices.Contains(group, s.localRank) {
			return group
		}
	}
	return nil
}
