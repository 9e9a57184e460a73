// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sharding

import (
	"slices"

	"github.com/gomlx/shardrt/pkg/support/xslices"
)

// Builder is a fluent way of creating a Shard spec, one axis at a time.
//
// Example: shard the first axis 2 ways, and the second axis 2 ways with replica subgroups of 2, over ranks 0-7.
//
//	spec, err := sharding.Build(0, 1, 2, 3, 4, 5, 6, 7).Axis(2, 1).Axis(4, 2).Done(myRank)
type Builder struct {
	ranks         []int
	phyShape      []int
	subgroupShape []int
	immutable     bool
}

// Build starts a Shard spec over the given ranks.
func Build(ranks ...int) *Builder {
	return &Builder{ranks: slices.Clone(ranks)}
}

// BuildRange starts a Shard spec over the ranks 0 to n-1.
func BuildRange(n int) *Builder {
	return &Builder{ranks: xslices.Iota(0, n)}
}

// Axis adds an axis with phy ranks, in subgroups of sub replicas (so phy/sub distinct shards).
func (b *Builder) Axis(phy, sub int) *Builder {
	b.phyShape = append(b.phyShape, phy)
	b.subgroupShape = append(b.subgroupShape, sub)
	return b
}

// Split adds an axis split in n shards, without replicas. It is the same as Axis(n, 1).
func (b *Builder) Split(n int) *Builder {
	return b.Axis(n, 1)
}

// Immutable marks the spec as immutable.
func (b *Builder) Immutable() *Builder {
	b.immutable = true
	return b
}

// Done creates the Shard spec as seen by localRank. See NewShard for the errors returned.
func (b *Builder) Done(localRank int) (*Shard, error) {
	return NewShard(localRank, b.immutable, b.ranks, b.phyShape, b.subgroupShape)
}
