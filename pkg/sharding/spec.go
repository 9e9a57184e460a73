// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sharding describes how a logical tensor is partitioned across the ranks of a distributed job,
// and computes, for the local rank, its coordinates in the partition grid.
//
// A Spec is one of a closed set of kinds:
//
//   - Replicated: every rank holds a full copy.
//   - Shard: the tensor is partitioned over a grid of ranks, with optional replica subgroups.
//   - Tuple: one Spec per element of a tuple value.
//   - Mirrored: sharding not decided yet, treated as replicated.
//   - Any: the consumer's choice.
//
// Use Match to dispatch on the kind of a Spec.
//
// The physical grid of a Shard (PhyShape) indexes all participating ranks. Each of its axes is split into a
// logical axis (LogicShape, the distinct shards) and a subgroup axis (SubgroupShape, the ranks holding copies
// of the same shard), with the subgroup index varying fastest:
//
//	phyIndex[i] = logicIndex[i]*subgroupShape[i] + subgroupIndex[i]
//
// A rank not in the Shard's ranks is idle for tensors with that spec: it holds no part of them.
package sharding

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
)

// Kind enumerates the kinds of Spec.
type Kind int

const (
	KindReplicated Kind = iota
	KindShard
	KindTuple
	KindMirrored
	KindAny
)

var kindNames = []string{"Replicated", "Shard", "Tuple", "Mirrored", "Any"}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Spec describes the sharding of a tensor (or a tuple of tensors). The implementations are exactly
// *Replicated, *Shard, *Tuple, *Mirrored and *Any.
//
// Specs are immutable after construction, and are shared by reference among all uses of a tensor.
type Spec interface {
	Kind() Kind

	// IsImmutable returns whether sharding passes are allowed to change the spec.
	IsImmutable() bool

	String() string

	// sealed keeps the set of implementations closed.
	sealed()
}

type base struct {
	immutable bool
}

func (b base) IsImmutable() bool { return b.immutable }

func (base) sealed() {}

func immutableSuffix(immutable bool) string {
	if immutable {
		return "(Immut)"
	}
	return ""
}

// Replicated means every rank holds a full copy of the tensor.
type Replicated struct{ base }

// NewReplicated returns a Replicated spec.
func NewReplicated(immutable bool) *Replicated {
	return &Replicated{base{immutable: immutable}}
}

// Kind implements Spec.
func (*Replicated) Kind() Kind { return KindReplicated }

// String implements Spec.
func (r *Replicated) String() string { return "ReplicatedSpec" + immutableSuffix(r.immutable) }

// Mirrored is a placeholder for a sharding not decided yet, to be treated as replicated.
type Mirrored struct{ base }

// NewMirrored returns a Mirrored spec.
func NewMirrored(immutable bool) *Mirrored {
	return &Mirrored{base{immutable: immutable}}
}

// Kind implements Spec.
func (*Mirrored) Kind() Kind { return KindMirrored }

// String implements Spec.
func (m *Mirrored) String() string { return "MirroredSpec" + immutableSuffix(m.immutable) }

// Any is a placeholder meaning any sharding chosen by the consumer is acceptable.
type Any struct{ base }

// NewAny returns an Any spec.
func NewAny(immutable bool) *Any {
	return &Any{base{immutable: immutable}}
}

// Kind implements Spec.
func (*Any) Kind() Kind { return KindAny }

// String implements Spec.
func (a *Any) String() string { return "AnySpec" + immutableSuffix(a.immutable) }

// Tuple holds one Spec per element of a tuple value.
type Tuple struct {
	base
	elems []Spec
}

// NewTuple returns a Tuple of the given specs. Elements can't be nil.
func NewTuple(immutable bool, elems ...Spec) *Tuple {
	for i, elem := range elems {
		if elem == nil {
			exceptions.Panicf("sharding.NewTuple: element #%d is nil", i)
		}
	}
	return &Tuple{base: base{immutable: immutable}, elems: slices.Clone(elems)}
}

// Kind implements Spec.
func (*Tuple) Kind() Kind { return KindTuple }

// Len returns the number of elements.
func (t *Tuple) Len() int { return len(t.elems) }

// At returns the spec of the i-th element.
func (t *Tuple) At(i int) Spec { return t.elems[i] }

// Elems returns a copy of the element specs.
func (t *Tuple) Elems() []Spec { return slices.Clone(t.elems) }

// String implements Spec.
func (t *Tuple) String() string {
	parts := make([]string, len(t.elems))
	for i, elem := range t.elems {
		parts[i] = elem.String()
	}
	return "TupleShardSpec" + immutableSuffix(t.immutable) + "[" + strings.Join(parts, ", ") + "]"
}

// Cases holds one handler per kind of Spec, for Match. Default, if set, handles kinds without a handler.
type Cases[T any] struct {
	Replicated func(*Replicated) T
	Shard      func(*Shard) T
	Tuple      func(*Tuple) T
	Mirrored   func(*Mirrored) T
	Any        func(*Any) T
	Default    func(Spec) T
}

// Match calls the handler in cases for the kind of spec. It panics if there is no handler (nor Default)
// for the kind, or if spec is nil.
func Match[T any](spec Spec, cases Cases[T]) T {
	switch s := spec.(type) {
	case *Replicated:
		if cases.Replicated != nil {
			return cases.Replicated(s)
		}
	case *Shard:
		if cases.Shard != nil {
			return cases.Shard(s)
		}
	case *Tuple:
		if cases.Tuple != nil {
			return cases.Tuple(s)
		}
	case *Mirrored:
		if cases.Mirrored != nil {
			return cases.Mirrored(s)
		}
	case *Any:
		if cases.Any != nil {
			return cases.Any(s)
		}
	case nil:
		exceptions.Panicf("sharding.Match: nil spec")
	}
	if cases.Default == nil {
		exceptions.Panicf("sharding.Match: no case for %s", spec)
	}
	return cases.Default(spec)
}

// Equal returns whether two specs are structurally equal, including the local rank they were built for.
func Equal(a, b Spec) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() || a.IsImmutable() != b.IsImmutable() {
		return false
	}
	switch a := a.(type) {
	case *Shard:
		b := b.(*Shard)
		return a.localRank == b.localRank &&
			slices.Equal(a.ranks, b.ranks) &&
			slices.Equal(a.phyShape, b.phyShape) &&
			slices.Equal(a.subgroupShape, b.subgroupShape)
	case *Tuple:
		b := b.(*Tuple)
		if len(a.elems) != len(b.elems) {
			return false
		}
		for i := range a.elems {
			if !Equal(a.elems[i], b.elems[i]) {
				return false
			}
		}
		return true
	}
	return true
}

// IsReplicatedLike returns whether the spec means every rank holds the full tensor: Replicated or Mirrored.
func IsReplicatedLike(spec Spec) bool {
	k := spec.Kind()
	return k == KindReplicated || k == KindMirrored
}

// OpAttrs is the sharding attribute attached to an operator call: the specs of its input and output.
type OpAttrs struct {
	In, Out Spec
}

// String implements fmt.Stringer.
func (a OpAttrs) String() string {
	return fmt.Sprintf("ShardOpAttrs(in=%s out=%s)", a.In, a.Out)
}
