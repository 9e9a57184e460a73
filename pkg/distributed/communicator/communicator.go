// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package communicator defines the Communicator, the process-wide handle to the collective communication
// library of a distributed job, and the Manager that lazily creates it.
//
// Implementations are registered by name (see Register) at start time. The "void" implementation is
// always available: it carries the rank information but no collective library, and it is used when the
// preferred implementation is not registered.
package communicator

import (
	"fmt"
	"unsafe"

	"github.com/gomlx/shardrt/pkg/core/dtypes"
)

// Communicator exposes the identity of the process in the distributed job and the native handle of the
// collective library. It is immutable after construction.
type Communicator interface {
	// Type is the name of the implementation (as registered).
	Type() string

	Rank() int
	Size() int
	LocalRank() int
	LocalSize() int
	RootRank() int
	IsRoot() bool

	// CommHandle returns the native handle used by collective operations. It is nil for "void".
	// For the "local" implementation it implements Collectives.
	CommHandle() any

	// Finalize releases the native resources. The Communicator must not be used afterward.
	Finalize() error
}

// Info implements the accessors of Communicator. Implementations embed it.
type Info struct {
	typeName                         string
	rank, size, localRank, localSize int
	rootRank                         int
}

// NewInfo returns the Info of a communicator of the given type, with the ranks reported by connector.
func NewInfo(typeName string, connector Connector, rootRank int) Info {
	return Info{
		typeName:  typeName,
		rank:      connector.Rank(),
		size:      connector.Size(),
		localRank: connector.LocalRank(),
		localSize: connector.LocalSize(),
		rootRank:  rootRank,
	}
}

// Type implements Communicator.
func (i *Info) Type() string { return i.typeName }

// Rank implements Communicator.
func (i *Info) Rank() int { return i.rank }

// Size implements Communicator.
func (i *Info) Size() int { return i.size }

// LocalRank implements Communicator.
func (i *Info) LocalRank() int { return i.localRank }

// LocalSize implements Communicator.
func (i *Info) LocalSize() int { return i.localSize }

// RootRank implements Communicator.
func (i *Info) RootRank() int { return i.rootRank }

// IsRoot implements Communicator.
func (i *Info) IsRoot() bool { return i.rank == i.rootRank }

// String implements fmt.Stringer.
func (i *Info) String() string {
	return fmt.Sprintf("%s(rank=%d/%d, local=%d/%d)", i.typeName, i.rank, i.size, i.localRank, i.localSize)
}

// ReduceOp is the reduction applied by AllReduce and ReduceScatter.
type ReduceOp int

const (
	Sum ReduceOp = iota
	Prod
	Min
	Max
)

var reduceOpNames = []string{"sum", "prod", "min", "max"}

// String implements fmt.Stringer.
func (op ReduceOp) String() string {
	if op < 0 || int(op) >= len(reduceOpNames) {
		return fmt.Sprintf("ReduceOp(%d)", int(op))
	}
	return reduceOpNames[op]
}

// Launcher enqueues fn on the caller's stream: collectives run in stream order.
type Launcher func(fn func() error)

// Collectives is the interface of native handles able to run collective operations on device memory.
//
// Counts are in elements of dtype. The work is enqueued with launch; the error returned is only about
// invalid arguments, failures during the collective itself are reported through launch.
type Collectives interface {
	// AllReduce reduces count elements of send over all ranks, and writes the result to recv of every rank.
	// send and recv may be the same buffer.
	AllReduce(send, recv unsafe.Pointer, count int, dtype dtypes.DType, op ReduceOp, launch Launcher) error

	// AllGather concatenates sendCount elements of every rank, in rank order, into recv of every rank.
	// recv must hold sendCount*size elements.
	AllGather(send, recv unsafe.Pointer, sendCount int, dtype dtypes.DType, launch Launcher) error

	// ReduceScatter reduces send (recvCount*size elements) over all ranks, and writes the block of the
	// result with index rank to recv.
	ReduceScatter(send, recv unsafe.Pointer, recvCount int, dtype dtypes.DType, op ReduceOp, launch Launcher) error
}
