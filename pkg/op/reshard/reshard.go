// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package reshard implements the operators that move a tensor between sharding specs:
//
//   - "_reshard_r2s": from replicated to sharded. Each rank keeps its slice of the tensor.
//   - "_reshard_s2r": from sharded to replicated. The shards are all-gathered and reassembled.
//   - "_get_slice_range": the slice of the tensor held by the local rank.
//
// Calls on ranks that don't take part in the spec (idle ranks) are elided at dispatch.
package reshard

import (
	"slices"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/shardrt/pkg/core/device"
	"github.com/gomlx/shardrt/pkg/core/dtypes"
	"github.com/gomlx/shardrt/pkg/core/shapes"
	"github.com/gomlx/shardrt/pkg/core/tensors"
	"github.com/gomlx/shardrt/pkg/distributed/communicator"
	"github.com/gomlx/shardrt/pkg/op"
	"github.com/gomlx/shardrt/pkg/runtime/deviceapi"
	"github.com/gomlx/shardrt/pkg/runtime/streampool"
	"github.com/gomlx/shardrt/pkg/sharding"
	"github.com/pkg/errors"
)

// Operator names.
const (
	R2SOp           = "_reshard_r2s"
	S2ROp           = "_reshard_s2r"
	GetSliceRangeOp = "_get_slice_range"
)

// Dialect under which the operators are registered.
const Dialect = "host"

func init() {
	op.RegisterMaker(R2SOp, device.CPU, Dialect, 10, makeR2S)
	op.RegisterMaker(S2ROp, device.CPU, Dialect, 10, makeS2R)
	op.RegisterMaker(GetSliceRangeOp, device.CPU, Dialect, 10, makeGetSliceRange)
}

// Args are the arguments of the reshard operators: the tensor and the Shard spec of the sharded side.
// For "_reshard_r2s" and "_get_slice_range" X is the full tensor, for "_reshard_s2r" it is the local shard.
type Args struct {
	X    *tensors.Tensor
	Spec *sharding.Shard
}

// copyBox enqueues on stream the copies between the packed box [begin, end) and the full tensor of the given
// shape. If toBox is true it copies from full to box, otherwise from box to full.
func copyBox(api deviceapi.DeviceAPI, dev device.Device, stream deviceapi.StreamHandle, full shapes.Shape,
	fullData, boxData unsafe.Pointer, begin, end []int, toBox bool) {
	elementSize := int64(full.DType.Size())
	runBytes := elementSize
	if full.Rank() > 0 {
		runBytes *= int64(end[full.Rank()-1] - begin[full.Rank()-1])
	}
	if runBytes == 0 {
		return
	}
	for flatIdx, boxIdx := range full.IterBox(begin, end) {
		fullPtr := unsafe.Add(fullData, int64(flatIdx)*elementSize)
		boxPtr := unsafe.Add(boxData, int64(boxIdx)*elementSize)
		if toBox {
			api.CopyAsync(dev, boxPtr, fullPtr, runBytes, stream)
		} else {
			api.CopyAsync(dev, fullPtr, boxPtr, runBytes, stream)
		}
	}
}

type r2sEnv struct {
	op.BaseEnv
	stream     deviceapi.StreamHandle
	begin, end []int
}

func makeR2S(call *op.Call) op.Env {
	args := call.Args.(*Args)
	if args.Spec.IsIdle() {
		call.Elide()
		return nil
	}
	begin, end, _ := args.Spec.SliceRange(args.X.Shape().Dimensions)
	e := &r2sEnv{begin: begin, end: end}
	e.RequestStream(&e.stream, call.Device, streampool.Compute)
	return e
}

// OutputShapes implements op.OutputShaper.
func (e *r2sEnv) OutputShapes(call *op.Call) []shapes.Shape {
	x := call.Args.(*Args).X
	return []shapes.Shape{x.Shape().WithDimensions(call.Args.(*Args).Spec.ShardShape(x.Shape().Dimensions)...)}
}

// Execute implements op.Env.
func (e *r2sEnv) Execute(call *op.Call) {
	x := call.Args.(*Args).X
	out := call.Output()
	checkOutput(R2SOp, out, e.OutputShapes(call)[0])
	copyBox(e.Stream(0).API(), call.Device, e.stream, x.Shape(), x.Data(), out.Data(), e.begin, e.end, true)
}

func checkOutput(opName string, out *tensors.Tensor, want shapes.Shape) {
	if !out.Shape().Equal(want) {
		exceptions.Panicf("%s: output has shape %s, wanted %s", opName, out.Shape(), want)
	}
}

// s2rEnv gathers the local shards of all ranks in a workspace, and then copies each distinct shard into
// its slice of the output.
type s2rEnv struct {
	op.BaseEnv
	stream   deviceapi.StreamHandle
	comm     communicator.Communicator
	gathered unsafe.Pointer
}

func makeS2R(call *op.Call) op.Env {
	args := call.Args.(*Args)
	if args.Spec.IsIdle() {
		call.Elide()
		return nil
	}
	if len(args.X.Shape().Dimensions) != args.Spec.NDim() {
		exceptions.Panicf("%s: shard %s doesn't match the %d axes of %s", S2ROp, args.X.Shape(), args.Spec.NDim(),
			args.Spec)
	}
	e := &s2rEnv{}
	e.RequestStream(&e.stream, call.Device, streampool.Communicate)
	e.RequestDistributed(&e.comm)
	e.RequestWorkspace(&e.gathered, call.Device, args.X.NBytes()*int64(args.Spec.NumRanks()))
	return e
}

func fullDimensions(shard []int, spec *sharding.Shard) []int {
	dims := slices.Clone(shard)
	for i, l := range spec.LogicShape() {
		dims[i] *= l
	}
	return dims
}

// OutputShapes implements op.OutputShaper.
func (e *s2rEnv) OutputShapes(call *op.Call) []shapes.Shape {
	args := call.Args.(*Args)
	return []shapes.Shape{args.X.Shape().WithDimensions(fullDimensions(args.X.Shape().Dimensions, args.Spec)...)}
}

// Execute implements op.Env.
func (e *s2rEnv) Execute(call *op.Call) {
	args := call.Args.(*Args)
	spec := args.Spec
	size := e.comm.Size()
	ranks := spec.Ranks()
	if len(ranks) != size || slices.Max(ranks) != size-1 {
		exceptions.Panicf("%s: %s must span all the %d ranks of the communicator, got ranks %v", S2ROp, spec, size, ranks)
	}
	coll, ok := e.comm.CommHandle().(communicator.Collectives)
	if !ok {
		exceptions.Panicf("%s: communicator %q doesn't support collectives", S2ROp, e.comm.Type())
	}
	out := call.Output()
	full := e.OutputShapes(call)[0]
	checkOutput(S2ROp, out, full)
	x := args.X
	err := coll.AllGather(x.Data(), e.gathered, x.Shape().Size(), x.DType(), e.Launcher(0))
	if err != nil {
		panic(errors.WithMessagef(err, "%s failed", S2ROp))
	}

	// One copy per distinct shard, taken from the first rank of its replica group.
	api := e.Stream(0).API()
	for _, group := range spec.ReplicaGroups() {
		rank := group[0]
		begin, end, _ := spec.SliceRangeOf(spec.LogicIndexOf(rank), full.Dimensions)
		block := unsafe.Add(e.gathered, x.NBytes()*int64(rank))
		copyBox(api, call.Device, e.stream, full, out.Data(), block, begin, end, false)
	}
}

// getSliceRangeEnv outputs an Int64 tensor of shape [2, rank]: the first row is the beginning of the local
// shard, the second row its last element (inclusive).
type getSliceRangeEnv struct {
	op.BaseEnv
	stream     deviceapi.StreamHandle
	begin, end []int
}

func makeGetSliceRange(call *op.Call) op.Env {
	args := call.Args.(*Args)
	if args.Spec.IsIdle() {
		call.Elide()
		return nil
	}
	begin, end, _ := args.Spec.SliceRange(args.X.Shape().Dimensions)
	e := &getSliceRangeEnv{begin: begin, end: end}
	e.RequestStream(&e.stream, call.Device, streampool.Compute)
	return e
}

// OutputShapes implements op.OutputShaper.
func (e *getSliceRangeEnv) OutputShapes(*op.Call) []shapes.Shape {
	return []shapes.Shape{shapes.Make(dtypes.Int64, 2, len(e.begin))}
}

// Execute implements op.Env.
func (e *getSliceRangeEnv) Execute(call *op.Call) {
	out := call.Output()
	checkOutput(GetSliceRangeOp, out, e.OutputShapes(call)[0])
	e.Stream(0).API().LaunchHostFunc(call.Device, e.stream, func() error {
		values := unsafe.Slice((*int64)(out.Data()), 2*len(e.begin))
		for i := range e.begin {
			values[i] = int64(e.begin[i])
			values[len(e.begin)+i] = int64(e.end[i] - 1)
		}
		return nil
	})
}
