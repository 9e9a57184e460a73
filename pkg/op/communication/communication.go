// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package communication implements the collective operators "_allreduce", "_allgather" and
// "_reduce_scatter" over a communicator whose native handle implements communicator.Collectives.
//
// They are registered for CPU devices under the dialect "local_communication", to be used with the
// "local" communicator.
package communication

import (
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
	"github.com/pkg/errors"
)

// Operator names.
const (
	AllReduceOp     = "_allreduce"
	AllGatherOp     = "_allgather"
	ReduceScatterOp = "_reduce_scatter"
)

// Dialect under which the operators are registered.
const Dialect = "local_communication"

// Priority of the makers of this package.
const Priority = 10

func init() {
	op.RegisterMaker(AllReduceOp, device.CPU, Dialect, Priority, makeAllReduce)
	op.RegisterMaker(AllGatherOp, device.CPU, Dialect, Priority, makeAllGather)
	op.RegisterMaker(ReduceScatterOp, device.CPU, Dialect, Priority, makeReduceScatter)
}

// AllReduceArgs are the arguments of "_allreduce". Op defaults to communicator.Sum.
//
// The output has one tensor per input, with the same shape: a *tensors.Tensor for one input, a
// []*tensors.Tensor otherwise.
type AllReduceArgs struct {
	X  []*tensors.Tensor
	Op communicator.ReduceOp
}

// AllGatherArgs are the arguments of "_allgather". The output concatenates X of every rank, in rank order,
// on the first axis.
type AllGatherArgs struct {
	X *tensors.Tensor
}

// ReduceScatterArgs are the arguments of "_reduce_scatter": one tensor per rank, all of the same shape.
// The output, with that same shape, is the reduction over all ranks of X[rank]. Op defaults to communicator.Sum.
type ReduceScatterArgs struct {
	X  []*tensors.Tensor
	Op communicator.ReduceOp
}

// collectiveEnv holds the resources shared by the collective operators.
type collectiveEnv struct {
	op.BaseEnv
	stream deviceapi.StreamHandle
	comm   communicator.Communicator
}

func (e *collectiveEnv) requestCommon(dev device.Device) {
	e.RequestStream(&e.stream, dev, streampool.Communicate)
	e.RequestDistributed(&e.comm)
}

// collectives returns the native handle of the communicator.
func (e *collectiveEnv) collectives(opName string) communicator.Collectives {
	handle, ok := e.comm.CommHandle().(communicator.Collectives)
	if !ok {
		exceptions.Panicf("%s: communicator %q doesn't support collectives (handle is %T)",
			opName, e.comm.Type(), e.comm.CommHandle())
	}
	return handle
}

func (e *collectiveEnv) copyAsync(dev device.Device, dst, src unsafe.Pointer, nbytes int64) {
	e.Stream(0).API().CopyAsync(dev, dst, src, nbytes, e.stream)
}

func checkCall(opName string, err error) {
	if err != nil {
		panic(errors.WithMessagef(err, "%s failed", opName))
	}
}

// commonDType returns the dtype of all tensors, and panics if they differ.
func commonDType(opName string, xs []*tensors.Tensor) dtypes.DType {
	if len(xs) == 0 {
		exceptions.Panicf("%s: no input tensors", opName)
	}
	dtype := xs[0].DType()
	for i, x := range xs {
		if x.DType() != dtype {
			exceptions.Panicf("%s: input #%d has dtype %s, but input #0 has dtype %s", opName, i, x.DType(), dtype)
		}
	}
	return dtype
}

// allReduceEnv fuses its inputs into one workspace, so a single collective call serves all of them.
type allReduceEnv struct {
	collectiveEnv
	fused      unsafe.Pointer
	sizes      []int64
	totalBytes int64
	dtype      dtypes.DType
}

func makeAllReduce(call *op.Call) op.Env {
	args := call.Args.(*AllReduceArgs)
	e := &allReduceEnv{dtype: commonDType(AllReduceOp, args.X)}
	e.requestCommon(call.Device)
	for _, x := range args.X {
		e.sizes = append(e.sizes, x.NBytes())
		e.totalBytes += x.NBytes()
	}
	if len(args.X) > 1 {
		e.RequestWorkspace(&e.fused, call.Device, e.totalBytes)
	}
	return e
}

// OutputShapes implements op.OutputShaper.
func (e *allReduceEnv) OutputShapes(call *op.Call) []shapes.Shape {
	args := call.Args.(*AllReduceArgs)
	outShapes := make([]shapes.Shape, len(args.X))
	for i, x := range args.X {
		outShapes[i] = x.Shape().Clone()
	}
	return outShapes
}

// Execute implements op.Env.
func (e *allReduceEnv) Execute(call *op.Call) {
	args := call.Args.(*AllReduceArgs)
	outputs := call.Outputs()
	if len(outputs) != len(args.X) {
		exceptions.Panicf("%s: %d inputs but %d outputs", AllReduceOp, len(args.X), len(outputs))
	}
	coll := e.collectives(AllReduceOp)
	count := int(e.totalBytes) / e.dtype.Size()
	launch := e.Launcher(0)
	if len(args.X) == 1 {
		checkCall(AllReduceOp, coll.AllReduce(args.X[0].Data(), outputs[0].Data(), count, e.dtype, args.Op, launch))
		return
	}

	// Fuse.
	var offset int64
	for i, x := range args.X {
		e.copyAsync(call.Device, unsafe.Add(e.fused, offset), x.Data(), e.sizes[i])
		offset += e.sizes[i]
	}
	checkCall(AllReduceOp, coll.AllReduce(e.fused, e.fused, count, e.dtype, args.Op, launch))

	// Unfuse, in reverse order.
	for i := len(outputs) - 1; i >= 0; i-- {
		offset -= e.sizes[i]
		e.copyAsync(call.Device, outputs[i].Data(), unsafe.Add(e.fused, offset), e.sizes[i])
	}
}

type allGatherEnv struct {
	collectiveEnv
}

func makeAllGather(call *op.Call) op.Env {
	e := &allGatherEnv{}
	e.requestCommon(call.Device)
	return e
}

// OutputShapes implements op.OutputShaper.
func (e *allGatherEnv) OutputShapes(call *op.Call) []shapes.Shape {
	x := call.Args.(*AllGatherArgs).X
	shape := x.Shape().Clone()
	if shape.IsScalar() {
		return []shapes.Shape{shapes.Make(shape.DType, e.comm.Size())}
	}
	shape.Dimensions[0] *= e.comm.Size()
	return []shapes.Shape{shape}
}

// Execute implements op.Env.
func (e *allGatherEnv) Execute(call *op.Call) {
	x := call.Args.(*AllGatherArgs).X
	out := call.Output()
	if out.NBytes() != x.NBytes()*int64(e.comm.Size()) {
		exceptions.Panicf("%s: output %s can't hold the input %s of %d ranks", AllGatherOp, out.Shape(), x.Shape(),
			e.comm.Size())
	}
	checkCall(AllGatherOp, e.collectives(AllGatherOp).AllGather(x.Data(), out.Data(), x.Shape().Size(), x.DType(),
		e.Launcher(0)))
}

// reduceScatterEnv copies its inputs, one per rank, into a contiguous workspace.
type reduceScatterEnv struct {
	collectiveEnv
	in       unsafe.Pointer
	outBytes int64
}

func makeReduceScatter(call *op.Call) op.Env {
	args := call.Args.(*ReduceScatterArgs)
	commonDType(ReduceScatterOp, args.X)
	e := &reduceScatterEnv{outBytes: args.X[0].NBytes()}
	for i, x := range args.X {
		if !x.Shape().Equal(args.X[0].Shape()) {
			exceptions.Panicf("%s: input #%d has shape %s, but input #0 has shape %s", ReduceScatterOp, i,
				x.Shape(), args.X[0].Shape())
		}
	}
	e.requestCommon(call.Device)
	e.RequestWorkspace(&e.in, call.Device, e.outBytes*int64(len(args.X)))
	return e
}

// OutputShapes implements op.OutputShaper.
func (e *reduceScatterEnv) OutputShapes(call *op.Call) []shapes.Shape {
	return []shapes.Shape{call.Args.(*ReduceScatterArgs).X[0].Shape().Clone()}
}

// Execute implements op.Env.
func (e *reduceScatterEnv) Execute(call *op.Call) {
	args := call.Args.(*ReduceScatterArgs)
	if len(args.X) != e.comm.Size() {
		exceptions.Panicf("%s: %d inputs given for %d ranks", ReduceScatterOp, len(args.X), e.comm.Size())
	}
	for i, x := range args.X {
		e.copyAsync(call.Device, unsafe.Add(e.in, e.outBytes*int64(i)), x.Data(), e.outBytes)
	}
	out := call.Output()
	checkCall(ReduceScatterOp, e.collectives(ReduceScatterOp).ReduceScatter(e.in, out.Data(), out.Shape().Size(),
		out.DType(), args.Op, e.Launcher(0)))
}
