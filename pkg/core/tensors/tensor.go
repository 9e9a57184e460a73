// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements Tensor, a multidimensional array stored in device memory.
//
// A Tensor is only a shape, a device and a pointer to its data on the device. It may own the memory
// (if allocated with Empty or FromFlat, or adopted with New) in which case Finalize releases it, or it
// can be a View over memory owned by someone else.
//
// Host access to the data (Bytes, ToFlat) is only possible for host-addressable devices (CPU).
package tensors

import (
	"fmt"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/shardrt/pkg/core/device"
	"github.com/gomlx/shardrt/pkg/core/dtypes"
	"github.com/gomlx/shardrt/pkg/core/shapes"
	"github.com/gomlx/shardrt/pkg/runtime/memorypool"
)

// Alignment used for the memory of tensors allocated by this package.
const Alignment = 64

// Tensor is a multidimensional array on a device.
type Tensor struct {
	shape  shapes.Shape
	device device.Device
	data   unsafe.Pointer

	// memory is set if the tensor owns its data.
	memory *memorypool.Memory
}

// New creates a tensor that owns mem. It panics if mem is smaller than the shape requires.
func New(shape shapes.Shape, mem *memorypool.Memory) *Tensor {
	if mem.NBytes < shape.Memory() {
		exceptions.Panicf("tensors.New: shape %s requires %d bytes, but memory only has %d bytes",
			shape, shape.Memory(), mem.NBytes)
	}
	return &Tensor{shape: shape, device: mem.Device, data: mem.Data, memory: mem}
}

// Empty allocates a tensor with uninitialized contents on dev.
func Empty(pools *memorypool.Pools, dev device.Device, shape shapes.Shape) *Tensor {
	return New(shape, pools.Alloc(dev, shape.Memory(), Alignment))
}

// View creates a tensor over data, which remains owned by the caller.
func View(dev device.Device, shape shapes.Shape, data unsafe.Pointer) *Tensor {
	return &Tensor{shape: shape, device: dev, data: data}
}

// FromFlat allocates a tensor on dev with the given dimensions and copies flat into it.
// dev must be host-addressable.
func FromFlat[T dtypes.Supported](pools *memorypool.Pools, dev device.Device, flat []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(flat) != shape.Size() {
		exceptions.Panicf("tensors.FromFlat: %d values given for shape %s (size %d)", len(flat), shape, shape.Size())
	}
	t := Empty(pools, dev, shape)
	copy(t.Bytes(), unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(flat))), shape.Memory()))
	return t
}

// ToFlat returns a copy of the contents of t as a flat slice. t must be on a host-addressable device.
func ToFlat[T dtypes.Supported](t *Tensor) []T {
	if dtype := dtypes.FromGenericsType[T](); dtype != t.shape.DType {
		exceptions.Panicf("tensors.ToFlat[%s] called on a tensor of dtype %s", dtype, t.shape.DType)
	}
	flat := make([]T, t.shape.Size())
	copy(unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(flat))), t.shape.Memory()), t.Bytes())
	return flat
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Device where the tensor is stored.
func (t *Tensor) Device() device.Device { return t.device }

// Data returns the pointer to the tensor data on the device. It is nil for finalized or empty tensors.
func (t *Tensor) Data() unsafe.Pointer { return t.data }

// NBytes returns the number of bytes used by the tensor data.
func (t *Tensor) NBytes() int64 { return t.shape.Memory() }

// IsOwner returns whether the tensor owns its memory (as opposed to being a View).
func (t *Tensor) IsOwner() bool { return t.memory != nil }

// IsFinalized returns whether Finalize was called.
func (t *Tensor) IsFinalized() bool { return !t.shape.Ok() }

// Bytes returns the tensor data as a byte slice sharing its memory. The device must be host-addressable.
func (t *Tensor) Bytes() []byte {
	if t.IsFinalized() {
		exceptions.Panicf("tensors: Bytes() called on a finalized tensor")
	}
	if t.device.Kind != device.CPU {
		exceptions.Panicf("tensors: Bytes() requires a host-addressable device, tensor is on %s", t.device)
	}
	return unsafe.Slice((*byte)(t.data), t.shape.Memory())
}

// Finalize releases the memory, if owned, and invalidates the tensor. It is idempotent.
func (t *Tensor) Finalize() {
	if t.memory != nil {
		t.memory.Free()
		t.memory = nil
	}
	t.data = nil
	t.shape = shapes.Shape{}
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	if t.IsFinalized() {
		return "Tensor(finalized)"
	}
	return fmt.Sprintf("Tensor(%s on %s)", t.shape, t.device)
}
