// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package deviceapi defines DeviceAPI, the uniform interface over a device family (CPU, CUDA, ...) used by
// the runtime to allocate memory, create streams and events and synchronize work.
//
// Implementations register themselves with Register (usually in their package init) and are constructed
// lazily, at most once per device kind, by a Registry.
//
// Handles returned by a DeviceAPI are opaque: a StreamHandle or EventHandle is only meaningful to the
// DeviceAPI that created it. A nil StreamHandle is the "null stream", the device's implicit synchronous stream.
package deviceapi

import (
	"fmt"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/shardrt/pkg/core/device"
)

// StreamHandle is an opaque native stream. Nil is the null stream.
type StreamHandle any

// EventHandle is an opaque native event.
type EventHandle any

// MaxAlignment is the largest supported alignment: alignments must be powers of 2 dividing it.
const MaxAlignment = 512

// DeviceAPI is the interface implemented by each device family.
//
// Methods taking a device.Device panic (with exceptions.Panicf) if given a device of a different kind.
// Failures of the native library are fatal as well.
type DeviceAPI interface {
	// Kind of devices this API handles.
	Kind() device.Kind

	// AllocMemory allocates nbytes of device memory with the given alignment, synchronously.
	// Allocating 0 bytes returns nil.
	AllocMemory(nbytes, alignment int64) unsafe.Pointer

	// AllocMemoryAsync allocates in stream order: the memory is usable by work enqueued on stream afterward.
	AllocMemoryAsync(nbytes int64, stream StreamHandle, alignment int64) unsafe.Pointer

	// FreeMemory frees memory returned by AllocMemory or AllocMemoryAsync. Freeing nil is a no-op.
	FreeMemory(ptr unsafe.Pointer)

	// FreeMemoryAsync frees the memory after the work currently enqueued on stream completes.
	FreeMemoryAsync(ptr unsafe.Pointer, stream StreamHandle)

	// PoolSize returns the memory currently in use and the memory reserved (in use plus overhead), in bytes.
	PoolSize() (used, reserved int64)

	// SetDevice selects the device id of the calling context.
	SetDevice(id int)

	// CreateStream creates a new native stream on dev.
	CreateStream(dev device.Device) StreamHandle

	// FreeStream destroys a stream created by CreateStream.
	FreeStream(dev device.Device, stream StreamHandle)

	// CreateEvent creates a new event on dev. Flags are implementation specific.
	CreateEvent(dev device.Device, flags uint32) EventHandle

	// FreeEvent destroys an event created by CreateEvent.
	FreeEvent(dev device.Device, event EventHandle)

	// EventRecordOnStream captures in event the work currently enqueued on stream.
	EventRecordOnStream(dev device.Device, event EventHandle, stream StreamHandle)

	// StreamWaitEvent makes future work on stream wait for the work captured by the last record of event.
	// Waiting on an event that was never recorded is a no-op.
	StreamWaitEvent(dev device.Device, stream StreamHandle, event EventHandle)

	// SyncStream makes future work on next wait for the work currently enqueued on prev (on prevDev).
	SyncStream(prevDev device.Device, prev, next StreamHandle)

	// WaitDevice blocks until all work enqueued on dev completes.
	WaitDevice(dev device.Device)

	// WaitStream blocks until all work enqueued on stream completes. Waiting on the null stream is fatal.
	WaitStream(dev device.Device, stream StreamHandle)

	// CopyAsync copies nbytes from src to dst, both device memory of dev, in stream order.
	CopyAsync(dev device.Device, dst, src unsafe.Pointer, nbytes int64, stream StreamHandle)

	// LaunchHostFunc enqueues fn on stream: it runs after the work previously enqueued completes, and
	// work enqueued afterward waits for it. An error returned by fn is fatal, reported when the
	// stream is next waited on.
	LaunchHostFunc(dev device.Device, stream StreamHandle, fn func() error)
}

// CheckAlignment panics if alignment is not a positive power of 2 dividing MaxAlignment.
func CheckAlignment(alignment int64) {
	if alignment <= 0 || MaxAlignment%alignment != 0 {
		exceptions.Panicf("invalid memory alignment %d: it must be a power of 2 dividing %d", alignment, MaxAlignment)
	}
}

// CheckKind panics if dev is not of the given kind.
func CheckKind(kind device.Kind, dev device.Device) {
	if dev.Kind != kind {
		exceptions.Panicf("%s DeviceAPI called with device %s", kind, dev)
	}
}

// CheckStream panics if stream is the null stream.
func CheckStream(stream StreamHandle) {
	if stream == nil {
		exceptions.Panicf("cannot wait on a null stream")
	}
}

// AlignUp rounds n up to a multiple of alignment, which must be a power of 2.
func AlignUp(n, alignment int64) int64 {
	return (n + alignment - 1) &^ (alignment - 1)
}

// Describe returns a short description of a DeviceAPI, used in logs.
func Describe(api DeviceAPI) string {
	used, reserved := api.PoolSize()
	return fmt.Sprintf("DeviceAPI(%s, used=%d, reserved=%d)", api.Kind(), used, reserved)
}
