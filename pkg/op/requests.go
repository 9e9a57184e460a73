// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package op

import (
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/shardrt/pkg/core/device"
	"github.com/gomlx/shardrt/pkg/distributed/communicator"
	"github.com/gomlx/shardrt/pkg/runtime/deviceapi"
	"github.com/gomlx/shardrt/pkg/runtime/memorypool"
	"github.com/gomlx/shardrt/pkg/runtime/streampool"
)

// WorkspaceRequest asks for NBytes of scratch memory on Device.
type WorkspaceRequest struct {
	Dest   *unsafe.Pointer
	Device device.Device
	NBytes int64

	// Memory is set when the request is filled.
	Memory *memorypool.Memory
}

// StreamRequest asks for a stream with the given tag on Device.
type StreamRequest struct {
	Dest   *deviceapi.StreamHandle
	Device device.Device
	Tag    streampool.Tag

	// Index is the position of the request in the list of stream requests, which Executors may use
	// to pick distinct streams of the same tag.
	Index int

	// Stream is set when the request is filled.
	Stream *streampool.Stream
}

// DistributedRequest asks for the communicator.
type DistributedRequest struct {
	Dest *communicator.Communicator

	// Communicator is set when the request is filled.
	Communicator communicator.Communicator
}

// Requests is the ordered list of resource requests of an Env. The index of a request is its position in
// the corresponding list.
//
// Each request must be filled exactly once.
type Requests struct {
	Workspace   []*WorkspaceRequest
	Stream      []*StreamRequest
	Distributed []*DistributedRequest
}

// FillWorkspace fills the workspace request at index with mem. It panics if already filled.
func (r *Requests) FillWorkspace(index int, mem *memorypool.Memory) {
	req := r.Workspace[index]
	if req.Memory != nil {
		exceptions.Panicf("workspace request #%d filled twice", index)
	}
	if mem.NBytes < req.NBytes {
		exceptions.Panicf("workspace request #%d for %d bytes filled with only %d bytes", index, req.NBytes, mem.NBytes)
	}
	req.Memory = mem
	*req.Dest = mem.Data
}

// FillStream fills the stream request at index with stream. It panics if already filled.
func (r *Requests) FillStream(index int, stream *streampool.Stream) {
	req := r.Stream[index]
	if req.Stream != nil {
		exceptions.Panicf("stream request #%d filled twice", index)
	}
	req.Stream = stream
	*req.Dest = stream.Handle()
}

// FillDistributed fills the distributed request at index with comm. It panics if already filled.
func (r *Requests) FillDistributed(index int, comm communicator.Communicator) {
	req := r.Distributed[index]
	if req.Communicator != nil {
		exceptions.Panicf("distributed request #%d filled twice", index)
	}
	req.Communicator = comm
	*req.Dest = comm
}

// IsFilled returns whether every request has been filled.
func (r *Requests) IsFilled() bool {
	for _, req := range r.Workspace {
		if req.Memory == nil {
			return false
		}
	}
	for _, req := range r.Stream {
		if req.Stream == nil {
			return false
		}
	}
	for _, req := range r.Distributed {
		if req.Communicator == nil {
			return false
		}
	}
	return true
}
