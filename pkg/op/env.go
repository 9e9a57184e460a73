// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package op

import (
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/shardrt/pkg/core/device"
	"github.com/gomlx/shardrt/pkg/distributed/communicator"
	"github.com/gomlx/shardrt/pkg/runtime/deviceapi"
	"github.com/gomlx/shardrt/pkg/runtime/streampool"
	"k8s.io/klog/v2"
)

// Env is the execution environment of one operator call, built by a Maker.
//
// Implementations embed BaseEnv, which provides the resource requests.
type Env interface {
	// Execute enqueues the operator on the resources it requested. Resources are only valid after the Env is
	// bound to an Executor.
	Execute(call *Call)

	// Base returns the embedded BaseEnv.
	Base() *BaseEnv
}

// Executor fulfils the resource requests of Envs.
type Executor interface {
	// OnBind is called when env is bound to the executor: it must fill the requests issued so far.
	OnBind(env Env)

	// OnDestruct is called when env is closed: the executor may reclaim its resources.
	OnDestruct(env Env)

	// RequestWorkspace is called for workspace requests issued after binding.
	RequestWorkspace(reqs *Requests, index int)

	// RequestStream is called for stream requests issued after binding.
	RequestStream(reqs *Requests, index int)

	// RequestDistributed is called for distributed requests issued after binding.
	RequestDistributed(reqs *Requests, index int)
}

// BaseEnv implements the resource requests of an Env. It is meant to be embedded.
type BaseEnv struct {
	requests Requests
	executor Executor
	closed   bool
}

// Base implements Env.
func (b *BaseEnv) Base() *BaseEnv { return b }

// Requests returns the requests issued so far.
func (b *BaseEnv) Requests() *Requests { return &b.requests }

// Executor returns the executor the env is bound to, or nil.
func (b *BaseEnv) Executor() Executor { return b.executor }

// Stream returns the stream that filled the stream request at index, or nil if not filled yet.
func (b *BaseEnv) Stream(index int) *streampool.Stream {
	return b.requests.Stream[index].Stream
}

// Launcher returns a communicator.Launcher that enqueues collectives on the stream of request index.
// The request must be filled.
func (b *BaseEnv) Launcher(index int) communicator.Launcher {
	stream := b.Stream(index)
	if stream == nil {
		exceptions.Panicf("op: stream request #%d not filled", index)
	}
	return func(fn func() error) {
		stream.API().LaunchHostFunc(stream.Device(), stream.Handle(), fn)
	}
}

// RequestWorkspace asks for nbytes of memory on dev, to be stored in *dest. It returns the request index.
func (b *BaseEnv) RequestWorkspace(dest *unsafe.Pointer, dev device.Device, nbytes int64) int {
	index := len(b.requests.Workspace)
	b.requests.Workspace = append(b.requests.Workspace, &WorkspaceRequest{Dest: dest, Device: dev, NBytes: nbytes})
	if b.executor != nil {
		b.executor.RequestWorkspace(&b.requests, index)
	}
	return index
}

// RequestStream asks for a stream of dev with the given tag, to be stored in *dest. It returns the request index.
func (b *BaseEnv) RequestStream(dest *deviceapi.StreamHandle, dev device.Device, tag streampool.Tag) int {
	index := len(b.requests.Stream)
	b.requests.Stream = append(b.requests.Stream, &StreamRequest{Dest: dest, Device: dev, Tag: tag, Index: index})
	if b.executor != nil {
		b.executor.RequestStream(&b.requests, index)
	}
	return index
}

// RequestDistributed asks for the communicator, to be stored in *dest. It returns the request index.
func (b *BaseEnv) RequestDistributed(dest *communicator.Communicator) int {
	index := len(b.requests.Distributed)
	b.requests.Distributed = append(b.requests.Distributed, &DistributedRequest{Dest: dest})
	if b.executor != nil {
		b.executor.RequestDistributed(&b.requests, index)
	}
	return index
}

// BindExecutor attaches env to executor, which fills its pending requests. It panics if env is already bound.
func BindExecutor(env Env, executor Executor) {
	b := env.Base()
	if b.executor != nil {
		exceptions.Panicf("op.BindExecutor: env %T already bound to an executor", env)
	}
	if executor == nil {
		exceptions.Panicf("op.BindExecutor: nil executor")
	}
	b.executor = executor
	executor.OnBind(env)
}

// Close notifies the executor, if any, that env is no longer used. It is idempotent.
func Close(env Env) {
	b := env.Base()
	if b.closed {
		return
	}
	b.closed = true
	if b.executor != nil {
		klog.V(2).Infof("op: closing env %T", env)
		b.executor.OnDestruct(env)
	}
}
