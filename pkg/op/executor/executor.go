// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package executor implements a simple op.Executor: it runs calls one at a time, filling their requests
// from the pools of a runtime.Runtime.
package executor

import (
	"slices"
	"sync"

	"github.com/gomlx/shardrt/pkg/core/tensors"
	"github.com/gomlx/shardrt/pkg/op"
	"github.com/gomlx/shardrt/pkg/runtime"
	"github.com/gomlx/shardrt/pkg/runtime/memorypool"
	"github.com/gomlx/shardrt/pkg/runtime/streampool"
	"k8s.io/klog/v2"
)

// WorkspaceAlignment is the alignment of the workspace memory handed to operators.
const WorkspaceAlignment = 64

// Executor fulfils the requests of op.Env with the resources of a Runtime.
//
// Workspaces live until the env is closed. Run keeps the envs it creates until Synchronize, since
// their work may still be pending on the streams.
type Executor struct {
	rt *runtime.Runtime

	mu         sync.Mutex
	workspaces map[*op.Requests][]*memorypool.Memory
	streams    []*streampool.Stream
	pending    []op.Env
}

var _ op.Executor = (*Executor)(nil)

// New creates an Executor over the resources of rt.
func New(rt *runtime.Runtime) *Executor {
	return &Executor{
		rt:         rt,
		workspaces: make(map[*op.Requests][]*memorypool.Memory),
	}
}

// Runtime returns the runtime used by the executor.
func (e *Executor) Runtime() *runtime.Runtime { return e.rt }

// OnBind implements op.Executor.
func (e *Executor) OnBind(env op.Env) {
	reqs := env.Base().Requests()
	for i := range reqs.Workspace {
		e.RequestWorkspace(reqs, i)
	}
	for i := range reqs.Stream {
		e.RequestStream(reqs, i)
	}
	for i := range reqs.Distributed {
		e.RequestDistributed(reqs, i)
	}
}

// OnDestruct implements op.Executor. It frees the workspaces of env.
func (e *Executor) OnDestruct(env op.Env) {
	reqs := env.Base().Requests()
	e.mu.Lock()
	memories := e.workspaces[reqs]
	delete(e.workspaces, reqs)
	e.mu.Unlock()
	for _, mem := range memories {
		mem.Free()
	}
}

// RequestWorkspace implements op.Executor.
func (e *Executor) RequestWorkspace(reqs *op.Requests, index int) {
	req := reqs.Workspace[index]
	mem := e.rt.Memory.Alloc(req.Device, req.NBytes, WorkspaceAlignment)
	reqs.FillWorkspace(index, mem)
	e.mu.Lock()
	e.workspaces[reqs] = append(e.workspaces[reqs], mem)
	e.mu.Unlock()
	klog.V(2).Infof("executor: workspace #%d of %d bytes on %s", index, req.NBytes, req.Device)
}

// RequestStream implements op.Executor.
func (e *Executor) RequestStream(reqs *op.Requests, index int) {
	req := reqs.Stream[index]
	stream := e.rt.Streams.Get(req.Device, req.Tag, req.Index)
	reqs.FillStream(index, stream)
	e.mu.Lock()
	if !slices.Contains(e.streams, stream) {
		e.streams = append(e.streams, stream)
	}
	e.mu.Unlock()
	klog.V(2).Infof("executor: stream #%d (%s) on %s", index, req.Tag, req.Device)
}

// RequestDistributed implements op.Executor.
func (e *Executor) RequestDistributed(reqs *op.Requests, index int) {
	reqs.FillDistributed(index, e.rt.Communicators.GetCommunicator())
	klog.V(2).Infof("executor: distributed #%d", index)
}

// Run dispatches call, binds the resulting env, allocates its outputs if needed and executes it.
//
// It returns false if the call was elided. The work may still be running on the streams when it returns:
// use Synchronize to wait for it.
func (e *Executor) Run(call *op.Call) bool {
	env := op.Dispatch(call)
	if env == nil {
		return false
	}
	op.BindExecutor(env, e)
	if call.Out == nil {
		if shaper, ok := env.(op.OutputShaper); ok {
			outShapes := shaper.OutputShapes(call)
			outputs := make([]*tensors.Tensor, len(outShapes))
			for i, shape := range outShapes {
				outputs[i] = tensors.Empty(e.rt.Memory, call.Device, shape)
			}
			if len(outputs) == 1 {
				call.Out = outputs[0]
			} else {
				call.Out = outputs
			}
		}
	}
	env.Execute(call)
	if e.rt.Profiler.IsProfiling() {
		e.rt.Profiler.Record(call.Device, call.Op)
	}
	e.mu.Lock()
	e.pending = append(e.pending, env)
	e.mu.Unlock()
	return true
}

// Synchronize waits for every stream handed out by the executor, and then closes the envs created by Run.
func (e *Executor) Synchronize() {
	e.mu.Lock()
	streams := slices.Clone(e.streams)
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()
	for _, stream := range streams {
		stream.Wait()
	}
	for _, env := range pending {
		op.Close(env)
	}
}
