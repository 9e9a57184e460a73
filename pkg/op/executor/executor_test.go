package executor

import (
	"testing"
	"unsafe"

	"github.com/gomlx/shardrt/pkg/core/device"
	"github.com/gomlx/shardrt/pkg/core/dtypes"
	"github.com/gomlx/shardrt/pkg/core/shapes"
	"github.com/gomlx/shardrt/pkg/core/tensors"
	"github.com/gomlx/shardrt/pkg/distributed/communicator"
	"github.com/gomlx/shardrt/pkg/op"
	"github.com/gomlx/shardrt/pkg/runtime"
	"github.com/gomlx/shardrt/pkg/runtime/deviceapi"
	_ "github.com/gomlx/shardrt/pkg/runtime/deviceapi/cpu"
	"github.com/gomlx/shardrt/pkg/runtime/memorypool"
	"github.com/gomlx/shardrt/pkg/runtime/streampool"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const iotaOp = "_test_iota"

// iotaEnv writes 0, 1, 2, ... to its output, going through a workspace.
type iotaEnv struct {
	op.BaseEnv
	api       deviceapi.DeviceAPI
	stream    deviceapi.StreamHandle
	workspace unsafe.Pointer
	comm      communicator.Communicator
	size      int
}

func (e *iotaEnv) OutputShapes(*op.Call) []shapes.Shape {
	return []shapes.Shape{shapes.Make(dtypes.Int32, e.size)}
}

func (e *iotaEnv) Execute(call *op.Call) {
	out := call.Output()
	workspace := unsafe.Slice((*int32)(e.workspace), e.size)
	e.api.LaunchHostFunc(call.Device, e.stream, func() error {
		for i := range workspace {
			workspace[i] = int32(i)
		}
		return nil
	})
	e.api.CopyAsync(call.Device, out.Data(), e.workspace, out.NBytes(), e.stream)
}

func init() {
	op.RegisterMaker(iotaOp, device.CPU, "test", 10, func(call *op.Call) op.Env {
		size := call.Args.(int)
		if size < 0 {
			call.Elide()
			return nil
		}
		env := &iotaEnv{size: size}
		env.RequestStream(&env.stream, call.Device, streampool.Compute)
		env.RequestWorkspace(&env.workspace, call.Device, int64(4*size))
		env.RequestDistributed(&env.comm)
		return env
	})
}

func TestExecutor(t *testing.T) {
	rt := must.M1(runtime.New(
		runtime.WithConnector(communicator.SingleProcess()),
		runtime.WithCommunicator(communicator.VoidName),
		runtime.WithMemoryPool(memorypool.NoPoolName)))
	defer rt.Finalize()
	exec := New(rt)
	assert.Same(t, rt, exec.Runtime())
	dev := device.Make(device.CPU, 0)
	api := rt.Devices.ForDevice(dev)

	var calls []*op.Call
	for _, size := range []int{5, 3} {
		call := &op.Call{Op: iotaOp, Device: dev, Args: size}
		require.True(t, exec.Run(call))
		calls = append(calls, call)
	}
	for _, call := range calls {
		require.IsType(t, &tensors.Tensor{}, call.Out)
	}
	used, _ := api.PoolSize()
	assert.Equal(t, int64(2*(20+12)), used, "outputs and workspaces")

	exec.Synchronize()
	assert.Equal(t, []int32{0, 1, 2, 3, 4}, tensors.ToFlat[int32](calls[0].Output()))
	assert.Equal(t, []int32{0, 1, 2}, tensors.ToFlat[int32](calls[1].Output()))
	used, _ = api.PoolSize()
	assert.Equal(t, int64(20+12), used, "workspaces released after Synchronize")
	assert.Equal(t, communicator.VoidName, rt.Communicators.Live().Type())

	// Given outputs are used as is.
	out := tensors.Empty(rt.Memory, dev, shapes.Make(dtypes.Int32, 2))
	call := &op.Call{Op: iotaOp, Device: dev, Args: 2, Out: out}
	require.True(t, exec.Run(call))
	exec.Synchronize()
	assert.Equal(t, []int32{0, 1}, tensors.ToFlat[int32](out))

	// Elided calls do nothing.
	call = &op.Call{Op: iotaOp, Device: dev, Args: -1}
	assert.False(t, exec.Run(call))
	assert.Nil(t, call.Out)

	for _, call := range calls {
		call.Output().Finalize()
	}
	out.Finalize()
	used, _ = api.PoolSize()
	assert.Zero(t, used)
}

func TestExecutorProfiling(t *testing.T) {
	rt := must.M1(runtime.New(
		runtime.WithConnector(communicator.SingleProcess()),
		runtime.WithCommunicator(communicator.VoidName)))
	defer rt.Finalize()
	rt.Profiler.SetProfiling(true)
	exec := New(rt)
	dev := device.Make(device.CPU, 0)
	call := &op.Call{Op: iotaOp, Device: dev, Args: 8}
	require.True(t, exec.Run(call))
	exec.Synchronize()
	info := rt.Profiler.MaxMemoryInfo(dev)
	assert.Equal(t, 1, info.NumTraces)
	assert.Contains(t, rt.Profiler.Trace(dev), iotaOp)
	call.Output().Finalize()
}
