package runtime

import (
	"testing"

	"github.com/gomlx/shardrt/pkg/core/device"
	"github.com/gomlx/shardrt/pkg/distributed/communicator"
	_ "github.com/gomlx/shardrt/pkg/runtime/deviceapi/cpu"
	"github.com/gomlx/shardrt/pkg/runtime/memorypool"
	"github.com/gomlx/shardrt/pkg/runtime/streampool"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntime(t *testing.T) {
	connector := must.M1(communicator.NewStaticConnector(1, 2, 1, 2))
	rt, err := New(WithConnector(connector), WithCommunicator(communicator.VoidName),
		WithMemoryPool(memorypool.PageUnitPoolName))
	require.NoError(t, err)
	assert.Equal(t, memorypool.PageUnitPoolName, rt.Memory.Name())

	dist := rt.DistContext()
	assert.Same(t, dist, rt.DistContext())
	assert.Equal(t, 1, dist.Rank)
	assert.Equal(t, 2, dist.Size)
	assert.Equal(t, device.Make(device.CPU, 1), dist.LocalDevice)
	assert.Equal(t, communicator.VoidName, rt.Communicators.Live().Type())

	stream := rt.Streams.Get(dist.LocalDevice, streampool.Compute, 0)
	mem := rt.Memory.Alloc(dist.LocalDevice, 100, 64)
	rt.Profiler.SetProfiling(true)
	rt.Profiler.Record(dist.LocalDevice, "alloc")
	assert.Equal(t, 1, rt.Profiler.MaxMemoryInfo(dist.LocalDevice).NumTraces)
	mem.Free()

	rt.Finalize()
	assert.Nil(t, stream.Handle())
	assert.Nil(t, rt.Communicators.Live())

	_, err = New(WithMemoryPool("unknown_pool"))
	require.Error(t, err)
}
