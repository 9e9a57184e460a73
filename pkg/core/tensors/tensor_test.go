package tensors

import (
	"testing"

	"github.com/gomlx/shardrt/pkg/core/device"
	"github.com/gomlx/shardrt/pkg/core/dtypes"
	"github.com/gomlx/shardrt/pkg/core/shapes"
	"github.com/gomlx/shardrt/pkg/runtime/deviceapi"
	_ "github.com/gomlx/shardrt/pkg/runtime/deviceapi/cpu"
	"github.com/gomlx/shardrt/pkg/runtime/memorypool"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cpu0 = device.Make(device.CPU, 0)

func TestTensor(t *testing.T) {
	registry := deviceapi.NewRegistry()
	pools := must.M1(memorypool.NewPools(registry, memorypool.NoPoolName))

	x := FromFlat(pools, cpu0, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, dtypes.Float32, x.DType())
	assert.Equal(t, []int{2, 3}, x.Shape().Dimensions)
	assert.Equal(t, int64(24), x.NBytes())
	assert.True(t, x.IsOwner())
	assert.Zero(t, uintptr(x.Data())%Alignment)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, ToFlat[float32](x))
	assert.Equal(t, "Tensor((Float32)[2 3] on cpu(0))", x.String())
	require.Panics(t, func() { ToFlat[int32](x) })

	view := View(cpu0, shapes.Make(dtypes.Float32, 3), x.Data())
	assert.False(t, view.IsOwner())
	assert.Equal(t, []float32{1, 2, 3}, ToFlat[float32](view))
	view.Bytes()[0] = 0
	assert.Equal(t, float32(0), ToFlat[float32](x)[0])

	used, _ := registry.ForDevice(cpu0).PoolSize()
	assert.Equal(t, int64(24), used)
	x.Finalize()
	x.Finalize()
	assert.True(t, x.IsFinalized())
	assert.Equal(t, "Tensor(finalized)", x.String())
	used, _ = registry.ForDevice(cpu0).PoolSize()
	assert.Zero(t, used)
	require.Panics(t, func() { x.Bytes() })

	require.Panics(t, func() { FromFlat(pools, cpu0, []int8{1, 2, 3}, 2, 2) })
	require.Panics(t, func() { New(shapes.Make(dtypes.Int64, 4), pools.Alloc(cpu0, 8, Alignment)) })

	empty := Empty(pools, cpu0, shapes.Make(dtypes.Int32, 0, 3))
	assert.Nil(t, empty.Data())
	assert.Empty(t, ToFlat[int32](empty))

	gpu := View(device.Make(device.CUDA, 0), shapes.Make(dtypes.Int32, 1), nil)
	require.Panics(t, func() { gpu.Bytes() })
}
