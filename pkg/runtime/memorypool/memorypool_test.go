package memorypool

import (
	"testing"

	"github.com/gomlx/shardrt/pkg/core/device"
	"github.com/gomlx/shardrt/pkg/runtime/deviceapi"
	_ "github.com/gomlx/shardrt/pkg/runtime/deviceapi/cpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cpu0 = device.Make(device.CPU, 0)

func TestNoPool(t *testing.T) {
	pools, err := NewPools(deviceapi.NewRegistry(), NoPoolName)
	require.NoError(t, err)
	pool := pools.Pool(cpu0)
	assert.Same(t, pool, pools.Pool(cpu0))
	assert.Equal(t, int64(1000), pool.AllocBytes(1000))

	empty := pool.Alloc(0, 64)
	assert.Nil(t, empty.Data)
	empty.Free()

	memories := pool.AllocBatch([]int64{16, 32}, 64)
	require.Len(t, memories, 2)
	used, _ := pool.PoolSize()
	assert.Equal(t, int64(48), used)
	for _, m := range memories {
		assert.Zero(t, uintptr(m.Data)%64)
		m.Free()
		m.Free() // Idempotent.
	}
	used, _ = pool.PoolSize()
	assert.Zero(t, used)
	require.Panics(t, func() { pool.Alloc(-1, 64) })
}

func TestPageUnitPool(t *testing.T) {
	pools, err := NewPools(deviceapi.NewRegistry(), PageUnitPoolName)
	require.NoError(t, err)
	pool := pools.Pool(cpu0).(*PageUnitPool)
	assert.Equal(t, int64(PageSize), pool.AllocBytes(1))
	assert.Equal(t, int64(2*PageSize), pool.AllocBytes(PageSize+1))

	m1 := pools.Alloc(cpu0, 100, 64)
	used, reserved := pool.PoolSize()
	assert.Equal(t, int64(PageSize), used)
	assert.Equal(t, int64(PageSize), reserved)
	data := m1.Data
	m1.Free()
	used, reserved = pool.PoolSize()
	assert.Zero(t, used)
	assert.Equal(t, int64(PageSize), reserved)

	// Same number of pages reuses the cached chunk.
	m2 := pool.Alloc(PageSize, 512)
	assert.Equal(t, data, m2.Data)
	m2.Free()
	pool.Trim()
	_, reserved = pool.PoolSize()
	assert.Zero(t, reserved)
}

func TestSelection(t *testing.T) {
	t.Setenv(EnvVar, "")
	assert.Equal(t, NoPoolName, DefaultName())
	t.Setenv(EnvVar, PageUnitPoolName)
	pools, err := NewPools(deviceapi.NewRegistry(), "")
	require.NoError(t, err)
	assert.Equal(t, PageUnitPoolName, pools.Name())

	_, err = NewPools(deviceapi.NewRegistry(), "unknown_pool")
	require.Error(t, err)
	assert.Contains(t, List(), NoPoolName)
}
