package streampool

import (
	"sync"
	"testing"

	"github.com/gomlx/shardrt/pkg/core/device"
	"github.com/gomlx/shardrt/pkg/runtime/deviceapi"
	_ "github.com/gomlx/shardrt/pkg/runtime/deviceapi/cpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTags(t *testing.T) {
	tt := NewTagTable()
	assert.Equal(t, Compute, tt.Index("Compute"))
	assert.Equal(t, Communicate, tt.Index("Communicate"))
	custom := tt.Index("prefetch")
	assert.Equal(t, NumFixedTags, custom)
	assert.Equal(t, custom, tt.Index("prefetch"))
	assert.Equal(t, NumFixedTags+1, tt.Index("offload"))
	assert.Equal(t, int(NumFixedTags)+2, tt.Len())
	assert.Equal(t, "MemCpyDeviceToHost", MemCpyDeviceToHost.String())
	assert.Equal(t, "Reserved for other devices", Reserved7.Description())
	assert.Equal(t, "Tag(20)", Tag(20).String())
}

func TestPools(t *testing.T) {
	pools := NewPools(deviceapi.NewRegistry())
	cpu0, cpu1 := device.Make(device.CPU, 0), device.Make(device.CPU, 1)

	var wg sync.WaitGroup
	streams := make([]*Stream, 8)
	for i := range streams {
		wg.Add(1)
		go func() {
			defer wg.Done()
			streams[i] = pools.Get(cpu0, Compute, 2)
		}()
	}
	wg.Wait()
	for _, s := range streams {
		assert.Same(t, streams[0], s)
	}
	assert.NotSame(t, streams[0], pools.Get(cpu0, Compute, 0))
	assert.NotSame(t, streams[0], pools.Get(cpu0, Communicate, 2))
	assert.NotSame(t, streams[0], pools.Get(cpu1, Compute, 2))
	assert.Equal(t, 2, pools.NumPools())
	assert.Len(t, pools.Pool(cpu0).Streams(), 3)
	assert.Equal(t, cpu0, streams[0].Device())

	streams[0].Wait()
	dynamicTag := pools.TagIndex("my_tag")
	s := pools.Get(cpu0, dynamicTag, 0)
	require.NotNil(t, s.Handle())

	pools.Finalize()
	assert.Nil(t, s.Handle())
	s.Close()
	require.Panics(t, func() { s.Wait() })
	assert.Equal(t, 0, pools.NumPools())
	require.Panics(t, func() { pools.Get(cpu0, -1, 0) })
}
