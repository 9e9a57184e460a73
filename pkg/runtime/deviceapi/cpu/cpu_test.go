package cpu

import (
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/gomlx/shardrt/pkg/core/device"
	"github.com/gomlx/shardrt/pkg/runtime/deviceapi"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cpu0 = device.Make(device.CPU, 0)

func TestMemory(t *testing.T) {
	api := New()
	for _, alignment := range []int64{1, 2, 64, 512} {
		ptr := api.AllocMemory(100, alignment)
		require.NotNil(t, ptr)
		assert.Zero(t, uintptr(ptr)%uintptr(alignment), "alignment %d", alignment)
		used, reserved := api.PoolSize()
		assert.Equal(t, int64(100), used)
		assert.GreaterOrEqual(t, reserved, used)
		api.FreeMemory(ptr)
		used, reserved = api.PoolSize()
		assert.Zero(t, used)
		assert.Zero(t, reserved)
	}
	assert.Nil(t, api.AllocMemory(0, 64))
	api.FreeMemory(nil)
	for _, alignment := range []int64{0, 3, 1024, -2} {
		require.Panics(t, func() { api.AllocMemory(8, alignment) }, "alignment %d", alignment)
	}
	ptr := api.AllocMemory(8, 8)
	api.FreeMemory(ptr)
	require.Panics(t, func() { api.FreeMemory(ptr) })
}

func TestStreamOrder(t *testing.T) {
	api := New()
	stream := api.CreateStream(cpu0)
	defer api.FreeStream(cpu0, stream)

	var order []int
	for i := range 10 {
		api.LaunchHostFunc(cpu0, stream, func() error {
			if i == 0 {
				time.Sleep(5 * time.Millisecond)
			}
			order = append(order, i)
			return nil
		})
	}
	api.WaitStream(cpu0, stream)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)

	src := api.AllocMemory(16, 8)
	dst := api.AllocMemory(16, 8)
	copy(unsafe.Slice((*byte)(src), 16), "0123456789abcdef")
	api.CopyAsync(cpu0, dst, src, 16, stream)
	api.FreeMemoryAsync(src, stream)
	api.WaitStream(cpu0, stream)
	assert.Equal(t, "0123456789abcdef", string(unsafe.Slice((*byte)(dst), 16)))
	used, _ := api.PoolSize()
	assert.Equal(t, int64(16), used)
	api.FreeMemory(dst)
}

func TestEvents(t *testing.T) {
	api := New()
	s1 := api.CreateStream(cpu0)
	s2 := api.CreateStream(cpu0)

	// Never-recorded event: no wait.
	e := api.CreateEvent(cpu0, 0)
	api.StreamWaitEvent(cpu0, s2, e)
	api.WaitStream(cpu0, s2)

	release := make(chan struct{})
	var s1Done atomic.Bool
	api.LaunchHostFunc(cpu0, s1, func() error {
		<-release
		s1Done.Store(true)
		return nil
	})
	api.EventRecordOnStream(cpu0, e, s1)
	api.StreamWaitEvent(cpu0, s2, e)
	var sawS1Done atomic.Bool
	api.LaunchHostFunc(cpu0, s2, func() error {
		sawS1Done.Store(s1Done.Load())
		return nil
	})
	close(release)
	api.WaitStream(cpu0, s2)
	assert.True(t, sawS1Done.Load())
	api.FreeEvent(cpu0, e)

	// SyncStream gives the same ordering.
	release = make(chan struct{})
	s1Done.Store(false)
	api.LaunchHostFunc(cpu0, s1, func() error {
		<-release
		s1Done.Store(true)
		return nil
	})
	api.SyncStream(cpu0, s1, s2)
	api.LaunchHostFunc(cpu0, s2, func() error {
		sawS1Done.Store(s1Done.Load())
		return nil
	})
	close(release)
	api.WaitDevice(cpu0)
	assert.True(t, sawS1Done.Load())
}

func TestFatalPaths(t *testing.T) {
	api := New()
	gpu := device.Make(device.CUDA, 0)
	require.Panics(t, func() { api.CreateStream(gpu) })
	require.Panics(t, func() { api.WaitStream(cpu0, nil) })
	require.Panics(t, func() { api.WaitStream(cpu0, "not a stream") })

	stream := api.CreateStream(cpu0)
	api.LaunchHostFunc(cpu0, stream, func() error { return errors.New("kernel failed") })
	require.Panics(t, func() { api.WaitStream(cpu0, stream) })
	// The error was reported, the stream is usable again.
	api.WaitStream(cpu0, stream)

	api.FreeStream(cpu0, stream)
	require.Panics(t, func() { api.LaunchHostFunc(cpu0, stream, func() error { return nil }) })
}

func TestRegistry(t *testing.T) {
	registry := deviceapi.NewRegistry()
	api := registry.Get(device.CPU)
	assert.Same(t, api, registry.ForDevice(cpu0))
	assert.Equal(t, device.CPU, api.Kind())
	require.Panics(t, func() { registry.Get(device.Metal) })
	require.Panics(t, func() { registry.Get(device.KindInvalid) })
}
