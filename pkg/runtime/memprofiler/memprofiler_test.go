package memprofiler

import (
	"testing"

	"github.com/gomlx/shardrt/pkg/core/device"
	"github.com/gomlx/shardrt/pkg/runtime/deviceapi"
	_ "github.com/gomlx/shardrt/pkg/runtime/deviceapi/cpu"
	"github.com/gomlx/shardrt/pkg/runtime/memorypool"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
)

func TestProfiler(t *testing.T) {
	cpu0 := device.Make(device.CPU, 0)
	pools := must.M1(memorypool.NewPools(deviceapi.NewRegistry(), memorypool.NoPoolName))
	p := New(pools)

	p.Record(cpu0, "ignored")
	assert.Equal(t, MaxInfo{}, p.MaxMemoryInfo(cpu0))

	p.SetProfiling(true)
	assert.True(t, p.IsProfiling())
	p.Record(cpu0, "start")
	m1 := pools.Alloc(cpu0, 2048, 64)
	p.Record(cpu0, "alloc m1")
	m2 := pools.Alloc(cpu0, 1024, 64)
	p.Record(cpu0, "alloc m2")
	m1.Free()
	p.Record(cpu0, "free m1")
	m2.Free()

	info := p.MaxMemoryInfo(cpu0)
	assert.Equal(t, int64(3072), info.MaxUsed)
	assert.GreaterOrEqual(t, info.MaxReserved, info.MaxUsed)
	assert.Equal(t, 2, info.PeakTraceIdx)
	assert.Equal(t, 4, info.NumTraces)

	trace := p.Trace(cpu0)
	assert.Contains(t, trace, "alloc m2")
	assert.Contains(t, trace, "3.0 KiB")

	p.Reset()
	assert.Equal(t, MaxInfo{}, p.MaxMemoryInfo(cpu0))
	assert.Contains(t, p.Trace(cpu0), "0 samples")
}
