// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package memorypool

import (
	"github.com/gomlx/shardrt/pkg/core/device"
	"github.com/gomlx/shardrt/pkg/runtime/deviceapi"
)

func init() {
	Register(NoPoolName, func(dev device.Device, api deviceapi.DeviceAPI) (MemoryPool, error) {
		return NewNoPool(dev, api), nil
	})
}

// NoPool forwards each allocation to the DeviceAPI and frees it on Memory.Free.
type NoPool struct {
	dev device.Device
	api deviceapi.DeviceAPI
}

var _ MemoryPool = (*NoPool)(nil)

// NewNoPool creates a NoPool for dev.
func NewNoPool(dev device.Device, api deviceapi.DeviceAPI) *NoPool {
	if dev.Kind != device.CPU {
		api.SetDevice(dev.ID)
	}
	return &NoPool{dev: dev, api: api}
}

// Device implements MemoryPool.
func (p *NoPool) Device() device.Device { return p.dev }

// AllocBytes implements MemoryPool.
func (p *NoPool) AllocBytes(nbytes int64) int64 { return nbytes }

// Alloc implements MemoryPool.
func (p *NoPool) Alloc(nbytes, alignment int64) *Memory {
	checkNBytes(nbytes)
	if nbytes == 0 {
		return NewMemory(p.dev, nil, 0, nil)
	}
	data := p.api.AllocMemory(nbytes, alignment)
	return NewMemory(p.dev, data, nbytes, func() { p.api.FreeMemory(data) })
}

// AllocBatch implements MemoryPool.
func (p *NoPool) AllocBatch(nbytes []int64, alignment int64) []*Memory {
	memories := make([]*Memory, 0, len(nbytes))
	for _, n := range nbytes {
		memories = append(memories, p.Alloc(n, alignment))
	}
	return memories
}

// PoolSize implements MemoryPool.
func (p *NoPool) PoolSize() (used, reserved int64) {
	return p.api.PoolSize()
}
