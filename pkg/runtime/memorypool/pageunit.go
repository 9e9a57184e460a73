// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package memorypool

import (
	"sync"
	"unsafe"

	"github.com/gomlx/shardrt/pkg/core/device"
	"github.com/gomlx/shardrt/pkg/runtime/deviceapi"
)

// PageUnitPoolName is the name of the caching implementation.
const PageUnitPoolName = "page_unit_pool"

// PageSize is the allocation unit of the PageUnitPool.
const PageSize = 4096

func init() {
	Register(PageUnitPoolName, func(dev device.Device, api deviceapi.DeviceAPI) (MemoryPool, error) {
		return NewPageUnitPool(dev, api), nil
	})
}

// PageUnitPool rounds allocations up to a multiple of PageSize and keeps freed chunks in per-size free
// lists, to be reused by later allocations of the same number of pages. Chunks are always allocated with
// deviceapi.MaxAlignment, so any alignment request is satisfied.
type PageUnitPool struct {
	dev device.Device
	api deviceapi.DeviceAPI

	mu       sync.Mutex
	free     map[int64][]unsafe.Pointer
	used     int64
	reserved int64
}

var _ MemoryPool = (*PageUnitPool)(nil)

// NewPageUnitPool creates a PageUnitPool for dev.
func NewPageUnitPool(dev device.Device, api deviceapi.DeviceAPI) *PageUnitPool {
	if dev.Kind != device.CPU {
		api.SetDevice(dev.ID)
	}
	return &PageUnitPool{dev: dev, api: api, free: make(map[int64][]unsafe.Pointer)}
}

// Device implements MemoryPool.
func (p *PageUnitPool) Device() device.Device { return p.dev }

// AllocBytes implements MemoryPool.
func (p *PageUnitPool) AllocBytes(nbytes int64) int64 {
	return deviceapi.AlignUp(nbytes, PageSize)
}

// Alloc implements MemoryPool.
func (p *PageUnitPool) Alloc(nbytes, alignment int64) *Memory {
	checkNBytes(nbytes)
	deviceapi.CheckAlignment(alignment)
	if nbytes == 0 {
		return NewMemory(p.dev, nil, 0, nil)
	}
	chunk := p.AllocBytes(nbytes)
	p.mu.Lock()
	var data unsafe.Pointer
	if cached := p.free[chunk]; len(cached) > 0 {
		data = cached[len(cached)-1]
		p.free[chunk] = cached[:len(cached)-1]
	}
	p.used += chunk
	p.mu.Unlock()

	if data == nil {
		data = p.api.AllocMemory(chunk, deviceapi.MaxAlignment)
		p.mu.Lock()
		p.reserved += chunk
		p.mu.Unlock()
	}
	return NewMemory(p.dev, data, nbytes, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.free[chunk] = append(p.free[chunk], data)
		p.used -= chunk
	})
}

// AllocBatch implements MemoryPool.
func (p *PageUnitPool) AllocBatch(nbytes []int64, alignment int64) []*Memory {
	memories := make([]*Memory, 0, len(nbytes))
	for _, n := range nbytes {
		memories = append(memories, p.Alloc(n, alignment))
	}
	return memories
}

// PoolSize implements MemoryPool. Cached chunks count as reserved but not used.
func (p *PageUnitPool) PoolSize() (used, reserved int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used, p.reserved
}

// Trim returns all cached chunks to the device.
func (p *PageUnitPool) Trim() {
	p.mu.Lock()
	free := p.free
	p.free = make(map[int64][]unsafe.Pointer)
	for chunk, ptrs := range free {
		p.reserved -= chunk * int64(len(ptrs))
	}
	p.mu.Unlock()
	for _, ptrs := range free {
		for _, ptr := range ptrs {
			p.api.FreeMemory(ptr)
		}
	}
}
