// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package memorypool defines MemoryPool, the allocator of device memory used by the runtime, and keeps a
// registry of implementations selectable by name.
//
// Two implementations are included:
//
//   - "no_pool": every allocation goes straight to the DeviceAPI. It is the default.
//   - "page_unit_pool": allocations are rounded up to pages and freed chunks are cached for reuse.
//
// The implementation is selected with the SHARDRT_MEMORY_POOL environment variable, or with DefaultPool.
package memorypool

import (
	"os"
	"slices"
	"sync"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/shardrt/pkg/core/device"
	"github.com/gomlx/shardrt/pkg/runtime/deviceapi"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Memory is one allocation of device memory. Free releases it back to the pool that allocated it.
type Memory struct {
	Device device.Device
	Data   unsafe.Pointer
	NBytes int64

	once    sync.Once
	release func()
}

// NewMemory creates a Memory that calls release (if not nil) on the first call to Free.
// It is used by MemoryPool implementations.
func NewMemory(dev device.Device, data unsafe.Pointer, nbytes int64, release func()) *Memory {
	return &Memory{Device: dev, Data: data, NBytes: nbytes, release: release}
}

// Free releases the memory. It is idempotent.
func (m *Memory) Free() {
	if m == nil {
		return
	}
	m.once.Do(func() {
		if m.release != nil {
			m.release()
		}
		m.Data = nil
	})
}

// MemoryPool allocates device memory for one device.
type MemoryPool interface {
	// Device served by the pool.
	Device() device.Device

	// AllocBytes returns the number of bytes actually reserved when requesting nbytes.
	AllocBytes(nbytes int64) int64

	// Alloc allocates nbytes with the given alignment. Allocating 0 bytes returns a Memory with nil Data.
	Alloc(nbytes, alignment int64) *Memory

	// AllocBatch allocates one Memory for each requested size.
	AllocBatch(nbytes []int64, alignment int64) []*Memory

	// PoolSize returns the bytes in use and the bytes reserved from the device.
	PoolSize() (used, reserved int64)
}

// Constructor creates a MemoryPool for dev, allocating through api.
type Constructor func(dev device.Device, api deviceapi.DeviceAPI) (MemoryPool, error)

var (
	constructorsMu sync.Mutex
	constructors   = make(map[string]Constructor)
)

// Register a MemoryPool implementation under name. Typically called from a package init.
func Register(name string, constructor Constructor) {
	constructorsMu.Lock()
	defer constructorsMu.Unlock()
	constructors[name] = constructor
}

// List returns the names of the registered implementations, sorted.
func List() []string {
	constructorsMu.Lock()
	defer constructorsMu.Unlock()
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NoPoolName is the name of the implementation that forwards allocations to the DeviceAPI.
const NoPoolName = "no_pool"

// EnvVar is the environment variable selecting the memory pool implementation.
const EnvVar = "SHARDRT_MEMORY_POOL"

// DefaultPool is the implementation used when EnvVar is not set.
var DefaultPool = NoPoolName

// DefaultName returns the name of the implementation to use: EnvVar if set, DefaultPool otherwise.
func DefaultName() string {
	if name := os.Getenv(EnvVar); name != "" {
		return name
	}
	return DefaultPool
}

// Pools is the per-device store of memory pools, all of the same implementation.
type Pools struct {
	registry *deviceapi.Registry
	name     string
	mu       sync.Mutex
	pools    sync.Map // device.Device -> MemoryPool
}

// NewPools creates a store of memory pools of the implementation registered under name.
// If name is empty, DefaultName() is used.
func NewPools(registry *deviceapi.Registry, name string) (*Pools, error) {
	if name == "" {
		name = DefaultName()
	}
	constructorsMu.Lock()
	_, found := constructors[name]
	constructorsMu.Unlock()
	if !found {
		return nil, errors.Errorf("memory pool %q not registered, registered pools: %q", name, List())
	}
	return &Pools{registry: registry, name: name}, nil
}

// Name of the implementation used.
func (ps *Pools) Name() string { return ps.name }

// Pool returns the memory pool of dev, creating it on first use.
func (ps *Pools) Pool(dev device.Device) MemoryPool {
	if pool, found := ps.pools.Load(dev); found {
		return pool.(MemoryPool)
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if pool, found := ps.pools.Load(dev); found {
		return pool.(MemoryPool)
	}
	constructorsMu.Lock()
	constructor := constructors[ps.name]
	constructorsMu.Unlock()
	pool, err := constructor(dev, ps.registry.ForDevice(dev))
	if err != nil {
		panic(errors.WithMessagef(err, "failed to create memory pool %q for %s", ps.name, dev))
	}
	klog.V(1).Infof("memorypool: created %q pool for %s", ps.name, dev)
	ps.pools.Store(dev, pool)
	return pool
}

// Alloc is a shortcut to Pool(dev).Alloc(nbytes, alignment).
func (ps *Pools) Alloc(dev device.Device, nbytes, alignment int64) *Memory {
	return ps.Pool(dev).Alloc(nbytes, alignment)
}

func checkNBytes(nbytes int64) {
	if nbytes < 0 {
		exceptions.Panicf("memorypool: cannot allocate a negative number of bytes (%d)", nbytes)
	}
}
