// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cpu implements a deviceapi.DeviceAPI for the host: memory is Go memory, streams are goroutines
// executing their tasks in FIFO order and events are channels closed when the recorded work completes.
//
// It registers itself for device.CPU on import:
//
//	import _ "github.com/gomlx/shardrt/pkg/runtime/deviceapi/cpu"
package cpu

import (
	"sync"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/shardrt/pkg/core/device"
	"github.com/gomlx/shardrt/pkg/runtime/deviceapi"
	"github.com/gomlx/shardrt/pkg/support/xsync"
	"k8s.io/klog/v2"
)

func init() {
	deviceapi.Register(device.CPU, func() (deviceapi.DeviceAPI, error) { return New(), nil })
}

// API is the host implementation of deviceapi.DeviceAPI.
type API struct {
	mu          sync.Mutex
	allocations map[unsafe.Pointer]allocation
	used        int64
	reserved    int64
	devices     map[int]*xsync.DynamicWaitGroup

	// currentDevice is the last id given to SetDevice. It has no effect on the host.
	currentDevice int
}

type allocation struct {
	buf    []byte
	nbytes int64
}

var _ deviceapi.DeviceAPI = (*API)(nil)

// New creates a new host DeviceAPI. Normally one uses deviceapi.Registry.Get(device.CPU) instead.
func New() *API {
	return &API{
		allocations: make(map[unsafe.Pointer]allocation),
		devices:     make(map[int]*xsync.DynamicWaitGroup),
	}
}

// Kind implements deviceapi.DeviceAPI.
func (api *API) Kind() device.Kind { return device.CPU }

// inflight returns the wait group counting the enqueued tasks of the device.
func (api *API) inflight(dev device.Device) *xsync.DynamicWaitGroup {
	deviceapi.CheckKind(device.CPU, dev)
	api.mu.Lock()
	defer api.mu.Unlock()
	wg, found := api.devices[dev.ID]
	if !found {
		wg = xsync.NewDynamicWaitGroup()
		api.devices[dev.ID] = wg
	}
	return wg
}

// AllocMemory implements deviceapi.DeviceAPI.
func (api *API) AllocMemory(nbytes, alignment int64) unsafe.Pointer {
	deviceapi.CheckAlignment(alignment)
	if nbytes < 0 {
		exceptions.Panicf("cpu.AllocMemory: negative number of bytes %d", nbytes)
	}
	if nbytes == 0 {
		return nil
	}
	buf := make([]byte, nbytes+alignment-1)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	offset := uintptr(deviceapi.AlignUp(int64(base), alignment)) - base
	ptr := unsafe.Pointer(&buf[offset])

	api.mu.Lock()
	defer api.mu.Unlock()
	api.allocations[ptr] = allocation{buf: buf, nbytes: nbytes}
	api.used += nbytes
	api.reserved += int64(len(buf))
	return ptr
}

// AllocMemoryAsync implements deviceapi.DeviceAPI. Host memory is available immediately, so it allocates
// synchronously.
func (api *API) AllocMemoryAsync(nbytes int64, _ deviceapi.StreamHandle, alignment int64) unsafe.Pointer {
	return api.AllocMemory(nbytes, alignment)
}

// FreeMemory implements deviceapi.DeviceAPI.
func (api *API) FreeMemory(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	alloc, found := api.allocations[ptr]
	if !found {
		exceptions.Panicf("cpu.FreeMemory(%p): pointer not allocated by this DeviceAPI (or already freed)", ptr)
	}
	delete(api.allocations, ptr)
	api.used -= alloc.nbytes
	api.reserved -= int64(len(alloc.buf))
}

// FreeMemoryAsync implements deviceapi.DeviceAPI.
func (api *API) FreeMemoryAsync(ptr unsafe.Pointer, stream deviceapi.StreamHandle) {
	if stream == nil {
		api.FreeMemory(ptr)
		return
	}
	s := api.stream(stream)
	s.enqueue(func() error {
		api.FreeMemory(ptr)
		return nil
	})
}

// PoolSize implements deviceapi.DeviceAPI.
func (api *API) PoolSize() (used, reserved int64) {
	api.mu.Lock()
	defer api.mu.Unlock()
	return api.used, api.reserved
}

// SetDevice implements deviceapi.DeviceAPI.
func (api *API) SetDevice(id int) {
	if id < 0 {
		exceptions.Panicf("cpu.SetDevice(%d): invalid device id", id)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	api.currentDevice = id
}

// CreateStream implements deviceapi.DeviceAPI.
func (api *API) CreateStream(dev device.Device) deviceapi.StreamHandle {
	s := newStream(dev, api.inflight(dev))
	klog.V(2).Infof("cpu: created stream %p on %s", s, dev)
	return s
}

// FreeStream implements deviceapi.DeviceAPI. Work already enqueued still runs.
func (api *API) FreeStream(dev device.Device, stream deviceapi.StreamHandle) {
	deviceapi.CheckKind(device.CPU, dev)
	api.stream(stream).close()
}

// stream converts the handle, panicking for handles not created by this API.
func (api *API) stream(stream deviceapi.StreamHandle) *hostStream {
	s, ok := stream.(*hostStream)
	if !ok || s == nil {
		exceptions.Panicf("cpu: invalid stream handle %v (%T)", stream, stream)
	}
	return s
}

// CreateEvent implements deviceapi.DeviceAPI. Flags are ignored.
func (api *API) CreateEvent(dev device.Device, _ uint32) deviceapi.EventHandle {
	deviceapi.CheckKind(device.CPU, dev)
	return &event{}
}

// FreeEvent implements deviceapi.DeviceAPI.
func (api *API) FreeEvent(dev device.Device, e deviceapi.EventHandle) {
	deviceapi.CheckKind(device.CPU, dev)
	_ = api.event(e)
}

func (api *API) event(e deviceapi.EventHandle) *event {
	ev, ok := e.(*event)
	if !ok || ev == nil {
		exceptions.Panicf("cpu: invalid event handle %v (%T)", e, e)
	}
	return ev
}

// EventRecordOnStream implements deviceapi.DeviceAPI.
func (api *API) EventRecordOnStream(dev device.Device, e deviceapi.EventHandle, stream deviceapi.StreamHandle) {
	deviceapi.CheckKind(device.CPU, dev)
	ev := api.event(e)
	done := make(chan struct{})
	ev.record(done)
	if stream == nil {
		// The null stream has no pending work.
		close(done)
		return
	}
	api.stream(stream).enqueue(func() error {
		close(done)
		return nil
	})
}

// StreamWaitEvent implements deviceapi.DeviceAPI.
func (api *API) StreamWaitEvent(dev device.Device, stream deviceapi.StreamHandle, e deviceapi.EventHandle) {
	deviceapi.CheckKind(device.CPU, dev)
	done := api.event(e).last()
	if done == nil {
		return
	}
	if stream == nil {
		<-done
		return
	}
	api.stream(stream).enqueue(func() error {
		<-done
		return nil
	})
}

// SyncStream implements deviceapi.DeviceAPI.
func (api *API) SyncStream(prevDev device.Device, prev, next deviceapi.StreamHandle) {
	e := api.CreateEvent(prevDev, 0)
	api.EventRecordOnStream(prevDev, e, prev)
	api.StreamWaitEvent(prevDev, next, e)
	api.FreeEvent(prevDev, e)
}

// WaitDevice implements deviceapi.DeviceAPI.
func (api *API) WaitDevice(dev device.Device) {
	api.inflight(dev).Wait()
}

// WaitStream implements deviceapi.DeviceAPI.
func (api *API) WaitStream(dev device.Device, stream deviceapi.StreamHandle) {
	deviceapi.CheckKind(device.CPU, dev)
	deviceapi.CheckStream(stream)
	s := api.stream(stream)
	s.wait()
	if err := s.takeError(); err != nil {
		exceptions.Panicf("cpu: asynchronous work on stream of %s failed: %+v", s.dev, err)
	}
}

// CopyAsync implements deviceapi.DeviceAPI.
func (api *API) CopyAsync(dev device.Device, dst, src unsafe.Pointer, nbytes int64, stream deviceapi.StreamHandle) {
	deviceapi.CheckKind(device.CPU, dev)
	if nbytes == 0 {
		return
	}
	copyFn := func() error {
		copy(unsafe.Slice((*byte)(dst), nbytes), unsafe.Slice((*byte)(src), nbytes))
		return nil
	}
	if stream == nil {
		_ = copyFn()
		return
	}
	api.stream(stream).enqueue(copyFn)
}

// LaunchHostFunc implements deviceapi.DeviceAPI. On the null stream fn runs immediately.
func (api *API) LaunchHostFunc(dev device.Device, stream deviceapi.StreamHandle, fn func() error) {
	deviceapi.CheckKind(device.CPU, dev)
	if stream == nil {
		if err := fn(); err != nil {
			exceptions.Panicf("cpu: host function on %s failed: %+v", dev, err)
		}
		return
	}
	api.stream(stream).enqueue(fn)
}
