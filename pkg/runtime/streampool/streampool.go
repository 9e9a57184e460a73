// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package streampool caches native streams per (device, tag, index), so that operators requesting a stream
// for the same purpose share it.
//
// Streams are created lazily through the device's DeviceAPI and live until the Pools is finalized.
package streampool

import (
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/shardrt/pkg/core/device"
	"github.com/gomlx/shardrt/pkg/runtime/deviceapi"
	"k8s.io/klog/v2"
)

// Stream owns one native stream.
type Stream struct {
	dev    device.Device
	api    deviceapi.DeviceAPI
	mu     sync.Mutex
	handle deviceapi.StreamHandle
}

func newStream(dev device.Device, api deviceapi.DeviceAPI) *Stream {
	return &Stream{dev: dev, api: api, handle: api.CreateStream(dev)}
}

// Device where the stream runs.
func (s *Stream) Device() device.Device { return s.dev }

// API returns the DeviceAPI that owns the stream.
func (s *Stream) API() deviceapi.DeviceAPI { return s.api }

// Handle returns the native stream handle, or nil if the stream was closed.
func (s *Stream) Handle() deviceapi.StreamHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Wait blocks until all work enqueued on the stream completes. It panics if the stream was closed.
func (s *Stream) Wait() {
	s.api.WaitStream(s.dev, s.Handle())
}

// Close frees the native stream. It is idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return
	}
	s.api.FreeStream(s.dev, s.handle)
	s.handle = nil
}

// Pool holds the streams of one device, in a table indexed by [tag][index].
type Pool struct {
	dev   device.Device
	api   deviceapi.DeviceAPI
	mu    sync.Mutex
	slots [][]*Stream
}

// NewPool creates an empty stream pool for dev.
func NewPool(dev device.Device, api deviceapi.DeviceAPI) *Pool {
	return &Pool{dev: dev, api: api}
}

// Get returns the stream at (tag, index), creating it on first use.
func (p *Pool) Get(tag Tag, index int) *Stream {
	if tag < 0 || index < 0 {
		exceptions.Panicf("streampool: invalid stream slot (tag=%d, index=%d) for %s", tag, index, p.dev)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(tag) >= len(p.slots) {
		p.slots = append(p.slots, make([][]*Stream, int(tag)+1-len(p.slots))...)
	}
	row := p.slots[tag]
	if index >= len(row) {
		row = append(row, make([]*Stream, index+1-len(row))...)
		p.slots[tag] = row
	}
	if row[index] == nil {
		row[index] = newStream(p.dev, p.api)
		klog.V(1).Infof("streampool: created stream (%s, %d) on %s", tag, index, p.dev)
	}
	return row[index]
}

// Streams returns all streams created so far.
func (p *Pool) Streams() []*Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	var streams []*Stream
	for _, row := range p.slots {
		for _, s := range row {
			if s != nil {
				streams = append(streams, s)
			}
		}
	}
	return streams
}

// Close closes all streams of the pool and empties it.
func (p *Pool) Close() {
	p.mu.Lock()
	slots := p.slots
	p.slots = nil
	p.mu.Unlock()
	for _, row := range slots {
		for _, s := range row {
			if s != nil {
				s.Close()
			}
		}
	}
}

// Pools is the per-device store of stream pools.
type Pools struct {
	registry *deviceapi.Registry
	tags     *TagTable
	mu       sync.Mutex
	pools    sync.Map // device.Device -> *Pool
	numPools atomic.Int32
}

// NewPools creates an empty store using registry to find each device's DeviceAPI.
func NewPools(registry *deviceapi.Registry) *Pools {
	return &Pools{registry: registry, tags: NewTagTable()}
}

// Pool returns the stream pool of dev, creating it on first use.
func (ps *Pools) Pool(dev device.Device) *Pool {
	if p, found := ps.pools.Load(dev); found {
		return p.(*Pool)
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if p, found := ps.pools.Load(dev); found {
		return p.(*Pool)
	}
	p := NewPool(dev, ps.registry.ForDevice(dev))
	ps.pools.Store(dev, p)
	ps.numPools.Add(1)
	return p
}

// Get returns the stream of dev at (tag, index), creating it on first use.
func (ps *Pools) Get(dev device.Device, tag Tag, index int) *Stream {
	return ps.Pool(dev).Get(tag, index)
}

// TagIndex interns the tag name. See TagTable.Index.
func (ps *Pools) TagIndex(name string) Tag {
	return ps.tags.Index(name)
}

// NumPools returns the number of devices with a stream pool.
func (ps *Pools) NumPools() int {
	return int(ps.numPools.Load())
}

// Finalize closes every stream of every device and empties the store.
func (ps *Pools) Finalize() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.pools.Range(func(key, value any) bool {
		value.(*Pool).Close()
		ps.pools.Delete(key)
		return true
	})
	ps.numPools.Store(0)
}
