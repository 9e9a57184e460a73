// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package runtime bundles the per-process resources used to execute operators: the DeviceAPI registry,
// the stream and memory pools, the communicator and the memory profiler.
//
// A Runtime is an explicit context object: tests (and simulated ranks) can create as many as they need.
package runtime

import (
	"sync"

	"github.com/gomlx/shardrt/pkg/distributed"
	"github.com/gomlx/shardrt/pkg/distributed/communicator"
	"github.com/gomlx/shardrt/pkg/runtime/deviceapi"
	"github.com/gomlx/shardrt/pkg/runtime/memorypool"
	"github.com/gomlx/shardrt/pkg/runtime/memprofiler"
	"github.com/gomlx/shardrt/pkg/runtime/streampool"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Runtime holds the resources of one process.
type Runtime struct {
	Devices       *deviceapi.Registry
	Streams       *streampool.Pools
	Memory        *memorypool.Pools
	Communicators *communicator.Manager
	Profiler      *memprofiler.Profiler

	distMu sync.Mutex
	dist   *distributed.Context
}

type config struct {
	memoryPool string
	commOpts   []communicator.Option
}

// Option configures a Runtime.
type Option func(c *config)

// WithMemoryPool selects the memory pool implementation by name. The default is memorypool.DefaultName().
func WithMemoryPool(name string) Option {
	return func(c *config) {
		c.memoryPool = name
	}
}

// WithConnector sets the source of the process identity used by the communicator.
func WithConnector(connector communicator.Connector) Option {
	return func(c *config) {
		c.commOpts = append(c.commOpts, communicator.WithConnector(connector))
	}
}

// WithCommunicator sets the preferred communicator, in the format "<name>[:<config>]".
func WithCommunicator(spec string) Option {
	return func(c *config) {
		c.commOpts = append(c.commOpts, communicator.WithPreferred(spec))
	}
}

// New creates a Runtime. Resources are created lazily, on first use.
func New(options ...Option) (*Runtime, error) {
	var cfg config
	for _, option := range options {
		option(&cfg)
	}
	rt := &Runtime{Devices: deviceapi.NewRegistry()}
	var err error
	rt.Memory, err = memorypool.NewPools(rt.Devices, cfg.memoryPool)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create runtime")
	}
	rt.Streams = streampool.NewPools(rt.Devices)
	rt.Communicators = communicator.NewManager(cfg.commOpts...)
	rt.Profiler = memprofiler.New(rt.Memory)
	klog.V(1).Infof("runtime: created with memory pool %q", rt.Memory.Name())
	return rt, nil
}

// DistContext returns the Context of the distributed job, built from the communicator on first use.
func (rt *Runtime) DistContext() *distributed.Context {
	rt.distMu.Lock()
	defer rt.distMu.Unlock()
	if rt.dist == nil {
		rt.dist = distributed.NewContext(rt.Communicators.GetCommunicator())
	}
	return rt.dist
}

// Finalize closes every stream and removes the communicator. Memory still allocated is not released:
// it belongs to whoever allocated it.
func (rt *Runtime) Finalize() {
	rt.Streams.Finalize()
	rt.Communicators.Remove()
	rt.distMu.Lock()
	rt.dist = nil
	rt.distMu.Unlock()
	klog.V(1).Infof("runtime: finalized")
}
