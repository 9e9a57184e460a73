// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package deviceapi

import (
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/shardrt/pkg/core/device"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Constructor creates a new DeviceAPI for the kind it was registered for.
type Constructor func() (DeviceAPI, error)

var (
	constructorsMu sync.Mutex
	constructors   [device.NumKinds]Constructor
)

// Register a DeviceAPI constructor for the given device kind. It should be called at start time,
// typically in the package init of the implementation. Registering a kind twice replaces the
// previous constructor.
func Register(kind device.Kind, constructor Constructor) {
	if !kind.IsValid() {
		exceptions.Panicf("deviceapi.Register: invalid device kind %s", kind)
	}
	constructorsMu.Lock()
	defer constructorsMu.Unlock()
	constructors[kind] = constructor
}

// IsRegistered returns whether a DeviceAPI is registered for kind.
func IsRegistered(kind device.Kind) bool {
	if !kind.IsValid() {
		return false
	}
	constructorsMu.Lock()
	defer constructorsMu.Unlock()
	return constructors[kind] != nil
}

type apiHolder struct {
	api DeviceAPI
}

// Registry holds at most one live DeviceAPI per device kind, created on first use.
//
// It is safe for concurrent use, and the zero value is ready to use.
type Registry struct {
	mu   sync.Mutex
	apis [device.NumKinds]atomic.Pointer[apiHolder]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Get returns the DeviceAPI for kind, constructing it on first use.
// It panics if no DeviceAPI is registered for kind or if its construction fails.
func (r *Registry) Get(kind device.Kind) DeviceAPI {
	if !kind.IsValid() {
		exceptions.Panicf("no DeviceAPI for invalid device kind %s", kind)
	}
	if holder := r.apis[kind].Load(); holder != nil {
		return holder.api
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if holder := r.apis[kind].Load(); holder != nil {
		return holder.api
	}
	constructorsMu.Lock()
	constructor := constructors[kind]
	constructorsMu.Unlock()
	if constructor == nil {
		exceptions.Panicf("DeviceAPI for %s is not enabled: no implementation registered", kind)
	}
	api, err := constructor()
	if err != nil {
		panic(errors.WithMessagef(err, "failed to create DeviceAPI for %s", kind))
	}
	klog.V(1).Infof("created DeviceAPI for %s", kind)
	r.apis[kind].Store(&apiHolder{api: api})
	return api
}

// ForDevice is a shortcut to Get(dev.Kind).
func (r *Registry) ForDevice(dev device.Device) DeviceAPI {
	return r.Get(dev.Kind)
}
