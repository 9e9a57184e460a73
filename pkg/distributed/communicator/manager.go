// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package communicator

import (
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Manager owns the single live Communicator of a process (or of a simulated rank, in tests).
//
// GetCommunicator creates it on first use and returns the same instance afterward, also when called
// concurrently. Remove drops it.
type Manager struct {
	connector       Connector
	preferred       string
	preferredConfig string

	mu   sync.Mutex
	comm atomic.Pointer[commHolder]
}

type commHolder struct {
	comm Communicator
}

// Option configures a Manager.
type Option func(m *Manager)

// WithConnector sets the source of the process identity. The default is EnvConnector.
func WithConnector(connector Connector) Option {
	return func(m *Manager) {
		m.connector = connector
	}
}

// WithPreferred overrides the preferred implementation (and its config), normally taken from
// SHARDRT_COMMUNICATOR or DefaultConfig. The format is "<name>[:<config>]".
func WithPreferred(spec string) Option {
	return func(m *Manager) {
		m.preferred, m.preferredConfig = splitConfig(spec)
		if m.preferred == "" {
			m.preferred = DefaultName
		}
	}
}

// NewManager creates a Manager with no live communicator.
func NewManager(options ...Option) *Manager {
	m := &Manager{}
	m.preferred, m.preferredConfig = Preferred()
	for _, option := range options {
		option(m)
	}
	return m
}

// lockedConnector returns the connector, creating the default one if needed. It must be called with m.mu held.
func (m *Manager) lockedConnector() Connector {
	if m.connector == nil {
		connector, err := EnvConnector()
		if err != nil {
			panic(errors.WithMessage(err, "cannot create communicator"))
		}
		m.connector = connector
	}
	return m.connector
}

// GetCommunicator returns the live Communicator, creating it on the first call.
//
// With no name, the preferred implementation is used if registered, otherwise VoidName.
// An explicit name (at most one) must be registered (or be VoidName), and if a communicator is already live
// it must be of the same type. Any violation is fatal, as is a failure to construct the communicator.
func (m *Manager) GetCommunicator(name ...string) Communicator {
	if len(name) > 1 {
		exceptions.Panicf("GetCommunicator accepts at most one name, got %q", name)
	}
	var requested string
	if len(name) == 1 {
		requested = name[0]
	}

	// Fast path.
	if holder := m.comm.Load(); holder != nil {
		checkSameType(holder.comm, requested)
		return holder.comm
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if holder := m.comm.Load(); holder != nil {
		checkSameType(holder.comm, requested)
		return holder.comm
	}

	commName, config := requested, ""
	if requested == "" {
		commName = m.preferred
		config = m.preferredConfig
		if !IsRegistered(commName) {
			klog.V(1).Infof("communicator %q not registered, falling back to %q", commName, VoidName)
			commName, config = VoidName, ""
		}
	} else if requested == m.preferred {
		config = m.preferredConfig
	}
	constructor := lookup(commName)
	if constructor == nil {
		exceptions.Panicf("unsupported communicator %q: registered communicators are %q", commName, List())
	}
	comm, err := constructor(m.lockedConnector(), config)
	if err != nil {
		panic(errors.WithMessagef(err, "failed to create communicator %q", commName))
	}
	klog.V(1).Infof("communicator %q created: rank %d of %d", comm.Type(), comm.Rank(), comm.Size())
	m.comm.Store(&commHolder{comm: comm})
	return comm
}

func checkSameType(comm Communicator, requested string) {
	if requested != "" && requested != comm.Type() {
		exceptions.Panicf("communicator %q requested, but %q was already created: only one communicator per process is supported",
			requested, comm.Type())
	}
}

// Live returns the live communicator, or nil if none was created.
func (m *Manager) Live() Communicator {
	if holder := m.comm.Load(); holder != nil {
		return holder.comm
	}
	return nil
}

// Remove finalizes and drops the live communicator, if any. The next GetCommunicator creates a new one.
//
// It must not be called concurrently with GetCommunicator or with users of the communicator.
func (m *Manager) Remove() {
	m.mu.Lock()
	defer m.mu.Unlock()
	holder := m.comm.Swap(nil)
	if holder == nil {
		return
	}
	if err := holder.comm.Finalize(); err != nil {
		klog.Errorf("failed to finalize communicator %q: %+v", holder.comm.Type(), err)
	}
	klog.V(1).Infof("communicator %q removed", holder.comm.Type())
}
