// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package communicator

import (
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
)

// Constructor creates a Communicator for the process described by connector.
// The config string is implementation specific (it comes after the ":" in SHARDRT_COMMUNICATOR).
type Constructor func(connector Connector, config string) (Communicator, error)

var (
	constructorsMu sync.Mutex
	constructors   = make(map[string]Constructor)
)

// Register a Communicator implementation under name. It should be called at start time, typically in
// the package init of the implementation.
func Register(name string, constructor Constructor) {
	if name == "" || strings.Contains(name, ":") {
		exceptions.Panicf("communicator.Register: invalid name %q", name)
	}
	constructorsMu.Lock()
	defer constructorsMu.Unlock()
	constructors[name] = constructor
}

// IsRegistered returns whether an implementation is registered under name.
func IsRegistered(name string) bool {
	constructorsMu.Lock()
	defer constructorsMu.Unlock()
	_, found := constructors[name]
	return found
}

func lookup(name string) Constructor {
	constructorsMu.Lock()
	defer constructorsMu.Unlock()
	return constructors[name]
}

// List returns the sorted names of the registered implementations.
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

const (
	// DefaultName is the preferred implementation when none is configured.
	DefaultName = "nccl"

	// VoidName is the implementation used when the preferred one is not registered.
	VoidName = "void"

	// EnvVar configures the preferred implementation and its config, in the format "<name>[:<config>]".
	EnvVar = "SHARDRT_COMMUNICATOR"
)

// DefaultConfig is used when EnvVar is not set. Same format as EnvVar. If empty, DefaultName is preferred.
var DefaultConfig = ""

// splitConfig splits "<name>[:<config>]".
func splitConfig(config string) (name, backendConfig string) {
	name, backendConfig, _ = strings.Cut(config, ":")
	return strings.TrimSpace(name), backendConfig
}

// Preferred returns the preferred implementation name and its config, from EnvVar, DefaultConfig
// or DefaultName, in this order.
func Preferred() (name, config string) {
	spec := os.Getenv(EnvVar)
	if spec == "" {
		spec = DefaultConfig
	}
	name, config = splitConfig(spec)
	if name == "" {
		name = DefaultName
	}
	return
}
