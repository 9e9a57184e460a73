// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package distributed holds the Context of a distributed job: the identity of the local process,
// the devices of all ranks and the data-parallel settings shared by the passes and operators.
package distributed

import (
	"fmt"
	"strings"

	"github.com/gomlx/shardrt/pkg/core/device"
	"github.com/gomlx/shardrt/pkg/distributed/communicator"
)

// Default iterations profiled to choose the data-parallel schedule automatically.
const (
	DefaultAutoDPProfilingStartIter = 2
	DefaultAutoDPProfilingEndIter   = 4
)

// Context of a distributed job, as seen by the local rank.
//
// It is created from a Communicator with NewContext. The settings fields can be changed by the user
// before compiling a program.
type Context struct {
	RootRank, Rank, Size, LocalRank, LocalSize int

	// DistDevices has one device per rank. Rank i uses device i of the kind used by the communicator.
	DistDevices []device.Device
	LocalDevice device.Device

	EnableDataParallel bool
	ZeroOptLevel       int

	AutoDPProfilingStartIter int
	AutoDPProfilingEndIter   int

	SchedulingParam int
	Iteration       int
}

// DeviceKindFor returns the kind of device the communicator's collectives operate on: CUDA for "nccl",
// CPU for anything else.
func DeviceKindFor(comm communicator.Communicator) device.Kind {
	if strings.EqualFold(comm.Type(), communicator.DefaultName) {
		return device.CUDA
	}
	return device.CPU
}

// NewContext creates the Context for the process described by comm.
func NewContext(comm communicator.Communicator) *Context {
	c := &Context{
		RootRank:                 comm.RootRank(),
		Rank:                     comm.Rank(),
		Size:                     comm.Size(),
		LocalRank:                comm.LocalRank(),
		LocalSize:                comm.LocalSize(),
		AutoDPProfilingStartIter: DefaultAutoDPProfilingStartIter,
		AutoDPProfilingEndIter:   DefaultAutoDPProfilingEndIter,
	}
	kind := DeviceKindFor(comm)
	c.DistDevices = make([]device.Device, c.Size)
	for rank := range c.Size {
		c.DistDevices[rank] = device.Make(kind, rank)
	}
	c.LocalDevice = c.DistDevices[c.Rank]
	return c
}

// IsRoot returns whether the local rank is the root rank.
func (c *Context) IsRoot() bool {
	return c.Rank == c.RootRank
}

// String implements fmt.Stringer.
func (c *Context) String() string {
	return fmt.Sprintf("DistContext(rank=%d/%d, local=%d/%d, device=%s, data_parallel=%v, zero_opt=%d)",
		c.Rank, c.Size, c.LocalRank, c.LocalSize, c.LocalDevice, c.EnableDataParallel, c.ZeroOptLevel)
}
