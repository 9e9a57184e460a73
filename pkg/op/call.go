// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package op defines how operators request the resources they need (workspace memory, streams and a
// communicator) from whoever schedules them, an Executor.
//
// It is a two-phase protocol:
//
//  1. Construction: Dispatch selects the Maker registered for the operator and the device kind, which
//     builds an Env. While being built, the Env declares what it needs with RequestWorkspace, RequestStream
//     and RequestDistributed: each request is appended to an ordered list (its index is returned) along with
//     the destination that will be filled.
//  2. Binding: BindExecutor attaches the Env to an Executor, which fills every request slot in place.
//     Requests issued after binding are forwarded to the Executor immediately.
//
// Once the Env is no longer needed, Close notifies the Executor so it can reclaim the resources.
package op

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/shardrt/pkg/core/device"
	"github.com/gomlx/shardrt/pkg/core/shapes"
	"github.com/gomlx/shardrt/pkg/core/tensors"
	"github.com/gomlx/shardrt/pkg/sharding"
)

// Call is one invocation of an operator: the operator, the device where it runs, its arguments and output.
type Call struct {
	// Op is the name of the operator, e.g.: "_allreduce".
	Op string

	// Device where the operator runs.
	Device device.Device

	// Dialect, if set, is tried first by Dispatch.
	Dialect string

	// Args holds the operator specific arguments, usually a pointer to a struct defined by the operator package.
	Args any

	// Out is the output: either a *tensors.Tensor or a []*tensors.Tensor. If left nil, the Executor allocates
	// it (see OutputShaper).
	Out any

	// Sharding is the optional sharding attribute of the call.
	Sharding *sharding.OpAttrs

	elided bool
}

// Elide removes the call from execution: the operator and the output are cleared, and Dispatch will return
// a nil Env. It is used by makers when the local rank has nothing to do.
func (c *Call) Elide() {
	c.Op = ""
	c.Out = nil
	c.elided = true
}

// IsElided returns whether Elide was called.
func (c *Call) IsElided() bool { return c.elided }

// Outputs returns the output tensors of the call, whether Out holds one or many.
func (c *Call) Outputs() []*tensors.Tensor {
	switch out := c.Out.(type) {
	case nil:
		return nil
	case *tensors.Tensor:
		return []*tensors.Tensor{out}
	case []*tensors.Tensor:
		return out
	default:
		exceptions.Panicf("op %q: unsupported output type %T", c.Op, c.Out)
	}
	return nil
}

// Output returns the single output tensor of the call. It panics if Out is not a *tensors.Tensor.
func (c *Call) Output() *tensors.Tensor {
	out, ok := c.Out.(*tensors.Tensor)
	if !ok {
		exceptions.Panicf("op %q: expected a single output tensor, got %T", c.Op, c.Out)
	}
	return out
}

// String implements fmt.Stringer.
func (c *Call) String() string {
	if c.elided {
		return "Call(elided)"
	}
	return fmt.Sprintf("Call(%s on %s)", c.Op, c.Device)
}

// OutputShaper is implemented by Envs that can tell the shapes of their outputs, so the Executor can
// allocate them before Execute.
//
// If it returns exactly one shape, Call.Out is set to a *tensors.Tensor, otherwise to a []*tensors.Tensor.
type OutputShaper interface {
	OutputShapes(call *Call) []shapes.Shape
}
