// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package op

import (
	"cmp"
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/shardrt/pkg/core/device"
	"github.com/gomlx/shardrt/pkg/support/xslices"
	"k8s.io/klog/v2"
)

// Maker builds the Env for call. It returns nil if it can't handle the call, in which case Dispatch tries the
// next maker. A Maker may also elide the call (see Call.Elide).
type Maker func(call *Call) Env

type makerEntry struct {
	dialect  string
	priority int
	maker    Maker
}

type makerKey struct {
	op   string
	kind device.Kind
}

var (
	makersMu sync.RWMutex
	makers   = make(map[makerKey][]makerEntry)
)

// RegisterMaker registers maker for the operator op on devices of the given kind, under the name of its
// dialect. Makers with higher priority are tried first by Dispatch.
//
// It should be called during initialization (in package init functions). Registering the same dialect
// twice for the same op and kind panics.
func RegisterMaker(op string, kind device.Kind, dialect string, priority int, maker Maker) {
	makersMu.Lock()
	defer makersMu.Unlock()
	key := makerKey{op, kind}
	entries := makers[key]
	if slices.ContainsFunc(entries, func(e makerEntry) bool { return e.dialect == dialect }) {
		exceptions.Panicf("op.RegisterMaker: dialect %q already registered for op %q on %s", dialect, op, kind)
	}
	entries = append(entries, makerEntry{dialect: dialect, priority: priority, maker: maker})
	slices.SortStableFunc(entries, func(a, b makerEntry) int { return cmp.Compare(b.priority, a.priority) })
	makers[key] = entries
}

// Dialects returns the dialects registered for op on devices of the given kind, in the order Dispatch tries them.
func Dialects(op string, kind device.Kind) []string {
	makersMu.RLock()
	defer makersMu.RUnlock()
	return xslices.Map(makers[makerKey{op, kind}], func(e makerEntry) string { return e.dialect })
}

// Dispatch returns the Env built for call by the first registered maker that accepts it: call.Dialect first,
// if set, then the others in descending priority.
//
// It returns nil if the call is (or gets) elided. It panics if no maker accepts the call.
func Dispatch(call *Call) Env {
	if call.IsElided() {
		return nil
	}
	makersMu.RLock()
	entries := slices.Clone(makers[makerKey{call.Op, call.Device.Kind}])
	makersMu.RUnlock()
	if call.Dialect != "" {
		idx := slices.IndexFunc(entries, func(e makerEntry) bool { return e.dialect == call.Dialect })
		if idx > 0 {
			preferred := entries[idx]
			entries = slices.Insert(slices.Delete(entries, idx, idx+1), 0, preferred)
		}
	}
	op := call.Op
	for _, e := range entries {
		env := e.maker(call)
		if call.IsElided() {
			klog.V(2).Infof("op: %q on %s elided by dialect %q", op, call.Device, e.dialect)
			return nil
		}
		if env != nil {
			klog.V(2).Infof("op: dispatched %q on %s to dialect %q", op, call.Device, e.dialect)
			return env
		}
	}
	exceptions.Panicf("cannot find a valid dispatch for op %q on %s, registered dialects: %q",
		op, call.Device, Dialects(op, call.Device.Kind))
	return nil
}
