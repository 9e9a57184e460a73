// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package device identifies accelerator devices by kind and ordinal.
//
// A Device carries no behavior: it is only used as a key to select the DeviceAPI implementation
// (see package deviceapi) and the per-device resource caches (streams, memory pools).
package device

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Kind enumerates the device families supported by the runtime.
type Kind int

const (
	KindInvalid Kind = iota
	CPU
	CUDA
	ROCm
	Metal

	// NumKinds is the number of kinds, including KindInvalid. It can be used to size per-kind tables.
	NumKinds
)

var kindNames = [NumKinds]string{
	KindInvalid: "invalid",
	CPU:         "cpu",
	CUDA:        "cuda",
	ROCm:        "rocm",
	Metal:       "metal",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || k >= NumKinds {
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
	return kindNames[k]
}

// IsValid returns whether k is one of the known kinds, other than KindInvalid.
func (k Kind) IsValid() bool {
	return k > KindInvalid && k < NumKinds
}

// ParseKind converts a name (case-insensitive) to a Kind. "gpu" is accepted as an alias to CUDA.
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "gpu" {
		return CUDA, nil
	}
	for k := CPU; k < NumKinds; k++ {
		if kindNames[k] == name {
			return k, nil
		}
	}
	return KindInvalid, errors.Errorf("unknown device kind %q", name)
}

// Device identifies one device: its kind and its ordinal among the devices of that kind on the host.
//
// It is a comparable value and can be used as a map key.
type Device struct {
	Kind Kind
	ID   int
}

// Make returns the Device for the given kind and id.
func Make(kind Kind, id int) Device {
	return Device{Kind: kind, ID: id}
}

// String implements fmt.Stringer. E.g.: "cuda(1)".
func (d Device) String() string {
	return fmt.Sprintf("%s(%d)", d.Kind, d.ID)
}

// IsValid returns whether the device has a valid kind and a non-negative id.
func (d Device) IsValid() bool {
	return d.Kind.IsValid() && d.ID >= 0
}

// Parse converts a string in the format returned by Device.String back to a Device.
// A bare kind name ("cpu") is parsed as the device with id 0.
func Parse(s string) (Device, error) {
	s = strings.TrimSpace(s)
	name, rest, hasID := strings.Cut(s, "(")
	kind, err := ParseKind(name)
	if err != nil {
		return Device{}, errors.WithMessagef(err, "parsing device %q", s)
	}
	if !hasID {
		return Make(kind, 0), nil
	}
	idStr, ok := strings.CutSuffix(rest, ")")
	if !ok {
		return Device{}, errors.Errorf("parsing device %q: missing closing parenthesis", s)
	}
	id, err := strconv.Atoi(idStr)
	if err != nil || id < 0 {
		return Device{}, errors.Errorf("parsing device %q: invalid device id %q", s, idStr)
	}
	return Make(kind, id), nil
}
