// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes defines the element types of the tensors moved around by the runtime.
//
// The numbering follows the PJRT/XLA buffer types (as in github.com/gomlx/gomlx/pkg/core/dtypes), so a DType
// can be handed as-is to native libraries using the same convention. Only the types that collective
// operations know how to reduce are included.
package dtypes

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/gomlx/shardrt/pkg/core/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// DType enumerates the element type of a tensor.
type DType int32

const (
	InvalidDType DType = 0
	Bool         DType = 1
	Int8         DType = 2
	Int16        DType = 3
	Int32        DType = 4
	Int64        DType = 5
	Uint8        DType = 6
	Uint16       DType = 7
	Uint32       DType = 8
	Uint64       DType = 9
	Float16      DType = 10
	Float32      DType = 11
	Float64      DType = 12
	BFloat16     DType = 13
)

var dtypeNames = map[DType]string{
	InvalidDType: "InvalidDType",
	Bool:         "Bool",
	Int8:         "Int8",
	Int16:        "Int16",
	Int32:        "Int32",
	Int64:        "Int64",
	Uint8:        "Uint8",
	Uint16:       "Uint16",
	Uint32:       "Uint32",
	Uint64:       "Uint64",
	Float16:      "Float16",
	Float32:      "Float32",
	Float64:      "Float64",
	BFloat16:     "BFloat16",
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if name, found := dtypeNames[dtype]; found {
		return name
	}
	return "DType(" + strconv.Itoa(int(dtype)) + ")"
}

// Parse returns the DType for the given name (case-insensitive). E.g.: "float32".
func Parse(name string) (DType, error) {
	for dtype, dtypeName := range dtypeNames {
		if dtype != InvalidDType && strings.EqualFold(dtypeName, name) {
			return dtype, nil
		}
	}
	return InvalidDType, errors.Errorf("unknown dtype %q", name)
}

// IsSupported returns whether dtype is one of the valid dtypes.
func (dtype DType) IsSupported() bool {
	_, found := dtypeNames[dtype]
	return found && dtype != InvalidDType
}

// Size returns the number of bytes of one element of the given DType.
func (dtype DType) Size() int {
	switch dtype {
	case Bool, Int8, Uint8:
		return 1
	case Int16, Uint16, Float16, BFloat16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	}
	return 0
}

// SizeForDimensions returns the number of bytes needed to store a tensor with the given dimensions.
// A scalar (no dimensions) holds one element.
func (dtype DType) SizeForDimensions(dimensions ...int) int {
	numElements := 1
	for _, dim := range dimensions {
		if dim < 0 {
			panic(errors.Errorf("dimension cannot be negative for SizeForDimensions, got %v", dimensions))
		}
		numElements *= dim
	}
	return numElements * dtype.Size()
}

// IsFloat returns whether dtype is a floating point type (including the half precision ones).
func (dtype DType) IsFloat() bool {
	return dtype == Float16 || dtype == BFloat16 || dtype == Float32 || dtype == Float64
}

// IsInt returns whether dtype is a signed or unsigned integer type.
func (dtype DType) IsInt() bool {
	switch dtype {
	case Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64:
		return true
	}
	return false
}

var goTypes = map[DType]reflect.Type{
	Bool:     reflect.TypeOf(true),
	Int8:     reflect.TypeOf(int8(0)),
	Int16:    reflect.TypeOf(int16(0)),
	Int32:    reflect.TypeOf(int32(0)),
	Int64:    reflect.TypeOf(int64(0)),
	Uint8:    reflect.TypeOf(uint8(0)),
	Uint16:   reflect.TypeOf(uint16(0)),
	Uint32:   reflect.TypeOf(uint32(0)),
	Uint64:   reflect.TypeOf(uint64(0)),
	Float16:  reflect.TypeOf(float16.Float16(0)),
	Float32:  reflect.TypeOf(float32(0)),
	Float64:  reflect.TypeOf(float64(0)),
	BFloat16: reflect.TypeOf(bfloat16.BFloat16(0)),
}

// GoType returns the Go type used to represent one element of dtype. It returns nil for invalid dtypes.
func (dtype DType) GoType() reflect.Type {
	return goTypes[dtype]
}

// FromGoType returns the DType for the given Go type, or InvalidDType if not supported.
func FromGoType(t reflect.Type) DType {
	for dtype, goType := range goTypes {
		if goType == t {
			return dtype
		}
	}
	if t != nil && t.Kind() == reflect.Int {
		if strconv.IntSize == 32 {
			return Int32
		}
		return Int64
	}
	return InvalidDType
}

// Supported lists the Go types that can be used as tensor elements.
type Supported interface {
	bool | float16.Float16 | bfloat16.BFloat16 |
		float32 | float64 | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64
}

// FromGenericsType returns the DType for the Go type T.
func FromGenericsType[T Supported]() DType {
	var t T
	return FromGoType(reflect.TypeOf(t))
}

// Number lists the Go types over which collective reductions are computed directly. Float16 and BFloat16
// are reduced by converting through float32.
type Number interface {
	float32 | float64 | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64
}
