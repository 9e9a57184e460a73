// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package communicator

import (
	"unsafe"

	"github.com/gomlx/shardrt/pkg/core/dtypes"
	"github.com/gomlx/shardrt/pkg/core/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// reduceNumbers accumulates src into dst.
func reduceNumbers[T constraints.Integer | constraints.Float](dst, src []T, op ReduceOp) {
	switch op {
	case Sum:
		for i, v := range src {
			dst[i] += v
		}
	case Prod:
		for i, v := range src {
			dst[i] *= v
		}
	case Min:
		for i, v := range src {
			dst[i] = min(dst[i], v)
		}
	case Max:
		for i, v := range src {
			dst[i] = max(dst[i], v)
		}
	}
}

// reduceHalf accumulates half precision values going through float32.
func reduceHalf[T float16.Float16 | bfloat16.BFloat16](dst, src []T, op ReduceOp,
	toFloat32 func(T) float32, fromFloat32 func(float32) T) {
	for i, v := range src {
		a, b := toFloat32(dst[i]), toFloat32(v)
		var r float32
		switch op {
		case Sum:
			r = a + b
		case Prod:
			r = a * b
		case Min:
			r = min(a, b)
		case Max:
			r = max(a, b)
		}
		dst[i] = fromFloat32(r)
	}
}

// reduceBools treats Sum/Max as "or" and Prod/Min as "and".
func reduceBools(dst, src []bool, op ReduceOp) {
	for i, v := range src {
		if op == Sum || op == Max {
			dst[i] = dst[i] || v
		} else {
			dst[i] = dst[i] && v
		}
	}
}

func asSlice[T any](data []byte) []T {
	var zero T
	n := len(data) / int(unsafe.Sizeof(zero))
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(data))), n)
}

// checkReduceArgs validates dtype and op.
func checkReduceArgs(dtype dtypes.DType, op ReduceOp) error {
	if !dtype.IsSupported() {
		return errors.Errorf("collective not supported for dtype %s", dtype)
	}
	if op < Sum || op > Max {
		return errors.Errorf("unknown reduce operation %s", op)
	}
	return nil
}

// ReduceBytes accumulates src into dst (dst = dst op src), both holding elements of dtype.
func ReduceBytes(dst, src []byte, dtype dtypes.DType, op ReduceOp) error {
	if err := checkReduceArgs(dtype, op); err != nil {
		return err
	}
	if len(dst) != len(src) {
		return errors.Errorf("ReduceBytes: buffers of different sizes (%d and %d bytes)", len(dst), len(src))
	}
	switch dtype {
	case dtypes.Bool:
		reduceBools(asSlice[bool](dst), asSlice[bool](src), op)
	case dtypes.Int8:
		reduceNumbers(asSlice[int8](dst), asSlice[int8](src), op)
	case dtypes.Int16:
		reduceNumbers(asSlice[int16](dst), asSlice[int16](src), op)
	case dtypes.Int32:
		reduceNumbers(asSlice[int32](dst), asSlice[int32](src), op)
	case dtypes.Int64:
		reduceNumbers(asSlice[int64](dst), asSlice[int64](src), op)
	case dtypes.Uint8:
		reduceNumbers(asSlice[uint8](dst), asSlice[uint8](src), op)
	case dtypes.Uint16:
		reduceNumbers(asSlice[uint16](dst), asSlice[uint16](src), op)
	case dtypes.Uint32:
		reduceNumbers(asSlice[uint32](dst), asSlice[uint32](src), op)
	case dtypes.Uint64:
		reduceNumbers(asSlice[uint64](dst), asSlice[uint64](src), op)
	case dtypes.Float32:
		reduceNumbers(asSlice[float32](dst), asSlice[float32](src), op)
	case dtypes.Float64:
		reduceNumbers(asSlice[float64](dst), asSlice[float64](src), op)
	case dtypes.Float16:
		reduceHalf(asSlice[float16.Float16](dst), asSlice[float16.Float16](src), op,
			float16.Float16.Float32, float16.Fromfloat32)
	case dtypes.BFloat16:
		reduceHalf(asSlice[bfloat16.BFloat16](dst), asSlice[bfloat16.BFloat16](src), op,
			bfloat16.BFloat16.Float32, bfloat16.FromFloat32)
	}
	return nil
}
