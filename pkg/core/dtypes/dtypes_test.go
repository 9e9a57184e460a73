package dtypes

import (
	"reflect"
	"testing"

	"github.com/gomlx/shardrt/pkg/core/dtypes/bfloat16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestSize(t *testing.T) {
	assert.Equal(t, 1, Bool.Size())
	assert.Equal(t, 2, Float16.Size())
	assert.Equal(t, 2, BFloat16.Size())
	assert.Equal(t, 4, Float32.Size())
	assert.Equal(t, 8, Uint64.Size())
	assert.Equal(t, 0, InvalidDType.Size())
	assert.Equal(t, 4*3*8, Float64.SizeForDimensions(4, 3))
	assert.Equal(t, 4, Int32.SizeForDimensions())
	assert.Panics(t, func() { _ = Int32.SizeForDimensions(-1) })
}

func TestGoTypes(t *testing.T) {
	assert.Equal(t, Float16, FromGenericsType[float16.Float16]())
	assert.Equal(t, BFloat16, FromGenericsType[bfloat16.BFloat16]())
	assert.Equal(t, Int8, FromGenericsType[int8]())
	assert.Equal(t, InvalidDType, FromGoType(reflect.TypeOf("")))
	for dtype := range dtypeNames {
		if dtype == InvalidDType {
			continue
		}
		assert.Equal(t, dtype, FromGoType(dtype.GoType()), "dtype %s", dtype)
		assert.Equal(t, dtype.Size(), int(dtype.GoType().Size()), "dtype %s", dtype)
	}
}

func TestParse(t *testing.T) {
	dtype, err := Parse("float32")
	require.NoError(t, err)
	assert.Equal(t, Float32, dtype)
	_, err = Parse("complex64")
	assert.Error(t, err)
	assert.Equal(t, "DType(77)", DType(77).String())
}
