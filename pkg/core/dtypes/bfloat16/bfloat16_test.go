package bfloat16

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversions(t *testing.T) {
	for _, v := range []float32{0, 1, -2, 0.5, 1024} {
		assert.Equal(t, v, FromFloat32(v).Float32())
	}
	// 1 + 2^-8 lies exactly between two bfloat16 values: ties go to the even one (1.0).
	assert.Equal(t, float32(1), FromFloat32(1+1.0/256).Float32())
	// Slightly above the tie rounds up.
	assert.Equal(t, float32(1+1.0/128), FromFloat32(1+1.0/256+1.0/4096).Float32())
	assert.True(t, math.IsNaN(float64(FromFloat32(float32(math.NaN())).Float32())))
	assert.Equal(t, "1.5", FromFloat64(1.5).String())
}
