package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := Make[int](10)
	assert.Empty(t, s)
	s.Insert(3, 1, 2)
	assert.True(t, s.Has(1))
	assert.False(t, s.Has(4))
	assert.Equal(t, []int{1, 2, 3}, Sorted(s))

	s2 := MakeWith(2, 5)
	assert.Equal(t, []int{1, 3}, Sorted(s.Sub(s2)))
	assert.False(t, s.Equal(s2))
	s.Delete(1, 3)
	s2.Delete(5)
	assert.True(t, s.Equal(s2))
}
