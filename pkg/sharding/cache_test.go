package sharding

import (
	"sync"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	c := NewCache()
	a := must.M1(BuildRange(4).Split(4).Done(1))
	b := must.M1(BuildRange(4).Split(4).Done(1))
	other := must.M1(BuildRange(4).Split(4).Done(2))
	require.NotSame(t, a, b)

	assert.Same(t, a, c.Intern(a))
	assert.Same(t, a, c.Intern(b))
	assert.Same(t, other, c.Intern(other))
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 1, c.Hits())

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(other))
	assert.NotEqual(t, Fingerprint(NewReplicated(false)), Fingerprint(NewReplicated(true)))

	// Tuple elements are interned too.
	tuple := c.Intern(NewTuple(false, b, NewMirrored(false))).(*Tuple)
	assert.Same(t, a, tuple.At(0))
	assert.Same(t, tuple, c.Intern(NewTuple(false, b, NewMirrored(false))))
}

func TestCacheConcurrent(t *testing.T) {
	var c Cache
	const numWorkers = 16
	results := make([]Spec, numWorkers)
	var wg sync.WaitGroup
	for i := range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.Intern(must.M1(BuildRange(8).Axis(4, 2).Axis(2, 1).Done(3)))
		}()
	}
	wg.Wait()
	for _, spec := range results[1:] {
		assert.Same(t, results[0], spec)
	}
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, numWorkers-1, c.Hits())
}
