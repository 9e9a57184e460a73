package xsync

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDynamicWaitGroup(t *testing.T) {
	wg := NewDynamicWaitGroup()
	wg.Wait() // Returns immediately.

	var finished atomic.Int32
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Adds more work while the main goroutine is waiting.
		wg.Add(1)
		go func() {
			time.Sleep(10 * time.Millisecond)
			finished.Add(1)
			wg.Done()
		}()
		finished.Add(1)
	}()
	wg.Wait()
	assert.Equal(t, int32(2), finished.Load())
	assert.Equal(t, int64(0), wg.Count())
	require.Panics(t, func() { wg.Done() })
}
