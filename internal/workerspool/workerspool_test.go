package workerspool

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_WaitToStart(t *testing.T) {
	const maxParallelism = 3
	pool := New(maxParallelism)
	require.True(t, pool.IsEnabled())

	var running, peak atomic.Int32
	release := make(chan struct{})
	var wg sync.WaitGroup
	numTasks := 10
	wg.Add(numTasks)
	go func() {
		for range numTasks {
			pool.WaitToStart(func() {
				defer wg.Done()
				current := running.Add(1)
				for {
					old := peak.Load()
					if current <= old || peak.CompareAndSwap(old, current) {
						break
					}
				}
				<-release
				running.Add(-1)
			})
		}
	}()
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, int(peak.Load()), maxParallelism)
	assert.Equal(t, int32(0), running.Load())
}

func TestPool_StartIfAvailable(t *testing.T) {
	pool := New(1)
	block := make(chan struct{})
	done := make(chan struct{})
	require.True(t, pool.StartIfAvailable(func() {
		<-block
		close(done)
	}))
	assert.False(t, pool.StartIfAvailable(func() {}))
	close(block)
	<-done
}

func TestPool_Disabled(t *testing.T) {
	pool := New(0)
	assert.False(t, pool.IsEnabled())
	ran := false
	pool.WaitToStart(func() { ran = true })
	assert.True(t, ran, "task should run inline")
	assert.False(t, pool.StartIfAvailable(func() {}))

	assert.Positive(t, New(-1).MaxParallelism())
}
