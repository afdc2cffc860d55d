package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsTasks(t *testing.T) {
	p := NewPool(4, 16)
	var n atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func() {
			defer wg.Done()
			n.Add(1)
		}))
	}
	wg.Wait()
	p.Close()
	assert.Equal(t, int32(100), n.Load())
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(3, 100)
	defer p.Close()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func() {
			defer wg.Done()
			cur := running.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		}))
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestTrySubmitRejectsWhenFull(t *testing.T) {
	p := NewPool(1, 1)
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, p.TrySubmit(func() {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, p.TrySubmit(func() {}))           // fills the queue slot
	assert.ErrorIs(t, p.TrySubmit(func() {}), ErrPoolFull) // no room left

	close(release)
	p.Close()
}

func TestSubmitBlocksUntilContextDone(t *testing.T) {
	p := NewPool(1, 0)
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() {
		close(started)
		<-release
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	p.Close()
}

func TestCloseDrainsQueue(t *testing.T) {
	p := NewPool(1, 10)
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(context.Background(), func() {
			time.Sleep(time.Millisecond)
			n.Add(1)
		}))
	}
	p.Close()
	assert.Equal(t, int32(10), n.Load())
	assert.ErrorIs(t, p.Submit(context.Background(), func() {}), ErrPoolClosed)
	assert.ErrorIs(t, p.TrySubmit(func() {}), ErrPoolClosed)
}

func TestSerialPreservesOrder(t *testing.T) {
	s := NewSerial("workspace", 64)
	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		require.NoError(t, s.Submit(context.Background(), func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	s.Close()
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	assert.Equal(t, "workspace", s.Name())
}

func TestPanicDoesNotKillWorker(t *testing.T) {
	p := NewPool(1, 4)
	done := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() { panic("boom") }))
	require.NoError(t, p.Submit(context.Background(), func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
	p.Close()
}
