package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNonPositiveFields(t *testing.T) {
	_, err := New(Config{ExecutorCount: 0, QueueCapacity: 1})
	assert.Error(t, err)

	_, err = New(Config{ExecutorCount: 1, QueueCapacity: 0})
	assert.Error(t, err)
}

func TestAllSubmittedTasksRunExactlyOnce(t *testing.T) {
	p, err := New(Config{ExecutorCount: 4, QueueCapacity: 16})
	require.NoError(t, err)

	var count int64
	var wg sync.WaitGroup
	const n = 100
	wg.Add(n)
	for i := 0; i < n; i++ {
		p.Submit(func() {
			atomic.AddInt64(&count, 1)
			wg.Done()
		})
	}
	wg.Wait()

	assert.Equal(t, int64(n), atomic.LoadInt64(&count))
	p.Shutdown(time.Second)
}

// TestPoolBackpressure mirrors scenario E5: a single executor, a queue
// capacity of 2, and five tasks that each sleep 100ms submitted from one
// goroutine. Total wall time must be at least 500ms and every task must
// run exactly once.
func TestPoolBackpressure(t *testing.T) {
	p, err := New(Config{ExecutorCount: 1, QueueCapacity: 2})
	require.NoError(t, err)

	var ran int64
	var wg sync.WaitGroup
	wg.Add(5)
	start := time.Now()
	for i := 0; i < 5; i++ {
		p.Submit(func() {
			defer wg.Done()
			time.Sleep(100 * time.Millisecond)
			atomic.AddInt64(&ran, 1)
		})
	}
	// Shutdown drops tasks still queued, so wait for all five to run first.
	wg.Wait()
	p.Shutdown(5 * time.Second)

	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, int64(5), atomic.LoadInt64(&ran))
}

// TestShutdownWithPendingWork mirrors scenario E6: shutdown must return
// within a bounded grace period and not leak goroutines, whether or not
// every in-flight task completed first.
func TestShutdownWithPendingWork(t *testing.T) {
	p, err := New(Config{ExecutorCount: 2, QueueCapacity: 8})
	require.NoError(t, err)

	started := make(chan struct{}, 4)
	for i := 0; i < 4; i++ {
		p.Submit(func() {
			started <- struct{}{}
			time.Sleep(50 * time.Millisecond)
		})
	}

	done := make(chan struct{})
	go func() {
		p.Shutdown(2 * time.Second)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown did not return within grace period")
	}
}

func TestSubmitIsNoOpAfterShutdown(t *testing.T) {
	p, err := New(Config{ExecutorCount: 1, QueueCapacity: 1})
	require.NoError(t, err)

	p.Shutdown(time.Second)

	done := make(chan struct{})
	go func() {
		p.Submit(func() {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked forever after shutdown")
	}
}

func TestTrySubmitReturnsErrWhenFull(t *testing.T) {
	p, err := New(Config{ExecutorCount: 1, QueueCapacity: 1})
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	block := make(chan struct{})
	p.Submit(func() { <-block })

	err = p.TrySubmit(func() {})
	assert.ErrorIs(t, err, ErrQueueFull)

	close(block)
}

func TestStatsReflectActivity(t *testing.T) {
	p, err := New(Config{ExecutorCount: 2, QueueCapacity: 4})
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		p.Submit(func() { wg.Done() })
	}
	wg.Wait()
	time.Sleep(10 * time.Millisecond)

	stats := p.Stats()
	assert.Equal(t, 2, stats.ExecutorCount)
	assert.Equal(t, 4, stats.QueueCapacity)
	assert.Equal(t, int64(3), stats.Submitted)
	assert.Equal(t, int64(3), stats.Completed)
}

func TestTaskPanicDoesNotKillExecutor(t *testing.T) {
	p, err := New(Config{ExecutorCount: 1, QueueCapacity: 4})
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	p.Submit(func() { panic("boom") })

	var ran int64
	done := make(chan struct{})
	p.Submit(func() {
		atomic.AddInt64(&ran, 1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("executor did not survive a panicking task")
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&ran))
}
