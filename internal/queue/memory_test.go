package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	require.NoError(t, q.Enqueue(ctx, "a"))
	require.NoError(t, q.Enqueue(ctx, "b"))

	m1, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, m1)
	assert.Equal(t, "a", m1.JobID)

	m2, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, m2)
	assert.Equal(t, "b", m2.JobID)
}

func TestMemoryQueueDequeueTimeout(t *testing.T) {
	q := NewMemoryQueue()

	start := time.Now()
	msg, err := q.Dequeue(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestMemoryQueueDequeueContextCancel(t *testing.T) {
	q := NewMemoryQueue()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	msg, err := q.Dequeue(ctx, time.Minute)
	assert.Nil(t, msg)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryQueueAckRemovesInflight(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	require.NoError(t, q.Enqueue(ctx, "a"))
	msg, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	ready, inflight := q.Depth()
	assert.Equal(t, 0, ready)
	assert.Equal(t, 1, inflight)

	require.NoError(t, q.Ack(ctx, msg))

	ready, inflight = q.Depth()
	assert.Equal(t, 0, ready)
	assert.Equal(t, 0, inflight)
}

func TestMemoryQueueRecoverRequeuesInflight(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	require.NoError(t, q.Enqueue(ctx, "a"))
	require.NoError(t, q.Enqueue(ctx, "b"))

	_, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	moved, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	ready, inflight := q.Depth()
	assert.Equal(t, 2, ready)
	assert.Equal(t, 0, inflight)

	// Recovered messages are deliverable again.
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		msg, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, msg)
		seen[msg.JobID] = true
	}
	assert.True(t, seen["a"])
	assert.True(t, seen["b"])
}

func TestMemoryQueueEnqueueWakesWaiter(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	done := make(chan string, 1)
	go func() {
		msg, err := q.Dequeue(ctx, 5*time.Second)
		if err == nil && msg != nil {
			done <- msg.JobID
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, "late"))

	select {
	case got := <-done:
		assert.Equal(t, "late", got)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by enqueue")
	}
}
