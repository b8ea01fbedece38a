package queue

import (
	"context"
	"sync"
	"time"

	"vidforge/internal/ports"
)

// MemoryQueue is an in-process Queue with the same at-least-once contract as
// the Redis implementation. Used in tests and single-process setups.
type MemoryQueue struct {
	mu       sync.Mutex
	ready    []string
	inflight map[string]int
	signal   chan struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		inflight: make(map[string]int),
		signal:   make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobID string) error {
	q.mu.Lock()
	q.ready = append(q.ready, jobID)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, pollTimeout time.Duration) (*ports.Message, error) {
	deadline := time.NewTimer(pollTimeout)
	defer deadline.Stop()

	for {
		if msg := q.tryDequeue(); msg != nil {
			return msg, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-q.signal:
		}
	}
}

func (q *MemoryQueue) tryDequeue() *ports.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ready) == 0 {
		return nil
	}
	jobID := q.ready[0]
	q.ready = q.ready[1:]
	q.inflight[jobID]++

	// Wake another waiter if work remains.
	if len(q.ready) > 0 {
		select {
		case q.signal <- struct{}{}:
		default:
		}
	}
	return &ports.Message{JobID: jobID}
}

func (q *MemoryQueue) Ack(ctx context.Context, msg *ports.Message) error {
	if msg == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if n := q.inflight[msg.JobID]; n > 1 {
		q.inflight[msg.JobID] = n - 1
	} else {
		delete(q.inflight, msg.JobID)
	}
	return nil
}

func (q *MemoryQueue) Recover(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	moved := 0
	for jobID, n := range q.inflight {
		for i := 0; i < n; i++ {
			q.ready = append(q.ready, jobID)
			moved++
		}
		delete(q.inflight, jobID)
	}
	if moved > 0 {
		select {
		case q.signal <- struct{}{}:
		default:
		}
	}
	return moved, nil
}

// Depth reports ready and in-flight counts. Test helper.
func (q *MemoryQueue) Depth() (ready, inflight int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, n := range q.inflight {
		inflight += n
	}
	return len(q.ready), inflight
}

var _ ports.Queue = (*MemoryQueue)(nil)
