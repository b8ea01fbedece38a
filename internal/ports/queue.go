package ports

import (
	"context"
	"time"
)

// Message is one queued unit of work. It references the job by id only; the
// full payload lives in the JobStore.
type Message struct {
	JobID string
}

// Queue is a durable, at-least-once delivery channel for job ids.
//
// Duplicate delivery is expected; consumers resolve it through the
// JobStore's compare-and-set claim, not through queue-level deduplication.
type Queue interface {
	// Enqueue makes the job id visible to consumers.
	Enqueue(ctx context.Context, jobID string) error

	// Dequeue blocks until a message is available or the poll timeout
	// elapses, in which case it returns (nil, nil). A dequeued message stays
	// in flight until acknowledged.
	Dequeue(ctx context.Context, pollTimeout time.Duration) (*Message, error)

	// Ack marks the message as handled. Only call after the corresponding
	// state transition (or drop decision) is durably committed.
	Ack(ctx context.Context, msg *Message) error

	// Recover re-enqueues messages left in flight by a crashed consumer.
	// Intended to run once at worker startup.
	Recover(ctx context.Context) (int, error)
}
