// Package queue provides Queue implementations over Redis and memory.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"vidforge/internal/ports"
)

// RedisQueue is a reliable Redis list queue. Pending ids live on the main
// list; BLMOVE parks a dequeued id on the processing list until Ack removes
// it, so a crashed consumer's ids survive for Recover.
type RedisQueue struct {
	rdb        *redis.Client
	name       string
	processing string
}

// NewRedisQueue builds a queue on the named Redis list. In-flight entries
// are parked on processingName.
func NewRedisQueue(rdb *redis.Client, name, processingName string) *RedisQueue {
	return &RedisQueue{rdb: rdb, name: name, processing: processingName}
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	return q.rdb.LPush(ctx, q.name, jobID).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context, pollTimeout time.Duration) (*ports.Message, error) {
	res, err := q.rdb.BLMove(ctx, q.name, q.processing, "RIGHT", "LEFT", pollTimeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return &ports.Message{JobID: res}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, msg *ports.Message) error {
	if msg == nil {
		return nil
	}
	return q.rdb.LRem(ctx, q.processing, 1, msg.JobID).Err()
}

// Recover moves everything parked on the processing list back to the main
// list. Run once at worker startup, before consumers begin.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := q.rdb.LMove(ctx, q.processing, q.name, "RIGHT", "LEFT").Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return moved, nil
			}
			return moved, err
		}
		moved++
	}
}

var _ ports.Queue = (*RedisQueue)(nil)
