package worker

import (
	"context"
	"math/rand"
	"time"

	"vidforge/internal/pkg/logger"
	"vidforge/internal/ports"
	"vidforge/internal/worker/processor"
)

// Reaper reclaims RUNNING jobs whose lease expired: a crashed or wedged
// worker's claim eventually goes back to PENDING (and onto the queue), or to
// FAILED once attempts are exhausted.
type Reaper struct {
	store       ports.JobStore
	queue       ports.Queue
	notifier    processor.Dispatcher
	interval    time.Duration
	maxAttempts int
	log         *logger.Logger
}

func NewReaper(store ports.JobStore, queue ports.Queue, notifier processor.Dispatcher, interval time.Duration, maxAttempts int, log *logger.Logger) *Reaper {
	return &Reaper{
		store:       store,
		queue:       queue,
		notifier:    notifier,
		interval:    interval,
		maxAttempts: maxAttempts,
		log:         log.WithComponent("reaper"),
	}
}

// Run sweeps at the configured interval until the context is canceled.
// Startup is jittered so multiple worker processes don't sweep in lockstep.
func (r *Reaper) Run(ctx context.Context) error {
	if jitter := r.jitter(); jitter > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter):
		}
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.Sweep(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep runs one reclaim pass.
func (r *Reaper) Sweep(ctx context.Context) {
	expired, err := r.store.ExpireLeases(ctx, time.Now().UTC(), r.maxAttempts)
	if err != nil {
		r.log.Error("lease sweep failed", "error", err.Error())
		return
	}

	requeued, failed := 0, 0
	for _, e := range expired {
		log := r.log.WithJobID(e.Job.ID)
		if e.Requeued {
			requeued++
			if err := r.queue.Enqueue(ctx, e.Job.ID); err != nil {
				// Job stays PENDING and unqueued until the next sweep or an
				// operator requeues it.
				log.Error("requeue after lease expiry failed", "error", err.Error())
			} else {
				log.Warn("lease expired, job requeued", "attempts", e.Job.Attempts)
			}
			continue
		}

		failed++
		log.Error("lease expired with attempts exhausted, job failed",
			"attempts", e.Job.Attempts,
		)
		r.notifier.Dispatch(e.Job)
	}

	if requeued > 0 || failed > 0 {
		r.log.Info("lease sweep completed", "requeued", requeued, "failed", failed)
	}
}

func (r *Reaper) jitter() time.Duration {
	max := int64(r.interval / 10)
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(max))
}
