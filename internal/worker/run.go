// Package worker runs the job execution pool, the lease reaper, and the
// notifier delivery loop.
package worker

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"vidforge/internal/pkg/logger"
	"vidforge/internal/worker/processor"
)

// Run starts the worker pool and blocks until the context is canceled.
// Messages orphaned by a previous crash are recovered before consumers start.
func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("worker")

	recovered, err := d.Queue.Recover(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		log.Info("recovered in-flight messages", "count", recovered)
	}

	proc := processor.New(processor.Deps{
		Store:       d.Store,
		Queue:       d.Queue,
		Renderer:    d.Renderer,
		Notifier:    d.Notifier,
		Outputs:     processor.NewOutputHandler(d.Storage, d.ScratchRoot),
		Lease:       d.Cfg.Lease,
		MaxAttempts: d.Cfg.MaxAttempts,
		Log:         log,
	})

	reaper := NewReaper(d.Store, d.Queue, d.Notifier, d.Cfg.ReapInterval, d.Cfg.MaxAttempts, log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.Notifier.Run(gctx)
	})
	g.Go(func() error {
		return reaper.Run(gctx)
	})
	for i := 0; i < d.Cfg.Concurrency; i++ {
		id := i
		g.Go(func() error {
			return consumeLoop(gctx, d, proc, log.With("consumer", id))
		})
	}

	log.Info("worker pool started",
		"concurrency", d.Cfg.Concurrency,
		"max_attempts", d.Cfg.MaxAttempts,
		"lease", d.Cfg.Lease.String(),
	)

	return g.Wait()
}

func consumeLoop(ctx context.Context, d Deps, proc *processor.Processor, log *logger.Logger) error {
	for {
		select {
		case <-ctx.Done():
			log.Info("consumer stopping")
			return ctx.Err()
		default:
		}

		msg, err := d.Queue.Dequeue(ctx, d.Cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("consumer stopping")
				return ctx.Err()
			}
			log.Warn("queue dequeue error, retrying", "error", err.Error())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if msg == nil {
			continue
		}

		jobCtx := logger.ContextWithJobID(ctx, msg.JobID)
		start := time.Now()
		if err := proc.Process(jobCtx, msg); err != nil {
			log.Error("job processing error",
				"job_id", msg.JobID,
				"error", err.Error(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	}
}
