// Package processor executes one queued job end to end.
package processor

import (
	"context"
	"time"

	"vidforge/internal/domain/job"
	"vidforge/internal/pkg/errors"
	"vidforge/internal/pkg/logger"
	"vidforge/internal/ports"
	"vidforge/internal/worker/renderer"
)

// Dispatcher receives terminal job snapshots for webhook delivery.
// Dispatch must never block and must never fail the caller.
type Dispatcher interface {
	Dispatch(j *job.Job)
}

// Deps wires the processor's collaborators.
type Deps struct {
	Store       ports.JobStore
	Queue       ports.Queue
	Renderer    renderer.Client
	Notifier    Dispatcher
	Outputs     *OutputHandler
	Lease       time.Duration
	MaxAttempts int
	Log         *logger.Logger
}

// Processor claims a job, invokes the render engine, commits the resulting
// state transition, and hands terminal snapshots to the notifier.
type Processor struct {
	store       ports.JobStore
	queue       ports.Queue
	renderer    renderer.Client
	notifier    Dispatcher
	outputs     *OutputHandler
	lease       time.Duration
	maxAttempts int
	log         *logger.Logger
}

func New(d Deps) *Processor {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Processor{
		store:       d.Store,
		queue:       d.Queue,
		renderer:    d.Renderer,
		notifier:    d.Notifier,
		outputs:     d.Outputs,
		lease:       d.Lease,
		maxAttempts: d.MaxAttempts,
		log:         log.WithComponent("processor"),
	}
}

// Process handles one dequeued message. The message is acknowledged only
// after the corresponding state transition (or drop decision) is committed;
// returning an error leaves it in flight for Recover after a restart.
func (p *Processor) Process(ctx context.Context, msg *ports.Message) error {
	log := p.log.WithJobID(msg.JobID)

	claimed, err := p.store.Claim(ctx, msg.JobID, p.lease)
	if err != nil {
		switch {
		case errors.Is(err, ports.ErrClaimConflict):
			// Duplicate delivery: another worker or a prior completion owns
			// the job. Drop silently.
			log.Debug("claim conflict, dropping message")
			return p.queue.Ack(ctx, msg)
		case errors.Is(err, ports.ErrJobNotFound):
			log.Warn("message references unknown job, dropping")
			return p.queue.Ack(ctx, msg)
		default:
			return errors.Wrap(err, "processor.claim", "claim failed")
		}
	}

	log.Info("job claimed", "attempt", claimed.Attempts)

	renderCtx, cancel := context.WithTimeout(ctx, p.lease)
	renderErr := p.renderer.Render(renderCtx, buildSpec(claimed))
	cancel()

	if renderErr != nil {
		return p.handleRenderFailure(ctx, msg, claimed, renderErr)
	}

	result, err := p.outputs.Collect(ctx, claimed)
	if err != nil {
		// Upload problems are transient from the job's point of view.
		return p.handleRenderFailure(ctx, msg, claimed, err)
	}

	final, err := p.store.MarkSucceeded(ctx, claimed.ID, result)
	if err != nil {
		if errors.Is(err, ports.ErrClaimConflict) {
			// Lease expired mid-render and the reaper reclaimed the job.
			log.Warn("job no longer running, discarding render result")
			return p.queue.Ack(ctx, msg)
		}
		return errors.Wrap(err, "processor.succeed", "terminal transition failed")
	}

	log.Info("job succeeded", "attempts", final.Attempts)
	p.notifier.Dispatch(final)
	return p.queue.Ack(ctx, msg)
}

func (p *Processor) handleRenderFailure(ctx context.Context, msg *ports.Message, claimed *job.Job, cause error) error {
	log := p.log.WithJobID(claimed.ID)

	permanent := false
	var rerr *renderer.Error
	if errors.As(cause, &rerr) {
		permanent = rerr.Permanent
	}

	if permanent || claimed.Attempts >= p.maxAttempts {
		final, err := p.store.MarkFailed(ctx, claimed.ID, job.Failure{
			Reason:    cause.Error(),
			Attempts:  claimed.Attempts,
			Permanent: permanent,
		})
		if err != nil {
			if errors.Is(err, ports.ErrClaimConflict) {
				log.Warn("job no longer running, skipping failure transition")
				return p.queue.Ack(ctx, msg)
			}
			return errors.Wrap(err, "processor.fail", "terminal transition failed")
		}

		log.Error("job failed",
			"attempts", final.Attempts,
			"permanent", permanent,
			"error", cause.Error(),
		)
		p.notifier.Dispatch(final)
		return p.queue.Ack(ctx, msg)
	}

	// Orchestration-level retry: put the job back and requeue it.
	if err := p.store.Release(ctx, claimed.ID, cause.Error()); err != nil {
		if errors.Is(err, ports.ErrClaimConflict) {
			log.Warn("job no longer running, skipping release")
			return p.queue.Ack(ctx, msg)
		}
		return errors.Wrap(err, "processor.release", "release failed")
	}
	if err := p.queue.Enqueue(ctx, claimed.ID); err != nil {
		// Job is PENDING but unqueued; hold the message in flight so a
		// restart's Recover pass redelivers it.
		return errors.Wrap(err, "processor.requeue", "requeue failed")
	}

	log.Warn("job released for retry",
		"attempt", claimed.Attempts,
		"max_attempts", p.maxAttempts,
		"error", cause.Error(),
	)
	return p.queue.Ack(ctx, msg)
}

func buildSpec(j *job.Job) renderer.Spec {
	spec := renderer.Spec{JobID: j.ID, Request: j.Request}
	keys := OutputKeysFor(j)
	spec.Output.VideoObjectKey = keys.Video
	spec.Output.ThumbObjectKey = keys.Thumb
	return spec
}
