package ports

import (
	"context"
	"errors"
	"time"

	"vidforge/internal/domain/job"
)

var (
	// ErrJobNotFound is returned when a job id has never existed in the store.
	ErrJobNotFound = errors.New("job not found")
	// ErrClaimConflict is returned when a compare-and-set transition finds the
	// job in a different state than expected. Benign under duplicate delivery:
	// another worker or a prior completion already owns the job.
	ErrClaimConflict = errors.New("job claim conflict")
)

// ListFilter narrows List results.
type ListFilter struct {
	State job.State
	Limit int
}

// ExpiredLease describes the outcome of reclaiming one expired-lease job.
type ExpiredLease struct {
	Job      *job.Job
	Requeued bool
}

// JobStore is the durable source of truth for job state.
//
// Every transition is compare-and-set on the current state so that
// concurrent claim attempts on the same job resolve to exactly one winner.
type JobStore interface {
	// Create persists a new PENDING job. The job is visible to Get as soon
	// as Create returns.
	Create(ctx context.Context, j *job.Job) error

	// Get returns the current job record, or ErrJobNotFound.
	Get(ctx context.Context, id string) (*job.Job, error)

	// Claim transitions PENDING -> RUNNING, incrementing attempts and
	// setting the lease in the same atomic step. Returns ErrClaimConflict
	// when the job is not PENDING.
	Claim(ctx context.Context, id string, lease time.Duration) (*job.Job, error)

	// Release transitions RUNNING -> PENDING for an orchestration-level
	// retry. Returns ErrClaimConflict when the job is not RUNNING.
	Release(ctx context.Context, id string, reason string) error

	// MarkSucceeded transitions RUNNING -> SUCCEEDED and sets the result.
	MarkSucceeded(ctx context.Context, id string, result job.Result) (*job.Job, error)

	// MarkFailed transitions RUNNING -> FAILED and sets the error.
	MarkFailed(ctx context.Context, id string, failure job.Failure) (*job.Job, error)

	// ExpireLeases reclaims RUNNING jobs whose lease passed before now.
	// Jobs below maxAttempts go back to PENDING; the rest become FAILED.
	ExpireLeases(ctx context.Context, now time.Time, maxAttempts int) ([]ExpiredLease, error)

	// List returns recent jobs, newest first.
	List(ctx context.Context, filter ListFilter) ([]*job.Job, error)
}
