// Package repositories contains JobStore implementations.
package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vidforge/internal/domain/job"
	"vidforge/internal/ports"
)

const jobColumns = `id, request, state, attempts, result, error, lease_expires_at,
	created_at, updated_at, started_at, finished_at`

// JobRepository is the Postgres JobStore.
type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

// EnsureSchema creates the jobs table when it does not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS jobs (
			id               TEXT PRIMARY KEY,
			request          JSONB NOT NULL,
			state            TEXT NOT NULL,
			attempts         INT NOT NULL DEFAULT 0,
			result           JSONB,
			error            JSONB,
			lease_expires_at TIMESTAMPTZ,
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL,
			started_at       TIMESTAMPTZ,
			finished_at      TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS jobs_state_updated_idx ON jobs (state, updated_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

func (r *JobRepository) Create(ctx context.Context, j *job.Job) error {
	reqJSON, err := json.Marshal(j.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO jobs (id, request, state, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, j.ID, reqJSON, string(j.State), j.Attempts, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*job.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1`, id)
	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ports.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// Claim atomically transitions PENDING -> RUNNING. The WHERE state clause is
// the compare-and-set: when another worker won or the job is terminal, no
// row matches and the claim resolves to ErrClaimConflict.
func (r *JobRepository) Claim(ctx context.Context, id string, lease time.Duration) (*job.Job, error) {
	now := time.Now().UTC()
	row := r.pool.QueryRow(ctx, `
		UPDATE jobs SET
			state            = $2,
			attempts         = attempts + 1,
			lease_expires_at = $3,
			started_at       = COALESCE(started_at, $4),
			updated_at       = $4
		WHERE id = $1 AND state = $5
		RETURNING `+jobColumns,
		id, string(job.StateRunning), now.Add(lease), now, string(job.StatePending))

	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.claimConflictOrNotFound(ctx, id)
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return j, nil
}

func (r *JobRepository) Release(ctx context.Context, id string, reason string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs SET
			state            = $2,
			lease_expires_at = NULL,
			updated_at       = $3
		WHERE id = $1 AND state = $4
	`, id, string(job.StatePending), time.Now().UTC(), string(job.StateRunning))
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.claimConflictOrNotFound(ctx, id)
	}
	return nil
}

func (r *JobRepository) MarkSucceeded(ctx context.Context, id string, result job.Result) (*job.Job, error) {
	resJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return r.finalize(ctx, id, string(job.StateSucceeded), "result", resJSON)
}

func (r *JobRepository) MarkFailed(ctx context.Context, id string, failure job.Failure) (*job.Job, error) {
	errJSON, err := json.Marshal(failure)
	if err != nil {
		return nil, fmt.Errorf("marshal failure: %w", err)
	}
	return r.finalize(ctx, id, string(job.StateFailed), "error", errJSON)
}

func (r *JobRepository) finalize(ctx context.Context, id, state, column string, payload []byte) (*job.Job, error) {
	now := time.Now().UTC()
	// column is one of the two constants above, never caller input.
	row := r.pool.QueryRow(ctx, `
		UPDATE jobs SET
			state            = $2,
			`+column+`       = $3,
			lease_expires_at = NULL,
			finished_at      = $4,
			updated_at       = $4
		WHERE id = $1 AND state = $5
		RETURNING `+jobColumns,
		id, state, payload, now, string(job.StateRunning))

	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.claimConflictOrNotFound(ctx, id)
		}
		return nil, fmt.Errorf("finalize job: %w", err)
	}
	return j, nil
}

func (r *JobRepository) ExpireLeases(ctx context.Context, now time.Time, maxAttempts int) ([]ports.ExpiredLease, error) {
	var out []ports.ExpiredLease

	rows, err := r.pool.Query(ctx, `
		UPDATE jobs SET
			state            = $1,
			lease_expires_at = NULL,
			updated_at       = $2
		WHERE state = $3 AND lease_expires_at < $2 AND attempts < $4
		RETURNING `+jobColumns,
		string(job.StatePending), now.UTC(), string(job.StateRunning), maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("requeue expired leases: %w", err)
	}
	requeued, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	for _, j := range requeued {
		out = append(out, ports.ExpiredLease{Job: j, Requeued: true})
	}

	rows, err = r.pool.Query(ctx, `
		UPDATE jobs SET
			state            = $1,
			error            = jsonb_build_object('reason', 'lease expired', 'attempts', attempts),
			lease_expires_at = NULL,
			finished_at      = $2,
			updated_at       = $2
		WHERE state = $3 AND lease_expires_at < $2 AND attempts >= $4
		RETURNING `+jobColumns,
		string(job.StateFailed), now.UTC(), string(job.StateRunning), maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("fail expired leases: %w", err)
	}
	failed, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	for _, j := range failed {
		out = append(out, ports.ExpiredLease{Job: j})
	}

	return out, nil
}

func (r *JobRepository) List(ctx context.Context, filter ports.ListFilter) ([]*job.Job, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var (
		rows pgx.Rows
		err  error
	)
	if filter.State != "" {
		rows, err = r.pool.Query(ctx, `
			SELECT `+jobColumns+` FROM jobs
			WHERE state=$1 ORDER BY created_at DESC LIMIT $2
		`, string(filter.State), limit)
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT `+jobColumns+` FROM jobs
			ORDER BY created_at DESC LIMIT $1
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

// claimConflictOrNotFound distinguishes "never existed" from "exists in a
// different state" after a zero-row CAS update.
func (r *JobRepository) claimConflictOrNotFound(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id=$1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check job existence: %w", err)
	}
	if !exists {
		return ports.ErrJobNotFound
	}
	return ports.ErrClaimConflict
}

func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	defer rows.Close()

	var out []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j                job.Job
		reqJSON          []byte
		resJSON, errJSON []byte
		state            string
	)
	err := row.Scan(&j.ID, &reqJSON, &state, &j.Attempts, &resJSON, &errJSON,
		&j.LeaseExpiresAt, &j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.FinishedAt)
	if err != nil {
		return nil, err
	}

	j.State = job.State(state)
	if err := json.Unmarshal(reqJSON, &j.Request); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	if len(resJSON) > 0 {
		j.Result = &job.Result{}
		if err := json.Unmarshal(resJSON, j.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if len(errJSON) > 0 {
		j.Error = &job.Failure{}
		if err := json.Unmarshal(errJSON, j.Error); err != nil {
			return nil, fmt.Errorf("unmarshal error: %w", err)
		}
	}
	return &j, nil
}

var _ ports.JobStore = (*JobRepository)(nil)
