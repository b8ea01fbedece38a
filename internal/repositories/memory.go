package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"vidforge/internal/domain/job"
	"vidforge/internal/ports"
)

// MemoryStore is an in-process JobStore with the same compare-and-set
// semantics as the Postgres repository. Used in tests and single-process dev.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*job.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*job.Job)}
}

func (s *MemoryStore) Create(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *j
	s.jobs[j.ID] = &copied
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ports.ErrJobNotFound
	}
	copied := *j
	return &copied, nil
}

func (s *MemoryStore) Claim(ctx context.Context, id string, lease time.Duration) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ports.ErrJobNotFound
	}
	if j.State != job.StatePending {
		return nil, ports.ErrClaimConflict
	}

	now := time.Now().UTC()
	expires := now.Add(lease)
	j.State = job.StateRunning
	j.Attempts++
	j.LeaseExpiresAt = &expires
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
	j.UpdatedAt = now

	copied := *j
	return &copied, nil
}

func (s *MemoryStore) Release(ctx context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ports.ErrJobNotFound
	}
	if j.State != job.StateRunning {
		return ports.ErrClaimConflict
	}

	j.State = job.StatePending
	j.LeaseExpiresAt = nil
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) MarkSucceeded(ctx context.Context, id string, result job.Result) (*job.Job, error) {
	return s.finalize(id, func(j *job.Job) {
		j.State = job.StateSucceeded
		j.Result = &result
	})
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id string, failure job.Failure) (*job.Job, error) {
	return s.finalize(id, func(j *job.Job) {
		j.State = job.StateFailed
		j.Error = &failure
	})
}

func (s *MemoryStore) finalize(id string, apply func(*job.Job)) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ports.ErrJobNotFound
	}
	if j.State != job.StateRunning {
		return nil, ports.ErrClaimConflict
	}

	now := time.Now().UTC()
	apply(j)
	j.LeaseExpiresAt = nil
	j.FinishedAt = &now
	j.UpdatedAt = now

	copied := *j
	return &copied, nil
}

func (s *MemoryStore) ExpireLeases(ctx context.Context, now time.Time, maxAttempts int) ([]ports.ExpiredLease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ports.ExpiredLease
	for _, j := range s.jobs {
		if j.State != job.StateRunning || j.LeaseExpiresAt == nil || !j.LeaseExpiresAt.Before(now) {
			continue
		}

		j.LeaseExpiresAt = nil
		j.UpdatedAt = now
		if j.Attempts < maxAttempts {
			j.State = job.StatePending
			copied := *j
			out = append(out, ports.ExpiredLease{Job: &copied, Requeued: true})
			continue
		}

		finished := now
		j.State = job.StateFailed
		j.Error = &job.Failure{Reason: "lease expired", Attempts: j.Attempts}
		j.FinishedAt = &finished
		copied := *j
		out = append(out, ports.ExpiredLease{Job: &copied})
	}
	return out, nil
}

func (s *MemoryStore) List(ctx context.Context, filter ports.ListFilter) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	out := make([]*job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if filter.State != "" && j.State != filter.State {
			continue
		}
		copied := *j
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ ports.JobStore = (*MemoryStore)(nil)
