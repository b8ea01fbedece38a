package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vidforge/internal/domain/job"
	"vidforge/internal/httpkit"
	"vidforge/internal/pkg/errors"
	"vidforge/internal/ports"
)

// PostJob accepts a render request, persists a PENDING job, and enqueues its
// id. The store write strictly precedes the enqueue; the jobId is returned
// without waiting for execution.
func (h *Handler) PostJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	var req job.RenderRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteError(w, errors.WrapWithCode(err, errors.CodeValidation, "job.submit", "invalid json body"))
		return
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		httpkit.WriteError(w, err)
		return
	}

	j := job.New(uuid.NewString(), req, time.Now().UTC())

	if err := h.store.Create(ctx, j); err != nil {
		if httpkit.IsUniqueViolation(err) {
			httpkit.WriteError(w, errors.New(errors.CodeConflict, "job id already exists"))
			return
		}
		log.Error("job insert failed", "error", err.Error())
		httpkit.WriteError(w, errors.Wrap(err, "job.submit", "store write failed"))
		return
	}

	if err := h.queue.Enqueue(ctx, j.ID); err != nil {
		// The job record already exists and stays PENDING with no claimant;
		// surfacing the failure is the caller's cue that no worker will
		// ever run it without an external requeue.
		log.Error("queue push failed", "job_id", j.ID, "error", err.Error())
		httpkit.WriteError(w, errors.Enqueue(err, j.ID))
		return
	}

	httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{
		"jobId":  j.ID,
		"status": j.State,
	})
}

// GetJob returns the current view of a job. 404 only when the id has never
// existed in the store.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobId")

	j, err := h.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, ports.ErrJobNotFound) {
			httpkit.WriteErr(w, http.StatusNotFound, "JOB_NOT_FOUND", "job not found", map[string]any{"jobId": jobID})
			return
		}
		if httpkit.IsUndefinedTable(err) {
			httpkit.WriteError(w, errors.New(errors.CodeUnavailable, "job store not migrated"))
			return
		}
		h.log.FromContext(ctx).Error("job lookup failed", "job_id", jobID, "error", err.Error())
		httpkit.WriteError(w, errors.Wrap(err, "job.status", "store read failed"))
		return
	}

	httpkit.WriteJSON(w, http.StatusOK, jobView(j))
}

// ListJobs returns recent jobs, optionally filtered by state.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := ports.ListFilter{}
	if state := strings.TrimSpace(r.URL.Query().Get("state")); state != "" {
		s := job.State(strings.ToUpper(state))
		if !s.Valid() {
			httpkit.WriteError(w, errors.ValidationField("state", "unknown job state"))
			return
		}
		filter.State = s
	}
	if limitStr := strings.TrimSpace(r.URL.Query().Get("limit")); limitStr != "" {
		if v, err := strconv.Atoi(limitStr); err == nil && v > 0 && v <= 200 {
			filter.Limit = v
		}
	}

	jobs, err := h.store.List(ctx, filter)
	if err != nil {
		h.log.FromContext(ctx).Error("job list failed", "error", err.Error())
		httpkit.WriteError(w, errors.Wrap(err, "job.list", "store read failed"))
		return
	}

	out := make([]map[string]any, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, map[string]any{
			"jobId":     j.ID,
			"state":     j.State,
			"attempts":  j.Attempts,
			"createdAt": j.CreatedAt,
			"updatedAt": j.UpdatedAt,
		})
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func jobView(j *job.Job) map[string]any {
	view := map[string]any{
		"jobId":     j.ID,
		"state":     j.State,
		"attempts":  j.Attempts,
		"createdAt": j.CreatedAt,
		"updatedAt": j.UpdatedAt,
	}
	if j.StartedAt != nil {
		view["startedAt"] = j.StartedAt
	}
	if j.FinishedAt != nil {
		view["finishedAt"] = j.FinishedAt
	}
	if j.Result != nil {
		view["result"] = j.Result
	}
	if j.Error != nil {
		view["error"] = j.Error
	}
	return view
}
