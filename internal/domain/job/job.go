// Package job defines the render job model and its lifecycle rules.
package job

import (
	"time"
)

// State is the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting for a worker claim.
	StatePending State = "PENDING"
	// StateRunning means exactly one worker holds the claim.
	StateRunning State = "RUNNING"
	// StateSucceeded is terminal; Result is set.
	StateSucceeded State = "SUCCEEDED"
	// StateFailed is terminal; Error is set.
	StateFailed State = "FAILED"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateRunning, StateSucceeded, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are permitted from s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// CanTransition reports whether the state machine permits from -> to.
// Terminal states absorb everything; RUNNING may go back to PENDING on
// release or lease expiry.
func CanTransition(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateRunning
	case StateRunning:
		return to == StateSucceeded || to == StateFailed || to == StatePending
	default:
		return false
	}
}

// Result is the opaque payload produced by a successful render.
type Result struct {
	VideoURL     string `json:"videoUrl"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	Format       string `json:"format,omitempty"`
	Resolution   string `json:"resolution,omitempty"`
}

// Failure describes why a job ended in FAILED.
type Failure struct {
	Reason    string `json:"reason"`
	Attempts  int    `json:"attempts"`
	Permanent bool   `json:"permanent,omitempty"`
}

// Job is one unit of submitted rendering work.
//
// Result and Error are mutually exclusive and set exactly once, at the
// transition into a terminal state. LeaseExpiresAt is only meaningful while
// the job is RUNNING.
type Job struct {
	ID             string
	Request        RenderRequest
	State          State
	Attempts       int
	Result         *Result
	Error          *Failure
	LeaseExpiresAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// New builds a PENDING job for the given request.
func New(id string, req RenderRequest, now time.Time) *Job {
	return &Job{
		ID:        id,
		Request:   req,
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// WebhookPayload is the wire contract delivered to the caller's endpoint.
// Receivers must treat deliveries idempotently: a crash between the terminal
// transition and the queue acknowledgment can replay the notification.
type WebhookPayload struct {
	JobID  string   `json:"jobId"`
	Status string   `json:"status"`
	Result *Result  `json:"result,omitempty"`
	Error  *Failure `json:"error,omitempty"`
}

const (
	// WebhookStatusCompleted is sent for SUCCEEDED jobs.
	WebhookStatusCompleted = "completed"
	// WebhookStatusFailed is sent for FAILED jobs.
	WebhookStatusFailed = "failed"
)

// Webhook builds the notification payload for a terminal job snapshot.
// Returns false when the job is not terminal.
func (j *Job) Webhook() (WebhookPayload, bool) {
	switch j.State {
	case StateSucceeded:
		return WebhookPayload{
			JobID:  j.ID,
			Status: WebhookStatusCompleted,
			Result: j.Result,
		}, true
	case StateFailed:
		return WebhookPayload{
			JobID:  j.ID,
			Status: WebhookStatusFailed,
			Error:  j.Error,
		}, true
	}
	return WebhookPayload{}, false
}
