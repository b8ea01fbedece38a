// Package notifier delivers terminal-state webhooks with retry and backoff.
//
// Delivery outcome is tracked separately from job outcome: a webhook that
// exhausts its retries is logged and dropped, never reflected back into the
// job record.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"vidforge/internal/domain/job"
	"vidforge/internal/pkg/logger"
)

// Notification is one terminal-state snapshot to deliver.
type Notification struct {
	JobID    string
	Endpoint string
	Payload  job.WebhookPayload
}

// DeliveryAttempt records one try at sending the webhook.
type DeliveryAttempt struct {
	Attempt   int
	Status    int
	Err       string
	At        time.Time
	NextRetry time.Time
}

// DeliveryError is returned when all attempts are exhausted.
type DeliveryError struct {
	JobID    string
	Endpoint string
	Attempts []DeliveryAttempt
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook delivery to %s exhausted after %d attempts", e.Endpoint, len(e.Attempts))
}

// Options configure the notifier.
type Options struct {
	Client         *http.Client
	MaxAttempts    int
	BaseBackoff    time.Duration
	AttemptTimeout time.Duration
	BufferSize     int
	Log            *logger.Logger
}

// Notifier consumes dispatched notifications and delivers them out-of-band
// from the workers that produced them.
type Notifier struct {
	client         *http.Client
	maxAttempts    int
	baseBackoff    time.Duration
	attemptTimeout time.Duration
	log            *logger.Logger

	ch chan Notification
}

func New(opts Options) *Notifier {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 5
	}
	baseBackoff := opts.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = 2 * time.Second
	}
	attemptTimeout := opts.AttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = 15 * time.Second
	}
	buffer := opts.BufferSize
	if buffer < 1 {
		buffer = 256
	}
	log := opts.Log
	if log == nil {
		log = logger.NewDefault()
	}

	return &Notifier{
		client:         client,
		maxAttempts:    maxAttempts,
		baseBackoff:    baseBackoff,
		attemptTimeout: attemptTimeout,
		log:            log.WithComponent("notifier"),
		ch:             make(chan Notification, buffer),
	}
}

// Dispatch hands a terminal job snapshot to the delivery loop. Jobs without
// a webhook endpoint are skipped entirely. Never blocks the caller: when the
// buffer is full the notification is dropped and logged.
func (n *Notifier) Dispatch(j *job.Job) {
	if !j.Request.HasWebhook() {
		return
	}
	payload, ok := j.Webhook()
	if !ok {
		return
	}

	notif := Notification{JobID: j.ID, Endpoint: j.Request.WebhookURL, Payload: payload}
	select {
	case n.ch <- notif:
	default:
		n.log.WithJobID(j.ID).Error("notification buffer full, dropping delivery",
			"endpoint", notif.Endpoint,
		)
	}
}

// Run consumes dispatched notifications until the context is canceled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case notif := <-n.ch:
			if err := n.Deliver(ctx, notif); err != nil {
				n.log.WithJobID(notif.JobID).Error("webhook delivery failed",
					"endpoint", notif.Endpoint,
					"error", err.Error(),
				)
			}
		}
	}
}

// Deliver attempts the webhook until success, attempt exhaustion, or context
// cancellation. Returns a *DeliveryError on exhaustion.
func (n *Notifier) Deliver(ctx context.Context, notif Notification) error {
	log := n.log.WithJobID(notif.JobID)

	body, err := json.Marshal(notif.Payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var attempts []DeliveryAttempt
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		status, attemptErr := n.post(ctx, notif.Endpoint, body)

		record := DeliveryAttempt{Attempt: attempt, Status: status, At: time.Now().UTC()}
		if attemptErr == nil {
			log.Info("webhook delivered",
				"endpoint", notif.Endpoint,
				"status", status,
				"attempt", attempt,
			)
			return nil
		}
		record.Err = attemptErr.Error()

		if attempt < n.maxAttempts {
			backoff := n.BackoffFor(attempt)
			record.NextRetry = record.At.Add(backoff)
			attempts = append(attempts, record)

			log.Warn("webhook attempt failed, backing off",
				"endpoint", notif.Endpoint,
				"attempt", attempt,
				"backoff", backoff.String(),
				"error", attemptErr.Error(),
			)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}
		attempts = append(attempts, record)
	}

	return &DeliveryError{JobID: notif.JobID, Endpoint: notif.Endpoint, Attempts: attempts}
}

// BackoffFor returns the exponential backoff after the given attempt number
// (1-based): base, 2*base, 4*base, ...
func (n *Notifier) BackoffFor(attempt int) time.Duration {
	backoff := n.baseBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	return backoff
}

func (n *Notifier) post(ctx context.Context, endpoint string, body []byte) (int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, n.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return res.StatusCode, fmt.Errorf("webhook http %d", res.StatusCode)
	}
	return res.StatusCode, nil
}
