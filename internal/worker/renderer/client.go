// Package renderer is the HTTP client for the external render engine.
package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vidforge/internal/domain/job"
)

// Spec is the wire contract sent to the render engine. The engine writes its
// outputs at the given object keys under the shared scratch root.
type Spec struct {
	JobID   string            `json:"job_id"`
	Request job.RenderRequest `json:"request"`
	Output  struct {
		VideoObjectKey string `json:"video_object_key"`
		ThumbObjectKey string `json:"thumb_object_key"`
	} `json:"output"`
}

// Error describes a failed render call. Permanent errors (engine rejected
// the input) must not be retried; transient ones may be requeued.
type Error struct {
	Status    int
	Reason    string
	Permanent bool
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("renderer http %d: %s", e.Status, e.Reason)
	}
	return "renderer: " + e.Reason
}

// Client invokes the render engine.
type Client interface {
	Render(ctx context.Context, spec Spec) error
}

// HTTPClient talks to a render engine over HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient builds a client for the engine at baseURL. The timeout
// bounds a whole render call; keep it at or below the job lease.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Render(ctx context.Context, spec Spec) error {
	body, err := json.Marshal(spec)
	if err != nil {
		return &Error{Reason: "marshal spec: " + err.Error(), Permanent: true}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return &Error{Reason: err.Error(), Permanent: true}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		// Transport failures are transient by default.
		return &Error{Reason: err.Error()}
	}
	defer res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}

	reason := readReason(res.Body)
	if reason == "" {
		reason = http.StatusText(res.StatusCode)
	}
	return &Error{
		Status: res.StatusCode,
		Reason: reason,
		// 4xx means the engine rejected the input; retrying cannot help.
		Permanent: res.StatusCode >= 400 && res.StatusCode < 500,
	}
}

func readReason(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
