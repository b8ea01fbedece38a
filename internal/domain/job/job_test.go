package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateValid(t *testing.T) {
	for _, s := range []State{StatePending, StateRunning, StateSucceeded, StateFailed} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, State("QUEUED").Valid())
	assert.False(t, State("").Valid())
}

func TestStateTerminal(t *testing.T) {
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.True(t, StateSucceeded.Terminal())
	assert.True(t, StateFailed.Terminal())
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]State]bool{
		{StatePending, StateRunning}:   true,
		{StateRunning, StateSucceeded}: true,
		{StateRunning, StateFailed}:    true,
		{StateRunning, StatePending}:   true,
	}

	states := []State{StatePending, StateRunning, StateSucceeded, StateFailed}
	for _, from := range states {
		for _, to := range states {
			want := allowed[[2]State{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestNewJobIsPending(t *testing.T) {
	now := time.Now().UTC()
	j := New("abc", RenderRequest{}, now)

	assert.Equal(t, "abc", j.ID)
	assert.Equal(t, StatePending, j.State)
	assert.Zero(t, j.Attempts)
	assert.Nil(t, j.Result)
	assert.Nil(t, j.Error)
	assert.Equal(t, now, j.CreatedAt)
	assert.Equal(t, now, j.UpdatedAt)
}

func TestWebhookPayload(t *testing.T) {
	t.Run("succeeded", func(t *testing.T) {
		j := &Job{
			ID:     "j1",
			State:  StateSucceeded,
			Result: &Result{VideoURL: "https://files.example.com/v.mp4"},
		}

		p, ok := j.Webhook()
		require.True(t, ok)
		assert.Equal(t, "j1", p.JobID)
		assert.Equal(t, WebhookStatusCompleted, p.Status)
		require.NotNil(t, p.Result)
		assert.Equal(t, "https://files.example.com/v.mp4", p.Result.VideoURL)
		assert.Nil(t, p.Error)
	})

	t.Run("failed", func(t *testing.T) {
		j := &Job{
			ID:    "j2",
			State: StateFailed,
			Error: &Failure{Reason: "renderer http 422: bad input", Attempts: 1, Permanent: true},
		}

		p, ok := j.Webhook()
		require.True(t, ok)
		assert.Equal(t, WebhookStatusFailed, p.Status)
		require.NotNil(t, p.Error)
		assert.True(t, p.Error.Permanent)
		assert.Nil(t, p.Result)
	})

	t.Run("non-terminal", func(t *testing.T) {
		for _, s := range []State{StatePending, StateRunning} {
			j := &Job{ID: "j3", State: s}
			_, ok := j.Webhook()
			assert.False(t, ok, string(s))
		}
	})
}
