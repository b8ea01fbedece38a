package processor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidforge/internal/adapters/storage/localfs"
	"vidforge/internal/domain/job"
	"vidforge/internal/queue"
	"vidforge/internal/repositories"
	"vidforge/internal/worker/renderer"
)

// fakeRenderer simulates the render engine: on success it writes the video
// artifact under the scratch root, like the real engine would.
type fakeRenderer struct {
	mu          sync.Mutex
	scratchRoot string
	errs        []error
	calls       int
}

func (f *fakeRenderer) Render(ctx context.Context, spec renderer.Spec) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}

	dst := filepath.Join(f.scratchRoot, filepath.FromSlash(spec.Output.VideoObjectKey))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, []byte("encoded video"), 0o644)
}

// recordingDispatcher captures terminal snapshots handed to the notifier.
type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []*job.Job
}

func (d *recordingDispatcher) Dispatch(j *job.Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, j)
}

func (d *recordingDispatcher) dispatched() []*job.Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*job.Job(nil), d.jobs...)
}

type fixture struct {
	store    *repositories.MemoryStore
	queue    *queue.MemoryQueue
	renderer *fakeRenderer
	notifier *recordingDispatcher
	proc     *Processor
}

func newFixture(t *testing.T, maxAttempts int, renderErrs ...error) *fixture {
	t.Helper()

	scratch := t.TempDir()
	store := repositories.NewMemoryStore()
	q := queue.NewMemoryQueue()
	fr := &fakeRenderer{scratchRoot: scratch, errs: renderErrs}
	d := &recordingDispatcher{}

	proc := New(Deps{
		Store:       store,
		Queue:       q,
		Renderer:    fr,
		Notifier:    d,
		Outputs:     NewOutputHandler(localfs.New(t.TempDir()), scratch),
		Lease:       time.Minute,
		MaxAttempts: maxAttempts,
	})

	return &fixture{store: store, queue: q, renderer: fr, notifier: d, proc: proc}
}

func (f *fixture) submit(t *testing.T, id string, req job.RenderRequest) {
	t.Helper()
	ctx := context.Background()
	req.Normalize()
	require.NoError(t, f.store.Create(ctx, job.New(id, req, time.Now().UTC())))
	require.NoError(t, f.queue.Enqueue(ctx, id))
}

func dequeueAndProcess(t *testing.T, f *fixture) error {
	t.Helper()
	ctx := context.Background()
	msg, err := f.queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	return f.proc.Process(ctx, msg)
}

func TestProcessSuccess(t *testing.T) {
	f := newFixture(t, 3)
	f.submit(t, "j1", job.RenderRequest{WebhookURL: "https://hooks.example.com/done"})

	require.NoError(t, dequeueAndProcess(t, f))

	j, err := f.store.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, job.StateSucceeded, j.State)
	assert.Equal(t, 1, j.Attempts)
	require.NotNil(t, j.Result)
	assert.Equal(t, "renders/j1/video.mp4", j.Result.VideoURL)
	assert.Equal(t, "mp4", j.Result.Format)
	assert.Nil(t, j.Error)

	dispatched := f.notifier.dispatched()
	require.Len(t, dispatched, 1)
	assert.Equal(t, "j1", dispatched[0].ID)
	assert.Equal(t, job.StateSucceeded, dispatched[0].State)

	ready, inflight := f.queue.Depth()
	assert.Equal(t, 0, ready)
	assert.Equal(t, 0, inflight, "message acked after commit")
}

func TestProcessTransientFailureRequeues(t *testing.T) {
	f := newFixture(t, 3, &renderer.Error{Status: 503, Reason: "engine busy"})
	f.submit(t, "j1", job.RenderRequest{})

	require.NoError(t, dequeueAndProcess(t, f))

	j, err := f.store.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, job.StatePending, j.State)
	assert.Equal(t, 1, j.Attempts)

	ready, inflight := f.queue.Depth()
	assert.Equal(t, 1, ready, "job id requeued for another attempt")
	assert.Equal(t, 0, inflight)

	assert.Empty(t, f.notifier.dispatched(), "no notification before a terminal state")

	// The requeued attempt succeeds end to end.
	require.NoError(t, dequeueAndProcess(t, f))
	j, err = f.store.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, job.StateSucceeded, j.State)
	assert.Equal(t, 2, j.Attempts)
}

func TestProcessFailsAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, 2,
		&renderer.Error{Status: 500, Reason: "encode crashed"},
		&renderer.Error{Status: 500, Reason: "encode crashed"},
	)
	f.submit(t, "j1", job.RenderRequest{WebhookURL: "https://hooks.example.com/done"})

	require.NoError(t, dequeueAndProcess(t, f))
	require.NoError(t, dequeueAndProcess(t, f))

	j, err := f.store.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, job.StateFailed, j.State)
	assert.Equal(t, 2, j.Attempts)
	require.NotNil(t, j.Error)
	assert.Equal(t, 2, j.Error.Attempts)
	assert.False(t, j.Error.Permanent)
	assert.Nil(t, j.Result)

	dispatched := f.notifier.dispatched()
	require.Len(t, dispatched, 1)
	assert.Equal(t, job.StateFailed, dispatched[0].State)

	ready, inflight := f.queue.Depth()
	assert.Equal(t, 0, ready)
	assert.Equal(t, 0, inflight)
}

func TestProcessPermanentFailureSkipsRetries(t *testing.T) {
	f := newFixture(t, 3, &renderer.Error{Status: 422, Reason: "unsupported codec", Permanent: true})
	f.submit(t, "j1", job.RenderRequest{})

	require.NoError(t, dequeueAndProcess(t, f))

	j, err := f.store.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, job.StateFailed, j.State)
	assert.Equal(t, 1, j.Attempts, "no retry budget spent on a rejected input")
	require.NotNil(t, j.Error)
	assert.True(t, j.Error.Permanent)

	ready, _ := f.queue.Depth()
	assert.Equal(t, 0, ready)
	assert.Equal(t, 1, f.renderer.calls)
}

func TestProcessClaimConflictDropsMessage(t *testing.T) {
	f := newFixture(t, 3)
	f.submit(t, "j1", job.RenderRequest{})

	// Another worker already holds the claim.
	_, err := f.store.Claim(context.Background(), "j1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, dequeueAndProcess(t, f))

	assert.Equal(t, 0, f.renderer.calls, "no render on a lost claim")
	assert.Empty(t, f.notifier.dispatched())

	ready, inflight := f.queue.Depth()
	assert.Equal(t, 0, ready)
	assert.Equal(t, 0, inflight, "duplicate delivery acked away")

	j, err := f.store.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, job.StateRunning, j.State, "the claim holder is undisturbed")
}

func TestProcessUnknownJobDropsMessage(t *testing.T) {
	f := newFixture(t, 3)
	require.NoError(t, f.queue.Enqueue(context.Background(), "ghost"))

	require.NoError(t, dequeueAndProcess(t, f))

	assert.Equal(t, 0, f.renderer.calls)
	ready, inflight := f.queue.Depth()
	assert.Equal(t, 0, ready)
	assert.Equal(t, 0, inflight)
}

func TestProcessHoldsMessageWhenRequeueFails(t *testing.T) {
	scratch := t.TempDir()
	store := repositories.NewMemoryStore()
	fr := &fakeRenderer{scratchRoot: scratch, errs: []error{&renderer.Error{Status: 500, Reason: "crash"}}}
	fq := &failingEnqueueQueue{MemoryQueue: queue.NewMemoryQueue()}
	d := &recordingDispatcher{}

	proc := New(Deps{
		Store:       store,
		Queue:       fq,
		Renderer:    fr,
		Notifier:    d,
		Outputs:     NewOutputHandler(localfs.New(t.TempDir()), scratch),
		Lease:       time.Minute,
		MaxAttempts: 3,
	})

	ctx := context.Background()
	require.NoError(t, store.Create(ctx, job.New("j1", job.RenderRequest{}, time.Now().UTC())))
	require.NoError(t, fq.MemoryQueue.Enqueue(ctx, "j1"))

	msg, err := fq.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	fq.failEnqueue = true
	err = proc.Process(ctx, msg)
	require.Error(t, err, "message must stay in flight for recovery")

	_, inflight := fq.MemoryQueue.Depth()
	assert.Equal(t, 1, inflight)

	j, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, job.StatePending, j.State, "job released before the failed requeue")
}

type failingEnqueueQueue struct {
	*queue.MemoryQueue
	failEnqueue bool
}

func (q *failingEnqueueQueue) Enqueue(ctx context.Context, jobID string) error {
	if q.failEnqueue {
		return assert.AnError
	}
	return q.MemoryQueue.Enqueue(ctx, jobID)
}

func TestOutputKeysFor(t *testing.T) {
	j := job.New("abc", job.RenderRequest{}, time.Now().UTC())
	j.Request.Normalize()

	keys := OutputKeysFor(j)
	assert.Equal(t, "renders/abc/video.mp4", keys.Video)
	assert.Equal(t, "renders/abc/thumb.jpg", keys.Thumb)

	j.Request.OutputSettings.Format = "webm"
	assert.Equal(t, "renders/abc/video.webm", OutputKeysFor(j).Video)
}

func TestOutputHandlerCollect(t *testing.T) {
	ctx := context.Background()
	scratch := t.TempDir()
	stored := t.TempDir()

	j := job.New("j1", job.RenderRequest{}, time.Now().UTC())
	j.Request.Normalize()
	keys := OutputKeysFor(j)

	writeScratch := func(key, body string) {
		p := filepath.Join(scratch, filepath.FromSlash(key))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}

	oh := NewOutputHandler(localfs.New(stored), scratch)

	t.Run("missing video fails", func(t *testing.T) {
		_, err := oh.Collect(ctx, j)
		assert.Error(t, err)
	})

	t.Run("video only", func(t *testing.T) {
		writeScratch(keys.Video, "video bytes")

		result, err := oh.Collect(ctx, j)
		require.NoError(t, err)
		assert.Equal(t, keys.Video, result.VideoURL)
		assert.Empty(t, result.ThumbnailURL)
		assert.Equal(t, "mp4", result.Format)
		assert.Equal(t, "1920x1080", result.Resolution)

		_, err = os.Stat(filepath.Join(stored, filepath.FromSlash(keys.Video)))
		assert.NoError(t, err, "artifact uploaded to the provider")
	})

	t.Run("with thumbnail", func(t *testing.T) {
		writeScratch(keys.Thumb, "jpeg bytes")

		result, err := oh.Collect(ctx, j)
		require.NoError(t, err)
		assert.Equal(t, keys.Thumb, result.ThumbnailURL)
	})
}
