package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	NopObserver
	mu       sync.Mutex
	finished map[JobStatus]int
}

func (o *recordingObserver) JobFinished(status JobStatus, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.finished == nil {
		o.finished = make(map[JobStatus]int)
	}
	o.finished[status]++
}

func (o *recordingObserver) count(status JobStatus) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.finished[status]
}

func newTestQueue(t *testing.T, workers int, timeout time.Duration, run JobRunner, obs Observer) (*Queue, *JobRegistry) {
	t.Helper()
	registry := NewJobRegistry(time.Hour)
	q := NewQueue(registry, NewUploadLimiter(workers, time.Second), run, timeout, obs)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = q.Shutdown(ctx)
	})
	return q, registry
}

func waitStatus(t *testing.T, r *JobRegistry, id string, want JobStatus) ExtractionJob {
	t.Helper()
	require.Eventually(t, func() bool {
		s, _ := r.Status(id)
		return s == want
	}, 2*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
	job, err := r.Get(id)
	require.NoError(t, err)
	return job
}

func TestQueue_PriorityThenFIFO(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	run := func(ctx context.Context, job ExtractionJob) (*JobResult, error) {
		mu.Lock()
		order = append(order, job.FileName)
		mu.Unlock()
		return &JobResult{}, nil
	}
	q, registry := newTestQueue(t, 1, time.Minute, run, nil)

	var ids []string
	for _, j := range []struct {
		name     string
		priority int
	}{{"a", 0}, {"b", 5}, {"c", 0}, {"d", 5}} {
		job, err := q.Submit(ExtractionJob{FileName: j.name, Priority: j.priority})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	q.Start(context.Background())

	for _, id := range ids {
		waitStatus(t, registry, id, JobCompleted)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"b", "d", "a", "c"}, order)
}

func TestQueue_BoundedWorkers(t *testing.T) {
	gate := make(chan struct{})
	var current, peak atomic.Int64
	run := func(ctx context.Context, job ExtractionJob) (*JobResult, error) {
		n := current.Add(1)
		defer current.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-gate
		return &JobResult{}, nil
	}
	q, registry := newTestQueue(t, 2, time.Minute, run, nil)
	q.Start(context.Background())

	var ids []string
	for i := 0; i < 5; i++ {
		job, err := q.Submit(ExtractionJob{})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	require.Eventually(t, func() bool { return current.Load() == 2 }, time.Second, 5*time.Millisecond)
	h := q.Health()
	assert.Equal(t, 3, h.QueueDepth)
	assert.Equal(t, 2, h.ActiveWorkers)
	assert.Equal(t, 2, h.MaxWorkers)
	assert.Zero(t, h.AvailableWorkers)
	assert.True(t, h.Accepting)
	assert.Equal(t, map[JobStatus]int{JobRunning: 2, JobQueued: 3}, h.Jobs)

	close(gate)
	for _, id := range ids {
		waitStatus(t, registry, id, JobCompleted)
	}
	assert.Equal(t, int64(2), peak.Load())

	h = q.Health()
	assert.Equal(t, 2, h.PeakWorkers)
	assert.Equal(t, 5, h.Jobs[JobCompleted])
}

func TestQueue_Cancel(t *testing.T) {
	started := make(chan string, 4)
	run := func(ctx context.Context, job ExtractionJob) (*JobResult, error) {
		started <- job.ID
		<-ctx.Done()
		return &JobResult{RowsApplied: 1}, boundaryError(ctx, &ReconcileResult{RowsApplied: 1})
	}
	obs := &recordingObserver{}
	q, registry := newTestQueue(t, 1, time.Minute, run, obs)
	q.Start(context.Background())

	first, err := q.Submit(ExtractionJob{})
	require.NoError(t, err)
	second, err := q.Submit(ExtractionJob{})
	require.NoError(t, err)

	assert.Equal(t, first.ID, <-started)
	waitStatus(t, registry, first.ID, JobRunning)

	// Queued job: removed before it ever runs.
	assert.True(t, q.Cancel(second.ID))
	job := waitStatus(t, registry, second.ID, JobCancelled)
	require.NotNil(t, job.Error)
	assert.Equal(t, CodeCancelled, job.Error.Code)
	assert.False(t, q.Cancel(second.ID), "terminal jobs cannot be cancelled again")

	// Running job: stops at its next boundary.
	assert.True(t, q.Cancel(first.ID))
	job = waitStatus(t, registry, first.ID, JobCancelled)
	require.NotNil(t, job.Result)
	assert.Equal(t, 1, job.Result.RowsApplied)

	assert.False(t, q.Cancel("unknown"))
	assert.Len(t, started, 0, "cancelled queued job never started")
	assert.Equal(t, 2, obs.count(JobCancelled))
}

func TestQueue_Timeout(t *testing.T) {
	run := func(ctx context.Context, job ExtractionJob) (*JobResult, error) {
		<-ctx.Done()
		// Simulate a chunk finishing after the deadline.
		time.Sleep(20 * time.Millisecond)
		return &JobResult{RowsApplied: 4, ChunksCommitted: 2}, boundaryError(ctx, &ReconcileResult{RowsApplied: 4})
	}
	q, registry := newTestQueue(t, 1, 50*time.Millisecond, run, nil)
	q.Start(context.Background())

	job, err := q.Submit(ExtractionJob{})
	require.NoError(t, err)

	got := waitStatus(t, registry, job.ID, JobFailed)
	require.NotNil(t, got.Error)
	assert.Equal(t, CodeTimeout, got.Error.Code)

	// The late pipeline result is kept without reopening the job.
	require.Eventually(t, func() bool {
		got, _ = registry.Get(job.ID)
		return got.Result != nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, JobFailed, got.Status)
	assert.Equal(t, CodeTimeout, got.Error.Code)
	assert.Equal(t, 4, got.Result.RowsApplied)
	assert.Equal(t, 2, got.Progress.ChunksCommitted)
}

func TestQueue_FailureCodes(t *testing.T) {
	run := func(ctx context.Context, job ExtractionJob) (*JobResult, error) {
		switch job.FileName {
		case "coded":
			return &JobResult{}, newJobError(CodeNoHeader, "no header")
		case "plain":
			return nil, errors.New("boom")
		case "panic":
			panic("unexpected")
		}
		return &JobResult{}, nil
	}
	q, registry := newTestQueue(t, 2, time.Minute, run, nil)
	q.Start(context.Background())

	want := map[string]ReasonCode{"coded": CodeNoHeader, "plain": CodeInternal, "panic": CodeInternal}
	ids := make(map[string]string)
	for name := range want {
		job, err := q.Submit(ExtractionJob{FileName: name})
		require.NoError(t, err)
		ids[name] = job.ID
	}
	ok, err := q.Submit(ExtractionJob{FileName: "ok"})
	require.NoError(t, err)

	for name, code := range want {
		got := waitStatus(t, registry, ids[name], JobFailed)
		require.NotNil(t, got.Error, name)
		assert.Equal(t, code, got.Error.Code, name)
	}
	waitStatus(t, registry, ok.ID, JobCompleted)
}

func TestQueue_Shutdown(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 2)
	run := func(ctx context.Context, job ExtractionJob) (*JobResult, error) {
		started <- struct{}{}
		<-gate
		return &JobResult{}, nil
	}
	q, registry := newTestQueue(t, 1, time.Minute, run, nil)
	q.Start(context.Background())

	running, err := q.Submit(ExtractionJob{})
	require.NoError(t, err)
	<-started
	queued, err := q.Submit(ExtractionJob{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- q.Shutdown(ctx)
	}()

	waitStatus(t, registry, queued.ID, JobCancelled)
	_, err = q.Submit(ExtractionJob{})
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.False(t, q.Health().Accepting)

	close(gate)
	require.NoError(t, <-done)
	waitStatus(t, registry, running.ID, JobCompleted)
}

func TestQueue_ShutdownWaitsForSyncIngestion(t *testing.T) {
	q, _ := newTestQueue(t, 2, time.Minute, func(context.Context, ExtractionJob) (*JobResult, error) {
		return &JobResult{}, nil
	}, nil)
	q.Start(context.Background())

	// A synchronous ingestion holds a slot outside the worker group.
	require.NoError(t, q.limiter.Acquire(context.Background()))

	t.Run("deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, q.Shutdown(ctx), context.DeadlineExceeded)
	})

	t.Run("drained", func(t *testing.T) {
		done := make(chan error, 1)
		go func() { done <- q.Shutdown(context.Background()) }()

		select {
		case err := <-done:
			t.Fatalf("Shutdown returned before the ingestion finished: %v", err)
		case <-time.After(80 * time.Millisecond):
		}

		q.limiter.Release()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Shutdown did not return after the ingestion finished")
		}
	})
}
