package core

// queue.go schedules ingestion jobs onto a bounded worker pool.
//
// Ownership is split cleanly: while a job is queued only the queue touches
// its registry entry, and once a worker has started it only that worker
// does. Jobs beyond the worker limit wait in a priority heap (higher
// priority first, FIFO within a priority).

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultJobTimeout is the wall-clock budget of one job.
const DefaultJobTimeout = 30 * time.Minute

// JobRunner executes one job. It must observe ctx at chunk boundaries and
// return a *JobError carrying CANCELLED or TIMEOUT when it stops early.
type JobRunner func(ctx context.Context, job ExtractionJob) (*JobResult, error)

// QueueHealth is a side-effect-free view of the queue.
type QueueHealth struct {
	QueueDepth       int               `json:"queueDepth"`
	ActiveWorkers    int               `json:"activeWorkers"`
	AvailableWorkers int               `json:"availableWorkers"`
	MaxWorkers       int               `json:"maxWorkers"`
	PeakWorkers      int               `json:"peakWorkers"`
	Accepting        bool              `json:"accepting"`
	Jobs             map[JobStatus]int `json:"jobs"`
}

type queuedJob struct {
	id       string
	priority int
	seq      uint64
	index    int
}

type jobHeap []*queuedJob

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *jobHeap) Push(x any) {
	item := x.(*queuedJob)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Queue is the extraction job queue.
type Queue struct {
	registry *JobRegistry
	limiter  *UploadLimiter
	run      JobRunner
	timeout  time.Duration
	observer Observer

	mu      sync.Mutex
	pending jobHeap
	queued  map[string]*queuedJob
	running map[string]context.CancelFunc
	seq     uint64
	closed  bool

	wake         chan struct{}
	stopDispatch context.CancelFunc
	baseCtx      context.Context
	baseCancel   context.CancelFunc
	dispatchWG   sync.WaitGroup
	workerWG     sync.WaitGroup
}

// NewQueue creates a queue. Call Start to begin dispatching.
func NewQueue(registry *JobRegistry, limiter *UploadLimiter, run JobRunner, timeout time.Duration, observer Observer) *Queue {
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	if observer == nil {
		observer = NopObserver{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		registry:   registry,
		limiter:    limiter,
		run:        run,
		timeout:    timeout,
		observer:   observer,
		queued:     make(map[string]*queuedJob),
		running:    make(map[string]context.CancelFunc),
		wake:       make(chan struct{}, 1),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// Start launches the dispatcher. It stops when ctx is done or on Shutdown.
func (q *Queue) Start(ctx context.Context) {
	dispatchCtx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.stopDispatch = cancel
	q.mu.Unlock()

	q.dispatchWG.Add(1)
	go func() {
		defer q.dispatchWG.Done()
		defer cancel()
		q.dispatch(dispatchCtx)
	}()
}

// Submit registers job as queued and schedules it.
func (q *Queue) Submit(job ExtractionJob) (ExtractionJob, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ExtractionJob{}, ErrQueueClosed
	}
	snapshot := q.registry.Create(job)
	q.seq++
	item := &queuedJob{id: snapshot.ID, priority: snapshot.Priority, seq: q.seq}
	heap.Push(&q.pending, item)
	q.queued[item.id] = item
	depth := len(q.pending)
	q.mu.Unlock()

	q.observer.QueueDepth(depth)
	q.signal()

	slog.Info("job queued",
		"job_id", snapshot.ID,
		"supplier_id", snapshot.SupplierID,
		"priority", snapshot.Priority,
		"queue_depth", depth,
	)
	return snapshot, nil
}

// Cancel stops a queued or running job. It returns false when the job is
// unknown or already terminal.
func (q *Queue) Cancel(jobID string) bool {
	q.mu.Lock()
	if item, ok := q.queued[jobID]; ok {
		heap.Remove(&q.pending, item.index)
		delete(q.queued, jobID)
		depth := len(q.pending)
		q.mu.Unlock()

		q.observer.QueueDepth(depth)
		if err := q.registry.Cancel(jobID, "cancelled before start", &JobResult{}); err != nil {
			return false
		}
		q.observer.JobFinished(JobCancelled, 0)
		slog.Info("queued job cancelled", "job_id", jobID)
		return true
	}

	cancel, ok := q.running[jobID]
	q.mu.Unlock()
	if !ok {
		return false
	}
	if status, _ := q.registry.Status(jobID); status.Terminal() {
		return false
	}
	cancel()
	slog.Info("running job cancellation requested", "job_id", jobID)
	return true
}

// Health reports queue depth and worker usage.
func (q *Queue) Health() QueueHealth {
	q.mu.Lock()
	depth := len(q.pending)
	closed := q.closed
	q.mu.Unlock()
	workers := q.limiter.Status()
	return QueueHealth{
		QueueDepth:       depth,
		ActiveWorkers:    workers.Active,
		AvailableWorkers: workers.Available,
		MaxWorkers:       workers.MaxConcurrent,
		PeakWorkers:      workers.Peak,
		Accepting:        !closed,
		Jobs:             q.registry.Counts(),
	}
}

// Shutdown stops accepting work, cancels queued jobs, and waits for running
// jobs and synchronous ingestions to finish. If ctx expires first, running
// jobs are cancelled and ctx's error is returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	stop := q.stopDispatch
	var dropped []string
	for q.pending.Len() > 0 {
		item := heap.Pop(&q.pending).(*queuedJob)
		delete(q.queued, item.id)
		dropped = append(dropped, item.id)
	}
	q.mu.Unlock()

	for _, id := range dropped {
		if err := q.registry.Cancel(id, "queue shut down before start", &JobResult{}); err == nil {
			q.observer.JobFinished(JobCancelled, 0)
		}
	}
	q.observer.QueueDepth(0)

	if stop != nil {
		stop()
	}
	q.dispatchWG.Wait()

	done := make(chan struct{})
	go func() {
		q.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("shutdown deadline reached, cancelling running jobs")
		q.baseCancel()
		return ctx.Err()
	}
	defer q.baseCancel()

	// Synchronous ingestions hold slots outside the worker group.
	if err := q.limiter.WaitForDrain(ctx); err != nil {
		slog.Warn("shutdown deadline reached with synchronous ingestions running", "active", q.limiter.ActiveCount())
		return err
	}
	return nil
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) dispatch(ctx context.Context) {
	for {
		if !q.waitPending(ctx) {
			return
		}
		if err := q.limiter.Wait(ctx); err != nil {
			return
		}
		if !q.launchNext() {
			q.limiter.Release()
		}
	}
}

// waitPending blocks until at least one job is queued.
func (q *Queue) waitPending(ctx context.Context) bool {
	for {
		q.mu.Lock()
		n, closed := len(q.pending), q.closed
		q.mu.Unlock()
		if closed {
			return false
		}
		if n > 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-q.wake:
		}
	}
}

// launchNext pops the best job and starts a worker for it. The caller
// holds a limiter slot that the worker takes over.
func (q *Queue) launchNext() bool {
	q.mu.Lock()
	if q.pending.Len() == 0 || q.closed {
		q.mu.Unlock()
		return false
	}
	item := heap.Pop(&q.pending).(*queuedJob)
	delete(q.queued, item.id)
	jobCtx, cancel := context.WithTimeout(q.baseCtx, q.timeout)
	q.running[item.id] = cancel
	depth := len(q.pending)
	q.mu.Unlock()

	q.observer.QueueDepth(depth)

	if err := q.registry.Start(item.id); err != nil {
		q.forget(item.id, cancel)
		slog.Warn("job could not start", "job_id", item.id, "error", err)
		return false
	}
	job, err := q.registry.Get(item.id)
	if err != nil {
		q.forget(item.id, cancel)
		return false
	}

	q.observer.ActiveWorkers(q.limiter.ActiveCount())
	q.workerWG.Add(1)
	go q.work(jobCtx, cancel, job)
	return true
}

func (q *Queue) forget(id string, cancel context.CancelFunc) {
	cancel()
	q.mu.Lock()
	delete(q.running, id)
	q.mu.Unlock()
}

type runOutcome struct {
	result *JobResult
	err    error
}

func (q *Queue) work(ctx context.Context, cancel context.CancelFunc, job ExtractionJob) {
	defer q.workerWG.Done()
	defer func() {
		q.limiter.Release()
		q.observer.ActiveWorkers(q.limiter.ActiveCount())
	}()
	defer q.forget(job.ID, cancel)

	start := time.Now()
	log := slog.With("job_id", job.ID, "upload_id", job.UploadID, "supplier_id", job.SupplierID)
	log.Info("job started")

	done := make(chan runOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic in job", "panic", r)
				done <- runOutcome{err: &JobError{Code: CodeInternal, Message: fmt.Sprintf("internal error: %v", r)}}
			}
		}()
		res, err := q.run(ctx, job)
		done <- runOutcome{result: res, err: err}
	}()

	var out runOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			// The budget is spent: the job is failed now, whatever the
			// pipeline reports when it reaches its next boundary.
			msg := fmt.Sprintf("job exceeded its %s budget", q.timeout)
			if err := q.registry.Fail(job.ID, CodeTimeout, msg, nil); err == nil {
				log.Warn("job timed out", "timeout", q.timeout)
				q.observer.JobFinished(JobFailed, time.Since(start))
			}
		}
		out = <-done
	}

	q.finish(log, job, out, time.Since(start))
}

func (q *Queue) finish(log *slog.Logger, job ExtractionJob, out runOutcome, elapsed time.Duration) {
	if out.result != nil {
		out.result.Duration = elapsed
	}

	var (
		status JobStatus
		err    error
	)
	switch code := CodeOf(out.err); {
	case out.err == nil:
		status, err = JobCompleted, q.registry.Complete(job.ID, out.result)
	case code == CodeCancelled:
		status, err = JobCancelled, q.registry.Cancel(job.ID, out.err.Error(), out.result)
	default:
		if code == "" {
			code = CodeInternal
		}
		status, err = JobFailed, q.registry.Fail(job.ID, code, out.err.Error(), out.result)
	}
	if err != nil {
		// Already terminal, e.g. forced to TIMEOUT above. Keep what the
		// pipeline committed before it noticed.
		if out.result != nil && q.registry.AttachResult(job.ID, out.result) == nil {
			q.observer.RowOutcomes(out.result)
			log.Info("partial result attached", "rows_applied", out.result.RowsApplied)
		}
		return
	}

	q.observer.JobFinished(status, elapsed)
	if out.result != nil {
		q.observer.RowOutcomes(out.result)
	}

	attrs := []any{"status", status, "duration_ms", elapsed.Milliseconds()}
	if out.result != nil {
		attrs = append(attrs, "rows_applied", out.result.RowsApplied, "errored", out.result.Errored)
	}
	if out.err != nil {
		log.Warn("job finished", append(attrs, "error", out.err)...)
		return
	}
	log.Info("job finished", attrs...)
}
