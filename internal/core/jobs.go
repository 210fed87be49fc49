package core

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of an extraction job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// allowedTransitions encodes the one-directional state machine.
var allowedTransitions = map[JobStatus][]JobStatus{
	JobQueued:  {JobRunning, JobCancelled, JobFailed},
	JobRunning: {JobCompleted, JobFailed, JobCancelled},
}

// ErrInvalidTransition is returned when a job would move backwards or out
// of a terminal state.
var ErrInvalidTransition = errors.New("invalid job transition")

// JobFailure is the coded error attached to a failed or cancelled job.
type JobFailure struct {
	Code    ReasonCode `json:"code"`
	Message string     `json:"message"`
}

// ExtractionJob is the queue-tracked unit of ingestion work.
type ExtractionJob struct {
	ID         string      `json:"jobId"`
	UploadID   string      `json:"uploadId"`
	SupplierID string      `json:"supplierId"`
	FileRef    string      `json:"fileRef"`
	FileName   string      `json:"fileName"`
	Priority   int         `json:"priority"`
	Force      bool        `json:"force,omitempty"`
	Status     JobStatus   `json:"status"`
	QueuedAt   time.Time   `json:"queuedAt"`
	StartedAt  *time.Time  `json:"startedAt,omitempty"`
	FinishedAt *time.Time  `json:"finishedAt,omitempty"`
	Progress   JobProgress `json:"progress"`
	Result     *JobResult  `json:"result,omitempty"`
	Error      *JobFailure `json:"error,omitempty"`
}

// JobRegistry tracks every job from enqueue until it expires. The owning
// queue or worker is the only writer for a given job.
type JobRegistry struct {
	mu        sync.RWMutex
	jobs      map[string]*ExtractionJob
	retention time.Duration
	now       func() time.Time
}

// DefaultJobRetention is how long terminal jobs remain queryable.
const DefaultJobRetention = time.Hour

// NewJobRegistry creates an empty registry.
func NewJobRegistry(retention time.Duration) *JobRegistry {
	if retention <= 0 {
		retention = DefaultJobRetention
	}
	return &JobRegistry{
		jobs:      make(map[string]*ExtractionJob),
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a queued job and returns its snapshot.
func (r *JobRegistry) Create(job ExtractionJob) ExtractionJob {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = JobQueued
	job.QueuedAt = r.now()
	job.Progress = JobProgress{Phase: PhaseQueued}
	r.jobs[job.ID] = &job
	return job
}

// Get returns a copy of the job.
func (r *JobRegistry) Get(id string) (ExtractionJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return ExtractionJob{}, ErrJobNotFound
	}
	return *job, nil
}

// Status returns only the job's current state.
func (r *JobRegistry) Status(id string) (JobStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return "", false
	}
	return job.Status, true
}

// Start moves a queued job to running.
func (r *JobRegistry) Start(id string) error {
	return r.transition(id, JobRunning, func(j *ExtractionJob, now time.Time) {
		j.StartedAt = &now
		j.Progress.Phase = PhaseReading
	})
}

// Complete marks a running job completed with its result.
func (r *JobRegistry) Complete(id string, result *JobResult) error {
	return r.transition(id, JobCompleted, func(j *ExtractionJob, now time.Time) {
		j.FinishedAt = &now
		j.Result = result
		j.Progress.Phase = PhaseDone
		if result != nil {
			j.Progress.RowsApplied = result.RowsApplied
			j.Progress.ChunksCommitted = result.ChunksCommitted
		}
	})
}

// Fail marks a job failed. result may carry partial counts.
func (r *JobRegistry) Fail(id string, code ReasonCode, message string, result *JobResult) error {
	return r.finish(id, JobFailed, code, message, result)
}

// Cancel marks a job cancelled. result may carry partial counts.
func (r *JobRegistry) Cancel(id string, message string, result *JobResult) error {
	return r.finish(id, JobCancelled, CodeCancelled, message, result)
}

func (r *JobRegistry) finish(id string, to JobStatus, code ReasonCode, message string, result *JobResult) error {
	return r.transition(id, to, func(j *ExtractionJob, now time.Time) {
		j.FinishedAt = &now
		j.Error = &JobFailure{Code: code, Message: message}
		j.Progress.Phase = PhaseDone
		if result != nil {
			j.Result = result
			j.Progress.RowsApplied = result.RowsApplied
			j.Progress.ChunksCommitted = result.ChunksCommitted
		}
	})
}

// AttachResult records the result of a job that was already finished
// without it, such as one failed on its deadline while the pipeline was
// still writing. The status is left unchanged.
func (r *JobRegistry) AttachResult(id string, result *JobResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if !job.Status.Terminal() {
		return fmt.Errorf("%w: %s job has no final result yet", ErrInvalidTransition, job.Status)
	}
	if result != nil {
		job.Result = result
		job.Progress.RowsApplied = result.RowsApplied
		job.Progress.ChunksCommitted = result.ChunksCommitted
	}
	return nil
}

// UpdateProgress replaces the progress of a running job. Updates for jobs
// that are no longer running are dropped.
func (r *JobRegistry) UpdateProgress(id string, fn func(p *JobProgress)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok && job.Status == JobRunning {
		fn(&job.Progress)
	}
}

func (r *JobRegistry) transition(id string, to JobStatus, mutate func(j *ExtractionJob, now time.Time)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	allowed := false
	for _, next := range allowedTransitions[job.Status] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, to)
	}
	job.Status = to
	mutate(job, r.now())
	return nil
}

// Expire removes terminal jobs that finished more than the retention window
// before now. It returns the number removed.
func (r *JobRegistry) Expire(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.retention)
	removed := 0
	for id, job := range r.jobs {
		if job.Status.Terminal() && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// Counts returns the number of retained jobs per status.
func (r *JobRegistry) Counts() map[JobStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[JobStatus]int)
	for _, job := range r.jobs {
		out[job.Status]++
	}
	return out
}

// Len returns the number of retained jobs.
func (r *JobRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
