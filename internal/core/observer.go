package core

import "time"

// Observer receives pipeline events for metrics. Implementations must be
// safe for concurrent use and must not block.
type Observer interface {
	QueueDepth(n int)
	ActiveWorkers(n int)
	JobFinished(status JobStatus, elapsed time.Duration)
	RowOutcomes(res *JobResult)
	StockAdjusted(code ReasonCode)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) QueueDepth(int)                       {}
func (NopObserver) ActiveWorkers(int)                    {}
func (NopObserver) JobFinished(JobStatus, time.Duration) {}
func (NopObserver) RowOutcomes(*JobResult)               {}
func (NopObserver) StockAdjusted(ReasonCode)             {}
