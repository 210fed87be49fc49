package core

// scheduler.go runs background maintenance for the job registry.
//
// Terminal jobs stay queryable for Options.JobRetention after they finish.
// The sweeper removes them afterwards so the registry does not grow without
// bound on a long-running server.

import (
	"context"
	"log/slog"
	"time"
)

// StartRetentionSweeper periodically expires finished jobs. It runs once
// immediately, then every interval, and stops when ctx is cancelled.
func (s *Service) StartRetentionSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	slog.Info("retention sweeper started",
		"interval", interval.String(),
		"retention", s.opts.JobRetention.String(),
	)

	s.sweepExpiredJobs()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			s.sweepExpiredJobs()
		}
	}
}

// sweepExpiredJobs performs one expiry pass.
func (s *Service) sweepExpiredJobs() {
	start := time.Now()
	removed := s.registry.Expire(start.UTC())
	if removed == 0 {
		slog.Debug("retention sweep found nothing to expire")
		return
	}
	slog.Info("expired finished jobs",
		"jobs_removed", removed,
		"jobs_retained", s.registry.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
