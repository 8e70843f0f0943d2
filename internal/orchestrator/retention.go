package orchestrator

import (
	"context"
	"time"

	"prowler/internal/metrics"
	"prowler/internal/model"
	"prowler/internal/store"
)

// StartRetention runs periodic deletion of jobs older than the
// configured retention window. It returns immediately when retention
// is disabled and stops when ctx is cancelled.
func (s *Service) StartRetention(ctx context.Context) {
	cfg := s.cfg.Retention
	if !cfg.Enabled || cfg.JobDays <= 0 {
		return
	}
	interval := time.Duration(cfg.CleanupIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupExpired(ctx)
			}
		}
	}()
}

// ResumePending restarts jobs a previous process left behind: queued
// jobs that never ran and running jobs interrupted mid-flight. It
// returns the number of jobs rescheduled.
func (s *Service) ResumePending(ctx context.Context) (int, error) {
	resumed := 0
	for _, status := range []model.Status{model.StatusQueued, model.StatusRunning} {
		jobs, _, err := s.repo.List(ctx, store.ListFilter{Status: status})
		if err != nil {
			return resumed, err
		}
		for _, job := range jobs {
			s.startAsync(job)
			resumed++
		}
	}
	if resumed > 0 {
		s.logger.Info("resumed pending jobs", "count", resumed)
	}
	return resumed, nil
}

func (s *Service) cleanupExpired(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.Retention.JobDays)
	deleted, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		metrics.RecordRetentionJobs(deleted)
		s.logger.Info("retention cleanup", "deleted", deleted, "cutoff", cutoff)
	}
	if s.cache != nil {
		s.cache.CleanExpired()
	}
}
