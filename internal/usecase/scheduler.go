package usecase

import (
	"context"
	"log/slog"
	"time"

	"BiblioScanner/internal/ports"
)

// Scheduler wires the interval driver with the pipeline use case.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	logger   *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring runs.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, log *slog.Logger) *Scheduler {
	return &Scheduler{driver: driver, pipeline: pipeline, logger: log}
}

// Start registers the daily job: the monthly delayed check when due, then a regular run.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	job := func(trigger time.Time) {
		s.info("scheduled run", "trigger", trigger.Format(time.RFC3339))
		if _, ran, err := s.pipeline.DelayedCheck(ctx); err != nil {
			s.fail("delayed check failed", err)
		} else if ran {
			s.info("delayed check completed")
		}
		if _, err := s.pipeline.Run(ctx, RunRequest{}); err != nil {
			s.fail("scheduled run failed", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}

func (s *Scheduler) info(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Scheduler) fail(msg string, err error) {
	if s.logger != nil {
		s.logger.Error(msg, "error", err)
	}
}
