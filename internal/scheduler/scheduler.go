package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/couchcryptid/wave-collocation-service/internal/pipeline"
)

// Runner collocates the most recent valid date.
type Runner interface {
	RunLatest(ctx context.Context) (pipeline.Summary, error)
}

// Scheduler periodically collocates the most recent valid date.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	interval  time.Duration
	logger    *slog.Logger
}

// New creates a Scheduler firing every interval. Runs never overlap.
func New(runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		runner:    runner,
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules the collocation job and starts the underlying scheduler. The
// first run starts immediately. ctx bounds every run.
func (s *Scheduler) Start(ctx context.Context) error {
	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 60
	}

	_, err := s.scheduler.Every(minutes).Minutes().Do(func() {
		s.logger.Info("scheduled collocation started")
		sum, err := s.runner.RunLatest(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error("scheduled collocation failed", "error", err)
			return
		}
		s.logger.Info("scheduled collocation finished",
			"collocated", sum.Collocated, "skipped", sum.Skipped, "records", sum.Records)
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future runs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
