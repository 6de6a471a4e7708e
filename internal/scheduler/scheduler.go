// Package scheduler runs periodic jobs, the engine the Reaper's sweep
// passes (spec.md §4.10) are registered onto. Adapted directly from the
// teacher pack's emergent-company-specmcp internal/scheduler: one
// goroutine per job, ticking independently, stoppable via context or an
// explicit Stop.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Job is a named unit of periodic work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs registered jobs on independent tickers.
type Scheduler struct {
	logger *slog.Logger
	jobs   []scheduledJob
}

type scheduledJob struct {
	job      Job
	interval time.Duration
	ticker   *time.Ticker
	stop     chan struct{}
}

// New creates a Scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger}
}

// AddJob registers job to run every interval once Start is called.
func (s *Scheduler) AddJob(job Job, interval time.Duration) {
	s.jobs = append(s.jobs, scheduledJob{job: job, interval: interval, stop: make(chan struct{})})
}

// Start launches one goroutine per registered job.
func (s *Scheduler) Start(ctx context.Context) {
	for i := range s.jobs {
		sj := &s.jobs[i]
		sj.ticker = time.NewTicker(sj.interval)

		go func(sj *scheduledJob) {
			s.logger.Info("starting scheduled job", "job", sj.job.Name(), "interval", sj.interval)
			for {
				select {
				case <-sj.ticker.C:
					if err := sj.job.Run(ctx); err != nil {
						s.logger.Error("scheduled job failed", "job", sj.job.Name(), "error", err)
					}
				case <-sj.stop:
					return
				case <-ctx.Done():
					return
				}
			}
		}(sj)
	}
}

// Stop halts every running job.
func (s *Scheduler) Stop() {
	for i := range s.jobs {
		if s.jobs[i].ticker != nil {
			s.jobs[i].ticker.Stop()
		}
		close(s.jobs[i].stop)
	}
	s.logger.Info("scheduler stopped")
}

// RunOnce runs every registered job a single time, synchronously, in
// registration order. Used by the `reap-once` CLI subcommand.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	for i := range s.jobs {
		if err := s.jobs[i].job.Run(ctx); err != nil {
			return err
		}
	}
	return nil
}
