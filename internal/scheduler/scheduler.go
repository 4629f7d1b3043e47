package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Job is one periodic unit of work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs jobs on fixed intervals until its context ends. Each job
// runs in its own loop, so a slow payout never delays a sweep; runs of the
// same job never overlap.
type Scheduler struct {
	jobs   []Job
	logger *zap.Logger
}

func New(logger *zap.Logger, jobs ...Job) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	active := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if j.Interval > 0 && j.Run != nil {
			active = append(active, j)
		}
	}
	return &Scheduler{jobs: active, logger: logger}
}

// Jobs returns the jobs that will run; jobs with no interval are dropped.
func (s *Scheduler) Jobs() []Job {
	return s.jobs
}

// Run blocks until ctx is done. Job errors are logged, never fatal.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	logger := s.logger.With(zap.String("job", job.Name))
	logger.Info("scheduled job started", zap.Duration("interval", job.Interval))

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduled job stopped")
			return
		case <-ticker.C:
			start := time.Now()
			if err := job.Run(ctx); err != nil {
				logger.Error("scheduled job failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
				continue
			}
			logger.Debug("scheduled job finished", zap.Duration("elapsed", time.Since(start)))
		}
	}
}
