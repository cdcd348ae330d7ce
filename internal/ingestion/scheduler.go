package ingestion

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/rpattn/phenobatch/internal/domain"
	"github.com/rpattn/phenobatch/internal/repository"
)

// JobProcessor runs a claimed job to a terminal state.
type JobProcessor interface {
	Process(ctx context.Context, job domain.BatchJob) error
}

type SchedulerOptions struct {
	PollInterval time.Duration

	Logger *logrus.Entry
}

func (o *SchedulerOptions) setDefaults() {
	if o.PollInterval == 0 {
		o.PollInterval = time.Minute
	}
	if o.Logger == nil {
		o.Logger = logrusNop()
	}
}

// Scheduler claims the oldest SUBMITTED job on every tick and processes it.
// Ticks never overlap within one Scheduler; across processes the claim query
// keeps two workers off the same job.
type Scheduler struct {
	jobs      repository.BatchJobRepository
	processor JobProcessor
	opts      SchedulerOptions
	m         *metrics

	mu sync.Mutex
}

func NewScheduler(jobs repository.BatchJobRepository, processor JobProcessor, opts SchedulerOptions) (*Scheduler, error) {
	if jobs == nil {
		return nil, errors.New("ingestion: job repository is required")
	}
	if processor == nil {
		return nil, errors.New("ingestion: processor is required")
	}
	opts.setDefaults()
	return &Scheduler{jobs: jobs, processor: processor, opts: opts, m: getMetrics()}, nil
}

// Run ticks every PollInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if _, err := s.Tick(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			s.opts.Logger.WithError(err).Warn("ingestion: scheduler tick failed")
		}
	}
}

// Tick processes at most one job. It returns the job in its final state, or
// nil when nothing was pending. A job failure is not a tick error; the
// returned job then carries FAILED and its logs.
func (s *Scheduler) Tick(ctx context.Context) (*domain.BatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observePending(ctx)

	job, err := s.jobs.ClaimNextSubmitted(ctx)
	if err != nil {
		s.m.ticksTotal.WithLabelValues("error").Inc()
		return nil, errors.Wrap(err, "claim next batch job")
	}
	if job == nil {
		s.m.ticksTotal.WithLabelValues("idle").Inc()
		return nil, nil
	}

	// A claimed job must reach a terminal state even if the loop is stopping.
	if err := s.processor.Process(context.WithoutCancel(ctx), *job); err != nil {
		logs := err.Error()
		job.Status = domain.JobStatusFailed
		job.Logs = &logs
		s.m.ticksTotal.WithLabelValues("failed").Inc()
	} else {
		job.Status = domain.JobStatusCompleted
		s.m.ticksTotal.WithLabelValues("completed").Inc()
	}
	return job, nil
}

func (s *Scheduler) observePending(ctx context.Context) {
	pending, err := s.jobs.CountByStatus(context.WithoutCancel(ctx), domain.JobStatusSubmitted)
	if err != nil {
		s.opts.Logger.WithError(err).Debug("ingestion: count pending jobs failed")
		return
	}
	s.m.pendingJobs.Set(float64(pending))
}
