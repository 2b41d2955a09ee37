package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/courier-backend/pkg/logger"
	"github.com/angelmondragon/courier-backend/pkg/metrics"
)

const defaultInterval = time.Minute

// ErrLockLost cancels the jobs of a cycle whose lock lease could not be
// renewed.
var ErrLockLost = errors.New("cron lock lost")

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service ticks every interval. On a tick with due jobs it takes the
// cluster lock, renews the lease in the background while the jobs run one
// after another, and releases it when they are done.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	if params.Registry == nil || params.Registry.Len() == 0 {
		return nil, fmt.Errorf("at least one cron job required")
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		registry: params.Registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
		now:      time.Now,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.runCycle(ctx); err != nil && ctx.Err() == nil {
			s.logg.Error(ctx, "cron cycle failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	due := s.registry.Due(s.now().UTC())
	if len(due) == 0 {
		return nil
	}

	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	if !locked {
		s.metrics.IncLockContended()
		s.logg.Debug(ctx, "cron lock held by another replica")
		return nil
	}

	jobsCtx, cancel := context.WithCancelCause(ctx)
	stopRenewal := s.renewLease(jobsCtx, cancel)
	defer func() {
		stopRenewal()
		cancel(nil)
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "failed to release cron lock", err)
		}
	}()

	for _, job := range due {
		if jobsCtx.Err() != nil {
			return context.Cause(jobsCtx)
		}
		s.runJob(jobsCtx, job)
	}
	return context.Cause(jobsCtx)
}

// renewLease refreshes the lock every third of its TTL until stopped. When
// the lease is gone it cancels ctx with ErrLockLost so running jobs stop
// before another replica starts them again.
func (s *Service) renewLease(ctx context.Context, cancel context.CancelCauseFunc) (stop func()) {
	every := s.lock.TTL() / 3
	if every <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				held, err := s.lock.Refresh(ctx)
				if err != nil {
					s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "cron lock refresh failed")
					continue
				}
				if !held {
					s.logg.Warn(ctx, "cron lock lease expired while jobs were running")
					cancel(ErrLockLost)
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "event": "cron.job"})
	start := s.now()
	err := job.Run(jobCtx)
	finished := s.now()
	elapsed := finished.Sub(start)
	s.metrics.ObserveRun(job.Name(), finished, elapsed, err)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return
	}
	s.logg.Info(jobCtx, "job completed")
}
