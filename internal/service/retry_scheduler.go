package service

import (
	"context"
	"fmt"
	"time"

	"txrelay/internal/core/ports"
	"txrelay/pkg/clock"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// RetryScheduler drives the delivery engine's time-based sweeps: two
// ticker-based BaseWorkers for due-retry and hang recovery, plus
// cron-scheduled daily cleanup and weekly reporting, grounded on
// overtonx-outbox's Dispatcher/BaseWorker pair generalized from a single
// poll loop into several independently scheduled sweeps.
type RetryScheduler struct {
	deliveries ports.DeliveryRepository
	delivery   *DeliveryService
	lock       ports.DistributedLock
	clock      clock.Clock
	sweepLimit int
	hangAfter  time.Duration
	cleanupAge time.Duration
	log        zerolog.Logger

	dueRetryWorker *BaseWorker
	hangWorker     *BaseWorker
	cronRunner     *cron.Cron
	weeklyReport   func(ctx context.Context) error
}

// NewRetryScheduler creates a RetryScheduler. lock may be nil, in which
// case every instance in a multi-instance deployment runs every sweep
// (acceptable: all delivery-engine operations are idempotent).
func NewRetryScheduler(
	deliveries ports.DeliveryRepository,
	delivery *DeliveryService,
	lock ports.DistributedLock,
	c clock.Clock,
	dueRetryInterval, hangSweepInterval, hangAfter, cleanupAge time.Duration,
	sweepLimit int,
	cleanupCronExpr, weeklyReportCronExpr string,
	weeklyReport func(ctx context.Context) error,
	log zerolog.Logger,
) (*RetryScheduler, error) {
	s := &RetryScheduler{
		deliveries:   deliveries,
		delivery:     delivery,
		lock:         lock,
		clock:        c,
		sweepLimit:   sweepLimit,
		hangAfter:    hangAfter,
		cleanupAge:   cleanupAge,
		log:          log,
		weeklyReport: weeklyReport,
	}
	s.dueRetryWorker = NewBaseWorker("retry-scheduler.due-retries", dueRetryInterval, log, s.sweepDueRetries)
	s.hangWorker = NewBaseWorker("retry-scheduler.hang-recovery", hangSweepInterval, log, s.sweepHung)

	s.cronRunner = cron.New(cron.WithParser(cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	if _, err := s.cronRunner.AddFunc(cleanupCronExpr, func() { s.runCleanup(context.Background()) }); err != nil {
		return nil, fmt.Errorf("scheduling cleanup sweep: %w", err)
	}
	if weeklyReport != nil {
		if _, err := s.cronRunner.AddFunc(weeklyReportCronExpr, func() { s.runWeeklyReport(context.Background()) }); err != nil {
			return nil, fmt.Errorf("scheduling weekly report: %w", err)
		}
	}
	return s, nil
}

// Start launches both ticker sweeps and the cron runner.
func (s *RetryScheduler) Start(ctx context.Context) {
	go s.dueRetryWorker.Start(ctx)
	go s.hangWorker.Start(ctx)
	s.cronRunner.Start()
}

// Stop halts both ticker sweeps and the cron runner, waiting for any
// in-flight sweep to finish.
func (s *RetryScheduler) Stop() {
	s.dueRetryWorker.Stop()
	s.hangWorker.Stop()
	<-s.cronRunner.Stop().Done()
}

func (s *RetryScheduler) withLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if s.lock == nil {
		return fn(ctx)
	}
	acquired, err := s.lock.TryAcquire(ctx, name, 5*time.Minute)
	if err != nil {
		return fmt.Errorf("acquiring sweep lock %s: %w", name, err)
	}
	if !acquired {
		s.log.Debug().Str("lock", name).Msg("retry scheduler: another instance holds the sweep lock")
		return nil
	}
	defer func() {
		if err := s.lock.Release(ctx, name); err != nil {
			s.log.Warn().Err(err).Str("lock", name).Msg("releasing sweep lock failed")
		}
	}()
	return fn(ctx)
}

// sweepDueRetries republishes every RetryScheduled delivery whose
// NextRetryAt has elapsed.
func (s *RetryScheduler) sweepDueRetries(ctx context.Context) error {
	return s.withLock(ctx, "retry-scheduler:due-retries", func(ctx context.Context) error {
		due, err := s.deliveries.ListDueForRetry(ctx, s.clock.Now(), s.sweepLimit)
		if err != nil {
			return fmt.Errorf("list due-for-retry deliveries: %w", err)
		}
		for i := range due {
			if err := s.delivery.RequeueDelivery(ctx, &due[i]); err != nil {
				s.log.Error().Err(err).Str("delivery_id", due[i].ID.String()).Msg("retry scheduler: requeue failed")
			}
		}
		if len(due) > 0 {
			s.log.Info().Int("count", len(due)).Msg("retry scheduler: requeued due retries")
		}
		return nil
	})
}

// sweepHung recovers deliveries stuck in Processing past hangAfter.
func (s *RetryScheduler) sweepHung(ctx context.Context) error {
	return s.withLock(ctx, "retry-scheduler:hang-recovery", func(ctx context.Context) error {
		hung, err := s.deliveries.ListStaleProcessing(ctx, s.clock.Now().Add(-s.hangAfter), s.sweepLimit)
		if err != nil {
			return fmt.Errorf("list stale processing deliveries: %w", err)
		}
		for i := range hung {
			if err := s.delivery.HandleHang(ctx, &hung[i]); err != nil {
				s.log.Error().Err(err).Str("delivery_id", hung[i].ID.String()).Msg("retry scheduler: hang recovery failed")
			}
		}
		if len(hung) > 0 {
			s.log.Warn().Int("count", len(hung)).Msg("retry scheduler: recovered hung deliveries")
		}
		return nil
	})
}

func (s *RetryScheduler) runCleanup(ctx context.Context) {
	err := s.withLock(ctx, "retry-scheduler:cleanup", func(ctx context.Context) error {
		purged, err := s.deliveries.PurgeTerminalOlderThan(ctx, s.clock.Now().Add(-s.cleanupAge), s.sweepLimit)
		if err != nil {
			return fmt.Errorf("purge terminal deliveries: %w", err)
		}
		s.log.Info().Int64("purged", purged).Msg("retry scheduler: cleanup sweep complete")
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Msg("retry scheduler: cleanup sweep failed")
	}
}

func (s *RetryScheduler) runWeeklyReport(ctx context.Context) {
	if s.weeklyReport == nil {
		return
	}
	if err := s.weeklyReport(ctx); err != nil {
		s.log.Error().Err(err).Msg("retry scheduler: weekly report failed")
	}
}
