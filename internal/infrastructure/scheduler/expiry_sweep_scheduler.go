package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	lotapp "github.com/distflow/backend/internal/application/lot"
	"github.com/distflow/backend/internal/infrastructure/config"
	"github.com/distflow/backend/internal/infrastructure/logger"
)

// ExpirySweeper is the slice of the lot application service the scheduler
// drives.
type ExpirySweeper interface {
	ExpireOverdueLots(ctx context.Context, agencyID *uuid.UUID) (*lotapp.SweepStats, error)
}

// SweepLock gates sweep runs so only one instance sweeps per tick.
type SweepLock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// NoopLock always grants the lease. For single-instance deployments and
// tests.
type NoopLock struct{}

func (NoopLock) Acquire(context.Context) (bool, error) { return true, nil }
func (NoopLock) Release(context.Context) error         { return nil }

// ExpirySweepScheduler runs the expiry sweep on a cron schedule. Each tick
// acquires the leader lock, sweeps all agencies with a bounded timeout, and
// releases the lock.
type ExpirySweepScheduler struct {
	sweeper ExpirySweeper
	lock    SweepLock
	cfg     config.SweeperConfig
	logger  *zap.Logger
	cron    *cron.Cron
	entryID cron.EntryID
}

func NewExpirySweepScheduler(
	sweeper ExpirySweeper,
	lock SweepLock,
	cfg config.SweeperConfig,
	log *zap.Logger,
) *ExpirySweepScheduler {
	if lock == nil {
		lock = NoopLock{}
	}
	return &ExpirySweepScheduler{
		sweeper: sweeper,
		lock:    lock,
		cfg:     cfg,
		logger:  log,
		cron:    cron.New(),
	}
}

func (s *ExpirySweepScheduler) Start() error {
	if !s.cfg.Enabled {
		s.logger.Info("expiry sweep scheduler disabled")
		return nil
	}

	entryID, err := s.cron.AddFunc(s.cfg.CronSchedule, s.runSweep)
	if err != nil {
		return fmt.Errorf("invalid sweep cron schedule %q: %w", s.cfg.CronSchedule, err)
	}
	s.entryID = entryID

	s.cron.Start()
	s.logger.Info("expiry sweep scheduler started",
		zap.String("schedule", s.cfg.CronSchedule),
		zap.Duration("job_timeout", s.cfg.JobTimeout),
	)
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *ExpirySweepScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("expiry sweep scheduler stopped")
}

// RunOnce executes a single sweep outside the schedule, for the --once flag
// and for tests.
func (s *ExpirySweepScheduler) RunOnce(ctx context.Context) error {
	return s.sweep(ctx)
}

func (s *ExpirySweepScheduler) runSweep() {
	ctx := context.Background()
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	if err := s.sweep(ctx); err != nil {
		s.logger.Error("expiry sweep failed", zap.Error(err))
	}
}

func (s *ExpirySweepScheduler) sweep(ctx context.Context) error {
	jobID := uuid.New().String()
	ctx, log := logger.WithJobID(ctx, s.logger, jobID)

	acquired, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("sweep %s: %w", jobID, err)
	}
	if !acquired {
		log.Debug("another instance holds the sweep lock, skipping")
		return nil
	}
	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			log.Warn("failed to release sweep lock", zap.Error(err))
		}
	}()

	stats, err := s.sweeper.ExpireOverdueLots(ctx, nil)
	if err != nil {
		return fmt.Errorf("sweep %s: %w", jobID, err)
	}

	log.Info("expiry sweep completed",
		zap.Int64("lots_expired", stats.LotsExpired),
		zap.Time("processed_at", stats.ProcessedAt),
	)
	return nil
}
