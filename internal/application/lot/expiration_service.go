package lot

import (
	"context"
	"time"

	"github.com/distflow/backend/internal/domain/lot"
	"github.com/distflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SystemActorID attributes sweeper-driven mutations in the audit columns
var SystemActorID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// ExpirationService handles automatic expiration of overdue lots
type ExpirationService struct {
	repo   lot.Repository
	events shared.EventPublisher
	logger *zap.Logger
}

// NewExpirationService creates a new ExpirationService
func NewExpirationService(repo lot.Repository, logger *zap.Logger) *ExpirationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpirationService{
		repo:   repo,
		logger: logger,
	}
}

// SetEventPublisher sets the event publisher for publishing sweep events
func (s *ExpirationService) SetEventPublisher(publisher shared.EventPublisher) {
	s.events = publisher
}

// SweepStats summarizes one expiry sweep run
type SweepStats struct {
	LotsExpired int64     `json:"lots_expired"`
	ProcessedAt time.Time `json:"processed_at"`
}

// ExpireOverdueLots flips every ACTIVE or QUARANTINE lot whose expiry date
// has passed to EXPIRED. The repository applies the flip as a single guarded
// statement, so re-running after a partial failure only touches lots still
// overdue.
func (s *ExpirationService) ExpireOverdueLots(ctx context.Context, agencyID *uuid.UUID) (*SweepStats, error) {
	now := time.Now()
	stats := &SweepStats{ProcessedAt: now}

	expired, err := s.repo.ExpireOverdue(ctx, agencyID, SystemActorID, now)
	if err != nil {
		s.logger.Error("Failed to expire overdue lots", zap.Error(err))
		return nil, err
	}

	stats.LotsExpired = expired
	if expired == 0 {
		s.logger.Debug("No overdue lots found")
		return stats, nil
	}

	if s.events != nil {
		scope := uuid.Nil
		if agencyID != nil {
			scope = *agencyID
		}
		event := lot.NewLotsExpiredEvent(scope, expired, SystemActorID)
		if err := s.events.Publish(ctx, event); err != nil {
			s.logger.Warn("Failed to publish lots expired event", zap.Error(err))
		}
	}

	s.logger.Info("Expired overdue lots",
		zap.Int64("count", expired),
		zap.Time("as_of", now),
	)

	return stats, nil
}
