package service

import (
	"context"
	"time"

	"github.com/siteloom/growth/internal/clock"
	"github.com/siteloom/growth/internal/event/livefeed"
	obslogger "github.com/siteloom/growth/internal/observability/logger"
	obsmetrics "github.com/siteloom/growth/internal/observability/metrics"
	"github.com/siteloom/growth/internal/sideeffect/domain"
	"github.com/siteloom/growth/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       domain.Repository
	Hub        *livefeed.Hub       `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       domain.Repository
	hub        *livefeed.Hub
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("sideeffect.service"),
		clock:      p.Clock,
		repo:       p.Repo,
		hub:        p.Hub,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) DispatchPending(ctx context.Context, batchSize int) (*domain.DispatchResult, error) {
	result := &domain.DispatchResult{}
	var publishedKinds []domain.Kind

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		effects, err := repo.ClaimUnpublished(ctx, batchSize)
		if err != nil {
			return err
		}
		result.Claimed = len(effects)

		now := s.clock.Now()
		for _, effect := range effects {
			if err := repo.IncrementAttempts(ctx, effect.ID); err != nil {
				return err
			}

			s.publish(ctx, effect, now)

			marked, err := repo.MarkPublished(ctx, effect.ID, now)
			if err != nil {
				return err
			}
			if !marked {
				continue
			}
			result.Published++
			publishedKinds = append(publishedKinds, effect.Kind)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, kind := range publishedKinds {
		s.obsMetrics.RecordSideEffectPublished(ctx, string(kind))
	}
	if result.Published > 0 {
		s.log.Info("side effects dispatched",
			zap.Int("claimed", result.Claimed),
			zap.Int("published", result.Published),
		)
	}
	return result, nil
}

func (s *Service) PendingCount(ctx context.Context) (int64, error) {
	return s.repo.CountUnpublished(ctx)
}

// publish hands the effect to live feed subscribers. Delivery is best effort;
// the outbox row is the durable record.
func (s *Service) publish(ctx context.Context, effect domain.SideEffect, now time.Time) {
	// Restore the identifiers stamped at append time so dispatch logs line
	// up with the request that produced the record.
	ctx = correlation.ContextFromPayload(ctx, effect.Payload)
	obslogger.WithContext(ctx, s.log).Debug("side effect published",
		zap.String("effect_id", effect.ID.String()),
		zap.String("kind", string(effect.Kind)),
	)

	if s.hub == nil || effect.SiteID == nil {
		return
	}
	event := livefeed.LiveEvent{
		Kind:       string(effect.Kind),
		SiteID:     effect.SiteID.String(),
		Status:     livefeed.StatusPublished,
		Source:     livefeed.SourceDispatch,
		OccurredAt: now.UTC().Format(time.RFC3339),
	}
	if effect.UserID != nil {
		event.UserID = effect.UserID.String()
	}
	s.hub.Publish(event.SiteID, event)
}
