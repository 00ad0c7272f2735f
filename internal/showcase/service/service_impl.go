package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/siteloom/growth/internal/clock"
	"github.com/siteloom/growth/internal/config"
	obsmetrics "github.com/siteloom/growth/internal/observability/metrics"
	"github.com/siteloom/growth/internal/showcase/domain"
	sideeffectdomain "github.com/siteloom/growth/internal/sideeffect/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	Clock          clock.Clock
	GenID          *snowflake.Node
	Rules          *config.GrowthRulesHolder
	Repo           domain.Repository
	SideEffectRepo sideeffectdomain.Repository
	ObsMetrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	clock          clock.Clock
	genID          *snowflake.Node
	rules          *config.GrowthRulesHolder
	repo           domain.Repository
	sideEffectRepo sideeffectdomain.Repository
	obsMetrics     *obsmetrics.Metrics
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("showcase.service"),
		clock:          p.Clock,
		genID:          p.GenID,
		rules:          p.Rules,
		repo:           p.Repo,
		sideEffectRepo: p.SideEffectRepo,
		obsMetrics:     p.ObsMetrics,
	}
}

func (s *Service) Refresh(ctx context.Context) (*domain.RefreshResult, error) {
	result := &domain.RefreshResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		effectRepo := s.sideEffectRepo.WithTx(tx)

		rules := s.rules.Get().Showcase
		now := s.clock.Now()

		aged, err := repo.DeleteOlderThan(ctx, now.AddDate(0, 0, -rules.RetentionDays))
		if err != nil {
			return err
		}
		result.EvictedAged = int(aged)

		ineligible, err := repo.DeleteIneligible(ctx)
		if err != nil {
			return err
		}
		result.EvictedIneligible = int(ineligible)

		count, err := repo.Count(ctx)
		if err != nil {
			return err
		}
		if remaining := rules.Cap - int(count); remaining > 0 {
			candidates, err := repo.SelectCandidates(ctx, remaining)
			if err != nil {
				return err
			}
			for _, candidate := range candidates {
				admitted, err := repo.InsertIfAbsent(ctx, domain.ShowcaseEntry{
					ID:                 s.genID.Generate(),
					SiteID:             candidate.SiteID,
					ViralScore:         candidate.ViralScore,
					ExternalShareCount: candidate.ExternalShareCount,
					AdmittedAt:         now,
				})
				if err != nil {
					return err
				}
				if admitted {
					result.Admitted++
				}
			}
		}

		// Re-rank the surviving set against live counters so ranks stay
		// contiguous and deterministic.
		ranked, err := repo.RankedSites(ctx)
		if err != nil {
			return err
		}
		for i, candidate := range ranked {
			if err := repo.UpdateRank(ctx, candidate.SiteID, i+1, candidate.ViralScore, candidate.ExternalShareCount); err != nil {
				return err
			}
		}
		result.Size = int64(len(ranked))

		if result.Admitted > 0 || result.EvictedAged > 0 || result.EvictedIneligible > 0 {
			if _, err := effectRepo.Append(ctx, sideeffectdomain.SideEffect{
				ID:   s.genID.Generate(),
				Kind: sideeffectdomain.KindShowcaseUpdated,
				Payload: datatypes.JSONMap{
					"admitted":           result.Admitted,
					"evicted_aged":       result.EvictedAged,
					"evicted_ineligible": result.EvictedIneligible,
					"size":               result.Size,
				},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordShowcaseAdmission(ctx, result.Admitted)
	if result.Admitted > 0 || result.EvictedAged > 0 || result.EvictedIneligible > 0 {
		s.log.Info("showcase refreshed",
			zap.Int("admitted", result.Admitted),
			zap.Int("evicted_aged", result.EvictedAged),
			zap.Int("evicted_ineligible", result.EvictedIneligible),
			zap.Int64("size", result.Size),
		)
	}
	return result, nil
}

func (s *Service) List(ctx context.Context) ([]domain.ShowcaseEntry, error) {
	return s.repo.List(ctx)
}
