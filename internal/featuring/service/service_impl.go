package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/siteloom/growth/internal/clock"
	"github.com/siteloom/growth/internal/config"
	"github.com/siteloom/growth/internal/featuring/domain"
	obsmetrics "github.com/siteloom/growth/internal/observability/metrics"
	"github.com/siteloom/growth/internal/scheduler/guard"
	scoredomain "github.com/siteloom/growth/internal/score/domain"
	sideeffectdomain "github.com/siteloom/growth/internal/sideeffect/domain"
	sitedomain "github.com/siteloom/growth/internal/site/domain"
	userdomain "github.com/siteloom/growth/internal/user/domain"
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
	SiteRepo       sitedomain.Repository
	UserRepo       userdomain.Repository
	SideEffectRepo sideeffectdomain.Repository
	ScoreService   scoredomain.Service
	ObsMetrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	clock          clock.Clock
	genID          *snowflake.Node
	rules          *config.GrowthRulesHolder
	repo           domain.Repository
	siteRepo       sitedomain.Repository
	userRepo       userdomain.Repository
	sideEffectRepo sideeffectdomain.Repository
	scoreService   scoredomain.Service
	obsMetrics     *obsmetrics.Metrics
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("featuring.service"),
		clock:          p.Clock,
		genID:          p.GenID,
		rules:          p.Rules,
		repo:           p.Repo,
		siteRepo:       p.SiteRepo,
		userRepo:       p.UserRepo,
		sideEffectRepo: p.SideEffectRepo,
		scoreService:   p.ScoreService,
		obsMetrics:     p.ObsMetrics,
	}
}

func (s *Service) EvaluateSite(ctx context.Context, siteID snowflake.ID) (*domain.EvaluateResult, error) {
	var result *domain.EvaluateResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		siteRepo := s.siteRepo.WithTx(tx)
		userRepo := s.userRepo.WithTx(tx)
		effectRepo := s.sideEffectRepo.WithTx(tx)

		site, err := siteRepo.GetForUpdate(ctx, siteID)
		if err != nil {
			return err
		}
		if site == nil {
			return domain.ErrSiteNotFound
		}
		if !sitedomain.Scoreable(site.Status) {
			result = &domain.EvaluateResult{SiteID: site.ID, Status: site.Status, Skipped: true}
			return nil
		}

		owner, err := userRepo.Get(ctx, site.UserID)
		if err != nil {
			return err
		}
		if owner == nil {
			return domain.ErrOwnerNotFound
		}

		rules := s.rules.Get().Featuring
		now := s.clock.Now()
		status := site.Status
		result = &domain.EvaluateResult{SiteID: site.ID}

		if site.ExternalShareCount >= rules.ShareThreshold {
			active, err := repo.GetActiveBySite(ctx, site.ID)
			if err != nil {
				return err
			}
			if active == nil {
				event := domain.FeaturingEvent{
					ID:          s.genID.Generate(),
					SiteID:      site.ID,
					TriggerType: domain.TriggerShareThreshold,
					Status:      domain.StatusActive,
					FeaturedAt:  now,
					ExpiresAt:   now.Add(durationForTier(rules, owner.SubscriptionTier)),
				}
				created, err := repo.CreateIfNoActive(ctx, event)
				if err != nil {
					return err
				}
				if created {
					result.FeaturingCreated = true
					result.ExpiresAt = &event.ExpiresAt
					if _, err := effectRepo.Append(ctx, sideeffectdomain.SideEffect{
						ID:     s.genID.Generate(),
						Kind:   sideeffectdomain.KindFeaturingCreated,
						SiteID: &site.ID,
						UserID: &site.UserID,
						Payload: datatypes.JSONMap{
							"site_id":            site.ID.String(),
							"featuring_event_id": event.ID.String(),
							"trigger":            string(event.TriggerType),
							"expires_at":         event.ExpiresAt.UTC().Format(time.RFC3339),
						},
						DedupeKey: sideeffectdomain.Dedupe("featuring_created", event.ID.String()),
					}); err != nil {
						return err
					}

					promoted, err := s.transition(ctx, siteRepo, effectRepo, site.ID, sitedomain.StatusActive, sitedomain.StatusFeatured, "share_threshold")
					if err != nil {
						return err
					}
					if promoted {
						status = sitedomain.StatusFeatured
					}
				}
			}
		}

		if site.ViralScore >= rules.ViralScoreThreshold && owner.SubscriptionTier.Rank() >= userdomain.TierPro.Rank() {
			if status == sitedomain.StatusActive || status == sitedomain.StatusFeatured {
				promoted, err := s.transition(ctx, siteRepo, effectRepo, site.ID, status, sitedomain.StatusViral, "viral_score")
				if err != nil {
					return err
				}
				if promoted {
					status = sitedomain.StatusViral
					result.WentViral = true
				}
			}
		}

		result.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) ExpireDue(ctx context.Context, batchSize int) (*domain.ExpireResult, error) {
	result := &domain.ExpireResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		siteRepo := s.siteRepo.WithTx(tx)
		effectRepo := s.sideEffectRepo.WithTx(tx)

		now := s.clock.Now()
		claimStart := time.Now()
		due, err := repo.ClaimDue(ctx, now, batchSize)
		obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceFeaturingForWork, time.Since(claimStart))
		if err != nil {
			return err
		}

		for _, event := range due {
			marked, err := repo.MarkExpired(ctx, event.ID, now)
			if err != nil {
				return err
			}
			if !marked {
				continue
			}
			result.Expired++

			if _, err := effectRepo.Append(ctx, sideeffectdomain.SideEffect{
				ID:     s.genID.Generate(),
				Kind:   sideeffectdomain.KindFeaturingExpired,
				SiteID: &event.SiteID,
				Payload: datatypes.JSONMap{
					"site_id":            event.SiteID.String(),
					"featuring_event_id": event.ID.String(),
					"expired_at":         now.UTC().Format(time.RFC3339),
				},
				DedupeKey: sideeffectdomain.Dedupe("featuring_expired", event.ID.String()),
			}); err != nil {
				return err
			}

			other, err := repo.GetActiveBySite(ctx, event.SiteID)
			if err != nil {
				return err
			}
			if other != nil {
				continue
			}
			reverted, err := s.transition(ctx, siteRepo, effectRepo, event.SiteID, sitedomain.StatusFeatured, sitedomain.StatusActive, "expiry")
			if err != nil {
				return err
			}
			if reverted {
				result.Reverted++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Expired > 0 {
		s.log.Info("featuring events expired",
			zap.Int("expired", result.Expired),
			zap.Int("reverted", result.Reverted),
		)
	}
	return result, nil
}

func (s *Service) ReevaluateViral(ctx context.Context, batchSize int) (*domain.ViralResult, error) {
	ids, err := s.siteRepo.ListIDsByStatus(ctx, sitedomain.StatusViral, batchSize)
	if err != nil {
		return nil, err
	}

	result := &domain.ViralResult{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := s.scoreService.RecomputeSite(ctx, id); err != nil {
			s.log.Warn("viral re-score failed",
				zap.String("site_id", id.String()),
				zap.Error(err),
			)
			continue
		}
		result.Checked++

		demoted, err := s.demoteIfBelowThreshold(ctx, id)
		if err != nil {
			s.log.Warn("viral demotion failed",
				zap.String("site_id", id.String()),
				zap.Error(err),
			)
			continue
		}
		if demoted {
			result.Demoted++
		}
	}
	return result, nil
}

func (s *Service) demoteIfBelowThreshold(ctx context.Context, siteID snowflake.ID) (bool, error) {
	demoted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		siteRepo := s.siteRepo.WithTx(tx)
		effectRepo := s.sideEffectRepo.WithTx(tx)

		site, err := siteRepo.GetForUpdate(ctx, siteID)
		if err != nil {
			return err
		}
		if site == nil || site.Status != sitedomain.StatusViral {
			return nil
		}
		if site.ViralScore >= s.rules.Get().Featuring.ViralScoreThreshold {
			return nil
		}

		to := sitedomain.StatusActive
		active, err := repo.GetActiveBySite(ctx, site.ID)
		if err != nil {
			return err
		}
		if active != nil && active.ExpiresAt.After(s.clock.Now()) {
			to = sitedomain.StatusFeatured
		}

		demoted, err = s.transition(ctx, siteRepo, effectRepo, site.ID, sitedomain.StatusViral, to, "reevaluation")
		return err
	})
	return demoted, err
}

func (s *Service) FeatureManually(ctx context.Context, siteID snowflake.ID) (*domain.EvaluateResult, error) {
	var result *domain.EvaluateResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		siteRepo := s.siteRepo.WithTx(tx)
		userRepo := s.userRepo.WithTx(tx)
		effectRepo := s.sideEffectRepo.WithTx(tx)

		site, err := siteRepo.GetForUpdate(ctx, siteID)
		if err != nil {
			return err
		}
		if site == nil {
			return domain.ErrSiteNotFound
		}
		if !sitedomain.Scoreable(site.Status) {
			result = &domain.EvaluateResult{SiteID: site.ID, Status: site.Status, Skipped: true}
			return nil
		}

		owner, err := userRepo.Get(ctx, site.UserID)
		if err != nil {
			return err
		}
		if owner == nil {
			return domain.ErrOwnerNotFound
		}

		result = &domain.EvaluateResult{SiteID: site.ID, Status: site.Status}

		now := s.clock.Now()
		event := domain.FeaturingEvent{
			ID:          s.genID.Generate(),
			SiteID:      site.ID,
			TriggerType: domain.TriggerManual,
			Status:      domain.StatusActive,
			FeaturedAt:  now,
			ExpiresAt:   now.Add(durationForTier(s.rules.Get().Featuring, owner.SubscriptionTier)),
		}
		created, err := repo.CreateIfNoActive(ctx, event)
		if err != nil {
			return err
		}
		if !created {
			return nil
		}
		result.FeaturingCreated = true
		result.ExpiresAt = &event.ExpiresAt

		if _, err := effectRepo.Append(ctx, sideeffectdomain.SideEffect{
			ID:     s.genID.Generate(),
			Kind:   sideeffectdomain.KindFeaturingCreated,
			SiteID: &site.ID,
			UserID: &site.UserID,
			Payload: datatypes.JSONMap{
				"site_id":            site.ID.String(),
				"featuring_event_id": event.ID.String(),
				"trigger":            string(event.TriggerType),
				"expires_at":         event.ExpiresAt.UTC().Format(time.RFC3339),
			},
			DedupeKey: sideeffectdomain.Dedupe("featuring_created", event.ID.String()),
		}); err != nil {
			return err
		}

		promoted, err := s.transition(ctx, siteRepo, effectRepo, site.ID, sitedomain.StatusActive, sitedomain.StatusFeatured, string(domain.TriggerManual))
		if err != nil {
			return err
		}
		if promoted {
			result.Status = sitedomain.StatusFeatured
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) GetActive(ctx context.Context, siteID snowflake.ID) (*domain.FeaturingEvent, error) {
	return s.repo.GetActiveBySite(ctx, siteID)
}

func (s *Service) ListBySite(ctx context.Context, siteID snowflake.ID) ([]domain.FeaturingEvent, error) {
	return s.repo.ListBySite(ctx, siteID)
}

// transition applies a guarded status change and records the side effect and
// metrics when it fires.
func (s *Service) transition(ctx context.Context, siteRepo sitedomain.Repository, effectRepo sideeffectdomain.Repository, siteID snowflake.ID, from, to sitedomain.SiteStatus, trigger string) (bool, error) {
	if err := guard.EnsureSiteTransition(from, to); err != nil {
		return false, err
	}
	changed, err := siteRepo.UpdateStatusGuarded(ctx, siteID, from, to)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	if _, err := effectRepo.Append(ctx, sideeffectdomain.SideEffect{
		ID:     s.genID.Generate(),
		Kind:   sideeffectdomain.KindSetSiteStatus,
		SiteID: &siteID,
		Payload: datatypes.JSONMap{
			"site_id": siteID.String(),
			"from":    string(from),
			"status":  string(to),
			"trigger": trigger,
		},
	}); err != nil {
		return false, err
	}

	s.obsMetrics.RecordFeaturingTransition(ctx, string(from), string(to), trigger)
	obsmetrics.Scheduler().IncSiteTransition(string(from), string(to))
	s.log.Info("site status transition",
		zap.String("site_id", siteID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("trigger", trigger),
	)
	return true, nil
}

func durationForTier(rules config.FeaturingRules, tier userdomain.SubscriptionTier) time.Duration {
	if d, ok := rules.Durations[string(tier)]; ok && d > 0 {
		return d
	}
	if d := rules.Durations[string(userdomain.TierFree)]; d > 0 {
		return d
	}
	return 168 * time.Hour
}
