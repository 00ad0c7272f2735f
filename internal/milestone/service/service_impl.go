package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/siteloom/growth/internal/clock"
	"github.com/siteloom/growth/internal/config"
	"github.com/siteloom/growth/internal/milestone/domain"
	obsmetrics "github.com/siteloom/growth/internal/observability/metrics"
	referraldomain "github.com/siteloom/growth/internal/referral/domain"
	sideeffectdomain "github.com/siteloom/growth/internal/sideeffect/domain"
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
	UserRepo       userdomain.Repository
	ReferralRepo   referraldomain.Repository
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
	userRepo       userdomain.Repository
	referralRepo   referraldomain.Repository
	sideEffectRepo sideeffectdomain.Repository
	obsMetrics     *obsmetrics.Metrics
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("milestone.service"),
		clock:          p.Clock,
		genID:          p.GenID,
		rules:          p.Rules,
		repo:           p.Repo,
		userRepo:       p.UserRepo,
		referralRepo:   p.ReferralRepo,
		sideEffectRepo: p.SideEffectRepo,
		obsMetrics:     p.ObsMetrics,
	}
}

func (s *Service) OnReferralConverted(ctx context.Context, referrerID snowflake.ID) (*domain.ConversionOutcome, error) {
	outcome := &domain.ConversionOutcome{ReferrerID: referrerID}

	// The count commits on its own. A failed grant below must not undo it;
	// the grant is retried independently and the ledger key absorbs replays.
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		userRepo := s.userRepo.WithTx(tx)
		referralRepo := s.referralRepo.WithTx(tx)

		user, err := userRepo.GetForUpdate(ctx, referrerID)
		if err != nil {
			return err
		}
		if user == nil {
			return domain.ErrUserNotFound
		}

		count, err := referralRepo.CountConverted(ctx, referrerID)
		if err != nil {
			return err
		}
		outcome.ReferralsConverted = count
		return userRepo.ApplyReferralsConverted(ctx, referrerID, count)
	})
	if err != nil {
		return nil, err
	}

	rules := s.rules.Get().Milestone
	if outcome.ReferralsConverted < rules.ConvertedReferrals {
		return outcome, nil
	}

	if err := s.grant(ctx, outcome, rules); err != nil {
		return nil, err
	}

	if outcome.Granted {
		s.obsMetrics.RecordMilestoneGrant(ctx, domain.MilestoneName(rules.ConvertedReferrals), rules.GrantTier)
		s.log.Info("milestone grant issued",
			zap.String("user_id", referrerID.String()),
			zap.Int64("referrals_converted", outcome.ReferralsConverted),
			zap.String("tier", rules.GrantTier),
		)
	}
	return outcome, nil
}

func (s *Service) grant(ctx context.Context, outcome *domain.ConversionOutcome, rules config.MilestoneRules) error {
	milestone := domain.MilestoneName(rules.ConvertedReferrals)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		userRepo := s.userRepo.WithTx(tx)
		effectRepo := s.sideEffectRepo.WithTx(tx)

		user, err := userRepo.GetForUpdate(ctx, outcome.ReferrerID)
		if err != nil {
			return err
		}
		if user == nil {
			return domain.ErrUserNotFound
		}

		if user.SubscriptionTier != userdomain.TierFree {
			existing, err := repo.Get(ctx, outcome.ReferrerID, milestone)
			if err != nil {
				return err
			}
			outcome.AlreadyGranted = existing != nil
			return nil
		}

		grantTier := userdomain.SubscriptionTier(rules.GrantTier)
		if !userdomain.ValidTier(grantTier) {
			grantTier = userdomain.TierPro
		}

		now := s.clock.Now()
		expiresAt := now.AddDate(0, rules.GrantMonths, 0)
		created, err := repo.CreateIfAbsent(ctx, domain.TierGrant{
			ID:        s.genID.Generate(),
			UserID:    outcome.ReferrerID,
			Milestone: milestone,
			Tier:      grantTier,
			Status:    domain.GrantActive,
			GrantedAt: now,
			ExpiresAt: expiresAt,
		})
		if err != nil {
			return err
		}
		if !created {
			outcome.AlreadyGranted = true
			return nil
		}

		if err := userRepo.ApplyGrant(ctx, outcome.ReferrerID, grantTier, expiresAt); err != nil {
			return err
		}

		if _, err := effectRepo.Append(ctx, sideeffectdomain.SideEffect{
			ID:     s.genID.Generate(),
			Kind:   sideeffectdomain.KindGrantSubscriptionTier,
			UserID: &outcome.ReferrerID,
			Payload: datatypes.JSONMap{
				"user_id":    outcome.ReferrerID.String(),
				"milestone":  milestone,
				"tier":       string(grantTier),
				"expires_at": expiresAt.UTC().Format(time.RFC3339),
			},
			DedupeKey: sideeffectdomain.Dedupe("grant", outcome.ReferrerID.String(), milestone),
		}); err != nil {
			return err
		}

		outcome.Granted = true
		outcome.GrantExpiresAt = &expiresAt
		return nil
	})
}

func (s *Service) ExpireGrants(ctx context.Context, batchSize int) (*domain.ExpireResult, error) {
	result := &domain.ExpireResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		userRepo := s.userRepo.WithTx(tx)
		effectRepo := s.sideEffectRepo.WithTx(tx)

		now := s.clock.Now()
		claimStart := time.Now()
		grants, err := repo.ClaimExpirable(ctx, now, batchSize)
		obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceGrantsForExpiry, time.Since(claimStart))
		if err != nil {
			return err
		}

		for _, grant := range grants {
			marked, err := repo.MarkExpired(ctx, grant.ID, now)
			if err != nil {
				return err
			}
			if !marked {
				continue
			}
			result.Expired++

			reverted, err := userRepo.RevertGrant(ctx, grant.UserID)
			if err != nil {
				return err
			}
			if reverted {
				result.Reverted++
			}

			if _, err := effectRepo.Append(ctx, sideeffectdomain.SideEffect{
				ID:     s.genID.Generate(),
				Kind:   sideeffectdomain.KindGrantSubscriptionTier,
				UserID: &grant.UserID,
				Payload: datatypes.JSONMap{
					"user_id":   grant.UserID.String(),
					"milestone": grant.Milestone,
					"tier":      string(userdomain.TierFree),
					"reason":    "grant_expired",
				},
				DedupeKey: sideeffectdomain.Dedupe("grant_expired", grant.ID.String()),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Expired > 0 {
		s.log.Info("complimentary grants expired",
			zap.Int("expired", result.Expired),
			zap.Int("reverted", result.Reverted),
		)
	}
	return result, nil
}

func (s *Service) ListGrants(ctx context.Context, userID snowflake.ID) ([]domain.TierGrant, error) {
	return s.repo.ListByUser(ctx, userID)
}
