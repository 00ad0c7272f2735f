package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/siteloom/growth/internal/clock"
	referraldomain "github.com/siteloom/growth/internal/referral/domain"
	sitedomain "github.com/siteloom/growth/internal/site/domain"
	"github.com/siteloom/growth/internal/tier/domain"
	userdomain "github.com/siteloom/growth/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	UserRepo     userdomain.Repository
	SiteRepo     sitedomain.Repository
	ReferralRepo referraldomain.Repository
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	userRepo     userdomain.Repository
	siteRepo     sitedomain.Repository
	referralRepo referraldomain.Repository
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("tier.service"),
		clock:        p.Clock,
		userRepo:     p.UserRepo,
		siteRepo:     p.SiteRepo,
		referralRepo: p.ReferralRepo,
	}
}

func (s *Service) RecomputeUserGrowth(ctx context.Context, userID snowflake.ID) (*domain.GrowthResult, error) {
	var result *domain.GrowthResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		userRepo := s.userRepo.WithTx(tx)
		siteRepo := s.siteRepo.WithTx(tx)

		user, err := userRepo.GetForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return domain.ErrUserNotFound
		}

		totalShares, err := siteRepo.SumExternalSharesByUser(ctx, userID)
		if err != nil {
			return err
		}

		boost := domain.ClassifyBoost(totalShares)
		changed := user.BoostLevel != boost.Level ||
			user.ViralCoefficient != boost.Coefficient ||
			user.TotalShares != totalShares

		if changed {
			if err := userRepo.ApplyGrowth(ctx, userID, userdomain.GrowthUpdate{
				TotalShares:      totalShares,
				ViralCoefficient: boost.Coefficient,
				BoostLevel:       boost.Level,
			}); err != nil {
				return err
			}
		}

		result = &domain.GrowthResult{
			UserID:      userID,
			TotalShares: totalShares,
			Level:       boost.Level,
			Coefficient: boost.Coefficient,
			Changed:     changed,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Changed {
		s.log.Info("boost level recomputed",
			zap.String("user_id", userID.String()),
			zap.Int64("total_shares", result.TotalShares),
			zap.String("boost_level", string(result.Level)),
		)
	}
	return result, nil
}

func (s *Service) EvaluateCommission(ctx context.Context, referrerID snowflake.ID) (*domain.CommissionResult, error) {
	var result *domain.CommissionResult
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

		months := 0
		earliest, err := referralRepo.EarliestActivatedAt(ctx, referrerID)
		if err != nil {
			return err
		}
		if earliest != nil {
			months = domain.RelationshipMonths(*earliest, s.clock.Now())
		}

		tier := domain.ClassifyCommission(months)
		changed := user.CommissionTier != tier

		var startedAt *time.Time
		if changed {
			now := s.clock.Now()
			startedAt = &now
		}
		if err := userRepo.ApplyCommission(ctx, referrerID, tier, startedAt); err != nil {
			return err
		}

		result = &domain.CommissionResult{
			UserID:             referrerID,
			RelationshipMonths: months,
			Tier:               tier,
			Rate:               tier.Rate(),
			Changed:            changed,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Changed {
		s.log.Info("commission tier changed",
			zap.String("user_id", referrerID.String()),
			zap.Int("relationship_months", result.RelationshipMonths),
			zap.String("commission_tier", string(result.Tier)),
		)
	}
	return result, nil
}
