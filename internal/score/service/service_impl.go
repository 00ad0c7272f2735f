package service

import (
	"context"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/siteloom/growth/internal/clock"
	"github.com/siteloom/growth/internal/config"
	eventdomain "github.com/siteloom/growth/internal/event/domain"
	obsmetrics "github.com/siteloom/growth/internal/observability/metrics"
	"github.com/siteloom/growth/internal/score/domain"
	sitedomain "github.com/siteloom/growth/internal/site/domain"
	userdomain "github.com/siteloom/growth/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Platform weights and per-share boosts are fixed algorithm constants, not
// configuration.
var platformWeight = map[eventdomain.Platform]float64{
	eventdomain.PlatformTwitter:    5.0,
	eventdomain.PlatformLinkedIn:   4.0,
	eventdomain.PlatformReddit:     6.0,
	eventdomain.PlatformHackerNews: 8.0,
	eventdomain.PlatformFacebook:   3.0,
	eventdomain.PlatformEmail:      4.0,
	eventdomain.PlatformOther:      2.0,
}

var perShareBoost = map[eventdomain.Platform]float64{
	eventdomain.PlatformTwitter:    1.5,
	eventdomain.PlatformLinkedIn:   1.3,
	eventdomain.PlatformReddit:     2.0,
	eventdomain.PlatformHackerNews: 2.5,
	eventdomain.PlatformFacebook:   1.2,
	eventdomain.PlatformEmail:      1.4,
	eventdomain.PlatformOther:      1.0,
}

const defaultEngagementWeight = 0.1

var engagementWeight = map[eventdomain.AnalyticsType]float64{
	eventdomain.AnalyticsPageView:      0.1,
	eventdomain.AnalyticsEngagement:    0.5,
	eventdomain.AnalyticsConversion:    2.0,
	eventdomain.AnalyticsReferralClick: 1.0,
}

var tierBonus = map[userdomain.SubscriptionTier]float64{
	userdomain.TierFree:       1.0,
	userdomain.TierPro:        1.3,
	userdomain.TierBusiness:   1.5,
	userdomain.TierEnterprise: 1.8,
}

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Rules      *config.GrowthRulesHolder
	SiteRepo   sitedomain.Repository
	UserRepo   userdomain.Repository
	EventRepo  eventdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	rules      *config.GrowthRulesHolder
	siteRepo   sitedomain.Repository
	userRepo   userdomain.Repository
	eventRepo  eventdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("score.service"),
		clock:      p.Clock,
		rules:      p.Rules,
		siteRepo:   p.SiteRepo,
		userRepo:   p.UserRepo,
		eventRepo:  p.EventRepo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) ComputeViralScore(ctx context.Context, siteID snowflake.ID) (float64, error) {
	site, err := s.siteRepo.Get(ctx, siteID)
	if err != nil {
		return 0, err
	}
	if site == nil {
		return 0, domain.ErrSiteNotFound
	}

	owner, err := s.userRepo.Get(ctx, site.UserID)
	if err != nil {
		return 0, err
	}
	if owner == nil {
		return 0, domain.ErrOwnerNotFound
	}

	shares, engagement, err := s.countEvents(ctx, s.eventRepo, site.ID)
	if err != nil {
		return 0, err
	}
	site.ShareCount = shares.Total
	site.ExternalShareCount = shares.External

	breakdown, err := compute(site, owner.SubscriptionTier, shares, engagement, s.clock.Now())
	if err != nil {
		return 0, err
	}
	return breakdown.Score, nil
}

func (s *Service) RecomputeSite(ctx context.Context, siteID snowflake.ID) (*domain.RecomputeResult, error) {
	var result *domain.RecomputeResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		siteRepo := s.siteRepo.WithTx(tx)
		eventRepo := s.eventRepo.WithTx(tx)
		userRepo := s.userRepo.WithTx(tx)

		site, err := siteRepo.GetForUpdate(ctx, siteID)
		if err != nil {
			return err
		}
		if site == nil {
			return domain.ErrSiteNotFound
		}

		if !sitedomain.Scoreable(site.Status) {
			result = &domain.RecomputeResult{
				SiteID:  site.ID,
				OwnerID: site.UserID,
				Status:  site.Status,
				Skipped: true,
			}
			return nil
		}

		owner, err := userRepo.Get(ctx, site.UserID)
		if err != nil {
			return err
		}
		if owner == nil {
			return domain.ErrOwnerNotFound
		}

		shares, engagement, err := s.countEvents(ctx, eventRepo, site.ID)
		if err != nil {
			return err
		}
		site.ShareCount = shares.Total
		site.ExternalShareCount = shares.External

		breakdown, err := compute(site, owner.SubscriptionTier, shares, engagement, s.clock.Now())
		if err != nil {
			return err
		}

		if err := siteRepo.ApplyScore(ctx, site.ID, sitedomain.ScoreUpdate{
			ViralScore:         breakdown.Score,
			ShareCount:         shares.Total,
			ExternalShareCount: shares.External,
		}); err != nil {
			return err
		}

		ownerScore, err := siteRepo.SumScoreByUser(ctx, site.UserID)
		if err != nil {
			return err
		}
		if err := userRepo.ApplyViralScore(ctx, site.UserID, round2(ownerScore)); err != nil {
			return err
		}

		result = &domain.RecomputeResult{
			SiteID:             site.ID,
			OwnerID:            site.UserID,
			Status:             site.Status,
			Score:              breakdown.Score,
			ShareCount:         shares.Total,
			ExternalShareCount: shares.External,
			OwnerScore:         round2(ownerScore),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordScoreRecompute(ctx)
	}
	if !result.Skipped {
		s.log.Debug("site score recomputed",
			zap.String("site_id", siteID.String()),
			zap.Float64("score", result.Score),
		)
	}
	return result, nil
}

// countEvents recounts a site's activity from the event log. The caller picks
// the repository so recounts inside a transaction stay on that transaction.
func (s *Service) countEvents(ctx context.Context, eventRepo eventdomain.Repository, siteID snowflake.ID) (eventdomain.ShareCounts, eventdomain.AnalyticsCounts, error) {
	shares, err := eventRepo.CountShares(ctx, siteID)
	if err != nil {
		return eventdomain.ShareCounts{}, eventdomain.AnalyticsCounts{}, err
	}

	windowDays := s.rules.Get().Engagement.WindowDays
	since := s.clock.Now().Add(-time.Duration(windowDays) * 24 * time.Hour)
	engagement, err := eventRepo.CountAnalyticsSince(ctx, siteID, since)
	if err != nil {
		return eventdomain.ShareCounts{}, eventdomain.AnalyticsCounts{}, err
	}
	return shares, engagement, nil
}

// compute derives the score breakdown. The share counters on the passed site
// must already be recounted from the log.
func compute(site *sitedomain.Site, ownerTier userdomain.SubscriptionTier, shares eventdomain.ShareCounts, engagement eventdomain.AnalyticsCounts, now time.Time) (*domain.Breakdown, error) {
	if site.PageviewCount < 0 || site.LikeCount < 0 || site.CommentCount < 0 ||
		site.ShareCount < 0 || site.ExternalShareCount < 0 {
		return nil, domain.ErrNegativeCounters
	}

	base := float64(site.PageviewCount)*0.1 + float64(site.LikeCount)*2.0 + float64(site.CommentCount)*3.0

	var shareScore float64
	for platform, count := range shares.ByPlatform {
		if count < 0 {
			return nil, domain.ErrNegativeCounters
		}
		weight, ok := platformWeight[platform]
		if !ok {
			weight = platformWeight[eventdomain.PlatformOther]
		}
		boost, ok := perShareBoost[platform]
		if !ok {
			boost = perShareBoost[eventdomain.PlatformOther]
		}
		shareScore += float64(count) * weight * boost
	}

	var engagementScore float64
	for eventType, count := range engagement.ByType {
		if count < 0 {
			return nil, domain.ErrNegativeCounters
		}
		weight, ok := engagementWeight[eventType]
		if !ok {
			weight = defaultEngagementWeight
		}
		engagementScore += float64(count) * weight
	}

	decay := timeDecay(now.Sub(site.CreatedAt))
	bonus, ok := tierBonus[ownerTier]
	if !ok {
		bonus = tierBonus[userdomain.TierFree]
	}

	score := round2((base + shareScore + engagementScore) * decay * bonus)
	if score < 0 {
		return nil, domain.ErrNegativeCounters
	}

	return &domain.Breakdown{
		Base:            base,
		ShareScore:      shareScore,
		EngagementScore: engagementScore,
		TimeDecay:       decay,
		TierBonus:       bonus,
		Score:           score,
	}, nil
}

func timeDecay(age time.Duration) float64 {
	days := age.Hours() / 24
	switch {
	case days <= 7:
		return 1.2
	case days <= 30:
		return 1.0
	case days <= 90:
		return 0.8
	default:
		return 0.6
	}
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
