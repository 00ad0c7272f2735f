package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/siteloom/growth/internal/clock"
	"github.com/siteloom/growth/internal/config"
	eventdomain "github.com/siteloom/growth/internal/event/domain"
	eventrepository "github.com/siteloom/growth/internal/event/repository"
	"github.com/siteloom/growth/internal/score/domain"
	sitedomain "github.com/siteloom/growth/internal/site/domain"
	siterepository "github.com/siteloom/growth/internal/site/repository"
	userdomain "github.com/siteloom/growth/internal/user/domain"
	userrepository "github.com/siteloom/growth/internal/user/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func newSite(createdAt time.Time) *sitedomain.Site {
	return &sitedomain.Site{
		ID:        snowflake.ID(1001),
		UserID:    snowflake.ID(2001),
		Status:    sitedomain.StatusActive,
		CreatedAt: createdAt,
	}
}

func TestComputeSingleFreshShare(t *testing.T) {
	site := newSite(testNow.Add(-24 * time.Hour))
	site.ShareCount = 1
	site.ExternalShareCount = 1

	shares := eventdomain.ShareCounts{
		Total:      1,
		External:   1,
		ByPlatform: map[eventdomain.Platform]int64{eventdomain.PlatformTwitter: 1},
	}

	breakdown, err := compute(site, userdomain.TierFree, shares, eventdomain.AnalyticsCounts{}, testNow)
	require.NoError(t, err)

	// 1 twitter share: 5.0 weight x 1.5 boost, fresh site decay 1.2, free tier 1.0.
	assert.Equal(t, 7.5, breakdown.ShareScore)
	assert.Equal(t, 1.2, breakdown.TimeDecay)
	assert.Equal(t, 1.0, breakdown.TierBonus)
	assert.Equal(t, 9.0, breakdown.Score)
}

func TestComputeFullBreakdown(t *testing.T) {
	site := newSite(testNow.Add(-10 * 24 * time.Hour))
	site.PageviewCount = 100
	site.LikeCount = 5
	site.CommentCount = 2
	site.ShareCount = 3
	site.ExternalShareCount = 3

	shares := eventdomain.ShareCounts{
		Total:    3,
		External: 3,
		ByPlatform: map[eventdomain.Platform]int64{
			eventdomain.PlatformHackerNews: 2,
			eventdomain.PlatformReddit:     1,
		},
	}
	engagement := eventdomain.AnalyticsCounts{
		ByType: map[eventdomain.AnalyticsType]int64{
			eventdomain.AnalyticsConversion: 3,
			eventdomain.AnalyticsPageView:   10,
		},
	}

	breakdown, err := compute(site, userdomain.TierPro, shares, engagement, testNow)
	require.NoError(t, err)

	assert.Equal(t, 26.0, breakdown.Base)                 // 100*0.1 + 5*2 + 2*3
	assert.Equal(t, 52.0, breakdown.ShareScore)           // 2*8*2.5 + 1*6*2
	assert.InDelta(t, 7.0, breakdown.EngagementScore, 1e-9) // 3*2 + 10*0.1
	assert.Equal(t, 1.0, breakdown.TimeDecay)
	assert.Equal(t, 1.3, breakdown.TierBonus)
	assert.Equal(t, 110.5, breakdown.Score) // (26+52+7) * 1.0 * 1.3
}

func TestComputeUnknownPlatformFallsBack(t *testing.T) {
	site := newSite(testNow.Add(-10 * 24 * time.Hour))
	site.ShareCount = 2

	shares := eventdomain.ShareCounts{
		Total:      2,
		ByPlatform: map[eventdomain.Platform]int64{eventdomain.Platform("tiktok"): 2},
	}

	breakdown, err := compute(site, userdomain.TierFree, shares, eventdomain.AnalyticsCounts{}, testNow)
	require.NoError(t, err)

	// Unknown platforms score like "other": 2.0 weight x 1.0 boost.
	assert.Equal(t, 4.0, breakdown.ShareScore)
	assert.Equal(t, 4.0, breakdown.Score)
}

func TestComputeRejectsNegativeCounters(t *testing.T) {
	site := newSite(testNow.Add(-24 * time.Hour))
	site.LikeCount = -1

	_, err := compute(site, userdomain.TierFree, eventdomain.ShareCounts{}, eventdomain.AnalyticsCounts{}, testNow)
	assert.ErrorIs(t, err, domain.ErrNegativeCounters)

	site = newSite(testNow.Add(-24 * time.Hour))
	shares := eventdomain.ShareCounts{
		ByPlatform: map[eventdomain.Platform]int64{eventdomain.PlatformTwitter: -1},
	}
	_, err = compute(site, userdomain.TierFree, shares, eventdomain.AnalyticsCounts{}, testNow)
	assert.ErrorIs(t, err, domain.ErrNegativeCounters)
}

func TestComputeIsDeterministicAndMonotonic(t *testing.T) {
	site := newSite(testNow.Add(-3 * 24 * time.Hour))
	site.PageviewCount = 42
	site.LikeCount = 7
	site.ShareCount = 2

	shares := eventdomain.ShareCounts{
		Total:      2,
		ByPlatform: map[eventdomain.Platform]int64{eventdomain.PlatformLinkedIn: 2},
	}

	first, err := compute(site, userdomain.TierBusiness, shares, eventdomain.AnalyticsCounts{}, testNow)
	require.NoError(t, err)
	second, err := compute(site, userdomain.TierBusiness, shares, eventdomain.AnalyticsCounts{}, testNow)
	require.NoError(t, err)
	assert.Equal(t, first.Score, second.Score)

	shares.Total = 3
	shares.ByPlatform[eventdomain.PlatformLinkedIn] = 3
	site.ShareCount = 3
	third, err := compute(site, userdomain.TierBusiness, shares, eventdomain.AnalyticsCounts{}, testNow)
	require.NoError(t, err)
	assert.Greater(t, third.Score, first.Score)
}

func TestTimeDecayBrackets(t *testing.T) {
	cases := []struct {
		age  time.Duration
		want float64
	}{
		{0, 1.2},
		{7 * 24 * time.Hour, 1.2},
		{7*24*time.Hour + time.Hour, 1.0},
		{30 * 24 * time.Hour, 1.0},
		{30*24*time.Hour + time.Hour, 0.8},
		{90 * 24 * time.Hour, 0.8},
		{91 * 24 * time.Hour, 0.6},
		{400 * 24 * time.Hour, 0.6},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, timeDecay(tc.age), "age %s", tc.age)
	}
}

type scoreHarness struct {
	svc   domain.Service
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
}

func newScoreHarness(t *testing.T) *scoreHarness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&userdomain.User{},
		&sitedomain.Site{},
		&eventdomain.ShareEvent{},
		&eventdomain.AnalyticsEvent{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(testNow)

	svc := NewService(ServiceParam{
		DB:        db,
		Log:       zap.NewNop(),
		Clock:     fake,
		Rules:     config.NewStaticGrowthRules(config.DefaultGrowthRules()),
		SiteRepo:  siterepository.NewRepository(db),
		UserRepo:  userrepository.NewRepository(db),
		EventRepo: eventrepository.NewRepository(db),
	})

	return &scoreHarness{svc: svc, db: db, node: node, clock: fake}
}

func (h *scoreHarness) seedUser(t *testing.T, tier userdomain.SubscriptionTier) snowflake.ID {
	t.Helper()
	id := h.node.Generate()
	require.NoError(t, h.db.Create(&userdomain.User{
		ID:               id,
		Email:            id.String() + "@growth.test",
		SubscriptionTier: tier,
		ViralCoefficient: 1.0,
		BoostLevel:       userdomain.BoostNone,
		CommissionTier:   userdomain.CommissionNew,
		CreatedAt:        testNow.Add(-30 * 24 * time.Hour),
		UpdatedAt:        testNow.Add(-30 * 24 * time.Hour),
	}).Error)
	return id
}

func (h *scoreHarness) seedSite(t *testing.T, ownerID snowflake.ID, status sitedomain.SiteStatus, age time.Duration) snowflake.ID {
	t.Helper()
	id := h.node.Generate()
	require.NoError(t, h.db.Create(&sitedomain.Site{
		ID:        id,
		UserID:    ownerID,
		Name:      "Site " + id.String(),
		Slug:      "site-" + id.String(),
		Status:    status,
		CreatedAt: testNow.Add(-age),
		UpdatedAt: testNow.Add(-age),
	}).Error)
	return id
}

func (h *scoreHarness) seedShare(t *testing.T, siteID snowflake.ID, platform eventdomain.Platform) {
	t.Helper()
	id := h.node.Generate()
	require.NoError(t, h.db.Create(&eventdomain.ShareEvent{
		ID:             id,
		SiteID:         siteID,
		Platform:       platform,
		IdempotencyKey: id.String(),
		CreatedAt:      testNow,
	}).Error)
}

func (h *scoreHarness) seedAnalytics(t *testing.T, siteID snowflake.ID, eventType eventdomain.AnalyticsType, at time.Time) {
	t.Helper()
	id := h.node.Generate()
	require.NoError(t, h.db.Create(&eventdomain.AnalyticsEvent{
		ID:             id,
		SiteID:         siteID,
		EventType:      eventType,
		IdempotencyKey: id.String(),
		CreatedAt:      at,
	}).Error)
}

func TestRecomputeSitePersistsScoreAndOwnerAggregate(t *testing.T) {
	h := newScoreHarness(t)
	ownerID := h.seedUser(t, userdomain.TierFree)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusActive, 24*time.Hour)
	h.seedShare(t, siteID, eventdomain.PlatformTwitter)

	result, err := h.svc.RecomputeSite(context.Background(), siteID)
	require.NoError(t, err)

	assert.False(t, result.Skipped)
	assert.Equal(t, 9.0, result.Score)
	assert.Equal(t, int64(1), result.ShareCount)
	assert.Equal(t, int64(1), result.ExternalShareCount)
	assert.Equal(t, ownerID, result.OwnerID)
	assert.Equal(t, 9.0, result.OwnerScore)

	var site sitedomain.Site
	require.NoError(t, h.db.First(&site, "id = ?", siteID).Error)
	assert.Equal(t, 9.0, site.ViralScore)
	assert.Equal(t, int64(1), site.ShareCount)

	var owner userdomain.User
	require.NoError(t, h.db.First(&owner, "id = ?", ownerID).Error)
	assert.Equal(t, 9.0, owner.ViralScore)
}

func TestRecomputeSiteSkipsNonScoreable(t *testing.T) {
	h := newScoreHarness(t)
	ownerID := h.seedUser(t, userdomain.TierFree)

	for _, status := range []sitedomain.SiteStatus{
		sitedomain.StatusDraft,
		sitedomain.StatusBuilding,
		sitedomain.StatusSuspended,
	} {
		siteID := h.seedSite(t, ownerID, status, 24*time.Hour)
		h.seedShare(t, siteID, eventdomain.PlatformTwitter)

		result, err := h.svc.RecomputeSite(context.Background(), siteID)
		require.NoError(t, err)
		assert.True(t, result.Skipped, "status %s", status)
		assert.Equal(t, status, result.Status)

		var site sitedomain.Site
		require.NoError(t, h.db.First(&site, "id = ?", siteID).Error)
		assert.Zero(t, site.ViralScore, "status %s", status)
		assert.Zero(t, site.ShareCount, "status %s", status)
	}
}

func TestRecomputeSiteUnknownSite(t *testing.T) {
	h := newScoreHarness(t)
	_, err := h.svc.RecomputeSite(context.Background(), h.node.Generate())
	assert.ErrorIs(t, err, domain.ErrSiteNotFound)
}

func TestRecomputeSiteSumsOwnerAcrossSites(t *testing.T) {
	h := newScoreHarness(t)
	ownerID := h.seedUser(t, userdomain.TierFree)
	first := h.seedSite(t, ownerID, sitedomain.StatusActive, 24*time.Hour)
	second := h.seedSite(t, ownerID, sitedomain.StatusActive, 24*time.Hour)
	h.seedShare(t, first, eventdomain.PlatformTwitter)
	h.seedShare(t, second, eventdomain.PlatformReddit)

	_, err := h.svc.RecomputeSite(context.Background(), first)
	require.NoError(t, err)
	result, err := h.svc.RecomputeSite(context.Background(), second)
	require.NoError(t, err)

	// twitter 7.5 and reddit 12, both on fresh sites: 9.0 + 14.4.
	assert.Equal(t, 14.4, result.Score)
	assert.Equal(t, 23.4, result.OwnerScore)

	var owner userdomain.User
	require.NoError(t, h.db.First(&owner, "id = ?", ownerID).Error)
	assert.Equal(t, 23.4, owner.ViralScore)
}

func TestRecomputeSiteHonorsEngagementWindow(t *testing.T) {
	h := newScoreHarness(t)
	ownerID := h.seedUser(t, userdomain.TierFree)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusActive, 24*time.Hour)

	// One conversion inside the 30 day window, one far outside it.
	h.seedAnalytics(t, siteID, eventdomain.AnalyticsConversion, testNow.Add(-24*time.Hour))
	h.seedAnalytics(t, siteID, eventdomain.AnalyticsConversion, testNow.Add(-40*24*time.Hour))

	result, err := h.svc.RecomputeSite(context.Background(), siteID)
	require.NoError(t, err)

	// Only the recent conversion scores: 2.0 * 1.2 decay.
	assert.Equal(t, 2.4, result.Score)
}

func TestComputeViralScoreIsReadOnly(t *testing.T) {
	h := newScoreHarness(t)
	ownerID := h.seedUser(t, userdomain.TierFree)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusActive, 24*time.Hour)
	h.seedShare(t, siteID, eventdomain.PlatformTwitter)

	score, err := h.svc.ComputeViralScore(context.Background(), siteID)
	require.NoError(t, err)
	assert.Equal(t, 9.0, score)

	var site sitedomain.Site
	require.NoError(t, h.db.First(&site, "id = ?", siteID).Error)
	assert.Zero(t, site.ViralScore)
	assert.Zero(t, site.ShareCount)
}
