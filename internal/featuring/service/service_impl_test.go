package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/siteloom/growth/internal/clock"
	"github.com/siteloom/growth/internal/config"
	"github.com/siteloom/growth/internal/featuring/domain"
	featuringrepository "github.com/siteloom/growth/internal/featuring/repository"
	scoredomain "github.com/siteloom/growth/internal/score/domain"
	sideeffectdomain "github.com/siteloom/growth/internal/sideeffect/domain"
	sideeffectrepository "github.com/siteloom/growth/internal/sideeffect/repository"
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

// rescoreStub stands in for the score engine during viral re-evaluation;
// the persisted viral_score is seeded by each test.
type rescoreStub struct {
	calls []snowflake.ID
}

func (s *rescoreStub) ComputeViralScore(context.Context, snowflake.ID) (float64, error) {
	return 0, nil
}

func (s *rescoreStub) RecomputeSite(_ context.Context, siteID snowflake.ID) (*scoredomain.RecomputeResult, error) {
	s.calls = append(s.calls, siteID)
	return &scoredomain.RecomputeResult{SiteID: siteID}, nil
}

type featuringHarness struct {
	svc   domain.Service
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	score *rescoreStub
}

func newFeaturingHarness(t *testing.T) *featuringHarness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&userdomain.User{},
		&sitedomain.Site{},
		&domain.FeaturingEvent{},
		&sideeffectdomain.SideEffect{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(testNow)
	score := &rescoreStub{}

	svc := NewService(ServiceParam{
		DB:             db,
		Log:            zap.NewNop(),
		Clock:          fake,
		GenID:          node,
		Rules:          config.NewStaticGrowthRules(config.DefaultGrowthRules()),
		Repo:           featuringrepository.NewRepository(db),
		SiteRepo:       siterepository.NewRepository(db),
		UserRepo:       userrepository.NewRepository(db),
		SideEffectRepo: sideeffectrepository.NewRepository(db),
		ScoreService:   score,
	})

	return &featuringHarness{svc: svc, db: db, node: node, clock: fake, score: score}
}

func (h *featuringHarness) seedUser(t *testing.T, tier userdomain.SubscriptionTier) snowflake.ID {
	t.Helper()
	id := h.node.Generate()
	require.NoError(t, h.db.Create(&userdomain.User{
		ID:               id,
		Email:            id.String() + "@growth.test",
		SubscriptionTier: tier,
		ViralCoefficient: 1.0,
		BoostLevel:       userdomain.BoostNone,
		CommissionTier:   userdomain.CommissionNew,
		CreatedAt:        testNow.Add(-60 * 24 * time.Hour),
		UpdatedAt:        testNow.Add(-60 * 24 * time.Hour),
	}).Error)
	return id
}

func (h *featuringHarness) seedSite(t *testing.T, ownerID snowflake.ID, status sitedomain.SiteStatus, externalShares int64, viralScore float64) snowflake.ID {
	t.Helper()
	id := h.node.Generate()
	require.NoError(t, h.db.Create(&sitedomain.Site{
		ID:                 id,
		UserID:             ownerID,
		Name:               "Site " + id.String(),
		Slug:               "site-" + id.String(),
		Status:             status,
		ShareCount:         externalShares,
		ExternalShareCount: externalShares,
		ViralScore:         viralScore,
		CreatedAt:          testNow.Add(-14 * 24 * time.Hour),
		UpdatedAt:          testNow.Add(-14 * 24 * time.Hour),
	}).Error)
	return id
}

func (h *featuringHarness) seedFeaturing(t *testing.T, siteID snowflake.ID, expiresAt time.Time) snowflake.ID {
	t.Helper()
	id := h.node.Generate()
	require.NoError(t, h.db.Create(&domain.FeaturingEvent{
		ID:          id,
		SiteID:      siteID,
		TriggerType: domain.TriggerShareThreshold,
		Status:      domain.StatusActive,
		FeaturedAt:  expiresAt.Add(-168 * time.Hour),
		ExpiresAt:   expiresAt,
		CreatedAt:   expiresAt.Add(-168 * time.Hour),
		UpdatedAt:   expiresAt.Add(-168 * time.Hour),
	}).Error)
	return id
}

func (h *featuringHarness) siteStatus(t *testing.T, id snowflake.ID) sitedomain.SiteStatus {
	t.Helper()
	var site sitedomain.Site
	require.NoError(t, h.db.First(&site, "id = ?", id).Error)
	return site.Status
}

func (h *featuringHarness) countEffects(t *testing.T, kind sideeffectdomain.Kind) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.db.Model(&sideeffectdomain.SideEffect{}).Where("kind = ?", kind).Count(&count).Error)
	return count
}

func TestEvaluateSiteBelowThreshold(t *testing.T) {
	h := newFeaturingHarness(t)
	ownerID := h.seedUser(t, userdomain.TierFree)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusActive, 4, 20)

	result, err := h.svc.EvaluateSite(context.Background(), siteID)
	require.NoError(t, err)
	assert.False(t, result.FeaturingCreated)
	assert.False(t, result.WentViral)
	assert.Equal(t, sitedomain.StatusActive, result.Status)

	var count int64
	require.NoError(t, h.db.Model(&domain.FeaturingEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEvaluateSiteCreatesFeaturingAtThreshold(t *testing.T) {
	h := newFeaturingHarness(t)
	ownerID := h.seedUser(t, userdomain.TierFree)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusActive, 5, 20)

	result, err := h.svc.EvaluateSite(context.Background(), siteID)
	require.NoError(t, err)
	assert.True(t, result.FeaturingCreated)
	assert.Equal(t, sitedomain.StatusFeatured, result.Status)
	require.NotNil(t, result.ExpiresAt)
	assert.Equal(t, testNow.Add(168*time.Hour), result.ExpiresAt.UTC())

	var event domain.FeaturingEvent
	require.NoError(t, h.db.First(&event, "site_id = ?", siteID).Error)
	assert.Equal(t, domain.TriggerShareThreshold, event.TriggerType)
	assert.Equal(t, domain.StatusActive, event.Status)

	assert.Equal(t, sitedomain.StatusFeatured, h.siteStatus(t, siteID))
	assert.Equal(t, int64(1), h.countEffects(t, sideeffectdomain.KindFeaturingCreated))
	assert.Equal(t, int64(1), h.countEffects(t, sideeffectdomain.KindSetSiteStatus))
}

func TestEvaluateSiteDoesNotStackFeaturings(t *testing.T) {
	h := newFeaturingHarness(t)
	ownerID := h.seedUser(t, userdomain.TierFree)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusActive, 5, 20)

	first, err := h.svc.EvaluateSite(context.Background(), siteID)
	require.NoError(t, err)
	require.True(t, first.FeaturingCreated)

	second, err := h.svc.EvaluateSite(context.Background(), siteID)
	require.NoError(t, err)
	assert.False(t, second.FeaturingCreated)
	assert.Equal(t, sitedomain.StatusFeatured, second.Status)

	var count int64
	require.NoError(t, h.db.Model(&domain.FeaturingEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestEvaluateSiteFeaturingDurationFollowsOwnerTier(t *testing.T) {
	h := newFeaturingHarness(t)
	cases := []struct {
		tier userdomain.SubscriptionTier
		want time.Duration
	}{
		{userdomain.TierFree, 168 * time.Hour},
		{userdomain.TierPro, 336 * time.Hour},
		{userdomain.TierBusiness, 504 * time.Hour},
		{userdomain.TierEnterprise, 720 * time.Hour},
	}
	for _, tc := range cases {
		ownerID := h.seedUser(t, tc.tier)
		siteID := h.seedSite(t, ownerID, sitedomain.StatusActive, 5, 0)

		result, err := h.svc.EvaluateSite(context.Background(), siteID)
		require.NoError(t, err)
		require.True(t, result.FeaturingCreated, "tier %s", tc.tier)
		assert.Equal(t, testNow.Add(tc.want), result.ExpiresAt.UTC(), "tier %s", tc.tier)
	}
}

func TestEvaluateSitePromotesViralForPaidOwners(t *testing.T) {
	h := newFeaturingHarness(t)
	ownerID := h.seedUser(t, userdomain.TierPro)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusActive, 0, 150)

	result, err := h.svc.EvaluateSite(context.Background(), siteID)
	require.NoError(t, err)
	assert.True(t, result.WentViral)
	assert.Equal(t, sitedomain.StatusViral, result.Status)
	assert.Equal(t, sitedomain.StatusViral, h.siteStatus(t, siteID))
}

func TestEvaluateSiteViralNeedsPaidTier(t *testing.T) {
	h := newFeaturingHarness(t)
	ownerID := h.seedUser(t, userdomain.TierFree)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusActive, 0, 150)

	result, err := h.svc.EvaluateSite(context.Background(), siteID)
	require.NoError(t, err)
	assert.False(t, result.WentViral)
	assert.Equal(t, sitedomain.StatusActive, result.Status)
}

func TestEvaluateSiteThresholdAndViralTogether(t *testing.T) {
	h := newFeaturingHarness(t)
	ownerID := h.seedUser(t, userdomain.TierPro)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusActive, 8, 150)

	result, err := h.svc.EvaluateSite(context.Background(), siteID)
	require.NoError(t, err)
	assert.True(t, result.FeaturingCreated)
	assert.True(t, result.WentViral)
	assert.Equal(t, sitedomain.StatusViral, result.Status)
	assert.Equal(t, sitedomain.StatusViral, h.siteStatus(t, siteID))
}

func TestEvaluateSiteSkipsNonScoreable(t *testing.T) {
	h := newFeaturingHarness(t)
	ownerID := h.seedUser(t, userdomain.TierPro)

	for _, status := range []sitedomain.SiteStatus{sitedomain.StatusDraft, sitedomain.StatusBuilding, sitedomain.StatusSuspended} {
		siteID := h.seedSite(t, ownerID, status, 50, 500)

		result, err := h.svc.EvaluateSite(context.Background(), siteID)
		require.NoError(t, err)
		assert.True(t, result.Skipped, "status %s", status)
		assert.Equal(t, status, result.Status)
	}

	var count int64
	require.NoError(t, h.db.Model(&domain.FeaturingEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEvaluateSiteMissingRows(t *testing.T) {
	h := newFeaturingHarness(t)

	_, err := h.svc.EvaluateSite(context.Background(), h.node.Generate())
	require.ErrorIs(t, err, domain.ErrSiteNotFound)

	siteID := h.seedSite(t, h.node.Generate(), sitedomain.StatusActive, 5, 0)
	_, err = h.svc.EvaluateSite(context.Background(), siteID)
	require.ErrorIs(t, err, domain.ErrOwnerNotFound)
}

func TestFeatureManuallyIgnoresShareThreshold(t *testing.T) {
	h := newFeaturingHarness(t)
	ownerID := h.seedUser(t, userdomain.TierFree)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusActive, 0, 0)

	result, err := h.svc.FeatureManually(context.Background(), siteID)
	require.NoError(t, err)
	assert.True(t, result.FeaturingCreated)
	assert.Equal(t, sitedomain.StatusFeatured, result.Status)
	require.NotNil(t, result.ExpiresAt)
	assert.Equal(t, testNow.Add(168*time.Hour), result.ExpiresAt.UTC())

	var event domain.FeaturingEvent
	require.NoError(t, h.db.First(&event, "site_id = ?", siteID).Error)
	assert.Equal(t, domain.TriggerManual, event.TriggerType)

	assert.Equal(t, sitedomain.StatusFeatured, h.siteStatus(t, siteID))
	assert.Equal(t, int64(1), h.countEffects(t, sideeffectdomain.KindFeaturingCreated))
	assert.Equal(t, int64(1), h.countEffects(t, sideeffectdomain.KindSetSiteStatus))
}

func TestFeatureManuallyLeavesActiveWindowAlone(t *testing.T) {
	h := newFeaturingHarness(t)
	ownerID := h.seedUser(t, userdomain.TierFree)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusFeatured, 6, 30)
	h.seedFeaturing(t, siteID, testNow.Add(48*time.Hour))

	result, err := h.svc.FeatureManually(context.Background(), siteID)
	require.NoError(t, err)
	assert.False(t, result.FeaturingCreated)
	assert.Equal(t, sitedomain.StatusFeatured, result.Status)

	var count int64
	require.NoError(t, h.db.Model(&domain.FeaturingEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestFeatureManuallySkipsNonScoreable(t *testing.T) {
	h := newFeaturingHarness(t)
	ownerID := h.seedUser(t, userdomain.TierFree)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusDraft, 0, 0)

	result, err := h.svc.FeatureManually(context.Background(), siteID)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, sitedomain.StatusDraft, result.Status)

	var count int64
	require.NoError(t, h.db.Model(&domain.FeaturingEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestExpireDueRevertsFeaturedSites(t *testing.T) {
	h := newFeaturingHarness(t)
	ownerID := h.seedUser(t, userdomain.TierFree)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusFeatured, 6, 30)
	eventID := h.seedFeaturing(t, siteID, testNow.Add(-time.Hour))

	result, err := h.svc.ExpireDue(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Expired)
	assert.Equal(t, 1, result.Reverted)

	var event domain.FeaturingEvent
	require.NoError(t, h.db.First(&event, "id = ?", eventID).Error)
	assert.Equal(t, domain.StatusExpired, event.Status)
	require.NotNil(t, event.ExpiredAt)

	assert.Equal(t, sitedomain.StatusActive, h.siteStatus(t, siteID))
	assert.Equal(t, int64(1), h.countEffects(t, sideeffectdomain.KindFeaturingExpired))

	// Nothing left for the next pass.
	again, err := h.svc.ExpireDue(context.Background(), 50)
	require.NoError(t, err)
	assert.Zero(t, again.Expired)
}

func TestExpireDueLeavesViralSitesAlone(t *testing.T) {
	h := newFeaturingHarness(t)
	ownerID := h.seedUser(t, userdomain.TierPro)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusViral, 6, 150)
	h.seedFeaturing(t, siteID, testNow.Add(-time.Hour))

	result, err := h.svc.ExpireDue(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Expired)
	assert.Zero(t, result.Reverted, "viral status outranks the expired window")
	assert.Equal(t, sitedomain.StatusViral, h.siteStatus(t, siteID))
}

func TestExpireDueIgnoresFutureWindows(t *testing.T) {
	h := newFeaturingHarness(t)
	ownerID := h.seedUser(t, userdomain.TierFree)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusFeatured, 6, 30)
	h.seedFeaturing(t, siteID, testNow.Add(24*time.Hour))

	result, err := h.svc.ExpireDue(context.Background(), 50)
	require.NoError(t, err)
	assert.Zero(t, result.Expired)
	assert.Equal(t, sitedomain.StatusFeatured, h.siteStatus(t, siteID))
}

func TestReevaluateViralDemotesBelowThreshold(t *testing.T) {
	h := newFeaturingHarness(t)
	ownerID := h.seedUser(t, userdomain.TierPro)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusViral, 6, 40)

	result, err := h.svc.ReevaluateViral(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.Equal(t, 1, result.Demoted)
	assert.Equal(t, []snowflake.ID{siteID}, h.score.calls)
	assert.Equal(t, sitedomain.StatusActive, h.siteStatus(t, siteID))
}

func TestReevaluateViralDemotesToFeaturedWithLiveWindow(t *testing.T) {
	h := newFeaturingHarness(t)
	ownerID := h.seedUser(t, userdomain.TierPro)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusViral, 6, 40)
	h.seedFeaturing(t, siteID, testNow.Add(48*time.Hour))

	result, err := h.svc.ReevaluateViral(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Demoted)
	assert.Equal(t, sitedomain.StatusFeatured, h.siteStatus(t, siteID))
}

func TestReevaluateViralKeepsQualifyingSites(t *testing.T) {
	h := newFeaturingHarness(t)
	ownerID := h.seedUser(t, userdomain.TierPro)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusViral, 6, 150)

	result, err := h.svc.ReevaluateViral(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.Zero(t, result.Demoted)
	assert.Equal(t, sitedomain.StatusViral, h.siteStatus(t, siteID))
}
