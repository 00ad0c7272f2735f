package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/siteloom/growth/internal/cache"
	"github.com/siteloom/growth/internal/clock"
	"github.com/siteloom/growth/internal/config"
	"github.com/siteloom/growth/internal/engine/domain"
	eventdomain "github.com/siteloom/growth/internal/event/domain"
	eventrepository "github.com/siteloom/growth/internal/event/repository"
	featuringdomain "github.com/siteloom/growth/internal/featuring/domain"
	milestonedomain "github.com/siteloom/growth/internal/milestone/domain"
	"github.com/siteloom/growth/internal/ratelimit"
	referraldomain "github.com/siteloom/growth/internal/referral/domain"
	scoredomain "github.com/siteloom/growth/internal/score/domain"
	showcasedomain "github.com/siteloom/growth/internal/showcase/domain"
	sitedomain "github.com/siteloom/growth/internal/site/domain"
	siterepository "github.com/siteloom/growth/internal/site/repository"
	tierdomain "github.com/siteloom/growth/internal/tier/domain"
	userdomain "github.com/siteloom/growth/internal/user/domain"
	userrepository "github.com/siteloom/growth/internal/user/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type mockScoreSvc struct {
	result scoredomain.RecomputeResult
	calls  []snowflake.ID
}

func (m *mockScoreSvc) ComputeViralScore(context.Context, snowflake.ID) (float64, error) {
	return m.result.Score, nil
}

func (m *mockScoreSvc) RecomputeSite(_ context.Context, siteID snowflake.ID) (*scoredomain.RecomputeResult, error) {
	m.calls = append(m.calls, siteID)
	result := m.result
	result.SiteID = siteID
	return &result, nil
}

type mockFeaturingSvc struct {
	evalResult   featuringdomain.EvaluateResult
	evalCalls    []snowflake.ID
	active       *featuringdomain.FeaturingEvent
	expireResult featuringdomain.ExpireResult
	viralResult  featuringdomain.ViralResult
}

func (m *mockFeaturingSvc) EvaluateSite(_ context.Context, siteID snowflake.ID) (*featuringdomain.EvaluateResult, error) {
	m.evalCalls = append(m.evalCalls, siteID)
	result := m.evalResult
	result.SiteID = siteID
	return &result, nil
}

func (m *mockFeaturingSvc) ExpireDue(_ context.Context, _ int) (*featuringdomain.ExpireResult, error) {
	result := m.expireResult
	return &result, nil
}

func (m *mockFeaturingSvc) ReevaluateViral(_ context.Context, _ int) (*featuringdomain.ViralResult, error) {
	result := m.viralResult
	return &result, nil
}

func (m *mockFeaturingSvc) FeatureManually(_ context.Context, siteID snowflake.ID) (*featuringdomain.EvaluateResult, error) {
	result := m.evalResult
	result.SiteID = siteID
	return &result, nil
}

func (m *mockFeaturingSvc) GetActive(context.Context, snowflake.ID) (*featuringdomain.FeaturingEvent, error) {
	return m.active, nil
}

func (m *mockFeaturingSvc) ListBySite(context.Context, snowflake.ID) ([]featuringdomain.FeaturingEvent, error) {
	return nil, nil
}

type mockTierSvc struct {
	growthCalls     []snowflake.ID
	commissionCalls []snowflake.ID
	commissionTier  userdomain.CommissionTier
}

func (m *mockTierSvc) RecomputeUserGrowth(_ context.Context, userID snowflake.ID) (*tierdomain.GrowthResult, error) {
	m.growthCalls = append(m.growthCalls, userID)
	return &tierdomain.GrowthResult{UserID: userID}, nil
}

func (m *mockTierSvc) EvaluateCommission(_ context.Context, referrerID snowflake.ID) (*tierdomain.CommissionResult, error) {
	m.commissionCalls = append(m.commissionCalls, referrerID)
	tier := m.commissionTier
	if tier == "" {
		tier = userdomain.CommissionNew
	}
	return &tierdomain.CommissionResult{UserID: referrerID, Tier: tier, Rate: tier.Rate()}, nil
}

type mockMilestoneSvc struct {
	outcome milestonedomain.ConversionOutcome
	calls   []snowflake.ID
}

func (m *mockMilestoneSvc) OnReferralConverted(_ context.Context, referrerID snowflake.ID) (*milestonedomain.ConversionOutcome, error) {
	m.calls = append(m.calls, referrerID)
	outcome := m.outcome
	outcome.ReferrerID = referrerID
	return &outcome, nil
}

func (m *mockMilestoneSvc) ExpireGrants(_ context.Context, _ int) (*milestonedomain.ExpireResult, error) {
	return &milestonedomain.ExpireResult{}, nil
}

func (m *mockMilestoneSvc) ListGrants(context.Context, snowflake.ID) ([]milestonedomain.TierGrant, error) {
	return nil, nil
}

type mockShowcaseSvc struct {
	refreshCalls int
}

func (m *mockShowcaseSvc) Refresh(context.Context) (*showcasedomain.RefreshResult, error) {
	m.refreshCalls++
	return &showcasedomain.RefreshResult{}, nil
}

func (m *mockShowcaseSvc) List(context.Context) ([]showcasedomain.ShowcaseEntry, error) {
	return nil, nil
}

type mockReferralSvc struct {
	convertResults map[snowflake.ID]referraldomain.ConvertResult
	convertCalls   []snowflake.ID
}

func (m *mockReferralSvc) Create(context.Context, referraldomain.CreateReferralRequest) (*referraldomain.ReferralResponse, error) {
	return nil, nil
}

func (m *mockReferralSvc) Activate(context.Context, string) (*referraldomain.ReferralResponse, error) {
	return nil, nil
}

func (m *mockReferralSvc) Convert(_ context.Context, id snowflake.ID) (*referraldomain.ConvertResult, error) {
	m.convertCalls = append(m.convertCalls, id)
	if result, ok := m.convertResults[id]; ok {
		return &result, nil
	}
	return nil, referraldomain.ErrReferralNotFound
}

func (m *mockReferralSvc) List(context.Context, referraldomain.ListReferralsRequest) (*referraldomain.ListReferralsResponse, error) {
	return nil, nil
}

type engineHarness struct {
	svc       domain.Service
	db        *gorm.DB
	node      *snowflake.Node
	clock     *clock.FakeClock
	readCache cache.SiteResolverCache
	score     *mockScoreSvc
	featuring *mockFeaturingSvc
	tier      *mockTierSvc
	milestone *mockMilestoneSvc
	showcase  *mockShowcaseSvc
	referral  *mockReferralSvc
}

func newEngineHarness(t *testing.T) *engineHarness {
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

	h := &engineHarness{
		db:        db,
		node:      node,
		clock:     fake,
		readCache: cache.NewSiteResolverCache(),
		score:     &mockScoreSvc{result: scoredomain.RecomputeResult{Status: sitedomain.StatusActive, Score: 42.5, ShareCount: 1, ExternalShareCount: 1}},
		featuring: &mockFeaturingSvc{evalResult: featuringdomain.EvaluateResult{Status: sitedomain.StatusActive}},
		tier:      &mockTierSvc{},
		milestone: &mockMilestoneSvc{},
		showcase:  &mockShowcaseSvc{},
		referral:  &mockReferralSvc{convertResults: map[snowflake.ID]referraldomain.ConvertResult{}},
	}
	h.svc = NewService(ServiceParam{
		Log:              zap.NewNop(),
		Clock:            fake,
		GenID:            node,
		EventRepo:        eventrepository.NewRepository(db),
		SiteRepo:         siterepository.NewRepository(db),
		UserRepo:         userrepository.NewRepository(db),
		ScoreService:     h.score,
		FeaturingService: h.featuring,
		TierService:      h.tier,
		MilestoneService: h.milestone,
		ShowcaseService:  h.showcase,
		ReferralService:  h.referral,
		Limiter:          ratelimit.NewEventIngestLimiter(config.Config{}, nil),
		ReadCache:        h.readCache,
	})
	return h
}

func (h *engineHarness) seedUser(t *testing.T) snowflake.ID {
	t.Helper()
	id := h.node.Generate()
	require.NoError(t, h.db.Create(&userdomain.User{
		ID:               id,
		Email:            id.String() + "@growth.test",
		SubscriptionTier: userdomain.TierFree,
		ViralCoefficient: 1.0,
		BoostLevel:       userdomain.BoostNone,
		CommissionTier:   userdomain.CommissionNew,
		CreatedAt:        testNow.Add(-30 * 24 * time.Hour),
		UpdatedAt:        testNow.Add(-30 * 24 * time.Hour),
	}).Error)
	return id
}

func (h *engineHarness) seedSite(t *testing.T, ownerID snowflake.ID, status sitedomain.SiteStatus) snowflake.ID {
	t.Helper()
	id := h.node.Generate()
	require.NoError(t, h.db.Create(&sitedomain.Site{
		ID:        id,
		UserID:    ownerID,
		Name:      "Site " + id.String(),
		Slug:      "site-" + id.String(),
		Status:    status,
		CreatedAt: testNow.Add(-14 * 24 * time.Hour),
		UpdatedAt: testNow.Add(-14 * 24 * time.Hour),
	}).Error)
	return id
}

func shareInput(siteID snowflake.ID, key string) domain.AppendEventInput {
	return domain.AppendEventInput{
		Kind:           string(eventdomain.KindSiteShared),
		SiteID:         siteID.String(),
		Platform:       "twitter",
		IdempotencyKey: key,
	}
}

func TestAppendEventRejectsUnknownKind(t *testing.T) {
	h := newEngineHarness(t)

	for _, kind := range []string{"", "site.cloned", "SITE.SHARED "} {
		_, err := h.svc.AppendEvent(context.Background(), domain.AppendEventInput{Kind: kind})
		require.ErrorIs(t, err, domain.ErrInvalidEventKind, "kind %q", kind)
	}
}

func TestAppendShareValidatesInput(t *testing.T) {
	h := newEngineHarness(t)
	ownerID := h.seedUser(t)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusActive)

	_, err := h.svc.AppendEvent(context.Background(), domain.AppendEventInput{
		Kind: string(eventdomain.KindSiteShared), SiteID: "not-a-ref", Platform: "twitter",
	})
	require.ErrorIs(t, err, domain.ErrInvalidSiteRef)

	_, err = h.svc.AppendEvent(context.Background(), domain.AppendEventInput{
		Kind: string(eventdomain.KindSiteShared), SiteID: "0", Platform: "twitter",
	})
	require.ErrorIs(t, err, domain.ErrInvalidSiteRef)

	input := shareInput(siteID, "k1")
	input.Platform = "myspace"
	_, err = h.svc.AppendEvent(context.Background(), input)
	require.ErrorIs(t, err, domain.ErrInvalidPlatform)

	input = shareInput(siteID, "k2")
	input.UserID = "not-a-ref"
	_, err = h.svc.AppendEvent(context.Background(), input)
	require.ErrorIs(t, err, domain.ErrInvalidUserRef)

	_, err = h.svc.AppendEvent(context.Background(), shareInput(h.node.Generate(), "k3"))
	require.ErrorIs(t, err, sitedomain.ErrSiteNotFound)

	var count int64
	require.NoError(t, h.db.Model(&eventdomain.ShareEvent{}).Count(&count).Error)
	assert.Zero(t, count, "rejected events must not reach the log")
}

func TestAppendShareRunsPipeline(t *testing.T) {
	h := newEngineHarness(t)
	ownerID := h.seedUser(t)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusActive)
	h.score.result.OwnerID = ownerID

	result, err := h.svc.AppendEvent(context.Background(), shareInput(siteID, "share-1"))
	require.NoError(t, err)

	assert.NotZero(t, result.EventID)
	assert.Equal(t, string(eventdomain.KindSiteShared), result.Kind)
	assert.False(t, result.Deduplicated)
	require.NotNil(t, result.Site)
	assert.Equal(t, sitedomain.StatusActive, result.Site.Status)
	assert.Equal(t, 42.5, result.Site.ViralScore)
	assert.False(t, result.Site.Deferred)

	assert.Equal(t, []snowflake.ID{siteID}, h.score.calls)
	assert.Equal(t, []snowflake.ID{siteID}, h.featuring.evalCalls)
	assert.Equal(t, []snowflake.ID{ownerID}, h.tier.growthCalls)
	assert.Zero(t, h.showcase.refreshCalls)

	var event eventdomain.ShareEvent
	require.NoError(t, h.db.First(&event, "id = ?", result.EventID).Error)
	assert.Equal(t, siteID, event.SiteID)
	assert.Equal(t, eventdomain.PlatformTwitter, event.Platform)
	assert.Equal(t, "share-1", event.IdempotencyKey)
	assert.True(t, event.Processed)
}

func TestAppendShareReplayIsDeduplicated(t *testing.T) {
	h := newEngineHarness(t)
	ownerID := h.seedUser(t)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusActive)
	h.score.result.OwnerID = ownerID

	first, err := h.svc.AppendEvent(context.Background(), shareInput(siteID, "same-key"))
	require.NoError(t, err)

	second, err := h.svc.AppendEvent(context.Background(), shareInput(siteID, "same-key"))
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.EventID, second.EventID)
	assert.Nil(t, second.Site)

	assert.Len(t, h.score.calls, 1, "replay must not recompute")

	var count int64
	require.NoError(t, h.db.Model(&eventdomain.ShareEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestAppendShareFeaturingRefreshesShowcase(t *testing.T) {
	h := newEngineHarness(t)
	ownerID := h.seedUser(t)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusActive)
	h.score.result.OwnerID = ownerID
	h.featuring.evalResult = featuringdomain.EvaluateResult{
		Status:           sitedomain.StatusFeatured,
		FeaturingCreated: true,
	}

	result, err := h.svc.AppendEvent(context.Background(), shareInput(siteID, "feat-1"))
	require.NoError(t, err)
	require.NotNil(t, result.Site)
	assert.True(t, result.Site.FeaturingCreated)
	assert.Equal(t, sitedomain.StatusFeatured, result.Site.Status)
	assert.Equal(t, 1, h.showcase.refreshCalls)
}

func TestAppendShareSkippedSiteFreezesPipeline(t *testing.T) {
	h := newEngineHarness(t)
	ownerID := h.seedUser(t)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusSuspended)
	h.score.result = scoredomain.RecomputeResult{
		OwnerID: ownerID,
		Status:  sitedomain.StatusSuspended,
		Skipped: true,
	}

	result, err := h.svc.AppendEvent(context.Background(), shareInput(siteID, "susp-1"))
	require.NoError(t, err)
	require.NotNil(t, result.Site)
	assert.Equal(t, sitedomain.StatusSuspended, result.Site.Status)

	assert.Empty(t, h.featuring.evalCalls)
	assert.Empty(t, h.tier.growthCalls)
	assert.Zero(t, h.showcase.refreshCalls)

	// The log entry is durable and flagged so the recovery sweep skips it.
	var event eventdomain.ShareEvent
	require.NoError(t, h.db.First(&event, "idempotency_key = ?", "susp-1").Error)
	assert.True(t, event.Processed)
}

func TestAppendAnalyticsPipeline(t *testing.T) {
	h := newEngineHarness(t)
	ownerID := h.seedUser(t)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusActive)
	h.score.result.OwnerID = ownerID

	input := domain.AppendEventInput{
		Kind:           string(eventdomain.KindSiteAnalytics),
		SiteID:         siteID.String(),
		EventType:      "page_view",
		IdempotencyKey: "pv-1",
	}
	result, err := h.svc.AppendEvent(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, string(eventdomain.KindSiteAnalytics), result.Kind)
	require.NotNil(t, result.Site)

	assert.Equal(t, []snowflake.ID{siteID}, h.score.calls)
	assert.Equal(t, []snowflake.ID{siteID}, h.featuring.evalCalls)
	assert.Empty(t, h.tier.growthCalls, "analytics events leave the boost level alone")

	var event eventdomain.AnalyticsEvent
	require.NoError(t, h.db.First(&event, "id = ?", result.EventID).Error)
	assert.Equal(t, eventdomain.AnalyticsPageView, event.EventType)
	assert.True(t, event.Processed)

	replay, err := h.svc.AppendEvent(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, replay.Deduplicated)
	assert.Equal(t, result.EventID, replay.EventID)

	input.EventType = "scroll_depth"
	input.IdempotencyKey = "pv-2"
	_, err = h.svc.AppendEvent(context.Background(), input)
	require.ErrorIs(t, err, domain.ErrInvalidAnalyticsType)
}

func TestConvertReferralRunsMilestoneAndCommission(t *testing.T) {
	h := newEngineHarness(t)
	referrerID := h.seedUser(t)
	referralID := h.node.Generate()
	h.referral.convertResults[referralID] = referraldomain.ConvertResult{ReferrerID: referrerID}
	h.milestone.outcome = milestonedomain.ConversionOutcome{ReferralsConverted: 7}
	h.tier.commissionTier = userdomain.CommissionEstablished

	result, err := h.svc.AppendEvent(context.Background(), domain.AppendEventInput{
		Kind:       string(eventdomain.KindReferralConverted),
		ReferralID: referralID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, string(eventdomain.KindReferralConverted), result.Kind)
	assert.False(t, result.Deduplicated)
	require.NotNil(t, result.Referral)
	assert.Equal(t, referralID, result.Referral.ReferralID)
	assert.Equal(t, referrerID, result.Referral.ReferrerID)
	assert.Equal(t, int64(7), result.Referral.ReferralsConverted)
	assert.False(t, result.Referral.MilestoneGranted)
	assert.Equal(t, userdomain.CommissionEstablished, result.Referral.CommissionTier)

	assert.Equal(t, []snowflake.ID{referrerID}, h.milestone.calls)
	assert.Equal(t, []snowflake.ID{referrerID}, h.tier.commissionCalls)

	_, err = h.svc.AppendEvent(context.Background(), domain.AppendEventInput{
		Kind:       string(eventdomain.KindReferralConverted),
		ReferralID: "not-a-ref",
	})
	require.ErrorIs(t, err, domain.ErrInvalidReferralRef)
}

func TestConvertReferralReplayStopsDownstream(t *testing.T) {
	h := newEngineHarness(t)
	referrerID := h.seedUser(t)
	referralID := h.node.Generate()
	h.referral.convertResults[referralID] = referraldomain.ConvertResult{
		ReferrerID:       referrerID,
		AlreadyConverted: true,
	}

	result, err := h.svc.AppendEvent(context.Background(), domain.AppendEventInput{
		Kind:       string(eventdomain.KindReferralConverted),
		ReferralID: referralID.String(),
	})
	require.NoError(t, err)
	assert.True(t, result.Deduplicated)
	require.NotNil(t, result.Referral)
	assert.Equal(t, referrerID, result.Referral.ReferrerID)

	assert.Empty(t, h.milestone.calls)
	assert.Empty(t, h.tier.commissionCalls)
}

func TestReadSiteSnapshot(t *testing.T) {
	h := newEngineHarness(t)
	ownerID := h.seedUser(t)
	require.NoError(t, h.db.Model(&userdomain.User{}).Where("id = ?", ownerID).Updates(map[string]any{
		"subscription_tier": userdomain.TierPro,
		"total_shares":      int64(8),
		"boost_level":       userdomain.BoostSilver,
		"viral_coefficient": 1.5,
		"commission_tier":   userdomain.CommissionEstablished,
	}).Error)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusFeatured)
	require.NoError(t, h.db.Model(&sitedomain.Site{}).Where("id = ?", siteID).Updates(map[string]any{
		"viral_score":          55.5,
		"share_count":          int64(3),
		"external_share_count": int64(3),
		"pageview_count":       int64(120),
	}).Error)
	for i, platform := range []eventdomain.Platform{eventdomain.PlatformTwitter, eventdomain.PlatformTwitter, eventdomain.PlatformLinkedIn} {
		require.NoError(t, h.db.Create(&eventdomain.ShareEvent{
			ID:             h.node.Generate(),
			SiteID:         siteID,
			Platform:       platform,
			IdempotencyKey: "snap-" + string(rune('a'+i)),
			Processed:      true,
			CreatedAt:      testNow.Add(-time.Hour),
		}).Error)
	}
	h.featuring.active = &featuringdomain.FeaturingEvent{
		ID:          h.node.Generate(),
		SiteID:      siteID,
		TriggerType: featuringdomain.TriggerShareThreshold,
		Status:      featuringdomain.StatusActive,
		FeaturedAt:  testNow.Add(-2 * time.Hour),
		ExpiresAt:   testNow.Add(166 * time.Hour),
	}

	snapshot, err := h.svc.ReadSiteSnapshot(context.Background(), siteID)
	require.NoError(t, err)
	assert.Equal(t, siteID, snapshot.SiteID)
	assert.Equal(t, sitedomain.StatusFeatured, snapshot.Status)
	assert.Equal(t, 55.5, snapshot.ViralScore)
	assert.Equal(t, int64(3), snapshot.ShareCount)
	assert.Equal(t, int64(120), snapshot.PageviewCount)
	assert.Equal(t, map[eventdomain.Platform]int64{
		eventdomain.PlatformTwitter:  2,
		eventdomain.PlatformLinkedIn: 1,
	}, snapshot.SharesByPlatform)

	assert.Equal(t, ownerID, snapshot.Owner.UserID)
	assert.Equal(t, userdomain.TierPro, snapshot.Owner.SubscriptionTier)
	assert.Equal(t, userdomain.BoostSilver, snapshot.Owner.BoostLevel)
	assert.Equal(t, 0.25, snapshot.Owner.CommissionRate)

	require.NotNil(t, snapshot.Featuring)
	assert.Equal(t, featuringdomain.TriggerShareThreshold, snapshot.Featuring.Trigger)

	_, err = h.svc.ReadSiteSnapshot(context.Background(), h.node.Generate())
	require.ErrorIs(t, err, sitedomain.ErrSiteNotFound)
}

func TestRunFeaturingSweepMergesPasses(t *testing.T) {
	h := newEngineHarness(t)
	h.featuring.expireResult = featuringdomain.ExpireResult{Expired: 2, Reverted: 1}
	h.featuring.viralResult = featuringdomain.ViralResult{Checked: 4, Demoted: 1}

	result, err := h.svc.RunFeaturingSweep(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, &domain.SweepResult{Expired: 2, Reverted: 1, Checked: 4, Demoted: 1}, result)
}

func TestReprocessStaleReplaysBacklog(t *testing.T) {
	h := newEngineHarness(t)
	ownerID := h.seedUser(t)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusActive)
	h.score.result.OwnerID = ownerID

	require.NoError(t, h.db.Create(&eventdomain.ShareEvent{
		ID:             h.node.Generate(),
		SiteID:         siteID,
		Platform:       eventdomain.PlatformTwitter,
		IdempotencyKey: "stale-share",
		CreatedAt:      testNow.Add(-2 * time.Hour),
	}).Error)
	require.NoError(t, h.db.Create(&eventdomain.AnalyticsEvent{
		ID:             h.node.Generate(),
		SiteID:         siteID,
		EventType:      eventdomain.AnalyticsPageView,
		IdempotencyKey: "stale-pv",
		CreatedAt:      testNow.Add(-90 * time.Minute),
	}).Error)
	// Too fresh for this pass.
	require.NoError(t, h.db.Create(&eventdomain.ShareEvent{
		ID:             h.node.Generate(),
		SiteID:         siteID,
		Platform:       eventdomain.PlatformReddit,
		IdempotencyKey: "fresh-share",
		CreatedAt:      testNow.Add(-10 * time.Minute),
	}).Error)

	result, err := h.svc.ReprocessStale(context.Background(), time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Fetched)
	assert.Equal(t, 2, result.Processed)
	assert.Zero(t, result.Deferred)

	// One backlog recompute covers every event of the site.
	assert.Equal(t, []snowflake.ID{siteID}, h.score.calls)
	assert.Equal(t, []snowflake.ID{ownerID}, h.tier.growthCalls)

	var share eventdomain.ShareEvent
	require.NoError(t, h.db.First(&share, "idempotency_key = ?", "stale-share").Error)
	assert.True(t, share.Processed)
	var analytics eventdomain.AnalyticsEvent
	require.NoError(t, h.db.First(&analytics, "idempotency_key = ?", "stale-pv").Error)
	assert.True(t, analytics.Processed)
	require.NoError(t, h.db.First(&share, "idempotency_key = ?", "fresh-share").Error)
	assert.False(t, share.Processed)

	again, err := h.svc.ReprocessStale(context.Background(), time.Hour, 10)
	require.NoError(t, err)
	assert.Zero(t, again.Fetched)
}

func TestReprocessStaleAnalyticsOnlyKeepsBoost(t *testing.T) {
	h := newEngineHarness(t)
	ownerID := h.seedUser(t)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusActive)
	h.score.result.OwnerID = ownerID

	require.NoError(t, h.db.Create(&eventdomain.AnalyticsEvent{
		ID:             h.node.Generate(),
		SiteID:         siteID,
		EventType:      eventdomain.AnalyticsEngagement,
		IdempotencyKey: "stale-eng",
		CreatedAt:      testNow.Add(-3 * time.Hour),
	}).Error)

	result, err := h.svc.ReprocessStale(context.Background(), time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, []snowflake.ID{siteID}, h.score.calls)
	assert.Empty(t, h.tier.growthCalls, "no share in the backlog, no boost recount")
}

func TestAppendShareServesSiteCheckFromCache(t *testing.T) {
	h := newEngineHarness(t)
	ownerID := h.seedUser(t)
	siteID := h.seedSite(t, ownerID, sitedomain.StatusActive)
	h.score.result.OwnerID = ownerID

	_, err := h.svc.AppendEvent(context.Background(), shareInput(siteID, "warm-1"))
	require.NoError(t, err)
	_, cached := h.readCache.GetSiteRef(siteID.String())
	assert.True(t, cached)

	// The row is gone but the hot ref still admits the event.
	require.NoError(t, h.db.Exec("DELETE FROM sites WHERE id = ?", siteID).Error)
	_, err = h.svc.AppendEvent(context.Background(), shareInput(siteID, "warm-2"))
	require.NoError(t, err)

	h.readCache.InvalidateSite(siteID.String())
	_, err = h.svc.AppendEvent(context.Background(), shareInput(siteID, "warm-3"))
	require.ErrorIs(t, err, sitedomain.ErrSiteNotFound)
}
