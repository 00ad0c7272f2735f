package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/siteloom/growth/internal/clock"
	"github.com/siteloom/growth/internal/config"
	"github.com/siteloom/growth/internal/milestone/domain"
	milestonerepository "github.com/siteloom/growth/internal/milestone/repository"
	referraldomain "github.com/siteloom/growth/internal/referral/domain"
	referralrepository "github.com/siteloom/growth/internal/referral/repository"
	sideeffectdomain "github.com/siteloom/growth/internal/sideeffect/domain"
	sideeffectrepository "github.com/siteloom/growth/internal/sideeffect/repository"
	userdomain "github.com/siteloom/growth/internal/user/domain"
	userrepository "github.com/siteloom/growth/internal/user/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type milestoneHarness struct {
	svc   domain.Service
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
}

func newMilestoneHarness(t *testing.T) *milestoneHarness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&userdomain.User{},
		&referraldomain.Referral{},
		&domain.TierGrant{},
		&sideeffectdomain.SideEffect{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(testNow)

	svc := NewService(ServiceParam{
		DB:             db,
		Log:            zap.NewNop(),
		Clock:          fake,
		GenID:          node,
		Rules:          config.NewStaticGrowthRules(config.DefaultGrowthRules()),
		Repo:           milestonerepository.NewRepository(db),
		UserRepo:       userrepository.NewRepository(db),
		ReferralRepo:   referralrepository.NewRepository(db),
		SideEffectRepo: sideeffectrepository.NewRepository(db),
	})

	return &milestoneHarness{svc: svc, db: db, node: node, clock: fake}
}

func (h *milestoneHarness) seedUser(t *testing.T, tier userdomain.SubscriptionTier) snowflake.ID {
	t.Helper()
	id := h.node.Generate()
	require.NoError(t, h.db.Create(&userdomain.User{
		ID:               id,
		Email:            id.String() + "@growth.test",
		SubscriptionTier: tier,
		ViralCoefficient: 1.0,
		BoostLevel:       userdomain.BoostNone,
		CommissionTier:   userdomain.CommissionNew,
		CreatedAt:        testNow.AddDate(-1, 0, 0),
		UpdatedAt:        testNow.AddDate(-1, 0, 0),
	}).Error)
	return id
}

func (h *milestoneHarness) seedReferrals(t *testing.T, referrerID snowflake.ID, status referraldomain.ReferralStatus, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := h.node.Generate()
		referral := referraldomain.Referral{
			ID:            id,
			ReferrerID:    referrerID,
			ReferredEmail: id.String() + "@invitee.test",
			Code:          "code-" + id.String(),
			Status:        status,
			CreatedAt:     testNow.AddDate(0, -6, 0),
		}
		if status == referraldomain.StatusActivated || status == referraldomain.StatusConverted {
			at := testNow.AddDate(0, -3, 0)
			referral.ActivatedAt = &at
		}
		if status == referraldomain.StatusConverted {
			at := testNow.AddDate(0, -1, 0)
			referral.ConvertedAt = &at
		}
		require.NoError(t, h.db.Create(&referral).Error)
	}
}

func (h *milestoneHarness) user(t *testing.T, id snowflake.ID) *userdomain.User {
	t.Helper()
	var user userdomain.User
	require.NoError(t, h.db.First(&user, "id = ?", id).Error)
	return &user
}

func TestOnReferralConvertedBelowThreshold(t *testing.T) {
	h := newMilestoneHarness(t)
	userID := h.seedUser(t, userdomain.TierFree)
	h.seedReferrals(t, userID, referraldomain.StatusConverted, 3)
	h.seedReferrals(t, userID, referraldomain.StatusPending, 2)

	outcome, err := h.svc.OnReferralConverted(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), outcome.ReferralsConverted)
	assert.False(t, outcome.Granted)
	assert.False(t, outcome.AlreadyGranted)

	user := h.user(t, userID)
	assert.Equal(t, int64(3), user.ReferralsConverted)
	assert.Equal(t, userdomain.TierFree, user.SubscriptionTier)

	var count int64
	require.NoError(t, h.db.Model(&domain.TierGrant{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestOnReferralConvertedGrantsAtThreshold(t *testing.T) {
	h := newMilestoneHarness(t)
	userID := h.seedUser(t, userdomain.TierFree)
	h.seedReferrals(t, userID, referraldomain.StatusConverted, 10)

	outcome, err := h.svc.OnReferralConverted(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), outcome.ReferralsConverted)
	assert.True(t, outcome.Granted)
	require.NotNil(t, outcome.GrantExpiresAt)
	assert.Equal(t, testNow.AddDate(0, 12, 0), outcome.GrantExpiresAt.UTC())

	user := h.user(t, userID)
	assert.Equal(t, userdomain.TierPro, user.SubscriptionTier)
	assert.True(t, user.ComplimentaryGrant)
	require.NotNil(t, user.GrantExpiresAt)
	assert.WithinDuration(t, testNow.AddDate(0, 12, 0), *user.GrantExpiresAt, time.Second)

	var grant domain.TierGrant
	require.NoError(t, h.db.First(&grant, "user_id = ?", userID).Error)
	assert.Equal(t, "referrals_converted_10", grant.Milestone)
	assert.Equal(t, userdomain.TierPro, grant.Tier)
	assert.Equal(t, domain.GrantActive, grant.Status)

	var effects int64
	require.NoError(t, h.db.Model(&sideeffectdomain.SideEffect{}).
		Where("kind = ?", sideeffectdomain.KindGrantSubscriptionTier).Count(&effects).Error)
	assert.Equal(t, int64(1), effects)
}

func TestOnReferralConvertedGrantsOnlyOnce(t *testing.T) {
	h := newMilestoneHarness(t)
	userID := h.seedUser(t, userdomain.TierFree)
	h.seedReferrals(t, userID, referraldomain.StatusConverted, 10)

	first, err := h.svc.OnReferralConverted(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, first.Granted)

	second, err := h.svc.OnReferralConverted(context.Background(), userID)
	require.NoError(t, err)
	assert.False(t, second.Granted)
	assert.True(t, second.AlreadyGranted)

	var count int64
	require.NoError(t, h.db.Model(&domain.TierGrant{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestOnReferralConvertedPaidUserKeepsOwnPlan(t *testing.T) {
	h := newMilestoneHarness(t)
	userID := h.seedUser(t, userdomain.TierBusiness)
	h.seedReferrals(t, userID, referraldomain.StatusConverted, 12)

	outcome, err := h.svc.OnReferralConverted(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(12), outcome.ReferralsConverted)
	assert.False(t, outcome.Granted)
	assert.False(t, outcome.AlreadyGranted)

	user := h.user(t, userID)
	assert.Equal(t, userdomain.TierBusiness, user.SubscriptionTier)
	assert.False(t, user.ComplimentaryGrant)
	assert.Equal(t, int64(12), user.ReferralsConverted)
}

func TestOnReferralConvertedUnknownUser(t *testing.T) {
	h := newMilestoneHarness(t)

	_, err := h.svc.OnReferralConverted(context.Background(), h.node.Generate())
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestExpireGrantsRevertsComplimentaryTier(t *testing.T) {
	h := newMilestoneHarness(t)
	userID := h.seedUser(t, userdomain.TierFree)
	h.seedReferrals(t, userID, referraldomain.StatusConverted, 10)

	outcome, err := h.svc.OnReferralConverted(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, outcome.Granted)

	h.clock.Set(outcome.GrantExpiresAt.Add(time.Hour))

	result, err := h.svc.ExpireGrants(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Expired)
	assert.Equal(t, 1, result.Reverted)

	user := h.user(t, userID)
	assert.Equal(t, userdomain.TierFree, user.SubscriptionTier)
	assert.False(t, user.ComplimentaryGrant)
	assert.Nil(t, user.GrantExpiresAt)

	var grant domain.TierGrant
	require.NoError(t, h.db.First(&grant, "user_id = ?", userID).Error)
	assert.Equal(t, domain.GrantExpired, grant.Status)
	require.NotNil(t, grant.ExpiredAt)

	again, err := h.svc.ExpireGrants(context.Background(), 50)
	require.NoError(t, err)
	assert.Zero(t, again.Expired)
}

func TestExpireGrantsLeavesSelfUpgradedUsers(t *testing.T) {
	h := newMilestoneHarness(t)
	userID := h.seedUser(t, userdomain.TierFree)
	h.seedReferrals(t, userID, referraldomain.StatusConverted, 10)

	outcome, err := h.svc.OnReferralConverted(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, outcome.Granted)

	// The user bought a plan of their own before the grant ran out.
	require.NoError(t, h.db.Exec(
		`UPDATE users SET subscription_tier = ?, complimentary_grant = false, grant_expires_at = NULL WHERE id = ?`,
		userdomain.TierBusiness, userID,
	).Error)

	h.clock.Set(outcome.GrantExpiresAt.Add(time.Hour))

	result, err := h.svc.ExpireGrants(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Expired)
	assert.Zero(t, result.Reverted)
	assert.Equal(t, userdomain.TierBusiness, h.user(t, userID).SubscriptionTier)
}

func TestListGrants(t *testing.T) {
	h := newMilestoneHarness(t)
	userID := h.seedUser(t, userdomain.TierFree)
	h.seedReferrals(t, userID, referraldomain.StatusConverted, 10)

	_, err := h.svc.OnReferralConverted(context.Background(), userID)
	require.NoError(t, err)

	grants, err := h.svc.ListGrants(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, userID, grants[0].UserID)
	assert.Equal(t, domain.GrantActive, grants[0].Status)

	none, err := h.svc.ListGrants(context.Background(), h.node.Generate())
	require.NoError(t, err)
	assert.Empty(t, none)
}
