// Package testing holds helpers that bend time in integration tests so
// expiry sweeps can be exercised without waiting out featuring windows.
package testing

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	featuringdomain "github.com/siteloom/growth/internal/featuring/domain"
	milestonedomain "github.com/siteloom/growth/internal/milestone/domain"
	"gorm.io/gorm"
)

type TimeAccelerator struct {
	db *gorm.DB
}

func NewTimeAccelerator(db *gorm.DB) *TimeAccelerator {
	return &TimeAccelerator{db: db}
}

// FastForwardFeaturing moves one active featuring window's expiry into the
// past so the next sweep picks it up.
func (ta *TimeAccelerator) FastForwardFeaturing(ctx context.Context, eventID snowflake.ID) error {
	now := time.Now().UTC()
	return ta.db.WithContext(ctx).Exec(
		`UPDATE featuring_events
		 SET expires_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		now.Add(-1*time.Minute),
		now,
		eventID,
		featuringdomain.StatusActive,
	).Error
}

// FastForwardSiteFeaturing expires every active window for one site.
func (ta *TimeAccelerator) FastForwardSiteFeaturing(ctx context.Context, siteID snowflake.ID) error {
	now := time.Now().UTC()
	return ta.db.WithContext(ctx).Exec(
		`UPDATE featuring_events
		 SET expires_at = ?, updated_at = ?
		 WHERE site_id = ? AND status = ?`,
		now.Add(-1*time.Minute),
		now,
		siteID,
		featuringdomain.StatusActive,
	).Error
}

// FastForwardAllFeaturing expires every active window still in the future
// and reports how many rows moved.
func (ta *TimeAccelerator) FastForwardAllFeaturing(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	result := ta.db.WithContext(ctx).Exec(
		`UPDATE featuring_events
		 SET expires_at = ?, updated_at = ?
		 WHERE status = ? AND expires_at > ?`,
		now.Add(-1*time.Minute),
		now,
		featuringdomain.StatusActive,
		now,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// SetFeaturingWindow pins a window's bounds for scenarios that need an
// exact featured_at or expiry.
func (ta *TimeAccelerator) SetFeaturingWindow(ctx context.Context, eventID snowflake.ID, featuredAt, expiresAt time.Time) error {
	return ta.db.WithContext(ctx).Exec(
		`UPDATE featuring_events
		 SET featured_at = ?, expires_at = ?, updated_at = ?
		 WHERE id = ?`,
		featuredAt,
		expiresAt,
		time.Now().UTC(),
		eventID,
	).Error
}

// AgeReferral backdates an activated referral so commission tiers can be
// tested across relationship ages.
func (ta *TimeAccelerator) AgeReferral(ctx context.Context, referralID snowflake.ID, activatedAt time.Time) error {
	return ta.db.WithContext(ctx).Exec(
		`UPDATE referrals
		 SET activated_at = ?, updated_at = ?
		 WHERE id = ?`,
		activatedAt,
		time.Now().UTC(),
		referralID,
	).Error
}

// AgeGrant backdates a tier grant's expiry so the grant sweep reverts it.
func (ta *TimeAccelerator) AgeGrant(ctx context.Context, grantID snowflake.ID) error {
	now := time.Now().UTC()
	return ta.db.WithContext(ctx).Exec(
		`UPDATE tier_grants
		 SET expires_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		now.Add(-1*time.Minute),
		now,
		grantID,
		milestonedomain.GrantActive,
	).Error
}

// FeaturingInfo is a debugging view of one window.
type FeaturingInfo struct {
	ID         snowflake.ID
	SiteID     snowflake.ID
	Status     featuringdomain.EventStatus
	FeaturedAt time.Time
	ExpiresAt  time.Time
	TimeLeft   time.Duration
	Expirable  bool
}

func (ta *TimeAccelerator) GetFeaturingInfo(ctx context.Context, eventID snowflake.ID) (*FeaturingInfo, error) {
	var row struct {
		ID         snowflake.ID
		SiteID     snowflake.ID
		Status     featuringdomain.EventStatus
		FeaturedAt time.Time
		ExpiresAt  time.Time
	}

	err := ta.db.WithContext(ctx).Raw(
		`SELECT id, site_id, status, featured_at, expires_at
		 FROM featuring_events
		 WHERE id = ?`,
		eventID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &FeaturingInfo{
		ID:         row.ID,
		SiteID:     row.SiteID,
		Status:     row.Status,
		FeaturedAt: row.FeaturedAt,
		ExpiresAt:  row.ExpiresAt,
		TimeLeft:   row.ExpiresAt.Sub(now),
		Expirable:  now.After(row.ExpiresAt) && row.Status == featuringdomain.StatusActive,
	}, nil
}
