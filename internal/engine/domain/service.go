// Package domain defines the growth engine orchestration contract. The
// engine validates inbound events, appends them to the durable log, and
// drives the per-site recompute pipeline and the background sweeps.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/siteloom/growth/internal/event/domain"
	featuringdomain "github.com/siteloom/growth/internal/featuring/domain"
	showcasedomain "github.com/siteloom/growth/internal/showcase/domain"
	sitedomain "github.com/siteloom/growth/internal/site/domain"
	userdomain "github.com/siteloom/growth/internal/user/domain"
)

// AppendEventInput is the single ingest surface for all growth activity.
// SiteID is required for share and analytics events, ReferralID for
// conversion events. A blank idempotency key gets a generated one, which
// disables dedupe for that delivery.
type AppendEventInput struct {
	Kind           string `json:"kind"`
	SiteID         string `json:"site_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	ReferralID     string `json:"referral_id,omitempty"`
	Platform       string `json:"platform,omitempty"`
	EventType      string `json:"event_type,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// SiteOutcome reports what processing one site event changed. Deferred is
// set when another writer held the site and processing was left to the
// recovery sweep; the event itself is already durable.
type SiteOutcome struct {
	SiteID             snowflake.ID          `json:"site_id"`
	Status             sitedomain.SiteStatus `json:"status"`
	ViralScore         float64               `json:"viral_score"`
	ExternalShareCount int64                 `json:"external_share_count"`
	FeaturingCreated   bool                  `json:"featuring_created"`
	WentViral          bool                  `json:"went_viral"`
	Deferred           bool                  `json:"deferred"`
}

// ReferralOutcome reports what a conversion event changed.
type ReferralOutcome struct {
	ReferralID         snowflake.ID              `json:"referral_id"`
	ReferrerID         snowflake.ID              `json:"referrer_id"`
	ReferralsConverted int64                     `json:"referrals_converted"`
	MilestoneGranted   bool                      `json:"milestone_granted"`
	CommissionTier     userdomain.CommissionTier `json:"commission_tier"`
}

// AppendEventResult is returned for every accepted event. Deduplicated
// means the idempotency key had already been processed; the original
// event id is returned and nothing was recomputed.
type AppendEventResult struct {
	EventID      snowflake.ID     `json:"event_id,omitempty"`
	Kind         string           `json:"kind"`
	Deduplicated bool             `json:"deduplicated"`
	Site         *SiteOutcome     `json:"site,omitempty"`
	Referral     *ReferralOutcome `json:"referral,omitempty"`
}

// SnapshotOwner is the owner slice of a site snapshot.
type SnapshotOwner struct {
	UserID           snowflake.ID                `json:"user_id"`
	SubscriptionTier userdomain.SubscriptionTier `json:"subscription_tier"`
	TotalShares      int64                       `json:"total_shares"`
	BoostLevel       userdomain.BoostLevel       `json:"boost_level"`
	ViralCoefficient float64                     `json:"viral_coefficient"`
	CommissionTier   userdomain.CommissionTier   `json:"commission_tier"`
	CommissionRate   float64                     `json:"commission_rate"`
}

// SnapshotFeaturing is the active featuring slice of a site snapshot.
type SnapshotFeaturing struct {
	EventID    snowflake.ID                `json:"event_id"`
	Trigger    featuringdomain.TriggerType `json:"trigger"`
	FeaturedAt time.Time                   `json:"featured_at"`
	ExpiresAt  time.Time                   `json:"expires_at"`
}

// SiteSnapshot is a read-only view assembled from durable rows. It never
// recomputes; the counters are whatever the last pipeline run persisted.
type SiteSnapshot struct {
	SiteID             snowflake.ID                   `json:"site_id"`
	Name               string                         `json:"name"`
	Status             sitedomain.SiteStatus          `json:"status"`
	ViralScore         float64                        `json:"viral_score"`
	ShareCount         int64                          `json:"share_count"`
	ExternalShareCount int64                          `json:"external_share_count"`
	PageviewCount      int64                          `json:"pageview_count"`
	LikeCount          int64                          `json:"like_count"`
	CommentCount       int64                          `json:"comment_count"`
	SharesByPlatform   map[eventdomain.Platform]int64 `json:"shares_by_platform"`
	Owner              SnapshotOwner                  `json:"owner"`
	Featuring          *SnapshotFeaturing             `json:"featuring,omitempty"`
	CreatedAt          time.Time                      `json:"created_at"`
}

// SweepResult combines the featuring expiry and viral re-evaluation
// passes of one sweep.
type SweepResult struct {
	Expired  int `json:"expired"`
	Reverted int `json:"reverted"`
	Checked  int `json:"checked"`
	Demoted  int `json:"demoted"`
}

// RecoveryResult reports one stale-event recovery pass.
type RecoveryResult struct {
	Fetched   int `json:"fetched"`
	Processed int `json:"processed"`
	Deferred  int `json:"deferred"`
}

type Service interface {
	// AppendEvent validates and durably appends one activity event, then
	// runs the synchronous processing pipeline for the affected entity.
	// Replaying an idempotency key is a success that changes nothing.
	AppendEvent(ctx context.Context, input AppendEventInput) (*AppendEventResult, error)

	// ReadSiteSnapshot assembles the persisted growth state of one site.
	ReadSiteSnapshot(ctx context.Context, siteID snowflake.ID) (*SiteSnapshot, error)

	// RunFeaturingSweep expires past-due featuring events and re-evaluates
	// viral sites against the current threshold.
	RunFeaturingSweep(ctx context.Context, batchSize int) (*SweepResult, error)

	// RunShowcaseRefresh executes one showcase curation cycle.
	RunShowcaseRefresh(ctx context.Context) (*showcasedomain.RefreshResult, error)

	// ReprocessStale replays events whose processing was deferred or lost
	// before completion. Safe to run repeatedly; recompute is idempotent.
	ReprocessStale(ctx context.Context, olderThan time.Duration, batchSize int) (*RecoveryResult, error)
}

var (
	ErrInvalidEventKind     = errors.New("invalid_event_kind")
	ErrInvalidSiteRef       = errors.New("invalid_site_ref")
	ErrInvalidUserRef       = errors.New("invalid_user_ref")
	ErrInvalidReferralRef   = errors.New("invalid_referral_ref")
	ErrInvalidPlatform      = errors.New("invalid_platform")
	ErrInvalidAnalyticsType = errors.New("invalid_analytics_type")
)
