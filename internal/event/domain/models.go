// Package domain contains the append-only event log models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EventKind routes an inbound event to its processing pipeline.
type EventKind string

const (
	KindSiteShared        EventKind = "site.shared"
	KindSiteAnalytics     EventKind = "site.analytics"
	KindReferralConverted EventKind = "referral.converted"
)

// ValidKind reports whether the value is a known event kind.
func ValidKind(kind EventKind) bool {
	switch kind {
	case KindSiteShared, KindSiteAnalytics, KindReferralConverted:
		return true
	default:
		return false
	}
}

// Platform identifies where a share happened.
type Platform string

const (
	PlatformTwitter    Platform = "twitter"
	PlatformLinkedIn   Platform = "linkedin"
	PlatformReddit     Platform = "reddit"
	PlatformHackerNews Platform = "hackernews"
	PlatformFacebook   Platform = "facebook"
	PlatformEmail      Platform = "email"
	PlatformOther      Platform = "other"
)

// ValidPlatform reports whether the value is a known share platform.
func ValidPlatform(platform Platform) bool {
	switch platform {
	case PlatformTwitter, PlatformLinkedIn, PlatformReddit, PlatformHackerNews,
		PlatformFacebook, PlatformEmail, PlatformOther:
		return true
	default:
		return false
	}
}

// External reports whether shares on the platform count toward
// external_share_count. Only the named platforms do; "other" counts toward
// share_count alone.
func (p Platform) External() bool {
	return ValidPlatform(p) && p != PlatformOther
}

// AnalyticsType classifies an analytics event.
type AnalyticsType string

const (
	AnalyticsPageView      AnalyticsType = "page_view"
	AnalyticsEngagement    AnalyticsType = "engagement"
	AnalyticsConversion    AnalyticsType = "conversion"
	AnalyticsReferralClick AnalyticsType = "referral_click"
)

// ValidAnalyticsType reports whether the value is a known analytics type.
func ValidAnalyticsType(t AnalyticsType) bool {
	switch t {
	case AnalyticsPageView, AnalyticsEngagement, AnalyticsConversion, AnalyticsReferralClick:
		return true
	default:
		return false
	}
}

// ShareEvent is one share action, immutable once appended.
type ShareEvent struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	SiteID         snowflake.ID `gorm:"not null;index" json:"site_id"`
	UserID         snowflake.ID `gorm:"index" json:"user_id,omitempty"`
	Platform       Platform     `gorm:"type:text;not null" json:"platform"`
	IdempotencyKey string       `gorm:"type:text;not null;uniqueIndex:ux_share_events_idem" json:"idempotency_key"`
	Processed      bool         `gorm:"not null;default:false" json:"processed"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (ShareEvent) TableName() string { return "share_events" }

// AnalyticsEvent is one engagement action, immutable once appended.
type AnalyticsEvent struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	SiteID         snowflake.ID  `gorm:"not null;index" json:"site_id"`
	UserID         snowflake.ID  `gorm:"index" json:"user_id,omitempty"`
	EventType      AnalyticsType `gorm:"type:text;not null" json:"event_type"`
	IdempotencyKey string        `gorm:"type:text;not null;uniqueIndex:ux_analytics_events_idem" json:"idempotency_key"`
	Processed      bool          `gorm:"not null;default:false" json:"processed"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (AnalyticsEvent) TableName() string { return "analytics_events" }

// ShareCounts aggregates the share log for one site.
type ShareCounts struct {
	Total      int64
	External   int64
	ByPlatform map[Platform]int64
}

// AnalyticsCounts aggregates the analytics log for one site within the
// engagement window.
type AnalyticsCounts struct {
	ByType map[AnalyticsType]int64
}
