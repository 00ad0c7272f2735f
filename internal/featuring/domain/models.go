package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EventStatus is the lifecycle of a featuring window.
type EventStatus string

const (
	StatusActive  EventStatus = "active"
	StatusExpired EventStatus = "expired"
)

// TriggerType records what opened the featuring window.
type TriggerType string

const (
	TriggerShareThreshold TriggerType = "share_threshold"
	TriggerViralScore     TriggerType = "viral_score"
	TriggerManual         TriggerType = "manual"
	TriggerTier           TriggerType = "tier"
)

// FeaturingEvent is one featuring window for a site. A site has at most one
// active event at a time; the guarded insert enforces it.
type FeaturingEvent struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	SiteID      snowflake.ID `gorm:"not null;index:ix_featuring_events_site" json:"site_id"`
	TriggerType TriggerType  `gorm:"type:text;not null" json:"trigger_type"`
	Status      EventStatus  `gorm:"type:text;not null;default:'active';index:ix_featuring_events_status" json:"status"`
	FeaturedAt  time.Time    `gorm:"not null" json:"featured_at"`
	ExpiresAt   time.Time    `gorm:"not null;index:ix_featuring_events_expiry" json:"expires_at"`
	ExpiredAt   *time.Time   `json:"expired_at,omitempty"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (FeaturingEvent) TableName() string { return "featuring_events" }
