package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Kind names the downstream action a side effect asks for.
type Kind string

const (
	KindGrantSubscriptionTier Kind = "grant_subscription_tier"
	KindSetSiteStatus         Kind = "set_site_status"
	KindFeaturingCreated      Kind = "featuring_created"
	KindFeaturingExpired      Kind = "featuring_expired"
	KindShowcaseUpdated       Kind = "showcase_updated"
)

// ValidKind reports whether the value is a known side effect kind.
func ValidKind(kind Kind) bool {
	switch kind {
	case KindGrantSubscriptionTier, KindSetSiteStatus,
		KindFeaturingCreated, KindFeaturingExpired, KindShowcaseUpdated:
		return true
	default:
		return false
	}
}

// SideEffect is an outbox record. Producers append it inside the transaction
// that made the state change; the dispatcher publishes it afterwards, so
// delivery is at-least-once and consumers must be idempotent.
type SideEffect struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	Kind        Kind              `gorm:"type:text;not null;index:ix_side_effects_kind" json:"kind"`
	SiteID      *snowflake.ID     `gorm:"index:ix_side_effects_site" json:"site_id,omitempty"`
	UserID      *snowflake.ID     `json:"user_id,omitempty"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb;not null" json:"payload"`
	DedupeKey   *string           `gorm:"type:text;uniqueIndex:ux_side_effects_dedupe" json:"dedupe_key,omitempty"`
	Published   bool              `gorm:"not null;default:false;index:ix_side_effects_pending" json:"published"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
	Attempts    int               `gorm:"not null;default:0" json:"attempts"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (SideEffect) TableName() string { return "side_effects" }

// Dedupe joins key parts into a pointer dedupe key.
func Dedupe(parts ...string) *string {
	key := strings.Join(parts, ":")
	return &key
}
