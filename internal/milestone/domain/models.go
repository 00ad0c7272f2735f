package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	userdomain "github.com/siteloom/growth/internal/user/domain"
)

// GrantStatus is the lifecycle of a complimentary tier grant.
type GrantStatus string

const (
	GrantActive  GrantStatus = "active"
	GrantExpired GrantStatus = "expired"
)

// TierGrant is the one-time grant ledger. The unique key on
// (user_id, milestone) is what makes re-granting impossible: the row stays
// after expiry, so a user earns each milestone at most once.
type TierGrant struct {
	ID        snowflake.ID                `gorm:"primaryKey" json:"id"`
	UserID    snowflake.ID                `gorm:"not null;uniqueIndex:ux_tier_grants_milestone,priority:1" json:"user_id"`
	Milestone string                      `gorm:"type:text;not null;uniqueIndex:ux_tier_grants_milestone,priority:2" json:"milestone"`
	Tier      userdomain.SubscriptionTier `gorm:"type:text;not null" json:"tier"`
	Status    GrantStatus                 `gorm:"type:text;not null;default:'active';index:ix_tier_grants_status" json:"status"`
	GrantedAt time.Time                   `gorm:"not null" json:"granted_at"`
	ExpiresAt time.Time                   `gorm:"not null;index:ix_tier_grants_expiry" json:"expires_at"`
	ExpiredAt *time.Time                  `json:"expired_at,omitempty"`
	CreatedAt time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (TierGrant) TableName() string { return "tier_grants" }

// MilestoneName builds the ledger key for a converted-referrals milestone.
func MilestoneName(threshold int64) string {
	return fmt.Sprintf("referrals_converted_%d", threshold)
}
