// Package domain contains persistence models for user growth profiles.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionTier is the billing plan a user is on.
type SubscriptionTier string

const (
	TierFree       SubscriptionTier = "free"
	TierPro        SubscriptionTier = "pro"
	TierBusiness   SubscriptionTier = "business"
	TierEnterprise SubscriptionTier = "enterprise"
)

// Rank orders tiers for threshold checks. Unknown tiers rank below free.
func (t SubscriptionTier) Rank() int {
	switch t {
	case TierFree:
		return 1
	case TierPro:
		return 2
	case TierBusiness:
		return 3
	case TierEnterprise:
		return 4
	default:
		return 0
	}
}

// Paid reports whether the tier is pro or above.
func (t SubscriptionTier) Paid() bool { return t.Rank() >= TierPro.Rank() }

// ValidTier reports whether the value is a known subscription tier.
func ValidTier(tier SubscriptionTier) bool { return tier.Rank() > 0 }

// BoostLevel is the categorical label derived from lifetime external shares.
type BoostLevel string

const (
	BoostNone     BoostLevel = "none"
	BoostBronze   BoostLevel = "bronze"
	BoostSilver   BoostLevel = "silver"
	BoostGold     BoostLevel = "gold"
	BoostPlatinum BoostLevel = "platinum"
	BoostViral    BoostLevel = "viral"
)

// CommissionTier is the categorical label derived from referral relationship
// duration.
type CommissionTier string

const (
	CommissionNew         CommissionTier = "new"
	CommissionEstablished CommissionTier = "established"
	CommissionLegacy      CommissionTier = "legacy"
)

// Rate maps the commission tier to its payout rate. Looked up at earn time,
// never stored per referral.
func (t CommissionTier) Rate() float64 {
	switch t {
	case CommissionEstablished:
		return 0.25
	case CommissionLegacy:
		return 0.40
	default:
		return 0.20
	}
}

// User represents an account and its derived growth state.
type User struct {
	ID                      snowflake.ID     `gorm:"primaryKey" json:"id"`
	Email                   string           `gorm:"type:text;not null;uniqueIndex:ux_users_email" json:"email"`
	DisplayName             string           `gorm:"type:text" json:"display_name"`
	SubscriptionTier        SubscriptionTier `gorm:"type:text;not null;default:'free'" json:"subscription_tier"`
	ViralScore              float64          `gorm:"type:numeric(14,2);not null;default:0" json:"viral_score"`
	TotalShares             int64            `gorm:"not null;default:0" json:"total_shares"`
	ViralCoefficient        float64          `gorm:"type:numeric(4,1);not null;default:1.0" json:"viral_coefficient"`
	BoostLevel              BoostLevel       `gorm:"type:text;not null;default:'none'" json:"boost_level"`
	CommissionTier          CommissionTier   `gorm:"type:text;not null;default:'new'" json:"commission_tier"`
	CommissionTierStartedAt *time.Time       `json:"commission_tier_started_at"`
	ReferralsConverted      int64            `gorm:"not null;default:0" json:"referrals_converted"`
	ComplimentaryGrant      bool             `gorm:"not null;default:false" json:"complimentary_grant"`
	GrantExpiresAt          *time.Time       `json:"grant_expires_at"`
	CreatedAt               time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt               time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }
