// Package domain contains persistence models for referrals.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ReferralStatus is the lifecycle state of a referral.
type ReferralStatus string

const (
	StatusPending   ReferralStatus = "pending"
	StatusActivated ReferralStatus = "activated"
	StatusConverted ReferralStatus = "converted"
	StatusExpired   ReferralStatus = "expired"
	StatusChurned   ReferralStatus = "churned"
)

// Referral tracks one referred identity from signup through conversion.
type Referral struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	ReferrerID    snowflake.ID   `gorm:"not null;index" json:"referrer_id"`
	ReferredEmail string         `gorm:"type:text;not null" json:"referred_email"`
	Code          string         `gorm:"type:text;not null;uniqueIndex:ux_referrals_code" json:"code"`
	Status        ReferralStatus `gorm:"type:text;not null;default:'pending'" json:"status"`
	CreatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	ActivatedAt   *time.Time     `json:"activated_at,omitempty"`
	ConvertedAt   *time.Time     `json:"converted_at,omitempty"`
}

// TableName sets the database table name.
func (Referral) TableName() string { return "referrals" }
