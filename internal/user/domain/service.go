package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	Create(ctx context.Context, req CreateUserRequest) (*UserResponse, error)
	// Get returns the growth profile including boost level and the effective
	// commission rate.
	Get(ctx context.Context, id string) (*UserResponse, error)
}

type CreateUserRequest struct {
	Email            string `json:"email"`
	DisplayName      string `json:"display_name"`
	SubscriptionTier string `json:"subscription_tier"`
}

type UserResponse struct {
	ID                      string           `json:"id"`
	Email                   string           `json:"email"`
	DisplayName             string           `json:"display_name"`
	SubscriptionTier        SubscriptionTier `json:"subscription_tier"`
	ViralScore              float64          `json:"viral_score"`
	TotalShares             int64            `json:"total_shares"`
	ViralCoefficient        float64          `json:"viral_coefficient"`
	BoostLevel              BoostLevel       `json:"boost_level"`
	CommissionTier          CommissionTier   `json:"commission_tier"`
	CommissionRate          float64          `json:"commission_rate"`
	CommissionTierStartedAt *time.Time       `json:"commission_tier_started_at,omitempty"`
	ReferralsConverted      int64            `json:"referrals_converted"`
	ComplimentaryGrant      bool             `json:"complimentary_grant"`
	GrantExpiresAt          *time.Time       `json:"grant_expires_at,omitempty"`
	CreatedAt               time.Time        `json:"created_at"`
}

var (
	ErrInvalidUser  = errors.New("invalid_user")
	ErrUserNotFound = errors.New("user_not_found")
	ErrInvalidEmail = errors.New("invalid_email")
	ErrEmailTaken   = errors.New("email_taken")
	ErrInvalidTier  = errors.New("invalid_tier")
)
