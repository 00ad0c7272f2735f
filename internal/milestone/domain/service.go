package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ConversionOutcome reports one milestone evaluation after a referral
// conversion.
type ConversionOutcome struct {
	ReferrerID         snowflake.ID `json:"referrer_id"`
	ReferralsConverted int64        `json:"referrals_converted"`
	Granted            bool         `json:"granted"`
	AlreadyGranted     bool         `json:"already_granted"`
	GrantExpiresAt     *time.Time   `json:"grant_expires_at,omitempty"`
}

// ExpireResult reports one grant expiry sweep pass.
type ExpireResult struct {
	Expired  int `json:"expired"`
	Reverted int `json:"reverted"`
}

type Service interface {
	// OnReferralConverted recounts the referrer's converted referrals and
	// applies the milestone grant when earned. The count write and the
	// grant write commit independently so a failed grant never rolls back
	// the authoritative count.
	OnReferralConverted(ctx context.Context, referrerID snowflake.ID) (*ConversionOutcome, error)

	// ExpireGrants reverts complimentary grants whose expiry has passed.
	ExpireGrants(ctx context.Context, batchSize int) (*ExpireResult, error)

	ListGrants(ctx context.Context, userID snowflake.ID) ([]TierGrant, error)
}

var (
	ErrUserNotFound = errors.New("user_not_found")
)
