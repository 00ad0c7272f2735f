package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/siteloom/growth/pkg/db/pagination"
)

type Service interface {
	Create(ctx context.Context, req CreateReferralRequest) (*ReferralResponse, error)
	Activate(ctx context.Context, id string) (*ReferralResponse, error)
	// Convert transitions an activated referral and returns the referrer id
	// so milestone and commission processing can run. Converting an already
	// converted referral is a no-op success.
	Convert(ctx context.Context, id snowflake.ID) (*ConvertResult, error)
	List(ctx context.Context, req ListReferralsRequest) (*ListReferralsResponse, error)
}

type CreateReferralRequest struct {
	ReferrerID    string `json:"referrer_id"`
	ReferredEmail string `json:"referred_email"`
}

type ListReferralsRequest struct {
	ReferrerID string `form:"referrer_id"`
	PageToken  string `form:"page_token"`
	PageSize   int    `form:"page_size"`
}

type ReferralResponse struct {
	ID            string         `json:"id"`
	ReferrerID    string         `json:"referrer_id"`
	ReferredEmail string         `json:"referred_email"`
	Code          string         `json:"code"`
	Status        ReferralStatus `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	ActivatedAt   *time.Time     `json:"activated_at,omitempty"`
	ConvertedAt   *time.Time     `json:"converted_at,omitempty"`
}

type ListReferralsResponse struct {
	pagination.PageInfo
	Referrals []ReferralResponse `json:"referrals"`
}

// ConvertResult reports the outcome of a conversion for downstream
// processing.
type ConvertResult struct {
	ReferrerID       snowflake.ID
	AlreadyConverted bool
}

var (
	ErrInvalidReferrer      = errors.New("invalid_referrer")
	ErrInvalidReferral      = errors.New("invalid_referral")
	ErrInvalidEmail         = errors.New("invalid_email")
	ErrReferralNotFound     = errors.New("referral_not_found")
	ErrReferralNotPending   = errors.New("referral_not_pending")
	ErrReferralNotActivated = errors.New("referral_not_activated")
)
