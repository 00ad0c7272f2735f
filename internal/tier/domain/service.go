package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	userdomain "github.com/siteloom/growth/internal/user/domain"
)

// GrowthResult reports a user growth recompute.
type GrowthResult struct {
	UserID      snowflake.ID          `json:"user_id"`
	TotalShares int64                 `json:"total_shares"`
	Level       userdomain.BoostLevel `json:"boost_level"`
	Coefficient float64               `json:"viral_coefficient"`
	Changed     bool                  `json:"changed"`
}

// CommissionResult reports a commission evaluation.
type CommissionResult struct {
	UserID             snowflake.ID              `json:"user_id"`
	RelationshipMonths int                       `json:"relationship_months"`
	Tier               userdomain.CommissionTier `json:"commission_tier"`
	Rate               float64                   `json:"commission_rate"`
	Changed            bool                      `json:"changed"`
}

type Service interface {
	// RecomputeUserGrowth recounts the user's lifetime external shares and
	// applies the full boost classification. Replaying the same events
	// yields the same classification.
	RecomputeUserGrowth(ctx context.Context, userID snowflake.ID) (*GrowthResult, error)

	// EvaluateCommission derives the commission tier from the user's oldest
	// activated referral. commission_tier_started_at is reset only when the
	// tier actually changes.
	EvaluateCommission(ctx context.Context, referrerID snowflake.ID) (*CommissionResult, error)
}

var (
	ErrUserNotFound = errors.New("user_not_found")
)
