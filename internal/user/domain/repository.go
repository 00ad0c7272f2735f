package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// GrowthUpdate carries the recomputed share aggregates and classification.
type GrowthUpdate struct {
	TotalShares      int64
	ViralCoefficient float64
	BoostLevel       BoostLevel
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, user User) error
	Get(ctx context.Context, id snowflake.ID) (*User, error)
	// GetForUpdate locks the user row for the duration of the transaction.
	GetForUpdate(ctx context.Context, id snowflake.ID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	ApplyGrowth(ctx context.Context, id snowflake.ID, update GrowthUpdate) error
	ApplyViralScore(ctx context.Context, id snowflake.ID, score float64) error
	// ApplyCommission writes the tier; startedAt is only written when the
	// tier actually changed.
	ApplyCommission(ctx context.Context, id snowflake.ID, tier CommissionTier, startedAt *time.Time) error
	ApplyReferralsConverted(ctx context.Context, id snowflake.ID, count int64) error
	ApplyGrant(ctx context.Context, id snowflake.ID, tier SubscriptionTier, expiresAt time.Time) error
	// RevertGrant drops a complimentary grant back to the free tier;
	// reports whether the user still held one.
	RevertGrant(ctx context.Context, id snowflake.ID) (bool, error)
}
