package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// CreateIfAbsent inserts the grant row; a duplicate (user, milestone)
	// is absorbed and reported as false.
	CreateIfAbsent(ctx context.Context, grant TierGrant) (bool, error)
	Get(ctx context.Context, userID snowflake.ID, milestone string) (*TierGrant, error)
	ListByUser(ctx context.Context, userID snowflake.ID) ([]TierGrant, error)
	// ClaimExpirable locks active grants past their expiry.
	ClaimExpirable(ctx context.Context, now time.Time, limit int) ([]TierGrant, error)
	MarkExpired(ctx context.Context, id snowflake.ID, at time.Time) (bool, error)
}
