package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// CreateIfNoActive inserts the event only when the site has no active
	// one; reports whether a row was written.
	CreateIfNoActive(ctx context.Context, event FeaturingEvent) (bool, error)
	Get(ctx context.Context, id snowflake.ID) (*FeaturingEvent, error)
	GetActiveBySite(ctx context.Context, siteID snowflake.ID) (*FeaturingEvent, error)
	ListBySite(ctx context.Context, siteID snowflake.ID) ([]FeaturingEvent, error)
	// ClaimDue locks active events whose expiry has passed, skipping rows
	// another sweep already holds.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]FeaturingEvent, error)
	// MarkExpired transitions active to expired; reports whether a row
	// changed.
	MarkExpired(ctx context.Context, id snowflake.ID, at time.Time) (bool, error)
}
