package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// UnprocessedEvent is a recovery work item from either event table.
type UnprocessedEvent struct {
	ID             snowflake.ID
	SiteID         snowflake.ID
	Kind           EventKind
	IdempotencyKey string
	CreatedAt      time.Time
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// AppendShare and AppendAnalytics insert with ON CONFLICT DO NOTHING on
	// the idempotency key; they report whether a new row was written.
	AppendShare(ctx context.Context, event ShareEvent) (bool, error)
	AppendAnalytics(ctx context.Context, event AnalyticsEvent) (bool, error)
	FindShareByIdempotencyKey(ctx context.Context, key string) (*ShareEvent, error)
	FindAnalyticsByIdempotencyKey(ctx context.Context, key string) (*AnalyticsEvent, error)
	MarkShareProcessed(ctx context.Context, id snowflake.ID) error
	MarkAnalyticsProcessed(ctx context.Context, id snowflake.ID) error
	CountShares(ctx context.Context, siteID snowflake.ID) (ShareCounts, error)
	CountAnalyticsSince(ctx context.Context, siteID snowflake.ID, since time.Time) (AnalyticsCounts, error)
	// FetchUnprocessed claims unprocessed events older than the threshold
	// with FOR UPDATE SKIP LOCKED for the recovery sweep.
	FetchUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]UnprocessedEvent, error)
}
