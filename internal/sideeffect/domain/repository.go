package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// Append inserts the record. A duplicate dedupe key is absorbed and
	// reported as false.
	Append(ctx context.Context, effect SideEffect) (bool, error)
	Get(ctx context.Context, id snowflake.ID) (*SideEffect, error)
	// ClaimUnpublished locks a batch of pending records for dispatch,
	// skipping rows another dispatcher already holds.
	ClaimUnpublished(ctx context.Context, limit int) ([]SideEffect, error)
	MarkPublished(ctx context.Context, id snowflake.ID, at time.Time) (bool, error)
	IncrementAttempts(ctx context.Context, id snowflake.ID) error
	CountUnpublished(ctx context.Context) (int64, error)
}
