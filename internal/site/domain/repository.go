package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// CounterPatch carries absolute counter values from the UI collaborator.
// Nil fields are left untouched.
type CounterPatch struct {
	Pageviews *int64
	Likes     *int64
	Comments  *int64
}

// ScoreUpdate carries the recomputed score and log-derived share counters.
type ScoreUpdate struct {
	ViralScore         float64
	ShareCount         int64
	ExternalShareCount int64
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, site Site) error
	Get(ctx context.Context, id snowflake.ID) (*Site, error)
	// GetForUpdate locks the site row for the transaction. On sqlite the
	// single writer makes the lock a plain read.
	GetForUpdate(ctx context.Context, id snowflake.ID) (*Site, error)
	ListByUser(ctx context.Context, userID snowflake.ID) ([]Site, error)
	// ListIDsByStatus returns site ids in a status, oldest first. Callers
	// tolerate the list going stale; each site is re-locked before writes.
	ListIDsByStatus(ctx context.Context, status SiteStatus, limit int) ([]snowflake.ID, error)
	ApplyScore(ctx context.Context, id snowflake.ID, update ScoreUpdate) error
	ApplyCounters(ctx context.Context, id snowflake.ID, patch CounterPatch) error
	// UpdateStatusGuarded transitions status only when the current status
	// matches from; reports whether a row changed.
	UpdateStatusGuarded(ctx context.Context, id snowflake.ID, from, to SiteStatus) (bool, error)
	SetStatus(ctx context.Context, id snowflake.ID, to SiteStatus) error
	SumScoreByUser(ctx context.Context, userID snowflake.ID) (float64, error)
	SumExternalSharesByUser(ctx context.Context, userID snowflake.ID) (int64, error)
}
