package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// List returns the showcase in rank order.
	List(ctx context.Context) ([]ShowcaseEntry, error)
	Count(ctx context.Context) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	// DeleteIneligible evicts entries whose site no longer qualifies:
	// suspended or demoted status, eligibility flag cleared, or owner back
	// on the free tier.
	DeleteIneligible(ctx context.Context) (int64, error)
	// SelectCandidates returns qualifying sites not yet showcased, best
	// first.
	SelectCandidates(ctx context.Context, limit int) ([]Candidate, error)
	// InsertIfAbsent admits a site; a site already present is absorbed.
	InsertIfAbsent(ctx context.Context, entry ShowcaseEntry) (bool, error)
	// RankedSites re-reads the current set against live site counters.
	RankedSites(ctx context.Context) ([]Candidate, error)
	UpdateRank(ctx context.Context, siteID snowflake.ID, rank int, score float64, externalShares int64) error
}
