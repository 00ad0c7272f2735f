// Package domain defines the viral score engine contract.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	sitedomain "github.com/siteloom/growth/internal/site/domain"
)

// Breakdown exposes the score components for diagnostics and snapshots.
type Breakdown struct {
	Base            float64 `json:"base"`
	ShareScore      float64 `json:"share_score"`
	EngagementScore float64 `json:"engagement_score"`
	TimeDecay       float64 `json:"time_decay"`
	TierBonus       float64 `json:"tier_bonus"`
	Score           float64 `json:"score"`
}

// RecomputeResult reports what a recompute persisted.
type RecomputeResult struct {
	SiteID             snowflake.ID
	OwnerID            snowflake.ID
	Status             sitedomain.SiteStatus
	Score              float64
	ShareCount         int64
	ExternalShareCount int64
	OwnerScore         float64
	// Skipped is set when the site's status excludes it from scoring; no
	// state was written.
	Skipped bool
}

type Service interface {
	// ComputeViralScore derives the score from durable rows without
	// persisting anything. Deterministic for identical history.
	ComputeViralScore(ctx context.Context, siteID snowflake.ID) (float64, error)
	// RecomputeSite recounts share counters from the event log, recomputes
	// the score, persists both under a site row lock, and rolls the owner's
	// account score up. Safe to run repeatedly.
	RecomputeSite(ctx context.Context, siteID snowflake.ID) (*RecomputeResult, error)
}

var (
	ErrSiteNotFound     = errors.New("site_not_found")
	ErrOwnerNotFound    = errors.New("owner_not_found")
	ErrNegativeCounters = errors.New("negative_counters")
)
