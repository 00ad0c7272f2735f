package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	sitedomain "github.com/siteloom/growth/internal/site/domain"
)

// EvaluateResult reports the transitions one evaluation applied.
type EvaluateResult struct {
	SiteID           snowflake.ID          `json:"site_id"`
	Status           sitedomain.SiteStatus `json:"status"`
	FeaturingCreated bool                  `json:"featuring_created"`
	ExpiresAt        *time.Time            `json:"expires_at,omitempty"`
	WentViral        bool                  `json:"went_viral"`
	Skipped          bool                  `json:"skipped"`
}

// ExpireResult reports one expiry sweep pass.
type ExpireResult struct {
	Expired  int `json:"expired"`
	Reverted int `json:"reverted"`
}

// ViralResult reports one viral re-evaluation pass.
type ViralResult struct {
	Checked int `json:"checked"`
	Demoted int `json:"demoted"`
}

type Service interface {
	// EvaluateSite applies the share threshold and viral score transitions
	// for one site. Runs after the site's score has been recomputed.
	EvaluateSite(ctx context.Context, siteID snowflake.ID) (*EvaluateResult, error)

	// ExpireDue marks past-due featuring events expired and reverts sites
	// still featured with no other active event back to active.
	ExpireDue(ctx context.Context, batchSize int) (*ExpireResult, error)

	// ReevaluateViral re-scores viral sites and demotes the ones that fell
	// below the threshold, to featured when an unexpired featuring event
	// remains, otherwise to active.
	ReevaluateViral(ctx context.Context, batchSize int) (*ViralResult, error)

	// FeatureManually opens an administrative featuring window regardless
	// of the share threshold. A site with an active window is left alone.
	FeatureManually(ctx context.Context, siteID snowflake.ID) (*EvaluateResult, error)

	GetActive(ctx context.Context, siteID snowflake.ID) (*FeaturingEvent, error)
	ListBySite(ctx context.Context, siteID snowflake.ID) ([]FeaturingEvent, error)
}

var (
	ErrSiteNotFound  = errors.New("site_not_found")
	ErrOwnerNotFound = errors.New("owner_not_found")
)
