package domain

import (
	"context"
	"errors"
	"time"

	"github.com/siteloom/growth/pkg/db/pagination"
)

type Service interface {
	Create(ctx context.Context, req CreateSiteRequest) (*SiteResponse, error)
	Get(ctx context.Context, id string) (*SiteResponse, error)
	List(ctx context.Context, req ListSitesRequest) (*ListSitesResponse, error)
	// SetStatus applies a collaborator transition (draft/building/active) or a
	// manual suspension. Featured and viral are owned by the rules engine.
	SetStatus(ctx context.Context, req SetStatusRequest) (*SiteResponse, error)
	UpdateCounters(ctx context.Context, req UpdateCountersRequest) (*SiteResponse, error)
}

type CreateSiteRequest struct {
	UserID string   `json:"user_id"`
	Name   string   `json:"name"`
	Tags   []string `json:"tags"`
}

type ListSitesRequest struct {
	UserID    string `form:"user_id"`
	Status    string `form:"status"`
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

type SetStatusRequest struct {
	SiteID string `json:"-"`
	Status string `json:"status"`
}

type UpdateCountersRequest struct {
	SiteID    string `json:"-"`
	Pageviews *int64 `json:"pageviews"`
	Likes     *int64 `json:"likes"`
	Comments  *int64 `json:"comments"`
}

type SiteResponse struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	Name               string     `json:"name"`
	Slug               string     `json:"slug"`
	Tags               []string   `json:"tags"`
	Status             SiteStatus `json:"status"`
	ViralScore         float64    `json:"viral_score"`
	ShareCount         int64      `json:"share_count"`
	ExternalShareCount int64      `json:"external_share_count"`
	PageviewCount      int64      `json:"pageview_count"`
	LikeCount          int64      `json:"like_count"`
	CommentCount       int64      `json:"comment_count"`
	ShowcaseEligible   bool       `json:"showcase_eligible"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type ListSitesResponse struct {
	pagination.PageInfo
	Sites []SiteResponse `json:"sites"`
}

var (
	ErrInvalidUser      = errors.New("invalid_user")
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidSite      = errors.New("invalid_site")
	ErrSiteNotFound     = errors.New("site_not_found")
	ErrInvalidStatus    = errors.New("invalid_status")
	ErrStatusNotAllowed = errors.New("status_not_allowed")
	ErrSiteSuspended    = errors.New("site_suspended")
	ErrNegativeCounter  = errors.New("negative_counter")
)
