// Package domain contains persistence models for sites.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
)

// SiteStatus is the lifecycle state of a site.
type SiteStatus string

const (
	StatusDraft     SiteStatus = "draft"
	StatusBuilding  SiteStatus = "building"
	StatusActive    SiteStatus = "active"
	StatusFeatured  SiteStatus = "featured"
	StatusViral     SiteStatus = "viral"
	StatusSuspended SiteStatus = "suspended"
)

// Site represents a generated website owned by a single user.
type Site struct {
	ID                 snowflake.ID   `gorm:"primaryKey" json:"id"`
	UserID             snowflake.ID   `gorm:"not null;index" json:"user_id"`
	Name               string         `gorm:"type:text;not null" json:"name"`
	Slug               string         `gorm:"type:text;not null;uniqueIndex:ux_sites_slug" json:"slug"`
	Tags               pq.StringArray `gorm:"type:text[]" json:"tags"`
	Status             SiteStatus     `gorm:"type:text;not null;default:'draft'" json:"status"`
	ViralScore         float64        `gorm:"type:numeric(12,2);not null;default:0" json:"viral_score"`
	ShareCount         int64          `gorm:"not null;default:0" json:"share_count"`
	ExternalShareCount int64          `gorm:"not null;default:0" json:"external_share_count"`
	PageviewCount      int64          `gorm:"not null;default:0" json:"pageview_count"`
	LikeCount          int64          `gorm:"not null;default:0" json:"like_count"`
	CommentCount       int64          `gorm:"not null;default:0" json:"comment_count"`
	ShowcaseEligible   bool           `gorm:"not null;default:true" json:"showcase_eligible"`
	CreatedAt          time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Site) TableName() string { return "sites" }

// ValidStatus reports whether the value is a known site status.
func ValidStatus(status SiteStatus) bool {
	switch status {
	case StatusDraft, StatusBuilding, StatusActive, StatusFeatured, StatusViral, StatusSuspended:
		return true
	default:
		return false
	}
}

// CollaboratorStatus reports whether the status may be set by the site
// generation collaborator. Featured, viral and suspended belong to the engine.
func CollaboratorStatus(status SiteStatus) bool {
	switch status {
	case StatusDraft, StatusBuilding, StatusActive:
		return true
	default:
		return false
	}
}

// Scoreable reports whether sites in this status are scored and considered
// for featuring and showcase.
func Scoreable(status SiteStatus) bool {
	switch status {
	case StatusActive, StatusFeatured, StatusViral:
		return true
	default:
		return false
	}
}
