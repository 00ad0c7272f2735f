package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ShowcaseEntry is one slot in the bounded public showcase. Rank is
// contiguous from 1; viral_score and external_share_count are the values the
// last refresh ranked with.
type ShowcaseEntry struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	SiteID             snowflake.ID `gorm:"not null;uniqueIndex:ux_showcase_entries_site" json:"site_id"`
	Rank               int          `gorm:"not null;index:ix_showcase_entries_rank" json:"rank"`
	ViralScore         float64      `gorm:"type:numeric(12,2);not null;default:0" json:"viral_score"`
	ExternalShareCount int64        `gorm:"not null;default:0" json:"external_share_count"`
	AdmittedAt         time.Time    `gorm:"not null" json:"admitted_at"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (ShowcaseEntry) TableName() string { return "showcase_entries" }

// Candidate is a site measured for admission or re-ranking.
type Candidate struct {
	SiteID             snowflake.ID
	ViralScore         float64
	ExternalShareCount int64
}
