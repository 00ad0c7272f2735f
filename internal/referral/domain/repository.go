package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, referral Referral) error
	Get(ctx context.Context, id snowflake.ID) (*Referral, error)
	GetByCode(ctx context.Context, code string) (*Referral, error)
	// Activate and Convert are status-guarded; they report whether the row
	// actually transitioned.
	Activate(ctx context.Context, id snowflake.ID, at time.Time) (bool, error)
	Convert(ctx context.Context, id snowflake.ID, at time.Time) (bool, error)
	CountConverted(ctx context.Context, referrerID snowflake.ID) (int64, error)
	// EarliestActivatedAt returns the start of the referrer's oldest active
	// relationship, nil when the referrer has no activated referrals.
	EarliestActivatedAt(ctx context.Context, referrerID snowflake.ID) (*time.Time, error)
}
