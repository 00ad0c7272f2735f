package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/siteloom/growth/internal/referral/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, referral domain.Referral) error {
	return r.db.WithContext(ctx).Create(&referral).Error
}

func (r *repository) Get(ctx context.Context, id snowflake.ID) (*domain.Referral, error) {
	var referral domain.Referral
	err := r.db.WithContext(ctx).First(&referral, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &referral, nil
}

func (r *repository) GetByCode(ctx context.Context, code string) (*domain.Referral, error) {
	var referral domain.Referral
	err := r.db.WithContext(ctx).First(&referral, "code = ?", code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &referral, nil
}

func (r *repository) Activate(ctx context.Context, id snowflake.ID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE referrals
		 SET status = ?, activated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusActivated,
		at,
		id,
		domain.StatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) Convert(ctx context.Context, id snowflake.ID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE referrals
		 SET status = ?, converted_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusConverted,
		at,
		id,
		domain.StatusActivated,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) CountConverted(ctx context.Context, referrerID snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM referrals WHERE referrer_id = ? AND status = ?`,
		referrerID,
		domain.StatusConverted,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) EarliestActivatedAt(ctx context.Context, referrerID snowflake.ID) (*time.Time, error) {
	var row struct {
		ActivatedAt *time.Time
	}
	err := r.db.WithContext(ctx).Raw(
		`SELECT MIN(activated_at) AS activated_at
		 FROM referrals
		 WHERE referrer_id = ? AND activated_at IS NOT NULL`,
		referrerID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return row.ActivatedAt, nil
}
