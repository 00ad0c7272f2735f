package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/siteloom/growth/internal/user/domain"
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

func (r *repository) Create(ctx context.Context, user domain.User) error {
	return r.db.WithContext(ctx).Create(&user).Error
}

func (r *repository) Get(ctx context.Context, id snowflake.ID) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *repository) GetForUpdate(ctx context.Context, id snowflake.ID) (*domain.User, error) {
	query := `SELECT * FROM users WHERE id = ?`
	if !strings.EqualFold(r.db.Dialector.Name(), "sqlite") {
		query += " FOR UPDATE"
	}
	var user domain.User
	err := r.db.WithContext(ctx).Raw(query, id).Scan(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}

func (r *repository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).First(&user, "email = ?", email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *repository) ApplyGrowth(ctx context.Context, id snowflake.ID, update domain.GrowthUpdate) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE users
		 SET total_shares = ?, viral_coefficient = ?, boost_level = ?, updated_at = ?
		 WHERE id = ?`,
		update.TotalShares,
		update.ViralCoefficient,
		update.BoostLevel,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repository) ApplyViralScore(ctx context.Context, id snowflake.ID, score float64) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE users SET viral_score = ?, updated_at = ? WHERE id = ?`,
		score,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repository) ApplyCommission(ctx context.Context, id snowflake.ID, tier domain.CommissionTier, startedAt *time.Time) error {
	if startedAt != nil {
		return r.db.WithContext(ctx).Exec(
			`UPDATE users SET commission_tier = ?, commission_tier_started_at = ?, updated_at = ? WHERE id = ?`,
			tier,
			startedAt,
			time.Now().UTC(),
			id,
		).Error
	}
	return r.db.WithContext(ctx).Exec(
		`UPDATE users SET commission_tier = ?, updated_at = ? WHERE id = ?`,
		tier,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repository) ApplyReferralsConverted(ctx context.Context, id snowflake.ID, count int64) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE users SET referrals_converted = ?, updated_at = ? WHERE id = ?`,
		count,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repository) ApplyGrant(ctx context.Context, id snowflake.ID, tier domain.SubscriptionTier, expiresAt time.Time) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE users
		 SET subscription_tier = ?, complimentary_grant = true, grant_expires_at = ?, updated_at = ?
		 WHERE id = ?`,
		tier,
		expiresAt,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repository) RevertGrant(ctx context.Context, id snowflake.ID) (bool, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE users
		 SET subscription_tier = ?, complimentary_grant = false, grant_expires_at = NULL, updated_at = ?
		 WHERE id = ? AND complimentary_grant = true`,
		domain.TierFree,
		time.Now().UTC(),
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
