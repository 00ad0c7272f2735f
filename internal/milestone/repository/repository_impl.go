package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/siteloom/growth/internal/milestone/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
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

func (r *repository) CreateIfAbsent(ctx context.Context, grant domain.TierGrant) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "milestone"}},
			DoNothing: true,
		}).
		Create(&grant)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) Get(ctx context.Context, userID snowflake.ID, milestone string) (*domain.TierGrant, error) {
	var grant domain.TierGrant
	err := r.db.WithContext(ctx).
		First(&grant, "user_id = ? AND milestone = ?", userID, milestone).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &grant, nil
}

func (r *repository) ListByUser(ctx context.Context, userID snowflake.ID) ([]domain.TierGrant, error) {
	var grants []domain.TierGrant
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM tier_grants WHERE user_id = ? ORDER BY id DESC`,
		userID,
	).Scan(&grants).Error
	if err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *repository) ClaimExpirable(ctx context.Context, now time.Time, limit int) ([]domain.TierGrant, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT * FROM tier_grants
		 WHERE status = ? AND expires_at < ?
		 ORDER BY expires_at ASC, id ASC
		 LIMIT ?`
	if !strings.EqualFold(r.db.Dialector.Name(), "sqlite") {
		query += " FOR UPDATE SKIP LOCKED"
	}

	var grants []domain.TierGrant
	err := r.db.WithContext(ctx).Raw(query, domain.GrantActive, now, limit).Scan(&grants).Error
	if err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *repository) MarkExpired(ctx context.Context, id snowflake.ID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE tier_grants
		 SET status = ?, expired_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.GrantExpired,
		at,
		at,
		id,
		domain.GrantActive,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
