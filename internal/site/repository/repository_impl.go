package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/siteloom/growth/internal/site/domain"
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

func (r *repository) Create(ctx context.Context, site domain.Site) error {
	return r.db.WithContext(ctx).Create(&site).Error
}

func (r *repository) Get(ctx context.Context, id snowflake.ID) (*domain.Site, error) {
	var site domain.Site
	err := r.db.WithContext(ctx).First(&site, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &site, nil
}

func (r *repository) GetForUpdate(ctx context.Context, id snowflake.ID) (*domain.Site, error) {
	query := `SELECT * FROM sites WHERE id = ?`
	if !strings.EqualFold(r.db.Dialector.Name(), "sqlite") {
		query += " FOR UPDATE"
	}
	var site domain.Site
	err := r.db.WithContext(ctx).Raw(query, id).Scan(&site).Error
	if err != nil {
		return nil, err
	}
	if site.ID == 0 {
		return nil, nil
	}
	return &site, nil
}

func (r *repository) ListByUser(ctx context.Context, userID snowflake.ID) ([]domain.Site, error) {
	var sites []domain.Site
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM sites WHERE user_id = ? ORDER BY id`,
		userID,
	).Scan(&sites).Error
	if err != nil {
		return nil, err
	}
	return sites, nil
}

func (r *repository) ListIDsByStatus(ctx context.Context, status domain.SiteStatus, limit int) ([]snowflake.ID, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []snowflake.ID
	err := r.db.WithContext(ctx).Raw(
		`SELECT id FROM sites WHERE status = ? ORDER BY id LIMIT ?`,
		status,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) ApplyScore(ctx context.Context, id snowflake.ID, update domain.ScoreUpdate) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE sites
		 SET viral_score = ?, share_count = ?, external_share_count = ?, updated_at = ?
		 WHERE id = ?`,
		update.ViralScore,
		update.ShareCount,
		update.ExternalShareCount,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repository) ApplyCounters(ctx context.Context, id snowflake.ID, patch domain.CounterPatch) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE sites
		 SET pageview_count = COALESCE(?, pageview_count),
		     like_count = COALESCE(?, like_count),
		     comment_count = COALESCE(?, comment_count),
		     updated_at = ?
		 WHERE id = ?`,
		patch.Pageviews,
		patch.Likes,
		patch.Comments,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repository) UpdateStatusGuarded(ctx context.Context, id snowflake.ID, from, to domain.SiteStatus) (bool, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE sites SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to,
		time.Now().UTC(),
		id,
		from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) SetStatus(ctx context.Context, id snowflake.ID, to domain.SiteStatus) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE sites SET status = ?, updated_at = ? WHERE id = ?`,
		to,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repository) SumScoreByUser(ctx context.Context, userID snowflake.ID) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(viral_score), 0)
		 FROM sites
		 WHERE user_id = ? AND status != ?`,
		userID,
		domain.StatusSuspended,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// SumExternalSharesByUser sums lifetime external shares. Suspended sites
// still count; a suspension must never demote an earned boost level.
func (r *repository) SumExternalSharesByUser(ctx context.Context, userID snowflake.ID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(external_share_count), 0)
		 FROM sites
		 WHERE user_id = ?`,
		userID,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
