package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/siteloom/growth/internal/showcase/domain"
	sitedomain "github.com/siteloom/growth/internal/site/domain"
	userdomain "github.com/siteloom/growth/internal/user/domain"
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

func (r *repository) List(ctx context.Context) ([]domain.ShowcaseEntry, error) {
	var entries []domain.ShowcaseEntry
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM showcase_entries ORDER BY rank ASC`,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM showcase_entries`,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Exec(
		`DELETE FROM showcase_entries WHERE admitted_at < ?`,
		cutoff,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repository) DeleteIneligible(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Exec(
		`DELETE FROM showcase_entries
		 WHERE site_id IN (
			SELECT se.site_id
			FROM showcase_entries se
			JOIN sites s ON s.id = se.site_id
			JOIN users u ON u.id = s.user_id
			WHERE s.status NOT IN (?, ?, ?)
			   OR s.showcase_eligible = false
			   OR u.subscription_tier = ?
		 )`,
		sitedomain.StatusActive,
		sitedomain.StatusFeatured,
		sitedomain.StatusViral,
		userdomain.TierFree,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repository) SelectCandidates(ctx context.Context, limit int) ([]domain.Candidate, error) {
	if limit <= 0 {
		return nil, nil
	}
	var candidates []domain.Candidate
	err := r.db.WithContext(ctx).Raw(
		`SELECT s.id AS site_id, s.viral_score, s.external_share_count
		 FROM sites s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.status IN (?, ?, ?)
		   AND s.showcase_eligible = true
		   AND u.subscription_tier IN (?, ?, ?)
		   AND NOT EXISTS (
			SELECT 1 FROM showcase_entries se WHERE se.site_id = s.id
		   )
		 ORDER BY s.viral_score DESC, s.external_share_count DESC, s.id ASC
		 LIMIT ?`,
		sitedomain.StatusActive,
		sitedomain.StatusFeatured,
		sitedomain.StatusViral,
		userdomain.TierPro,
		userdomain.TierBusiness,
		userdomain.TierEnterprise,
		limit,
	).Scan(&candidates).Error
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

func (r *repository) InsertIfAbsent(ctx context.Context, entry domain.ShowcaseEntry) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "site_id"}},
			DoNothing: true,
		}).
		Create(&entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) RankedSites(ctx context.Context) ([]domain.Candidate, error) {
	var ranked []domain.Candidate
	err := r.db.WithContext(ctx).Raw(
		`SELECT s.id AS site_id, s.viral_score, s.external_share_count
		 FROM showcase_entries se
		 JOIN sites s ON s.id = se.site_id
		 ORDER BY s.viral_score DESC, s.external_share_count DESC, s.id ASC`,
	).Scan(&ranked).Error
	if err != nil {
		return nil, err
	}
	return ranked, nil
}

func (r *repository) UpdateRank(ctx context.Context, siteID snowflake.ID, rank int, score float64, externalShares int64) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE showcase_entries
		 SET rank = ?, viral_score = ?, external_share_count = ?, updated_at = ?
		 WHERE site_id = ?`,
		rank,
		score,
		externalShares,
		time.Now().UTC(),
		siteID,
	).Error
}
