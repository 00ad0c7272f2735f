package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/siteloom/growth/internal/featuring/domain"
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

// CreateIfNoActive is a conditional insert so the one-active-event invariant
// holds even without the partial unique index sqlite cannot build.
func (r *repository) CreateIfNoActive(ctx context.Context, event domain.FeaturingEvent) (bool, error) {
	result := r.db.WithContext(ctx).Exec(
		`INSERT INTO featuring_events
		 (id, site_id, trigger_type, status, featured_at, expires_at, created_at, updated_at)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?
		 WHERE NOT EXISTS (
			SELECT 1 FROM featuring_events WHERE site_id = ? AND status = ?
		 )`,
		event.ID,
		event.SiteID,
		event.TriggerType,
		domain.StatusActive,
		event.FeaturedAt,
		event.ExpiresAt,
		event.FeaturedAt,
		event.FeaturedAt,
		event.SiteID,
		domain.StatusActive,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) Get(ctx context.Context, id snowflake.ID) (*domain.FeaturingEvent, error) {
	var event domain.FeaturingEvent
	err := r.db.WithContext(ctx).First(&event, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) GetActiveBySite(ctx context.Context, siteID snowflake.ID) (*domain.FeaturingEvent, error) {
	var event domain.FeaturingEvent
	err := r.db.WithContext(ctx).
		First(&event, "site_id = ? AND status = ?", siteID, domain.StatusActive).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) ListBySite(ctx context.Context, siteID snowflake.ID) ([]domain.FeaturingEvent, error) {
	var events []domain.FeaturingEvent
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM featuring_events WHERE site_id = ? ORDER BY id DESC`,
		siteID,
	).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.FeaturingEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT * FROM featuring_events
		 WHERE status = ? AND expires_at < ?
		 ORDER BY expires_at ASC, id ASC
		 LIMIT ?`
	if !strings.EqualFold(r.db.Dialector.Name(), "sqlite") {
		query += " FOR UPDATE SKIP LOCKED"
	}

	var events []domain.FeaturingEvent
	err := r.db.WithContext(ctx).Raw(query, domain.StatusActive, now, limit).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) MarkExpired(ctx context.Context, id snowflake.ID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE featuring_events
		 SET status = ?, expired_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusExpired,
		at,
		at,
		id,
		domain.StatusActive,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
