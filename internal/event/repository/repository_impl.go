package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/siteloom/growth/internal/event/domain"
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

func idempotencyConflict(column string) clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: column}},
		DoNothing: true,
	}
}

func (r *repository) AppendShare(ctx context.Context, event domain.ShareEvent) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(idempotencyConflict("idempotency_key")).
		Create(&event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) AppendAnalytics(ctx context.Context, event domain.AnalyticsEvent) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(idempotencyConflict("idempotency_key")).
		Create(&event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) FindShareByIdempotencyKey(ctx context.Context, key string) (*domain.ShareEvent, error) {
	var event domain.ShareEvent
	err := r.db.WithContext(ctx).First(&event, "idempotency_key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) FindAnalyticsByIdempotencyKey(ctx context.Context, key string) (*domain.AnalyticsEvent, error) {
	var event domain.AnalyticsEvent
	err := r.db.WithContext(ctx).First(&event, "idempotency_key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) MarkShareProcessed(ctx context.Context, id snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE share_events SET processed = true WHERE id = ?`,
		id,
	).Error
}

func (r *repository) MarkAnalyticsProcessed(ctx context.Context, id snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE analytics_events SET processed = true WHERE id = ?`,
		id,
	).Error
}

func (r *repository) CountShares(ctx context.Context, siteID snowflake.ID) (domain.ShareCounts, error) {
	var rows []struct {
		Platform domain.Platform
		Count    int64
	}
	err := r.db.WithContext(ctx).Raw(
		`SELECT platform, COUNT(1) AS count
		 FROM share_events
		 WHERE site_id = ?
		 GROUP BY platform`,
		siteID,
	).Scan(&rows).Error
	if err != nil {
		return domain.ShareCounts{}, err
	}

	counts := domain.ShareCounts{ByPlatform: make(map[domain.Platform]int64, len(rows))}
	for _, row := range rows {
		counts.ByPlatform[row.Platform] = row.Count
		counts.Total += row.Count
		if row.Platform.External() {
			counts.External += row.Count
		}
	}
	return counts, nil
}

func (r *repository) CountAnalyticsSince(ctx context.Context, siteID snowflake.ID, since time.Time) (domain.AnalyticsCounts, error) {
	var rows []struct {
		EventType domain.AnalyticsType
		Count     int64
	}
	err := r.db.WithContext(ctx).Raw(
		`SELECT event_type, COUNT(1) AS count
		 FROM analytics_events
		 WHERE site_id = ? AND created_at >= ?
		 GROUP BY event_type`,
		siteID,
		since,
	).Scan(&rows).Error
	if err != nil {
		return domain.AnalyticsCounts{}, err
	}

	counts := domain.AnalyticsCounts{ByType: make(map[domain.AnalyticsType]int64, len(rows))}
	for _, row := range rows {
		counts.ByType[row.EventType] = row.Count
	}
	return counts, nil
}

func (r *repository) FetchUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]domain.UnprocessedEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	lock := ""
	if !strings.EqualFold(r.db.Dialector.Name(), "sqlite") {
		lock = " FOR UPDATE SKIP LOCKED"
	}

	var shares []domain.UnprocessedEvent
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, site_id, idempotency_key, created_at
		 FROM share_events
		 WHERE processed = false AND created_at < ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`+lock,
		olderThan,
		limit,
	).Scan(&shares).Error
	if err != nil {
		return nil, err
	}
	for i := range shares {
		shares[i].Kind = domain.KindSiteShared
	}
	if len(shares) >= limit {
		return shares, nil
	}

	var analytics []domain.UnprocessedEvent
	err = r.db.WithContext(ctx).Raw(
		`SELECT id, site_id, idempotency_key, created_at
		 FROM analytics_events
		 WHERE processed = false AND created_at < ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`+lock,
		olderThan,
		limit-len(shares),
	).Scan(&analytics).Error
	if err != nil {
		return nil, err
	}
	for i := range analytics {
		analytics[i].Kind = domain.KindSiteAnalytics
	}

	return append(shares, analytics...), nil
}
