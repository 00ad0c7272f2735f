package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/siteloom/growth/internal/sideeffect/domain"
	"github.com/siteloom/growth/pkg/telemetry/correlation"
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

func (r *repository) Append(ctx context.Context, effect domain.SideEffect) (bool, error) {
	// The payload carries the producing request's correlation and trace ids
	// so the dispatcher can restore them when it publishes later.
	effect.Payload = correlation.InjectTraceIntoPayload(ctx, effect.Payload)

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedupe_key"}},
			DoNothing: true,
		}).
		Create(&effect)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) Get(ctx context.Context, id snowflake.ID) (*domain.SideEffect, error) {
	var effect domain.SideEffect
	err := r.db.WithContext(ctx).First(&effect, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &effect, nil
}

func (r *repository) ClaimUnpublished(ctx context.Context, limit int) ([]domain.SideEffect, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT * FROM side_effects
		 WHERE published = false
		 ORDER BY id ASC
		 LIMIT ?`
	if !strings.EqualFold(r.db.Dialector.Name(), "sqlite") {
		query += " FOR UPDATE SKIP LOCKED"
	}

	var effects []domain.SideEffect
	err := r.db.WithContext(ctx).Raw(query, limit).Scan(&effects).Error
	if err != nil {
		return nil, err
	}
	return effects, nil
}

func (r *repository) MarkPublished(ctx context.Context, id snowflake.ID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE side_effects
		 SET published = true, published_at = ?
		 WHERE id = ? AND published = false`,
		at,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) IncrementAttempts(ctx context.Context, id snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE side_effects SET attempts = attempts + 1 WHERE id = ?`,
		id,
	).Error
}

func (r *repository) CountUnpublished(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM side_effects WHERE published = false`,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
