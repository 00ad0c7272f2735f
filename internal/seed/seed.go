package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	sitedomain "github.com/siteloom/growth/internal/site/domain"
	userdomain "github.com/siteloom/growth/internal/user/domain"
	"gorm.io/gorm"
)

const (
	demoUserEmail   = "demo@siteloom.dev"
	demoUserDisplay = "Demo Builder"
	demoSiteName    = "Demo Portfolio"
	demoSiteSlug    = "demo-portfolio"
)

// EnsureDemoData seeds a demo user and an active site for self-hosted
// bootstrap, so a fresh deployment has something to share, score and
// showcase before real accounts exist.
func EnsureDemoData(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := ensureDemoUserTx(ctx, tx, node)
		if err != nil {
			return err
		}
		return ensureDemoSiteTx(ctx, tx, node, user.ID)
	})
}

func ensureDemoUserTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (userdomain.User, error) {
	var user userdomain.User
	err := tx.WithContext(ctx).Where("email = ?", demoUserEmail).First(&user).Error
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return user, err
	}
	now := time.Now().UTC()
	user = userdomain.User{
		ID:               node.Generate(),
		Email:            strings.ToLower(demoUserEmail),
		DisplayName:      demoUserDisplay,
		SubscriptionTier: userdomain.TierFree,
		ViralCoefficient: 1.0,
		BoostLevel:       userdomain.BoostNone,
		CommissionTier:   userdomain.CommissionNew,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := tx.WithContext(ctx).Create(&user).Error; err != nil {
		return user, err
	}
	return user, nil
}

func ensureDemoSiteTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, userID snowflake.ID) error {
	var site sitedomain.Site
	err := tx.WithContext(ctx).Where("slug = ?", demoSiteSlug).First(&site).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	now := time.Now().UTC()
	site = sitedomain.Site{
		ID:               node.Generate(),
		UserID:           userID,
		Name:             demoSiteName,
		Slug:             demoSiteSlug,
		Tags:             pq.StringArray{"demo", "portfolio"},
		Status:           sitedomain.StatusActive,
		ShowcaseEligible: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return tx.WithContext(ctx).Create(&site).Error
}
