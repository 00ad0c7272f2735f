package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/siteloom/growth/internal/clock"
	"github.com/siteloom/growth/internal/user/domain"
	"github.com/siteloom/growth/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("user.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateUserRequest) (*domain.UserResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, domain.ErrInvalidEmail
	}

	tier := domain.TierFree
	if raw := strings.TrimSpace(req.SubscriptionTier); raw != "" {
		tier = domain.SubscriptionTier(raw)
		if !domain.ValidTier(tier) {
			return nil, domain.ErrInvalidTier
		}
	}

	now := s.clock.Now()
	user := domain.User{
		ID:               s.genID.Generate(),
		Email:            email,
		DisplayName:      strings.TrimSpace(req.DisplayName),
		SubscriptionTier: tier,
		ViralCoefficient: 1.0,
		BoostLevel:       domain.BoostNone,
		CommissionTier:   domain.CommissionNew,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrEmailTaken
		}
		return nil, err
	}

	s.log.Info("user created",
		zap.String("user_id", user.ID.String()),
		zap.String("tier", string(tier)),
	)

	return toResponse(&user), nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.UserResponse, error) {
	userID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	user, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrUserNotFound
	}
	return toResponse(user), nil
}

func toResponse(user *domain.User) *domain.UserResponse {
	return &domain.UserResponse{
		ID:                      user.ID.String(),
		Email:                   user.Email,
		DisplayName:             user.DisplayName,
		SubscriptionTier:        user.SubscriptionTier,
		ViralScore:              user.ViralScore,
		TotalShares:             user.TotalShares,
		ViralCoefficient:        user.ViralCoefficient,
		BoostLevel:              user.BoostLevel,
		CommissionTier:          user.CommissionTier,
		CommissionRate:          user.CommissionTier.Rate(),
		CommissionTierStartedAt: user.CommissionTierStartedAt,
		ReferralsConverted:      user.ReferralsConverted,
		ComplimentaryGrant:      user.ComplimentaryGrant,
		GrantExpiresAt:          user.GrantExpiresAt,
		CreatedAt:               user.CreatedAt,
	}
}
