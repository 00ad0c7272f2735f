package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/siteloom/growth/internal/clock"
	"github.com/siteloom/growth/internal/referral/domain"
	userdomain "github.com/siteloom/growth/internal/user/domain"
	"github.com/siteloom/growth/pkg/db"
	"github.com/siteloom/growth/pkg/db/option"
	"github.com/siteloom/growth/pkg/db/pagination"
	"github.com/siteloom/growth/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	UserRepo userdomain.Repository
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	userRepo userdomain.Repository
	store    repository.Repository[domain.Referral]
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("referral.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		userRepo: p.UserRepo,
		store:    repository.ProvideStore[domain.Referral](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateReferralRequest) (*domain.ReferralResponse, error) {
	referrerID, err := parseID(req.ReferrerID, domain.ErrInvalidReferrer)
	if err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(req.ReferredEmail))
	if email == "" || !strings.Contains(email, "@") {
		return nil, domain.ErrInvalidEmail
	}

	referrer, err := s.userRepo.Get(ctx, referrerID)
	if err != nil {
		return nil, err
	}
	if referrer == nil {
		return nil, domain.ErrInvalidReferrer
	}

	referral := domain.Referral{
		ID:            s.genID.Generate(),
		ReferrerID:    referrerID,
		ReferredEmail: email,
		Code:          newCode(),
		Status:        domain.StatusPending,
		CreatedAt:     s.clock.Now(),
	}

	if err := s.repo.Create(ctx, referral); err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}
		referral.Code = newCode()
		if err := s.repo.Create(ctx, referral); err != nil {
			return nil, err
		}
	}

	s.log.Info("referral created",
		zap.String("referral_id", referral.ID.String()),
		zap.String("referrer_id", referrerID.String()),
	)

	return toResponse(&referral), nil
}

func (s *Service) Activate(ctx context.Context, id string) (*domain.ReferralResponse, error) {
	referralID, err := parseID(id, domain.ErrInvalidReferral)
	if err != nil {
		return nil, err
	}

	referral, err := s.repo.Get(ctx, referralID)
	if err != nil {
		return nil, err
	}
	if referral == nil {
		return nil, domain.ErrReferralNotFound
	}
	if referral.Status == domain.StatusActivated {
		return toResponse(referral), nil
	}

	activated, err := s.repo.Activate(ctx, referralID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !activated {
		return nil, domain.ErrReferralNotPending
	}

	updated, err := s.repo.Get(ctx, referralID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, domain.ErrReferralNotFound
	}
	return toResponse(updated), nil
}

func (s *Service) Convert(ctx context.Context, id snowflake.ID) (*domain.ConvertResult, error) {
	referral, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if referral == nil {
		return nil, domain.ErrReferralNotFound
	}

	if referral.Status == domain.StatusConverted {
		return &domain.ConvertResult{ReferrerID: referral.ReferrerID, AlreadyConverted: true}, nil
	}

	converted, err := s.repo.Convert(ctx, id, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !converted {
		return nil, domain.ErrReferralNotActivated
	}

	s.log.Info("referral converted",
		zap.String("referral_id", id.String()),
		zap.String("referrer_id", referral.ReferrerID.String()),
	)

	return &domain.ConvertResult{ReferrerID: referral.ReferrerID}, nil
}

func (s *Service) List(ctx context.Context, req domain.ListReferralsRequest) (*domain.ListReferralsResponse, error) {
	referrerID, err := parseID(req.ReferrerID, domain.ErrInvalidReferrer)
	if err != nil {
		return nil, err
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	items, err := s.store.Find(ctx, &domain.Referral{ReferrerID: referrerID},
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  pageSize,
		}),
		option.WithSortBy(option.WithQuerySortBy("created_at", "desc", map[string]bool{"created_at": true})),
	)
	if err != nil {
		return nil, err
	}

	pageInfo, items := pagination.BuildCursorPageInfo(items, pageSize, func(referral *domain.Referral) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        referral.ID.String(),
			CreatedAt: referral.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})

	referrals := make([]domain.ReferralResponse, 0, len(items))
	for _, item := range items {
		referrals = append(referrals, *toResponse(item))
	}

	resp := &domain.ListReferralsResponse{Referrals: referrals}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}

func newCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

func toResponse(referral *domain.Referral) *domain.ReferralResponse {
	return &domain.ReferralResponse{
		ID:            referral.ID.String(),
		ReferrerID:    referral.ReferrerID.String(),
		ReferredEmail: referral.ReferredEmail,
		Code:          referral.Code,
		Status:        referral.Status,
		CreatedAt:     referral.CreatedAt,
		ActivatedAt:   referral.ActivatedAt,
		ConvertedAt:   referral.ConvertedAt,
	}
}
