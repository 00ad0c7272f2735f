package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/siteloom/growth/internal/cache"
	"github.com/siteloom/growth/internal/clock"
	"github.com/siteloom/growth/internal/site/domain"
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

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	ReadCache cache.SiteResolverCache `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	store     repository.Repository[domain.Site]
	readCache cache.SiteResolverCache
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("site.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		store:     repository.ProvideStore[domain.Site](p.DB),
		readCache: p.ReadCache,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateSiteRequest) (*domain.SiteResponse, error) {
	userID, err := parseID(req.UserID, domain.ErrInvalidUser)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	now := s.clock.Now()
	site := domain.Site{
		ID:               s.genID.Generate(),
		UserID:           userID,
		Name:             name,
		Slug:             slug.Make(name),
		Tags:             req.Tags,
		Status:           domain.StatusDraft,
		ShowcaseEligible: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.repo.Create(ctx, site); err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}
		// Slug collision: retry once with the id tail appended.
		site.Slug = site.Slug + "-" + site.ID.String()[len(site.ID.String())-4:]
		if err := s.repo.Create(ctx, site); err != nil {
			return nil, err
		}
	}

	s.log.Info("site created",
		zap.String("site_id", site.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("slug", site.Slug),
	)

	return toResponse(&site), nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.SiteResponse, error) {
	siteID, err := parseID(id, domain.ErrInvalidSite)
	if err != nil {
		return nil, err
	}

	site, err := s.repo.Get(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if site == nil {
		return nil, domain.ErrSiteNotFound
	}
	return toResponse(site), nil
}

func (s *Service) List(ctx context.Context, req domain.ListSitesRequest) (*domain.ListSitesResponse, error) {
	filter := &domain.Site{}
	if strings.TrimSpace(req.UserID) != "" {
		userID, err := parseID(req.UserID, domain.ErrInvalidUser)
		if err != nil {
			return nil, err
		}
		filter.UserID = userID
	}
	if strings.TrimSpace(req.Status) != "" {
		status := domain.SiteStatus(strings.TrimSpace(req.Status))
		if !domain.ValidStatus(status) {
			return nil, domain.ErrInvalidStatus
		}
		filter.Status = status
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	items, err := s.store.Find(ctx, filter,
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  pageSize,
		}),
		option.WithSortBy(option.WithQuerySortBy("created_at", "desc", map[string]bool{"created_at": true})),
	)
	if err != nil {
		return nil, err
	}

	pageInfo, items := pagination.BuildCursorPageInfo(items, pageSize, func(site *domain.Site) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        site.ID.String(),
			CreatedAt: site.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})

	sites := make([]domain.SiteResponse, 0, len(items))
	for _, item := range items {
		sites = append(sites, *toResponse(item))
	}

	resp := &domain.ListSitesResponse{Sites: sites}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) SetStatus(ctx context.Context, req domain.SetStatusRequest) (*domain.SiteResponse, error) {
	siteID, err := parseID(req.SiteID, domain.ErrInvalidSite)
	if err != nil {
		return nil, err
	}

	target := domain.SiteStatus(strings.TrimSpace(req.Status))
	if !domain.ValidStatus(target) {
		return nil, domain.ErrInvalidStatus
	}

	site, err := s.repo.Get(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if site == nil {
		return nil, domain.ErrSiteNotFound
	}
	if site.Status == domain.StatusSuspended {
		return nil, domain.ErrSiteSuspended
	}

	switch {
	case target == domain.StatusSuspended:
		if err := s.repo.SetStatus(ctx, siteID, domain.StatusSuspended); err != nil {
			return nil, err
		}
		s.log.Warn("site suspended", zap.String("site_id", siteID.String()))
	case domain.CollaboratorStatus(target):
		if !domain.CollaboratorStatus(site.Status) {
			return nil, domain.ErrStatusNotAllowed
		}
		changed, err := s.repo.UpdateStatusGuarded(ctx, siteID, site.Status, target)
		if err != nil {
			return nil, err
		}
		if !changed && site.Status != target {
			return nil, domain.ErrStatusNotAllowed
		}
	default:
		// featured and viral are engine-owned transitions
		return nil, domain.ErrStatusNotAllowed
	}

	if s.readCache != nil {
		s.readCache.InvalidateSite(siteID.String())
	}

	updated, err := s.repo.Get(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, domain.ErrSiteNotFound
	}
	return toResponse(updated), nil
}

func (s *Service) UpdateCounters(ctx context.Context, req domain.UpdateCountersRequest) (*domain.SiteResponse, error) {
	siteID, err := parseID(req.SiteID, domain.ErrInvalidSite)
	if err != nil {
		return nil, err
	}

	for _, value := range []*int64{req.Pageviews, req.Likes, req.Comments} {
		if value != nil && *value < 0 {
			return nil, domain.ErrNegativeCounter
		}
	}

	site, err := s.repo.Get(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if site == nil {
		return nil, domain.ErrSiteNotFound
	}
	if site.Status == domain.StatusSuspended {
		return nil, domain.ErrSiteSuspended
	}

	patch := domain.CounterPatch{
		Pageviews: req.Pageviews,
		Likes:     req.Likes,
		Comments:  req.Comments,
	}
	if err := s.repo.ApplyCounters(ctx, siteID, patch); err != nil {
		return nil, err
	}

	updated, err := s.repo.Get(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, domain.ErrSiteNotFound
	}
	return toResponse(updated), nil
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}

func toResponse(site *domain.Site) *domain.SiteResponse {
	return &domain.SiteResponse{
		ID:                 site.ID.String(),
		UserID:             site.UserID.String(),
		Name:               site.Name,
		Slug:               site.Slug,
		Tags:               site.Tags,
		Status:             site.Status,
		ViralScore:         site.ViralScore,
		ShareCount:         site.ShareCount,
		ExternalShareCount: site.ExternalShareCount,
		PageviewCount:      site.PageviewCount,
		LikeCount:          site.LikeCount,
		CommentCount:       site.CommentCount,
		ShowcaseEligible:   site.ShowcaseEligible,
		CreatedAt:          site.CreatedAt,
		UpdatedAt:          site.UpdatedAt,
	}
}
