package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/siteloom/growth/internal/cache"
	"github.com/siteloom/growth/internal/clock"
	"github.com/siteloom/growth/internal/cloudmetrics"
	"github.com/siteloom/growth/internal/engine/domain"
	eventdomain "github.com/siteloom/growth/internal/event/domain"
	"github.com/siteloom/growth/internal/event/livefeed"
	featuringdomain "github.com/siteloom/growth/internal/featuring/domain"
	milestonedomain "github.com/siteloom/growth/internal/milestone/domain"
	obsmetrics "github.com/siteloom/growth/internal/observability/metrics"
	"github.com/siteloom/growth/internal/ratelimit"
	referraldomain "github.com/siteloom/growth/internal/referral/domain"
	scoredomain "github.com/siteloom/growth/internal/score/domain"
	showcasedomain "github.com/siteloom/growth/internal/showcase/domain"
	sitedomain "github.com/siteloom/growth/internal/site/domain"
	tierdomain "github.com/siteloom/growth/internal/tier/domain"
	userdomain "github.com/siteloom/growth/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log              *zap.Logger
	Clock            clock.Clock
	GenID            *snowflake.Node
	EventRepo        eventdomain.Repository
	SiteRepo         sitedomain.Repository
	UserRepo         userdomain.Repository
	ScoreService     scoredomain.Service
	FeaturingService featuringdomain.Service
	TierService      tierdomain.Service
	MilestoneService milestonedomain.Service
	ShowcaseService  showcasedomain.Service
	ReferralService  referraldomain.Service
	Limiter          *ratelimit.EventIngestLimiter
	ReadCache        cache.SiteResolverCache
	Hub              *livefeed.Hub              `optional:"true"`
	ObsMetrics       *obsmetrics.Metrics        `optional:"true"`
	CloudMetrics     *cloudmetrics.CloudMetrics `optional:"true"`
}

type Service struct {
	log              *zap.Logger
	clock            clock.Clock
	genID            *snowflake.Node
	eventRepo        eventdomain.Repository
	siteRepo         sitedomain.Repository
	userRepo         userdomain.Repository
	scoreService     scoredomain.Service
	featuringService featuringdomain.Service
	tierService      tierdomain.Service
	milestoneService milestonedomain.Service
	showcaseService  showcasedomain.Service
	referralService  referraldomain.Service
	limiter          *ratelimit.EventIngestLimiter
	readCache        cache.SiteResolverCache
	hub              *livefeed.Hub
	obsMetrics       *obsmetrics.Metrics
	cloudMetrics     *cloudmetrics.CloudMetrics
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		log:              p.Log.Named("engine.service"),
		clock:            p.Clock,
		genID:            p.GenID,
		eventRepo:        p.EventRepo,
		siteRepo:         p.SiteRepo,
		userRepo:         p.UserRepo,
		scoreService:     p.ScoreService,
		featuringService: p.FeaturingService,
		tierService:      p.TierService,
		milestoneService: p.MilestoneService,
		showcaseService:  p.ShowcaseService,
		referralService:  p.ReferralService,
		limiter:          p.Limiter,
		readCache:        p.ReadCache,
		hub:              p.Hub,
		obsMetrics:       p.ObsMetrics,
		cloudMetrics:     p.CloudMetrics,
	}
}

func (s *Service) AppendEvent(ctx context.Context, input domain.AppendEventInput) (*domain.AppendEventResult, error) {
	kind := eventdomain.EventKind(strings.TrimSpace(input.Kind))
	if !eventdomain.ValidKind(kind) {
		return nil, domain.ErrInvalidEventKind
	}

	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}

	switch kind {
	case eventdomain.KindSiteShared:
		return s.appendShare(ctx, input, key)
	case eventdomain.KindSiteAnalytics:
		return s.appendAnalytics(ctx, input, key)
	default:
		return s.convertReferral(ctx, input)
	}
}

func (s *Service) appendShare(ctx context.Context, input domain.AppendEventInput, key string) (*domain.AppendEventResult, error) {
	siteID, err := parseRef(input.SiteID)
	if err != nil {
		return nil, domain.ErrInvalidSiteRef
	}
	platform := eventdomain.Platform(strings.ToLower(strings.TrimSpace(input.Platform)))
	if !eventdomain.ValidPlatform(platform) {
		return nil, domain.ErrInvalidPlatform
	}
	userID, err := parseOptionalRef(input.UserID)
	if err != nil {
		return nil, domain.ErrInvalidUserRef
	}
	if err := s.checkSite(ctx, siteID); err != nil {
		return nil, err
	}

	event := eventdomain.ShareEvent{
		ID:             s.genID.Generate(),
		SiteID:         siteID,
		UserID:         userID,
		Platform:       platform,
		IdempotencyKey: key,
		CreatedAt:      s.clock.Now(),
	}
	created, err := s.eventRepo.AppendShare(ctx, event)
	if err != nil {
		return nil, err
	}
	if !created {
		existing, err := s.eventRepo.FindShareByIdempotencyKey(ctx, key)
		if err != nil {
			return nil, err
		}
		var eventID snowflake.ID
		if existing != nil {
			eventID = existing.ID
		}
		return s.deduplicated(ctx, eventdomain.KindSiteShared, eventID, siteID, input, key), nil
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordEventIngested(ctx, string(eventdomain.KindSiteShared), string(platform))
	}
	// fleet accounting (best effort)
	if s.cloudMetrics != nil {
		go s.cloudMetrics.IncEventIngested(string(eventdomain.KindSiteShared))
	}
	s.publish(siteID, input, key, livefeed.StatusAccepted, livefeed.SourceAPI)

	outcome, err := s.processSite(ctx, event.ID, siteID, eventdomain.KindSiteShared, true)
	if err != nil {
		return nil, err
	}
	return &domain.AppendEventResult{
		EventID: event.ID,
		Kind:    string(eventdomain.KindSiteShared),
		Site:    outcome,
	}, nil
}

func (s *Service) appendAnalytics(ctx context.Context, input domain.AppendEventInput, key string) (*domain.AppendEventResult, error) {
	siteID, err := parseRef(input.SiteID)
	if err != nil {
		return nil, domain.ErrInvalidSiteRef
	}
	eventType := eventdomain.AnalyticsType(strings.ToLower(strings.TrimSpace(input.EventType)))
	if !eventdomain.ValidAnalyticsType(eventType) {
		return nil, domain.ErrInvalidAnalyticsType
	}
	userID, err := parseOptionalRef(input.UserID)
	if err != nil {
		return nil, domain.ErrInvalidUserRef
	}
	if err := s.checkSite(ctx, siteID); err != nil {
		return nil, err
	}

	event := eventdomain.AnalyticsEvent{
		ID:             s.genID.Generate(),
		SiteID:         siteID,
		UserID:         userID,
		EventType:      eventType,
		IdempotencyKey: key,
		CreatedAt:      s.clock.Now(),
	}
	created, err := s.eventRepo.AppendAnalytics(ctx, event)
	if err != nil {
		return nil, err
	}
	if !created {
		existing, err := s.eventRepo.FindAnalyticsByIdempotencyKey(ctx, key)
		if err != nil {
			return nil, err
		}
		var eventID snowflake.ID
		if existing != nil {
			eventID = existing.ID
		}
		return s.deduplicated(ctx, eventdomain.KindSiteAnalytics, eventID, siteID, input, key), nil
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordEventIngested(ctx, string(eventdomain.KindSiteAnalytics), "")
	}
	if s.cloudMetrics != nil {
		go s.cloudMetrics.IncEventIngested(string(eventdomain.KindSiteAnalytics))
	}
	s.publish(siteID, input, key, livefeed.StatusAccepted, livefeed.SourceAPI)

	outcome, err := s.processSite(ctx, event.ID, siteID, eventdomain.KindSiteAnalytics, false)
	if err != nil {
		return nil, err
	}
	return &domain.AppendEventResult{
		EventID: event.ID,
		Kind:    string(eventdomain.KindSiteAnalytics),
		Site:    outcome,
	}, nil
}

func (s *Service) convertReferral(ctx context.Context, input domain.AppendEventInput) (*domain.AppendEventResult, error) {
	referralID, err := parseRef(input.ReferralID)
	if err != nil {
		return nil, domain.ErrInvalidReferralRef
	}

	conv, err := s.referralService.Convert(ctx, referralID)
	if err != nil {
		return nil, err
	}
	outcome := &domain.ReferralOutcome{ReferralID: referralID, ReferrerID: conv.ReferrerID}

	if conv.AlreadyConverted {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordEventDeduplicated(ctx, string(eventdomain.KindReferralConverted))
		}
		return &domain.AppendEventResult{
			Kind:         string(eventdomain.KindReferralConverted),
			Deduplicated: true,
			Referral:     outcome,
		}, nil
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordEventIngested(ctx, string(eventdomain.KindReferralConverted), "")
	}
	if s.cloudMetrics != nil {
		go s.cloudMetrics.IncEventIngested(string(eventdomain.KindReferralConverted))
	}

	milestone, err := s.milestoneService.OnReferralConverted(ctx, conv.ReferrerID)
	if err != nil {
		return nil, err
	}
	outcome.ReferralsConverted = milestone.ReferralsConverted
	outcome.MilestoneGranted = milestone.Granted

	commission, err := s.tierService.EvaluateCommission(ctx, conv.ReferrerID)
	if err != nil {
		return nil, err
	}
	outcome.CommissionTier = commission.Tier

	return &domain.AppendEventResult{
		Kind:     string(eventdomain.KindReferralConverted),
		Referral: outcome,
	}, nil
}

// processSite runs the synchronous pipeline for one site event: recount
// and rescore, apply featuring transitions, reclassify the owner's boost
// when recountBoost is set. The kind only routes the processed flag to the
// right event table. When another writer holds the site lock the event
// stays unprocessed and the recovery sweep picks it up.
func (s *Service) processSite(ctx context.Context, eventID, siteID snowflake.ID, kind eventdomain.EventKind, recountBoost bool) (*domain.SiteOutcome, error) {
	token, acquired, err := s.limiter.TryLockSite(ctx, siteID.String())
	switch {
	case err != nil:
		// Redis unavailable. The row locks underneath still serialize
		// writers, so carry on without the fast-path lock.
		s.log.Warn("site lock attempt failed",
			zap.String("site_id", siteID.String()), zap.Error(err))
	case !acquired:
		s.log.Debug("site held by another writer, deferring",
			zap.String("site_id", siteID.String()),
			zap.String("event_id", eventID.String()))
		return &domain.SiteOutcome{SiteID: siteID, Deferred: true}, nil
	case token != "":
		defer func() {
			if err := s.limiter.ReleaseSite(ctx, siteID.String(), token); err != nil {
				s.log.Warn("site lock release failed",
					zap.String("site_id", siteID.String()), zap.Error(err))
			}
		}()
	}

	rec, err := s.scoreService.RecomputeSite(ctx, siteID)
	if err != nil {
		return nil, err
	}
	outcome := &domain.SiteOutcome{
		SiteID:             siteID,
		Status:             rec.Status,
		ViralScore:         rec.Score,
		ExternalShareCount: rec.ExternalShareCount,
	}
	if rec.Skipped {
		// Suspended and draft sites keep accumulating log entries; the
		// first recompute after reactivation folds them all in.
		return outcome, s.markProcessed(ctx, eventID, kind)
	}

	eval, err := s.featuringService.EvaluateSite(ctx, siteID)
	if err != nil {
		return nil, err
	}
	outcome.Status = eval.Status
	outcome.FeaturingCreated = eval.FeaturingCreated
	outcome.WentViral = eval.WentViral

	if recountBoost {
		if _, err := s.tierService.RecomputeUserGrowth(ctx, rec.OwnerID); err != nil {
			return nil, err
		}
	}

	if eval.FeaturingCreated || eval.WentViral {
		if token != "" {
			// The curation cycle can outlast the lock lease; renew it first.
			if _, err := s.limiter.ExtendSite(ctx, siteID.String(), token); err != nil {
				s.log.Warn("site lock extend failed",
					zap.String("site_id", siteID.String()), zap.Error(err))
			}
		}
		if _, err := s.showcaseService.Refresh(ctx); err != nil {
			// The next scheduled cycle repairs the list.
			s.log.Warn("showcase refresh failed",
				zap.String("site_id", siteID.String()), zap.Error(err))
		}
	}

	if err := s.markProcessed(ctx, eventID, kind); err != nil {
		return nil, err
	}
	return outcome, nil
}

func (s *Service) ReadSiteSnapshot(ctx context.Context, siteID snowflake.ID) (*domain.SiteSnapshot, error) {
	site, err := s.siteRepo.Get(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if site == nil {
		return nil, sitedomain.ErrSiteNotFound
	}
	owner, err := s.userRepo.Get(ctx, site.UserID)
	if err != nil {
		return nil, err
	}
	shares, err := s.eventRepo.CountShares(ctx, siteID)
	if err != nil {
		return nil, err
	}
	active, err := s.featuringService.GetActive(ctx, siteID)
	if err != nil {
		return nil, err
	}

	snapshot := &domain.SiteSnapshot{
		SiteID:             site.ID,
		Name:               site.Name,
		Status:             site.Status,
		ViralScore:         site.ViralScore,
		ShareCount:         site.ShareCount,
		ExternalShareCount: site.ExternalShareCount,
		PageviewCount:      site.PageviewCount,
		LikeCount:          site.LikeCount,
		CommentCount:       site.CommentCount,
		SharesByPlatform:   shares.ByPlatform,
		CreatedAt:          site.CreatedAt,
	}
	if owner != nil {
		snapshot.Owner = domain.SnapshotOwner{
			UserID:           owner.ID,
			SubscriptionTier: owner.SubscriptionTier,
			TotalShares:      owner.TotalShares,
			BoostLevel:       owner.BoostLevel,
			ViralCoefficient: owner.ViralCoefficient,
			CommissionTier:   owner.CommissionTier,
			CommissionRate:   owner.CommissionTier.Rate(),
		}
	}
	if active != nil {
		snapshot.Featuring = &domain.SnapshotFeaturing{
			EventID:    active.ID,
			Trigger:    active.TriggerType,
			FeaturedAt: active.FeaturedAt,
			ExpiresAt:  active.ExpiresAt,
		}
	}
	return snapshot, nil
}

func (s *Service) RunFeaturingSweep(ctx context.Context, batchSize int) (*domain.SweepResult, error) {
	expired, err := s.featuringService.ExpireDue(ctx, batchSize)
	if err != nil {
		return nil, err
	}
	viral, err := s.featuringService.ReevaluateViral(ctx, batchSize)
	if err != nil {
		return nil, err
	}
	return &domain.SweepResult{
		Expired:  expired.Expired,
		Reverted: expired.Reverted,
		Checked:  viral.Checked,
		Demoted:  viral.Demoted,
	}, nil
}

func (s *Service) RunShowcaseRefresh(ctx context.Context) (*showcasedomain.RefreshResult, error) {
	return s.showcaseService.Refresh(ctx)
}

func (s *Service) ReprocessStale(ctx context.Context, olderThan time.Duration, batchSize int) (*domain.RecoveryResult, error) {
	threshold := s.clock.Now().Add(-olderThan)
	events, err := s.eventRepo.FetchUnprocessed(ctx, threshold, batchSize)
	if err != nil {
		return nil, err
	}
	result := &domain.RecoveryResult{Fetched: len(events)}
	if len(events) == 0 {
		return result, nil
	}

	// A share event anywhere in a site's backlog means the owner's boost
	// classification must be recounted along with the score.
	shareBacklog := make(map[snowflake.ID]bool)
	for _, ev := range events {
		if ev.Kind == eventdomain.KindSiteShared {
			shareBacklog[ev.SiteID] = true
		}
	}

	recomputed := make(map[snowflake.ID]bool)
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if recomputed[ev.SiteID] {
			// The recompute above already covered every event appended
			// before the fetch; only the flag is left to set.
			if err := s.markProcessed(ctx, ev.ID, ev.Kind); err != nil {
				return result, err
			}
			result.Processed++
			continue
		}

		outcome, err := s.processSite(ctx, ev.ID, ev.SiteID, ev.Kind, shareBacklog[ev.SiteID])
		if err != nil {
			s.log.Warn("event replay failed",
				zap.String("event_id", ev.ID.String()),
				zap.String("site_id", ev.SiteID.String()),
				zap.Error(err))
			continue
		}
		if outcome.Deferred {
			result.Deferred++
			continue
		}
		recomputed[ev.SiteID] = true
		result.Processed++

		if s.hub != nil {
			s.hub.Publish(ev.SiteID.String(), livefeed.LiveEvent{
				Kind:           string(ev.Kind),
				SiteID:         ev.SiteID.String(),
				IdempotencyKey: ev.IdempotencyKey,
				Status:         livefeed.StatusAccepted,
				Source:         livefeed.SourceReplay,
				OccurredAt:     ev.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
	}

	if result.Processed > 0 || result.Deferred > 0 {
		s.log.Info("stale events reprocessed",
			zap.Int("fetched", result.Fetched),
			zap.Int("processed", result.Processed),
			zap.Int("deferred", result.Deferred))
	}
	return result, nil
}

// checkSite rejects events for unknown sites before anything is appended,
// so the log never accumulates rows no recompute can resolve.
func (s *Service) checkSite(ctx context.Context, siteID snowflake.ID) error {
	if s.readCache != nil {
		if _, ok := s.readCache.GetSiteRef(siteID.String()); ok {
			return nil
		}
	}
	site, err := s.siteRepo.Get(ctx, siteID)
	if err != nil {
		return err
	}
	if site == nil {
		return sitedomain.ErrSiteNotFound
	}
	if s.readCache != nil {
		s.readCache.SetSiteRef(siteID.String(), cache.SiteRef{
			SiteID:    site.ID,
			OwnerID:   site.UserID,
			Status:    site.Status,
			CreatedAt: site.CreatedAt,
		})
	}
	return nil
}

func (s *Service) markProcessed(ctx context.Context, eventID snowflake.ID, kind eventdomain.EventKind) error {
	if kind == eventdomain.KindSiteAnalytics {
		return s.eventRepo.MarkAnalyticsProcessed(ctx, eventID)
	}
	return s.eventRepo.MarkShareProcessed(ctx, eventID)
}

func (s *Service) deduplicated(ctx context.Context, kind eventdomain.EventKind, eventID, siteID snowflake.ID, input domain.AppendEventInput, key string) *domain.AppendEventResult {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordEventDeduplicated(ctx, string(kind))
	}
	s.publish(siteID, input, key, livefeed.StatusDeduplicated, livefeed.SourceAPI)
	s.log.Debug("event deduplicated",
		zap.String("kind", string(kind)),
		zap.String("idempotency_key", key))
	return &domain.AppendEventResult{
		EventID:      eventID,
		Kind:         string(kind),
		Deduplicated: true,
	}
}

func (s *Service) publish(siteID snowflake.ID, input domain.AppendEventInput, key, status, source string) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(siteID.String(), livefeed.LiveEvent{
		Kind:           strings.TrimSpace(input.Kind),
		SiteID:         siteID.String(),
		UserID:         strings.TrimSpace(input.UserID),
		Platform:       strings.ToLower(strings.TrimSpace(input.Platform)),
		EventType:      strings.ToLower(strings.TrimSpace(input.EventType)),
		IdempotencyKey: key,
		Status:         status,
		Source:         source,
		OccurredAt:     s.clock.Now().UTC().Format(time.RFC3339),
	})
}

var errZeroRef = errors.New("zero_ref")

func parseRef(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, errZeroRef
	}
	return id, nil
}

func parseOptionalRef(raw string) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	return parseRef(trimmed)
}
