package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/siteloom/growth/internal/authorization"
	"github.com/siteloom/growth/internal/cache"
	"github.com/siteloom/growth/internal/cloudmetrics"
	"github.com/siteloom/growth/internal/config"
	"github.com/siteloom/growth/internal/engine"
	enginedomain "github.com/siteloom/growth/internal/engine/domain"
	"github.com/siteloom/growth/internal/event"
	"github.com/siteloom/growth/internal/event/livefeed"
	"github.com/siteloom/growth/internal/featuring"
	featuringdomain "github.com/siteloom/growth/internal/featuring/domain"
	"github.com/siteloom/growth/internal/milestone"
	milestonedomain "github.com/siteloom/growth/internal/milestone/domain"
	"github.com/siteloom/growth/internal/observability"
	obsmiddleware "github.com/siteloom/growth/internal/observability/logger"
	obsmetrics "github.com/siteloom/growth/internal/observability/metrics"
	obstracing "github.com/siteloom/growth/internal/observability/tracing"
	"github.com/siteloom/growth/internal/ratelimit"
	"github.com/siteloom/growth/internal/referral"
	referraldomain "github.com/siteloom/growth/internal/referral/domain"
	"github.com/siteloom/growth/internal/scheduler"
	"github.com/siteloom/growth/internal/score"
	"github.com/siteloom/growth/internal/showcase"
	showcasedomain "github.com/siteloom/growth/internal/showcase/domain"
	"github.com/siteloom/growth/internal/sideeffect"
	"github.com/siteloom/growth/internal/site"
	sitedomain "github.com/siteloom/growth/internal/site/domain"
	"github.com/siteloom/growth/internal/tier"
	"github.com/siteloom/growth/internal/user"
	userdomain "github.com/siteloom/growth/internal/user/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	config.Module,
	cloudmetrics.Module,
	fx.Provide(registerGin),
	authorization.Module,
	ratelimit.Module,
	event.Module,
	site.Module,
	user.Module,
	score.Module,
	tier.Module,
	referral.Module,
	milestone.Module,
	featuring.Module,
	showcase.Module,
	sideeffect.Module,
	engine.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	genID        *snowflake.Node
	authzSvc     authorization.Service
	engineSvc    enginedomain.Service
	siteSvc      sitedomain.Service
	userSvc      userdomain.Service
	referralSvc  referraldomain.Service
	milestoneSvc milestonedomain.Service
	featuringSvc featuringdomain.Service
	showcaseSvc  showcasedomain.Service
	liveFeed     *livefeed.Hub
	readCache    cache.SiteResolverCache
	obsMetrics   *obsmetrics.Metrics
	eventLimiter *ratelimit.EventIngestLimiter
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	GenID        *snowflake.Node
	AuthzSvc     authorization.Service
	EngineSvc    enginedomain.Service
	SiteSvc      sitedomain.Service
	UserSvc      userdomain.Service
	ReferralSvc  referraldomain.Service
	MilestoneSvc milestonedomain.Service
	FeaturingSvc featuringdomain.Service
	ShowcaseSvc  showcasedomain.Service
	LiveFeed     *livefeed.Hub                 `optional:"true"`
	ReadCache    cache.SiteResolverCache       `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics           `optional:"true"`
	EventLimiter *ratelimit.EventIngestLimiter `optional:"true"`

	Scheduler *scheduler.Scheduler
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		genID:        p.GenID,
		authzSvc:     p.AuthzSvc,
		engineSvc:    p.EngineSvc,
		siteSvc:      p.SiteSvc,
		userSvc:      p.UserSvc,
		referralSvc:  p.ReferralSvc,
		milestoneSvc: p.MilestoneSvc,
		featuringSvc: p.FeaturingSvc,
		showcaseSvc:  p.ShowcaseSvc,
		liveFeed:     p.LiveFeed,
		readCache:    p.ReadCache,
		obsMetrics:   p.ObsMetrics,
		eventLimiter: p.EventLimiter,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")
	v1.Use(s.ActorContext())

	// -------- Showcase (public) --------
	v1.GET("/showcase", s.GetShowcase)

	// -------- Events --------
	v1.POST("/events", s.authorize(authorization.ObjectEvent, authorization.ActionEventAppend), s.EventIngestRateLimit(), s.AppendEvent)

	// -------- Sites --------
	v1.POST("/sites", s.authorize(authorization.ObjectSite, authorization.ActionSiteCreate), s.CreateSite)
	v1.GET("/sites", s.authorize(authorization.ObjectSite, authorization.ActionSiteView), s.ListSites)
	v1.GET("/sites/:site_id", s.authorize(authorization.ObjectSite, authorization.ActionSiteView), s.GetSiteSnapshot)
	v1.PATCH("/sites/:site_id/status", s.SetSiteStatusAuthorized(), s.SetSiteStatus)
	v1.PATCH("/sites/:site_id/counters", s.authorize(authorization.ObjectSite, authorization.ActionSiteUpdate), s.UpdateSiteCounters)
	v1.GET("/sites/:site_id/featurings", s.authorize(authorization.ObjectSite, authorization.ActionSiteView), s.ListSiteFeaturings)
	v1.GET("/sites/:site_id/events/live", s.authorize(authorization.ObjectSite, authorization.ActionSiteView), s.StreamSiteLiveEvents)

	// -------- Users --------
	v1.POST("/users", s.authorize(authorization.ObjectUser, authorization.ActionUserCreate), s.CreateUser)
	v1.GET("/users/:user_id", s.authorize(authorization.ObjectUser, authorization.ActionUserView), s.GetUser)
	v1.GET("/users/:user_id/grants", s.authorize(authorization.ObjectUser, authorization.ActionUserView), s.ListUserGrants)

	// -------- Referrals --------
	v1.POST("/referrals", s.authorize(authorization.ObjectReferral, authorization.ActionReferralCreate), s.CreateReferral)
	v1.POST("/referrals/:referral_id/activate", s.authorize(authorization.ObjectReferral, authorization.ActionReferralActivate), s.ActivateReferral)
	v1.GET("/referrals", s.authorize(authorization.ObjectReferral, authorization.ActionReferralView), s.ListReferrals)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/v1/admin")
	admin.Use(s.ActorContext())
	admin.Use(s.RequireActor())

	admin.POST("/sweeps/featuring", s.authorize(authorization.ObjectSweep, authorization.ActionSweepFeaturing), s.TriggerFeaturingSweep)
	admin.POST("/sweeps/showcase", s.authorize(authorization.ObjectSweep, authorization.ActionSweepShowcase), s.TriggerShowcaseRefresh)
	admin.POST("/sites/:site_id/feature", s.authorize(authorization.ObjectSite, authorization.ActionSiteFeature), s.FeatureSite)
}

// SetSiteStatusAuthorized picks the action by target status: suspension is
// an admin verb, the collaborator transitions are plain updates.
func (s *Server) SetSiteStatusAuthorized() gin.HandlerFunc {
	return func(c *gin.Context) {
		target, err := peekStatusTarget(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		action := authorization.ActionSiteUpdate
		if target == string(sitedomain.StatusSuspended) {
			action = authorization.ActionSiteSuspend
		}
		if err := s.authorizeWithContext(c, authorization.ObjectSite, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
