package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/siteloom/growth/internal/authorization"
	"github.com/siteloom/growth/internal/clock"
	"github.com/siteloom/growth/internal/cloudmetrics"
	enginedomain "github.com/siteloom/growth/internal/engine/domain"
	featuringdomain "github.com/siteloom/growth/internal/featuring/domain"
	milestonedomain "github.com/siteloom/growth/internal/milestone/domain"
	obsmetrics "github.com/siteloom/growth/internal/observability/metrics"
	showcasedomain "github.com/siteloom/growth/internal/showcase/domain"
	sideeffectdomain "github.com/siteloom/growth/internal/sideeffect/domain"
	tierdomain "github.com/siteloom/growth/internal/tier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock

	FeaturingSvc  featuringdomain.Service
	ShowcaseSvc   showcasedomain.Service
	MilestoneSvc  milestonedomain.Service
	TierSvc       tierdomain.Service
	SideEffectSvc sideeffectdomain.Service
	EngineSvc     enginedomain.Service
	AuthzSvc      authorization.Service

	Config       Config                     `optional:"true"`
	CloudMetrics *cloudmetrics.CloudMetrics `optional:"true"`
}

type Scheduler struct {
	db            *gorm.DB
	log           *zap.Logger
	cfg           Config
	genID         *snowflake.Node
	clock         clock.Clock
	featuringSvc  featuringdomain.Service
	showcaseSvc   showcasedomain.Service
	milestoneSvc  milestonedomain.Service
	tierSvc       tierdomain.Service
	sideEffectSvc sideeffectdomain.Service
	engineSvc     enginedomain.Service
	authzSvc      authorization.Service
	cloudMetrics  *cloudmetrics.CloudMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil ||
		p.FeaturingSvc == nil || p.ShowcaseSvc == nil || p.MilestoneSvc == nil ||
		p.TierSvc == nil || p.SideEffectSvc == nil || p.EngineSvc == nil || p.AuthzSvc == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		db:            p.DB,
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           cfg,
		genID:         p.GenID,
		clock:         p.Clock,
		featuringSvc:  p.FeaturingSvc,
		showcaseSvc:   p.ShowcaseSvc,
		milestoneSvc:  p.MilestoneSvc,
		tierSvc:       p.TierSvc,
		sideEffectSvc: p.SideEffectSvc,
		engineSvc:     p.EngineSvc,
		authzSvc:      p.AuthzSvc,
		cloudMetrics:  p.CloudMetrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
		s.upsertJobStats(ctx, run)
	}
	if err == nil {
		if s.cloudMetrics != nil {
			go s.cloudMetrics.IncSweepRun(name)
		}
		return nil
	}

	// A deadline on the job context is a soft timeout: the remaining work
	// is picked up on the next tick.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"featuring_expiry", s.cfg.FeaturingExpiry, func(ctx context.Context) error {
			return s.runJob(ctx, "featuring_expiry", s.cfg.BatchSize, s.cfg.JobTimeout, s.FeaturingExpiryJob)
		}},
		{"viral_reevaluation", s.cfg.ViralReeval, func(ctx context.Context) error {
			return s.runJob(ctx, "viral_reevaluation", s.cfg.BatchSize, s.cfg.JobTimeout, s.ViralReevaluationJob)
		}},
		{"showcase_refresh", s.cfg.ShowcaseRefresh, func(ctx context.Context) error {
			return s.runJob(ctx, "showcase_refresh", s.cfg.BatchSize, s.cfg.JobTimeout, s.ShowcaseRefreshJob)
		}},
		{"commission_reevaluation", s.cfg.CommissionReeval, func(ctx context.Context) error {
			return s.runJob(ctx, "commission_reevaluation", s.cfg.BatchSize, s.cfg.JobTimeout, s.CommissionReevaluationJob)
		}},
		{"grant_expiry", s.cfg.GrantExpiry, func(ctx context.Context) error {
			return s.runJob(ctx, "grant_expiry", s.cfg.BatchSize, s.cfg.JobTimeout, s.GrantExpiryJob)
		}},
		{"sideeffect_dispatch", s.cfg.SideEffectDispatch, func(ctx context.Context) error {
			return s.runJob(ctx, "sideeffect_dispatch", s.cfg.BatchSize, s.cfg.JobTimeout, s.SideEffectDispatchJob)
		}},
		{"event_recovery", s.cfg.EventRecovery, func(ctx context.Context) error {
			return s.runJob(ctx, "event_recovery", s.cfg.BatchSize, s.cfg.JobTimeout, s.EventRecoveryJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) authorizeSystem(ctx context.Context, object string, action string) error {
	if s.authzSvc == nil {
		return authorization.ErrForbidden
	}
	return s.authzSvc.Authorize(ctx, "system", object, action)
}

// FeaturingExpiryJob expires past-due featuring events and reverts their
// sites. Loops until a pass claims nothing.
func (s *Scheduler) FeaturingExpiryJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "featuring_expiry", s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	if err := s.authorizeSystem(ctx, authorization.ObjectSweep, authorization.ActionSweepFeaturing); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize.failed", "featuring_expiry", 0, err)
		return err
	}

	schedMetrics := obsmetrics.Scheduler()
	var jobErr error
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}
		result, err := s.featuringSvc.ExpireDue(ctx, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.featuring.expire.failed", "featuring_expiry", 0, err)
			return errors.Join(jobErr, err)
		}
		if result.Expired == 0 {
			break
		}
		run.AddProcessed(result.Expired)
		schedMetrics.AddBatchProcessed("featuring_expiry", "featuring_events", result.Expired)
	}
	return jobErr
}

// ViralReevaluationJob rescores one batch of viral sites per tick and
// demotes the ones below the threshold. A single batch bounds the work;
// the remainder converges on following ticks.
func (s *Scheduler) ViralReevaluationJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "viral_reevaluation", s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	if err := s.authorizeSystem(ctx, authorization.ObjectSweep, authorization.ActionSweepFeaturing); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize.failed", "viral_reevaluation", 0, err)
		return err
	}

	result, err := s.featuringSvc.ReevaluateViral(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.viral.reeval.failed", "viral_reevaluation", 0, err)
		return err
	}
	run.AddProcessed(result.Checked)
	obsmetrics.Scheduler().AddBatchProcessed("viral_reevaluation", "sites", result.Checked)
	return nil
}

// ShowcaseRefreshJob runs one curation cycle.
func (s *Scheduler) ShowcaseRefreshJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "showcase_refresh", s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	if err := s.authorizeSystem(ctx, authorization.ObjectSweep, authorization.ActionSweepShowcase); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize.failed", "showcase_refresh", 0, err)
		return err
	}

	result, err := s.showcaseSvc.Refresh(ctx)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.showcase.refresh.failed", "showcase_refresh", 0, err)
		return err
	}
	run.AddProcessed(result.EvictedAged + result.EvictedIneligible + result.Admitted)
	obsmetrics.Scheduler().AddBatchProcessed("showcase_refresh", "showcase_entries", result.Admitted)
	return nil
}

// CommissionReevaluationJob walks every referrer with activated referrals
// and re-derives the commission tier from relationship age, so tiers keep
// aging even when no conversion traffic arrives.
func (s *Scheduler) CommissionReevaluationJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "commission_reevaluation", s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	if err := s.authorizeSystem(ctx, authorization.ObjectSweep, authorization.ActionSweepCommission); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize.failed", "commission_reevaluation", 0, err)
		return err
	}

	schedMetrics := obsmetrics.Scheduler()
	var jobErr error
	var after snowflake.ID
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}
		referrers, err := s.fetchReferrersForCommission(ctx, after, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.commission.fetch.failed", "commission_reevaluation", 0, err)
			return errors.Join(jobErr, err)
		}
		if len(referrers) == 0 {
			break
		}

		for _, referrerID := range referrers {
			if err := ctx.Err(); err != nil {
				return errors.Join(jobErr, err)
			}
			result, err := s.tierSvc.EvaluateCommission(ctx, referrerID)
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(ctx, run, "scheduler.commission.evaluate.failed", "commission_reevaluation", 0, err,
					zap.String("user_id", referrerID.String()))
				continue
			}
			run.AddProcessed(1)
			if result.Changed {
				s.logger(ctx).Info("commission tier aged",
					zap.String("user_id", referrerID.String()),
					zap.String("commission_tier", string(result.Tier)),
					zap.Int("relationship_months", result.RelationshipMonths),
				)
			}
		}
		schedMetrics.AddBatchProcessed("commission_reevaluation", "users", len(referrers))
		after = referrers[len(referrers)-1]
	}
	return jobErr
}

// GrantExpiryJob reverts complimentary tier grants whose term has lapsed.
func (s *Scheduler) GrantExpiryJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "grant_expiry", s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	if err := s.authorizeSystem(ctx, authorization.ObjectSweep, authorization.ActionSweepGrants); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize.failed", "grant_expiry", 0, err)
		return err
	}

	schedMetrics := obsmetrics.Scheduler()
	var jobErr error
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}
		result, err := s.milestoneSvc.ExpireGrants(ctx, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.grant.expire.failed", "grant_expiry", 0, err)
			return errors.Join(jobErr, err)
		}
		if result.Expired == 0 {
			break
		}
		run.AddProcessed(result.Expired)
		schedMetrics.AddBatchProcessed("grant_expiry", "tier_grants", result.Expired)
	}
	return jobErr
}
