package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/siteloom/growth/internal/authorization"
	"github.com/siteloom/growth/internal/clock"
	"github.com/siteloom/growth/internal/cloudmetrics"
	"github.com/siteloom/growth/internal/config"
	"github.com/siteloom/growth/internal/engine"
	"github.com/siteloom/growth/internal/event"
	"github.com/siteloom/growth/internal/featuring"
	"github.com/siteloom/growth/internal/milestone"
	"github.com/siteloom/growth/internal/observability"
	"github.com/siteloom/growth/internal/ratelimit"
	"github.com/siteloom/growth/internal/referral"
	"github.com/siteloom/growth/internal/scheduler"
	"github.com/siteloom/growth/internal/score"
	"github.com/siteloom/growth/internal/showcase"
	"github.com/siteloom/growth/internal/sideeffect"
	"github.com/siteloom/growth/internal/site"
	"github.com/siteloom/growth/internal/tier"
	"github.com/siteloom/growth/internal/user"
	"github.com/siteloom/growth/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Sweep jobs and the engine they drive
		scheduler.Module,
		engine.Module,
		authorization.Module,
		ratelimit.Module,
		cloudmetrics.Module,

		// Transitive dependencies (engine needs scores, featuring etc)
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

		// No server module!
		fx.Invoke(StartScheduler),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

// StartScheduler runs the sweep loop for cloud deployments. Self-hosted mode
// already starts the loop from scheduler.Module, so skip it here.
func StartScheduler(lc fx.Lifecycle, cfg config.Config, s *scheduler.Scheduler) {
	if !cfg.IsCloud() {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.RunForever(context.Background())
			return nil
		},
	})
}
