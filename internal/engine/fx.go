package engine

import (
	"github.com/siteloom/growth/internal/cache"
	"github.com/siteloom/growth/internal/engine/service"
	"go.uber.org/fx"
)

var Module = fx.Module("engine.service",
	fx.Provide(cache.NewSiteResolverCache),
	fx.Provide(service.NewService),
)
