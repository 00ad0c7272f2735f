package site

import (
	"github.com/siteloom/growth/internal/site/repository"
	"github.com/siteloom/growth/internal/site/service"
	"go.uber.org/fx"
)

var Module = fx.Module("site.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
