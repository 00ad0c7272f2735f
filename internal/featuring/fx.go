package featuring

import (
	"github.com/siteloom/growth/internal/featuring/repository"
	"github.com/siteloom/growth/internal/featuring/service"
	"go.uber.org/fx"
)

var Module = fx.Module("featuring.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
