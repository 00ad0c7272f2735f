package showcase

import (
	"github.com/siteloom/growth/internal/showcase/repository"
	"github.com/siteloom/growth/internal/showcase/service"
	"go.uber.org/fx"
)

var Module = fx.Module("showcase.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
