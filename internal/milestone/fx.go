package milestone

import (
	"github.com/siteloom/growth/internal/milestone/repository"
	"github.com/siteloom/growth/internal/milestone/service"
	"go.uber.org/fx"
)

var Module = fx.Module("milestone.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
