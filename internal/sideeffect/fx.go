package sideeffect

import (
	"github.com/siteloom/growth/internal/sideeffect/repository"
	"github.com/siteloom/growth/internal/sideeffect/service"
	"go.uber.org/fx"
)

var Module = fx.Module("sideeffect.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
