package user

import (
	"github.com/siteloom/growth/internal/user/repository"
	"github.com/siteloom/growth/internal/user/service"
	"go.uber.org/fx"
)

var Module = fx.Module("user.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
